package detection

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/signalintel/internal/keylock"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/types"
)

// DefaultCleanupDays is the archive age CleanupArchivedSignals deletes past.
const DefaultCleanupDays = 365

// Options configures an Orchestrator.
type Options struct {
	Workers      int           // concurrent detectors
	StoreTimeout time.Duration // bound on each store round-trip
}

// DefaultOptions returns the pool size and timeout used when the config
// leaves detection unset.
func DefaultOptions() Options {
	return Options{Workers: 4, StoreTimeout: 5 * time.Second}
}

// RunOptions selects what one RunDetection call does.
type RunOptions struct {
	// DetectorIDs restricts the run to these detectors. Unknown ids are
	// ignored. Empty runs every registered detector.
	DetectorIDs    []string
	SkipDuplicates bool
}

// DetectorStats is the outcome of one detector in a run.
type DetectorStats struct {
	DetectorID       string        `json:"detector_id"`
	SignalsDetected  int           `json:"signals_detected"`
	SignalsStored    int           `json:"signals_stored"`
	SignalsDuplicate int           `json:"signals_duplicate"`
	SignalsError     int           `json:"signals_error"`
	Failed           bool          `json:"failed"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration"`

	// Seen holds every prepared candidate, whether or not it was stored.
	Seen []types.Signal `json:"-"`
}

// Stats aggregates a detection run.
type Stats struct {
	DetectorsRun     int                       `json:"detectors_run"`
	DetectorsFailed  int                       `json:"detectors_failed"`
	SignalsDetected  int                       `json:"signals_detected"`
	SignalsStored    int                       `json:"signals_stored"`
	SignalsDuplicate int                       `json:"signals_duplicate"`
	SignalsError     int                       `json:"signals_error"`
	ByDetector       map[string]*DetectorStats `json:"by_detector"`
	Failures         []types.DetectorFailure   `json:"failures"`
	StartedAt        time.Time                 `json:"started_at"`
	FinishedAt       time.Time                 `json:"finished_at"`

	// Stored holds the signals persisted by this run.
	Stored []types.Signal `json:"-"`
}

// Orchestrator runs registered detectors on a bounded worker pool.
type Orchestrator struct {
	registry *Registry
	store    store.SignalStore
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	running sync.Mutex
	locks   keylock.Map
}

// NewOrchestrator returns an Orchestrator over reg and st.
func NewOrchestrator(reg *Registry, st store.SignalStore, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultOptions().StoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: reg,
		store:    st,
		opts:     opts,
		logger:   logger.Named("detection"),
		now:      time.Now,
	}
}

// SetClock replaces the orchestrator's clock.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Registry returns the detector registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// RunDetection runs the selected detectors once. It returns ErrCycleRunning
// if another run is in progress. Detector and storage failures are reported
// in the stats, never as the returned error.
func (o *Orchestrator) RunDetection(ctx context.Context, opts RunOptions) (*Stats, error) {
	if !o.running.TryLock() {
		return nil, types.ErrCycleRunning
	}
	defer o.running.Unlock()

	ids := o.targets(opts.DetectorIDs)
	stats := &Stats{
		ByDetector: make(map[string]*DetectorStats, len(ids)),
		StartedAt:  o.now(),
	}

	results := make([]*DetectorStats, len(ids))
	stored := make([][]types.Signal, len(ids))
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, id := range ids {
		g.Go(func() error {
			results[i], stored[i] = o.runDetector(ctx, id, opts)
			return nil
		})
	}
	_ = g.Wait()

	for i, ds := range results {
		stats.ByDetector[ds.DetectorID] = ds
		stats.DetectorsRun++
		stats.SignalsDetected += ds.SignalsDetected
		stats.SignalsStored += ds.SignalsStored
		stats.SignalsDuplicate += ds.SignalsDuplicate
		stats.SignalsError += ds.SignalsError
		stats.Stored = append(stats.Stored, stored[i]...)
		if ds.Failed {
			stats.DetectorsFailed++
			stats.Failures = append(stats.Failures, types.DetectorFailure{DetectorID: ds.DetectorID, Message: ds.Error})
		}
	}
	stats.FinishedAt = o.now()

	o.logger.Info("detection run complete",
		zap.Int("detectors_run", stats.DetectorsRun),
		zap.Int("detectors_failed", stats.DetectorsFailed),
		zap.Int("signals_stored", stats.SignalsStored),
		zap.Int("signals_duplicate", stats.SignalsDuplicate),
		zap.Int("signals_error", stats.SignalsError))
	return stats, nil
}

func (o *Orchestrator) targets(requested []string) []string {
	if len(requested) == 0 {
		return o.registry.List()
	}
	seen := make(map[string]bool, len(requested))
	var ids []string
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !o.registry.Has(id) {
			o.logger.Warn("skipping unknown detector", zap.String("detector_id", id))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// runDetector runs one detector. A panic or Detect error marks it failed.
func (o *Orchestrator) runDetector(ctx context.Context, id string, opts RunOptions) (ds *DetectorStats, stored []types.Signal) {
	ds = &DetectorStats{DetectorID: id}
	start := time.Now()
	logger := o.logger.With(zap.String("detector_id", id))

	defer func() {
		ds.Duration = time.Since(start)
		if r := recover(); r != nil {
			ds.Failed = true
			ds.Error = fmt.Sprintf("panic: %v", r)
			logger.Error("detector panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	d, err := o.registry.Resolve(id)
	if err != nil {
		ds.Failed = true
		ds.Error = err.Error()
		logger.Error("detector unavailable", zap.Error(err))
		return ds, nil
	}

	if opts.SkipDuplicates {
		if err := o.withTimeout(ctx, d.LoadExistingSignals); err != nil {
			logger.Warn("dedup cache not warmed", zap.Error(err))
		}
	}

	candidates, err := d.Detect(ctx)
	if err != nil {
		ds.Failed = true
		ds.Error = err.Error()
		logger.Error("detect failed", zap.Error(err))
		return ds, nil
	}
	ds.SignalsDetected = len(candidates)

	for _, sig := range candidates {
		if err := ctx.Err(); err != nil {
			ds.SignalsError += ds.SignalsDetected - ds.SignalsStored - ds.SignalsDuplicate - ds.SignalsError
			break
		}
		sig = o.prepare(sig, id)
		ds.Seen = append(ds.Seen, sig)
		ok, dup, err := o.persist(ctx, d, sig, opts.SkipDuplicates)
		switch {
		case err != nil:
			ds.SignalsError++
			logger.Warn("candidate not stored",
				zap.String("signal_type", sig.SignalType),
				zap.String("entity_id", sig.EntityID),
				zap.Error(err))
		case dup:
			ds.SignalsDuplicate++
		case ok:
			ds.SignalsStored++
			stored = append(stored, sig)
		}
	}
	return ds, stored
}

// prepare fills the fields a detector may leave unset.
func (o *Orchestrator) prepare(sig types.Signal, detectorID string) types.Signal {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.DetectorID == "" {
		sig.DetectorID = detectorID
	}
	if sig.Status == "" {
		sig.Status = types.StatusActive
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = o.now()
	}
	return sig
}

// persist dedups and stores one candidate under its (type, entity) lock.
func (o *Orchestrator) persist(ctx context.Context, d Detector, sig types.Signal, skipDuplicates bool) (stored, duplicate bool, err error) {
	if !sig.Valence.Valid() || !sig.Severity.Valid() || sig.SignalType == "" || sig.EntityID == "" {
		return false, false, fmt.Errorf("invalid candidate %s/%s", sig.SignalType, sig.EntityID)
	}
	unlock := o.locks.Lock(dedupKey(sig.SignalType, sig.EntityID))
	defer unlock()

	if skipDuplicates {
		var exists bool
		err := o.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			exists, err = d.SignalExists(ctx, sig.SignalType, sig.EntityID)
			return err
		})
		if err != nil {
			return false, false, fmt.Errorf("check duplicate: %w", err)
		}
		if exists {
			return false, true, nil
		}
	}
	err = o.withTimeout(ctx, func(ctx context.Context) error {
		return o.store.CreateSignal(ctx, sig)
	})
	if err != nil {
		return false, false, err
	}
	return true, false, nil
}

func (o *Orchestrator) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// ExpireOldSignals archives active signals past their expiry.
func (o *Orchestrator) ExpireOldSignals(ctx context.Context) (int, error) {
	n, err := o.store.ExpireSignals(ctx, o.now())
	if err != nil {
		return 0, fmt.Errorf("expire old signals: %w", err)
	}
	o.logger.Info("expired old signals", zap.Int("count", n))
	return n, nil
}

// CleanupArchivedSignals hard-deletes archived signals detected more than
// olderThanDays days ago. It is the only operation that deletes signals.
func (o *Orchestrator) CleanupArchivedSignals(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		olderThanDays = DefaultCleanupDays
	}
	cutoff := o.now().AddDate(0, 0, -olderThanDays)
	n, err := o.store.DeleteArchivedSignals(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup archived signals: %w", err)
	}
	o.logger.Info("deleted archived signals", zap.Int("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}
