// Package lifecycle tracks how long each signal key has persisted and derives
// its persistence classification from the stored facts on every read.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/calendar"
	"github.com/matthewbaird/signalintel/internal/keylock"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Classification is the derived persistence label of a signal key.
type Classification string

const (
	ClassNew   Classification = "NEW"
	Recent     Classification = "RECENT"
	Ongoing    Classification = "ONGOING"
	Chronic    Classification = "CHRONIC"
	Escalating Classification = "ESCALATING"
	Resolving  Classification = "RESOLVING"
)

// Resolution types stamped by UpdateOnClear.
const (
	ResolutionCleared  = "cleared"
	ResolutionBalanced = "balanced"
)

// Options configures a Tracker. All values are in business days.
type Options struct {
	RecentDays       int // upper bound of RECENT
	OngoingDays      int // upper bound of ONGOING; beyond it is CHRONIC
	ResolvingWindow  int // cycles looked back for RESOLVING
	ChronicMinDays   int // default for ChronicSignals
	AutoEscalateDays int // minimum age for auto-escalation
}

// DefaultOptions returns the thresholds used when the config leaves lifecycle unset.
func DefaultOptions() Options {
	return Options{
		RecentDays:       3,
		OngoingDays:      10,
		ResolvingWindow:  5,
		ChronicMinDays:   11,
		AutoEscalateDays: 14,
	}
}

// Detection is one sighting of a signal key at a severity.
type Detection struct {
	SignalType string
	EntityType string
	EntityID   string
	Severity   types.Severity
}

// FromSignal returns the detection described by sig.
func FromSignal(sig types.Signal) Detection {
	return Detection{
		SignalType: sig.SignalType,
		EntityType: sig.EntityType,
		EntityID:   sig.EntityID,
		Severity:   sig.Severity,
	}
}

// Key returns the signal key of d.
func (d Detection) Key() string {
	return types.SignalKey(d.SignalType, d.EntityType, d.EntityID)
}

// Status is a lifecycle record together with its derived facts.
type Status struct {
	types.LifecycleRecord
	Classification     Classification `json:"classification"`
	BusinessDaysActive int            `json:"business_days_active"`
}

// Escalation is emitted once per automatic severity promotion.
type Escalation struct {
	SignalKey          string         `json:"signal_key"`
	SignalType         string         `json:"signal_type"`
	EntityType         string         `json:"entity_type"`
	EntityID           string         `json:"entity_id"`
	From               types.Severity `json:"from"`
	To                 types.Severity `json:"to"`
	BusinessDaysActive int            `json:"business_days_active"`
	At                 time.Time      `json:"at"`
}

// Tracker maintains lifecycle records. Writes are serialized per signal key.
type Tracker struct {
	cal    *calendar.Calendar
	store  store.LifecycleStore
	opts   Options
	locks  keylock.Map
	logger *zap.Logger
	now    func() time.Time
}

// New validates opts and returns a Tracker.
func New(cal *calendar.Calendar, st store.LifecycleStore, opts Options, logger *zap.Logger) (*Tracker, error) {
	if opts.RecentDays < 0 || opts.OngoingDays < opts.RecentDays {
		return nil, &types.ConfigurationError{Component: "lifecycle", Field: "ongoing_days", Reason: "must be at least recent_days"}
	}
	if opts.AutoEscalateDays < 1 {
		return nil, &types.ConfigurationError{Component: "lifecycle", Field: "auto_escalate_days", Reason: "must be positive"}
	}
	if opts.ResolvingWindow < 1 {
		opts.ResolvingWindow = DefaultOptions().ResolvingWindow
	}
	if opts.ChronicMinDays < 1 {
		opts.ChronicMinDays = opts.OngoingDays + 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cal:    cal,
		store:  st,
		opts:   opts,
		logger: logger.Named("lifecycle"),
		now:    time.Now,
	}, nil
}

// SetClock replaces the tracker's clock.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Options returns the tracker's thresholds.
func (t *Tracker) Options() Options { return t.opts }

// BusinessDaysActive returns the business days since rec was first
// detected. A resolved record stops ageing at its last detection.
func (t *Tracker) BusinessDaysActive(rec types.LifecycleRecord) int {
	end := t.now()
	if rec.IsResolved() {
		end = rec.DetectedAt
	}
	return t.cal.BusinessDaysBetween(rec.FirstDetectedAt, end)
}

// Classify derives the persistence label of rec. First match wins:
// ESCALATING, NEW, RESOLVING, then the RECENT/ONGOING/CHRONIC age bands.
// A resolved record past the RESOLVING window keeps the band it had when
// last detected.
func (t *Tracker) Classify(rec types.LifecycleRecord) Classification {
	now := t.now()
	if rec.Severity.Rank() > rec.InitialSeverity.Rank() {
		return Escalating
	}
	if rec.DetectionCount <= 1 {
		return ClassNew
	}
	// A cycle is one business day.
	gap := t.cal.BusinessDaysBetween(rec.DetectedAt, now)
	if (rec.IsResolved() || gap >= 1) && gap <= t.opts.ResolvingWindow {
		return Resolving
	}
	age := t.BusinessDaysActive(rec)
	switch {
	case age <= t.opts.RecentDays:
		return Recent
	case age <= t.opts.OngoingDays:
		return Ongoing
	default:
		return Chronic
	}
}

func (t *Tracker) status(rec types.LifecycleRecord) Status {
	return Status{
		LifecycleRecord:    rec,
		Classification:     t.Classify(rec),
		BusinessDaysActive: t.BusinessDaysActive(rec),
	}
}

// Status returns the record for key with its derived facts.
func (t *Tracker) Status(ctx context.Context, key string) (Status, error) {
	rec, err := t.store.GetLifecycle(ctx, key)
	if err != nil {
		return Status{}, err
	}
	return t.status(rec), nil
}

// UpdateOnDetection records a sighting. The first sighting creates the
// record; later ones bump the counters, track peak severity, append an
// escalation entry when the severity changed, and reopen a resolved record.
func (t *Tracker) UpdateOnDetection(ctx context.Context, d Detection) (types.LifecycleRecord, error) {
	rec, _, err := t.detect(ctx, d, nil, false)
	return rec, err
}

// RecordSighting is UpdateOnDetection for the cycle runner. A lowest-tier
// sighting of a record old enough for auto-escalation keeps the record's
// current severity, so a promoted signal is not stepped back down and
// promoted again every cycle.
func (t *Tracker) RecordSighting(ctx context.Context, d Detection) (types.LifecycleRecord, error) {
	rec, _, err := t.detect(ctx, d, nil, true)
	return rec, err
}

// detect applies d under the key lock. When onlyIf is non-nil it is checked
// against the stored record and the update is skipped if it returns false.
func (t *Tracker) detect(ctx context.Context, d Detection, onlyIf func(types.LifecycleRecord) bool, holdPromoted bool) (types.LifecycleRecord, bool, error) {
	if !d.Severity.Valid() {
		return types.LifecycleRecord{}, false, fmt.Errorf("update lifecycle %s: invalid severity %q", d.Key(), d.Severity)
	}
	key := d.Key()
	unlock := t.locks.Lock(key)
	defer unlock()

	now := t.now()
	rec, err := t.store.GetLifecycle(ctx, key)
	switch {
	case errors.Is(err, types.ErrNotFound):
		if onlyIf != nil {
			return types.LifecycleRecord{}, false, nil
		}
		rec = types.LifecycleRecord{
			SignalKey:         key,
			SignalType:        d.SignalType,
			EntityType:        d.EntityType,
			EntityID:          d.EntityID,
			Severity:          d.Severity,
			DetectedAt:        now,
			FirstDetectedAt:   now,
			DetectionCount:    1,
			ConsecutiveCycles: 1,
			InitialSeverity:   d.Severity,
			PeakSeverity:      d.Severity,
			EscalationHistory: []types.EscalationEntry{},
		}
	case err != nil:
		return types.LifecycleRecord{}, false, fmt.Errorf("update lifecycle %s: %w", key, err)
	default:
		if onlyIf != nil && !onlyIf(rec) {
			return rec, false, nil
		}
		if holdPromoted && d.Severity == types.LowestSeverity && rec.Severity.Rank() > d.Severity.Rank() &&
			t.cal.BusinessDaysBetween(rec.FirstDetectedAt, now) >= t.opts.AutoEscalateDays {
			d.Severity = rec.Severity
		}
		rec.DetectionCount++
		rec.ConsecutiveCycles++
		if d.Severity != rec.Severity {
			rec.EscalationHistory = append(rec.EscalationHistory, types.EscalationEntry{
				Timestamp:      now,
				OldSeverity:    rec.Severity,
				NewSeverity:    d.Severity,
				DetectionCount: rec.DetectionCount,
			})
			t.logger.Info("severity changed",
				zap.String("signal_key", key),
				zap.String("from", string(rec.Severity)),
				zap.String("to", string(d.Severity)))
		}
		rec.Severity = d.Severity
		rec.PeakSeverity = types.MaxSeverity(rec.PeakSeverity, d.Severity)
		rec.DetectedAt = now
		rec.ResolvedAt = nil
		rec.ResolutionType = ""
	}

	if err := t.store.SaveLifecycle(ctx, rec); err != nil {
		return types.LifecycleRecord{}, false, fmt.Errorf("update lifecycle %s: %w", key, err)
	}
	return rec, true, nil
}

// UpdateOnClear marks key resolved and resets its consecutive cycle count.
// The row is kept. Clearing an already resolved record is a no-op.
func (t *Tracker) UpdateOnClear(ctx context.Context, key, resolutionType string) (types.LifecycleRecord, error) {
	unlock := t.locks.Lock(key)
	defer unlock()

	rec, err := t.store.GetLifecycle(ctx, key)
	if err != nil {
		return types.LifecycleRecord{}, fmt.Errorf("clear lifecycle %s: %w", key, err)
	}
	if rec.IsResolved() {
		return rec, nil
	}
	if resolutionType == "" {
		resolutionType = ResolutionCleared
	}
	now := t.now()
	rec.ResolvedAt = &now
	rec.ResolutionType = resolutionType
	rec.ConsecutiveCycles = 0
	if err := t.store.SaveLifecycle(ctx, rec); err != nil {
		return types.LifecycleRecord{}, fmt.Errorf("clear lifecycle %s: %w", key, err)
	}
	return rec, nil
}

// ChronicSignals returns unresolved records active for at least minDays
// business days, oldest first. minDays <= 0 uses the configured default.
func (t *Tracker) ChronicSignals(ctx context.Context, minDays int) ([]Status, error) {
	if minDays <= 0 {
		minDays = t.opts.ChronicMinDays
	}
	recs, err := t.store.ListLifecycle(ctx, store.LifecycleQuery{})
	if err != nil {
		return nil, fmt.Errorf("chronic signals: %w", err)
	}
	var out []Status
	for _, rec := range recs {
		st := t.status(rec)
		if st.BusinessDaysActive >= minDays {
			out = append(out, st)
		}
	}
	return out, nil
}

// Unresolved returns the unresolved records of the given signal types,
// oldest first.
func (t *Tracker) Unresolved(ctx context.Context, signalTypes ...string) ([]types.LifecycleRecord, error) {
	recs, err := t.store.ListLifecycle(ctx, store.LifecycleQuery{SignalTypes: signalTypes})
	if err != nil {
		return nil, fmt.Errorf("list unresolved lifecycle: %w", err)
	}
	return recs, nil
}

// EscalatingSignals returns unresolved records whose current severity is
// above their initial severity, oldest first.
func (t *Tracker) EscalatingSignals(ctx context.Context) ([]Status, error) {
	recs, err := t.store.ListLifecycle(ctx, store.LifecycleQuery{})
	if err != nil {
		return nil, fmt.Errorf("escalating signals: %w", err)
	}
	var out []Status
	for _, rec := range recs {
		if rec.Severity.Rank() > rec.InitialSeverity.Rank() {
			out = append(out, t.status(rec))
		}
	}
	return out, nil
}

// AutoEscalateChronicSignals promotes every unresolved record still at the
// lowest severity tier and active for at least AutoEscalateDays business days
// by exactly one tier. Records already above the lowest tier are never touched.
func (t *Tracker) AutoEscalateChronicSignals(ctx context.Context) ([]Escalation, error) {
	recs, err := t.store.ListLifecycle(ctx, store.LifecycleQuery{Severity: types.LowestSeverity})
	if err != nil {
		return nil, fmt.Errorf("auto-escalate: %w", err)
	}

	eligible := func(rec types.LifecycleRecord) bool {
		return !rec.IsResolved() &&
			rec.Severity == types.LowestSeverity &&
			t.BusinessDaysActive(rec) >= t.opts.AutoEscalateDays
	}

	var events []Escalation
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		if !eligible(rec) {
			continue
		}
		next, ok := rec.Severity.Next()
		if !ok {
			continue
		}
		updated, applied, err := t.detect(ctx, Detection{
			SignalType: rec.SignalType,
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Severity:   next,
		}, eligible, false)
		if err != nil {
			return events, err
		}
		if !applied {
			continue
		}
		ev := Escalation{
			SignalKey:          updated.SignalKey,
			SignalType:         updated.SignalType,
			EntityType:         updated.EntityType,
			EntityID:           updated.EntityID,
			From:               rec.Severity,
			To:                 next,
			BusinessDaysActive: t.BusinessDaysActive(updated),
			At:                 updated.DetectedAt,
		}
		t.logger.Info("auto-escalated chronic signal",
			zap.String("signal_key", ev.SignalKey),
			zap.Int("business_days_active", ev.BusinessDaysActive))
		events = append(events, ev)
	}
	return events, nil
}
