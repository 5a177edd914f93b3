// Package engine runs one detection cycle end to end: detectors, lifecycle
// bookkeeping, auto-escalation, suppression ledger and balancing.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/balance"
	"github.com/matthewbaird/signalintel/internal/detection"
	"github.com/matthewbaird/signalintel/internal/event"
	"github.com/matthewbaird/signalintel/internal/lifecycle"
	"github.com/matthewbaird/signalintel/internal/suppression"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Cycle results reported to the Recorder.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultRefused = "refused"
)

// Recorder receives cycle metrics. *metrics.Metrics implements it.
type Recorder interface {
	ObserveCycle(result string, d time.Duration)
	ObserveDetection(stats *detection.Stats)
	AddEscalations(n int)
	AddBalanced(n int)
	IssueTransition(from, to string)
	SetActiveSuppressions(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(string, time.Duration) {}
func (nopRecorder) ObserveDetection(*detection.Stats) {}
func (nopRecorder) AddEscalations(int) {}
func (nopRecorder) AddBalanced(int) {}
func (nopRecorder) IssueTransition(string, string) {}
func (nopRecorder) SetActiveSuppressions(int) {}

// Components are the services a cycle drives.
type Components struct {
	Orchestrator *detection.Orchestrator
	Lifecycle    *lifecycle.Tracker
	Suppression  *suppression.Service
	Balance      *balance.Service
}

// CycleReport summarizes one cycle. Step failures are collected in Errors;
// the cycle itself always completes.
type CycleReport struct {
	StartedAt           time.Time              `json:"started_at"`
	FinishedAt          time.Time              `json:"finished_at"`
	Detection           *detection.Stats       `json:"detection"`
	LifecycleUpdated    int                    `json:"lifecycle_updated"`
	LifecycleCleared    int                    `json:"lifecycle_cleared"`
	Escalations         []lifecycle.Escalation `json:"escalations"`
	Balance             balance.CheckStats     `json:"balance"`
	SuppressionsExpired int                    `json:"suppressions_expired"`
	ActiveSuppressions  int                    `json:"active_suppressions"`
	Errors              []string               `json:"errors,omitempty"`
}

// Result is the label the cycle is recorded under.
func (r *CycleReport) Result() string {
	if len(r.Errors) > 0 || (r.Detection != nil && r.Detection.DetectorsFailed > 0) {
		return ResultPartial
	}
	return ResultOK
}

// Engine runs cycles one at a time.
type Engine struct {
	c         Components
	publisher event.Publisher
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	running sync.Mutex
}

// New returns an Engine over c.
func New(c Components, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		c:         c,
		publisher: event.Discard,
		recorder:  nopRecorder{},
		logger:    logger.Named("engine"),
		now:       time.Now,
	}
}

// SetPublisher sets where cycle events go.
func (e *Engine) SetPublisher(p event.Publisher) {
	if p == nil {
		p = event.Discard
	}
	e.publisher = p
}

// SetRecorder sets the metrics sink.
func (e *Engine) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.recorder = r
}

// SetClock replaces the engine's clock. Components keep their own clocks.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RunCycle runs one cycle. It returns types.ErrCycleRunning when a cycle
// is already in progress; any other problem is reported in the CycleReport.
func (e *Engine) RunCycle(ctx context.Context, opts detection.RunOptions) (*CycleReport, error) {
	if !e.running.TryLock() {
		e.recorder.ObserveCycle(ResultRefused, 0)
		return nil, types.ErrCycleRunning
	}
	defer e.running.Unlock()

	start := time.Now()
	report := &CycleReport{StartedAt: e.now()}
	fail := func(step string, err error) {
		e.logger.Error("cycle step failed", zap.String("step", step), zap.Error(err))
		report.Errors = append(report.Errors, step+": "+err.Error())
	}

	stats, err := e.c.Orchestrator.RunDetection(ctx, opts)
	if err != nil {
		// Only an overlapping direct RunDetection call gets here.
		fail("detection", err)
		stats = &detection.Stats{ByDetector: map[string]*detection.DetectorStats{}}
	}
	report.Detection = stats
	e.recorder.ObserveDetection(stats)
	for _, f := range stats.Failures {
		e.publisher.Publish(ctx, event.NewDetectorFailed(f, e.now()))
	}
	for _, sig := range stats.Stored {
		e.publisher.Publish(ctx, event.NewSignalStored(sig, sig.DetectedAt))
	}

	if err := e.updateLifecycle(ctx, stats, report); err != nil {
		fail("lifecycle", err)
	}

	for _, sig := range stats.Stored {
		if err := e.c.Suppression.RecordSignalRaised(ctx, sig.Key()); err != nil {
			fail("suppression ledger", err)
			break
		}
	}

	escalations, err := e.c.Lifecycle.AutoEscalateChronicSignals(ctx)
	if err != nil {
		fail("auto-escalate", err)
	}
	report.Escalations = escalations
	for _, esc := range escalations {
		e.publisher.Publish(ctx, event.NewSeverityEscalated(event.SeverityEscalatedPayload{
			SignalKey:          esc.SignalKey,
			From:               esc.From,
			To:                 esc.To,
			BusinessDaysActive: esc.BusinessDaysActive,
		}, esc.EntityType, esc.EntityID, esc.At))
	}
	e.recorder.AddEscalations(len(escalations))

	for _, sig := range stats.Stored {
		if sig.Valence != types.ValencePositive {
			continue
		}
		res, err := e.c.Balance.ProcessNewSignal(ctx, sig)
		if err != nil {
			fail("balance", err)
			break
		}
		report.Balance.PositivesChecked++
		report.Balance.SignalsBalanced += len(res.Balanced)
		report.Balance.IssuesRecalculated += len(res.Issues)
		report.Balance.IssuesTransitioned += res.Transitions
	}
	e.recorder.AddBalanced(report.Balance.SignalsBalanced)
	for i := 0; i < report.Balance.IssuesTransitioned; i++ {
		e.recorder.IssueTransition(string(types.IssueAddressing), string(types.IssueMonitoring))
	}

	if n, err := e.c.Suppression.ExpireSuppressions(ctx); err != nil {
		fail("expire suppressions", err)
	} else {
		report.SuppressionsExpired = n
	}
	if active, err := e.c.Suppression.ActiveSuppressions(ctx); err != nil {
		fail("active suppressions", err)
	} else {
		report.ActiveSuppressions = len(active)
		e.recorder.SetActiveSuppressions(len(active))
	}

	report.FinishedAt = e.now()
	e.recorder.ObserveCycle(report.Result(), time.Since(start))
	e.logger.Info("cycle complete",
		zap.String("result", report.Result()),
		zap.Int("signals_stored", stats.SignalsStored),
		zap.Int("lifecycle_updated", report.LifecycleUpdated),
		zap.Int("lifecycle_cleared", report.LifecycleCleared),
		zap.Int("escalations", len(report.Escalations)),
		zap.Int("balanced", report.Balance.SignalsBalanced),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// updateLifecycle records a detection for every candidate a detector saw
// and clears the unresolved keys of types owned by detectors that ran
// cleanly but did not see them this cycle.
func (e *Engine) updateLifecycle(ctx context.Context, stats *detection.Stats, report *CycleReport) error {
	declared := e.c.Orchestrator.Registry().SignalTypes()
	owned := make(map[string]bool)
	blocked := make(map[string]bool)
	seen := make(map[string]bool)

	ids := make([]string, 0, len(stats.ByDetector))
	for id := range stats.ByDetector {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		ds := stats.ByDetector[id]
		for _, t := range declared[id] {
			if ds.Failed {
				blocked[t] = true
			} else {
				owned[t] = true
			}
		}
		for _, sig := range ds.Seen {
			key := sig.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := e.c.Lifecycle.RecordSighting(ctx, lifecycle.FromSignal(sig)); err != nil {
				errs = append(errs, err)
				continue
			}
			report.LifecycleUpdated++
		}
	}

	var clearable []string
	for t := range owned {
		if !blocked[t] {
			clearable = append(clearable, t)
		}
	}
	if len(clearable) == 0 {
		return errors.Join(errs...)
	}
	sort.Strings(clearable)

	open, err := e.c.Lifecycle.Unresolved(ctx, clearable...)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, rec := range open {
		if seen[rec.SignalKey] {
			continue
		}
		cleared, err := e.c.Lifecycle.UpdateOnClear(ctx, rec.SignalKey, lifecycle.ResolutionCleared)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.LifecycleCleared++
		e.publisher.Publish(ctx, event.NewSignalCleared(cleared, e.now()))
	}
	return errors.Join(errs...)
}
