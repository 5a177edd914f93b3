// Package suppression manages dismissal windows for signal keys and the
// raised/dismissed ledger behind auto-deprioritization.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/keylock"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Options configures a Service.
type Options struct {
	Window      time.Duration // suppression window for early dismissals
	LongWindow  time.Duration // window once RepeatAfter dismissals are reached
	RepeatAfter int

	DeprioritizeRate         float64 // minimum dismiss rate
	DeprioritizeMinDismissed int     // minimum total dismissals
}

// DefaultOptions returns the standard windows and thresholds.
func DefaultOptions() Options {
	return Options{
		Window:                   7 * 24 * time.Hour,
		LongWindow:               30 * 24 * time.Hour,
		RepeatAfter:              3,
		DeprioritizeRate:         0.70,
		DeprioritizeMinDismissed: 3,
	}
}

// Stats summarizes the raised/dismissed ledger for one key.
type Stats struct {
	SignalKey           string  `json:"signal_key"`
	TotalRaised         int     `json:"total_raised"`
	TotalDismissed      int     `json:"total_dismissed"`
	DismissRate         float64 `json:"dismiss_rate"`
	IsAutoDeprioritized bool    `json:"is_auto_deprioritized"`
}

// Service records dismissals and answers suppression queries. At most one
// suppression row per key is active; writes are serialized per key.
type Service struct {
	store  store.SuppressionStore
	opts   Options
	locks  keylock.Map
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Service backed by st.
func New(st store.SuppressionStore, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		opts:   opts,
		logger: logger.Named("suppression"),
		now:    time.Now,
	}
}

// SetClock replaces the service's clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// DismissSignal suppresses key. The window is Window, or LongWindow once
// this dismissal brings the key to RepeatAfter dismissals. Any active row
// for the key is deactivated first and a "dismissed" event is appended.
func (s *Service) DismissSignal(ctx context.Context, key string, reason types.SuppressionReason) (types.SuppressionRecord, error) {
	_, entityType, entityID, ok := types.ParseSignalKey(key)
	if !ok {
		return types.SuppressionRecord{}, fmt.Errorf("dismiss %q: malformed signal key", key)
	}
	if reason == "" {
		reason = types.ReasonUserDismiss
	}
	if !reason.Valid() {
		return types.SuppressionRecord{}, fmt.Errorf("dismiss %s: unknown reason %q", key, reason)
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	prior := 0
	latest, err := s.store.LatestSuppression(ctx, key)
	switch {
	case err == nil:
		prior = latest.DismissCount
	case !errors.Is(err, types.ErrNotFound):
		return types.SuppressionRecord{}, fmt.Errorf("dismiss %s: %w", key, err)
	}

	count := prior + 1
	window := s.opts.Window
	if count >= s.opts.RepeatAfter {
		window = s.opts.LongWindow
	}

	if _, err := s.store.DeactivateSuppressions(ctx, key); err != nil {
		return types.SuppressionRecord{}, fmt.Errorf("dismiss %s: %w", key, err)
	}

	now := s.now()
	rec := types.SuppressionRecord{
		ID:           uuid.NewString(),
		SignalKey:    key,
		EntityType:   entityType,
		EntityID:     entityID,
		Reason:       reason,
		SuppressedAt: now,
		ExpiresAt:    now.Add(window),
		DismissCount: count,
		IsActive:     true,
	}
	if err := s.store.InsertSuppression(ctx, rec); err != nil {
		return types.SuppressionRecord{}, fmt.Errorf("dismiss %s: %w", key, err)
	}
	if err := s.store.AppendSuppressionEvent(ctx, types.SuppressionEvent{
		SignalKey: key,
		EventType: types.EventDismissed,
		CreatedAt: now,
	}); err != nil {
		return rec, fmt.Errorf("dismiss %s: %w", key, err)
	}

	s.logger.Info("signal dismissed",
		zap.String("signal_key", key),
		zap.Int("dismiss_count", count),
		zap.Duration("window", window))
	return rec, nil
}

// RecordSignalRaised appends a "raised" event for key. It does not read or
// change suppression state.
func (s *Service) RecordSignalRaised(ctx context.Context, key string) error {
	err := s.store.AppendSuppressionEvent(ctx, types.SuppressionEvent{
		SignalKey: key,
		EventType: types.EventRaised,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("record raised %s: %w", key, err)
	}
	return nil
}

// IsSuppressed reports whether key has an active, unexpired suppression.
func (s *Service) IsSuppressed(ctx context.Context, key string) (bool, error) {
	_, err := s.store.ActiveSuppression(ctx, key, s.now())
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is suppressed %s: %w", key, err)
	}
	return true, nil
}

// DismissStats returns the ledger totals and dismiss rate for key.
func (s *Service) DismissStats(ctx context.Context, key string) (Stats, error) {
	raised, dismissed, err := s.store.CountSuppressionEvents(ctx, key)
	if err != nil {
		return Stats{}, fmt.Errorf("dismiss stats %s: %w", key, err)
	}
	st := Stats{SignalKey: key, TotalRaised: raised, TotalDismissed: dismissed}
	if total := raised + dismissed; total > 0 {
		st.DismissRate = float64(dismissed) / float64(total)
	}
	st.IsAutoDeprioritized = s.deprioritized(st.DismissRate, dismissed)
	return st, nil
}

// deprioritized requires both the rate and the dismissal count.
func (s *Service) deprioritized(rate float64, dismissed int) bool {
	return rate >= s.opts.DeprioritizeRate && dismissed >= s.opts.DeprioritizeMinDismissed
}

// ShouldDeprioritize reports whether detectors should cap key's severity.
func (s *Service) ShouldDeprioritize(ctx context.Context, key string) (bool, error) {
	st, err := s.DismissStats(ctx, key)
	if err != nil {
		return false, err
	}
	return st.IsAutoDeprioritized, nil
}

// ActiveSuppressions lists the active rows, newest first.
func (s *Service) ActiveSuppressions(ctx context.Context) ([]types.SuppressionRecord, error) {
	return s.store.ListActiveSuppressions(ctx)
}

// ExpireSuppressions deactivates every expired active row and returns how
// many it touched. Rows are never deleted.
func (s *Service) ExpireSuppressions(ctx context.Context) (int, error) {
	n, err := s.store.ExpireSuppressions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire suppressions: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired suppressions", zap.Int("count", n))
	}
	return n, nil
}
