package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matthewbaird/signalintel/internal/types"
)

// MemoryStore implements Store using in-memory maps.
// Intended for demos and testing; no database required.
type MemoryStore struct {
	mu           sync.RWMutex
	signals      map[string]types.Signal
	issues       map[string]types.Issue
	lifecycle    map[string]types.LifecycleRecord
	suppressions []types.SuppressionRecord
	events       []types.SuppressionEvent
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:   make(map[string]types.Signal),
		issues:    make(map[string]types.Issue),
		lifecycle: make(map[string]types.LifecycleRecord),
	}
}

func (s *MemoryStore) Close() error { return nil }

// ─── Signals ───────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateSignal(_ context.Context, sig types.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.signals[sig.ID]; exists {
		return fmt.Errorf("create signal %s: already exists", sig.ID)
	}
	s.signals[sig.ID] = sig
	return nil
}

func (s *MemoryStore) GetSignal(_ context.Context, id string) (types.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return types.Signal{}, fmt.Errorf("signal %s: %w", id, types.ErrNotFound)
	}
	return sig, nil
}

func (s *MemoryStore) SignalExists(_ context.Context, signalType, entityID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sig := range s.signals {
		if sig.SignalType == signalType && sig.EntityID == entityID && sig.Status == types.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListSignals(_ context.Context, q SignalQuery) ([]types.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []types.Signal
	for _, sig := range s.signals {
		if q.matches(sig) {
			matched = append(matched, sig)
		}
	}

	// Sort by detected_at DESC, id for ties.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DetectedAt.Equal(matched[j].DetectedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountSignals(ctx context.Context, q SignalQuery) (int, error) {
	q.Limit = 0
	matched, err := s.ListSignals(ctx, q)
	return len(matched), err
}

func (s *MemoryStore) MarkBalanced(_ context.Context, id, balancedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return false, fmt.Errorf("signal %s: %w", id, types.ErrNotFound)
	}
	if sig.Status != types.StatusActive {
		return false, nil
	}
	sig.Status = types.StatusBalanced
	sig.BalancedBy = balancedBy
	sig.BalancedAt = &at
	s.signals[id] = sig
	return true, nil
}

func (s *MemoryStore) UpdateSignalStatus(_ context.Context, id string, status types.SignalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("signal %s: %w", id, types.ErrNotFound)
	}
	sig.Status = status
	s.signals[id] = sig
	return nil
}

func (s *MemoryStore) ExpireSignals(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sig := range s.signals {
		if sig.Status == types.StatusActive && sig.ExpiresAt != nil && !sig.ExpiresAt.After(now) {
			sig.Status = types.StatusArchived
			s.signals[id] = sig
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteArchivedSignals(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sig := range s.signals {
		if sig.Status == types.StatusArchived && sig.DetectedAt.Before(cutoff) {
			delete(s.signals, id)
			n++
		}
	}
	return n, nil
}

// ─── Issues ────────────────────────────────────────────────────────────────────

func cloneIssue(i types.Issue) types.Issue {
	i.SignalIDs = append([]string(nil), i.SignalIDs...)
	return i
}

func (s *MemoryStore) CreateIssue(_ context.Context, issue types.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.issues[issue.ID]; exists {
		return fmt.Errorf("create issue %s: already exists", issue.ID)
	}
	s.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (s *MemoryStore) GetIssue(_ context.Context, id string) (types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return types.Issue{}, fmt.Errorf("issue %s: %w", id, types.ErrNotFound)
	}
	return cloneIssue(issue), nil
}

func (s *MemoryStore) UpdateIssue(_ context.Context, issue types.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[issue.ID]; !ok {
		return fmt.Errorf("issue %s: %w", issue.ID, types.ErrNotFound)
	}
	s.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (s *MemoryStore) IssuesContainingSignal(_ context.Context, signalID string) ([]types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Issue
	for _, issue := range s.issues {
		if issue.HasSignal(signalID) {
			out = append(out, cloneIssue(issue))
		}
	}
	sortIssues(out)
	return out, nil
}

func (s *MemoryStore) ListIssues(_ context.Context, states ...types.IssueState) ([]types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Issue
	for _, issue := range s.issues {
		if len(states) > 0 && !containsState(states, issue.State) {
			continue
		}
		out = append(out, cloneIssue(issue))
	}
	sortIssues(out)
	return out, nil
}

func sortIssues(issues []types.Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].ID < issues[j].ID
		}
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})
}

func containsState(states []types.IssueState, st types.IssueState) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

// ─── Lifecycle ─────────────────────────────────────────────────────────────────

func cloneLifecycle(r types.LifecycleRecord) types.LifecycleRecord {
	r.EscalationHistory = append([]types.EscalationEntry(nil), r.EscalationHistory...)
	return r
}

func (s *MemoryStore) GetLifecycle(_ context.Context, key string) (types.LifecycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lifecycle[key]
	if !ok {
		return types.LifecycleRecord{}, fmt.Errorf("lifecycle %s: %w", key, types.ErrNotFound)
	}
	return cloneLifecycle(rec), nil
}

func (s *MemoryStore) SaveLifecycle(_ context.Context, rec types.LifecycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle[rec.SignalKey] = cloneLifecycle(rec)
	return nil
}

func (s *MemoryStore) ListLifecycle(_ context.Context, q LifecycleQuery) ([]types.LifecycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.LifecycleRecord
	for _, rec := range s.lifecycle {
		if q.matches(rec) {
			out = append(out, cloneLifecycle(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstDetectedAt.Equal(out[j].FirstDetectedAt) {
			return out[i].SignalKey < out[j].SignalKey
		}
		return out[i].FirstDetectedAt.Before(out[j].FirstDetectedAt)
	})
	return out, nil
}

// ─── Suppressions ──────────────────────────────────────────────────────────────

func (s *MemoryStore) InsertSuppression(_ context.Context, rec types.SuppressionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressions = append(s.suppressions, rec)
	return nil
}

func (s *MemoryStore) LatestSuppression(_ context.Context, key string) (types.SuppressionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Records are appended in insertion order; the last match is the latest.
	for i := len(s.suppressions) - 1; i >= 0; i-- {
		if s.suppressions[i].SignalKey == key {
			return s.suppressions[i], nil
		}
	}
	return types.SuppressionRecord{}, fmt.Errorf("suppression %s: %w", key, types.ErrNotFound)
}

func (s *MemoryStore) ActiveSuppression(_ context.Context, key string, now time.Time) (types.SuppressionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.suppressions) - 1; i >= 0; i-- {
		rec := s.suppressions[i]
		if rec.SignalKey == key && rec.IsActive && rec.ExpiresAt.After(now) {
			return rec, nil
		}
	}
	return types.SuppressionRecord{}, fmt.Errorf("active suppression %s: %w", key, types.ErrNotFound)
}

func (s *MemoryStore) ListActiveSuppressions(_ context.Context) ([]types.SuppressionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.SuppressionRecord
	for i := len(s.suppressions) - 1; i >= 0; i-- {
		if s.suppressions[i].IsActive {
			out = append(out, s.suppressions[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) DeactivateSuppressions(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.suppressions {
		if s.suppressions[i].SignalKey == key && s.suppressions[i].IsActive {
			s.suppressions[i].IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ExpireSuppressions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.suppressions {
		if s.suppressions[i].IsActive && !s.suppressions[i].ExpiresAt.After(now) {
			s.suppressions[i].IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendSuppressionEvent(_ context.Context, ev types.SuppressionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) CountSuppressionEvents(_ context.Context, key string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raised, dismissed int
	for _, ev := range s.events {
		if ev.SignalKey != key {
			continue
		}
		switch ev.EventType {
		case types.EventRaised:
			raised++
		case types.EventDismissed:
			dismissed++
		}
	}
	return raised, dismissed, nil
}
