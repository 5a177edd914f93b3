// Package store provides the persistence interfaces for signals, issues,
// lifecycle records, and suppressions, with an in-memory implementation for
// tests and demos and a SQLite implementation for production.
//
// Typed sequences (escalation history, issue signal ids) live in memory as Go
// slices and are JSON-encoded only inside SQLStore.
package store

import (
	"context"
	"time"

	"github.com/matthewbaird/signalintel/internal/types"
)

// SignalStore reads and writes signals.
type SignalStore interface {
	// CreateSignal inserts a new signal.
	CreateSignal(ctx context.Context, sig types.Signal) error

	// GetSignal returns the signal with id, or types.ErrNotFound.
	GetSignal(ctx context.Context, id string) (types.Signal, error)

	// SignalExists reports whether an active signal of signalType exists for entityID.
	SignalExists(ctx context.Context, signalType, entityID string) (bool, error)

	// ListSignals returns signals matching q, newest first.
	ListSignals(ctx context.Context, q SignalQuery) ([]types.Signal, error)

	// CountSignals returns the number of signals matching q, ignoring q.Limit.
	CountSignals(ctx context.Context, q SignalQuery) (int, error)

	// MarkBalanced moves an active signal to balanced. It returns false when
	// the signal was not active, and types.ErrNotFound when it does not exist.
	MarkBalanced(ctx context.Context, id, balancedBy string, at time.Time) (bool, error)

	// UpdateSignalStatus sets the status of a signal.
	UpdateSignalStatus(ctx context.Context, id string, status types.SignalStatus) error

	// ExpireSignals archives active signals whose expires_at is at or before now.
	ExpireSignals(ctx context.Context, now time.Time) (int, error)

	// DeleteArchivedSignals hard-deletes archived signals detected before cutoff.
	DeleteArchivedSignals(ctx context.Context, cutoff time.Time) (int, error)
}

// IssueStore reads and writes issues.
type IssueStore interface {
	CreateIssue(ctx context.Context, issue types.Issue) error
	GetIssue(ctx context.Context, id string) (types.Issue, error)
	// UpdateIssue persists the balance fields, state, and resolution fields.
	UpdateIssue(ctx context.Context, issue types.Issue) error
	// IssuesContainingSignal returns every issue whose signal set includes signalID.
	IssuesContainingSignal(ctx context.Context, signalID string) ([]types.Issue, error)
	// ListIssues returns issues in any of states, or all issues when none are given.
	ListIssues(ctx context.Context, states ...types.IssueState) ([]types.Issue, error)
}

// LifecycleStore persists lifecycle records keyed by signal key.
type LifecycleStore interface {
	// GetLifecycle returns the record for key, or types.ErrNotFound.
	GetLifecycle(ctx context.Context, key string) (types.LifecycleRecord, error)
	// SaveLifecycle inserts or replaces the record for rec.SignalKey.
	SaveLifecycle(ctx context.Context, rec types.LifecycleRecord) error
	// ListLifecycle returns records matching q, oldest first_detected_at first.
	ListLifecycle(ctx context.Context, q LifecycleQuery) ([]types.LifecycleRecord, error)
}

// SuppressionStore persists suppression windows and the raised/dismissed ledger.
type SuppressionStore interface {
	InsertSuppression(ctx context.Context, rec types.SuppressionRecord) error
	// LatestSuppression returns the most recent record for key, active or
	// not, or types.ErrNotFound.
	LatestSuppression(ctx context.Context, key string) (types.SuppressionRecord, error)
	// ActiveSuppression returns the active record for key that has not
	// expired at now, or types.ErrNotFound.
	ActiveSuppression(ctx context.Context, key string, now time.Time) (types.SuppressionRecord, error)
	// ListActiveSuppressions returns all active records, newest first.
	ListActiveSuppressions(ctx context.Context) ([]types.SuppressionRecord, error)
	// DeactivateSuppressions clears is_active on every active record for key.
	DeactivateSuppressions(ctx context.Context, key string) (int, error)
	// ExpireSuppressions clears is_active on active records expired at now.
	ExpireSuppressions(ctx context.Context, now time.Time) (int, error)
	AppendSuppressionEvent(ctx context.Context, ev types.SuppressionEvent) error
	// CountSuppressionEvents returns the raised and dismissed totals for key.
	CountSuppressionEvents(ctx context.Context, key string) (raised, dismissed int, err error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	SignalStore
	IssueStore
	LifecycleStore
	SuppressionStore
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
