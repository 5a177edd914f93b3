package store

import (
	"time"

	"github.com/matthewbaird/signalintel/internal/types"
)

// SignalQuery controls filtering for signal listings. Zero-valued fields do
// not filter.
type SignalQuery struct {
	SignalTypes   []string
	Statuses      []types.SignalStatus
	Valence       *types.Valence
	EntityType    string
	EntityID      string
	ClientID      string     // scope_client_id
	DetectedSince *time.Time // inclusive
	ExcludeID     string
	Limit         int // 0 = unlimited
}

// ActiveSignals returns a query for active signals of the given types.
func ActiveSignals(signalTypes ...string) SignalQuery {
	return SignalQuery{
		SignalTypes: signalTypes,
		Statuses:    []types.SignalStatus{types.StatusActive},
	}
}

// WithValence returns a copy of q restricted to valence v.
func (q SignalQuery) WithValence(v types.Valence) SignalQuery {
	q.Valence = &v
	return q
}

func (q SignalQuery) matches(s types.Signal) bool {
	if len(q.SignalTypes) > 0 && !contains(q.SignalTypes, s.SignalType) {
		return false
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, s.Status) {
		return false
	}
	if q.Valence != nil && s.Valence != *q.Valence {
		return false
	}
	if q.EntityType != "" && s.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && s.EntityID != q.EntityID {
		return false
	}
	if q.ClientID != "" && (s.Scope.ClientID == nil || *s.Scope.ClientID != q.ClientID) {
		return false
	}
	if q.DetectedSince != nil && s.DetectedAt.Before(*q.DetectedSince) {
		return false
	}
	if q.ExcludeID != "" && s.ID == q.ExcludeID {
		return false
	}
	return true
}

// LifecycleQuery controls filtering for lifecycle listings.
type LifecycleQuery struct {
	IncludeResolved bool
	Severity        types.Severity // current severity; empty = any
	SignalTypes     []string
}

func (q LifecycleQuery) matches(r types.LifecycleRecord) bool {
	if !q.IncludeResolved && r.IsResolved() {
		return false
	}
	if q.Severity != "" && r.Severity != q.Severity {
		return false
	}
	if len(q.SignalTypes) > 0 && !contains(q.SignalTypes, r.SignalType) {
		return false
	}
	return true
}

func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

func containsStatus(slice []types.SignalStatus, val types.SignalStatus) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
