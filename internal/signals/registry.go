// Package signals provides the signal type registry, the observation
// classifier, and the entity health summary.
package signals

import (
	"fmt"
	"sort"

	"github.com/matthewbaird/signalintel/internal/types"
)

// DefaultRegistrations lists every signal type the engine knows about.
// Registrations sharing an event type are tried in order: conditional
// registrations first, then the first unconditional one.
var DefaultRegistrations = []types.SignalRegistration{
	// === Delivery ===
	{
		ID:              "task_overdue",
		EventType:       "TaskStatus",
		Condition:       "days_overdue > 0",
		Category:        "delivery",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.4,
		EntityType:      "task",
		Description:     "Task is past its due date",
	},
	{
		ID:              "task_completed",
		EventType:       "TaskStatus",
		Condition:       "status == completed",
		Category:        "delivery",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.4,
		EntityType:      "task",
		Description:     "Task completed",
	},
	{
		ID:              "deadline_missed",
		EventType:       "MilestoneDue",
		Condition:       "delivered == false",
		Category:        "delivery",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWarning,
		Magnitude:       0.7,
		EntityType:      "task",
		Description:     "Milestone deadline passed without delivery",
	},
	{
		ID:              "milestone_reached",
		EventType:       "MilestoneDue",
		Condition:       "delivered == true",
		Category:        "delivery",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.6,
		EntityType:      "task",
		Description:     "Milestone delivered",
	},
	{
		ID:              "project_delayed",
		EventType:       "ProjectStatus",
		Condition:       "schedule_variance_days > 5",
		Category:        "delivery",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWarning,
		Magnitude:       0.6,
		EntityType:      "project",
		Description:     "Project running more than a week behind plan",
	},
	{
		ID:              "project_on_track",
		EventType:       "ProjectStatus",
		Condition:       "schedule_variance_days <= 5",
		Category:        "delivery",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.5,
		EntityType:      "project",
		Description:     "Project within schedule tolerance",
	},
	{
		ID:              "scope_change_requested",
		EventType:       "ScopeChange",
		Category:        "delivery",
		Valence:         types.ValenceNeutral,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.3,
		EntityType:      "project",
		Description:     "Client requested a scope change",
	},

	// === Financial ===
	{
		ID:              "invoice_overdue",
		EventType:       "InvoiceStatus",
		Condition:       "days_past_due > 0",
		Category:        "financial",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWarning,
		Magnitude:       0.6,
		EntityType:      "client",
		Description:     "Invoice unpaid past its due date",
	},
	{
		ID:              "payment_received",
		EventType:       "PaymentRecorded",
		Category:        "financial",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.7,
		EntityType:      "client",
		Description:     "Payment received",
	},
	{
		ID:              "retainer_underutilized",
		EventType:       "RetainerUsage",
		Condition:       "utilization < 0.5",
		Category:        "financial",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.4,
		EntityType:      "retainer",
		Description:     "Retainer hours used below half of allocation",
	},

	// === Communication ===
	{
		ID:              "communication_gap",
		EventType:       "ClientActivity",
		Condition:       "days_since_contact >= 10",
		Category:        "communication",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.5,
		EntityType:      "client",
		Description:     "No client contact for ten or more days",
	},
	{
		ID:              "negative_sentiment",
		EventType:       "MessageReceived",
		Condition:       "sentiment < -0.3",
		Category:        "relationship",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWarning,
		Magnitude:       0.6,
		EntityType:      "client",
		Description:     "Client message with negative tone",
	},
	{
		ID:              "positive_sentiment",
		EventType:       "MessageReceived",
		Condition:       "sentiment > 0.3",
		Category:        "relationship",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.5,
		EntityType:      "client",
		Description:     "Client message with positive tone",
	},
	{
		ID:              "client_response_received",
		EventType:       "MessageReceived",
		Category:        "communication",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.3,
		EntityType:      "client",
		Description:     "Client replied",
	},
	{
		ID:              "meeting_held",
		EventType:       "MeetingHeld",
		Category:        "communication",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.5,
		EntityType:      "client",
		Description:     "Meeting with the client took place",
	},

	// === Brand ===
	{
		ID:              "brand_feedback_negative",
		EventType:       "BrandFeedback",
		Condition:       "rating <= 2",
		Category:        "brand",
		Valence:         types.ValenceNegative,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.5,
		EntityType:      "brand",
		Description:     "Low rating on brand deliverable feedback",
	},
	{
		ID:              "brand_feedback_positive",
		EventType:       "BrandFeedback",
		Condition:       "rating >= 4",
		Category:        "brand",
		Valence:         types.ValencePositive,
		DefaultSeverity: types.SeverityWatch,
		Magnitude:       0.5,
		EntityType:      "brand",
		Description:     "High rating on brand deliverable feedback",
	},
}

// Registry indexes signal registrations by id and event type. It is built
// once and read-only afterwards.
type Registry struct {
	byID        map[string]types.SignalRegistration
	byEventType map[string][]types.SignalRegistration
	order       []string
}

// NewRegistry validates regs and builds the lookup maps.
func NewRegistry(regs []types.SignalRegistration) (*Registry, error) {
	r := &Registry{
		byID:        make(map[string]types.SignalRegistration, len(regs)),
		byEventType: make(map[string][]types.SignalRegistration),
	}
	for _, reg := range regs {
		if reg.ID == "" {
			return nil, &types.ConfigurationError{Component: "signals", Field: "id", Reason: "registration without id"}
		}
		if _, dup := r.byID[reg.ID]; dup {
			return nil, &types.ConfigurationError{Component: "signals", Field: reg.ID, Reason: "duplicate registration"}
		}
		if !reg.Valence.Valid() {
			return nil, &types.ConfigurationError{Component: "signals", Field: reg.ID, Reason: fmt.Sprintf("invalid valence %d", reg.Valence)}
		}
		if !reg.DefaultSeverity.Valid() {
			return nil, &types.ConfigurationError{Component: "signals", Field: reg.ID, Reason: fmt.Sprintf("invalid severity %q", reg.DefaultSeverity)}
		}
		if reg.Magnitude < 0 || reg.Magnitude > 1 {
			return nil, &types.ConfigurationError{Component: "signals", Field: reg.ID, Reason: "magnitude outside [0, 1]"}
		}
		r.byID[reg.ID] = reg
		r.byEventType[reg.EventType] = append(r.byEventType[reg.EventType], reg)
		r.order = append(r.order, reg.ID)
	}
	return r, nil
}

// MustDefault returns the registry of DefaultRegistrations.
func MustDefault() *Registry {
	r, err := NewRegistry(DefaultRegistrations)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns all registrations matching the given event type.
func (r *Registry) Lookup(eventType string) []types.SignalRegistration {
	return r.byEventType[eventType]
}

// Get returns the registration for a signal type.
func (r *Registry) Get(signalType string) (types.SignalRegistration, bool) {
	reg, ok := r.byID[signalType]
	return reg, ok
}

// Valence returns the declared valence of a signal type.
func (r *Registry) Valence(signalType string) (types.Valence, bool) {
	reg, ok := r.byID[signalType]
	return reg.Valence, ok
}

// All returns every registration in declaration order.
func (r *Registry) All() []types.SignalRegistration {
	out := make([]types.SignalRegistration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// TypesWithValence returns the sorted ids of all types with valence v.
func (r *Registry) TypesWithValence(v types.Valence) []string {
	var ids []string
	for id, reg := range r.byID {
		if reg.Valence == v {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsAtLeastSeverity returns true if actual is at least as severe as minimum.
func IsAtLeastSeverity(actual, minimum types.Severity) bool {
	return actual.Rank() >= minimum.Rank()
}
