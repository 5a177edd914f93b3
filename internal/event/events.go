// Package event defines the domain events the engine emits during a cycle.
// Events are published to the in-process bus after the state change they
// describe has been stored.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/signalintel/internal/types"
)

// Event types.
const (
	TypeSignalStored      = "signal_stored"
	TypeSignalCleared     = "signal_cleared"
	TypeSeverityEscalated = "severity_escalated"
	TypeSignalBalanced    = "signal_balanced"
	TypeIssueTransitioned = "issue_transitioned"
	TypeDetectorFailed    = "detector_failed"
)

// DomainEvent carries the canonical shape of every engine event.
type DomainEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Summary    string          `json:"summary"`
	Severity   types.Severity  `json:"severity,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, DomainEvent) {}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// ── Signal events ────────────────────────────────────────────────────────────

// SignalStoredPayload carries event-specific data for SignalStored.
type SignalStoredPayload struct {
	SignalID   string        `json:"signal_id"`
	SignalType string        `json:"signal_type"`
	Valence    types.Valence `json:"valence"`
	DetectorID string        `json:"detector_id"`
}

func NewSignalStored(sig types.Signal, at time.Time) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSignalStored,
		OccurredAt: at,
		EntityType: sig.EntityType,
		EntityID:   sig.EntityID,
		Summary:    fmt.Sprintf("%s raised on %s %s", sig.SignalType, sig.EntityType, sig.EntityID),
		Severity:   sig.Severity,
		Payload: mustJSON(SignalStoredPayload{
			SignalID:   sig.ID,
			SignalType: sig.SignalType,
			Valence:    sig.Valence,
			DetectorID: sig.DetectorID,
		}),
	}
}

// SignalClearedPayload carries event-specific data for SignalCleared.
type SignalClearedPayload struct {
	SignalKey      string `json:"signal_key"`
	ResolutionType string `json:"resolution_type"`
}

func NewSignalCleared(rec types.LifecycleRecord, at time.Time) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSignalCleared,
		OccurredAt: at,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Summary:    fmt.Sprintf("%s no longer detected", rec.SignalKey),
		Severity:   rec.Severity,
		Payload:    mustJSON(SignalClearedPayload{SignalKey: rec.SignalKey, ResolutionType: rec.ResolutionType}),
	}
}

// SeverityEscalatedPayload carries event-specific data for SeverityEscalated.
type SeverityEscalatedPayload struct {
	SignalKey          string         `json:"signal_key"`
	From               types.Severity `json:"from"`
	To                 types.Severity `json:"to"`
	BusinessDaysActive int            `json:"business_days_active"`
}

func NewSeverityEscalated(p SeverityEscalatedPayload, entityType, entityID string, at time.Time) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSeverityEscalated,
		OccurredAt: at,
		EntityType: entityType,
		EntityID:   entityID,
		Summary: fmt.Sprintf("%s escalated %s → %s after %d business days",
			p.SignalKey, p.From, p.To, p.BusinessDaysActive),
		Severity: p.To,
		Payload:  mustJSON(p),
	}
}

// ── Balance events ───────────────────────────────────────────────────────────

// SignalBalancedPayload carries event-specific data for SignalBalanced.
type SignalBalancedPayload struct {
	NegativeID   string `json:"negative_id"`
	NegativeType string `json:"negative_type"`
	PositiveID   string `json:"positive_id"`
	PositiveType string `json:"positive_type"`
}

func NewSignalBalanced(negative, positive types.Signal, at time.Time) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeSignalBalanced,
		OccurredAt: at,
		EntityType: negative.EntityType,
		EntityID:   negative.EntityID,
		Summary:    fmt.Sprintf("%s balanced by %s", negative.SignalType, positive.SignalType),
		Severity:   negative.Severity,
		Payload: mustJSON(SignalBalancedPayload{
			NegativeID:   negative.ID,
			NegativeType: negative.SignalType,
			PositiveID:   positive.ID,
			PositiveType: positive.SignalType,
		}),
	}
}

// IssueTransitionedPayload carries event-specific data for IssueTransitioned.
type IssueTransitionedPayload struct {
	IssueID          string           `json:"issue_id"`
	From             types.IssueState `json:"from"`
	To               types.IssueState `json:"to"`
	NetScore         float64          `json:"net_score"`
	ResolutionMethod string           `json:"resolution_method,omitempty"`
}

func NewIssueTransitioned(p IssueTransitionedPayload, at time.Time) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeIssueTransitioned,
		OccurredAt: at,
		EntityType: "issue",
		EntityID:   p.IssueID,
		Summary:    fmt.Sprintf("issue %s %s → %s (net %.2f)", p.IssueID, p.From, p.To, p.NetScore),
		Payload:    mustJSON(p),
	}
}

// ── Detection events ─────────────────────────────────────────────────────────

func NewDetectorFailed(f types.DetectorFailure, at time.Time) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeDetectorFailed,
		OccurredAt: at,
		EntityType: "detector",
		EntityID:   f.DetectorID,
		Summary:    f.Error(),
		Payload:    mustJSON(f),
	}
}
