package signals

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/signalintel/internal/types"
)

// Observation is a raw fact reported by a data source, not yet classified.
type Observation struct {
	ObservationID string          `json:"observation_id"`
	EventType     string          `json:"event_type"`
	EntityType    string          `json:"entity_type,omitempty"`
	EntityID      string          `json:"entity_id"`
	Scope         types.Scope     `json:"scope"`
	ObservedAt    time.Time       `json:"observed_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Classify looks up the observation's event type and returns the matching
// registration. Registrations with a condition are tried first, matched
// against the payload; the first unconditional registration is the fallback.
//
// Returns ok=false if no registration matches the event type.
func (r *Registry) Classify(obs Observation) (reg types.SignalRegistration, ok bool) {
	registrations := r.Lookup(obs.EventType)
	if len(registrations) == 0 {
		return types.SignalRegistration{}, false
	}

	// Parse payload once for condition matching.
	var payload map[string]interface{}
	if len(obs.Payload) > 0 {
		_ = json.Unmarshal(obs.Payload, &payload)
	}

	var fallback *types.SignalRegistration
	for i := range registrations {
		candidate := &registrations[i]
		if candidate.Condition == "" {
			if fallback == nil {
				fallback = candidate
			}
			continue
		}
		if matchCondition(candidate.Condition, payload) {
			return *candidate, true
		}
	}

	if fallback != nil {
		return *fallback, true
	}
	return types.SignalRegistration{}, false
}

// ClassifyObservation classifies obs and builds the candidate signal it
// implies. A payload "severity" field overrides the registration default
// when it names a known tier.
func (r *Registry) ClassifyObservation(obs Observation, detectorID string) (types.Signal, bool) {
	reg, ok := r.Classify(obs)
	if !ok {
		return types.Signal{}, false
	}
	entityType := obs.EntityType
	if entityType == "" {
		entityType = reg.EntityType
	}
	severity := reg.DefaultSeverity
	var payload map[string]interface{}
	if len(obs.Payload) > 0 && json.Unmarshal(obs.Payload, &payload) == nil {
		if s, ok := payload["severity"].(string); ok && types.Severity(s).Valid() {
			severity = types.Severity(s)
		}
	}
	return types.Signal{
		ID:         uuid.New().String(),
		SignalType: reg.ID,
		Valence:    reg.Valence,
		Magnitude:  reg.Magnitude,
		Severity:   severity,
		EntityType: entityType,
		EntityID:   obs.EntityID,
		Scope:      obs.Scope,
		Status:     types.StatusActive,
		DetectedAt: obs.ObservedAt,
		DetectorID: detectorID,
		Evidence:   obs.Payload,
	}, true
}

// matchCondition performs simple condition matching against payload fields.
// Supports: "field == value", "field > N", "field < N", "field <= N", "field >= N"
func matchCondition(condition string, payload map[string]interface{}) bool {
	if payload == nil {
		return false
	}

	// Order matters: check two-char operators before single-char.
	for _, op := range []string{"<=", ">=", "==", "<", ">"} {
		parts := strings.SplitN(condition, op, 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		expected := strings.TrimSpace(parts[1])
		actual, exists := payload[key]
		if !exists {
			return false
		}
		if op == "==" {
			return valueEquals(actual, expected)
		}
		cmp, ok := valueCompare(actual, expected)
		if !ok {
			return false
		}
		switch op {
		case "<=":
			return cmp <= 0
		case ">=":
			return cmp >= 0
		case "<":
			return cmp < 0
		case ">":
			return cmp > 0
		}
	}

	return false
}

// valueEquals checks if a payload value matches the expected string.
func valueEquals(actual interface{}, expected string) bool {
	switch v := actual.(type) {
	case string:
		return v == expected
	case float64:
		ev, err := strconv.ParseFloat(expected, 64)
		if err != nil {
			return strconv.FormatFloat(v, 'f', -1, 64) == expected
		}
		return v == ev
	case bool:
		return (v && expected == "true") || (!v && expected == "false")
	default:
		return false
	}
}

// valueCompare compares actual to threshold numerically. ok is false when
// either side is not a number.
func valueCompare(actual interface{}, threshold string) (cmp int, ok bool) {
	av, isNum := actual.(float64)
	if !isNum {
		return 0, false
	}
	tv, err := strconv.ParseFloat(threshold, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case av < tv:
		return -1, true
	case av > tv:
		return 1, true
	}
	return 0, true
}
