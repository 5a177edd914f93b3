// Package types provides the Go structs shared by every layer of the signal
// intelligence engine. JSON-encoded columns (escalation history, issue signal
// sets, evidence payloads) are typed here and only encoded at the store boundary.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Valence is the polarity of a signal: -1 negative, 0 neutral, +1 positive.
type Valence int

const (
	ValenceNegative Valence = -1
	ValenceNeutral  Valence = 0
	ValencePositive Valence = 1
)

// String returns the polarity label used in summaries and logs.
func (v Valence) String() string {
	switch v {
	case ValenceNegative:
		return "negative"
	case ValencePositive:
		return "positive"
	default:
		return "neutral"
	}
}

// Valid reports whether v is one of -1, 0, +1.
func (v Valence) Valid() bool {
	return v >= ValenceNegative && v <= ValencePositive
}

// Severity is the urgency tier of a signal. Rank order: watch < warning < critical.
type Severity string

const (
	SeverityWatch    Severity = "watch"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// LowestSeverity is the tier auto-escalation promotes from.
const LowestSeverity = SeverityWatch

var severityRank = map[Severity]int{
	SeverityWatch:    1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// Rank returns the numeric rank of s (higher = more severe). Unknown severities rank 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is a known tier.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Next returns the tier one step above s. Critical has no next tier.
func (s Severity) Next() (Severity, bool) {
	switch s {
	case SeverityWatch:
		return SeverityWarning, true
	case SeverityWarning:
		return SeverityCritical, true
	default:
		return s, false
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SignalStatus is the storage status of a signal.
type SignalStatus string

const (
	StatusActive   SignalStatus = "active"
	StatusBalanced SignalStatus = "balanced"
	StatusConsumed SignalStatus = "consumed"
	StatusArchived SignalStatus = "archived"
	StatusResolved SignalStatus = "resolved"
)

// Scope holds the hierarchy ids a signal belongs to. Any level may be unknown.
type Scope struct {
	ClientID   *string `json:"scope_client_id,omitempty"`
	BrandID    *string `json:"scope_brand_id,omitempty"`
	ProjectID  *string `json:"scope_project_id,omitempty"`
	RetainerID *string `json:"scope_retainer_id,omitempty"`
	TaskID     *string `json:"scope_task_id,omitempty"`
}

// Signal is an atomic, timestamped observation about an entity.
type Signal struct {
	ID         string          `json:"id"`
	SignalType string          `json:"signal_type"`
	Valence    Valence         `json:"valence"`
	Magnitude  float64         `json:"magnitude"`
	Severity   Severity        `json:"severity"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Scope      Scope           `json:"scope"`
	Status     SignalStatus    `json:"status"`
	DetectedAt time.Time       `json:"detected_at"`
	DetectorID string          `json:"detector_id,omitempty"`
	BalancedBy string          `json:"balanced_by,omitempty"`
	BalancedAt *time.Time      `json:"balanced_at,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Evidence   json.RawMessage `json:"evidence,omitempty"`
}

// Key returns the lifecycle/suppression key for this signal.
func (s Signal) Key() string {
	return SignalKey(s.SignalType, s.EntityType, s.EntityID)
}

// SignalKey builds the durable key that identifies one signal type on one entity.
func SignalKey(signalType, entityType, entityID string) string {
	return signalType + ":" + entityType + ":" + entityID
}

// ParseSignalKey splits a key built by SignalKey. The entity id may itself
// contain colons.
func ParseSignalKey(key string) (signalType, entityType, entityID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// EscalationEntry is one severity change in a lifecycle record's history.
type EscalationEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	OldSeverity    Severity  `json:"old_severity"`
	NewSeverity    Severity  `json:"new_severity"`
	DetectionCount int       `json:"detection_count"`
}

// LifecycleRecord is the persisted lifecycle state of one signal key.
type LifecycleRecord struct {
	SignalKey         string            `json:"signal_key"`
	SignalType        string            `json:"signal_type"`
	EntityType        string            `json:"entity_type"`
	EntityID          string            `json:"entity_id"`
	Severity          Severity          `json:"severity"` // current severity
	DetectedAt        time.Time         `json:"detected_at"`
	FirstDetectedAt   time.Time         `json:"first_detected_at"`
	DetectionCount    int               `json:"detection_count"`
	ConsecutiveCycles int               `json:"consecutive_cycles"`
	InitialSeverity   Severity          `json:"initial_severity"`
	PeakSeverity      Severity          `json:"peak_severity"`
	EscalationHistory []EscalationEntry `json:"escalation_history"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	ResolutionType    string            `json:"resolution_type,omitempty"`
}

// IsResolved reports whether the record has been cleared and not re-detected since.
func (r LifecycleRecord) IsResolved() bool {
	return r.ResolvedAt != nil
}

// SuppressionReason explains why a signal key was suppressed.
type SuppressionReason string

const (
	ReasonUserDismiss      SuppressionReason = "user_dismiss"
	ReasonAutoDeprioritize SuppressionReason = "auto_deprioritize"
	ReasonDuplicate        SuppressionReason = "duplicate"
	ReasonResolved         SuppressionReason = "resolved"
)

// Valid reports whether r is a known reason.
func (r SuppressionReason) Valid() bool {
	switch r {
	case ReasonUserDismiss, ReasonAutoDeprioritize, ReasonDuplicate, ReasonResolved:
		return true
	}
	return false
}

// SuppressionRecord is one suppression window for a signal key.
type SuppressionRecord struct {
	ID           string            `json:"id"`
	SignalKey    string            `json:"signal_key"`
	EntityType   string            `json:"entity_type"`
	EntityID     string            `json:"entity_id"`
	Reason       SuppressionReason `json:"reason"`
	SuppressedAt time.Time         `json:"suppressed_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	DismissCount int               `json:"dismiss_count"`
	IsActive     bool              `json:"is_active"`
}

// SuppressionEventType is the kind of entry in the raised/dismissed ledger.
type SuppressionEventType string

const (
	EventRaised    SuppressionEventType = "raised"
	EventDismissed SuppressionEventType = "dismissed"
)

// SuppressionEvent is one append-only ledger entry backing dismiss-rate statistics.
type SuppressionEvent struct {
	SignalKey string               `json:"signal_key"`
	EventType SuppressionEventType `json:"event_type"`
	CreatedAt time.Time            `json:"created_at"`
}

// IssueState is the workflow state of an issue.
type IssueState string

const (
	IssueSurfaced     IssueState = "surfaced"
	IssueAcknowledged IssueState = "acknowledged"
	IssueAddressing   IssueState = "addressing"
	IssueMonitoring   IssueState = "monitoring"
	IssueClosed       IssueState = "closed"
)

// IssueBalance holds the decayed balance fields recomputed by the balance service.
type IssueBalance struct {
	NegativeMagnitude float64    `json:"balance_negative_magnitude"`
	PositiveMagnitude float64    `json:"balance_positive_magnitude"`
	NetScore          float64    `json:"balance_net_score"`
	NegativeCount     int        `json:"balance_negative_count"`
	PositiveCount     int        `json:"balance_positive_count"`
	CalculatedAt      *time.Time `json:"balance_calculated_at,omitempty"`
}

// Issue groups signals that together describe a problem being worked on.
type Issue struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	SignalIDs        []string     `json:"signal_ids"`
	State            IssueState   `json:"state"`
	Balance          IssueBalance `json:"balance"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
	ResolutionMethod string       `json:"resolution_method,omitempty"`
	MonitoringUntil  *time.Time   `json:"monitoring_until,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// HasSignal reports whether id is one of the issue's signals.
func (i Issue) HasSignal(id string) bool {
	for _, s := range i.SignalIDs {
		if s == id {
			return true
		}
	}
	return false
}

// ─── Signal Registry Types ─────────────────────────────────────────────────────

// SignalRegistration declares one signal type the engine knows about.
type SignalRegistration struct {
	ID              string   `json:"id"`
	EventType       string   `json:"event_type"`
	Condition       string   `json:"condition,omitempty"`
	Category        string   `json:"category"`
	Valence         Valence  `json:"valence"`
	DefaultSeverity Severity `json:"default_severity"`
	Magnitude       float64  `json:"magnitude"`
	EntityType      string   `json:"entity_type"`
	Description     string   `json:"description"`
}

// TypeSummary aggregates the active signals of one type on an entity.
type TypeSummary struct {
	SignalType  string         `json:"signal_type"`
	Category    string         `json:"category"`
	SignalCount int            `json:"signal_count"`
	BySeverity  map[string]int `json:"by_severity"`
	Valence     Valence        `json:"valence"`
}

// EntitySummary is the pre-aggregated signal overview for an entity.
type EntitySummary struct {
	EntityType       string                 `json:"entity_type"`
	EntityID         string                 `json:"entity_id"`
	AsOf             time.Time              `json:"as_of"`
	Types            map[string]TypeSummary `json:"types"`
	ByValence        map[string]int         `json:"by_valence"`
	DominantPolarity string                 `json:"dominant_polarity"`
	WeightedScore    float64                `json:"weighted_score"`
	Trend            string                 `json:"trend"` // "improving", "stable", "declining"
	OverallSentiment string                 `json:"overall_sentiment"`
	SentimentReason  string                 `json:"sentiment_reason"`
}
