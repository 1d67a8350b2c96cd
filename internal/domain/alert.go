package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an alert is.
type Severity string

// Alert severities, highest first
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// Rank returns the ordering weight of the severity, highest for critical.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert lifecycle states
const (
	AlertStatusNew          AlertStatus = "new"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSuppressed   AlertStatus = "suppressed"
)

// Terminal reports whether no further status transitions are allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusSuppressed
}

// CanTransitionTo reports whether the alert status DAG permits moving to next.
// New alerts may be acknowledged, resolved, or suppressed; acknowledged
// alerts may only be resolved.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertStatusNew:
		return next == AlertStatusAcknowledged || next == AlertStatusResolved || next == AlertStatusSuppressed
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	default:
		return false
	}
}

// Alert represents a detected condition worth human or automated attention
type Alert struct {
	ID          uuid.UUID              `json:"id" db:"id"`
	AlertType   string                 `json:"alert_type" db:"alert_type"` // 'rule_threshold', 'pipeline_failure', etc.
	Description string                 `json:"description" db:"description"`
	Severity    Severity               `json:"severity" db:"severity"`
	Status      AlertStatus            `json:"status" db:"status"`
	Component   string                 `json:"component,omitempty" db:"component"`
	ExecutionID string                 `json:"execution_id,omitempty" db:"execution_id"`
	Context     map[string]interface{} `json:"context" db:"context"`

	// Correlation
	RelatedAlerts []uuid.UUID `json:"related_alerts" db:"related_alerts"`

	// Delivery (append-only, completion order)
	Notifications []NotificationAttempt `json:"notifications" db:"notifications"`

	// Transition details, set once on the corresponding transition
	AcknowledgmentDetails map[string]interface{} `json:"acknowledgment_details,omitempty" db:"acknowledgment_details"`
	ResolutionDetails     map[string]interface{} `json:"resolution_details,omitempty" db:"resolution_details"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// NotificationAttempt records one delivery attempt to one channel recipient.
// Owned by the parent alert, append-only.
type NotificationAttempt struct {
	Channel   NotificationChannel `json:"channel" db:"channel"`
	Recipient string              `json:"recipient" db:"recipient"`
	Success   bool                `json:"success" db:"success"`
	Details   string              `json:"details,omitempty" db:"details"`
	Timestamp time.Time           `json:"timestamp" db:"timestamp"`
}

// NotificationChannel identifies a delivery transport.
type NotificationChannel string

// Supported delivery channels
const (
	ChannelTeams NotificationChannel = "teams"
	ChannelEmail NotificationChannel = "email"
	ChannelSlack NotificationChannel = "slack"
)

// DeliveryResult describes the outcome of dispatching one message on one
// channel.
type DeliveryResult struct {
	Channel      NotificationChannel `json:"channel"`
	Success      bool                `json:"success"`
	Recipients   []string            `json:"recipients,omitempty"`
	Details      string              `json:"details,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// NotificationMessage is the channel-independent payload handed to the
// notification router. Transports render it to their own wire formats.
type NotificationMessage struct {
	NotificationID string                 `json:"notification_id"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Severity       Severity               `json:"severity"`
	AlertType      string                 `json:"alert_type,omitempty"`
	Component      string                 `json:"component,omitempty"`
	ExecutionID    string                 `json:"execution_id,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty"`

	// Recipients overrides the configured default recipients on channels
	// that address individuals, such as email.
	Recipients []string  `json:"recipients,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlertGroup is an open set of correlated alerts sharing a correlation key.
// The first member becomes the primary; later members are suppression
// candidates while the primary is still open.
type AlertGroup struct {
	ID             uuid.UUID   `json:"id"`
	PrimaryAlertID uuid.UUID   `json:"primary_alert_id"`
	AlertType      string      `json:"alert_type"`
	Component      string      `json:"component,omitempty"`
	ExecutionID    string      `json:"execution_id,omitempty"`
	Members        []uuid.UUID `json:"members"`
	OpenedAt       time.Time   `json:"opened_at"`
	LastAlertAt    time.Time   `json:"last_alert_at"`

	// Context snapshot of the primary, used for attribute-overlap matching
	Context map[string]interface{} `json:"context,omitempty"`
}

// EscalationPolicy is the per-severity ladder of escalation levels.
// Timeframes gives, per level, the minutes an alert must remain
// unacknowledged before that level fires.
type EscalationPolicy struct {
	Severity   Severity    `json:"severity" yaml:"severity"`
	Levels     []int       `json:"levels" yaml:"levels"`
	Timeframes map[int]int `json:"timeframes" yaml:"timeframes"`
}

// LevelFor returns the highest level whose timeframe has elapsed, or 0 if
// none has.
func (p EscalationPolicy) LevelFor(elapsedMinutes float64) int {
	level := 0
	for _, l := range p.Levels {
		minutes, ok := p.Timeframes[l]
		if !ok {
			continue
		}
		if elapsedMinutes >= float64(minutes) && l > level {
			level = l
		}
	}
	return level
}

// RateLimitRule is a per-alert-type suppression rate limit: more than
// Count alerts of one (alert_type, component) inside the window suppresses
// the surplus.
type RateLimitRule struct {
	Count         int `json:"count" yaml:"count"`
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"`
}

// EscalationTarget names the channels and recipients for one severity and
// escalation level.
type EscalationTarget struct {
	Severity   Severity              `json:"severity" yaml:"severity"`
	Level      int                   `json:"level" yaml:"level"`
	Channels   []NotificationChannel `json:"channels" yaml:"channels"`
	Recipients []string              `json:"recipients" yaml:"recipients"`
}

// AlertFilter narrows alert listings. Nil or zero fields match everything.
type AlertFilter struct {
	Status      *AlertStatus `json:"status,omitempty"`
	Severity    *Severity    `json:"severity,omitempty"`
	AlertType   string       `json:"alert_type,omitempty"`
	Component   string       `json:"component,omitempty"`
	ExecutionID string       `json:"execution_id,omitempty"`
	Since       *time.Time   `json:"since,omitempty"`
	Until       *time.Time   `json:"until,omitempty"`
	Limit       int          `json:"limit,omitempty"`
	Offset      int          `json:"offset,omitempty"`
}
