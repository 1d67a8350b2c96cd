package domain

import (
	"time"

	"github.com/google/uuid"
)

// HealingMode gates whether selected resolutions are executed, recommended,
// or withheld entirely.
type HealingMode string

// Healing modes
const (
	HealingDisabled           HealingMode = "disabled"
	HealingRecommendationOnly HealingMode = "recommendation_only"
	HealingSemiAutomatic      HealingMode = "semi_automatic"
	HealingAutomatic          HealingMode = "automatic"
)

// Valid reports whether m is a recognized healing mode.
func (m HealingMode) Valid() bool {
	switch m {
	case HealingDisabled, HealingRecommendationOnly, HealingSemiAutomatic, HealingAutomatic:
		return true
	}
	return false
}

// ApprovalSetting is the per-action-type manual approval override.
type ApprovalSetting string

// Per-action approval settings
const (
	ApprovalAlways         ApprovalSetting = "always"
	ApprovalNever          ApprovalSetting = "never"
	ApprovalHighImpactOnly ApprovalSetting = "high_impact_only"
	ApprovalCriticalOnly   ApprovalSetting = "critical_only"
)

// HealingAction is a catalog entry describing one automated remediation
// available for an action type.
type HealingAction struct {
	ID          string                 `json:"id" yaml:"id" db:"id"`
	ActionType  string                 `json:"action_type" yaml:"action_type" db:"action_type"` // 'data_quality_fix', 'pipeline_retry', 'resource_scaling', etc.
	Name        string                 `json:"name" yaml:"name" db:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty" db:"description"`
	Parameters  map[string]interface{} `json:"parameters" yaml:"parameters,omitempty" db:"parameters"`
	Enabled     bool                   `json:"enabled" yaml:"enabled" db:"enabled"`
	CreatedAt   time.Time              `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"-" db:"updated_at"`
}

// ConfidenceScore is a bounded [0,1] estimate that a healing action will
// succeed for a given issue, with its weighted factors.
type ConfidenceScore struct {
	Overall             float64                `json:"overall"`
	HistoricalSuccess   float64                `json:"historical_success"`
	PatternMatch        float64                `json:"pattern_match"`
	DataCharacteristics float64                `json:"data_characteristics"`
	Contextual          float64                `json:"contextual"`
	SampleCount         int                    `json:"sample_count"`
	Details             map[string]interface{} `json:"details,omitempty"`
}

// ImpactCategory is one dimension of the blast radius of an action.
type ImpactCategory string

// Impact categories
const (
	ImpactData     ImpactCategory = "data"
	ImpactPipeline ImpactCategory = "pipeline"
	ImpactBusiness ImpactCategory = "business"
	ImpactResource ImpactCategory = "resource"
)

// ImpactLevel buckets an overall impact score.
type ImpactLevel string

// Impact levels
const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// ImpactLevelFor maps an overall impact score to its level.
func ImpactLevelFor(score float64) ImpactLevel {
	switch {
	case score < 0.3:
		return ImpactLow
	case score < 0.6:
		return ImpactMedium
	case score < 0.8:
		return ImpactHigh
	default:
		return ImpactCritical
	}
}

// ImpactAnalysis is the multi-category impact estimate for one candidate
// action.
type ImpactAnalysis struct {
	Overall    float64                    `json:"overall"`
	Level      ImpactLevel                `json:"level"`
	Categories map[ImpactCategory]float64 `json:"categories"`
	Details    map[string]interface{}     `json:"details,omitempty"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

// Approval lifecycle states
const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
// Everything except pending is terminal.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalStatusPending
}

// ApprovalRequest is a durable record mediating human sign-off on a risky
// or low-confidence resolution.
type ApprovalRequest struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	ActionID         string                 `json:"action_id" db:"action_id"`
	ActionType       string                 `json:"action_type" db:"action_type"`
	IssueID          string                 `json:"issue_id" db:"issue_id"`
	IssueDescription string                 `json:"issue_description,omitempty" db:"issue_description"`
	ActionDetails    map[string]interface{} `json:"action_details,omitempty" db:"action_details"`
	ConfidenceScore  float64                `json:"confidence_score" db:"confidence_score"`
	ImpactScore      float64                `json:"impact_score" db:"impact_score"`
	ImpactLevel      ImpactLevel            `json:"impact_level" db:"impact_level"`
	Status           ApprovalStatus         `json:"status" db:"status"`
	Requester        string                 `json:"requester" db:"requester"`
	Approver         *string                `json:"approver,omitempty" db:"approver"`
	RejectionReason  *string                `json:"rejection_reason,omitempty" db:"rejection_reason"`
	Context          map[string]interface{} `json:"context,omitempty" db:"context"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
	ExpiresAt        time.Time              `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the request's TTL has elapsed at now.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ResolutionStatus is the lifecycle state of a resolution.
type ResolutionStatus string

// Resolution lifecycle states
const (
	ResolutionStatusPending          ResolutionStatus = "pending"
	ResolutionStatusInProgress       ResolutionStatus = "in_progress"
	ResolutionStatusSuccess          ResolutionStatus = "success"
	ResolutionStatusFailed           ResolutionStatus = "failed"
	ResolutionStatusApprovalRequired ResolutionStatus = "approval_required"
)

// Terminal reports whether the resolution can no longer change state.
func (s ResolutionStatus) Terminal() bool {
	return s == ResolutionStatusSuccess || s == ResolutionStatusFailed
}

// Resolution is a selected, approved-or-not, possibly executed healing
// action for one issue.
type Resolution struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	IssueID          string                 `json:"issue_id" db:"issue_id"`
	ActionID         string                 `json:"action_id" db:"action_id"`
	ActionType       string                 `json:"action_type" db:"action_type"`
	ActionDetails    map[string]interface{} `json:"action_details,omitempty" db:"action_details"`
	Status           ResolutionStatus       `json:"status" db:"status"`
	ConfidenceScore  float64                `json:"confidence_score" db:"confidence_score"`
	Impact           *ImpactAnalysis        `json:"impact_analysis,omitempty" db:"impact_analysis"`
	RequiresApproval bool                   `json:"requires_approval" db:"requires_approval"`

	// RecommendationOnly marks resolutions produced while healing runs in
	// recommendation mode; they are never dispatched to an executor.
	RecommendationOnly bool                   `json:"recommendation_only" db:"recommendation_only"`
	ApprovalID         *uuid.UUID             `json:"approval_id,omitempty" db:"approval_id"`
	ApprovalStatus     *ApprovalStatus        `json:"approval_status,omitempty" db:"approval_status"`
	AttemptCount       int                    `json:"attempt_count" db:"attempt_count"`
	Metadata           map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	ExecutedAt         *time.Time             `json:"executed_at,omitempty" db:"executed_at"`
	ExecutionResult    map[string]interface{} `json:"execution_result,omitempty" db:"execution_result"`
	CreatedAt          time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at" db:"updated_at"`
}

// ActionOutcome is one historical attempt of a healing action. The
// confidence scorer consumes these to compute the historical factor.
type ActionOutcome struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	ActionType string                 `json:"action_type" db:"action_type"`
	ActionID   string                 `json:"action_id" db:"action_id"`
	IssueID    string                 `json:"issue_id" db:"issue_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty" db:"parameters"`
	Success    bool                   `json:"success" db:"success"`
	ExecutedAt time.Time              `json:"executed_at" db:"executed_at"`
}

// IssuePattern is a known issue signature with its canonical action,
// consumed by the pattern-match confidence factor.
type IssuePattern struct {
	ID              string                 `json:"id" yaml:"id"`
	Name            string                 `json:"name" yaml:"name"`
	ActionType      string                 `json:"action_type" yaml:"action_type"`
	CanonicalAction string                 `json:"canonical_action" yaml:"canonical_action"`
	Attributes      map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Issue describes a detected problem the self-healing layer may act on.
type Issue struct {
	ID          string                 `json:"issue_id"`
	ActionType  string                 `json:"action_type"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}
