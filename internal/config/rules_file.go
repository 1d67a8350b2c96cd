package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// AlertingFile is the declarative part of the configuration: alert rules,
// routing, escalation ladders, and the healing policy tables. It lives in a
// YAML file next to the process and can be reloaded at runtime.
type AlertingFile struct {
	Rules       []domain.Rule   `yaml:"rules"`
	Routing     RoutingFile     `yaml:"routing"`
	Correlation CorrelationFile `yaml:"correlation"`
	Escalation  EscalationFile  `yaml:"escalation"`
	Healing     HealingFile     `yaml:"healing"`
}

// CorrelationFile holds per-alert-type rate limit overrides.
type CorrelationFile struct {
	RateLimits map[string]domain.RateLimitRule `yaml:"rate_limits"`
}

// RoutingFile holds routing rules and per-alert-type channel defaults.
type RoutingFile struct {
	Rules []domain.RoutingRule `yaml:"rules"`

	// TypeDefaults replaces the severity fallback entirely for the listed
	// alert types.
	TypeDefaults map[string][]domain.NotificationChannel `yaml:"type_defaults"`
}

// EscalationFile holds the per-severity ladders and their recipients.
type EscalationFile struct {
	Policies []domain.EscalationPolicy `yaml:"policies"`
	Targets  []domain.EscalationTarget `yaml:"targets"`
}

// HealingFile holds the action catalog seed, issue patterns, and the
// confidence / impact / approval policy tables.
type HealingFile struct {
	Actions  []domain.HealingAction `yaml:"actions"`
	Patterns []domain.IssuePattern  `yaml:"patterns"`

	// ApprovalSettings maps action types to their manual-approval override.
	ApprovalSettings             map[string]domain.ApprovalSetting `yaml:"approval_settings"`
	BusinessHoursRequireApproval bool                              `yaml:"business_hours_require_approval"`

	ConfidenceWeights    ConfidenceWeights  `yaml:"confidence_weights"`
	ConfidenceThresholds map[string]float64 `yaml:"confidence_thresholds"`

	// DataCharacteristics maps factor name (volume, criticality,
	// complexity) to the confidence score per discrete level.
	DataCharacteristics map[string]map[string]float64 `yaml:"data_characteristics"`

	Impact ImpactTables `yaml:"impact"`
}

// ConfidenceWeights are the factor weights of the confidence score.
type ConfidenceWeights struct {
	Historical float64 `yaml:"historical"`
	Pattern    float64 `yaml:"pattern"`
	Data       float64 `yaml:"data"`
	Contextual float64 `yaml:"contextual"`
}

// ImpactTables hold category weights, per-action-type base scores, and the
// enumerated additive tables used by the impact analyzer.
type ImpactTables struct {
	Weights    map[domain.ImpactCategory]float64            `yaml:"weights"`
	ActionBase map[string]map[domain.ImpactCategory]float64 `yaml:"action_base"`

	// Adds maps table name (criticality, visibility, execution_time,
	// pipeline_criticality, compute, storage, cost) to its keyed additions.
	Adds map[string]map[string]float64 `yaml:"adds"`
}

// LoadAlertingFile reads, parses, validates, and defaults the alerting
// configuration file.
func LoadAlertingFile(path string) (*AlertingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alerting config: %w", err)
	}
	return ParseAlertingFile(data)
}

// ParseAlertingFile parses and validates alerting configuration bytes.
func ParseAlertingFile(data []byte) (*AlertingFile, error) {
	var f AlertingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse alerting config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	f.applyDefaults()
	return &f, nil
}

func (f *AlertingFile) validate() error {
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %q: %w", r.ID, domain.ErrDuplicateEntry)
		}
		seen[r.ID] = true
	}
	for _, rr := range f.Routing.Rules {
		if len(rr.Channels) == 0 {
			return fmt.Errorf("routing rule %q: no channels", rr.Name)
		}
	}
	for _, p := range f.Escalation.Policies {
		if !p.Severity.Valid() {
			return fmt.Errorf("escalation policy: unknown severity %q", p.Severity)
		}
	}
	for _, a := range f.Healing.Actions {
		if a.ID == "" || a.ActionType == "" {
			return fmt.Errorf("healing action %q: id and action_type are required", a.Name)
		}
	}
	return nil
}

func (f *AlertingFile) applyDefaults() {
	w := &f.Healing.ConfidenceWeights
	if w.Historical == 0 && w.Pattern == 0 && w.Data == 0 && w.Contextual == 0 {
		*w = ConfidenceWeights{Historical: 0.4, Pattern: 0.3, Data: 0.2, Contextual: 0.1}
	}
	if len(f.Healing.Impact.Weights) == 0 {
		f.Healing.Impact.Weights = map[domain.ImpactCategory]float64{
			domain.ImpactData:     0.4,
			domain.ImpactPipeline: 0.3,
			domain.ImpactBusiness: 0.2,
			domain.ImpactResource: 0.1,
		}
	}
	if len(f.Healing.Impact.Adds) == 0 {
		f.Healing.Impact.Adds = DefaultImpactAdds()
	}
	if len(f.Healing.DataCharacteristics) == 0 {
		f.Healing.DataCharacteristics = DefaultDataCharacteristics()
	}
}

// DefaultDataCharacteristics returns the shipped confidence mapping for
// data-shape factors: simple and small data is easier to heal safely.
func DefaultDataCharacteristics() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"volume":      {"low": 0.9, "medium": 0.7, "high": 0.5},
		"criticality": {"low": 0.8, "medium": 0.6, "high": 0.4},
		"complexity":  {"low": 0.9, "medium": 0.7, "high": 0.5},
	}
}

// DefaultImpactAdds returns the shipped additive tables for the impact
// analyzer: low adds nothing, medium 0.1, high 0.2. The business category
// starts from a criticality base instead of an action base.
func DefaultImpactAdds() map[string]map[string]float64 {
	scale := map[string]float64{"low": 0, "medium": 0.1, "high": 0.2}
	return map[string]map[string]float64{
		"criticality":          scale,
		"visibility":           scale,
		"execution_time":       scale,
		"pipeline_criticality": scale,
		"compute":              scale,
		"storage":              scale,
		"cost":                 scale,
		"criticality_base":     {"low": 0.2, "medium": 0.4, "high": 0.6},
	}
}

// PolicyFor returns the escalation policy for a severity, or nil when the
// file defines none.
func (f *EscalationFile) PolicyFor(severity domain.Severity) *domain.EscalationPolicy {
	for i := range f.Policies {
		if f.Policies[i].Severity == severity {
			return &f.Policies[i]
		}
	}
	return nil
}

// TargetFor returns the escalation target for a severity and level, or nil.
func (f *EscalationFile) TargetFor(severity domain.Severity, level int) *domain.EscalationTarget {
	for i := range f.Targets {
		if f.Targets[i].Severity == severity && f.Targets[i].Level == level {
			return &f.Targets[i]
		}
	}
	return nil
}
