package domain

import (
	"time"

	"gopkg.in/yaml.v3"
)

// RuleType identifies the semantic family of an alert rule.
type RuleType string

// Rule families
const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypeTrend     RuleType = "trend"
	RuleTypeAnomaly   RuleType = "anomaly"
	RuleTypeCompound  RuleType = "compound"
	RuleTypeEvent     RuleType = "event"
	RuleTypePattern   RuleType = "pattern"
)

// AppliesToMetrics reports whether rules of this family evaluate metric maps.
func (t RuleType) AppliesToMetrics() bool {
	switch t {
	case RuleTypeThreshold, RuleTypeTrend, RuleTypeAnomaly, RuleTypeCompound:
		return true
	}
	return false
}

// AppliesToEvents reports whether rules of this family evaluate events.
func (t RuleType) AppliesToEvents() bool {
	return t == RuleTypeEvent || t == RuleTypePattern
}

// CompareOp is a comparison operator used in rule and routing conditions.
type CompareOp string

// Comparison operators
const (
	OpEqual          CompareOp = "=="
	OpNotEqual       CompareOp = "!="
	OpGreater        CompareOp = ">"
	OpGreaterOrEqual CompareOp = ">="
	OpLess           CompareOp = "<"
	OpLessOrEqual    CompareOp = "<="
)

// Valid reports whether op is a recognized comparison operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		return true
	}
	return false
}

// LogicalOp combines operands of a compound condition.
type LogicalOp string

// Logical operators
const (
	LogicalAnd LogicalOp = "AND"
	LogicalOr  LogicalOp = "OR"
	LogicalNot LogicalOp = "NOT"
)

// TrendType selects how a trend rule measures change over a series.
type TrendType string

// Trend measurements
const (
	TrendSlope          TrendType = "slope"
	TrendPercentChange  TrendType = "percent_change"
	TrendAbsoluteChange TrendType = "absolute_change"
)

// TrendDirection qualifies which way a trend must point to trigger.
type TrendDirection string

// Trend directions
const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendAny        TrendDirection = "any"
)

// MatchType selects how a pattern rule matches the target field.
type MatchType string

// Pattern match types
const (
	MatchRegex      MatchType = "regex"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchEndsWith   MatchType = "ends_with"
)

// ThresholdCondition compares the value at a metric path against a constant.
type ThresholdCondition struct {
	MetricPath string      `json:"metric_path" yaml:"metric_path"`
	Operator   CompareOp   `json:"operator" yaml:"operator"`
	Value      interface{} `json:"value" yaml:"value"`
}

// TrendCondition checks the direction and magnitude of change over the
// trailing window of a metric series.
type TrendCondition struct {
	MetricPath string         `json:"metric_path" yaml:"metric_path"`
	Window     int            `json:"window" yaml:"window"`
	TrendType  TrendType      `json:"trend_type" yaml:"trend_type"`
	Threshold  float64        `json:"threshold" yaml:"threshold"`
	Direction  TrendDirection `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// AnomalyCondition hands a metric series to the anomaly detector.
type AnomalyCondition struct {
	MetricPath    string  `json:"metric_path" yaml:"metric_path"`
	Sensitivity   float64 `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`       // default 2.0
	Algorithm     string  `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`           // default 'z_score'
	MinDataPoints int     `json:"min_data_points,omitempty" yaml:"min_data_points,omitempty"` // default 5
}

// CompoundCondition combines child conditions with a logical operator.
// NOT takes exactly one child; AND and OR short-circuit.
type CompoundCondition struct {
	Operator   LogicalOp       `json:"operator" yaml:"operator"`
	Conditions []ConditionNode `json:"conditions" yaml:"conditions"`
}

// ConditionNode is one operand of a compound condition: either a leaf
// metric comparison or a nested compound.
type ConditionNode struct {
	MetricPath string      `json:"metric_path,omitempty" yaml:"metric_path,omitempty"`
	Operator   CompareOp   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	Compound *CompoundCondition `json:"compound,omitempty" yaml:"compound,omitempty"`
}

// IsCompound reports whether the node is a nested compound rather than a leaf.
func (n ConditionNode) IsCompound() bool {
	return n.Compound != nil
}

// PropertyMatch is a per-property condition on an event. An empty operator
// means equality.
type PropertyMatch struct {
	Operator CompareOp   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value" yaml:"value"`
}

// EventCondition matches events by type, optional source, and properties.
type EventCondition struct {
	EventType   string                   `json:"event_type" yaml:"event_type"`
	EventSource string                   `json:"event_source,omitempty" yaml:"event_source,omitempty"`
	Properties  map[string]PropertyMatch `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// PatternCondition matches a string pattern against a field of the event.
type PatternCondition struct {
	Pattern   string    `json:"pattern" yaml:"pattern"`
	Field     string    `json:"field" yaml:"field"`
	MatchType MatchType `json:"match_type" yaml:"match_type"`
}

// Conditions is the typed payload of a rule. Exactly one member is set and
// it must match the rule type.
type Conditions struct {
	Threshold *ThresholdCondition `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Trend     *TrendCondition     `json:"trend,omitempty" yaml:"trend,omitempty"`
	Anomaly   *AnomalyCondition   `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
	Compound  *CompoundCondition  `json:"compound,omitempty" yaml:"compound,omitempty"`
	Event     *EventCondition     `json:"event,omitempty" yaml:"event,omitempty"`
	Pattern   *PatternCondition   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Rule is a declarative alerting rule. Rules are immutable during
// evaluation; mutations go through the engine, which re-validates.
type Rule struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	RuleType    RuleType          `json:"rule_type" yaml:"rule_type"`
	Conditions  Conditions        `json:"conditions" yaml:"conditions"`
	Severity    Severity          `json:"severity" yaml:"severity"`
	Actions     []string          `json:"actions,omitempty" yaml:"actions,omitempty"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Group returns the rule's group name from metadata, or "" when ungrouped.
func (r *Rule) Group() string {
	return r.Metadata["group"]
}

// Validate checks the per-family required fields. It returns
// ValidationErrors listing every violation.
func (r *Rule) Validate() error {
	var errs ValidationErrors

	if r.ID == "" {
		errs.Add("id", "rule id is required")
	}
	if r.Name == "" {
		errs.Add("name", "rule name is required")
	}
	if !r.Severity.Valid() {
		errs.Add("severity", "unknown severity "+string(r.Severity))
	}

	switch r.RuleType {
	case RuleTypeThreshold:
		c := r.Conditions.Threshold
		if c == nil {
			errs.Add("conditions.threshold", "threshold conditions are required")
			break
		}
		if c.MetricPath == "" {
			errs.Add("conditions.threshold.metric_path", "metric_path is required")
		}
		if !c.Operator.Valid() {
			errs.Add("conditions.threshold.operator", "unknown operator "+string(c.Operator))
		}
		if c.Value == nil {
			errs.Add("conditions.threshold.value", "value is required")
		}
	case RuleTypeTrend:
		c := r.Conditions.Trend
		if c == nil {
			errs.Add("conditions.trend", "trend conditions are required")
			break
		}
		if c.MetricPath == "" {
			errs.Add("conditions.trend.metric_path", "metric_path is required")
		}
		if c.Window < 2 {
			errs.Add("conditions.trend.window", "window must be at least 2 points")
		}
		switch c.TrendType {
		case TrendSlope, TrendPercentChange, TrendAbsoluteChange:
		default:
			errs.Add("conditions.trend.trend_type", "unknown trend_type "+string(c.TrendType))
		}
		switch c.Direction {
		case "", TrendIncreasing, TrendDecreasing, TrendAny:
		default:
			errs.Add("conditions.trend.direction", "unknown direction "+string(c.Direction))
		}
	case RuleTypeAnomaly:
		c := r.Conditions.Anomaly
		if c == nil {
			errs.Add("conditions.anomaly", "anomaly conditions are required")
			break
		}
		if c.MetricPath == "" {
			errs.Add("conditions.anomaly.metric_path", "metric_path is required")
		}
		if c.Sensitivity < 0 {
			errs.Add("conditions.anomaly.sensitivity", "sensitivity must not be negative")
		}
	case RuleTypeCompound:
		c := r.Conditions.Compound
		if c == nil {
			errs.Add("conditions.compound", "compound conditions are required")
			break
		}
		validateCompound(c, "conditions.compound", &errs)
	case RuleTypeEvent:
		c := r.Conditions.Event
		if c == nil {
			errs.Add("conditions.event", "event conditions are required")
			break
		}
		if c.EventType == "" {
			errs.Add("conditions.event.event_type", "event_type is required")
		}
		for field, m := range c.Properties {
			if m.Operator != "" && !m.Operator.Valid() {
				errs.Add("conditions.event.properties."+field, "unknown operator "+string(m.Operator))
			}
		}
	case RuleTypePattern:
		c := r.Conditions.Pattern
		if c == nil {
			errs.Add("conditions.pattern", "pattern conditions are required")
			break
		}
		if c.Pattern == "" {
			errs.Add("conditions.pattern.pattern", "pattern is required")
		}
		if c.Field == "" {
			errs.Add("conditions.pattern.field", "field is required")
		}
		switch c.MatchType {
		case MatchRegex, MatchContains, MatchStartsWith, MatchEndsWith:
		default:
			errs.Add("conditions.pattern.match_type", "unknown match_type "+string(c.MatchType))
		}
	default:
		errs.Add("rule_type", "unknown rule_type "+string(r.RuleType))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateCompound(c *CompoundCondition, path string, errs *ValidationErrors) {
	switch c.Operator {
	case LogicalAnd, LogicalOr:
		if len(c.Conditions) == 0 {
			errs.Add(path+".conditions", "at least one condition is required")
		}
	case LogicalNot:
		if len(c.Conditions) != 1 {
			errs.Add(path+".conditions", "NOT takes exactly one condition")
		}
	default:
		errs.Add(path+".operator", "unknown operator "+string(c.Operator))
	}
	for _, n := range c.Conditions {
		if n.IsCompound() {
			validateCompound(n.Compound, path+".conditions", errs)
			continue
		}
		if n.MetricPath == "" {
			errs.Add(path+".conditions", "leaf condition requires metric_path")
		}
		if !n.Operator.Valid() {
			errs.Add(path+".conditions", "leaf condition has unknown operator "+string(n.Operator))
		}
	}
}

// RuleEvaluationResult is the outcome of evaluating one rule against one
// input. Short-lived; consumed by the alert generator.
type RuleEvaluationResult struct {
	RuleID         string                 `json:"rule_id"`
	RuleName       string                 `json:"rule_name"`
	RuleType       RuleType               `json:"rule_type"`
	Triggered      bool                   `json:"triggered"`
	Severity       Severity               `json:"severity"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	EvaluationTime time.Time              `json:"evaluation_time"`
}

// RoutingRule maps matching notification messages to channels. A message
// matches when every condition holds; severity conditions compare by rank,
// all other fields by equality.
type RoutingRule struct {
	Name       string                    `json:"name" yaml:"name"`
	Conditions map[string]RouteCondition `json:"conditions" yaml:"conditions"`
	Channels   []NotificationChannel     `json:"channels" yaml:"channels"`
}

// RouteCondition matches one message field. An empty operator means
// equality. In YAML a bare scalar is shorthand for an equality condition.
type RouteCondition struct {
	Operator CompareOp   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value" yaml:"value"`
}

// UnmarshalYAML accepts either a bare scalar (equality) or an explicit
// {operator, value} mapping.
func (rc *RouteCondition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var full struct {
			Operator CompareOp   `yaml:"operator"`
			Value    interface{} `yaml:"value"`
		}
		if err := node.Decode(&full); err != nil {
			return err
		}
		if full.Operator != "" || full.Value != nil {
			rc.Operator = full.Operator
			rc.Value = full.Value
			return nil
		}
	}
	var scalar interface{}
	if err := node.Decode(&scalar); err != nil {
		return err
	}
	rc.Operator = ""
	rc.Value = scalar
	return nil
}
