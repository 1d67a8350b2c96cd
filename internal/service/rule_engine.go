package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// Detector is the anomaly detection boundary consumed by anomaly rules.
type Detector interface {
	DetectAnomaly(ctx context.Context, series []float64, algorithm string, sensitivity float64, metricName string) (bool, error)
}

// SeriesProvider serves historical metric series for trend and anomaly
// rules. Implementations may cache; the engine treats results as read-only.
type SeriesProvider interface {
	Series(ctx context.Context, metricPath string, limit int) ([]float64, error)
}

// EvalTrace is called once per evaluated leaf condition of a compound rule,
// in evaluation order. Short-circuited operands are never reported.
type EvalTrace func(metricPath string, passed bool)

// EvalOptions narrows which rules an evaluation considers. A zero value
// evaluates every enabled rule of the applicable families.
type EvalOptions struct {
	Group   string
	RuleIDs []string
	Trace   EvalTrace
}

func (o *EvalOptions) matches(r *domain.Rule) bool {
	if o == nil {
		return true
	}
	if o.Group != "" && r.Group() != o.Group {
		return false
	}
	if len(o.RuleIDs) > 0 {
		for _, id := range o.RuleIDs {
			if id == r.ID {
				return true
			}
		}
		return false
	}
	return true
}

func (o *EvalOptions) trace() EvalTrace {
	if o == nil {
		return nil
	}
	return o.Trace
}

// Anomaly rule defaults
const (
	defaultAnomalySensitivity = 2.0
	defaultAnomalyAlgorithm   = "z_score"
	defaultMinDataPoints      = 5
	defaultSeriesLimit        = 50
)

// RuleEngine evaluates declarative rules of the six families against
// metric maps and pipeline events. The engine is stateless between
// evaluations; the rule set is guarded for concurrent use.
type RuleEngine struct {
	logger   *zap.Logger
	detector Detector
	series   SeriesProvider
	clock    domain.Clock

	mu    sync.RWMutex
	rules map[string]*domain.Rule
}

// NewRuleEngine creates a rule engine. series may be nil, in which case
// trend and anomaly rules see only the values present in the evaluated
// metric map.
func NewRuleEngine(logger *zap.Logger, detector Detector, series SeriesProvider, clock domain.Clock) *RuleEngine {
	return &RuleEngine{
		logger:   logger,
		detector: detector,
		series:   series,
		clock:    clock,
		rules:    make(map[string]*domain.Rule),
	}
}

// AddRule validates and inserts a rule.
func (e *RuleEngine) AddRule(rule domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s: %w", rule.ID, domain.ErrDuplicateEntry)
	}
	e.rules[rule.ID] = &rule
	return nil
}

// UpdateRule validates and replaces an existing rule.
func (e *RuleEngine) UpdateRule(rule domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, domain.ErrNotFound)
	}
	e.rules[rule.ID] = &rule
	return nil
}

// DeleteRule removes a rule.
func (e *RuleEngine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	delete(e.rules, id)
	return nil
}

// Rule returns the rule with the given ID. The returned rule must be
// treated as read-only.
func (e *RuleEngine) Rule(id string) (*domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

// Rules returns all rules sorted by ID.
func (e *RuleEngine) Rules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Groups returns the distinct rule group names, sorted.
func (e *RuleEngine) Groups() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := make(map[string]struct{})
	for _, r := range e.rules {
		if g := r.Group(); g != "" {
			set[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// ReplaceRules atomically swaps the whole rule set. Invalid rules are
// rejected wholesale; the current set stays in effect.
func (e *RuleEngine) ReplaceRules(rules []domain.Rule) error {
	next := make(map[string]*domain.Rule, len(rules))
	for i := range rules {
		r := rules[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if _, dup := next[r.ID]; dup {
			return fmt.Errorf("rule %s: %w", r.ID, domain.ErrDuplicateEntry)
		}
		next[r.ID] = &r
	}
	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
	return nil
}

// EvaluateMetrics evaluates every matching threshold, trend, anomaly, and
// compound rule against the metric map. A failure inside one rule yields an
// error-tagged untriggered result and never affects the other rules.
func (e *RuleEngine) EvaluateMetrics(ctx context.Context, metrics map[string]interface{}, opts *EvalOptions) []domain.RuleEvaluationResult {
	rules := e.snapshot(func(r *domain.Rule) bool {
		return r.Enabled && r.RuleType.AppliesToMetrics() && opts.matches(r)
	})

	results := make([]domain.RuleEvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateOne(rule, func() (bool, map[string]interface{}, error) {
			return e.evalMetricRule(ctx, rule, metrics, opts.trace())
		}))
	}
	return results
}

// EvaluateEvent evaluates every matching event and pattern rule against a
// single pipeline event.
func (e *RuleEngine) EvaluateEvent(ctx context.Context, event domain.PipelineEvent, opts *EvalOptions) []domain.RuleEvaluationResult {
	rules := e.snapshot(func(r *domain.Rule) bool {
		return r.Enabled && r.RuleType.AppliesToEvents() && opts.matches(r)
	})

	results := make([]domain.RuleEvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateOne(rule, func() (bool, map[string]interface{}, error) {
			return e.evalEventRule(rule, event)
		}))
	}
	return results
}

func (e *RuleEngine) snapshot(keep func(*domain.Rule) bool) []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// evaluateOne wraps a single rule evaluation with error and panic
// containment so one bad rule cannot poison a batch.
func (e *RuleEngine) evaluateOne(rule *domain.Rule, eval func() (bool, map[string]interface{}, error)) (result domain.RuleEvaluationResult) {
	result = domain.RuleEvaluationResult{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		RuleType:       rule.RuleType,
		Severity:       rule.Severity,
		Context:        ruleContext(rule),
		EvaluationTime: e.clock.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule evaluation panicked",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
			result.Triggered = false
			result.Details = map[string]interface{}{"status": "error", "error": fmt.Sprintf("panic: %v", r)}
		}
	}()

	triggered, details, err := eval()
	if err != nil {
		e.logger.Warn("rule evaluation failed",
			zap.String("rule_id", rule.ID),
			zap.String("rule_type", string(rule.RuleType)),
			zap.Error(err),
		)
		result.Triggered = false
		result.Details = map[string]interface{}{"status": "error", "error": err.Error()}
		return result
	}

	result.Triggered = triggered
	result.Details = details
	return result
}

func ruleContext(rule *domain.Rule) map[string]interface{} {
	if len(rule.Metadata) == 0 && len(rule.Actions) == 0 {
		return nil
	}
	ctx := make(map[string]interface{}, len(rule.Metadata)+1)
	for k, v := range rule.Metadata {
		ctx[k] = v
	}
	if len(rule.Actions) > 0 {
		ctx["actions"] = rule.Actions
	}
	return ctx
}

func (e *RuleEngine) evalMetricRule(ctx context.Context, rule *domain.Rule, metrics map[string]interface{}, trace EvalTrace) (bool, map[string]interface{}, error) {
	switch rule.RuleType {
	case domain.RuleTypeThreshold:
		return e.evalThreshold(rule.Conditions.Threshold, metrics)
	case domain.RuleTypeTrend:
		return e.evalTrend(ctx, rule.Conditions.Trend, metrics)
	case domain.RuleTypeAnomaly:
		return e.evalAnomaly(ctx, rule.Conditions.Anomaly, metrics)
	case domain.RuleTypeCompound:
		triggered, err := e.evalCompound(rule.Conditions.Compound, metrics, trace)
		if err != nil {
			return false, nil, err
		}
		return triggered, map[string]interface{}{
			"status":   "ok",
			"operator": string(rule.Conditions.Compound.Operator),
		}, nil
	default:
		return false, nil, fmt.Errorf("rule type %s does not apply to metrics", rule.RuleType)
	}
}

func (e *RuleEngine) evalThreshold(c *domain.ThresholdCondition, metrics map[string]interface{}) (bool, map[string]interface{}, error) {
	value, ok := resolveMetric(metrics, c.MetricPath)
	if !ok {
		return false, map[string]interface{}{"status": "no_data", "metric_path": c.MetricPath}, nil
	}
	triggered, err := compareValues(value, c.Operator, c.Value)
	if err != nil {
		return false, nil, err
	}
	return triggered, map[string]interface{}{
		"status":      "ok",
		"metric_path": c.MetricPath,
		"observed":    value,
		"operator":    string(c.Operator),
		"threshold":   c.Value,
	}, nil
}

func (e *RuleEngine) evalTrend(ctx context.Context, c *domain.TrendCondition, metrics map[string]interface{}) (bool, map[string]interface{}, error) {
	series := e.seriesFor(ctx, metrics, c.MetricPath, c.Window)
	if c.Window > 1 && c.Window < len(series) {
		series = series[len(series)-c.Window:]
	}
	if len(series) < 2 {
		return false, map[string]interface{}{"status": "no_data", "metric_path": c.MetricPath, "points": len(series)}, nil
	}

	var measured float64
	switch c.TrendType {
	case domain.TrendSlope:
		measured = olsSlope(series)
	case domain.TrendPercentChange:
		measured = percentChange(series[0], series[len(series)-1])
	case domain.TrendAbsoluteChange:
		measured = series[len(series)-1] - series[0]
	default:
		return false, nil, fmt.Errorf("unknown trend type %s", c.TrendType)
	}

	direction := c.Direction
	if direction == "" {
		direction = domain.TrendAny
	}
	directionOK := true
	switch direction {
	case domain.TrendIncreasing:
		directionOK = measured > 0
	case domain.TrendDecreasing:
		directionOK = measured < 0
	}

	triggered := directionOK && math.Abs(measured) >= c.Threshold
	return triggered, map[string]interface{}{
		"status":      "ok",
		"metric_path": c.MetricPath,
		"trend_type":  string(c.TrendType),
		"observed":    measured,
		"threshold":   c.Threshold,
		"direction":   string(direction),
		"points":      len(series),
	}, nil
}

func (e *RuleEngine) evalAnomaly(ctx context.Context, c *domain.AnomalyCondition, metrics map[string]interface{}) (bool, map[string]interface{}, error) {
	minPoints := c.MinDataPoints
	if minPoints <= 0 {
		minPoints = defaultMinDataPoints
	}
	sensitivity := c.Sensitivity
	if sensitivity == 0 {
		sensitivity = defaultAnomalySensitivity
	}
	algorithm := c.Algorithm
	if algorithm == "" {
		algorithm = defaultAnomalyAlgorithm
	}

	series := e.seriesFor(ctx, metrics, c.MetricPath, defaultSeriesLimit)
	if len(series) < minPoints {
		return false, map[string]interface{}{
			"status":      "insufficient_data",
			"metric_path": c.MetricPath,
			"points":      len(series),
			"min_points":  minPoints,
		}, nil
	}

	anomalous, err := e.detector.DetectAnomaly(ctx, series, algorithm, sensitivity, c.MetricPath)
	if err != nil {
		return false, nil, fmt.Errorf("anomaly detection: %w", err)
	}
	return anomalous, map[string]interface{}{
		"status":      "ok",
		"metric_path": c.MetricPath,
		"algorithm":   algorithm,
		"sensitivity": sensitivity,
		"points":      len(series),
	}, nil
}

// seriesFor assembles the series for a metric path: an in-payload series is
// used as-is; a scalar is appended to the provider's history; otherwise the
// history alone is used.
func (e *RuleEngine) seriesFor(ctx context.Context, metrics map[string]interface{}, path string, limit int) []float64 {
	if limit < defaultMinDataPoints {
		limit = defaultMinDataPoints
	}
	if value, ok := resolveMetric(metrics, path); ok {
		if series, ok := toFloatSlice(value); ok {
			return series
		}
		if f, ok := toFloat(value); ok {
			return append(e.history(ctx, path, limit-1), f)
		}
	}
	return e.history(ctx, path, limit)
}

func (e *RuleEngine) history(ctx context.Context, path string, limit int) []float64 {
	if e.series == nil || limit <= 0 {
		return nil
	}
	series, err := e.series.Series(ctx, path, limit)
	if err != nil {
		e.logger.Warn("historical series lookup failed",
			zap.String("metric_path", path),
			zap.Error(err),
		)
		return nil
	}
	return series
}

func (e *RuleEngine) evalCompound(c *domain.CompoundCondition, metrics map[string]interface{}, trace EvalTrace) (bool, error) {
	switch c.Operator {
	case domain.LogicalAnd:
		for i := range c.Conditions {
			ok, err := e.evalNode(&c.Conditions[i], metrics, trace)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case domain.LogicalOr:
		for i := range c.Conditions {
			ok, err := e.evalNode(&c.Conditions[i], metrics, trace)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case domain.LogicalNot:
		if len(c.Conditions) != 1 {
			return false, fmt.Errorf("NOT takes exactly one condition, got %d", len(c.Conditions))
		}
		ok, err := e.evalNode(&c.Conditions[0], metrics, trace)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown logical operator %s", c.Operator)
	}
}

func (e *RuleEngine) evalNode(n *domain.ConditionNode, metrics map[string]interface{}, trace EvalTrace) (bool, error) {
	if n.IsCompound() {
		return e.evalCompound(n.Compound, metrics, trace)
	}
	value, ok := resolveMetric(metrics, n.MetricPath)
	if !ok {
		if trace != nil {
			trace(n.MetricPath, false)
		}
		return false, nil
	}
	passed, err := compareValues(value, n.Operator, n.Value)
	if trace != nil {
		trace(n.MetricPath, passed)
	}
	return passed, err
}

func (e *RuleEngine) evalEventRule(rule *domain.Rule, event domain.PipelineEvent) (bool, map[string]interface{}, error) {
	switch rule.RuleType {
	case domain.RuleTypeEvent:
		return e.evalEvent(rule.Conditions.Event, event)
	case domain.RuleTypePattern:
		return e.evalPattern(rule.Conditions.Pattern, event)
	default:
		return false, nil, fmt.Errorf("rule type %s does not apply to events", rule.RuleType)
	}
}

func (e *RuleEngine) evalEvent(c *domain.EventCondition, event domain.PipelineEvent) (bool, map[string]interface{}, error) {
	details := map[string]interface{}{
		"status":     "ok",
		"event_type": c.EventType,
	}
	if event.EventType != c.EventType {
		return false, details, nil
	}
	if c.EventSource != "" && event.Source != c.EventSource {
		return false, details, nil
	}
	for field, match := range c.Properties {
		value, ok := event.Properties[field]
		if !ok {
			return false, details, nil
		}
		op := match.Operator
		if op == "" {
			op = domain.OpEqual
		}
		passed, err := compareValues(value, op, match.Value)
		if err != nil {
			return false, nil, fmt.Errorf("property %s: %w", field, err)
		}
		if !passed {
			return false, details, nil
		}
	}
	return true, details, nil
}

func (e *RuleEngine) evalPattern(c *domain.PatternCondition, event domain.PipelineEvent) (bool, map[string]interface{}, error) {
	details := map[string]interface{}{
		"status":     "ok",
		"field":      c.Field,
		"match_type": string(c.MatchType),
	}

	value, ok := resolveMetric(eventDocument(event), c.Field)
	if !ok {
		details["status"] = "no_data"
		return false, details, nil
	}
	target := stringify(value)

	switch c.MatchType {
	case domain.MatchRegex:
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			e.logger.Warn("invalid pattern in rule",
				zap.String("pattern", c.Pattern),
				zap.Error(err),
			)
			details["status"] = "invalid_pattern"
			return false, details, nil
		}
		return re.MatchString(target), details, nil
	case domain.MatchContains:
		return strings.Contains(target, c.Pattern), details, nil
	case domain.MatchStartsWith:
		return strings.HasPrefix(target, c.Pattern), details, nil
	case domain.MatchEndsWith:
		return strings.HasSuffix(target, c.Pattern), details, nil
	default:
		return false, nil, fmt.Errorf("unknown match type %s", c.MatchType)
	}
}

func eventDocument(event domain.PipelineEvent) map[string]interface{} {
	return map[string]interface{}{
		"event_type":   event.EventType,
		"source":       event.Source,
		"component":    event.Component,
		"execution_id": event.ExecutionID,
		"properties":   event.Properties,
	}
}

// resolveMetric walks a dot-notation path through nested string-keyed maps.
// Any missing hop returns (nil, false).
func resolveMetric(metrics map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = metrics
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// compareValues compares two values with the given operator. Numeric
// comparison applies when both sides coerce to float64; equality operators
// fall back to string comparison for non-numeric operands.
func compareValues(value interface{}, op domain.CompareOp, target interface{}) (bool, error) {
	vf, vok := toFloat(value)
	tf, tok := toFloat(target)
	if vok && tok {
		switch op {
		case domain.OpEqual:
			return vf == tf, nil
		case domain.OpNotEqual:
			return vf != tf, nil
		case domain.OpGreater:
			return vf > tf, nil
		case domain.OpGreaterOrEqual:
			return vf >= tf, nil
		case domain.OpLess:
			return vf < tf, nil
		case domain.OpLessOrEqual:
			return vf <= tf, nil
		default:
			return false, fmt.Errorf("unknown operator %s", op)
		}
	}

	switch op {
	case domain.OpEqual:
		return stringify(value) == stringify(target), nil
	case domain.OpNotEqual:
		return stringify(value) != stringify(target), nil
	default:
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, value, target)
	}
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloatSlice(v interface{}) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []interface{}:
		out := make([]float64, 0, len(s))
		for _, item := range s {
			f, ok := toFloat(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

// olsSlope computes the ordinary-least-squares slope of a series indexed
// 0..n-1. A constant x spread (n < 2) yields 0.
func olsSlope(series []float64) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i, y := range series {
		sumX += float64(i)
		sumY += y
	}
	meanX := sumX / n
	meanY := sumY / n

	var num, den float64
	for i, y := range series {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// percentChange measures relative change from start to end. A zero start
// maps to ±100 when the end is nonzero, else 0.
func percentChange(start, end float64) float64 {
	if start == 0 {
		if end != 0 {
			return math.Copysign(100, end)
		}
		return 0
	}
	return (end - start) / math.Abs(start) * 100
}
