package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

func newTestEngine(t *testing.T, detector Detector, series SeriesProvider) (*RuleEngine, *fakeClock) {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewRuleEngine(zap.NewNop(), detector, series, clock), clock
}

func thresholdRule(id string, path string, op domain.CompareOp, value interface{}) domain.Rule {
	return domain.Rule{
		ID:       id,
		Name:     id,
		RuleType: domain.RuleTypeThreshold,
		Severity: domain.SeverityHigh,
		Enabled:  true,
		Conditions: domain.Conditions{
			Threshold: &domain.ThresholdCondition{MetricPath: path, Operator: op, Value: value},
		},
	}
}

func TestEvaluateMetricsThreshold(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		op        domain.CompareOp
		value     interface{}
		metrics   map[string]interface{}
		triggered bool
		status    string
	}{
		{
			name:      "greater than triggers",
			path:      "pipeline.error_rate",
			op:        domain.OpGreater,
			value:     0.05,
			metrics:   map[string]interface{}{"pipeline": map[string]interface{}{"error_rate": 0.12}},
			triggered: true,
			status:    "ok",
		},
		{
			name:      "at threshold does not trigger strict greater",
			path:      "pipeline.error_rate",
			op:        domain.OpGreater,
			value:     0.05,
			metrics:   map[string]interface{}{"pipeline": map[string]interface{}{"error_rate": 0.05}},
			triggered: false,
			status:    "ok",
		},
		{
			name:      "less or equal on integer metric",
			path:      "rows_written",
			op:        domain.OpLessOrEqual,
			value:     100,
			metrics:   map[string]interface{}{"rows_written": 80},
			triggered: true,
			status:    "ok",
		},
		{
			name:      "string equality",
			path:      "status",
			op:        domain.OpEqual,
			value:     "failed",
			metrics:   map[string]interface{}{"status": "failed"},
			triggered: true,
			status:    "ok",
		},
		{
			name:      "missing metric is no_data not error",
			path:      "pipeline.missing",
			op:        domain.OpGreater,
			value:     1.0,
			metrics:   map[string]interface{}{"pipeline": map[string]interface{}{}},
			triggered: false,
			status:    "no_data",
		},
		{
			name:      "dot path through non-map is no_data",
			path:      "pipeline.error_rate.deep",
			op:        domain.OpGreater,
			value:     1.0,
			metrics:   map[string]interface{}{"pipeline": map[string]interface{}{"error_rate": 0.5}},
			triggered: false,
			status:    "no_data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, clock := newTestEngine(t, nil, nil)
			require.NoError(t, engine.AddRule(thresholdRule("r1", tt.path, tt.op, tt.value)))

			results := engine.EvaluateMetrics(context.Background(), tt.metrics, nil)
			require.Len(t, results, 1)

			res := results[0]
			assert.Equal(t, "r1", res.RuleID)
			assert.Equal(t, domain.RuleTypeThreshold, res.RuleType)
			assert.Equal(t, domain.SeverityHigh, res.Severity)
			assert.Equal(t, tt.triggered, res.Triggered)
			assert.Equal(t, tt.status, res.Details["status"])
			assert.Equal(t, clock.Now(), res.EvaluationTime)
		})
	}
}

func TestEvaluateMetricsNonNumericComparisonError(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(thresholdRule("bad", "status", domain.OpGreater, 5)))
	require.NoError(t, engine.AddRule(thresholdRule("good", "value", domain.OpGreater, 5)))

	metrics := map[string]interface{}{"status": "broken", "value": 10}
	results := engine.EvaluateMetrics(context.Background(), metrics, nil)
	require.Len(t, results, 2)

	byID := map[string]domain.RuleEvaluationResult{}
	for _, r := range results {
		byID[r.RuleID] = r
	}

	// The ordering comparison on a string operand fails inside one rule
	// and must not affect the other.
	bad := byID["bad"]
	assert.False(t, bad.Triggered)
	assert.Equal(t, "error", bad.Details["status"])
	assert.Contains(t, bad.Details["error"], "requires numeric operands")

	good := byID["good"]
	assert.True(t, good.Triggered)
	assert.Equal(t, "ok", good.Details["status"])
}

func TestEvaluateMetricsDoesNotMutateInput(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(thresholdRule("r1", "pipeline.error_rate", domain.OpGreater, 0.1)))

	metrics := map[string]interface{}{
		"pipeline": map[string]interface{}{"error_rate": 0.5, "rows": 100},
	}
	engine.EvaluateMetrics(context.Background(), metrics, nil)

	inner := metrics["pipeline"].(map[string]interface{})
	assert.Len(t, metrics, 1)
	assert.Len(t, inner, 2)
	assert.Equal(t, 0.5, inner["error_rate"])
	assert.Equal(t, 100, inner["rows"])
}

func TestEvaluateMetricsRepeatable(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(thresholdRule("r1", "pipeline.error_rate", domain.OpGreater, 0.1)))
	require.NoError(t, engine.AddRule(thresholdRule("r2", "pipeline.rows", domain.OpLess, 10)))

	metrics := map[string]interface{}{
		"pipeline": map[string]interface{}{"error_rate": 0.5, "rows": 100},
	}
	first := engine.EvaluateMetrics(context.Background(), metrics, nil)
	second := engine.EvaluateMetrics(context.Background(), metrics, nil)

	require.Len(t, second, len(first))
	byRule := make(map[string]domain.RuleEvaluationResult, len(first))
	for _, res := range first {
		byRule[res.RuleID] = res
	}
	for _, res := range second {
		prev, ok := byRule[res.RuleID]
		require.True(t, ok)
		assert.Equal(t, prev.Triggered, res.Triggered)
		assert.Equal(t, prev.Severity, res.Severity)
		assert.Equal(t, prev.Details, res.Details)
	}
}

func TestEvaluateMetricsTrend(t *testing.T) {
	tests := []struct {
		name      string
		cond      domain.TrendCondition
		series    []float64
		triggered bool
		observed  float64
	}{
		{
			name: "percent change increasing",
			cond: domain.TrendCondition{
				MetricPath: "latency",
				Window:     5,
				TrendType:  domain.TrendPercentChange,
				Threshold:  20,
				Direction:  domain.TrendIncreasing,
			},
			series:    []float64{100, 110, 120, 125, 130},
			triggered: true,
			observed:  30,
		},
		{
			name: "direction filter rejects decrease",
			cond: domain.TrendCondition{
				MetricPath: "latency",
				Window:     5,
				TrendType:  domain.TrendPercentChange,
				Threshold:  20,
				Direction:  domain.TrendIncreasing,
			},
			series:    []float64{130, 120, 110, 100, 90},
			triggered: false,
		},
		{
			name: "any direction uses magnitude",
			cond: domain.TrendCondition{
				MetricPath: "latency",
				Window:     5,
				TrendType:  domain.TrendPercentChange,
				Threshold:  20,
			},
			series:    []float64{130, 120, 110, 100, 90},
			triggered: true,
		},
		{
			name: "zero start counts as full change",
			cond: domain.TrendCondition{
				MetricPath: "errors",
				Window:     3,
				TrendType:  domain.TrendPercentChange,
				Threshold:  50,
				Direction:  domain.TrendIncreasing,
			},
			series:    []float64{0, 2, 4},
			triggered: true,
			observed:  100,
		},
		{
			name: "absolute change",
			cond: domain.TrendCondition{
				MetricPath: "queue_depth",
				Window:     4,
				TrendType:  domain.TrendAbsoluteChange,
				Threshold:  50,
				Direction:  domain.TrendIncreasing,
			},
			series:    []float64{10, 30, 50, 70},
			triggered: true,
			observed:  60,
		},
		{
			name: "slope below threshold",
			cond: domain.TrendCondition{
				MetricPath: "throughput",
				Window:     5,
				TrendType:  domain.TrendSlope,
				Threshold:  10,
			},
			series:    []float64{100, 101, 102, 103, 104},
			triggered: false,
			observed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, nil, nil)
			cond := tt.cond
			require.NoError(t, engine.AddRule(domain.Rule{
				ID:         "trend",
				Name:       "trend",
				RuleType:   domain.RuleTypeTrend,
				Severity:   domain.SeverityMedium,
				Enabled:    true,
				Conditions: domain.Conditions{Trend: &cond},
			}))

			metrics := map[string]interface{}{}
			parts := tt.cond.MetricPath
			metrics[parts] = tt.series

			results := engine.EvaluateMetrics(context.Background(), metrics, nil)
			require.Len(t, results, 1)
			assert.Equal(t, tt.triggered, results[0].Triggered)
			if tt.observed != 0 {
				assert.InDelta(t, tt.observed, results[0].Details["observed"], 1e-9)
			}
		})
	}
}

func TestEvaluateMetricsTrendInsufficientData(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(domain.Rule{
		ID:       "trend",
		Name:     "trend",
		RuleType: domain.RuleTypeTrend,
		Severity: domain.SeverityMedium,
		Enabled:  true,
		Conditions: domain.Conditions{Trend: &domain.TrendCondition{
			MetricPath: "latency",
			Window:     5,
			TrendType:  domain.TrendPercentChange,
			Threshold:  10,
		}},
	}))

	results := engine.EvaluateMetrics(context.Background(), map[string]interface{}{"latency": []float64{42}}, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Triggered)
	assert.Equal(t, "no_data", results[0].Details["status"])
}

func TestEvaluateMetricsTrendUsesHistoricalSeries(t *testing.T) {
	series := &staticSeries{data: map[string][]float64{
		"latency": {100, 105, 110, 115},
	}}
	engine, _ := newTestEngine(t, nil, series)
	require.NoError(t, engine.AddRule(domain.Rule{
		ID:       "trend",
		Name:     "trend",
		RuleType: domain.RuleTypeTrend,
		Severity: domain.SeverityMedium,
		Enabled:  true,
		Conditions: domain.Conditions{Trend: &domain.TrendCondition{
			MetricPath: "latency",
			Window:     5,
			TrendType:  domain.TrendPercentChange,
			Threshold:  20,
			Direction:  domain.TrendIncreasing,
		}},
	}))

	// Scalar payload value is appended to the provider history.
	metrics := map[string]interface{}{"latency": 130.0}
	results := engine.EvaluateMetrics(context.Background(), metrics, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Triggered)
	assert.Equal(t, 5, results[0].Details["points"])
	assert.InDelta(t, 30.0, results[0].Details["observed"].(float64), 1e-9)
}

func TestEvaluateMetricsAnomaly(t *testing.T) {
	t.Run("delegates with defaults", func(t *testing.T) {
		detector := &fakeDetector{anomalous: true}
		engine, _ := newTestEngine(t, detector, nil)
		require.NoError(t, engine.AddRule(domain.Rule{
			ID:       "anomaly",
			Name:     "anomaly",
			RuleType: domain.RuleTypeAnomaly,
			Severity: domain.SeverityHigh,
			Enabled:  true,
			Conditions: domain.Conditions{Anomaly: &domain.AnomalyCondition{
				MetricPath: "throughput",
			}},
		}))

		metrics := map[string]interface{}{"throughput": []float64{10, 11, 9, 10, 12, 50}}
		results := engine.EvaluateMetrics(context.Background(), metrics, nil)
		require.Len(t, results, 1)
		assert.True(t, results[0].Triggered)
		assert.Equal(t, 1, detector.calls)
		assert.Equal(t, 6, detector.lastLen)
		assert.Equal(t, "z_score", results[0].Details["algorithm"])
		assert.Equal(t, 2.0, results[0].Details["sensitivity"])
	})

	t.Run("insufficient data skips the detector", func(t *testing.T) {
		detector := &fakeDetector{anomalous: true}
		engine, _ := newTestEngine(t, detector, nil)
		require.NoError(t, engine.AddRule(domain.Rule{
			ID:       "anomaly",
			Name:     "anomaly",
			RuleType: domain.RuleTypeAnomaly,
			Severity: domain.SeverityHigh,
			Enabled:  true,
			Conditions: domain.Conditions{Anomaly: &domain.AnomalyCondition{
				MetricPath:    "throughput",
				MinDataPoints: 5,
			}},
		}))

		metrics := map[string]interface{}{"throughput": []float64{10, 11, 9}}
		results := engine.EvaluateMetrics(context.Background(), metrics, nil)
		require.Len(t, results, 1)
		assert.False(t, results[0].Triggered)
		assert.Equal(t, "insufficient_data", results[0].Details["status"])
		assert.Equal(t, 0, detector.calls)
	})

	t.Run("detector error is contained", func(t *testing.T) {
		detector := &fakeDetector{err: assert.AnError}
		engine, _ := newTestEngine(t, detector, nil)
		require.NoError(t, engine.AddRule(domain.Rule{
			ID:       "anomaly",
			Name:     "anomaly",
			RuleType: domain.RuleTypeAnomaly,
			Severity: domain.SeverityHigh,
			Enabled:  true,
			Conditions: domain.Conditions{Anomaly: &domain.AnomalyCondition{
				MetricPath: "throughput",
			}},
		}))

		metrics := map[string]interface{}{"throughput": []float64{10, 11, 9, 10, 12}}
		results := engine.EvaluateMetrics(context.Background(), metrics, nil)
		require.Len(t, results, 1)
		assert.False(t, results[0].Triggered)
		assert.Equal(t, "error", results[0].Details["status"])
	})
}

func TestEvaluateMetricsCompound(t *testing.T) {
	metrics := map[string]interface{}{
		"error_rate": 0.2,
		"latency":    900.0,
		"rows":       1000,
	}

	tests := []struct {
		name      string
		cond      domain.CompoundCondition
		triggered bool
	}{
		{
			name: "AND all pass",
			cond: domain.CompoundCondition{
				Operator: domain.LogicalAnd,
				Conditions: []domain.ConditionNode{
					{MetricPath: "error_rate", Operator: domain.OpGreater, Value: 0.1},
					{MetricPath: "latency", Operator: domain.OpGreater, Value: 500},
				},
			},
			triggered: true,
		},
		{
			name: "AND one fails",
			cond: domain.CompoundCondition{
				Operator: domain.LogicalAnd,
				Conditions: []domain.ConditionNode{
					{MetricPath: "error_rate", Operator: domain.OpGreater, Value: 0.1},
					{MetricPath: "latency", Operator: domain.OpGreater, Value: 2000},
				},
			},
			triggered: false,
		},
		{
			name: "OR second passes",
			cond: domain.CompoundCondition{
				Operator: domain.LogicalOr,
				Conditions: []domain.ConditionNode{
					{MetricPath: "error_rate", Operator: domain.OpGreater, Value: 0.9},
					{MetricPath: "latency", Operator: domain.OpGreater, Value: 500},
				},
			},
			triggered: true,
		},
		{
			name: "NOT inverts",
			cond: domain.CompoundCondition{
				Operator: domain.LogicalNot,
				Conditions: []domain.ConditionNode{
					{MetricPath: "error_rate", Operator: domain.OpGreater, Value: 0.9},
				},
			},
			triggered: true,
		},
		{
			name: "nested compound",
			cond: domain.CompoundCondition{
				Operator: domain.LogicalAnd,
				Conditions: []domain.ConditionNode{
					{MetricPath: "rows", Operator: domain.OpGreaterOrEqual, Value: 1000},
					{Compound: &domain.CompoundCondition{
						Operator: domain.LogicalOr,
						Conditions: []domain.ConditionNode{
							{MetricPath: "error_rate", Operator: domain.OpGreater, Value: 0.9},
							{MetricPath: "latency", Operator: domain.OpGreater, Value: 500},
						},
					}},
				},
			},
			triggered: true,
		},
		{
			name: "missing leaf metric is false not error",
			cond: domain.CompoundCondition{
				Operator: domain.LogicalAnd,
				Conditions: []domain.ConditionNode{
					{MetricPath: "absent", Operator: domain.OpGreater, Value: 1},
				},
			},
			triggered: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, nil, nil)
			cond := tt.cond
			require.NoError(t, engine.AddRule(domain.Rule{
				ID:         "compound",
				Name:       "compound",
				RuleType:   domain.RuleTypeCompound,
				Severity:   domain.SeverityCritical,
				Enabled:    true,
				Conditions: domain.Conditions{Compound: &cond},
			}))

			results := engine.EvaluateMetrics(context.Background(), metrics, nil)
			require.Len(t, results, 1)
			assert.Equal(t, tt.triggered, results[0].Triggered)
		})
	}
}

func TestEvaluateMetricsCompoundShortCircuit(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(domain.Rule{
		ID:       "compound",
		Name:     "compound",
		RuleType: domain.RuleTypeCompound,
		Severity: domain.SeverityCritical,
		Enabled:  true,
		Conditions: domain.Conditions{Compound: &domain.CompoundCondition{
			Operator: domain.LogicalAnd,
			Conditions: []domain.ConditionNode{
				{MetricPath: "a", Operator: domain.OpGreater, Value: 10},
				{MetricPath: "b", Operator: domain.OpGreater, Value: 10},
			},
		}},
	}))

	var evaluated []string
	opts := &EvalOptions{Trace: func(path string, _ bool) {
		evaluated = append(evaluated, path)
	}}

	// First operand fails, so the second is never evaluated.
	metrics := map[string]interface{}{"a": 1, "b": 100}
	results := engine.EvaluateMetrics(context.Background(), metrics, opts)
	require.Len(t, results, 1)
	assert.False(t, results[0].Triggered)
	assert.Equal(t, []string{"a"}, evaluated)

	evaluated = nil
	metrics["a"] = 100
	results = engine.EvaluateMetrics(context.Background(), metrics, opts)
	assert.True(t, results[0].Triggered)
	assert.Equal(t, []string{"a", "b"}, evaluated)
}

func TestEvaluateEventRules(t *testing.T) {
	event := domain.PipelineEvent{
		EventType:   "task_failed",
		Source:      "airflow",
		Component:   "ingest-dag",
		ExecutionID: "run-42",
		Properties: map[string]interface{}{
			"task":       "load_customers",
			"retries":    3,
			"error_text": "connection timeout to warehouse",
		},
		Timestamp: time.Now(),
	}

	tests := []struct {
		name      string
		rule      domain.Rule
		triggered bool
	}{
		{
			name: "event type and source match",
			rule: domain.Rule{
				ID: "ev1", Name: "ev1", RuleType: domain.RuleTypeEvent,
				Severity: domain.SeverityHigh, Enabled: true,
				Conditions: domain.Conditions{Event: &domain.EventCondition{
					EventType:   "task_failed",
					EventSource: "airflow",
				}},
			},
			triggered: true,
		},
		{
			name: "wrong source",
			rule: domain.Rule{
				ID: "ev2", Name: "ev2", RuleType: domain.RuleTypeEvent,
				Severity: domain.SeverityHigh, Enabled: true,
				Conditions: domain.Conditions{Event: &domain.EventCondition{
					EventType:   "task_failed",
					EventSource: "dbt",
				}},
			},
			triggered: false,
		},
		{
			name: "property comparison",
			rule: domain.Rule{
				ID: "ev3", Name: "ev3", RuleType: domain.RuleTypeEvent,
				Severity: domain.SeverityHigh, Enabled: true,
				Conditions: domain.Conditions{Event: &domain.EventCondition{
					EventType: "task_failed",
					Properties: map[string]domain.PropertyMatch{
						"retries": {Operator: domain.OpGreaterOrEqual, Value: 3},
					},
				}},
			},
			triggered: true,
		},
		{
			name: "property default operator is equality",
			rule: domain.Rule{
				ID: "ev4", Name: "ev4", RuleType: domain.RuleTypeEvent,
				Severity: domain.SeverityHigh, Enabled: true,
				Conditions: domain.Conditions{Event: &domain.EventCondition{
					EventType: "task_failed",
					Properties: map[string]domain.PropertyMatch{
						"task": {Value: "load_customers"},
					},
				}},
			},
			triggered: true,
		},
		{
			name: "missing property",
			rule: domain.Rule{
				ID: "ev5", Name: "ev5", RuleType: domain.RuleTypeEvent,
				Severity: domain.SeverityHigh, Enabled: true,
				Conditions: domain.Conditions{Event: &domain.EventCondition{
					EventType: "task_failed",
					Properties: map[string]domain.PropertyMatch{
						"owner": {Value: "data-eng"},
					},
				}},
			},
			triggered: false,
		},
		{
			name: "pattern contains on nested property",
			rule: domain.Rule{
				ID: "pt1", Name: "pt1", RuleType: domain.RuleTypePattern,
				Severity: domain.SeverityMedium, Enabled: true,
				Conditions: domain.Conditions{Pattern: &domain.PatternCondition{
					Field:     "properties.error_text",
					Pattern:   "timeout",
					MatchType: domain.MatchContains,
				}},
			},
			triggered: true,
		},
		{
			name: "pattern regex on component",
			rule: domain.Rule{
				ID: "pt2", Name: "pt2", RuleType: domain.RuleTypePattern,
				Severity: domain.SeverityMedium, Enabled: true,
				Conditions: domain.Conditions{Pattern: &domain.PatternCondition{
					Field:     "component",
					Pattern:   `^ingest-.*$`,
					MatchType: domain.MatchRegex,
				}},
			},
			triggered: true,
		},
		{
			name: "pattern starts_with misses",
			rule: domain.Rule{
				ID: "pt3", Name: "pt3", RuleType: domain.RuleTypePattern,
				Severity: domain.SeverityMedium, Enabled: true,
				Conditions: domain.Conditions{Pattern: &domain.PatternCondition{
					Field:     "event_type",
					Pattern:   "pipeline_",
					MatchType: domain.MatchStartsWith,
				}},
			},
			triggered: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, nil, nil)
			require.NoError(t, engine.AddRule(tt.rule))

			results := engine.EvaluateEvent(context.Background(), event, nil)
			require.Len(t, results, 1)
			assert.Equal(t, tt.triggered, results[0].Triggered)
		})
	}
}

func TestEvaluateEventInvalidRegexDoesNotTrigger(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(domain.Rule{
		ID: "bad-regex", Name: "bad-regex", RuleType: domain.RuleTypePattern,
		Severity: domain.SeverityMedium, Enabled: true,
		Conditions: domain.Conditions{Pattern: &domain.PatternCondition{
			Field:     "event_type",
			Pattern:   "([unclosed",
			MatchType: domain.MatchRegex,
		}},
	}))

	event := domain.PipelineEvent{EventType: "task_failed"}
	results := engine.EvaluateEvent(context.Background(), event, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Triggered)
	assert.Equal(t, "invalid_pattern", results[0].Details["status"])
}

func TestEvaluateFiltersRules(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	ruleA := thresholdRule("a", "x", domain.OpGreater, 1)
	ruleA.Metadata = map[string]string{"group": "quality"}
	ruleB := thresholdRule("b", "x", domain.OpGreater, 1)
	ruleB.Metadata = map[string]string{"group": "latency"}
	disabled := thresholdRule("c", "x", domain.OpGreater, 1)
	disabled.Enabled = false
	eventRule := domain.Rule{
		ID: "d", Name: "d", RuleType: domain.RuleTypeEvent,
		Severity: domain.SeverityLow, Enabled: true,
		Conditions: domain.Conditions{Event: &domain.EventCondition{EventType: "x"}},
	}

	require.NoError(t, engine.AddRule(ruleA))
	require.NoError(t, engine.AddRule(ruleB))
	require.NoError(t, engine.AddRule(disabled))
	require.NoError(t, engine.AddRule(eventRule))

	metrics := map[string]interface{}{"x": 5}

	// Disabled and event-family rules are skipped for metric payloads.
	all := engine.EvaluateMetrics(context.Background(), metrics, nil)
	assert.Len(t, all, 2)

	group := engine.EvaluateMetrics(context.Background(), metrics, &EvalOptions{Group: "quality"})
	require.Len(t, group, 1)
	assert.Equal(t, "a", group[0].RuleID)

	byID := engine.EvaluateMetrics(context.Background(), metrics, &EvalOptions{RuleIDs: []string{"b"}})
	require.Len(t, byID, 1)
	assert.Equal(t, "b", byID[0].RuleID)

	assert.Equal(t, []string{"latency", "quality"}, engine.Groups())
}

func TestRuleCRUD(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	rule := thresholdRule("r1", "x", domain.OpGreater, 1)
	require.NoError(t, engine.AddRule(rule))

	err := engine.AddRule(rule)
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)

	rule.Severity = domain.SeverityCritical
	require.NoError(t, engine.UpdateRule(rule))
	got, err := engine.Rule("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, got.Severity)

	assert.ErrorIs(t, engine.UpdateRule(thresholdRule("ghost", "x", domain.OpGreater, 1)), domain.ErrNotFound)

	require.NoError(t, engine.DeleteRule("r1"))
	assert.ErrorIs(t, engine.DeleteRule("r1"), domain.ErrNotFound)

	_, err = engine.Rule("r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddRuleValidation(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	tests := []struct {
		name string
		rule domain.Rule
	}{
		{
			name: "missing id",
			rule: domain.Rule{
				Name: "x", RuleType: domain.RuleTypeThreshold, Severity: domain.SeverityLow, Enabled: true,
				Conditions: domain.Conditions{Threshold: &domain.ThresholdCondition{MetricPath: "x", Operator: domain.OpGreater, Value: 1}},
			},
		},
		{
			name: "missing condition for family",
			rule: domain.Rule{
				ID: "r", Name: "r", RuleType: domain.RuleTypeThreshold, Severity: domain.SeverityLow, Enabled: true,
			},
		},
		{
			name: "bad operator",
			rule: domain.Rule{
				ID: "r", Name: "r", RuleType: domain.RuleTypeThreshold, Severity: domain.SeverityLow, Enabled: true,
				Conditions: domain.Conditions{Threshold: &domain.ThresholdCondition{MetricPath: "x", Operator: "~=", Value: 1}},
			},
		},
		{
			name: "NOT with two children",
			rule: domain.Rule{
				ID: "r", Name: "r", RuleType: domain.RuleTypeCompound, Severity: domain.SeverityLow, Enabled: true,
				Conditions: domain.Conditions{Compound: &domain.CompoundCondition{
					Operator: domain.LogicalNot,
					Conditions: []domain.ConditionNode{
						{MetricPath: "x", Operator: domain.OpGreater, Value: 1},
						{MetricPath: "y", Operator: domain.OpGreater, Value: 1},
					},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, engine.AddRule(tt.rule))
		})
	}
}

func TestReplaceRulesAtomic(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)
	require.NoError(t, engine.AddRule(thresholdRule("keep", "x", domain.OpGreater, 1)))

	// One invalid rule rejects the whole batch and keeps the current set.
	err := engine.ReplaceRules([]domain.Rule{
		thresholdRule("new1", "x", domain.OpGreater, 1),
		{ID: "broken", Name: "broken", RuleType: domain.RuleTypeThreshold, Severity: domain.SeverityLow, Enabled: true},
	})
	require.Error(t, err)
	_, err = engine.Rule("keep")
	assert.NoError(t, err)

	require.NoError(t, engine.ReplaceRules([]domain.Rule{
		thresholdRule("new1", "x", domain.OpGreater, 1),
		thresholdRule("new2", "y", domain.OpLess, 5),
	}))
	assert.Len(t, engine.Rules(), 2)
	_, err = engine.Rule("keep")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
