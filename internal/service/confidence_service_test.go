package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// Monday inside business hours, so the contextual factor is predictable.
var confidenceNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func newConfidenceService(history ActionHistory, opts ConfidenceOptions) (*ConfidenceService, *fakeClock) {
	clock := newFakeClock(confidenceNow)
	return NewConfidenceService(zap.NewNop(), history, clock, opts), clock
}

func retryAction() *domain.HealingAction {
	return &domain.HealingAction{
		ID:         "retry-1",
		ActionType: "pipeline_retry",
		Name:       "retry pipeline",
		Enabled:    true,
	}
}

func addOutcomes(h *memoryOutcomes, actionType string, age time.Duration, success bool, n int) {
	for i := 0; i < n; i++ {
		h.outcomes = append(h.outcomes, domain.ActionOutcome{
			ID:         uuid.New(),
			ActionType: actionType,
			Success:    success,
			ExecutedAt: confidenceNow.Add(-age),
		})
	}
}

func TestHistoricalFactorNeutralBelowMinimumSamples(t *testing.T) {
	history := &memoryOutcomes{}
	addOutcomes(history, "pipeline_retry", 0, true, 3)
	svc, _ := newConfidenceService(history, ConfidenceOptions{})

	score := svc.Score(context.Background(), retryAction(), domain.Issue{ActionType: "pipeline_retry"}, nil, nil)

	assert.Equal(t, 0.5, score.HistoricalSuccess)
	assert.Equal(t, 3, score.SampleCount)
	assert.Equal(t, 3, score.Details["history_samples"])
}

func TestHistoricalFactorSuccessRate(t *testing.T) {
	t.Run("all successes", func(t *testing.T) {
		history := &memoryOutcomes{}
		addOutcomes(history, "pipeline_retry", 0, true, 6)
		svc, _ := newConfidenceService(history, ConfidenceOptions{})

		score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, nil)
		assert.Equal(t, 1.0, score.HistoricalSuccess)
		assert.Equal(t, 6, score.SampleCount)
	})

	t.Run("all failures", func(t *testing.T) {
		history := &memoryOutcomes{}
		addOutcomes(history, "pipeline_retry", 0, false, 6)
		svc, _ := newConfidenceService(history, ConfidenceOptions{})

		score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, nil)
		assert.Equal(t, 0.0, score.HistoricalSuccess)
	})
}

func TestHistoricalFactorRecencyWeighting(t *testing.T) {
	// Four fresh successes at weight 1.0 against four failures two
	// half-lives old at weight 0.25: 4.0 / 5.0 instead of the plain 0.5.
	history := &memoryOutcomes{}
	addOutcomes(history, "pipeline_retry", 0, true, 4)
	addOutcomes(history, "pipeline_retry", 14*24*time.Hour, false, 4)
	svc, _ := newConfidenceService(history, ConfidenceOptions{})

	score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, nil)
	assert.InDelta(t, 0.8, score.HistoricalSuccess, 1e-9)
	assert.Equal(t, 8, score.SampleCount)
}

func TestHistoricalFactorFiltersOtherActions(t *testing.T) {
	history := &memoryOutcomes{}
	// Failures recorded against a different concrete action must not
	// count against this one; outcomes without an action ID do.
	for i := 0; i < 6; i++ {
		history.outcomes = append(history.outcomes, domain.ActionOutcome{
			ID: uuid.New(), ActionType: "pipeline_retry", ActionID: "retry-2",
			Success: false, ExecutedAt: confidenceNow,
		})
	}
	addOutcomes(history, "pipeline_retry", 0, true, 5)
	svc, _ := newConfidenceService(history, ConfidenceOptions{})

	score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, nil)
	assert.Equal(t, 1.0, score.HistoricalSuccess)
	assert.Equal(t, 5, score.SampleCount)
}

func TestHistoricalFactorErrorFallsBackToNeutral(t *testing.T) {
	history := &memoryOutcomes{err: assert.AnError}
	svc, _ := newConfidenceService(history, ConfidenceOptions{})

	score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, nil)
	assert.Equal(t, 0.5, score.HistoricalSuccess)
	assert.Contains(t, score.Details, "history_error")
}

func TestHistoricalFactorNilHistory(t *testing.T) {
	svc, _ := newConfidenceService(nil, ConfidenceOptions{})

	score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, nil)
	assert.Equal(t, 0.5, score.HistoricalSuccess)
	assert.Equal(t, 0, score.SampleCount)
}

func TestPatternFactor(t *testing.T) {
	svc, _ := newConfidenceService(nil, ConfidenceOptions{})
	action := retryAction()

	tests := []struct {
		name    string
		issue   domain.Issue
		pattern *domain.IssuePattern
		want    float64
	}{
		{
			name:    "nil pattern is neutral",
			issue:   domain.Issue{},
			pattern: nil,
			want:    0.5,
		},
		{
			name:  "exact canonical action and all attributes",
			issue: domain.Issue{Details: map[string]interface{}{"error_code": "E42", "table": "customers"}},
			pattern: &domain.IssuePattern{
				CanonicalAction: "pipeline_retry",
				Attributes:      map[string]interface{}{"error_code": "E42", "table": "customers"},
			},
			want: 1.0,
		},
		{
			name:  "half the attributes match",
			issue: domain.Issue{Details: map[string]interface{}{"error_code": "E42", "table": "orders"}},
			pattern: &domain.IssuePattern{
				CanonicalAction: "pipeline_retry",
				Attributes:      map[string]interface{}{"error_code": "E42", "table": "customers"},
			},
			want: 0.75,
		},
		{
			name:  "partial token overlap on the action",
			issue: domain.Issue{},
			pattern: &domain.IssuePattern{
				CanonicalAction: "pipeline_restart",
			},
			want: 0.5 + 0.5/3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := svc.Score(context.Background(), action, tt.issue, tt.pattern, nil)
			assert.InDelta(t, tt.want, score.PatternMatch, 1e-9)
		})
	}
}

func TestDataFactor(t *testing.T) {
	svc, _ := newConfidenceService(nil, ConfidenceOptions{})
	action := retryAction()

	t.Run("no data factors is neutral", func(t *testing.T) {
		score := svc.Score(context.Background(), action, domain.Issue{}, nil, nil)
		assert.Equal(t, 0.5, score.DataCharacteristics)
	})

	t.Run("explicit levels average", func(t *testing.T) {
		issue := domain.Issue{Details: map[string]interface{}{
			"volume":      "low",
			"criticality": "high",
		}}
		score := svc.Score(context.Background(), action, issue, nil, nil)
		// volume low 0.9 and criticality high 0.4 average to 0.65.
		assert.InDelta(t, 0.65, score.DataCharacteristics, 1e-9)
		assert.Equal(t, "low", score.Details["data_volume"])
		assert.Equal(t, "high", score.Details["data_criticality"])
	})

	t.Run("numeric record count buckets the volume", func(t *testing.T) {
		issue := domain.Issue{Details: map[string]interface{}{"record_count": 2_000_000}}
		score := svc.Score(context.Background(), action, issue, nil, nil)
		assert.InDelta(t, 0.5, score.DataCharacteristics, 1e-9)
		assert.Equal(t, "high", score.Details["data_volume"])
	})

	t.Run("context supplies missing factors", func(t *testing.T) {
		issueCtx := map[string]interface{}{"complexity": "low"}
		score := svc.Score(context.Background(), action, domain.Issue{}, nil, issueCtx)
		assert.InDelta(t, 0.9, score.DataCharacteristics, 1e-9)
	})
}

func TestContextualFactor(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		ctx  map[string]interface{}
		want float64
	}{
		{
			name: "business hours only",
			at:   confidenceNow,
			want: 0.6,
		},
		{
			name: "weekend is flat",
			at:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			want: 0.5,
		},
		{
			name: "production outside hours",
			at:   time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC),
			ctx:  map[string]interface{}{"environment": "production"},
			want: 0.3,
		},
		{
			name: "dev during hours",
			at:   confidenceNow,
			ctx:  map[string]interface{}{"environment": "dev"},
			want: 0.8,
		},
		{
			name: "maintenance window in prod during hours",
			at:   confidenceNow,
			ctx: map[string]interface{}{
				"environment":        "prod",
				"maintenance_window": true,
			},
			want: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(tt.at)
			svc := NewConfidenceService(zap.NewNop(), nil, clock, ConfidenceOptions{})
			score := svc.Score(context.Background(), retryAction(), domain.Issue{}, nil, tt.ctx)
			assert.InDelta(t, tt.want, score.Contextual, 1e-9)
		})
	}
}

func TestScoreOverallBlend(t *testing.T) {
	history := &memoryOutcomes{}
	addOutcomes(history, "pipeline_retry", 0, true, 6)
	svc, _ := newConfidenceService(history, ConfidenceOptions{})

	issue := domain.Issue{
		ActionType: "pipeline_retry",
		Details:    map[string]interface{}{"volume": "low"},
	}
	pattern := &domain.IssuePattern{CanonicalAction: "pipeline_retry"}
	issueCtx := map[string]interface{}{"environment": "staging"}

	score := svc.Score(context.Background(), retryAction(), issue, pattern, issueCtx)

	// 0.4*1.0 + 0.3*1.0 + 0.2*0.9 + 0.1*0.7
	assert.InDelta(t, 0.95, score.Overall, 1e-9)
	assert.True(t, svc.MeetsThreshold(score, "pipeline_retry"))
}

func TestThresholds(t *testing.T) {
	svc, _ := newConfidenceService(nil, ConfidenceOptions{
		Thresholds: map[string]float64{
			"default":          0.85,
			"schema_migration": 0.95,
		},
	})

	assert.Equal(t, 0.85, svc.Threshold("pipeline_retry"))
	assert.Equal(t, 0.95, svc.Threshold("schema_migration"))

	score := domain.ConfidenceScore{Overall: 0.9}
	assert.True(t, svc.MeetsThreshold(score, "pipeline_retry"))
	assert.False(t, svc.MeetsThreshold(score, "schema_migration"))
}
