package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/domain"
)

func newImpactService(tables config.ImpactTables) *ImpactService {
	return NewImpactService(zap.NewNop(), tables)
}

func TestAnalyzeMinimalIssue(t *testing.T) {
	svc := newImpactService(config.ImpactTables{})
	action := &domain.HealingAction{ID: "retry-1", ActionType: "pipeline_retry"}

	analysis := svc.Analyze(action, domain.Issue{ID: "iss-1"}, nil)

	// Only the per-action base contributes; business has no base.
	assert.InDelta(t, 0.1, analysis.Categories[domain.ImpactData], 1e-9)
	assert.InDelta(t, 0.1, analysis.Categories[domain.ImpactPipeline], 1e-9)
	assert.InDelta(t, 0.0, analysis.Categories[domain.ImpactBusiness], 1e-9)
	assert.InDelta(t, 0.1, analysis.Categories[domain.ImpactResource], 1e-9)
	assert.InDelta(t, 0.08, analysis.Overall, 1e-9)
	assert.Equal(t, domain.ImpactLow, analysis.Level)
	assert.Equal(t, "pipeline_retry", analysis.Details["action_type"])
	assert.Equal(t, "iss-1", analysis.Details["issue_id"])
}

func TestAnalyzeRichIssue(t *testing.T) {
	svc := newImpactService(config.ImpactTables{})
	action := &domain.HealingAction{ID: "retry-1", ActionType: "pipeline_retry"}
	issue := domain.Issue{
		ID: "iss-2",
		Details: map[string]interface{}{
			"record_count":         500_000,
			"criticality":          "high",
			"visibility":           "medium",
			"execution_time":       "high",
			"dep_count":            10,
			"pipeline_criticality": "medium",
			"approaching_sla":      true,
			"affects_reporting":    true,
			"compute":              "low",
			"storage":              "medium",
			"cost":                 "high",
		},
	}

	analysis := svc.Analyze(action, issue, nil)

	// data: 0.1 base + 0.1 volume share + 0.2 criticality + 0.1 visibility
	assert.InDelta(t, 0.5, analysis.Categories[domain.ImpactData], 1e-9)
	// pipeline: 0.1 base + 0.2 execution time + 0.2 capped deps + 0.1 criticality
	assert.InDelta(t, 0.6, analysis.Categories[domain.ImpactPipeline], 1e-9)
	// business: 0.6 criticality base + 0.2 sla + 0.1 visibility + 0.1 reporting
	assert.InDelta(t, 1.0, analysis.Categories[domain.ImpactBusiness], 1e-9)
	// resource: 0.1 base + 0 compute + 0.1 storage + 0.2 cost
	assert.InDelta(t, 0.4, analysis.Categories[domain.ImpactResource], 1e-9)
	assert.InDelta(t, 0.62, analysis.Overall, 1e-9)
	assert.Equal(t, domain.ImpactHigh, analysis.Level)
}

func TestAnalyzeVolumeShareIsCapped(t *testing.T) {
	svc := newImpactService(config.ImpactTables{})
	action := &domain.HealingAction{ID: "retry-1", ActionType: "pipeline_retry"}
	issue := domain.Issue{Details: map[string]interface{}{
		"volume":       5_000_000,
		"record_count": 100,
	}}

	analysis := svc.Analyze(action, issue, nil)

	// Explicit volume wins over record_count and the share tops out at 0.2.
	assert.InDelta(t, 0.3, analysis.Categories[domain.ImpactData], 1e-9)
}

func TestAnalyzeActionBaseOverride(t *testing.T) {
	svc := newImpactService(config.ImpactTables{
		ActionBase: map[string]map[domain.ImpactCategory]float64{
			"schema_fix": {
				domain.ImpactData:     0.6,
				domain.ImpactPipeline: 0.3,
			},
		},
	})
	action := &domain.HealingAction{ID: "fix-1", ActionType: "schema_fix"}
	issue := domain.Issue{Details: map[string]interface{}{"criticality": "high"}}

	analysis := svc.Analyze(action, issue, nil)

	assert.InDelta(t, 0.8, analysis.Categories[domain.ImpactData], 1e-9)
	assert.InDelta(t, 0.3, analysis.Categories[domain.ImpactPipeline], 1e-9)
	// Categories without an override keep the default base.
	assert.InDelta(t, 0.1, analysis.Categories[domain.ImpactResource], 1e-9)
}

func TestAnalyzeResourceScaling(t *testing.T) {
	svc := newImpactService(config.ImpactTables{})

	tests := []struct {
		name        string
		scaleFactor float64
		want        float64
	}{
		{name: "aggressive scaling adds risk", scaleFactor: 3, want: 0.3},
		{name: "doubling does not", scaleFactor: 2, want: 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := &domain.HealingAction{ID: "scale-1", ActionType: "resource_scaling"}
			issue := domain.Issue{Details: map[string]interface{}{"scale_factor": tt.scaleFactor}}

			analysis := svc.Analyze(action, issue, nil)
			assert.InDelta(t, tt.want, analysis.Categories[domain.ImpactResource], 1e-9)
		})
	}
}

func TestAnalyzeContextSuppliesMissingDetails(t *testing.T) {
	svc := newImpactService(config.ImpactTables{})
	action := &domain.HealingAction{ID: "retry-1", ActionType: "pipeline_retry"}
	issueCtx := map[string]interface{}{"criticality": "high"}

	analysis := svc.Analyze(action, domain.Issue{}, issueCtx)

	assert.InDelta(t, 0.3, analysis.Categories[domain.ImpactData], 1e-9)
	assert.InDelta(t, 0.6, analysis.Categories[domain.ImpactBusiness], 1e-9)
	assert.InDelta(t, 0.28, analysis.Overall, 1e-9)
	assert.Equal(t, domain.ImpactLow, analysis.Level)
}

func TestAnalyzeRecoversFromPanic(t *testing.T) {
	svc := newImpactService(config.ImpactTables{})

	analysis := svc.Analyze(nil, domain.Issue{ID: "iss-3"}, nil)

	assert.InDelta(t, 0.5, analysis.Overall, 1e-9)
	assert.Equal(t, domain.ImpactMedium, analysis.Level)
	for _, category := range []domain.ImpactCategory{
		domain.ImpactData, domain.ImpactPipeline, domain.ImpactBusiness, domain.ImpactResource,
	} {
		assert.InDelta(t, 0.5, analysis.Categories[category], 1e-9)
	}
	assert.Contains(t, analysis.Details["error"], "panic")
}
