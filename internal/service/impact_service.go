package service

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/domain"
)

const defaultActionBase = 0.1

// ImpactService estimates the blast radius of a healing action across the
// data, pipeline, business and resource categories. It must never fail the
// decision path: any internal error degrades to a moderate 0.5 estimate.
type ImpactService struct {
	logger *zap.Logger
	tables config.ImpactTables
}

// NewImpactService creates the analyzer. Missing tables fall back to the
// shipped defaults.
func NewImpactService(logger *zap.Logger, tables config.ImpactTables) *ImpactService {
	if len(tables.Weights) == 0 {
		tables.Weights = map[domain.ImpactCategory]float64{
			domain.ImpactData:     0.4,
			domain.ImpactPipeline: 0.3,
			domain.ImpactBusiness: 0.2,
			domain.ImpactResource: 0.1,
		}
	}
	if len(tables.Adds) == 0 {
		tables.Adds = config.DefaultImpactAdds()
	}
	return &ImpactService{logger: logger, tables: tables}
}

// Analyze scores the action against the issue. Category scores and the
// overall are clamped to [0,1].
func (s *ImpactService) Analyze(action *domain.HealingAction, issue domain.Issue, issueCtx map[string]interface{}) (analysis domain.ImpactAnalysis) {
	actionType := ""
	if action != nil {
		actionType = action.ActionType
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("impact analysis panicked, using moderate default",
				zap.String("action_type", actionType),
				zap.Any("panic", r),
			)
			analysis = s.moderateDefault(fmt.Sprintf("panic: %v", r))
		}
	}()

	in := impactInput{action: action, issue: issue, ctx: issueCtx}

	categories := map[domain.ImpactCategory]float64{
		domain.ImpactData:     s.dataImpact(in),
		domain.ImpactPipeline: s.pipelineImpact(in),
		domain.ImpactBusiness: s.businessImpact(in),
		domain.ImpactResource: s.resourceImpact(in),
	}

	var weightSum, scoreSum float64
	for category, score := range categories {
		weight := s.tables.Weights[category]
		weightSum += weight
		scoreSum += weight * score
	}
	overall := 0.0
	if weightSum > 0 {
		overall = clamp01(scoreSum / weightSum)
	}

	return domain.ImpactAnalysis{
		Overall:    overall,
		Level:      domain.ImpactLevelFor(overall),
		Categories: categories,
		Details: map[string]interface{}{
			"action_type": actionType,
			"issue_id":    issue.ID,
		},
	}
}

// moderateDefault is the failure posture: mid-range impact in every
// category so a broken analyzer neither blocks nor blesses an action.
func (s *ImpactService) moderateDefault(reason string) domain.ImpactAnalysis {
	categories := map[domain.ImpactCategory]float64{
		domain.ImpactData:     0.5,
		domain.ImpactPipeline: 0.5,
		domain.ImpactBusiness: 0.5,
		domain.ImpactResource: 0.5,
	}
	return domain.ImpactAnalysis{
		Overall:    0.5,
		Level:      domain.ImpactLevelFor(0.5),
		Categories: categories,
		Details:    map[string]interface{}{"error": reason},
	}
}

type impactInput struct {
	action *domain.HealingAction
	issue  domain.Issue
	ctx    map[string]interface{}
}

func (in impactInput) lookup(key string) (interface{}, bool) {
	if v, ok := in.issue.Details[key]; ok {
		return v, true
	}
	v, ok := in.ctx[key]
	return v, ok
}

func (in impactInput) number(key string) float64 {
	raw, ok := in.lookup(key)
	if !ok {
		return 0
	}
	v, numeric := toFloat(raw)
	if !numeric {
		return 0
	}
	return v
}

func (in impactInput) level(key string) string {
	raw, ok := in.lookup(key)
	if !ok {
		return ""
	}
	if s, ok := raw.(string); ok {
		return strings.ToLower(s)
	}
	return ""
}

func (in impactInput) flag(key string) bool {
	raw, ok := in.lookup(key)
	if !ok {
		return false
	}
	b, ok := raw.(bool)
	return ok && b
}

func (s *ImpactService) base(actionType string, category domain.ImpactCategory) float64 {
	if perCategory, ok := s.tables.ActionBase[actionType]; ok {
		if base, ok := perCategory[category]; ok {
			return base
		}
	}
	return defaultActionBase
}

func (s *ImpactService) add(table, level string) float64 {
	if level == "" {
		return 0
	}
	return s.tables.Adds[table][level]
}

func (s *ImpactService) dataImpact(in impactInput) float64 {
	score := s.base(in.action.ActionType, domain.ImpactData)
	volume := in.number("volume")
	if volume == 0 {
		volume = in.number("record_count")
	}
	volumeShare := volume / 1e6
	if volumeShare > 1 {
		volumeShare = 1
	}
	score += volumeShare * 0.2
	score += s.add("criticality", in.level("criticality"))
	score += s.add("visibility", in.level("visibility"))
	return clamp01(score)
}

func (s *ImpactService) pipelineImpact(in impactInput) float64 {
	score := s.base(in.action.ActionType, domain.ImpactPipeline)
	score += s.add("execution_time", in.level("execution_time"))
	depShare := in.number("dep_count") / 20
	if depShare > 0.2 {
		depShare = 0.2
	}
	score += depShare
	score += s.add("pipeline_criticality", in.level("pipeline_criticality"))
	return clamp01(score)
}

func (s *ImpactService) businessImpact(in impactInput) float64 {
	score := s.add("criticality_base", in.level("criticality"))
	if in.flag("approaching_sla") {
		score += 0.2
	}
	score += s.add("visibility", in.level("visibility"))
	if in.flag("affects_reporting") {
		score += 0.1
	}
	return clamp01(score)
}

func (s *ImpactService) resourceImpact(in impactInput) float64 {
	score := s.base(in.action.ActionType, domain.ImpactResource)
	score += s.add("compute", in.level("compute"))
	score += s.add("storage", in.level("storage"))
	score += s.add("cost", in.level("cost"))
	if in.action.ActionType == "resource_scaling" && in.number("scale_factor") > 2 {
		score += 0.2
	}
	return clamp01(score)
}
