package service

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/domain"
)

// ActionHistory exposes prior healing outcomes, newest first, for the
// historical confidence factor.
type ActionHistory interface {
	RecentOutcomes(ctx context.Context, actionType string, limit int) ([]domain.ActionOutcome, error)
}

// ConfidenceOptions tunes the scorer. Zero values fall back to the
// shipped defaults.
type ConfidenceOptions struct {
	Weights           config.ConfidenceWeights
	Thresholds        map[string]float64
	DataTables        map[string]map[string]float64
	MinHistorySamples int
	HistoryWindow     int
	RecencyHalfLife   time.Duration
}

// ConfidenceService estimates how likely a healing action is to succeed
// for an issue. All factors and the overall are clamped to [0,1].
type ConfidenceService struct {
	logger  *zap.Logger
	history ActionHistory
	clock   domain.Clock
	opts    ConfidenceOptions
}

// NewConfidenceService creates the scorer. history may be nil, in which
// case the historical factor is always the neutral prior.
func NewConfidenceService(logger *zap.Logger, history ActionHistory, clock domain.Clock, opts ConfidenceOptions) *ConfidenceService {
	zero := config.ConfidenceWeights{}
	if opts.Weights == zero {
		opts.Weights = config.ConfidenceWeights{Historical: 0.4, Pattern: 0.3, Data: 0.2, Contextual: 0.1}
	}
	if opts.Thresholds == nil {
		opts.Thresholds = map[string]float64{"default": 0.85}
	}
	if opts.DataTables == nil {
		opts.DataTables = config.DefaultDataCharacteristics()
	}
	if opts.MinHistorySamples <= 0 {
		opts.MinHistorySamples = 5
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 50
	}
	if opts.RecencyHalfLife <= 0 {
		opts.RecencyHalfLife = 7 * 24 * time.Hour
	}
	return &ConfidenceService{logger: logger, history: history, clock: clock, opts: opts}
}

// Score computes the confidence that the action resolves the issue.
// pattern may be nil when no known pattern matched.
func (s *ConfidenceService) Score(ctx context.Context, action *domain.HealingAction, issue domain.Issue, pattern *domain.IssuePattern, issueCtx map[string]interface{}) domain.ConfidenceScore {
	details := make(map[string]interface{})

	historical, samples := s.historicalFactor(ctx, action, details)
	patternScore := s.patternFactor(action, issue, pattern)
	dataScore := s.dataFactor(issue, issueCtx, details)
	contextual := s.contextualFactor(issueCtx)

	w := s.opts.Weights
	overall := clamp01(w.Historical*historical + w.Pattern*patternScore + w.Data*dataScore + w.Contextual*contextual)

	return domain.ConfidenceScore{
		Overall:             overall,
		HistoricalSuccess:   historical,
		PatternMatch:        patternScore,
		DataCharacteristics: dataScore,
		Contextual:          contextual,
		SampleCount:         samples,
		Details:             details,
	}
}

// Threshold returns the confidence threshold for an action type, falling
// back to the default.
func (s *ConfidenceService) Threshold(actionType string) float64 {
	if t, ok := s.opts.Thresholds[actionType]; ok {
		return t
	}
	if t, ok := s.opts.Thresholds["default"]; ok {
		return t
	}
	return 0.85
}

// MeetsThreshold reports whether the score clears the action type's bar.
func (s *ConfidenceService) MeetsThreshold(score domain.ConfidenceScore, actionType string) bool {
	return score.Overall >= s.Threshold(actionType)
}

// historicalFactor is the recency-weighted success rate of prior attempts
// of the same action. Below the minimum sample count it returns the
// neutral prior so sparse history neither blesses nor damns an action.
func (s *ConfidenceService) historicalFactor(ctx context.Context, action *domain.HealingAction, details map[string]interface{}) (float64, int) {
	if s.history == nil {
		return 0.5, 0
	}
	outcomes, err := s.history.RecentOutcomes(ctx, action.ActionType, s.opts.HistoryWindow)
	if err != nil {
		s.logger.Warn("action history unavailable, using neutral prior",
			zap.String("action_type", action.ActionType),
			zap.Error(err),
		)
		details["history_error"] = err.Error()
		return 0.5, 0
	}

	matched := outcomes[:0:0]
	for _, o := range outcomes {
		if o.ActionID == "" || o.ActionID == action.ID {
			matched = append(matched, o)
		}
	}
	if len(matched) < s.opts.MinHistorySamples {
		details["history_samples"] = len(matched)
		return 0.5, len(matched)
	}

	now := s.clock.Now()
	var weightSum, successSum float64
	for _, o := range matched {
		age := now.Sub(o.ExecutedAt)
		if age < 0 {
			age = 0
		}
		weight := math.Pow(0.5, age.Hours()/s.opts.RecencyHalfLife.Hours())
		weightSum += weight
		if o.Success {
			successSum += weight
		}
	}
	if weightSum == 0 {
		return 0.5, len(matched)
	}
	details["history_samples"] = len(matched)
	return clamp01(successSum / weightSum), len(matched)
}

// patternFactor blends how well the issue matches the pattern's attributes
// with how close the candidate action is to the pattern's canonical one.
func (s *ConfidenceService) patternFactor(action *domain.HealingAction, issue domain.Issue, pattern *domain.IssuePattern) float64 {
	if pattern == nil {
		return 0.5
	}

	attrScore := 1.0
	if len(pattern.Attributes) > 0 {
		matched := 0
		for k, want := range pattern.Attributes {
			if got, ok := issue.Details[k]; ok && stringify(got) == stringify(want) {
				matched++
			}
		}
		attrScore = float64(matched) / float64(len(pattern.Attributes))
	}

	actionScore := tokenOverlap(pattern.CanonicalAction, action.ActionType)
	if pattern.CanonicalAction == action.ActionType || pattern.CanonicalAction == action.ID {
		actionScore = 1.0
	}

	return clamp01(0.5*attrScore + 0.5*actionScore)
}

// dataFactor averages the configured discrete mappings for the data-shape
// factors present in the issue details or context. Returns the neutral
// prior when none is present.
func (s *ConfidenceService) dataFactor(issue domain.Issue, issueCtx map[string]interface{}, details map[string]interface{}) float64 {
	var sum float64
	factors := 0
	for name, table := range s.opts.DataTables {
		level, ok := s.factorLevel(name, issue, issueCtx)
		if !ok {
			continue
		}
		score, ok := table[level]
		if !ok {
			continue
		}
		details["data_"+name] = level
		sum += score
		factors++
	}
	if factors == 0 {
		return 0.5
	}
	return clamp01(sum / float64(factors))
}

func (s *ConfidenceService) factorLevel(name string, issue domain.Issue, issueCtx map[string]interface{}) (string, bool) {
	raw, ok := issue.Details[name]
	if !ok {
		raw, ok = issueCtx[name]
	}
	if !ok && name == "volume" {
		raw, ok = issue.Details["record_count"]
	}
	if !ok {
		return "", false
	}
	if level, isString := raw.(string); isString {
		return strings.ToLower(level), true
	}
	v, numeric := toFloat(raw)
	if !numeric {
		return "", false
	}
	switch {
	case v < 1e5:
		return "low", true
	case v < 1e6:
		return "medium", true
	default:
		return "high", true
	}
}

// contextualFactor adjusts a neutral base for environment, business hours
// and declared maintenance windows.
func (s *ConfidenceService) contextualFactor(issueCtx map[string]interface{}) float64 {
	score := 0.5

	now := s.clock.Now().UTC()
	if businessHours(now) {
		score += 0.1
	}

	if env, ok := issueCtx["environment"].(string); ok {
		switch strings.ToLower(env) {
		case "prod", "production":
			score -= 0.2
		case "staging", "stg":
			score += 0.1
		case "dev", "development", "test":
			score += 0.2
		}
	}
	if flag, ok := issueCtx["maintenance_window"].(bool); ok && flag {
		score += 0.2
	}
	return clamp01(score)
}

// businessHours reports whether t falls on a weekday between 09:00 and
// 17:00 UTC.
func businessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 17
}

func tokenOverlap(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	as := strings.FieldsFunc(strings.ToLower(a), func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	bs := strings.FieldsFunc(strings.ToLower(b), func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(as))
	for _, t := range as {
		set[t] = struct{}{}
	}
	union := make(map[string]struct{}, len(as)+len(bs))
	for _, t := range as {
		union[t] = struct{}{}
	}
	shared := 0
	for _, t := range bs {
		if _, ok := set[t]; ok {
			shared++
		}
		union[t] = struct{}{}
	}
	return float64(shared) / float64(len(union))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
