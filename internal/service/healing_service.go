package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
)

// ActionCatalog exposes the registered healing actions.
type ActionCatalog interface {
	Create(ctx context.Context, action *domain.HealingAction) error
	Update(ctx context.Context, action *domain.HealingAction) error
	Get(ctx context.Context, id string) (*domain.HealingAction, error)
	List(ctx context.Context) ([]*domain.HealingAction, error)
	ListByType(ctx context.Context, actionType string) ([]*domain.HealingAction, error)
}

// OutcomeRecorder persists executed-attempt outcomes for the confidence
// scorer's historical factor.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome *domain.ActionOutcome) error
}

// ResolutionStore persists resolutions. All transition methods are guarded
// on the expected source status and return false when the guard fails.
type ResolutionStore interface {
	Create(ctx context.Context, res *domain.Resolution) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Resolution, error)
	GetByApproval(ctx context.Context, approvalID uuid.UUID) (*domain.Resolution, error)
	ListByStatus(ctx context.Context, status domain.ResolutionStatus, limit int) ([]*domain.Resolution, error)
	ListByIssue(ctx context.Context, issueID string) ([]*domain.Resolution, error)

	// BeginAttempt moves pending to in_progress and increments the
	// attempt counter.
	BeginAttempt(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// Complete moves in_progress to success with the execution result.
	Complete(ctx context.Context, id uuid.UUID, result map[string]interface{}, at time.Time) (bool, error)
	// Fail moves in_progress back to pending, or to failed when terminal.
	Fail(ctx context.Context, id uuid.UUID, result map[string]interface{}, terminal bool, at time.Time) (bool, error)
	// ResolveApproval moves approval_required to the given status and
	// records the approval outcome.
	ResolveApproval(ctx context.Context, id uuid.UUID, approval domain.ApprovalStatus, to domain.ResolutionStatus, at time.Time) (bool, error)
}

// ActionExecutor performs the real remediation for a selected action.
type ActionExecutor interface {
	Execute(ctx context.Context, action *domain.HealingAction, res *domain.Resolution) (map[string]interface{}, error)
}

// SimulationExecutor is the default dry-run executor: it reports success
// without touching anything, flagging the result as simulated.
type SimulationExecutor struct {
	logger *zap.Logger
}

func NewSimulationExecutor(logger *zap.Logger) *SimulationExecutor {
	return &SimulationExecutor{logger: logger}
}

func (e *SimulationExecutor) Execute(_ context.Context, action *domain.HealingAction, res *domain.Resolution) (map[string]interface{}, error) {
	e.logger.Info("simulated healing action",
		zap.String("action_id", action.ID),
		zap.String("action_type", action.ActionType),
		zap.String("resolution_id", res.ID.String()),
	)
	return map[string]interface{}{
		"simulated": true,
		"action_id": action.ID,
	}, nil
}

// HealingOptions configures the selector and the attempt loop.
type HealingOptions struct {
	Mode            domain.HealingMode
	ImpactThreshold float64
	MaxAttempts     int
	Requester       string
	Patterns        []domain.IssuePattern
}

// HealingService selects the best healing action for an issue, mediates
// approval, and drives bounded execution attempts. It implements
// ApprovalListener so decided requests advance their resolutions.
type HealingService struct {
	logger      *zap.Logger
	actions     ActionCatalog
	resolutions ResolutionStore
	outcomes    OutcomeRecorder
	confidence  *ConfidenceService
	impact      *ImpactService
	approvals   *ApprovalService
	executor    ActionExecutor
	metrics     *observability.Metrics
	clock       domain.Clock

	mu   sync.RWMutex
	opts HealingOptions
}

// NewHealingService creates the selector. executor may be nil, in which
// case execution attempts fail with a typed error.
func NewHealingService(
	logger *zap.Logger,
	actions ActionCatalog,
	resolutions ResolutionStore,
	outcomes OutcomeRecorder,
	confidence *ConfidenceService,
	impact *ImpactService,
	approvals *ApprovalService,
	executor ActionExecutor,
	metrics *observability.Metrics,
	clock domain.Clock,
	opts HealingOptions,
) *HealingService {
	if opts.Mode == "" {
		opts.Mode = domain.HealingSemiAutomatic
	}
	if opts.ImpactThreshold <= 0 {
		opts.ImpactThreshold = 0.6
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Requester == "" {
		opts.Requester = "pipeguard"
	}
	return &HealingService{
		logger:      logger,
		actions:     actions,
		resolutions: resolutions,
		outcomes:    outcomes,
		confidence:  confidence,
		impact:      impact,
		approvals:   approvals,
		executor:    executor,
		metrics:     metrics,
		clock:       clock,
		opts:        opts,
	}
}

// Mode returns the current healing mode.
func (s *HealingService) Mode() domain.HealingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Mode
}

// SetMode changes the healing mode at runtime.
func (s *HealingService) SetMode(mode domain.HealingMode) error {
	if !mode.Valid() {
		return domain.NewValidationError("mode", fmt.Sprintf("unknown healing mode %q", mode))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Mode = mode
	return nil
}

// UpdatePatterns swaps the known issue patterns, used by config reload.
func (s *HealingService) UpdatePatterns(patterns []domain.IssuePattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Patterns = patterns
}

// candidateScore is one evaluated candidate action.
type candidateScore struct {
	action     *domain.HealingAction
	confidence domain.ConfidenceScore
	impact     domain.ImpactAnalysis
	priority   float64
}

// SelectResolution evaluates the registered candidates for the issue's
// action type and returns the persisted winning resolution. Returns
// ErrHealingDisabled when healing is off and ErrNoCandidates when nothing
// clears the thresholds.
func (s *HealingService) SelectResolution(ctx context.Context, issue domain.Issue, issueCtx map[string]interface{}) (*domain.Resolution, error) {
	mode := s.Mode()
	if mode == domain.HealingDisabled {
		return nil, domain.ErrHealingDisabled
	}

	candidates, err := s.actions.ListByType(ctx, issue.ActionType)
	if err != nil {
		return nil, fmt.Errorf("listing healing actions for %q: %w", issue.ActionType, err)
	}

	pattern := s.patternFor(issue)
	scored := make([]candidateScore, 0, len(candidates))
	for _, action := range candidates {
		if !action.Enabled {
			continue
		}
		conf := s.confidence.Score(ctx, action, issue, pattern, issueCtx)
		impact := s.impact.Analyze(action, issue, issueCtx)
		if !s.confidence.MeetsThreshold(conf, action.ActionType) {
			continue
		}
		if impact.Overall > s.impactThreshold() {
			continue
		}
		scored = append(scored, candidateScore{
			action:     action,
			confidence: conf,
			impact:     impact,
			priority:   conf.Overall - impact.Overall,
		})
	}
	if len(scored) == 0 {
		return nil, domain.ErrNoCandidates
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.confidence.Overall != b.confidence.Overall {
			return a.confidence.Overall > b.confidence.Overall
		}
		if a.impact.Overall != b.impact.Overall {
			return a.impact.Overall < b.impact.Overall
		}
		return a.action.ID < b.action.ID
	})
	winner := scored[0]

	now := s.clock.Now()
	impactCopy := winner.impact
	res := &domain.Resolution{
		ID:              uuid.New(),
		IssueID:         issue.ID,
		ActionID:        winner.action.ID,
		ActionType:      winner.action.ActionType,
		ActionDetails:   winner.action.Parameters,
		Status:          domain.ResolutionStatusPending,
		ConfidenceScore: winner.confidence.Overall,
		Impact:          &impactCopy,
		Metadata: map[string]interface{}{
			"issue_description": issue.Description,
			"priority_score":    winner.priority,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if mode == domain.HealingRecommendationOnly {
		res.RecommendationOnly = true
		if err := s.resolutions.Create(ctx, res); err != nil {
			return nil, fmt.Errorf("persisting recommendation: %w", err)
		}
		s.metrics.HealingAttempt(res.ActionType, "recommended")
		s.logger.Info("resolution recommended",
			zap.String("resolution_id", res.ID.String()),
			zap.String("action_id", res.ActionID),
			zap.String("issue_id", issue.ID),
		)
		return res, nil
	}

	requires := s.approvals.RequiresManualApproval(ApprovalPolicyInput{
		ActionType:    winner.action.ActionType,
		Mode:          mode,
		RiskScore:     winner.impact.Overall,
		ImpactLevel:   winner.impact.Level,
		Confidence:    winner.confidence,
		ConfidenceMet: true,
	})
	if requires {
		req, err := s.approvals.CreateRequest(ctx, CreateApprovalParams{
			ActionID:         winner.action.ID,
			ActionType:       winner.action.ActionType,
			IssueID:          issue.ID,
			IssueDescription: issue.Description,
			ActionDetails:    winner.action.Parameters,
			Confidence:       winner.confidence.Overall,
			ImpactScore:      winner.impact.Overall,
			ImpactLevel:      winner.impact.Level,
			Requester:        s.requester(),
			Context:          issueCtx,
		})
		if err != nil {
			return nil, fmt.Errorf("opening approval for resolution: %w", err)
		}
		res.RequiresApproval = true
		res.ApprovalID = &req.ID
		pending := domain.ApprovalStatusPending
		res.ApprovalStatus = &pending
		res.Status = domain.ResolutionStatusApprovalRequired
	}

	if err := s.resolutions.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("persisting resolution: %w", err)
	}
	s.logger.Info("resolution selected",
		zap.String("resolution_id", res.ID.String()),
		zap.String("action_id", res.ActionID),
		zap.String("issue_id", issue.ID),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Float64("impact", winner.impact.Overall),
		zap.Bool("requires_approval", res.RequiresApproval),
	)
	return res, nil
}

// ExecuteResolution runs one bounded attempt of a pending resolution.
// Failed attempts return the resolution to pending until the attempt
// budget is spent; the last failure is terminal.
func (s *HealingService) ExecuteResolution(ctx context.Context, id uuid.UUID) (*domain.Resolution, error) {
	res, err := s.resolutions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting resolution %s: %w", id, err)
	}
	if res.RecommendationOnly {
		return res, domain.NewValidationError("resolution", "recommendation-only resolutions are not executable")
	}
	switch res.Status {
	case domain.ResolutionStatusApprovalRequired:
		return res, domain.ErrApprovalPending
	case domain.ResolutionStatusSuccess, domain.ResolutionStatusFailed:
		return res, domain.ErrTerminalState
	case domain.ResolutionStatusInProgress:
		return res, domain.ErrConflict
	}

	if s.executor == nil {
		return res, fmt.Errorf("no action executor configured")
	}

	action, err := s.actions.Get(ctx, res.ActionID)
	if err != nil {
		return res, fmt.Errorf("getting action %q: %w", res.ActionID, err)
	}

	now := s.clock.Now()
	ok, err := s.resolutions.BeginAttempt(ctx, id, now)
	if err != nil {
		return res, fmt.Errorf("starting attempt for %s: %w", id, err)
	}
	if !ok {
		return res, domain.ErrConflict
	}
	res.Status = domain.ResolutionStatusInProgress
	res.AttemptCount++

	result, execErr := s.executor.Execute(ctx, action, res)
	finished := s.clock.Now()

	if execErr == nil {
		if _, err := s.resolutions.Complete(ctx, id, result, finished); err != nil {
			return res, fmt.Errorf("recording success for %s: %w", id, err)
		}
		res.Status = domain.ResolutionStatusSuccess
		res.ExecutionResult = result
		res.ExecutedAt = &finished
		s.recordOutcome(ctx, res, true)
		s.metrics.HealingAttempt(res.ActionType, "success")
		s.logger.Info("resolution executed",
			zap.String("resolution_id", id.String()),
			zap.String("action_id", res.ActionID),
			zap.Int("attempt", res.AttemptCount),
		)
		return res, nil
	}

	terminal := res.AttemptCount >= s.maxAttempts()
	failure := map[string]interface{}{"error": execErr.Error()}
	if _, err := s.resolutions.Fail(ctx, id, failure, terminal, finished); err != nil {
		return res, fmt.Errorf("recording failure for %s: %w", id, err)
	}
	if terminal {
		res.Status = domain.ResolutionStatusFailed
	} else {
		res.Status = domain.ResolutionStatusPending
	}
	res.ExecutionResult = failure
	s.recordOutcome(ctx, res, false)
	s.metrics.HealingAttempt(res.ActionType, "failure")
	s.logger.Warn("resolution attempt failed",
		zap.String("resolution_id", id.String()),
		zap.String("action_id", res.ActionID),
		zap.Int("attempt", res.AttemptCount),
		zap.Bool("terminal", terminal),
		zap.Error(execErr),
	)
	return res, nil
}

// OnApprovalDecided advances the resolution waiting on the request:
// approval returns it to pending, rejection and expiry fail it.
func (s *HealingService) OnApprovalDecided(ctx context.Context, req *domain.ApprovalRequest) {
	res, err := s.resolutions.GetByApproval(ctx, req.ID)
	if err != nil {
		s.logger.Warn("no resolution found for decided approval",
			zap.String("request_id", req.ID.String()),
			zap.Error(err),
		)
		return
	}

	var to domain.ResolutionStatus
	switch req.Status {
	case domain.ApprovalStatusApproved:
		to = domain.ResolutionStatusPending
	case domain.ApprovalStatusRejected, domain.ApprovalStatusExpired:
		to = domain.ResolutionStatusFailed
	default:
		return
	}

	ok, err := s.resolutions.ResolveApproval(ctx, res.ID, req.Status, to, s.clock.Now())
	if err != nil {
		s.logger.Error("failed to advance resolution after approval decision",
			zap.String("resolution_id", res.ID.String()),
			zap.String("request_id", req.ID.String()),
			zap.Error(err),
		)
		return
	}
	if ok {
		s.logger.Info("resolution advanced by approval decision",
			zap.String("resolution_id", res.ID.String()),
			zap.String("approval_status", string(req.Status)),
			zap.String("resolution_status", string(to)),
		)
	}
}

// Resolution returns one resolution by ID.
func (s *HealingService) Resolution(ctx context.Context, id uuid.UUID) (*domain.Resolution, error) {
	res, err := s.resolutions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting resolution %s: %w", id, err)
	}
	return res, nil
}

// ResolutionsByStatus lists resolutions in a given state.
func (s *HealingService) ResolutionsByStatus(ctx context.Context, status domain.ResolutionStatus, limit int) ([]*domain.Resolution, error) {
	out, err := s.resolutions.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing resolutions: %w", err)
	}
	return out, nil
}

// ResolutionsForIssue lists every resolution recorded for an issue.
func (s *HealingService) ResolutionsForIssue(ctx context.Context, issueID string) ([]*domain.Resolution, error) {
	out, err := s.resolutions.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("listing resolutions for issue %q: %w", issueID, err)
	}
	return out, nil
}

// Actions lists the registered healing actions.
func (s *HealingService) Actions(ctx context.Context) ([]*domain.HealingAction, error) {
	out, err := s.actions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing healing actions: %w", err)
	}
	return out, nil
}

// RegisterAction adds a healing action to the catalog.
func (s *HealingService) RegisterAction(ctx context.Context, action *domain.HealingAction) error {
	if action.ID == "" || action.ActionType == "" {
		return domain.NewValidationError("action", "id and action_type are required")
	}
	now := s.clock.Now()
	action.CreatedAt = now
	action.UpdatedAt = now
	if err := s.actions.Create(ctx, action); err != nil {
		return fmt.Errorf("registering action %q: %w", action.ID, err)
	}
	return nil
}

// SyncCatalog upserts the configured actions into the catalog. Entries
// registered at runtime but absent from the list are left alone.
func (s *HealingService) SyncCatalog(ctx context.Context, actions []domain.HealingAction) error {
	now := s.clock.Now()
	for i := range actions {
		action := actions[i]
		if action.ID == "" || action.ActionType == "" {
			return domain.NewValidationError("action", "id and action_type are required")
		}
		action.CreatedAt = now
		action.UpdatedAt = now
		err := s.actions.Create(ctx, &action)
		if errors.Is(err, domain.ErrDuplicateEntry) {
			err = s.actions.Update(ctx, &action)
		}
		if err != nil {
			return fmt.Errorf("syncing action %q: %w", action.ID, err)
		}
	}
	return nil
}

func (s *HealingService) recordOutcome(ctx context.Context, res *domain.Resolution, success bool) {
	if s.outcomes == nil {
		return
	}
	outcome := &domain.ActionOutcome{
		ID:         uuid.New(),
		ActionType: res.ActionType,
		ActionID:   res.ActionID,
		IssueID:    res.IssueID,
		Parameters: res.ActionDetails,
		Success:    success,
		ExecutedAt: s.clock.Now(),
	}
	if err := s.outcomes.RecordOutcome(ctx, outcome); err != nil {
		s.logger.Warn("failed to record action outcome",
			zap.String("resolution_id", res.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *HealingService) patternFor(issue domain.Issue) *domain.IssuePattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.opts.Patterns {
		if s.opts.Patterns[i].ActionType == issue.ActionType {
			return &s.opts.Patterns[i]
		}
	}
	return nil
}

func (s *HealingService) impactThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.ImpactThreshold
}

func (s *HealingService) maxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.MaxAttempts
}

func (s *HealingService) requester() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Requester
}
