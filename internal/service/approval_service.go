package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
)

// ApprovalStore persists approval requests. Decide and MarkExpired are
// guarded on (status = pending, TTL) and return false when the guard
// fails, so concurrent approvers cannot double-decide a request.
type ApprovalStore interface {
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	ListByStatus(ctx context.Context, status domain.ApprovalStatus, limit int) ([]*domain.ApprovalRequest, error)
	Decide(ctx context.Context, id uuid.UUID, to domain.ApprovalStatus, approver, reason *string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ExpireBatch(ctx context.Context, now time.Time) (int64, error)
}

// ApprovalListener observes approval decisions. The healing service
// registers itself to advance resolutions that wait on a request.
type ApprovalListener interface {
	OnApprovalDecided(ctx context.Context, req *domain.ApprovalRequest)
}

// ApprovalPolicyInput carries everything the manual-approval policy needs
// to decide whether an action may run unattended.
type ApprovalPolicyInput struct {
	ActionType    string
	Mode          domain.HealingMode
	RiskScore     float64
	ImpactLevel   domain.ImpactLevel
	Confidence    domain.ConfidenceScore
	ConfidenceMet bool
}

// CreateApprovalParams is a request to open a pending approval.
type CreateApprovalParams struct {
	ActionID         string
	ActionType       string
	IssueID          string
	IssueDescription string
	ActionDetails    map[string]interface{}
	Confidence       float64
	ImpactScore      float64
	ImpactLevel      domain.ImpactLevel
	Requester        string
	Context          map[string]interface{}
}

// ApprovalOptions configures TTL, sweep cadence, and the policy bits.
type ApprovalOptions struct {
	TTL                          time.Duration
	SweepInterval                time.Duration
	Settings                     map[string]domain.ApprovalSetting
	BusinessHoursRequireApproval bool
}

// ApprovalService owns the approval request lifecycle: creation, guarded
// decisions, lazy expiry on read, and the periodic expiry sweep.
type ApprovalService struct {
	logger  *zap.Logger
	store   ApprovalStore
	metrics *observability.Metrics
	clock   domain.Clock
	opts    ApprovalOptions

	listenerMu sync.RWMutex
	listener   ApprovalListener

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewApprovalService creates the approval manager.
func NewApprovalService(logger *zap.Logger, store ApprovalStore, metrics *observability.Metrics, clock domain.Clock, opts ApprovalOptions) *ApprovalService {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.Settings == nil {
		opts.Settings = make(map[string]domain.ApprovalSetting)
	}
	return &ApprovalService{
		logger:  logger,
		store:   store,
		metrics: metrics,
		clock:   clock,
		opts:    opts,
	}
}

// SetListener registers the decision listener. Wired after construction
// because the healing service both feeds and consumes approvals.
func (s *ApprovalService) SetListener(listener ApprovalListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = listener
}

// RequiresManualApproval applies the layered policy: healing mode first,
// explicit per-action settings next, then confidence, business hours, and
// finally the mode's risk threshold.
func (s *ApprovalService) RequiresManualApproval(in ApprovalPolicyInput) bool {
	switch in.Mode {
	case domain.HealingDisabled, domain.HealingRecommendationOnly:
		return true
	}

	switch s.opts.Settings[in.ActionType] {
	case domain.ApprovalAlways:
		return true
	case domain.ApprovalNever:
		return false
	case domain.ApprovalHighImpactOnly:
		if in.ImpactLevel == domain.ImpactHigh || in.ImpactLevel == domain.ImpactCritical {
			return true
		}
	case domain.ApprovalCriticalOnly:
		if in.ImpactLevel == domain.ImpactCritical {
			return true
		}
	}

	if !in.ConfidenceMet {
		return true
	}
	if s.opts.BusinessHoursRequireApproval && businessHours(s.clock.Now().UTC()) {
		return true
	}

	switch in.Mode {
	case domain.HealingAutomatic:
		return in.RiskScore > 0.8
	case domain.HealingSemiAutomatic:
		// The semi-automatic bar scales with confidence: the less sure we
		// are, the lower the risk we tolerate unattended.
		return in.RiskScore > 0.8*in.Confidence.Overall
	default:
		return true
	}
}

// CreateRequest opens a pending approval with the configured TTL.
func (s *ApprovalService) CreateRequest(ctx context.Context, params CreateApprovalParams) (*domain.ApprovalRequest, error) {
	now := s.clock.Now()
	req := &domain.ApprovalRequest{
		ID:               uuid.New(),
		ActionID:         params.ActionID,
		ActionType:       params.ActionType,
		IssueID:          params.IssueID,
		IssueDescription: params.IssueDescription,
		ActionDetails:    params.ActionDetails,
		ConfidenceScore:  params.Confidence,
		ImpactScore:      params.ImpactScore,
		ImpactLevel:      params.ImpactLevel,
		Status:           domain.ApprovalStatusPending,
		Requester:        params.Requester,
		Context:          params.Context,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.opts.TTL),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("creating approval request: %w", err)
	}
	s.logger.Info("approval request created",
		zap.String("request_id", req.ID.String()),
		zap.String("action_type", req.ActionType),
		zap.String("issue_id", req.IssueID),
		zap.Time("expires_at", req.ExpiresAt),
	)
	return req, nil
}

// Get returns the request, lazily expiring it first when its TTL has
// passed while still pending.
func (s *ApprovalService) Get(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting approval request %s: %w", id, err)
	}
	if req.Status == domain.ApprovalStatusPending && req.Expired(s.clock.Now()) {
		if expired := s.expireOne(ctx, req); expired != nil {
			return expired, nil
		}
	}
	return req, nil
}

// Approve moves a pending, unexpired request to approved. Returns false
// when the request is already decided or expired.
func (s *ApprovalService) Approve(ctx context.Context, id uuid.UUID, approver string) (bool, error) {
	return s.decide(ctx, id, domain.ApprovalStatusApproved, approver, "")
}

// Reject moves a pending, unexpired request to rejected.
func (s *ApprovalService) Reject(ctx context.Context, id uuid.UUID, approver, reason string) (bool, error) {
	return s.decide(ctx, id, domain.ApprovalStatusRejected, approver, reason)
}

func (s *ApprovalService) decide(ctx context.Context, id uuid.UUID, to domain.ApprovalStatus, approver, reason string) (bool, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("getting approval request %s: %w", id, err)
	}

	now := s.clock.Now()
	if req.Status == domain.ApprovalStatusPending && req.Expired(now) {
		s.expireOne(ctx, req)
		return false, nil
	}
	if req.Status != domain.ApprovalStatusPending {
		return false, nil
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	ok, err := s.store.Decide(ctx, id, to, &approver, reasonPtr, now)
	if err != nil {
		return false, fmt.Errorf("deciding approval request %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}

	req.Status = to
	req.Approver = &approver
	req.RejectionReason = reasonPtr
	req.UpdatedAt = now
	s.metrics.ApprovalDecided(string(to))
	s.logger.Info("approval request decided",
		zap.String("request_id", id.String()),
		zap.String("status", string(to)),
		zap.String("approver", approver),
	)
	s.notifyListener(ctx, req)
	return true, nil
}

// expireOne persists the lazy expiry and notifies the listener. Returns
// the updated request, or nil when another writer won the race.
func (s *ApprovalService) expireOne(ctx context.Context, req *domain.ApprovalRequest) *domain.ApprovalRequest {
	now := s.clock.Now()
	ok, err := s.store.MarkExpired(ctx, req.ID, now)
	if err != nil {
		s.logger.Warn("failed to persist lazy expiry",
			zap.String("request_id", req.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	if !ok {
		return nil
	}
	req.Status = domain.ApprovalStatusExpired
	req.UpdatedAt = now
	s.metrics.ApprovalDecided(string(domain.ApprovalStatusExpired))
	s.notifyListener(ctx, req)
	return req
}

// Pending lists the currently pending requests.
func (s *ApprovalService) Pending(ctx context.Context, limit int) ([]*domain.ApprovalRequest, error) {
	reqs, err := s.store.ListByStatus(ctx, domain.ApprovalStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	return reqs, nil
}

// CleanupExpired sweeps every pending request whose TTL elapsed in one
// batch and returns how many were expired.
func (s *ApprovalService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()

	// Collect the soon-to-expire requests first so listeners still see
	// them after the batch flips their status.
	pending, err := s.store.ListByStatus(ctx, domain.ApprovalStatusPending, 0)
	if err != nil {
		return 0, fmt.Errorf("listing pending approvals: %w", err)
	}

	count, err := s.store.ExpireBatch(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expiring approvals: %w", err)
	}
	if count > 0 {
		s.logger.Info("expired approval requests", zap.Int64("count", count))
		for _, req := range pending {
			if !req.Expired(now) {
				continue
			}
			req.Status = domain.ApprovalStatusExpired
			req.UpdatedAt = now
			s.metrics.ApprovalDecided(string(domain.ApprovalStatusExpired))
			s.notifyListener(ctx, req)
		}
	}
	return count, nil
}

// Start launches the periodic expiry sweep.
func (s *ApprovalService) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	s.logger.Info("approval sweeper started", zap.Duration("interval", s.opts.SweepInterval))
}

// Stop halts the sweep and waits for the current pass to finish.
func (s *ApprovalService) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.runMu.Unlock()
	<-done
	s.logger.Info("approval sweeper stopped")
}

func (s *ApprovalService) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(context.Background()); err != nil {
				s.logger.Error("approval expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *ApprovalService) notifyListener(ctx context.Context, req *domain.ApprovalRequest) {
	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()
	if listener == nil {
		return
	}
	listener.OnApprovalDecided(ctx, req)
}
