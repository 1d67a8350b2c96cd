package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// fakeClock is an advanceable clock for time-sensitive tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDetector returns a canned verdict, or an error when set.
type fakeDetector struct {
	anomalous bool
	err       error
	calls     int
	lastLen   int
}

func (d *fakeDetector) DetectAnomaly(_ context.Context, series []float64, _ string, _ float64, _ string) (bool, error) {
	d.calls++
	d.lastLen = len(series)
	if d.err != nil {
		return false, d.err
	}
	return d.anomalous, nil
}

// staticSeries serves fixed historical series per metric path.
type staticSeries struct {
	data map[string][]float64
	err  error
}

func (s *staticSeries) Series(_ context.Context, path string, limit int) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	series := s.data[path]
	if limit > 0 && limit < len(series) {
		series = series[len(series)-limit:]
	}
	return series, nil
}

// memoryAlertStore is an in-memory AlertStore for generator, correlator,
// and escalation tests.
type memoryAlertStore struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*domain.Alert

	createErr error
	updateErr error
	getErr    error
}

func newMemoryAlertStore() *memoryAlertStore {
	return &memoryAlertStore{alerts: make(map[uuid.UUID]*domain.Alert)}
}

func (s *memoryAlertStore) Create(_ context.Context, alert *domain.Alert) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *memoryAlertStore) Get(_ context.Context, id uuid.UUID) (*domain.Alert, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryAlertStore) List(_ context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, a := range s.alerts {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Severity != nil && a.Severity != *filter.Severity {
			continue
		}
		if filter.AlertType != "" && a.AlertType != filter.AlertType {
			continue
		}
		if filter.Component != "" && a.Component != filter.Component {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryAlertStore) ListActive(_ context.Context) ([]*domain.Alert, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, a := range s.alerts {
		if a.Status == domain.AlertStatusNew {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryAlertStore) transition(id uuid.UUID, from []domain.AlertStatus, apply func(*domain.Alert)) (bool, error) {
	if s.updateErr != nil {
		return false, s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, f := range from {
		if a.Status == f {
			apply(a)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryAlertStore) Acknowledge(_ context.Context, id uuid.UUID, details map[string]interface{}, at time.Time) (bool, error) {
	return s.transition(id, []domain.AlertStatus{domain.AlertStatusNew}, func(a *domain.Alert) {
		a.Status = domain.AlertStatusAcknowledged
		a.AcknowledgedAt = &at
		a.AcknowledgmentDetails = details
		a.UpdatedAt = at
	})
}

func (s *memoryAlertStore) Resolve(_ context.Context, id uuid.UUID, details map[string]interface{}, at time.Time) (bool, error) {
	return s.transition(id, []domain.AlertStatus{domain.AlertStatusNew, domain.AlertStatusAcknowledged}, func(a *domain.Alert) {
		a.Status = domain.AlertStatusResolved
		a.ResolvedAt = &at
		a.ResolutionDetails = details
		a.UpdatedAt = at
	})
}

func (s *memoryAlertStore) Suppress(_ context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	return s.transition(id, []domain.AlertStatus{domain.AlertStatusNew}, func(a *domain.Alert) {
		a.Status = domain.AlertStatusSuppressed
		if a.Context == nil {
			a.Context = map[string]interface{}{}
		}
		a.Context["suppression"] = map[string]interface{}{"reason": reason}
		a.UpdatedAt = at
	})
}

func (s *memoryAlertStore) AddNotification(_ context.Context, id uuid.UUID, attempt domain.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Notifications = append(a.Notifications, attempt)
	return nil
}

func (s *memoryAlertStore) AppendRelated(_ context.Context, id uuid.UUID, related uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.RelatedAlerts = append(a.RelatedAlerts, related)
	return nil
}

func (s *memoryAlertStore) get(id uuid.UUID) *domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[id]
}

func (s *memoryAlertStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// recordingTransport doubles for TeamsTransport and SlackTransport. It
// records messages and can fail or stall on demand.
type recordingTransport struct {
	mu       sync.Mutex
	messages []domain.NotificationMessage
	fail     bool
	delay    time.Duration
}

func (t *recordingTransport) Send(ctx context.Context, msg domain.NotificationMessage) (*domain.DeliveryResult, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
	if t.fail {
		return &domain.DeliveryResult{Success: false, ErrorMessage: "transport refused"}, nil
	}
	return &domain.DeliveryResult{Success: true, Details: "delivered"}, nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *recordingTransport) last() domain.NotificationMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[len(t.messages)-1]
}

func (t *recordingTransport) titles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, m.Title)
	}
	return out
}

// recordingEmail doubles for EmailTransport.
type recordingEmail struct {
	mu         sync.Mutex
	messages   []domain.NotificationMessage
	recipients [][]string
	fail       bool
}

func (t *recordingEmail) Send(_ context.Context, msg domain.NotificationMessage, recipients []string) (bool, error) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.recipients = append(t.recipients, recipients)
	t.mu.Unlock()
	return !t.fail, nil
}

func (t *recordingEmail) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *recordingEmail) lastRecipients() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.recipients) == 0 {
		return nil
	}
	return t.recipients[len(t.recipients)-1]
}

// memoryDedup is an in-memory DedupStore.
type memoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
	err  error
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: make(map[string]struct{})}
}

func (d *memoryDedup) MarkDelivered(_ context.Context, id string, channel domain.NotificationChannel, _ time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	key := id + "|" + string(channel)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

// memoryApprovalStore is an in-memory ApprovalStore with the same
// transition guards the SQL repository enforces.
type memoryApprovalStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*domain.ApprovalRequest
}

func newMemoryApprovalStore() *memoryApprovalStore {
	return &memoryApprovalStore{requests: make(map[uuid.UUID]*domain.ApprovalRequest)}
}

func (s *memoryApprovalStore) Create(_ context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memoryApprovalStore) Get(_ context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *memoryApprovalStore) ListByStatus(_ context.Context, status domain.ApprovalStatus, limit int) ([]*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ApprovalRequest
	for _, req := range s.requests {
		if req.Status != status {
			continue
		}
		cp := *req
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryApprovalStore) Decide(_ context.Context, id uuid.UUID, to domain.ApprovalStatus, approver, reason *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.Status != domain.ApprovalStatusPending || at.After(req.ExpiresAt) {
		return false, nil
	}
	req.Status = to
	req.Approver = approver
	req.RejectionReason = reason
	req.UpdatedAt = at
	return true, nil
}

func (s *memoryApprovalStore) MarkExpired(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.Status != domain.ApprovalStatusPending {
		return false, nil
	}
	req.Status = domain.ApprovalStatusExpired
	req.UpdatedAt = at
	return true, nil
}

func (s *memoryApprovalStore) ExpireBatch(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, req := range s.requests {
		if req.Status == domain.ApprovalStatusPending && now.After(req.ExpiresAt) {
			req.Status = domain.ApprovalStatusExpired
			req.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *memoryApprovalStore) status(id uuid.UUID) domain.ApprovalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id].Status
}

// memoryResolutionStore is an in-memory ResolutionStore with guarded
// transitions.
type memoryResolutionStore struct {
	mu          sync.Mutex
	resolutions map[uuid.UUID]*domain.Resolution
}

func newMemoryResolutionStore() *memoryResolutionStore {
	return &memoryResolutionStore{resolutions: make(map[uuid.UUID]*domain.Resolution)}
}

func (s *memoryResolutionStore) Create(_ context.Context, res *domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *res
	s.resolutions[res.ID] = &cp
	return nil
}

func (s *memoryResolutionStore) Get(_ context.Context, id uuid.UUID) (*domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *memoryResolutionStore) GetByApproval(_ context.Context, approvalID uuid.UUID) (*domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.resolutions {
		if res.ApprovalID != nil && *res.ApprovalID == approvalID {
			cp := *res
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memoryResolutionStore) ListByStatus(_ context.Context, status domain.ResolutionStatus, limit int) ([]*domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Resolution
	for _, res := range s.resolutions {
		if res.Status != status {
			continue
		}
		cp := *res
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryResolutionStore) ListByIssue(_ context.Context, issueID string) ([]*domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Resolution
	for _, res := range s.resolutions {
		if res.IssueID == issueID {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryResolutionStore) BeginAttempt(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if res.Status != domain.ResolutionStatusPending {
		return false, nil
	}
	res.Status = domain.ResolutionStatusInProgress
	res.AttemptCount++
	res.UpdatedAt = at
	return true, nil
}

func (s *memoryResolutionStore) Complete(_ context.Context, id uuid.UUID, result map[string]interface{}, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if res.Status != domain.ResolutionStatusInProgress {
		return false, nil
	}
	res.Status = domain.ResolutionStatusSuccess
	res.ExecutionResult = result
	res.ExecutedAt = &at
	res.UpdatedAt = at
	return true, nil
}

func (s *memoryResolutionStore) Fail(_ context.Context, id uuid.UUID, result map[string]interface{}, terminal bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if res.Status != domain.ResolutionStatusInProgress {
		return false, nil
	}
	if terminal {
		res.Status = domain.ResolutionStatusFailed
	} else {
		res.Status = domain.ResolutionStatusPending
	}
	res.ExecutionResult = result
	res.UpdatedAt = at
	return true, nil
}

func (s *memoryResolutionStore) ResolveApproval(_ context.Context, id uuid.UUID, approval domain.ApprovalStatus, to domain.ResolutionStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if res.Status != domain.ResolutionStatusApprovalRequired {
		return false, nil
	}
	res.Status = to
	res.ApprovalStatus = &approval
	res.UpdatedAt = at
	return true, nil
}

func (s *memoryResolutionStore) get(id uuid.UUID) *domain.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolutions[id]
}

// memoryActionCatalog is an in-memory ActionCatalog.
type memoryActionCatalog struct {
	mu      sync.Mutex
	actions map[string]*domain.HealingAction
}

func newMemoryActionCatalog(actions ...*domain.HealingAction) *memoryActionCatalog {
	c := &memoryActionCatalog{actions: make(map[string]*domain.HealingAction)}
	for _, a := range actions {
		cp := *a
		c.actions[a.ID] = &cp
	}
	return c
}

func (c *memoryActionCatalog) Create(_ context.Context, action *domain.HealingAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.actions[action.ID]; ok {
		return domain.ErrDuplicateEntry
	}
	cp := *action
	c.actions[action.ID] = &cp
	return nil
}

func (c *memoryActionCatalog) Update(_ context.Context, action *domain.HealingAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.actions[action.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *action
	c.actions[action.ID] = &cp
	return nil
}

func (c *memoryActionCatalog) Get(_ context.Context, id string) (*domain.HealingAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.actions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (c *memoryActionCatalog) List(_ context.Context) ([]*domain.HealingAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.HealingAction, 0, len(c.actions))
	for _, a := range c.actions {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (c *memoryActionCatalog) ListByType(_ context.Context, actionType string) ([]*domain.HealingAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.HealingAction
	for _, a := range c.actions {
		if a.ActionType == actionType {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memoryOutcomes doubles for ActionHistory and OutcomeRecorder. Outcomes
// are returned newest first, the order the scorer expects.
type memoryOutcomes struct {
	mu       sync.Mutex
	outcomes []domain.ActionOutcome
	err      error
}

func (h *memoryOutcomes) RecentOutcomes(_ context.Context, actionType string, limit int) ([]domain.ActionOutcome, error) {
	if h.err != nil {
		return nil, h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.ActionOutcome
	for i := len(h.outcomes) - 1; i >= 0; i-- {
		if h.outcomes[i].ActionType != actionType {
			continue
		}
		out = append(out, h.outcomes[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (h *memoryOutcomes) RecordOutcome(_ context.Context, outcome *domain.ActionOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, *outcome)
	return nil
}

func (h *memoryOutcomes) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outcomes)
}

// scriptedExecutor fails the first N executions, then succeeds.
type scriptedExecutor struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (e *scriptedExecutor) Execute(_ context.Context, action *domain.HealingAction, _ *domain.Resolution) (map[string]interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return nil, fmt.Errorf("execution attempt %d failed", e.calls)
	}
	return map[string]interface{}{"action_id": action.ID, "attempt": e.calls}, nil
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// recordingPublisher captures lifecycle events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishAlert(event string, alert *domain.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event+":"+alert.ID.String())
}

func (p *recordingPublisher) has(prefix string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}
