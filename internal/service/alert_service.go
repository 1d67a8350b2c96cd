package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
)

// AlertStore persists alerts and their lifecycle transitions. Transition
// methods return false without error when the status guard fails, so
// callers can distinguish a lost race from a storage fault.
type AlertStore interface {
	Create(ctx context.Context, alert *domain.Alert) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Alert, error)
	List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error)
	ListActive(ctx context.Context) ([]*domain.Alert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, details map[string]interface{}, at time.Time) (bool, error)
	Resolve(ctx context.Context, id uuid.UUID, details map[string]interface{}, at time.Time) (bool, error)
	Suppress(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	AddNotification(ctx context.Context, id uuid.UUID, attempt domain.NotificationAttempt) error
	AppendRelated(ctx context.Context, id uuid.UUID, related uuid.UUID) error
}

// EventPublisher fans alert lifecycle events out to live subscribers.
type EventPublisher interface {
	PublishAlert(event string, alert *domain.Alert)
}

// AlertParams is a request to generate one alert directly, without a rule.
type AlertParams struct {
	AlertType   string                       `json:"alert_type"`
	Description string                       `json:"description"`
	Severity    domain.Severity              `json:"severity"`
	Component   string                       `json:"component"`
	ExecutionID string                       `json:"execution_id"`
	Context     map[string]interface{}       `json:"context"`
	Channels    []domain.NotificationChannel `json:"channels,omitempty"`
}

// WindowCounts is one trailing-window slice of the generation counters.
type WindowCounts struct {
	Count       int            `json:"count"`
	BySeverity  map[string]int `json:"by_severity"`
	ByType      map[string]int `json:"by_type"`
	ByComponent map[string]int `json:"by_component"`
}

// AlertStats reports generation counters for the trailing 1 h and 24 h.
type AlertStats struct {
	TotalGenerated  int64                   `json:"total_generated"`
	TotalSuppressed int64                   `json:"total_suppressed"`
	Windows         map[string]WindowCounts `json:"windows"`
}

type alertStamp struct {
	at        time.Time
	severity  string
	alertType string
	component string
}

// AlertService orchestrates end-to-end alert production: rule evaluation,
// correlation, persistence and notification dispatch.
type AlertService struct {
	logger     *zap.Logger
	store      AlertStore
	engine     *RuleEngine
	correlator *CorrelationService
	router     *NotificationRouter
	publisher  EventPublisher
	metrics    *observability.Metrics
	clock      domain.Clock

	maxConcurrent int

	statsMu         sync.Mutex
	stamps          []alertStamp
	totalGenerated  int64
	totalSuppressed int64
}

// NewAlertService creates the generator. publisher and metrics may be nil.
func NewAlertService(
	logger *zap.Logger,
	store AlertStore,
	engine *RuleEngine,
	correlator *CorrelationService,
	router *NotificationRouter,
	publisher EventPublisher,
	metrics *observability.Metrics,
	clock domain.Clock,
	maxConcurrent int,
) *AlertService {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &AlertService{
		logger:        logger,
		store:         store,
		engine:        engine,
		correlator:    correlator,
		router:        router,
		publisher:     publisher,
		metrics:       metrics,
		clock:         clock,
		maxConcurrent: maxConcurrent,
	}
}

// ProcessMetrics evaluates the metric rules against the payload and
// generates one alert per triggered rule. Generation failures are isolated
// per rule; the returned IDs cover the alerts that were created, and the
// error joins whatever failed.
func (s *AlertService) ProcessMetrics(ctx context.Context, metrics map[string]interface{}, callerCtx map[string]interface{}) ([]uuid.UUID, error) {
	results := s.engine.EvaluateMetrics(ctx, metrics, nil)
	return s.generateFromResults(ctx, results, callerCtx, payloadComponent(metrics, callerCtx), payloadExecutionID(metrics, callerCtx))
}

// ProcessEvents evaluates the event rules against each event and generates
// one alert per triggered rule.
func (s *AlertService) ProcessEvents(ctx context.Context, events []domain.PipelineEvent, callerCtx map[string]interface{}) ([]uuid.UUID, error) {
	var (
		ids  []uuid.UUID
		errs []error
	)
	for _, event := range events {
		results := s.engine.EvaluateEvent(ctx, event, nil)
		eventCtx := mergeContext(map[string]interface{}{
			"event_type":   event.EventType,
			"event_source": event.Source,
		}, callerCtx)
		created, err := s.generateFromResults(ctx, results, eventCtx, event.Component, event.ExecutionID)
		ids = append(ids, created...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return ids, errors.Join(errs...)
}

func (s *AlertService) generateFromResults(ctx context.Context, results []domain.RuleEvaluationResult, callerCtx map[string]interface{}, component, executionID string) ([]uuid.UUID, error) {
	triggered := make([]domain.RuleEvaluationResult, 0, len(results))
	for _, res := range results {
		s.metrics.RuleEvaluated(string(res.RuleType), res.Triggered, evaluationFailed(res))
		if res.Triggered {
			triggered = append(triggered, res)
		}
	}
	if len(triggered) == 0 {
		return nil, nil
	}

	var (
		mu   sync.Mutex
		ids  []uuid.UUID
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for _, res := range triggered {
		res := res
		g.Go(func() error {
			alert, err := s.GenerateAlert(gctx, paramsFromResult(res, callerCtx, component, executionID))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", res.RuleID, err))
				return nil
			}
			ids = append(ids, alert.ID)
			return nil
		})
	}
	_ = g.Wait()
	return ids, errors.Join(errs...)
}

// paramsFromResult maps a triggered evaluation to alert parameters. The
// alert context merges the rule's context, the evaluation details and the
// caller context, the caller winning on key collisions.
func paramsFromResult(res domain.RuleEvaluationResult, callerCtx map[string]interface{}, component, executionID string) AlertParams {
	alertCtx := mergeContext(res.Context, callerCtx)
	if alertCtx == nil {
		alertCtx = make(map[string]interface{})
	}
	alertCtx["rule_id"] = res.RuleID
	if len(res.Details) > 0 {
		alertCtx["evaluation"] = res.Details
	}
	return AlertParams{
		AlertType:   "rule_" + string(res.RuleType),
		Description: fmt.Sprintf("rule %q triggered", res.RuleName),
		Severity:    res.Severity,
		Component:   component,
		ExecutionID: executionID,
		Context:     alertCtx,
	}
}

// GenerateAlert builds, correlates, persists and (unless suppressed)
// notifies one alert.
func (s *AlertService) GenerateAlert(ctx context.Context, params AlertParams) (*domain.Alert, error) {
	if params.AlertType == "" {
		return nil, domain.NewValidationError("alert_type", "is required")
	}
	if params.Severity == "" {
		params.Severity = domain.SeverityMedium
	}
	if !params.Severity.Valid() {
		return nil, domain.NewValidationError("severity", fmt.Sprintf("unknown severity %q", params.Severity))
	}

	now := s.clock.Now()
	alert := &domain.Alert{
		ID:          uuid.New(),
		AlertType:   params.AlertType,
		Description: params.Description,
		Severity:    params.Severity,
		Status:      domain.AlertStatusNew,
		Component:   params.Component,
		ExecutionID: params.ExecutionID,
		Context:     copyContext(params.Context),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	decision := s.correlator.Correlate(ctx, alert)
	if decision.Suppress {
		alert.Status = domain.AlertStatusSuppressed
		if alert.Context == nil {
			alert.Context = make(map[string]interface{}, 1)
		}
		alert.Context["suppression"] = map[string]interface{}{
			"reason":           decision.Reason,
			"group_id":         decision.GroupID.String(),
			"primary_alert_id": decision.PrimaryAlertID.String(),
			"suppressed_at":    now.UTC().Format(time.RFC3339Nano),
		}
		if err := s.store.Create(ctx, alert); err != nil {
			return nil, fmt.Errorf("persisting suppressed alert: %w", err)
		}
		s.recordGenerated(alert, true)
		s.metrics.AlertSuppressed(suppressionKind(decision.Reason))
		s.publish("alert.suppressed", alert)
		s.logger.Info("alert suppressed",
			zap.String("alert_id", alert.ID.String()),
			zap.String("alert_type", alert.AlertType),
			zap.String("reason", decision.Reason),
		)
		return alert, nil
	}

	if err := s.store.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("persisting alert: %w", err)
	}
	s.recordGenerated(alert, false)
	s.metrics.AlertGenerated(string(alert.Severity), alert.AlertType)
	s.publish("alert.created", alert)
	s.logger.Info("alert generated",
		zap.String("alert_id", alert.ID.String()),
		zap.String("alert_type", alert.AlertType),
		zap.String("severity", string(alert.Severity)),
		zap.String("component", alert.Component),
	)

	s.notify(ctx, alert, params.Channels)
	return alert, nil
}

// notify dispatches the alert's notification and records each delivery
// result, in completion order, as a NotificationAttempt. Bookkeeping
// failures are logged: the alert itself is already durable.
func (s *AlertService) notify(ctx context.Context, alert *domain.Alert, explicit []domain.NotificationChannel) {
	msg := s.messageFor(alert)
	results, err := s.router.Send(ctx, msg, explicit)
	if err != nil {
		s.logger.Error("notification dispatch failed",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err),
		)
		return
	}
	for _, res := range results {
		s.metrics.NotificationSent(string(res.Channel), res.Success)
		attempt := domain.NotificationAttempt{
			Channel:   res.Channel,
			Recipient: strings.Join(res.Recipients, ","),
			Success:   res.Success,
			Details:   attemptDetails(res),
			Timestamp: res.Timestamp,
		}
		alert.Notifications = append(alert.Notifications, attempt)
		if err := s.store.AddNotification(ctx, alert.ID, attempt); err != nil {
			s.logger.Error("failed to record notification attempt",
				zap.String("alert_id", alert.ID.String()),
				zap.String("channel", string(res.Channel)),
				zap.Error(err),
			)
		}
	}
}

func (s *AlertService) messageFor(alert *domain.Alert) domain.NotificationMessage {
	fields := map[string]interface{}{
		"alert_id": alert.ID.String(),
	}
	if alert.Component != "" {
		fields["component"] = alert.Component
	}
	if alert.ExecutionID != "" {
		fields["execution_id"] = alert.ExecutionID
	}
	return domain.NotificationMessage{
		NotificationID: "alert:" + alert.ID.String(),
		Title:          fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.AlertType),
		Body:           alert.Description,
		Severity:       alert.Severity,
		AlertType:      alert.AlertType,
		Component:      alert.Component,
		ExecutionID:    alert.ExecutionID,
		Fields:         fields,
		CreatedAt:      alert.CreatedAt,
	}
}

// Acknowledge moves a new alert to acknowledged. Returns false when the
// alert is not in a state that can be acknowledged.
func (s *AlertService) Acknowledge(ctx context.Context, id uuid.UUID, acknowledgedBy string, details map[string]interface{}) (bool, error) {
	details = mergeContext(details, map[string]interface{}{"acknowledged_by": acknowledgedBy})
	ok, err := s.store.Acknowledge(ctx, id, details, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("acknowledging alert %s: %w", id, err)
	}
	if ok {
		s.publishByID(ctx, "alert.acknowledged", id)
	}
	return ok, nil
}

// Resolve moves a new or acknowledged alert to resolved.
func (s *AlertService) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, details map[string]interface{}) (bool, error) {
	details = mergeContext(details, map[string]interface{}{"resolved_by": resolvedBy})
	ok, err := s.store.Resolve(ctx, id, details, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("resolving alert %s: %w", id, err)
	}
	if ok {
		s.publishByID(ctx, "alert.resolved", id)
	}
	return ok, nil
}

// Suppress moves a new alert to suppressed. Suppressing an alert that is
// already suppressed (or otherwise closed) returns false, not an error.
func (s *AlertService) Suppress(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	ok, err := s.store.Suppress(ctx, id, reason, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("suppressing alert %s: %w", id, err)
	}
	if ok {
		s.publishByID(ctx, "alert.suppressed", id)
	}
	return ok, nil
}

// Get returns one alert by ID.
func (s *AlertService) Get(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	alert, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting alert %s: %w", id, err)
	}
	return alert, nil
}

// List returns alerts matching the filter.
func (s *AlertService) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	alerts, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return alerts, nil
}

// ActiveAlerts returns the alerts still in the new state.
func (s *AlertService) ActiveAlerts(ctx context.Context) ([]*domain.Alert, error) {
	alerts, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active alerts: %w", err)
	}
	s.metrics.SetActiveAlerts(len(alerts))
	return alerts, nil
}

// Stats reports the trailing 1 h and 24 h generation counters.
func (s *AlertService) Stats() AlertStats {
	now := s.clock.Now()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.pruneStampsLocked(now)

	stats := AlertStats{
		TotalGenerated:  s.totalGenerated,
		TotalSuppressed: s.totalSuppressed,
		Windows: map[string]WindowCounts{
			"1h":  newWindowCounts(),
			"24h": newWindowCounts(),
		},
	}
	hourAgo := now.Add(-time.Hour)
	for _, stamp := range s.stamps {
		day := stats.Windows["24h"]
		day.add(stamp)
		stats.Windows["24h"] = day
		if !stamp.at.Before(hourAgo) {
			hour := stats.Windows["1h"]
			hour.add(stamp)
			stats.Windows["1h"] = hour
		}
	}
	return stats
}

func newWindowCounts() WindowCounts {
	return WindowCounts{
		BySeverity:  make(map[string]int),
		ByType:      make(map[string]int),
		ByComponent: make(map[string]int),
	}
}

func (w *WindowCounts) add(stamp alertStamp) {
	w.Count++
	w.BySeverity[stamp.severity]++
	w.ByType[stamp.alertType]++
	if stamp.component != "" {
		w.ByComponent[stamp.component]++
	}
}

func (s *AlertService) recordGenerated(alert *domain.Alert, suppressed bool) {
	now := s.clock.Now()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.totalGenerated++
	if suppressed {
		s.totalSuppressed++
	}
	s.stamps = append(s.stamps, alertStamp{
		at:        now,
		severity:  string(alert.Severity),
		alertType: alert.AlertType,
		component: alert.Component,
	})
	s.pruneStampsLocked(now)
}

func (s *AlertService) pruneStampsLocked(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	kept := s.stamps[:0]
	for _, stamp := range s.stamps {
		if stamp.at.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	s.stamps = kept
}

func (s *AlertService) publish(event string, alert *domain.Alert) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishAlert(event, alert)
}

func (s *AlertService) publishByID(ctx context.Context, event string, id uuid.UUID) {
	if s.publisher == nil {
		return
	}
	alert, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.Warn("failed to load alert for event publish",
			zap.String("alert_id", id.String()),
			zap.Error(err),
		)
		return
	}
	s.publisher.PublishAlert(event, alert)
}

func evaluationFailed(res domain.RuleEvaluationResult) bool {
	status, ok := res.Details["status"].(string)
	return ok && status == "error"
}

func suppressionKind(reason string) string {
	if strings.HasPrefix(reason, "rate limit") {
		return "rate_limit"
	}
	return "duplicate"
}

func attemptDetails(res domain.DeliveryResult) string {
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	return res.Details
}

func copyContext(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeContext overlays b onto a copy of a.
func mergeContext(a, b map[string]interface{}) map[string]interface{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func payloadComponent(metrics map[string]interface{}, callerCtx map[string]interface{}) string {
	if v, ok := callerCtx["component"].(string); ok && v != "" {
		return v
	}
	if v, ok := metrics["component"].(string); ok {
		return v
	}
	return ""
}

func payloadExecutionID(metrics map[string]interface{}, callerCtx map[string]interface{}) string {
	if v, ok := callerCtx["execution_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := metrics["execution_id"].(string); ok {
		return v
	}
	return ""
}
