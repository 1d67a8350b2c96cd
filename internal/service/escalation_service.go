package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
)

// escalationState tracks the highest level already notified for one alert.
type escalationState struct {
	Level       int
	EscalatedAt time.Time
}

// EscalationOptions configures the sweep interval and the ladders.
type EscalationOptions struct {
	Interval time.Duration
	Policies map[domain.Severity]domain.EscalationPolicy
	Targets  []domain.EscalationTarget
}

// EscalationService is the single background worker that re-notifies
// unacknowledged alerts up their severity's escalation ladder. Levels only
// ever move up for a given alert; acknowledging, resolving or suppressing
// it ends the ladder.
type EscalationService struct {
	logger  *zap.Logger
	store   AlertStore
	router  *NotificationRouter
	metrics *observability.Metrics
	clock   domain.Clock

	interval time.Duration

	policyMu sync.RWMutex
	policies map[domain.Severity]domain.EscalationPolicy
	targets  []domain.EscalationTarget

	stateMu sync.Mutex
	state   map[uuid.UUID]escalationState

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewEscalationService creates the escalation worker. Start must be called
// before any alert escalates.
func NewEscalationService(
	logger *zap.Logger,
	store AlertStore,
	router *NotificationRouter,
	metrics *observability.Metrics,
	clock domain.Clock,
	opts EscalationOptions,
) *EscalationService {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Policies == nil {
		opts.Policies = make(map[domain.Severity]domain.EscalationPolicy)
	}
	return &EscalationService{
		logger:   logger,
		store:    store,
		router:   router,
		metrics:  metrics,
		clock:    clock,
		interval: opts.Interval,
		policies: opts.Policies,
		targets:  opts.Targets,
		state:    make(map[uuid.UUID]escalationState),
	}
}

// UpdatePolicies atomically swaps the escalation ladders and targets.
// Already-notified levels are kept so a reload never re-fires a level.
func (s *EscalationService) UpdatePolicies(policies map[domain.Severity]domain.EscalationPolicy, targets []domain.EscalationTarget) {
	if policies == nil {
		policies = make(map[domain.Severity]domain.EscalationPolicy)
	}
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	s.policies = policies
	s.targets = targets
}

// Start launches the background worker. Calling Start on a running worker
// is a no-op.
func (s *EscalationService) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	s.logger.Info("escalation worker started", zap.Duration("interval", s.interval))
}

// Stop signals the worker and waits for the current sweep to finish.
func (s *EscalationService) Stop() {
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
	s.logger.Info("escalation worker stopped")
}

func (s *EscalationService) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one escalation pass over the active alerts. Every failure is
// logged and skipped; the worker must survive anything the store or the
// router throws at it.
func (s *EscalationService) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("escalation sweep panicked", zap.Any("panic", r))
		}
	}()

	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.logger.Error("escalation sweep: listing active alerts failed", zap.Error(err))
		return
	}

	now := s.clock.Now()
	activeIDs := make(map[uuid.UUID]struct{}, len(active))
	for _, alert := range active {
		activeIDs[alert.ID] = struct{}{}
		s.evaluate(ctx, alert, now)
	}
	s.evict(activeIDs)
}

func (s *EscalationService) evaluate(ctx context.Context, alert *domain.Alert, now time.Time) {
	if alert.Status != domain.AlertStatusNew {
		return
	}

	s.policyMu.RLock()
	policy, ok := s.policies[alert.Severity]
	s.policyMu.RUnlock()
	if !ok {
		return
	}

	elapsed := now.Sub(alert.CreatedAt).Minutes()
	target := policy.LevelFor(elapsed)
	current := s.Level(alert.ID)
	if target <= current {
		return
	}

	s.notify(ctx, alert, target, elapsed)

	s.stateMu.Lock()
	s.state[alert.ID] = escalationState{Level: target, EscalatedAt: now}
	s.stateMu.Unlock()
	s.metrics.EscalationSent(string(alert.Severity), target)
	s.logger.Info("alert escalated",
		zap.String("alert_id", alert.ID.String()),
		zap.String("severity", string(alert.Severity)),
		zap.Int("level", target),
		zap.Float64("unacknowledged_minutes", elapsed),
	)
}

// notify dispatches the escalation message. The level is recorded even if
// delivery fails: escalation is monotonic by decision, not by delivery.
func (s *EscalationService) notify(ctx context.Context, alert *domain.Alert, level int, elapsed float64) {
	msg := domain.NotificationMessage{
		NotificationID: fmt.Sprintf("%s:escalation:%d", alert.ID, level),
		Title: fmt.Sprintf("[ESCALATION L%d] [%s] %s",
			level, strings.ToUpper(string(alert.Severity)), alert.AlertType),
		Body: fmt.Sprintf("%s\n\nUnacknowledged for %.0f minutes.", alert.Description, elapsed),
		Severity:    alert.Severity,
		AlertType:   alert.AlertType,
		Component:   alert.Component,
		ExecutionID: alert.ExecutionID,
		Fields: map[string]interface{}{
			"alert_id":         alert.ID.String(),
			"escalation_level": level,
		},
		CreatedAt: s.clock.Now(),
	}

	var channels []domain.NotificationChannel
	if target := s.targetFor(alert.Severity, level); target != nil {
		channels = target.Channels
		msg.Recipients = target.Recipients
	}

	if _, err := s.router.Send(ctx, msg, channels); err != nil {
		s.logger.Error("escalation notification failed",
			zap.String("alert_id", alert.ID.String()),
			zap.Int("level", level),
			zap.Error(err),
		)
	}
}

func (s *EscalationService) targetFor(severity domain.Severity, level int) *domain.EscalationTarget {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	for i := range s.targets {
		if s.targets[i].Severity == severity && s.targets[i].Level == level {
			return &s.targets[i]
		}
	}
	return nil
}

// evict drops escalation state for alerts that left the active set, so a
// closed alert's ladder never fires again and the map stays bounded.
func (s *EscalationService) evict(active map[uuid.UUID]struct{}) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for id := range s.state {
		if _, ok := active[id]; !ok {
			delete(s.state, id)
		}
	}
}

// Level returns the highest escalation level already notified for the
// alert, zero if it has never escalated.
func (s *EscalationService) Level(id uuid.UUID) int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state[id].Level
}

// Running reports whether the background worker is live.
func (s *EscalationService) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}
