package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// CorrelationDecision is the correlator's verdict for one new alert.
type CorrelationDecision struct {
	Suppress       bool
	Reason         string
	GroupID        uuid.UUID
	PrimaryAlertID uuid.UUID
	NewGroup       bool
}

// AlertLinker is the slice of the alert repository the correlator needs to
// inspect primaries and record related-alert links.
type AlertLinker interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Alert, error)
	AppendRelated(ctx context.Context, id uuid.UUID, related uuid.UUID) error
}

// CorrelationOptions configures grouping windows and rate limiting.
type CorrelationOptions struct {
	Window      time.Duration
	GroupTTL    time.Duration
	RateEnabled bool
	RateCount   int
	RateWindow  time.Duration

	// RateOverrides maps alert types to their own rate limit.
	RateOverrides map[string]domain.RateLimitRule
}

// CorrelationService groups temporally and semantically related alerts and
// decides per-alert suppression. It owns the open group index and the
// rate-limit windows; both are guarded by one mutex.
type CorrelationService struct {
	logger *zap.Logger
	linker AlertLinker
	clock  domain.Clock
	opts   CorrelationOptions

	mu     sync.Mutex
	groups map[uuid.UUID]*domain.AlertGroup
	rates  map[string][]time.Time
}

// NewCorrelationService creates a correlator.
func NewCorrelationService(logger *zap.Logger, linker AlertLinker, clock domain.Clock, opts CorrelationOptions) *CorrelationService {
	return &CorrelationService{
		logger: logger,
		linker: linker,
		clock:  clock,
		opts:   opts,
		groups: make(map[uuid.UUID]*domain.AlertGroup),
		rates:  make(map[string][]time.Time),
	}
}

// Correlate assigns the alert to an open group (or opens one) and decides
// suppression. Internal failures never suppress: noise is preferable to a
// silently dropped alert.
func (s *CorrelationService) Correlate(ctx context.Context, alert *domain.Alert) CorrelationDecision {
	now := s.clock.Now()

	s.mu.Lock()
	s.pruneLocked(now)
	group := s.matchGroupLocked(alert, now)

	var decision CorrelationDecision
	if group == nil {
		group = &domain.AlertGroup{
			ID:             uuid.New(),
			PrimaryAlertID: alert.ID,
			AlertType:      alert.AlertType,
			Component:      alert.Component,
			ExecutionID:    alert.ExecutionID,
			Members:        []uuid.UUID{alert.ID},
			OpenedAt:       now,
			LastAlertAt:    now,
			Context:        alert.Context,
		}
		s.groups[group.ID] = group
		decision = CorrelationDecision{GroupID: group.ID, PrimaryAlertID: alert.ID, NewGroup: true}
	} else {
		group.Members = append(group.Members, alert.ID)
		group.LastAlertAt = now
		decision = CorrelationDecision{GroupID: group.ID, PrimaryAlertID: group.PrimaryAlertID}
	}
	rateExceeded := s.recordRateLocked(alert, now)
	s.mu.Unlock()

	// Duplicate suppression: a later group member is suppressed while the
	// primary is still open.
	if !decision.NewGroup {
		primary, err := s.linker.Get(ctx, decision.PrimaryAlertID)
		switch {
		case err != nil:
			s.logger.Warn("correlation primary lookup failed, not suppressing",
				zap.String("alert_id", alert.ID.String()),
				zap.String("primary_alert_id", decision.PrimaryAlertID.String()),
				zap.Error(err),
			)
		case primary.Status == domain.AlertStatusNew || primary.Status == domain.AlertStatusAcknowledged:
			decision.Suppress = true
			decision.Reason = fmt.Sprintf("duplicate of %s", decision.PrimaryAlertID)
			if err := s.linker.AppendRelated(ctx, decision.PrimaryAlertID, alert.ID); err != nil {
				s.logger.Warn("failed to record related alert",
					zap.String("alert_id", alert.ID.String()),
					zap.String("primary_alert_id", decision.PrimaryAlertID.String()),
					zap.Error(err),
				)
			}
		default:
			// Primary already closed: this alert takes over as primary so
			// later duplicates correlate against a live alert.
			s.mu.Lock()
			if g, ok := s.groups[decision.GroupID]; ok {
				g.PrimaryAlertID = alert.ID
				g.Context = alert.Context
			}
			s.mu.Unlock()
			decision.PrimaryAlertID = alert.ID
		}
	}

	if !decision.Suppress && rateExceeded {
		decision.Suppress = true
		decision.Reason = fmt.Sprintf("rate limit exceeded for %s/%s", alert.AlertType, alert.Component)
	}
	return decision
}

// matchGroupLocked returns the first open group sharing a correlation key
// with the alert: same execution ID, same component within the window, or
// same alert type with overlapping context attributes.
func (s *CorrelationService) matchGroupLocked(alert *domain.Alert, now time.Time) *domain.AlertGroup {
	for _, g := range s.groups {
		if alert.ExecutionID != "" && g.ExecutionID == alert.ExecutionID {
			return g
		}
		if alert.Component != "" && g.Component == alert.Component && now.Sub(g.LastAlertAt) <= s.opts.Window {
			return g
		}
		if g.AlertType == alert.AlertType && contextOverlap(g.Context, alert.Context) {
			return g
		}
	}
	return nil
}

// contextOverlap reports whether the two contexts share at least one
// attribute with an equal value.
func contextOverlap(a, b map[string]interface{}) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for k, av := range a {
		if bv, ok := b[k]; ok && stringify(av) == stringify(bv) {
			return true
		}
	}
	return false
}

// recordRateLocked appends the alert arrival to its (type, component)
// window and reports whether the configured limit is now exceeded.
func (s *CorrelationService) recordRateLocked(alert *domain.Alert, now time.Time) bool {
	if !s.opts.RateEnabled {
		return false
	}
	count, window := s.opts.RateCount, s.opts.RateWindow
	if override, ok := s.opts.RateOverrides[alert.AlertType]; ok {
		if override.Count > 0 {
			count = override.Count
		}
		if override.WindowSeconds > 0 {
			window = time.Duration(override.WindowSeconds) * time.Second
		}
	}
	if count <= 0 || window <= 0 {
		return false
	}

	key := alert.AlertType + "|" + alert.Component
	times := s.rates[key]
	cutoff := now.Add(-window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.rates[key] = kept
	return len(kept) > count
}

// pruneLocked retires groups whose TTL has elapsed since their last alert
// and drops empty rate windows.
func (s *CorrelationService) pruneLocked(now time.Time) {
	for id, g := range s.groups {
		if now.Sub(g.LastAlertAt) > s.opts.GroupTTL {
			delete(s.groups, id)
		}
	}
	for key, times := range s.rates {
		live := false
		for _, t := range times {
			if now.Sub(t) <= s.opts.RateWindow {
				live = true
				break
			}
		}
		if !live {
			delete(s.rates, key)
		}
	}
}

// PruneExpired retires expired groups and stale rate windows. Correlate
// prunes as it goes; this entry point lets the maintenance loop reclaim
// state during quiet periods.
func (s *CorrelationService) PruneExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.clock.Now())
}

// OpenGroups returns a snapshot of the open correlation groups.
func (s *CorrelationService) OpenGroups() []domain.AlertGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AlertGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	return out
}
