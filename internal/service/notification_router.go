package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// TeamsTransport posts a notification card to the Teams webhook.
type TeamsTransport interface {
	Send(ctx context.Context, msg domain.NotificationMessage) (*domain.DeliveryResult, error)
}

// EmailTransport sends a notification to explicit recipients over SMTP.
type EmailTransport interface {
	Send(ctx context.Context, msg domain.NotificationMessage, recipients []string) (bool, error)
}

// SlackTransport posts a notification to the configured Slack channel.
type SlackTransport interface {
	Send(ctx context.Context, msg domain.NotificationMessage) (*domain.DeliveryResult, error)
}

// DedupStore suppresses redelivery of a notification ID on a channel.
// MarkDelivered returns false when the (id, channel) pair was already
// marked inside the TTL.
type DedupStore interface {
	MarkDelivered(ctx context.Context, notificationID string, channel domain.NotificationChannel, ttl time.Duration) (bool, error)
}

// DeliveryRecord tracks the per-channel outcomes of one routed message.
type DeliveryRecord struct {
	NotificationID string                                             `json:"notification_id"`
	Title          string                                             `json:"title"`
	Severity       domain.Severity                                    `json:"severity"`
	Timestamp      time.Time                                          `json:"timestamp"`
	Channels       map[domain.NotificationChannel]domain.DeliveryResult `json:"channels"`
}

// RouterOptions configures dispatch bounds and fallback recipients.
type RouterOptions struct {
	MaxConcurrent   int
	DispatchTimeout time.Duration
	BatchTimeout    time.Duration
	HistoryTTL      time.Duration
	EmailRecipients []string
}

// NotificationRouter resolves effective channels for a message and
// dispatches concurrently, one bounded task per channel. Failures on one
// channel never affect the others; the router itself never retries.
type NotificationRouter struct {
	logger *zap.Logger
	teams  TeamsTransport
	email  EmailTransport
	slack  SlackTransport
	dedup  DedupStore
	clock  domain.Clock
	opts   RouterOptions

	sem *semaphore.Weighted

	rulesMu      sync.RWMutex
	routing      []domain.RoutingRule
	typeDefaults map[string][]domain.NotificationChannel

	historyMu sync.Mutex
	history   map[string]*DeliveryRecord
}

// NewNotificationRouter creates a router. Any transport may be nil; a
// resolved channel without a transport yields a failed delivery result.
func NewNotificationRouter(
	logger *zap.Logger,
	teams TeamsTransport,
	email EmailTransport,
	slack SlackTransport,
	dedup DedupStore,
	clock domain.Clock,
	opts RouterOptions,
) *NotificationRouter {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 60 * time.Second
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 24 * time.Hour
	}
	return &NotificationRouter{
		logger:       logger,
		teams:        teams,
		email:        email,
		slack:        slack,
		dedup:        dedup,
		clock:        clock,
		opts:         opts,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		typeDefaults: make(map[string][]domain.NotificationChannel),
		history:      make(map[string]*DeliveryRecord),
	}
}

// UpdateRouting atomically swaps the routing rules and per-type defaults.
// Used at startup and by config hot reload.
func (r *NotificationRouter) UpdateRouting(rules []domain.RoutingRule, typeDefaults map[string][]domain.NotificationChannel) {
	r.rulesMu.Lock()
	defer r.rulesMu.Unlock()
	r.routing = rules
	if typeDefaults == nil {
		typeDefaults = make(map[string][]domain.NotificationChannel)
	}
	r.typeDefaults = typeDefaults
}

// Send resolves channels for the message and dispatches to each
// concurrently. Results are returned in completion order. A message
// without a notification ID gets a fresh one.
func (r *NotificationRouter) Send(ctx context.Context, msg domain.NotificationMessage, explicit []domain.NotificationChannel) ([]domain.DeliveryResult, error) {
	if msg.NotificationID == "" {
		msg.NotificationID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.clock.Now()
	}

	channels := r.ResolveChannels(msg, explicit)
	if len(channels) == 0 {
		r.logger.Warn("no channels resolved for notification",
			zap.String("notification_id", msg.NotificationID),
			zap.String("alert_type", msg.AlertType),
		)
		r.record(msg, nil)
		return nil, nil
	}

	results := make(chan domain.DeliveryResult, len(channels))
	var wg sync.WaitGroup
	for _, channel := range channels {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			results <- domain.DeliveryResult{
				Channel:      channel,
				Success:      false,
				ErrorMessage: err.Error(),
				Timestamp:    r.clock.Now(),
			}
			continue
		}
		wg.Add(1)
		go func(channel domain.NotificationChannel) {
			defer wg.Done()
			defer r.sem.Release(1)
			results <- r.dispatch(ctx, channel, msg)
		}(channel)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]domain.DeliveryResult, 0, len(channels))
	for res := range results {
		out = append(out, res)
	}
	r.record(msg, out)
	return out, nil
}

// SendBatch dispatches several messages, each bounded by the batch
// per-message timeout. The result slice is aligned with msgs.
func (r *NotificationRouter) SendBatch(ctx context.Context, msgs []domain.NotificationMessage, explicit []domain.NotificationChannel) [][]domain.DeliveryResult {
	out := make([][]domain.DeliveryResult, len(msgs))
	for i, msg := range msgs {
		mctx, cancel := context.WithTimeout(ctx, r.opts.BatchTimeout)
		results, err := r.Send(mctx, msg, explicit)
		cancel()
		if err != nil {
			r.logger.Error("batch message dispatch failed",
				zap.String("notification_id", msg.NotificationID),
				zap.Error(err),
			)
		}
		out[i] = results
	}
	return out
}

// ResolveChannels applies the resolution order: explicit channels, then
// routing-rule matches, then the per-type or severity fallback.
func (r *NotificationRouter) ResolveChannels(msg domain.NotificationMessage, explicit []domain.NotificationChannel) []domain.NotificationChannel {
	if len(explicit) > 0 {
		return dedupeChannels(explicit)
	}

	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()

	matched := make(map[domain.NotificationChannel]struct{})
	for _, rule := range r.routing {
		if routingRuleMatches(rule, msg) {
			for _, ch := range rule.Channels {
				matched[ch] = struct{}{}
			}
		}
	}
	if len(matched) > 0 {
		out := make([]domain.NotificationChannel, 0, len(matched))
		for ch := range matched {
			out = append(out, ch)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}

	if defaults, ok := r.typeDefaults[msg.AlertType]; ok {
		return dedupeChannels(defaults)
	}

	switch msg.Severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		return []domain.NotificationChannel{domain.ChannelTeams, domain.ChannelEmail}
	default:
		return []domain.NotificationChannel{domain.ChannelTeams}
	}
}

// routingRuleMatches reports whether every condition of the rule holds for
// the message. Severity compares by rank, other fields by the condition's
// operator (equality when none is given).
func routingRuleMatches(rule domain.RoutingRule, msg domain.NotificationMessage) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for field, cond := range rule.Conditions {
		value, ok := messageField(msg, field)
		if !ok {
			return false
		}
		if field == "severity" {
			if !severityMatches(msg.Severity, cond) {
				return false
			}
			continue
		}
		op := cond.Operator
		if op == "" {
			op = domain.OpEqual
		}
		passed, err := compareValues(value, op, cond.Value)
		if err != nil || !passed {
			return false
		}
	}
	return true
}

func severityMatches(severity domain.Severity, cond domain.RouteCondition) bool {
	want := domain.Severity(stringify(cond.Value))
	if !want.Valid() {
		return false
	}
	op := cond.Operator
	if op == "" {
		op = domain.OpEqual
	}
	passed, err := compareValues(severity.Rank(), op, want.Rank())
	return err == nil && passed
}

func messageField(msg domain.NotificationMessage, field string) (interface{}, bool) {
	switch field {
	case "severity":
		return string(msg.Severity), true
	case "alert_type":
		return msg.AlertType, true
	case "component":
		return msg.Component, true
	case "execution_id":
		return msg.ExecutionID, true
	case "title":
		return msg.Title, true
	default:
		v, ok := msg.Fields[field]
		return v, ok
	}
}

func dedupeChannels(channels []domain.NotificationChannel) []domain.NotificationChannel {
	seen := make(map[domain.NotificationChannel]struct{}, len(channels))
	out := make([]domain.NotificationChannel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// dispatch sends one message on one channel with the per-task timeout.
// Every failure mode (transport error, missing transport, timeout) is
// captured in the result, never raised.
func (r *NotificationRouter) dispatch(ctx context.Context, channel domain.NotificationChannel, msg domain.NotificationMessage) domain.DeliveryResult {
	result := domain.DeliveryResult{Channel: channel, Timestamp: r.clock.Now()}

	if r.dedup != nil {
		first, err := r.dedup.MarkDelivered(ctx, msg.NotificationID, channel, r.opts.HistoryTTL)
		if err != nil {
			r.logger.Warn("dedup store unavailable, dispatching anyway",
				zap.String("notification_id", msg.NotificationID),
				zap.Error(err),
			)
		} else if !first {
			result.Success = true
			result.Details = "duplicate suppressed"
			return result
		}
	}

	dctx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
	defer cancel()

	channelMsg := formatForChannel(msg, channel)

	switch channel {
	case domain.ChannelTeams:
		if r.teams == nil {
			result.ErrorMessage = "teams transport not configured"
			break
		}
		dr, err := r.teams.Send(dctx, channelMsg)
		applyTransportResult(&result, dr, err)
	case domain.ChannelEmail:
		if r.email == nil {
			result.ErrorMessage = "email transport not configured"
			break
		}
		recipients := msg.Recipients
		if len(recipients) == 0 {
			recipients = r.opts.EmailRecipients
		}
		ok, err := r.email.Send(dctx, channelMsg, recipients)
		result.Success = ok && err == nil
		result.Recipients = recipients
		if err != nil {
			result.ErrorMessage = err.Error()
		} else if !ok {
			result.ErrorMessage = "email transport reported failure"
		}
	case domain.ChannelSlack:
		if r.slack == nil {
			result.ErrorMessage = "slack transport not configured"
			break
		}
		dr, err := r.slack.Send(dctx, channelMsg)
		applyTransportResult(&result, dr, err)
	default:
		result.ErrorMessage = "unknown channel " + string(channel)
	}

	if dctx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.ErrorMessage = "timeout"
	}
	if !result.Success {
		r.logger.Warn("notification delivery failed",
			zap.String("notification_id", msg.NotificationID),
			zap.String("channel", string(channel)),
			zap.String("error", result.ErrorMessage),
		)
	}
	result.Timestamp = r.clock.Now()
	return result
}

func applyTransportResult(result *domain.DeliveryResult, dr *domain.DeliveryResult, err error) {
	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
		return
	}
	if dr == nil {
		result.Success = false
		result.ErrorMessage = "transport returned no result"
		return
	}
	result.Success = dr.Success
	result.Details = dr.Details
	result.Recipients = dr.Recipients
	result.ErrorMessage = dr.ErrorMessage
}

// formatForChannel stamps the channel into the message fields so transports
// and downstream sinks can tell renditions apart.
func formatForChannel(msg domain.NotificationMessage, channel domain.NotificationChannel) domain.NotificationMessage {
	fields := make(map[string]interface{}, len(msg.Fields)+1)
	for k, v := range msg.Fields {
		fields[k] = v
	}
	fields["channel"] = string(channel)
	msg.Fields = fields
	return msg
}

func (r *NotificationRouter) record(msg domain.NotificationMessage, results []domain.DeliveryResult) {
	entry := &DeliveryRecord{
		NotificationID: msg.NotificationID,
		Title:          msg.Title,
		Severity:       msg.Severity,
		Timestamp:      r.clock.Now(),
		Channels:       make(map[domain.NotificationChannel]domain.DeliveryResult, len(results)),
	}
	for _, res := range results {
		entry.Channels[res.Channel] = res
	}
	r.historyMu.Lock()
	r.history[msg.NotificationID] = entry
	r.historyMu.Unlock()
}

// DeliveryStatus returns the delivery record for a notification ID.
func (r *NotificationRouter) DeliveryStatus(notificationID string) (*DeliveryRecord, bool) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	rec, ok := r.history[notificationID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// PruneHistory drops delivery records older than the history TTL and
// returns how many were removed. Callers schedule this; Send never prunes.
func (r *NotificationRouter) PruneHistory() int {
	cutoff := r.clock.Now().Add(-r.opts.HistoryTTL)
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	removed := 0
	for id, rec := range r.history {
		if rec.Timestamp.Before(cutoff) {
			delete(r.history, id)
			removed++
		}
	}
	return removed
}
