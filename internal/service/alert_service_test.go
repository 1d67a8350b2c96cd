package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

type alertFixture struct {
	svc   *AlertService
	store *memoryAlertStore
	teams *recordingTransport
	email *recordingEmail
	pub   *recordingPublisher
	clock *fakeClock
}

func newAlertFixture(t *testing.T, rules ...domain.Rule) *alertFixture {
	t.Helper()
	logger := zap.NewNop()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := newMemoryAlertStore()
	teams := &recordingTransport{}
	email := &recordingEmail{}
	pub := &recordingPublisher{}

	engine := NewRuleEngine(logger, &fakeDetector{}, nil, clock)
	for _, r := range rules {
		require.NoError(t, engine.AddRule(r))
	}
	corr := NewCorrelationService(logger, store, clock, defaultCorrelationOptions())
	router := NewNotificationRouter(logger, teams, email, nil, newMemoryDedup(), clock, RouterOptions{
		EmailRecipients: []string{"oncall@example.com"},
	})
	svc := NewAlertService(logger, store, engine, corr, router, pub, nil, clock, 4)
	return &alertFixture{svc: svc, store: store, teams: teams, email: email, pub: pub, clock: clock}
}

func TestProcessMetricsGeneratesAlertWithNotifications(t *testing.T) {
	rule := domain.Rule{
		ID:       "error-rate",
		Name:     "high error rate",
		RuleType: domain.RuleTypeThreshold,
		Severity: domain.SeverityCritical,
		Enabled:  true,
		Conditions: domain.Conditions{Threshold: &domain.ThresholdCondition{
			MetricPath: "pipeline.error_rate",
			Operator:   domain.OpGreater,
			Value:      0.05,
		}},
	}
	f := newAlertFixture(t, rule)

	ids, err := f.svc.ProcessMetrics(context.Background(),
		map[string]interface{}{"pipeline": map[string]interface{}{"error_rate": 0.5}},
		map[string]interface{}{"component": "ingest", "execution_id": "run-7"},
	)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	alert := f.store.get(ids[0])
	require.NotNil(t, alert)
	assert.Equal(t, "rule_threshold", alert.AlertType)
	assert.Equal(t, `rule "high error rate" triggered`, alert.Description)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)
	assert.Equal(t, domain.AlertStatusNew, alert.Status)
	assert.Equal(t, "ingest", alert.Component)
	assert.Equal(t, "run-7", alert.ExecutionID)
	assert.Equal(t, "error-rate", alert.Context["rule_id"])
	require.Contains(t, alert.Context, "evaluation")

	// Critical severity fans out to teams and email by default.
	require.Len(t, alert.Notifications, 2)
	channels := map[domain.NotificationChannel]bool{}
	for _, n := range alert.Notifications {
		channels[n.Channel] = n.Success
	}
	assert.True(t, channels[domain.ChannelTeams])
	assert.True(t, channels[domain.ChannelEmail])
	assert.Equal(t, 1, f.teams.count())
	assert.Equal(t, 1, f.email.count())
	assert.Equal(t, "[CRITICAL] rule_threshold", f.teams.last().Title)

	assert.True(t, f.pub.has("alert.created:"+ids[0].String()))
}

func TestProcessMetricsQuietWhenNothingTriggers(t *testing.T) {
	rule := domain.Rule{
		ID:       "error-rate",
		Name:     "high error rate",
		RuleType: domain.RuleTypeThreshold,
		Severity: domain.SeverityCritical,
		Enabled:  true,
		Conditions: domain.Conditions{Threshold: &domain.ThresholdCondition{
			MetricPath: "pipeline.error_rate",
			Operator:   domain.OpGreater,
			Value:      0.05,
		}},
	}
	f := newAlertFixture(t, rule)

	ids, err := f.svc.ProcessMetrics(context.Background(),
		map[string]interface{}{"pipeline": map[string]interface{}{"error_rate": 0.01}}, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 0, f.teams.count())
}

func TestProcessEventsGeneratesAlert(t *testing.T) {
	rule := domain.Rule{
		ID:       "task-failed",
		Name:     "task failed",
		RuleType: domain.RuleTypeEvent,
		Severity: domain.SeverityHigh,
		Enabled:  true,
		Conditions: domain.Conditions{Event: &domain.EventCondition{
			EventType: "task_failed",
		}},
	}
	f := newAlertFixture(t, rule)

	events := []domain.PipelineEvent{{
		EventType:   "task_failed",
		Source:      "airflow",
		Component:   "ingest-dag",
		ExecutionID: "run-42",
		Timestamp:   f.clock.Now(),
	}}
	ids, err := f.svc.ProcessEvents(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	alert := f.store.get(ids[0])
	require.NotNil(t, alert)
	assert.Equal(t, "rule_event", alert.AlertType)
	assert.Equal(t, "ingest-dag", alert.Component)
	assert.Equal(t, "run-42", alert.ExecutionID)
	assert.Equal(t, "task_failed", alert.Context["event_type"])
	assert.Equal(t, "airflow", alert.Context["event_source"])
}

func TestGenerateAlertValidation(t *testing.T) {
	f := newAlertFixture(t)

	_, err := f.svc.GenerateAlert(context.Background(), AlertParams{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.GenerateAlert(context.Background(), AlertParams{
		AlertType: "manual",
		Severity:  "urgent",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Missing severity defaults to medium.
	alert, err := f.svc.GenerateAlert(context.Background(), AlertParams{AlertType: "manual"})
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMedium, alert.Severity)
}

func TestGenerateAlertSuppressedDuplicate(t *testing.T) {
	f := newAlertFixture(t)

	params := AlertParams{
		AlertType:   "manual",
		Severity:    domain.SeverityHigh,
		Component:   "warehouse",
		ExecutionID: "run-1",
	}
	primary, err := f.svc.GenerateAlert(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, domain.AlertStatusNew, primary.Status)
	sentBefore := f.teams.count() + f.email.count()

	dup, err := f.svc.GenerateAlert(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, domain.AlertStatusSuppressed, dup.Status)
	assert.Empty(t, dup.Notifications)
	assert.Equal(t, sentBefore, f.teams.count()+f.email.count(), "suppressed alerts must not notify")

	supp, ok := dup.Context["suppression"].(map[string]interface{})
	require.True(t, ok, "suppression context missing")
	assert.Equal(t, "duplicate of "+primary.ID.String(), supp["reason"])
	assert.Equal(t, primary.ID.String(), supp["primary_alert_id"])
	assert.NotEmpty(t, supp["group_id"])
	assert.NotEmpty(t, supp["suppressed_at"])

	// The suppressed alert is still persisted and announced.
	stored := f.store.get(dup.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.AlertStatusSuppressed, stored.Status)
	assert.True(t, f.pub.has("alert.suppressed:"+dup.ID.String()))

	stats := f.svc.Stats()
	assert.Equal(t, int64(2), stats.TotalGenerated)
	assert.Equal(t, int64(1), stats.TotalSuppressed)
}

func TestAlertLifecycleTransitions(t *testing.T) {
	f := newAlertFixture(t)
	ctx := context.Background()

	alert, err := f.svc.GenerateAlert(ctx, AlertParams{AlertType: "manual", Severity: domain.SeverityLow})
	require.NoError(t, err)

	ok, err := f.svc.Acknowledge(ctx, alert.ID, "sam", map[string]interface{}{"note": "looking"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.pub.has("alert.acknowledged:"+alert.ID.String()))

	stored := f.store.get(alert.ID)
	assert.Equal(t, domain.AlertStatusAcknowledged, stored.Status)
	assert.Equal(t, "sam", stored.AcknowledgmentDetails["acknowledged_by"])
	assert.Equal(t, "looking", stored.AcknowledgmentDetails["note"])

	// Acknowledging twice is a no-op, not an error.
	ok, err = f.svc.Acknowledge(ctx, alert.ID, "sam", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.Resolve(ctx, alert.ID, "sam", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.AlertStatusResolved, f.store.get(alert.ID).Status)
	assert.True(t, f.pub.has("alert.resolved:"+alert.ID.String()))

	ok, err = f.svc.Resolve(ctx, alert.ID, "sam", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveDirectlyFromNew(t *testing.T) {
	f := newAlertFixture(t)
	ctx := context.Background()

	alert, err := f.svc.GenerateAlert(ctx, AlertParams{AlertType: "manual", Severity: domain.SeverityLow})
	require.NoError(t, err)

	ok, err := f.svc.Resolve(ctx, alert.ID, "sam", map[string]interface{}{"fix": "restarted loader"})
	require.NoError(t, err)
	assert.True(t, ok)

	stored := f.store.get(alert.ID)
	assert.Equal(t, domain.AlertStatusResolved, stored.Status)
	assert.Equal(t, "sam", stored.ResolutionDetails["resolved_by"])
	assert.Equal(t, "restarted loader", stored.ResolutionDetails["fix"])
}

func TestSuppressManually(t *testing.T) {
	f := newAlertFixture(t)
	ctx := context.Background()

	alert, err := f.svc.GenerateAlert(ctx, AlertParams{AlertType: "manual", Severity: domain.SeverityLow})
	require.NoError(t, err)

	ok, err := f.svc.Suppress(ctx, alert.ID, "maintenance window")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.AlertStatusSuppressed, f.store.get(alert.ID).Status)

	ok, err = f.svc.Suppress(ctx, alert.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	stored := f.store.get(alert.ID)
	assert.Equal(t, domain.AlertStatusSuppressed, stored.Status)
	suppression := stored.Context["suppression"].(map[string]interface{})
	assert.Equal(t, "maintenance window", suppression["reason"])
}

func TestStatsWindows(t *testing.T) {
	f := newAlertFixture(t)
	ctx := context.Background()

	_, err := f.svc.GenerateAlert(ctx, AlertParams{
		AlertType: "manual", Severity: domain.SeverityCritical, Component: "ingest",
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.GenerateAlert(ctx, AlertParams{
		AlertType: "manual", Severity: domain.SeverityHigh, Component: "ingest",
	})
	require.NoError(t, err)

	stats := f.svc.Stats()
	assert.Equal(t, int64(2), stats.TotalGenerated)
	assert.Equal(t, int64(0), stats.TotalSuppressed)

	hour := stats.Windows["1h"]
	assert.Equal(t, 1, hour.Count)
	assert.Equal(t, 1, hour.BySeverity["high"])
	assert.Equal(t, 0, hour.BySeverity["critical"])

	day := stats.Windows["24h"]
	assert.Equal(t, 2, day.Count)
	assert.Equal(t, 2, day.ByType["manual"])
	assert.Equal(t, 2, day.ByComponent["ingest"])

	// Stamps age out of the windows, totals do not.
	f.clock.Advance(25 * time.Hour)
	stats = f.svc.Stats()
	assert.Equal(t, int64(2), stats.TotalGenerated)
	assert.Equal(t, 0, stats.Windows["24h"].Count)
	assert.Equal(t, 0, stats.Windows["1h"].Count)
}

func TestGenerateAlertStoreFailure(t *testing.T) {
	f := newAlertFixture(t)
	f.store.createErr = assert.AnError

	_, err := f.svc.GenerateAlert(context.Background(), AlertParams{
		AlertType: "manual", Severity: domain.SeverityLow,
	})
	assert.Error(t, err)
	assert.Equal(t, 0, f.teams.count())
}

func TestProcessMetricsIsolatesGenerationFailures(t *testing.T) {
	ruleA := thresholdRule("a", "x", domain.OpGreater, 1)
	ruleB := thresholdRule("b", "x", domain.OpGreater, 1)
	f := newAlertFixture(t, ruleA, ruleB)
	f.store.createErr = assert.AnError

	ids, err := f.svc.ProcessMetrics(context.Background(), map[string]interface{}{"x": 5}, nil)
	assert.Error(t, err)
	assert.Empty(t, ids)
}

func TestActiveAlerts(t *testing.T) {
	f := newAlertFixture(t)
	ctx := context.Background()

	a, err := f.svc.GenerateAlert(ctx, AlertParams{AlertType: "first", Severity: domain.SeverityLow})
	require.NoError(t, err)
	b, err := f.svc.GenerateAlert(ctx, AlertParams{AlertType: "second", Severity: domain.SeverityLow})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, a.ID, "sam", nil)
	require.NoError(t, err)

	active, err := f.svc.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
}
