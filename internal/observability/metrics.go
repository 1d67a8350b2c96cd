package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pipeguard"

// Metrics holds the Prometheus instruments for the alerting core. A nil
// *Metrics is valid and records nothing, so tests can pass nil.
type Metrics struct {
	alertsTotal        *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	activeAlerts       prometheus.Gauge
	notificationsTotal *prometheus.CounterVec
	escalationsTotal   *prometheus.CounterVec
	ruleEvaluations    *prometheus.CounterVec
	evalDuration       *prometheus.HistogramVec
	approvalsTotal     *prometheus.CounterVec
	healingTotal       *prometheus.CounterVec
	ingestPoints       *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts generated, by severity and alert type.",
		}, []string{"severity", "alert_type"}),
		alertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by the correlator, by reason.",
		}, []string{"reason"}),
		activeAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Alerts currently in the new state.",
		}),
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes, by channel.",
		}, []string{"channel", "outcome"}),
		escalationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation notifications sent, by severity and level.",
		}, []string{"severity", "level"}),
		ruleEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations, by rule type and outcome.",
		}, []string{"rule_type", "outcome"}),
		evalDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_seconds",
			Help:      "Rule evaluation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule_type"}),
		approvalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Approval request outcomes.",
		}, []string{"status"}),
		healingTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_attempts_total",
			Help:      "Self-healing execution outcomes, by action type.",
		}, []string{"action_type", "status"}),
		ingestPoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_points_total",
			Help:      "Metric points and events accepted for evaluation.",
		}, []string{"kind"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) AlertGenerated(severity, alertType string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(severity, alertType).Inc()
}

func (m *Metrics) AlertSuppressed(reason string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveAlerts(n int) {
	if m == nil {
		return
	}
	m.activeAlerts.Set(float64(n))
}

func (m *Metrics) NotificationSent(channel string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) EscalationSent(severity string, level int) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(severity, strconv.Itoa(level)).Inc()
}

func (m *Metrics) RuleEvaluated(ruleType string, triggered bool, failed bool) {
	if m == nil {
		return
	}
	outcome := "not_triggered"
	switch {
	case failed:
		outcome = "error"
	case triggered:
		outcome = "triggered"
	}
	m.ruleEvaluations.WithLabelValues(ruleType, outcome).Inc()
}

func (m *Metrics) ObserveEvaluation(ruleType string, d time.Duration) {
	if m == nil {
		return
	}
	m.evalDuration.WithLabelValues(ruleType).Observe(d.Seconds())
}

func (m *Metrics) ApprovalDecided(status string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) HealingAttempt(actionType, status string) {
	if m == nil {
		return
	}
	m.healingTotal.WithLabelValues(actionType, status).Inc()
}

func (m *Metrics) PointsIngested(kind string, n int) {
	if m == nil {
		return
	}
	m.ingestPoints.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
