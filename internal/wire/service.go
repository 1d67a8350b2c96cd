package wire

import (
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
	chrepo "github.com/pipeguard/pipeguard/internal/repository/clickhouse"
	pgrepo "github.com/pipeguard/pipeguard/internal/repository/postgres"
	redisrepo "github.com/pipeguard/pipeguard/internal/repository/redis"
	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/internal/transport"
)

// ServiceSet provides all service instances.
var ServiceSet = wire.NewSet(
	ProvideClock,
	ProvideAlertingFile,
	ProvideDetector,
	ProvideRuleEngine,
	ProvideCorrelationService,
	ProvideTeamsTransport,
	ProvideEmailTransport,
	ProvideSlackTransport,
	ProvideNotificationRouter,
	ProvideEventHub,
	ProvideAlertStreamPublisher,
	ProvideAlertService,
	ProvideEscalationService,
	ProvideConfidenceService,
	ProvideImpactService,
	ProvideApprovalService,
	ProvideActionExecutor,
	ProvideHealingService,
	ProvideRemediationWorker,
	ProvideBatchWriter,
	ProvideMetricQueryService,
	ProvideAuthService,
)

// ProvideClock supplies the system clock.
func ProvideClock() domain.Clock {
	return domain.RealClock{}
}

// ProvideAlertingFile loads the declarative alerting configuration. A
// missing or invalid file is a startup error; runtime reloads are handled
// by the watcher and never replace a valid configuration with a broken one.
func ProvideAlertingFile(cfg *config.Config) (*config.AlertingFile, error) {
	f, err := config.LoadAlertingFile(cfg.Alerting.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("loading alerting config %s: %w", cfg.Alerting.RulesFile, err)
	}
	return f, nil
}

// ProvideDetector creates the statistical anomaly detector.
func ProvideDetector(logger *zap.Logger) *service.StatisticalDetector {
	return service.NewStatisticalDetector(logger)
}

// ProvideRuleEngine creates the rule engine seeded with the configured
// rules.
func ProvideRuleEngine(
	f *config.AlertingFile,
	detector *service.StatisticalDetector,
	metricRepo *chrepo.MetricRepository,
	clock domain.Clock,
	logger *zap.Logger,
) (*service.RuleEngine, error) {
	engine := service.NewRuleEngine(logger, detector, metricRepo, clock)
	if err := engine.ReplaceRules(f.Rules); err != nil {
		return nil, fmt.Errorf("seeding alert rules: %w", err)
	}
	return engine, nil
}

// ProvideCorrelationService creates the alert correlator.
func ProvideCorrelationService(
	alertRepo *pgrepo.AlertRepository,
	clock domain.Clock,
	f *config.AlertingFile,
	cfg *config.Config,
	logger *zap.Logger,
) *service.CorrelationService {
	return service.NewCorrelationService(logger, alertRepo, clock, service.CorrelationOptions{
		Window:        cfg.Correlation.Window,
		GroupTTL:      cfg.Correlation.GroupTTL,
		RateEnabled:   cfg.Correlation.RateLimitEnabled,
		RateCount:     cfg.Correlation.RateLimitCount,
		RateWindow:    cfg.Correlation.RateLimitWindow,
		RateOverrides: f.Correlation.RateLimits,
	})
}

// ProvideTeamsTransport creates the Teams channel, or nil when no webhook
// is configured. The router reports unconfigured channels per dispatch.
func ProvideTeamsTransport(cfg *config.Config, logger *zap.Logger) service.TeamsTransport {
	if cfg.Notifications.TeamsWebhookURL == "" {
		return nil
	}
	return transport.NewTeamsWebhook(logger, cfg.Notifications.TeamsWebhookURL, cfg.Notifications.TeamsTimeout)
}

// ProvideEmailTransport creates the SMTP channel, or nil when no host is
// configured.
func ProvideEmailTransport(cfg *config.Config, logger *zap.Logger) service.EmailTransport {
	if cfg.Notifications.SMTPHost == "" {
		return nil
	}
	return transport.NewSMTPSender(logger, transport.SMTPOptions{
		Host:     cfg.Notifications.SMTPHost,
		Port:     cfg.Notifications.SMTPPort,
		Username: cfg.Notifications.SMTPUser,
		Password: cfg.Notifications.SMTPPassword,
		From:     cfg.Notifications.SMTPFrom,
	})
}

// ProvideSlackTransport creates the Slack channel, or nil when no token is
// configured.
func ProvideSlackTransport(cfg *config.Config, logger *zap.Logger) service.SlackTransport {
	if cfg.Notifications.SlackToken == "" {
		return nil
	}
	return transport.NewSlackNotifier(logger, cfg.Notifications.SlackToken, cfg.Notifications.SlackChannel)
}

// ProvideNotificationRouter creates the router with its routing table from
// the alerting file.
func ProvideNotificationRouter(
	teams service.TeamsTransport,
	email service.EmailTransport,
	slack service.SlackTransport,
	dedup *redisrepo.DedupStore,
	clock domain.Clock,
	f *config.AlertingFile,
	cfg *config.Config,
	logger *zap.Logger,
) *service.NotificationRouter {
	router := service.NewNotificationRouter(logger, teams, email, slack, dedup, clock, service.RouterOptions{
		MaxConcurrent:   cfg.Notifications.MaxConcurrent,
		DispatchTimeout: cfg.Notifications.DispatchTimeout,
		BatchTimeout:    cfg.Notifications.BatchMessageTimeout,
		HistoryTTL:      time.Duration(cfg.Notifications.HistoryRetentionHours) * time.Hour,
		EmailRecipients: cfg.Notifications.EmailRecipients,
	})
	router.UpdateRouting(f.Routing.Rules, f.Routing.TypeDefaults)
	return router
}

// ProvideEventHub creates the websocket event hub.
func ProvideEventHub(logger *zap.Logger) *service.EventHub {
	return service.NewEventHub(logger)
}

// ProvideAlertStreamPublisher bridges alert lifecycle events onto the hub.
func ProvideAlertStreamPublisher(hub *service.EventHub) *service.AlertStreamPublisher {
	return service.NewAlertStreamPublisher(hub)
}

// ProvideAlertService creates the alert generator.
func ProvideAlertService(
	alertRepo *pgrepo.AlertRepository,
	engine *service.RuleEngine,
	correlator *service.CorrelationService,
	router *service.NotificationRouter,
	publisher *service.AlertStreamPublisher,
	metrics *observability.Metrics,
	clock domain.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *service.AlertService {
	return service.NewAlertService(logger, alertRepo, engine, correlator, router, publisher, metrics, clock, cfg.Alerting.MaxConcurrentAlerts)
}

// ProvideEscalationService creates the escalation monitor with the
// configured ladders.
func ProvideEscalationService(
	alertRepo *pgrepo.AlertRepository,
	router *service.NotificationRouter,
	metrics *observability.Metrics,
	clock domain.Clock,
	f *config.AlertingFile,
	cfg *config.Config,
	logger *zap.Logger,
) *service.EscalationService {
	return service.NewEscalationService(logger, alertRepo, router, metrics, clock, service.EscalationOptions{
		Interval: cfg.Escalation.CheckInterval,
		Policies: escalationPolicyMap(f.Escalation.Policies),
		Targets:  f.Escalation.Targets,
	})
}

// ProvideConfidenceService creates the confidence scorer. The environment
// threshold seeds the default; file thresholds override per action type.
func ProvideConfidenceService(
	actionRepo *pgrepo.ActionRepository,
	clock domain.Clock,
	f *config.AlertingFile,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ConfidenceService {
	thresholds := make(map[string]float64, len(f.Healing.ConfidenceThresholds)+1)
	thresholds["default"] = cfg.SelfHealing.ConfidenceThreshold
	for k, v := range f.Healing.ConfidenceThresholds {
		thresholds[k] = v
	}
	return service.NewConfidenceService(logger, actionRepo, clock, service.ConfidenceOptions{
		Weights:           f.Healing.ConfidenceWeights,
		Thresholds:        thresholds,
		DataTables:        f.Healing.DataCharacteristics,
		MinHistorySamples: cfg.SelfHealing.MinHistorySamples,
	})
}

// ProvideImpactService creates the impact analyzer from the file's tables.
func ProvideImpactService(f *config.AlertingFile, logger *zap.Logger) *service.ImpactService {
	return service.NewImpactService(logger, f.Healing.Impact)
}

// ProvideApprovalService creates the approval manager.
func ProvideApprovalService(
	approvalRepo *pgrepo.ApprovalRepository,
	metrics *observability.Metrics,
	clock domain.Clock,
	f *config.AlertingFile,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ApprovalService {
	return service.NewApprovalService(logger, approvalRepo, metrics, clock, service.ApprovalOptions{
		TTL:                          time.Duration(cfg.SelfHealing.ApprovalExpirationHours) * time.Hour,
		SweepInterval:                cfg.SelfHealing.ApprovalSweepInterval,
		Settings:                     f.Healing.ApprovalSettings,
		BusinessHoursRequireApproval: f.Healing.BusinessHoursRequireApproval,
	})
}

// ProvideActionExecutor selects the executor implementation: dry runs in
// simulation mode, the remediation webhook otherwise.
func ProvideActionExecutor(cfg *config.Config, logger *zap.Logger) (service.ActionExecutor, error) {
	if cfg.SelfHealing.SimulationMode {
		return service.NewSimulationExecutor(logger), nil
	}
	if cfg.SelfHealing.ExecutorWebhookURL == "" {
		return nil, fmt.Errorf("simulation mode is off but SELF_HEALING_EXECUTOR_WEBHOOK_URL is not set")
	}
	return transport.NewWebhookExecutor(logger, cfg.SelfHealing.ExecutorWebhookURL, cfg.SelfHealing.ExecutorTimeout), nil
}

// ProvideHealingService creates the resolution selector and registers it
// as the approval decision listener.
func ProvideHealingService(
	actionRepo *pgrepo.ActionRepository,
	resolutionRepo *pgrepo.ResolutionRepository,
	confidence *service.ConfidenceService,
	impact *service.ImpactService,
	approvals *service.ApprovalService,
	executor service.ActionExecutor,
	metrics *observability.Metrics,
	clock domain.Clock,
	f *config.AlertingFile,
	cfg *config.Config,
	logger *zap.Logger,
) *service.HealingService {
	healing := service.NewHealingService(
		logger,
		actionRepo,
		resolutionRepo,
		actionRepo,
		confidence,
		impact,
		approvals,
		executor,
		metrics,
		clock,
		service.HealingOptions{
			Mode:            domain.HealingMode(cfg.SelfHealing.Mode),
			ImpactThreshold: cfg.SelfHealing.ImpactThreshold,
			MaxAttempts:     cfg.SelfHealing.MaxRetryAttempts,
			Patterns:        f.Healing.Patterns,
		},
	)
	approvals.SetListener(healing)
	return healing
}

// ProvideRemediationWorker creates the pending-resolution dispatcher.
func ProvideRemediationWorker(healing *service.HealingService, logger *zap.Logger) *service.RemediationWorker {
	return service.NewRemediationWorker(logger, healing, service.RemediationWorkerOptions{})
}

// BatchWriterResult holds the batch writer and its lifecycle functions.
type BatchWriterResult struct {
	Writer  *chrepo.MetricBatchWriter
	Start   func()
	Cleanup func()
}

// ProvideBatchWriter creates the async ClickHouse metric writer.
func ProvideBatchWriter(conn driver.Conn, logger *zap.Logger) *BatchWriterResult {
	writer := chrepo.NewMetricBatchWriter(conn, nil, logger)

	return &BatchWriterResult{
		Writer: writer,
		Start:  writer.Start,
		Cleanup: func() {
			// Note: Stop is called separately with context in main
		},
	}
}

// ProvideMetricQueryService creates the metric history query service.
func ProvideMetricQueryService(conn driver.Conn, logger *zap.Logger) *service.MetricQueryService {
	return service.NewMetricQueryService(conn, logger)
}

// ProvideAuthService creates the token issuer and API key registry.
func ProvideAuthService(
	keyRepo *pgrepo.APIKeyRepository,
	clock domain.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *service.AuthService {
	return service.NewAuthService(logger, keyRepo, clock, service.AuthOptions{
		JWTSecret:            cfg.Auth.JWTSecret,
		TokenTTL:             cfg.Auth.JWTExpiration,
		OperatorUser:         cfg.Auth.OperatorUser,
		OperatorPasswordHash: cfg.Auth.OperatorPassword,
		APIKeySalt:           cfg.Auth.APIKeySalt,
		BcryptCost:           cfg.Auth.BcryptCost,
	})
}
