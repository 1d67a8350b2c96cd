package wire

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pipeguard/pipeguard/internal/api"
	grpcserver "github.com/pipeguard/pipeguard/internal/api/grpc"
	"github.com/pipeguard/pipeguard/internal/api/middleware"
	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
	chrepo "github.com/pipeguard/pipeguard/internal/repository/clickhouse"
	"github.com/pipeguard/pipeguard/internal/service"
)

// ProviderSet is the main provider set that includes all application dependencies.
var ProviderSet = wire.NewSet(
	DatabaseSet,
	RepositorySet,
	ServiceSet,
	HandlerSet,
	ProvideLogger,
	ProvideMetrics,
	ProvideRouter,
	ProvideGRPCComponents,
	ProvideApplication,
)

// Application holds all the dependencies needed to run the server.
type Application struct {
	Config         *config.Config
	Logger         *zap.Logger
	PostgresPool   *pgxpool.Pool
	ClickHouseConn driver.Conn
	RedisClient    *goredis.Client
	Router         *gin.Engine
	Handlers       *api.Handlers
	AlertingFile   *config.AlertingFile

	Hub                *service.EventHub
	RuleEngine         *service.RuleEngine
	NotificationRouter *service.NotificationRouter
	Escalation         *service.EscalationService
	Approvals          *service.ApprovalService
	Healing            *service.HealingService
	Remediation        *service.RemediationWorker
	BatchWriter        *BatchWriterResult
	GRPCComponents     *GRPCComponents

	hubCancel context.CancelFunc

	// Database wrappers with cleanup
	postgresWrapper   *PostgresDB
	clickhouseWrapper *ClickHouseDB
	redisWrapper      *RedisDB
}

// Start starts all background services.
func (a *Application) Start() {
	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.Hub.Run(hubCtx)

	if a.BatchWriter != nil && a.BatchWriter.Writer != nil {
		a.BatchWriter.Start()
	}

	a.Escalation.Start()
	a.Approvals.Start()
	a.Remediation.Start()
}

// Cleanup stops the background workers and releases all resources. The
// HTTP and gRPC servers and the batch writer are shut down by main before
// this runs; workers stop before their stores close underneath them.
func (a *Application) Cleanup() {
	a.Remediation.Stop()
	a.Approvals.Stop()
	a.Escalation.Stop()
	if a.hubCancel != nil {
		a.hubCancel()
	}

	if a.redisWrapper != nil && a.redisWrapper.Cleanup != nil {
		a.redisWrapper.Cleanup()
	}
	if a.clickhouseWrapper != nil && a.clickhouseWrapper.Cleanup != nil {
		a.clickhouseWrapper.Cleanup()
	}
	if a.postgresWrapper != nil && a.postgresWrapper.Cleanup != nil {
		a.postgresWrapper.Cleanup()
	}
}

// GetBatchWriter returns the metric batch writer for the final flush.
func (a *Application) GetBatchWriter() *chrepo.MetricBatchWriter {
	if a.BatchWriter == nil {
		return nil
	}
	return a.BatchWriter.Writer
}

// ApplyAlertingFile installs a reloaded declarative configuration on the
// running services. Constructor-time tables (confidence, impact, approval
// policy, action catalog) keep their values until restart.
func (a *Application) ApplyAlertingFile(f *config.AlertingFile) {
	if err := a.RuleEngine.ReplaceRules(f.Rules); err != nil {
		a.Logger.Error("failed to apply reloaded rules", zap.Error(err))
		return
	}
	a.NotificationRouter.UpdateRouting(f.Routing.Rules, f.Routing.TypeDefaults)
	a.Escalation.UpdatePolicies(escalationPolicyMap(f.Escalation.Policies), f.Escalation.Targets)
	a.Healing.UpdatePatterns(f.Healing.Patterns)
}

func escalationPolicyMap(policies []domain.EscalationPolicy) map[domain.Severity]domain.EscalationPolicy {
	out := make(map[domain.Severity]domain.EscalationPolicy, len(policies))
	for _, p := range policies {
		out[p.Severity] = p
	}
	return out
}

// GRPCComponents holds gRPC-related dependencies.
type GRPCComponents struct {
	OTLPService *grpcserver.OTLPMetricsService
	Config      *grpcserver.ServerConfig
}

// ProvideLogger creates a configured zap logger.
func ProvideLogger(cfg *config.Config) *zap.Logger {
	var zapConfig zap.Config
	if cfg.IsDevelopment() {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger
}

// ProvideMetrics registers the service's instruments on the default
// Prometheus registry, which /metrics serves.
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.DefaultRegisterer)
}

// ProvideRouter creates the Gin router with all routes configured.
func ProvideRouter(
	h *api.Handlers,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
	auth *service.AuthService,
) *gin.Engine {
	return api.SetupRouter(h, cfg, logger, metrics, middleware.APIKeyValidator(auth.ValidateAPIKey))
}

// ProvideGRPCComponents creates the gRPC-related components.
func ProvideGRPCComponents(
	alerts *service.AlertService,
	batchWriter *BatchWriterResult,
	metrics *observability.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *GRPCComponents {
	if !cfg.GRPC.Enabled {
		return nil
	}

	otlpService := grpcserver.NewOTLPMetricsService(alerts, batchWriter.Writer, metrics, logger)
	grpcConfig := grpcserver.DefaultServerConfig()
	grpcConfig.Port = cfg.GRPC.Port

	return &GRPCComponents{
		OTLPService: otlpService,
		Config:      grpcConfig,
	}
}

// ProvideApplication creates the main Application struct with all dependencies.
func ProvideApplication(
	cfg *config.Config,
	logger *zap.Logger,
	pgWrapper *PostgresDB,
	chWrapper *ClickHouseDB,
	redisWrapper *RedisDB,
	router *gin.Engine,
	handlers *api.Handlers,
	alertingFile *config.AlertingFile,
	hub *service.EventHub,
	engine *service.RuleEngine,
	notifier *service.NotificationRouter,
	escalation *service.EscalationService,
	approvals *service.ApprovalService,
	healing *service.HealingService,
	remediation *service.RemediationWorker,
	batchWriter *BatchWriterResult,
	grpcComponents *GRPCComponents,
) *Application {
	return &Application{
		Config:             cfg,
		Logger:             logger,
		PostgresPool:       pgWrapper.Pool,
		ClickHouseConn:     chWrapper.Conn,
		RedisClient:        redisWrapper.Client,
		Router:             router,
		Handlers:           handlers,
		AlertingFile:       alertingFile,
		Hub:                hub,
		RuleEngine:         engine,
		NotificationRouter: notifier,
		Escalation:         escalation,
		Approvals:          approvals,
		Healing:            healing,
		Remediation:        remediation,
		BatchWriter:        batchWriter,
		GRPCComponents:     grpcComponents,
		postgresWrapper:    pgWrapper,
		clickhouseWrapper:  chWrapper,
		redisWrapper:       redisWrapper,
	}
}
