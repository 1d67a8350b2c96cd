package wire

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/api"
	"github.com/pipeguard/pipeguard/internal/api/handlers"
	"github.com/pipeguard/pipeguard/internal/observability"
	"github.com/pipeguard/pipeguard/internal/service"
)

// HandlerSet provides all HTTP handler instances.
var HandlerSet = wire.NewSet(
	ProvideHealthHandler,
	ProvideAuthHandler,
	ProvideAlertHandler,
	ProvideRuleHandler,
	ProvideApprovalHandler,
	ProvideHealingHandler,
	ProvideEscalationHandler,
	ProvideIngestHandler,
	ProvideMetricsHandler,
	ProvideDeliveryHandler,
	ProvideWebSocketHandler,
	ProvideHandlers,
)

// ProvideHealthHandler creates a new HealthHandler.
func ProvideHealthHandler(db *pgxpool.Pool, ch driver.Conn, redis *goredis.Client, logger *zap.Logger) *handlers.HealthHandler {
	return handlers.NewHealthHandler(db, ch, redis, logger)
}

// ProvideAuthHandler creates a new AuthHandler.
func ProvideAuthHandler(
	authService *service.AuthService,
	logger *zap.Logger,
) *handlers.AuthHandler {
	return handlers.NewAuthHandler(authService, logger)
}

// ProvideAlertHandler creates a new AlertHandler.
func ProvideAlertHandler(
	alerts *service.AlertService,
	logger *zap.Logger,
) *handlers.AlertHandler {
	return handlers.NewAlertHandler(alerts, logger)
}

// ProvideRuleHandler creates a new RuleHandler.
func ProvideRuleHandler(
	engine *service.RuleEngine,
	correlator *service.CorrelationService,
	logger *zap.Logger,
) *handlers.RuleHandler {
	return handlers.NewRuleHandler(engine, correlator, logger)
}

// ProvideApprovalHandler creates a new ApprovalHandler.
func ProvideApprovalHandler(
	approvals *service.ApprovalService,
	logger *zap.Logger,
) *handlers.ApprovalHandler {
	return handlers.NewApprovalHandler(approvals, logger)
}

// ProvideHealingHandler creates a new HealingHandler.
func ProvideHealingHandler(
	healing *service.HealingService,
	logger *zap.Logger,
) *handlers.HealingHandler {
	return handlers.NewHealingHandler(healing, logger)
}

// ProvideEscalationHandler creates a new EscalationHandler.
func ProvideEscalationHandler(
	escalation *service.EscalationService,
	logger *zap.Logger,
) *handlers.EscalationHandler {
	return handlers.NewEscalationHandler(escalation, logger)
}

// ProvideIngestHandler creates a new IngestHandler backed by the batch
// writer.
func ProvideIngestHandler(
	alerts *service.AlertService,
	batchWriter *BatchWriterResult,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *handlers.IngestHandler {
	return handlers.NewIngestHandler(alerts, batchWriter.Writer, metrics, logger)
}

// ProvideMetricsHandler creates a new MetricsHandler.
func ProvideMetricsHandler(
	metrics *service.MetricQueryService,
	logger *zap.Logger,
) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(metrics, logger)
}

// ProvideDeliveryHandler creates a new DeliveryHandler.
func ProvideDeliveryHandler(
	router *service.NotificationRouter,
	logger *zap.Logger,
) *handlers.DeliveryHandler {
	return handlers.NewDeliveryHandler(router, logger)
}

// ProvideWebSocketHandler creates a new WebSocketHandler.
func ProvideWebSocketHandler(
	hub *service.EventHub,
	auth *service.AuthService,
	logger *zap.Logger,
) *handlers.WebSocketHandler {
	return handlers.NewWebSocketHandler(hub, auth, logger)
}

// ProvideHandlers creates the Handlers struct containing all handlers.
func ProvideHandlers(
	health *handlers.HealthHandler,
	auth *handlers.AuthHandler,
	alert *handlers.AlertHandler,
	rule *handlers.RuleHandler,
	approval *handlers.ApprovalHandler,
	healing *handlers.HealingHandler,
	escalation *handlers.EscalationHandler,
	ingest *handlers.IngestHandler,
	metrics *handlers.MetricsHandler,
	delivery *handlers.DeliveryHandler,
	websocket *handlers.WebSocketHandler,
) *api.Handlers {
	return &api.Handlers{
		Health:     health,
		Auth:       auth,
		Alert:      alert,
		Rule:       rule,
		Approval:   approval,
		Healing:    healing,
		Escalation: escalation,
		Ingest:     ingest,
		Metrics:    metrics,
		Delivery:   delivery,
		WebSocket:  websocket,
	}
}
