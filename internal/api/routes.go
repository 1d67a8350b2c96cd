package api

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/api/handlers"
	"github.com/pipeguard/pipeguard/internal/api/middleware"
	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/observability"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	Health     *handlers.HealthHandler
	Auth       *handlers.AuthHandler
	Alert      *handlers.AlertHandler
	Rule       *handlers.RuleHandler
	Approval   *handlers.ApprovalHandler
	Healing    *handlers.HealingHandler
	Escalation *handlers.EscalationHandler
	Ingest     *handlers.IngestHandler
	Metrics    *handlers.MetricsHandler
	Delivery   *handlers.DeliveryHandler
	WebSocket  *handlers.WebSocketHandler
}

// SetupRouter configures the Gin router with all routes and middleware
func SetupRouter(h *Handlers, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, apiKeyValidator middleware.APIKeyValidator) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(requestid.New())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.Prometheus(metrics))

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if cfg.IsProduction() {
		// In production, restrict to specific domains
		corsOrigins = []string{os.Getenv("CORS_ALLOWED_ORIGINS")}
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health and telemetry endpoints (no auth required)
	r.GET("/healthz", h.Health.Health)
	r.GET("/readyz", h.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket alert stream (authenticates via token query param)
	r.GET("/ws", h.WebSocket.ServeWS)

	// API v1
	v1 := r.Group("/v1")
	{
		// Public auth routes, rate limited per IP
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimitByIP(10, time.Minute))
		{
			auth.POST("/token", h.Auth.Login)
		}

		// Ingest routes - API key authentication
		ingest := v1.Group("")
		ingest.Use(middleware.APIKeyAuth(apiKeyValidator))
		if cfg.Server.IngestRateLimit > 0 {
			ingest.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.Server.IngestRateLimit, time.Minute)))
		}
		{
			ingest.POST("/ingest/metrics", middleware.RequireScope("ingest"), h.Ingest.Metrics)
			ingest.POST("/ingest/events", middleware.RequireScope("ingest"), h.Ingest.Events)

			// Direct alert generation for external detectors
			ingest.POST("/alerts", middleware.RequireScope("ingest"), h.Alert.Generate)
		}

		// Operator routes - JWT authentication
		operator := v1.Group("")
		operator.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			// Alerts
			alerts := operator.Group("/alerts")
			{
				alerts.GET("", h.Alert.List)
				alerts.GET("/active", h.Alert.Active)
				alerts.GET("/stats", h.Alert.Stats)
				alerts.GET("/:alertId", h.Alert.Get)
				alerts.POST("/:alertId/acknowledge", h.Alert.Acknowledge)
				alerts.POST("/:alertId/resolve", h.Alert.Resolve)
				alerts.POST("/:alertId/suppress", h.Alert.Suppress)
				alerts.GET("/:alertId/escalation", h.Escalation.AlertLevel)
			}

			// Alert rules
			rules := operator.Group("/rules")
			{
				rules.GET("", h.Rule.List)
				rules.POST("", h.Rule.Create)
				rules.GET("/groups", h.Rule.Groups)
				rules.GET("/:ruleId", h.Rule.Get)
				rules.PUT("/:ruleId", h.Rule.Update)
				rules.DELETE("/:ruleId", h.Rule.Delete)
			}

			// Active correlation groups
			operator.GET("/correlations", h.Rule.CorrelationGroups)

			// Approval requests
			approvals := operator.Group("/approvals")
			{
				approvals.GET("", h.Approval.Pending)
				approvals.GET("/:requestId", h.Approval.Get)
				approvals.POST("/:requestId/approve", h.Approval.Approve)
				approvals.POST("/:requestId/reject", h.Approval.Reject)
			}

			// Self-healing
			healing := operator.Group("/healing")
			{
				healing.POST("/issues", h.Healing.ReportIssue)
				healing.GET("/mode", h.Healing.Mode)
				healing.PUT("/mode", h.Healing.SetMode)
				healing.GET("/actions", h.Healing.ListActions)
				healing.POST("/actions", h.Healing.RegisterAction)
			}

			// Resolutions
			resolutions := operator.Group("/resolutions")
			{
				resolutions.GET("", h.Healing.ListResolutions)
				resolutions.GET("/:resolutionId", h.Healing.GetResolution)
				resolutions.POST("/:resolutionId/execute", h.Healing.Execute)
			}

			// Escalation monitor
			operator.GET("/escalation/status", h.Escalation.Status)

			// Notification delivery records
			operator.GET("/deliveries/:notificationId", h.Delivery.Status)

			// API keys
			apikeys := operator.Group("/apikeys")
			{
				apikeys.GET("", h.Auth.ListAPIKeys)
				apikeys.POST("", h.Auth.CreateAPIKey)
				apikeys.DELETE("/:keyId", h.Auth.RevokeAPIKey)
			}
		}

		// Historical pipeline metrics. Operators query these from the
		// dashboard; automation reads them with a "read"-scoped key.
		metricsGroup := v1.Group("/metrics")
		metricsGroup.Use(middleware.CombinedAuth(cfg.Auth.JWTSecret, apiKeyValidator))
		{
			metricsGroup.GET("", middleware.RequireScope("read"), h.Metrics.List)
			metricsGroup.GET("/summary", middleware.RequireScope("read"), h.Metrics.Summary)
			metricsGroup.GET("/timeseries", middleware.RequireScope("read"), h.Metrics.TimeSeries)
			metricsGroup.GET("/components", middleware.RequireScope("read"), h.Metrics.Components)
		}
	}

	return r
}
