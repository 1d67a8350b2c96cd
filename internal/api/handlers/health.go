package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const version = "1.0.0"

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	pg     *pgxpool.Pool
	ch     driver.Conn
	redis  *goredis.Client
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(pg *pgxpool.Pool, ch driver.Conn, redis *goredis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{pg: pg, ch: ch, redis: redis, logger: logger}
}

// HealthResponse reports overall and per-store status.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services,omitempty"`
}

// Health is the liveness probe. It answers as long as the process runs.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: version})
}

// Ready is the readiness probe. Each backing store gets a short ping;
// any failure flips the response to 503.
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /readyz [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	probes := make(map[string]func(context.Context) error, 3)
	if h.pg != nil {
		probes["postgres"] = h.pg.Ping
	}
	if h.ch != nil {
		probes["clickhouse"] = h.ch.Ping
	}
	if h.redis != nil {
		probes["redis"] = func(ctx context.Context) error { return h.redis.Ping(ctx).Err() }
	}

	services := make(map[string]string, len(probes))
	ready := true
	for name, ping := range probes {
		if err := ping(ctx); err != nil {
			h.logger.Error("readiness probe failed", zap.String("store", name), zap.Error(err))
			services[name] = "unhealthy"
			ready = false
			continue
		}
		services[name] = "healthy"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{Status: status, Version: version, Services: services})
}
