package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

// MetricWriter buffers metric samples for the history store.
type MetricWriter interface {
	WritePoints(ctx context.Context, points []*domain.MetricPoint) error
}

// IngestHandler accepts metric and event payloads from pipeline agents
type IngestHandler struct {
	alerts  *service.AlertService
	writer  MetricWriter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(alerts *service.AlertService, writer MetricWriter, metrics *observability.Metrics, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		alerts:  alerts,
		writer:  writer,
		metrics: metrics,
		logger:  logger,
	}
}

// MetricsIngestRequest is one batch of metric samples from one component
type MetricsIngestRequest struct {
	Component   string                 `json:"component"`
	ExecutionID string                 `json:"execution_id"`
	Timestamp   *time.Time             `json:"timestamp"`
	Metrics     map[string]interface{} `json:"metrics" binding:"required"`
	Context     map[string]interface{} `json:"context"`
}

// IngestResponse reports what the payload produced
type IngestResponse struct {
	Accepted int         `json:"accepted"`
	AlertIDs []uuid.UUID `json:"alert_ids,omitempty"`
}

// Metrics ingests a metric payload: samples are buffered for the history
// store and the rule set is evaluated against the full map
// @Summary Ingest metrics
// @Tags ingest
// @Accept json
// @Produce json
// @Success 202 {object} IngestResponse
// @Failure 400 {object} ErrorResponse
// @Router /v1/ingest/metrics [post]
func (h *IngestHandler) Metrics(c *gin.Context) {
	var req MetricsIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	points := make([]*domain.MetricPoint, 0, len(req.Metrics))
	for name, raw := range req.Metrics {
		value, ok := numeric(raw)
		if !ok {
			continue
		}
		points = append(points, &domain.MetricPoint{
			Metric:      name,
			Component:   req.Component,
			ExecutionID: req.ExecutionID,
			Value:       value,
			Timestamp:   ts,
		})
	}
	if len(points) > 0 {
		if err := h.writer.WritePoints(c.Request.Context(), points); err != nil {
			c.Error(err)
			return
		}
		h.metrics.PointsIngested("metric", len(points))
	}

	callerCtx := req.Context
	if req.Component != "" || req.ExecutionID != "" {
		merged := make(map[string]interface{}, len(callerCtx)+2)
		for k, v := range callerCtx {
			merged[k] = v
		}
		if req.Component != "" {
			merged["component"] = req.Component
		}
		if req.ExecutionID != "" {
			merged["execution_id"] = req.ExecutionID
		}
		callerCtx = merged
	}

	alertIDs, err := h.alerts.ProcessMetrics(c.Request.Context(), req.Metrics, callerCtx)
	if err != nil {
		// The samples are already accepted; alerting failures must not
		// bounce the producer.
		h.logger.Warn("metric evaluation produced errors", zap.Error(err))
	}

	c.JSON(http.StatusAccepted, IngestResponse{
		Accepted: len(points),
		AlertIDs: alertIDs,
	})
}

// EventPayload is one pipeline event in an ingest batch
type EventPayload struct {
	EventType   string                 `json:"event_type" binding:"required"`
	Source      string                 `json:"source"`
	Component   string                 `json:"component"`
	ExecutionID string                 `json:"execution_id"`
	Properties  map[string]interface{} `json:"properties"`
	Timestamp   *time.Time             `json:"timestamp"`
}

// EventsIngestRequest is one batch of pipeline events
type EventsIngestRequest struct {
	Events  []EventPayload         `json:"events" binding:"required,min=1,dive"`
	Context map[string]interface{} `json:"context"`
}

// Events ingests pipeline events and evaluates the event rules
// @Summary Ingest events
// @Tags ingest
// @Accept json
// @Produce json
// @Success 202 {object} IngestResponse
// @Failure 400 {object} ErrorResponse
// @Router /v1/ingest/events [post]
func (h *IngestHandler) Events(c *gin.Context) {
	var req EventsIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	events := make([]domain.PipelineEvent, 0, len(req.Events))
	for _, e := range req.Events {
		ts := time.Now().UTC()
		if e.Timestamp != nil {
			ts = e.Timestamp.UTC()
		}
		events = append(events, domain.PipelineEvent{
			EventType:   e.EventType,
			Source:      e.Source,
			Component:   e.Component,
			ExecutionID: e.ExecutionID,
			Properties:  e.Properties,
			Timestamp:   ts,
		})
	}

	h.metrics.PointsIngested("event", len(events))

	alertIDs, err := h.alerts.ProcessEvents(c.Request.Context(), events, req.Context)
	if err != nil {
		h.logger.Warn("event evaluation produced errors", zap.Error(err))
	}

	c.JSON(http.StatusAccepted, IngestResponse{
		Accepted: len(events),
		AlertIDs: alertIDs,
	})
}

// numeric coerces the JSON value types a metric sample can arrive as.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
