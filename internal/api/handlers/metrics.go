package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/service"
)

// MetricsHandler serves historical pipeline metric queries
type MetricsHandler struct {
	metrics *service.MetricQueryService
	logger  *zap.Logger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(metrics *service.MetricQueryService, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		logger:  logger,
	}
}

// List returns the metric paths seen inside a window
// @Summary List known metrics
// @Tags metrics
// @Produce json
// @Param startTime query string false "Start time (RFC3339)"
// @Param endTime query string false "End time (RFC3339)"
// @Param limit query int false "Max metrics to return"
// @Success 200 {array} service.MetricInfo
// @Router /v1/metrics [get]
func (h *MetricsHandler) List(c *gin.Context) {
	start, end := parseTimeRange(c)

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := parseIntParam(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	metrics, err := h.metrics.ListMetrics(c.Request.Context(), start, end, limit)
	if err != nil {
		h.logger.Error("failed to list metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list metrics",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": metrics})
}

// Summary returns aggregate statistics for one metric over a window
// @Summary Metric summary statistics
// @Tags metrics
// @Produce json
// @Param metric query string true "Metric path"
// @Param component query string false "Filter by pipeline component"
// @Param startTime query string false "Start time (RFC3339)"
// @Param endTime query string false "End time (RFC3339)"
// @Success 200 {object} service.MetricSummary
// @Router /v1/metrics/summary [get]
func (h *MetricsHandler) Summary(c *gin.Context) {
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}

	summary, err := h.metrics.Summary(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to get metric summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to retrieve metric summary",
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// TimeSeries returns bucketed averages of one metric
// @Summary Metric time series
// @Tags metrics
// @Produce json
// @Param metric query string true "Metric path"
// @Param interval query string false "Bucket interval (minute, hour, day, week)"
// @Param component query string false "Filter by pipeline component"
// @Param startTime query string false "Start time (RFC3339)"
// @Param endTime query string false "End time (RFC3339)"
// @Success 200 {object} service.TimeSeriesData
// @Router /v1/metrics/timeseries [get]
func (h *MetricsHandler) TimeSeries(c *gin.Context) {
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}

	interval := c.DefaultQuery("interval", "hour")

	data, err := h.metrics.TimeSeries(c.Request.Context(), filter, interval)
	if err != nil {
		h.logger.Error("failed to get time series", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to retrieve time series",
		})
		return
	}

	c.JSON(http.StatusOK, data)
}

// Components returns one metric broken down by pipeline component
// @Summary Metric component breakdown
// @Tags metrics
// @Produce json
// @Param metric query string true "Metric path"
// @Param startTime query string false "Start time (RFC3339)"
// @Param endTime query string false "End time (RFC3339)"
// @Success 200 {array} service.ComponentMetrics
// @Router /v1/metrics/components [get]
func (h *MetricsHandler) Components(c *gin.Context) {
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}

	breakdown, err := h.metrics.ComponentBreakdown(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to get component breakdown", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to retrieve component breakdown",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}

// parseFilter builds a MetricFilter from query parameters. Writes the
// error response itself and returns false when the metric is missing.
func (h *MetricsHandler) parseFilter(c *gin.Context) (*service.MetricFilter, bool) {
	metric := c.Query("metric")
	if metric == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "metric parameter is required",
		})
		return nil, false
	}

	start, end := parseTimeRange(c)
	return &service.MetricFilter{
		Metric:    metric,
		Component: c.Query("component"),
		StartTime: start,
		EndTime:   end,
	}, true
}

// parseTimeRange reads startTime/endTime query params, defaulting to the
// last 24 hours.
func parseTimeRange(c *gin.Context) (time.Time, time.Time) {
	end := time.Now()
	start := end.Add(-24 * time.Hour)

	if s := c.Query("startTime"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			start = t
		}
	}
	if s := c.Query("endTime"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			end = t
		}
	}
	return start, end
}

// parseIntParam safely parses an integer parameter
func parseIntParam(s string) (int, error) {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return 0, err
	}
	return i, nil
}
