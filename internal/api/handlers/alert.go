package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/api/middleware"
	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

// AlertHandler handles alert lifecycle endpoints
type AlertHandler struct {
	alerts *service.AlertService
	logger *zap.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *service.AlertService, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		logger: logger,
	}
}

// ListAlertsQuery binds the alert list filter
type ListAlertsQuery struct {
	Status      string `form:"status" binding:"omitempty,alertstatus"`
	Severity    string `form:"severity" binding:"omitempty,severity"`
	AlertType   string `form:"alert_type"`
	Component   string `form:"component"`
	ExecutionID string `form:"execution_id"`
	Since       string `form:"since"`
	Until       string `form:"until"`
	Limit       int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset      int    `form:"offset" binding:"omitempty,min=0"`
}

// List returns alerts matching the query filter
// @Summary List alerts
// @Tags alerts
// @Produce json
// @Success 200 {object} ListResponse
// @Failure 400 {object} ErrorResponse
// @Router /v1/alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	var q ListAlertsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	filter := domain.AlertFilter{
		AlertType:   q.AlertType,
		Component:   q.Component,
		ExecutionID: q.ExecutionID,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if q.Status != "" {
		status := domain.AlertStatus(q.Status)
		filter.Status = &status
	}
	if q.Severity != "" {
		severity := domain.Severity(q.Severity)
		filter.Severity = &severity
	}
	if q.Since != "" {
		t, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "since must be RFC3339",
			})
			return
		}
		filter.Since = &t
	}
	if q.Until != "" {
		t, err := time.Parse(time.RFC3339, q.Until)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "until must be RFC3339",
			})
			return
		}
		filter.Until = &t
	}

	alerts, err := h.alerts.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Data:   alerts,
		Total:  len(alerts),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Active returns the alerts still awaiting attention
// @Summary List active alerts
// @Tags alerts
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/alerts/active [get]
func (h *AlertHandler) Active(c *gin.Context) {
	alerts, err := h.alerts.ActiveAlerts(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Data:  alerts,
		Total: len(alerts),
	})
}

// Stats reports the trailing generation counters
// @Summary Alert generation statistics
// @Tags alerts
// @Produce json
// @Success 200 {object} service.AlertStats
// @Router /v1/alerts/stats [get]
func (h *AlertHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.alerts.Stats())
}

// Get returns one alert with its delivery attempts
// @Summary Get alert
// @Tags alerts
// @Produce json
// @Success 200 {object} domain.Alert
// @Failure 404 {object} ErrorResponse
// @Router /v1/alerts/{alertId} [get]
func (h *AlertHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("alertId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_alert_id",
			Message: "Invalid alert ID format",
		})
		return
	}

	alert, err := h.alerts.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, alert)
}

// GenerateRequest is a direct alert generation request
type GenerateRequest struct {
	AlertType   string                       `json:"alert_type" binding:"required"`
	Description string                       `json:"description" binding:"required"`
	Severity    string                       `json:"severity" binding:"required,severity"`
	Component   string                       `json:"component"`
	ExecutionID string                       `json:"execution_id"`
	Context     map[string]interface{}       `json:"context"`
	Channels    []domain.NotificationChannel `json:"channels"`
}

// Generate creates one alert directly, bypassing rule evaluation
// @Summary Generate alert
// @Tags alerts
// @Accept json
// @Produce json
// @Success 201 {object} domain.Alert
// @Failure 400 {object} ErrorResponse
// @Router /v1/alerts [post]
func (h *AlertHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	alert, err := h.alerts.GenerateAlert(c.Request.Context(), service.AlertParams{
		AlertType:   req.AlertType,
		Description: req.Description,
		Severity:    domain.Severity(req.Severity),
		Component:   req.Component,
		ExecutionID: req.ExecutionID,
		Context:     req.Context,
		Channels:    req.Channels,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, alert)
}

// TransitionRequest carries optional operator details for a transition
type TransitionRequest struct {
	Details map[string]interface{} `json:"details"`
}

// Acknowledge moves a new alert to acknowledged
// @Summary Acknowledge alert
// @Tags alerts
// @Accept json
// @Produce json
// @Success 200 {object} domain.Alert
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/alerts/{alertId}/acknowledge [post]
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, by string, details map[string]interface{}) (bool, error) {
		return h.alerts.Acknowledge(c.Request.Context(), id, by, details)
	})
}

// Resolve moves a new or acknowledged alert to resolved
// @Summary Resolve alert
// @Tags alerts
// @Accept json
// @Produce json
// @Success 200 {object} domain.Alert
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/alerts/{alertId}/resolve [post]
func (h *AlertHandler) Resolve(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, by string, details map[string]interface{}) (bool, error) {
		return h.alerts.Resolve(c.Request.Context(), id, by, details)
	})
}

// SuppressRequest carries the mandatory suppression reason
type SuppressRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Suppress silences a new alert
// @Summary Suppress alert
// @Tags alerts
// @Accept json
// @Produce json
// @Success 200 {object} domain.Alert
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/alerts/{alertId}/suppress [post]
func (h *AlertHandler) Suppress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("alertId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_alert_id",
			Message: "Invalid alert ID format",
		})
		return
	}

	var req SuppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	ok, err := h.alerts.Suppress(c.Request.Context(), id, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(domain.ErrTerminalState)
		return
	}

	h.respondWithAlert(c, id)
}

// transition runs one guarded status change and replies with the updated
// alert, 404 when it does not exist, or 409 when the guard rejected it.
func (h *AlertHandler) transition(c *gin.Context, apply func(uuid.UUID, string, map[string]interface{}) (bool, error)) {
	id, err := uuid.Parse(c.Param("alertId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_alert_id",
			Message: "Invalid alert ID format",
		})
		return
	}

	// The body is optional; an empty one just means no extra details.
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	by := c.GetString(string(middleware.ContextName))
	if by == "" {
		by = "operator"
	}

	ok, err := apply(id, by, req.Details)
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(domain.ErrTerminalState)
		return
	}

	h.respondWithAlert(c, id)
}

func (h *AlertHandler) respondWithAlert(c *gin.Context, id uuid.UUID) {
	alert, err := h.alerts.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, alert)
}
