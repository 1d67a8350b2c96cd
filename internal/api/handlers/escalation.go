package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/service"
)

// EscalationHandler reports escalation monitor state
type EscalationHandler struct {
	escalation *service.EscalationService
	logger     *zap.Logger
}

// NewEscalationHandler creates a new escalation handler
func NewEscalationHandler(escalation *service.EscalationService, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{
		escalation: escalation,
		logger:     logger,
	}
}

// Status reports whether the escalation monitor is running
// @Summary Escalation monitor status
// @Tags escalation
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /v1/escalation/status [get]
func (h *EscalationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.escalation.Running()})
}

// AlertLevel reports the current escalation level of one alert
// @Summary Alert escalation level
// @Tags escalation
// @Produce json
// @Success 200 {object} map[string]int
// @Router /v1/alerts/{alertId}/escalation [get]
func (h *EscalationHandler) AlertLevel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("alertId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_alert_id",
			Message: "Invalid alert ID format",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"level": h.escalation.Level(id)})
}
