package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/service"
)

// DeliveryHandler exposes notification delivery outcomes
type DeliveryHandler struct {
	router *service.NotificationRouter
	logger *zap.Logger
}

// NewDeliveryHandler creates a new delivery handler
func NewDeliveryHandler(router *service.NotificationRouter, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		router: router,
		logger: logger,
	}
}

// Status returns the per-channel delivery record of one notification
// @Summary Notification delivery status
// @Tags notifications
// @Produce json
// @Success 200 {object} service.DeliveryRecord
// @Failure 404 {object} ErrorResponse
// @Router /v1/deliveries/{notificationId} [get]
func (h *DeliveryHandler) Status(c *gin.Context) {
	id := c.Param("notificationId")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_notification_id",
			Message: "Notification ID is required",
		})
		return
	}

	record, ok := h.router.DeliveryStatus(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No delivery record for the given notification ID",
		})
		return
	}

	c.JSON(http.StatusOK, record)
}
