package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/api/middleware"
	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

// ApprovalHandler exposes the manual approval queue
type ApprovalHandler struct {
	approvals *service.ApprovalService
	logger    *zap.Logger
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(approvals *service.ApprovalService, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		approvals: approvals,
		logger:    logger,
	}
}

// Pending lists approval requests awaiting a decision, oldest first
// @Summary List pending approvals
// @Tags approvals
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/approvals [get]
func (h *ApprovalHandler) Pending(c *gin.Context) {
	var q PaginationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	requests, err := h.approvals.Pending(c.Request.Context(), q.Limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Data:  requests,
		Total: len(requests),
		Limit: q.Limit,
	})
}

// Get returns one approval request
// @Summary Get approval request
// @Tags approvals
// @Produce json
// @Success 200 {object} domain.ApprovalRequest
// @Failure 404 {object} ErrorResponse
// @Router /v1/approvals/{requestId} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request_id",
			Message: "Invalid request ID format",
		})
		return
	}

	req, err := h.approvals.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// Approve records an operator approval
// @Summary Approve request
// @Tags approvals
// @Produce json
// @Success 200 {object} domain.ApprovalRequest
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/approvals/{requestId}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request_id",
			Message: "Invalid request ID format",
		})
		return
	}

	ok, err := h.approvals.Approve(c.Request.Context(), id, h.approver(c))
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(domain.ErrApprovalClosed)
		return
	}

	h.respondWithRequest(c, id)
}

// RejectRequest carries the mandatory rejection reason
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reject records an operator rejection
// @Summary Reject request
// @Tags approvals
// @Produce json
// @Success 200 {object} domain.ApprovalRequest
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/approvals/{requestId}/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request_id",
			Message: "Invalid request ID format",
		})
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	ok, err := h.approvals.Reject(c.Request.Context(), id, h.approver(c), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(domain.ErrApprovalClosed)
		return
	}

	h.respondWithRequest(c, id)
}

func (h *ApprovalHandler) approver(c *gin.Context) string {
	if name := c.GetString(string(middleware.ContextName)); name != "" {
		return name
	}
	return "operator"
}

func (h *ApprovalHandler) respondWithRequest(c *gin.Context, id uuid.UUID) {
	req, err := h.approvals.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}
