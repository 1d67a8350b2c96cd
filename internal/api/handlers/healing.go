package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

// HealingHandler exposes resolution selection, execution, the action
// catalog, and the healing mode switch
type HealingHandler struct {
	healing *service.HealingService
	logger  *zap.Logger
}

// NewHealingHandler creates a new healing handler
func NewHealingHandler(healing *service.HealingService, logger *zap.Logger) *HealingHandler {
	return &HealingHandler{
		healing: healing,
		logger:  logger,
	}
}

// ReportIssueRequest describes a detected issue to heal
type ReportIssueRequest struct {
	IssueID     string                 `json:"issue_id" binding:"required"`
	ActionType  string                 `json:"action_type" binding:"required"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details"`
	Context     map[string]interface{} `json:"context"`
}

// ReportIssue selects a resolution for a detected issue
// @Summary Report an issue and select a resolution
// @Tags healing
// @Accept json
// @Produce json
// @Success 201 {object} domain.Resolution
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /v1/healing/issues [post]
func (h *HealingHandler) ReportIssue(c *gin.Context) {
	var req ReportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	resolution, err := h.healing.SelectResolution(c.Request.Context(), domain.Issue{
		ID:          req.IssueID,
		ActionType:  req.ActionType,
		Description: req.Description,
		Details:     req.Details,
	}, req.Context)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resolution)
}

// Execute runs a pending resolution
// @Summary Execute resolution
// @Tags healing
// @Produce json
// @Success 200 {object} domain.Resolution
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/resolutions/{resolutionId}/execute [post]
func (h *HealingHandler) Execute(c *gin.Context) {
	id, err := uuid.Parse(c.Param("resolutionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_resolution_id",
			Message: "Invalid resolution ID format",
		})
		return
	}

	resolution, err := h.healing.ExecuteResolution(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resolution)
}

// GetResolution returns one resolution
// @Summary Get resolution
// @Tags healing
// @Produce json
// @Success 200 {object} domain.Resolution
// @Failure 404 {object} ErrorResponse
// @Router /v1/resolutions/{resolutionId} [get]
func (h *HealingHandler) GetResolution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("resolutionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_resolution_id",
			Message: "Invalid resolution ID format",
		})
		return
	}

	resolution, err := h.healing.Resolution(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resolution)
}

// ListResolutionsQuery binds the resolution list filter
type ListResolutionsQuery struct {
	Status  string `form:"status" binding:"omitempty,oneof=pending in_progress success failed approval_required"`
	IssueID string `form:"issue_id"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ListResolutions returns resolutions by status or issue
// @Summary List resolutions
// @Tags healing
// @Produce json
// @Success 200 {object} ListResponse
// @Failure 400 {object} ErrorResponse
// @Router /v1/resolutions [get]
func (h *HealingHandler) ListResolutions(c *gin.Context) {
	var q ListResolutionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	var (
		resolutions []*domain.Resolution
		err         error
	)
	switch {
	case q.IssueID != "":
		resolutions, err = h.healing.ResolutionsForIssue(c.Request.Context(), q.IssueID)
	case q.Status != "":
		resolutions, err = h.healing.ResolutionsByStatus(c.Request.Context(), domain.ResolutionStatus(q.Status), q.Limit)
	default:
		resolutions, err = h.healing.ResolutionsByStatus(c.Request.Context(), domain.ResolutionStatusPending, q.Limit)
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Data:  resolutions,
		Total: len(resolutions),
		Limit: q.Limit,
	})
}

// Mode reports the current healing mode
// @Summary Get healing mode
// @Tags healing
// @Produce json
// @Success 200 {object} map[string]string
// @Router /v1/healing/mode [get]
func (h *HealingHandler) Mode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": h.healing.Mode()})
}

// SetModeRequest selects the healing mode
type SetModeRequest struct {
	Mode string `json:"mode" binding:"required,healingmode"`
}

// SetMode switches the healing mode at runtime
// @Summary Set healing mode
// @Tags healing
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /v1/healing/mode [put]
func (h *HealingHandler) SetMode(c *gin.Context) {
	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	if err := h.healing.SetMode(domain.HealingMode(req.Mode)); err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("healing mode changed", zap.String("mode", req.Mode))
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

// ListActions returns the registered healing actions
// @Summary List healing actions
// @Tags healing
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/actions [get]
func (h *HealingHandler) ListActions(c *gin.Context) {
	actions, err := h.healing.Actions(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Data:  actions,
		Total: len(actions),
	})
}

// RegisterActionRequest describes a healing action to register
type RegisterActionRequest struct {
	ID          string                 `json:"id" binding:"required"`
	ActionType  string                 `json:"action_type" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Enabled     *bool                  `json:"enabled"`
}

// RegisterAction adds an action to the catalog
// @Summary Register healing action
// @Tags healing
// @Accept json
// @Produce json
// @Success 201 {object} domain.HealingAction
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/actions [post]
func (h *HealingHandler) RegisterAction(c *gin.Context) {
	var req RegisterActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	action := &domain.HealingAction{
		ID:          req.ID,
		ActionType:  req.ActionType,
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
		Enabled:     enabled,
	}

	if err := h.healing.RegisterAction(c.Request.Context(), action); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, action)
}
