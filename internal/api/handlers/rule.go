package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

// RuleHandler manages the in-memory rule set over HTTP
type RuleHandler struct {
	engine     *service.RuleEngine
	correlator *service.CorrelationService
	logger     *zap.Logger
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(engine *service.RuleEngine, correlator *service.CorrelationService, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		engine:     engine,
		correlator: correlator,
		logger:     logger,
	}
}

// List returns every configured rule
// @Summary List rules
// @Tags rules
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	rules := h.engine.Rules()
	c.JSON(http.StatusOK, ListResponse{
		Data:  rules,
		Total: len(rules),
	})
}

// Get returns one rule by ID
// @Summary Get rule
// @Tags rules
// @Produce json
// @Success 200 {object} domain.Rule
// @Failure 404 {object} ErrorResponse
// @Router /v1/rules/{ruleId} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	rule, err := h.engine.Rule(c.Param("ruleId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Create adds a rule to the running set
// @Summary Create rule
// @Tags rules
// @Accept json
// @Produce json
// @Success 201 {object} domain.Rule
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	if err := h.engine.AddRule(rule); err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("rule created", zap.String("rule_id", rule.ID))
	c.JSON(http.StatusCreated, rule)
}

// Update replaces an existing rule. The path ID wins over the body.
// @Summary Update rule
// @Tags rules
// @Accept json
// @Produce json
// @Success 200 {object} domain.Rule
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/rules/{ruleId} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}
	rule.ID = c.Param("ruleId")

	if err := h.engine.UpdateRule(rule); err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("rule updated", zap.String("rule_id", rule.ID))
	c.JSON(http.StatusOK, rule)
}

// Delete removes a rule from the running set
// @Summary Delete rule
// @Tags rules
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /v1/rules/{ruleId} [delete]
func (h *RuleHandler) Delete(c *gin.Context) {
	id := c.Param("ruleId")
	if err := h.engine.DeleteRule(id); err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("rule deleted", zap.String("rule_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted"})
}

// Groups returns the distinct rule group names
// @Summary List rule groups
// @Tags rules
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/rules/groups [get]
func (h *RuleHandler) Groups(c *gin.Context) {
	groups := h.engine.Groups()
	c.JSON(http.StatusOK, ListResponse{
		Data:  groups,
		Total: len(groups),
	})
}

// CorrelationGroups returns the open correlation groups
// @Summary List correlation groups
// @Tags rules
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/correlations [get]
func (h *RuleHandler) CorrelationGroups(c *gin.Context) {
	groups := h.correlator.OpenGroups()
	c.JSON(http.StatusOK, ListResponse{
		Data:  groups,
		Total: len(groups),
	})
}
