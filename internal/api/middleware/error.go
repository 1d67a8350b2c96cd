package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// ErrorResponse is the error payload shared by all middleware responses.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorHandler translates errors attached to the gin context into HTTP
// responses. Handlers call c.Error and return; the mapping lives here.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			handleError(c, c.Errors.Last().Err)
		}
	}
}

// handleError maps domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	var validationErrors domain.ValidationErrors
	var validationError *domain.ValidationError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Resource not found",
		})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Authentication required",
		})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Access denied",
		})
	case errors.Is(err, domain.ErrTerminalState):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "terminal_state",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrApprovalClosed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "approval_closed",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrApprovalPending):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "approval_pending",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrRuleDisabled):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "rule_disabled",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrHealingDisabled):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "healing_disabled",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrNoCandidates):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "no_candidates",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "conflict",
			Message: "Resource already exists",
		})
	case errors.Is(err, domain.ErrDuplicateEntry):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "duplicate_entry",
			Message: "Resource already exists",
		})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_input",
			Message: err.Error(),
		})
	case errors.As(err, &validationErrors):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Validation failed",
			Details: validationErrors,
		})
	case errors.As(err, &validationError):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Validation failed",
			Details: domain.ValidationErrors{*validationError},
		})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
	}
}
