package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/service"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// LoginRequest represents the login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries a freshly issued operator token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges operator credentials for a bearer token
// @Summary Issue an operator token
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/auth/token [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	token, expiresAt, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		// Do not leak whether the user or the password was wrong.
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "invalid credentials",
		})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name      string   `json:"name" binding:"required"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *string  `json:"expires_at"`
}

// CreateAPIKey mints an ingest key
// @Summary Create API key
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} map[string]string
// @Router /v1/apikeys [post]
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: validator.Message(err),
		})
		return
	}

	if len(req.Scopes) == 0 {
		req.Scopes = []string{"ingest"}
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "invalid expiration time format",
			})
			return
		}
		expiresAt = &t
	}

	apiKey, rawKey, err := h.authService.CreateAPIKey(c.Request.Context(), req.Name, req.Scopes, expiresAt)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         apiKey.ID.String(),
		"key":        rawKey, // Only shown once
		"key_prefix": apiKey.KeyPrefix,
		"message":    "Save this key securely. It will not be shown again.",
	})
}

// ListAPIKeys returns every issued key
// @Summary List API keys
// @Tags auth
// @Produce json
// @Success 200 {object} ListResponse
// @Router /v1/apikeys [get]
func (h *AuthHandler) ListAPIKeys(c *gin.Context) {
	apiKeys, err := h.authService.ListAPIKeys(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  apiKeys,
		"total": len(apiKeys),
	})
}

// RevokeAPIKey deletes a key
// @Summary Revoke API key
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /v1/apikeys/{keyId} [delete]
func (h *AuthHandler) RevokeAPIKey(c *gin.Context) {
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_key_id",
			Message: "Invalid key ID format",
		})
		return
	}

	if err := h.authService.RevokeAPIKey(c.Request.Context(), keyID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}
