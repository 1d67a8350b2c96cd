package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// WebSocketHandler upgrades connections onto the alert event stream
type WebSocketHandler struct {
	hub    *service.EventHub
	auth   *service.AuthService
	logger *zap.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *service.EventHub, auth *service.AuthService, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		auth:   auth,
		logger: logger,
	}
}

// ServeWS handles WebSocket requests from clients. Browsers cannot set an
// Authorization header on the upgrade request, so the operator token
// rides in the token query parameter.
// @Summary WebSocket endpoint for live alert events
// @Tags websocket
// @Param token query string true "Operator token"
// @Router /ws [get]
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "token query parameter is required",
		})
		return
	}

	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "invalid or expired token",
		})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &service.StreamClient{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan *service.StreamEvent, 256),
		Hub:  h.hub,
	}
	client.InitFilters()

	h.hub.Register(client)
	h.logger.Debug("stream client connected",
		zap.String("client_id", client.ID),
		zap.String("operator", claims.Name),
	)

	// Start goroutines for reading and writing
	go client.WritePump()
	go client.ReadPump()
}
