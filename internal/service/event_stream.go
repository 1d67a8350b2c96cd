package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// StreamEvent is one alert lifecycle event sent over the live stream.
type StreamEvent struct {
	Type      string      `json:"type"` // alert.created, alert.suppressed, alert.acknowledged, alert.resolved
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StreamClient is one connected stream consumer.
type StreamClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan *StreamEvent
	Hub  *EventHub

	mu         sync.Mutex
	events     map[string]bool
	severities map[string]bool
}

// InitFilters initializes the subscription filter sets.
func (c *StreamClient) InitFilters() {
	c.events = make(map[string]bool)
	c.severities = make(map[string]bool)
}

// EventHub fans alert lifecycle events out to connected websocket clients.
type EventHub struct {
	clients map[string]*StreamClient

	register   chan *StreamClient
	unregister chan *StreamClient
	broadcast  chan *StreamEvent

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewEventHub creates the hub.
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		clients:    make(map[string]*StreamClient),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient),
		broadcast:  make(chan *StreamEvent, 256),
		logger:     logger,
	}
}

// Run drives the hub until the context is cancelled.
func (h *EventHub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-ticker.C:
			h.cleanupStaleConnections()

		case <-ctx.Done():
			h.logger.Info("event hub shutting down")
			h.closeAllConnections()
			return
		}
	}
}

// Register queues a client for registration.
func (h *EventHub) Register(client *StreamClient) {
	h.register <- client
}

// Unregister queues a client for removal.
func (h *EventHub) Unregister(client *StreamClient) {
	h.unregister <- client
}

// Broadcast queues an event for delivery. Events are dropped rather than
// blocking the caller when the hub is saturated.
func (h *EventHub) Broadcast(event *StreamEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) registerClient(client *StreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Info("stream client connected", zap.String("client_id", client.ID))
}

func (h *EventHub) unregisterClient(client *StreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.clients[client.ID]; exists {
		delete(h.clients, client.ID)
		close(client.Send)
		h.logger.Info("stream client disconnected", zap.String("client_id", client.ID))
	}
}

func (h *EventHub) broadcastEvent(event *StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			h.logger.Warn("client send channel full, dropping event",
				zap.String("client_id", client.ID),
				zap.String("event_type", event.Type),
			)
		}
	}
}

func (h *EventHub) cleanupStaleConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		client.mu.Lock()
		err := client.Conn.WriteControl(
			websocket.PingMessage,
			[]byte{},
			time.Now().Add(10*time.Second),
		)
		client.mu.Unlock()

		if err != nil {
			h.logger.Warn("client ping failed, removing",
				zap.String("client_id", id),
				zap.Error(err),
			)
			delete(h.clients, id)
			close(client.Send)
		}
	}
}

func (h *EventHub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.Send)
		client.Conn.Close()
		h.logger.Info("closed stream client", zap.String("client_id", id))
	}
	h.clients = make(map[string]*StreamClient)
}

// wants applies the client's subscription filters. A client with no
// filters receives everything; event and severity filters combine with
// AND when both are set.
func (c *StreamClient) wants(event *StreamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) > 0 && !c.events[event.Type] {
		return false
	}
	if len(c.severities) > 0 {
		alert, ok := event.Data.(*domain.Alert)
		if !ok || !c.severities[string(alert.Severity)] {
			return false
		}
	}
	return true
}

// WritePump pumps events from the hub to the websocket connection.
func (c *StreamClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}

			err := c.Conn.WriteJSON(event)
			c.mu.Unlock()

			if err != nil {
				c.Hub.logger.Error("stream write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

// ReadPump consumes subscription messages from the connection until it
// closes, then unregisters the client.
func (c *StreamClient) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg map[string]interface{}
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("unexpected stream close", zap.Error(err))
			}
			break
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "subscribe":
			c.updateFilters(msg, true)
		case "unsubscribe":
			c.updateFilters(msg, false)
		case "ping":
			c.handlePing()
		}
	}
}

func (c *StreamClient) updateFilters(msg map[string]interface{}, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	apply := func(set map[string]bool, raw interface{}) {
		values, ok := raw.([]interface{})
		if !ok {
			return
		}
		for _, v := range values {
			if s, ok := v.(string); ok {
				if add {
					set[s] = true
				} else {
					delete(set, s)
				}
			}
		}
	}
	apply(c.events, msg["events"])
	apply(c.severities, msg["severities"])

	c.Hub.logger.Info("stream client filters updated",
		zap.String("client_id", c.ID),
		zap.Bool("subscribed", add),
	)
}

func (c *StreamClient) handlePing() {
	c.mu.Lock()
	defer c.mu.Unlock()

	pong, err := json.Marshal(map[string]interface{}{
		"type":      "pong",
		"timestamp": time.Now(),
	})
	if err != nil {
		return
	}
	c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	c.Conn.WriteMessage(websocket.TextMessage, pong)
}

// AlertStreamPublisher adapts the hub to the alert service's publisher
// interface.
type AlertStreamPublisher struct {
	hub *EventHub
}

// NewAlertStreamPublisher creates the adapter.
func NewAlertStreamPublisher(hub *EventHub) *AlertStreamPublisher {
	return &AlertStreamPublisher{hub: hub}
}

// PublishAlert broadcasts one alert lifecycle event.
func (p *AlertStreamPublisher) PublishAlert(event string, alert *domain.Alert) {
	p.hub.Broadcast(&StreamEvent{
		Type:      event,
		Timestamp: time.Now(),
		Data:      alert,
	})
}
