package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// TeamsWebhook posts MessageCard payloads to a Teams incoming webhook.
type TeamsWebhook struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewTeamsWebhook creates the Teams transport.
func NewTeamsWebhook(logger *zap.Logger, url string, timeout time.Duration) *TeamsWebhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TeamsWebhook{
		logger:     logger,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker("teams", logger),
	}
}

// Send renders the message as a MessageCard and posts it to the webhook.
func (t *TeamsWebhook) Send(ctx context.Context, msg domain.NotificationMessage) (*domain.DeliveryResult, error) {
	payload := t.card(msg)

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, postJSON(ctx, t.httpClient, t.url, payload)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("teams notification sent",
		zap.String("notification_id", msg.NotificationID),
		zap.String("title", msg.Title),
	)
	return &domain.DeliveryResult{
		Channel:   domain.ChannelTeams,
		Success:   true,
		Details:   "delivered",
		Timestamp: time.Now(),
	}, nil
}

func (t *TeamsWebhook) card(msg domain.NotificationMessage) map[string]interface{} {
	facts := []map[string]string{
		{"name": "Severity", "value": string(msg.Severity)},
	}
	if msg.AlertType != "" {
		facts = append(facts, map[string]string{"name": "Type", "value": msg.AlertType})
	}
	if msg.Component != "" {
		facts = append(facts, map[string]string{"name": "Component", "value": msg.Component})
	}
	if msg.ExecutionID != "" {
		facts = append(facts, map[string]string{"name": "Execution", "value": msg.ExecutionID})
	}

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		facts = append(facts, map[string]string{"name": k, "value": fmt.Sprintf("%v", msg.Fields[k])})
	}

	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"themeColor": severityColor(msg.Severity),
		"summary":    msg.Title,
		"title":      msg.Title,
		"text":       msg.Body,
		"sections":   []map[string]interface{}{{"facts": facts}},
	}
}

// postJSON sends a JSON payload to a webhook URL.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
