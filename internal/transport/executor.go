package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// WebhookExecutor hands healing actions to an external remediation
// endpoint. The endpoint performs the action synchronously and answers
// 2xx, optionally with a JSON object that becomes the execution result.
type WebhookExecutor struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewWebhookExecutor creates the executor. url must point at the
// remediation endpoint.
func NewWebhookExecutor(logger *zap.Logger, url string, timeout time.Duration) *WebhookExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookExecutor{
		logger:     logger,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker("executor", logger),
	}
}

// Execute posts the action and its resolution context to the endpoint.
func (e *WebhookExecutor) Execute(ctx context.Context, action *domain.HealingAction, res *domain.Resolution) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"resolution_id": res.ID.String(),
		"issue_id":      res.IssueID,
		"action_id":     action.ID,
		"action_type":   action.ActionType,
		"parameters":    action.Parameters,
		"attempt":       res.AttemptCount,
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.post(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("healing action dispatched",
		zap.String("action_id", action.ID),
		zap.String("action_type", action.ActionType),
		zap.String("resolution_id", res.ID.String()),
	)
	details, _ := out.(map[string]interface{})
	return details, nil
}

func (e *WebhookExecutor) post(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call remediation endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remediation endpoint returned non-2xx status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var details map[string]interface{}
	if err := json.Unmarshal(body, &details); err != nil {
		// Non-JSON bodies are fine; the call already succeeded.
		return map[string]interface{}{"response": string(body)}, nil
	}
	return details, nil
}
