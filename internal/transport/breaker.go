// Package transport implements the notification delivery channels: Teams
// webhook cards, email over SMTP, and Slack messages. Remote transports
// sit behind a circuit breaker so a dead endpoint fails fast instead of
// burning the router's dispatch budget.
package transport

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("transport circuit state changed",
				zap.String("transport", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func severityColor(severity domain.Severity) string {
	switch severity {
	case domain.SeverityCritical:
		return "#ff0000"
	case domain.SeverityHigh:
		return "#ff6600"
	case domain.SeverityMedium:
		return "#ffcc00"
	case domain.SeverityLow:
		return "#0099ff"
	default:
		return "#cccccc"
	}
}
