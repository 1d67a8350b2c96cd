package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// SlackNotifier posts notifications to a Slack channel via the Web API.
type SlackNotifier struct {
	logger  *zap.Logger
	client  *slack.Client
	channel string
	breaker *gobreaker.CircuitBreaker
}

// NewSlackNotifier creates the Slack transport. Extra options are passed
// through to the underlying client, which lets tests point it at a stub
// API server.
func NewSlackNotifier(logger *zap.Logger, token, channel string, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		logger:  logger,
		client:  slack.New(token, opts...),
		channel: channel,
		breaker: newBreaker("slack", logger),
	}
}

// Send posts the message as an attachment with severity coloring.
func (s *SlackNotifier) Send(ctx context.Context, msg domain.NotificationMessage) (*domain.DeliveryResult, error) {
	attachment := slack.Attachment{
		Color:  severityColor(msg.Severity),
		Title:  msg.Title,
		Text:   msg.Body,
		Fields: slackFields(msg),
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		_, ts, err := s.client.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(msg.Title, false),
			slack.MsgOptionAttachments(attachment),
		)
		return ts, err
	})
	if err != nil {
		return nil, fmt.Errorf("posting to slack: %w", err)
	}

	s.logger.Info("slack notification sent",
		zap.String("notification_id", msg.NotificationID),
		zap.String("channel", s.channel),
	)
	return &domain.DeliveryResult{
		Channel:   domain.ChannelSlack,
		Success:   true,
		Details:   "delivered",
		Timestamp: time.Now(),
	}, nil
}

func slackFields(msg domain.NotificationMessage) []slack.AttachmentField {
	fields := []slack.AttachmentField{
		{Title: "Severity", Value: string(msg.Severity), Short: true},
	}
	if msg.AlertType != "" {
		fields = append(fields, slack.AttachmentField{Title: "Type", Value: msg.AlertType, Short: true})
	}
	if msg.Component != "" {
		fields = append(fields, slack.AttachmentField{Title: "Component", Value: msg.Component, Short: true})
	}
	if msg.ExecutionID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Execution", Value: msg.ExecutionID, Short: true})
	}
	return fields
}
