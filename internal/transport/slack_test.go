package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

func TestSlackNotifierSend(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true, "channel": "C123", "ts": "1717329600.000100"}`)
	}))
	defer srv.Close()

	notifier := NewSlackNotifier(zap.NewNop(), "xoxb-test", "#pipeline-alerts",
		slack.OptionAPIURL(srv.URL+"/"))

	result, err := notifier.Send(context.Background(), domain.NotificationMessage{
		NotificationID: "n-1",
		Title:          "[HIGH] rule_trend",
		Body:           "latency trending up",
		Severity:       domain.SeverityHigh,
		AlertType:      "rule_trend",
		Component:      "ingest",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, domain.ChannelSlack, result.Channel)

	assert.Equal(t, "#pipeline-alerts", form.Get("channel"))
	attachments := form.Get("attachments")
	assert.Contains(t, attachments, "#ff6600")
	assert.Contains(t, attachments, "latency trending up")
	assert.Contains(t, attachments, "rule_trend")
}

func TestSlackNotifierAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": false, "error": "channel_not_found"}`)
	}))
	defer srv.Close()

	notifier := NewSlackNotifier(zap.NewNop(), "xoxb-test", "#nowhere",
		slack.OptionAPIURL(srv.URL+"/"))

	_, err := notifier.Send(context.Background(), domain.NotificationMessage{Severity: domain.SeverityLow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "posting to slack")
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackNotifierBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": false, "error": "internal_error"}`)
	}))
	defer srv.Close()

	notifier := NewSlackNotifier(zap.NewNop(), "xoxb-test", "#pipeline-alerts",
		slack.OptionAPIURL(srv.URL+"/"))
	msg := domain.NotificationMessage{Severity: domain.SeverityMedium}

	for i := 0; i < 5; i++ {
		_, err := notifier.Send(context.Background(), msg)
		require.Error(t, err)
	}

	_, err := notifier.Send(context.Background(), msg)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
