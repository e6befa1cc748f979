// Package notify delivers run outcome messages to a Slack incoming webhook.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/config"
)

// Notifier delivers a human-readable message. Delivery failures must never
// disturb the run that produced the message.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// SlackNotifier posts messages to a Slack incoming webhook.
type SlackNotifier struct {
	client     *resty.Client
	webhookURL string
	logger     *zap.Logger
}

// NewSlackNotifier builds a notifier for the configured webhook.
func NewSlackNotifier(cfg config.NotifyConfig, logger *zap.Logger) *SlackNotifier {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &SlackNotifier{
		client:     client,
		webhookURL: cfg.SlackWebhookURL,
		logger:     logger.Named("slack_notifier"),
	}
}

// Notify posts the message. Errors are logged and swallowed; notification is
// best-effort by contract.
func (n *SlackNotifier) Notify(ctx context.Context, message string) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": message}).
		Post(n.webhookURL)
	if err != nil {
		n.logger.Error("Failed to deliver notification", zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Error("Notification rejected by webhook",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return
	}
	n.logger.Debug("Notification delivered", zap.Int("length", len(message)))
}

// NopNotifier discards messages. Used when no webhook is configured.
type NopNotifier struct {
	logger *zap.Logger
}

// NewNopNotifier returns a notifier that only logs locally.
func NewNopNotifier(logger *zap.Logger) *NopNotifier {
	return &NopNotifier{logger: logger.Named("notifier")}
}

// Notify logs the message instead of delivering it.
func (n *NopNotifier) Notify(_ context.Context, message string) {
	n.logger.Info(fmt.Sprintf("Notification (no webhook configured): %s", message))
}
