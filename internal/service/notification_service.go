package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/config"
)

// Notifier delivers outbound notifications. The messaging subsystem is an
// external collaborator; delivery here is a stub that logs what would be sent.
type Notifier interface {
	SendEmail(ctx context.Context, recipient, subject, body string) error
	SendWebhook(ctx context.Context, eventType string, payload []byte) error
}

// NotificationService is the default Notifier backed by config endpoints.
type NotificationService struct {
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{logger: logger, cfg: cfg}
}

// SendEmail emits an email notification.
func (n *NotificationService) SendEmail(ctx context.Context, recipient, subject, body string) error {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return nil
	}
	n.logger.Info("email notification",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", recipient),
		zap.String("subject", subject))
	return nil
}

// SendWebhook emits a webhook notification.
func (n *NotificationService) SendWebhook(ctx context.Context, eventType string, payload []byte) error {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return nil
	}
	n.logger.Info("webhook notification",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("event_type", eventType))
	return nil
}
