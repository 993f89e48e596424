// Package email sends operator alerts.
package email

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// Config holds alert email settings.
type Config struct {
	Provider   string
	APIKey     string
	FromEmail  string
	FromName   string
	Recipients []string
}

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error)
}

// sendgridResponse mirrors the fields of the SendGrid REST response we read.
type sendgridResponse struct {
	StatusCode int
	Body       string
}

type sendgridSender struct {
	client *sendgrid.Client
}

func (s sendgridSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error) {
	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return nil, err
	}
	return &sendgridResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// Alerter emails operators when a webhook destination is disabled.
type Alerter struct {
	cfg    Config
	sender sender
	logger *zap.Logger
}

// NewAlerter returns nil when alerts are not configured. A nil *Alerter is
// safe to call.
func NewAlerter(cfg Config, logger *zap.Logger) (*Alerter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || len(cfg.Recipients) == 0 {
		return nil, nil
	}
	if provider != "sendgrid" {
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}
	return &Alerter{
		cfg:    cfg,
		sender: sendgridSender{client: sendgrid.NewSendClient(cfg.APIKey)},
		logger: logger,
	}, nil
}

// CircuitOpened notifies every recipient that cfg was disabled. Failures
// are returned for logging; callers do not retry.
func (a *Alerter) CircuitOpened(ctx context.Context, cfg *entities.WebhookConfig) error {
	if a == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	subject := fmt.Sprintf("Webhook disabled after %d consecutive failures", cfg.ConsecutiveFailures)
	text, htmlBody := circuitOpenedBody(cfg)

	var firstErr error
	for _, to := range a.cfg.Recipients {
		if err := a.send(ctx, to, subject, text, htmlBody); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Alerter) send(ctx context.Context, to, subject, text, htmlBody string) error {
	from := mail.NewEmail(a.cfg.FromName, a.cfg.FromEmail)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), text, htmlBody)

	response, err := a.sender.SendWithContext(ctx, message)
	if err != nil {
		a.logger.Error("Failed to send alert email",
			zap.String("provider", "sendgrid"),
			zap.String("to", to),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		a.logger.Error("Email service returned error",
			zap.String("provider", "sendgrid"),
			zap.String("to", to),
			zap.Int("status_code", response.StatusCode),
			zap.String("response_body", response.Body))
		return fmt.Errorf("email service error: status %d", response.StatusCode)
	}

	a.logger.Info("Alert email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func circuitOpenedBody(cfg *entities.WebhookConfig) (string, string) {
	lastErr := "unknown"
	if cfg.LastError != nil {
		lastErr = *cfg.LastError
	}
	disabled := "now"
	if cfg.DisabledAt != nil {
		disabled = cfg.DisabledAt.Format(time.RFC3339)
	}

	text := fmt.Sprintf(
		"Webhook %s (%s) for provider %s was disabled at %s after %d consecutive failed deliveries.\n"+
			"Last error: %s\n"+
			"Reset it with POST /api/v1/webhooks/%s/reset once the endpoint is healthy.\n",
		cfg.ID, cfg.URL, cfg.ProviderID, disabled, cfg.ConsecutiveFailures, lastErr, cfg.ID)

	htmlBody := fmt.Sprintf(
		"<p>Webhook <code>%s</code> (<code>%s</code>) for provider <code>%s</code> was disabled at %s after <strong>%d</strong> consecutive failed deliveries.</p>"+
			"<p>Last error: <code>%s</code></p>"+
			"<p>Reset it with <code>POST /api/v1/webhooks/%s/reset</code> once the endpoint is healthy.</p>",
		cfg.ID, html.EscapeString(cfg.URL), cfg.ProviderID, disabled, cfg.ConsecutiveFailures, html.EscapeString(lastErr), cfg.ID)

	return text, htmlBody
}
