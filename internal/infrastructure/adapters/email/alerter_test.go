package email

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSender) SendWithContext(_ context.Context, email *mail.SGMailV3) (*sendgridResponse, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &sendgridResponse{StatusCode: f.status}, nil
}

func TestNewAlerter(t *testing.T) {
	a, err := NewAlerter(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a, "unconfigured alerter is nil")

	_, err = NewAlerter(Config{Provider: "smtp", Recipients: []string{"ops@example.com"}}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewAlerter(Config{Provider: "sendgrid", Recipients: []string{"ops@example.com"}, FromEmail: "a@b.c"}, zap.NewNop())
	assert.Error(t, err, "api key required")
}

func TestAlerter_NilIsSafe(t *testing.T) {
	var a *Alerter
	assert.NoError(t, a.CircuitOpened(context.Background(), &entities.WebhookConfig{}))
}

func TestAlerter_CircuitOpened(t *testing.T) {
	sender := &fakeSender{status: 202}
	a := &Alerter{
		cfg:    Config{FromEmail: "alerts@example.com", FromName: "Signals", Recipients: []string{"a@example.com", "b@example.com"}},
		sender: sender,
		logger: zap.NewNop(),
	}
	lastErr := "HTTP 500"
	cfg := &entities.WebhookConfig{
		ID:                  uuid.New(),
		ProviderID:          uuid.New(),
		URL:                 "https://hooks.example.com/x?a=<b>",
		ConsecutiveFailures: 10,
		LastError:           &lastErr,
	}

	require.NoError(t, a.CircuitOpened(context.Background(), cfg))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Webhook disabled after 10 consecutive failures", sender.sent[0].Subject)

	text, htmlBody := circuitOpenedBody(cfg)
	assert.Contains(t, text, cfg.ID.String())
	assert.Contains(t, text, "HTTP 500")
	assert.Contains(t, htmlBody, "&lt;b&gt;")
}

func TestAlerter_ReportsFailures(t *testing.T) {
	a := &Alerter{
		cfg:    Config{FromEmail: "alerts@example.com", Recipients: []string{"a@example.com"}},
		sender: &fakeSender{status: 500},
		logger: zap.NewNop(),
	}
	assert.Error(t, a.CircuitOpened(context.Background(), &entities.WebhookConfig{}))

	a.sender = &fakeSender{err: errors.New("dial tcp: refused")}
	assert.Error(t, a.CircuitOpened(context.Background(), &entities.WebhookConfig{}))
}
