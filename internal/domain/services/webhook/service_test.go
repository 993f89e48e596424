package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories/repotest"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

func newService() (*Service, *repotest.Webhooks) {
	repo := repotest.NewWebhooks()
	return NewService(repo, repotest.NewNotificationLogs(), NewBreaker(3), logger.Nop()), repo
}

func TestService_CreateValidates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	providerID := uuid.New()

	tests := []struct {
		name string
		req  entities.CreateWebhookRequest
	}{
		{"relative url", entities.CreateWebhookRequest{URL: "/hook"}},
		{"ftp scheme", entities.CreateWebhookRequest{URL: "ftp://example.com/hook"}},
		{"unknown event", entities.CreateWebhookRequest{URL: "https://example.com", EventTypes: []entities.EventType{"NOPE"}}},
		{"reserved header", entities.CreateWebhookRequest{URL: "https://example.com", Headers: map[string]string{"X-Signature": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, providerID, &tt.req)
			require.Error(t, err)
			assert.True(t, domainerrors.IsConfiguration(err))
		})
	}

	cfg, err := svc.Create(ctx, providerID, &entities.CreateWebhookRequest{
		URL:        "https://example.com/hook",
		EventTypes: []entities.EventType{"tp1_hit", entities.EventTypeTP1Hit, entities.EventTypeSLHit},
		Headers:    map[string]string{"Authorization": "Bearer x"},
	})
	require.NoError(t, err)
	assert.Equal(t, entities.EventTypeSet{entities.EventTypeTP1Hit, entities.EventTypeSLHit}, cfg.EventTypes)
	assert.True(t, cfg.IsActive)
	assert.Equal(t, entities.CircuitStateClosed, cfg.CircuitState)
}

func TestService_OwnershipIsEnforced(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	owner := uuid.New()

	cfg, err := svc.Create(ctx, owner, &entities.CreateWebhookRequest{URL: "https://example.com/hook"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, uuid.New(), cfg.ID)
	assert.True(t, domainerrors.IsNotFound(err))
	assert.True(t, domainerrors.IsNotFound(svc.Delete(ctx, uuid.New(), cfg.ID)))

	got, err := svc.Get(ctx, owner, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.URL, got.URL)
}

func TestService_ResetReopensCircuit(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	owner := uuid.New()

	cfg, err := svc.Create(ctx, owner, &entities.CreateWebhookRequest{URL: "https://example.com/hook"})
	require.NoError(t, err)

	_, err = repo.Mutate(ctx, cfg.ID, func(c *entities.WebhookConfig) error {
		for i := 0; i < 3; i++ {
			*c, _ = svc.breaker.OnResult(*c, false, "HTTP 500", time.Now())
		}
		return nil
	})
	require.NoError(t, err)

	active := true
	_, err = svc.Update(ctx, owner, cfg.ID, &entities.UpdateWebhookRequest{IsActive: &active})
	assert.True(t, domainerrors.IsConflict(err), "an open circuit needs a reset")

	reset, err := svc.Reset(ctx, owner, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CircuitStateClosed, reset.CircuitState)
	assert.True(t, reset.IsActive)
	assert.Zero(t, reset.ConsecutiveFailures)
}

func TestService_UpdateKeepsCircuitState(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	owner := uuid.New()

	cfg, err := svc.Create(ctx, owner, &entities.CreateWebhookRequest{URL: "https://example.com/hook"})
	require.NoError(t, err)

	_, err = repo.Mutate(ctx, cfg.ID, func(c *entities.WebhookConfig) error {
		for i := 0; i < 3; i++ {
			*c, _ = svc.breaker.OnResult(*c, false, "HTTP 500", time.Now())
		}
		return nil
	})
	require.NoError(t, err)

	newURL := "https://example.com/hook-v2"
	headers := map[string]string{"X-Team": "alpha"}

	tests := []struct {
		name    string
		caller  uuid.UUID
		req     *entities.UpdateWebhookRequest
		wantErr func(error) bool
	}{
		{"foreign provider", uuid.New(), &entities.UpdateWebhookRequest{URL: &newURL}, domainerrors.IsNotFound},
		{"url and headers", owner, &entities.UpdateWebhookRequest{URL: &newURL, Headers: &headers}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, tt.caller, cfg.ID, tt.req)
			if tt.wantErr != nil {
				assert.True(t, tt.wantErr(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}

			stored, err := repo.GetByID(ctx, cfg.ID)
			require.NoError(t, err)
			assert.Equal(t, entities.CircuitStateOpen, stored.CircuitState)
			assert.False(t, stored.IsActive)
			assert.Equal(t, 3, stored.ConsecutiveFailures)
			assert.NotNil(t, stored.DisabledAt)
		})
	}

	stored, err := repo.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, newURL, stored.URL)
	assert.Equal(t, "alpha", stored.Headers["X-Team"])
}

func TestService_TestRequiresActiveConfig(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	owner := uuid.New()

	cfg, err := svc.Create(ctx, owner, &entities.CreateWebhookRequest{URL: "https://example.com/hook"})
	require.NoError(t, err)

	inactive := false
	_, err = svc.Update(ctx, owner, cfg.ID, &entities.UpdateWebhookRequest{IsActive: &inactive})
	require.NoError(t, err)

	_, err = svc.Test(ctx, owner, cfg.ID)
	assert.True(t, domainerrors.IsValidation(err))
}
