package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories/repotest"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(repotest.NewProviders(), "encryption-key", logger.Nop())

	reg, err := svc.Register(ctx, &entities.RegisterProviderRequest{Name: "  Alpha Signals ", Description: "futures"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha Signals", reg.Provider.Name)
	assert.NotEmpty(t, reg.Credentials.APIKey)
	assert.NotEmpty(t, reg.Credentials.WebhookSecret)
	assert.NotContains(t, reg.Provider.APIKeyHash, reg.Credentials.APIKey)

	p, err := svc.Authenticate(ctx, reg.Credentials.APIKey)
	require.NoError(t, err)
	assert.Equal(t, reg.Provider.ID, p.ID)

	secret, err := svc.WebhookSecret(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Credentials.WebhookSecret, secret)

	_, err = svc.Register(ctx, &entities.RegisterProviderRequest{Name: "Alpha Signals"})
	assert.True(t, domainerrors.IsConflict(err))
}

func TestAuthenticate_Rejects(t *testing.T) {
	ctx := context.Background()
	svc := NewService(repotest.NewProviders(), "encryption-key", logger.Nop())

	reg, err := svc.Register(ctx, &entities.RegisterProviderRequest{Name: "Beta"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "garbage")
	assert.True(t, domainerrors.IsUnauthorized(err))

	_, err = svc.Authenticate(ctx, reg.Credentials.APIKey+"x")
	assert.True(t, domainerrors.IsUnauthorized(err))

	inactive := false
	_, err = svc.Update(ctx, reg.Provider.ID, &entities.UpdateProviderRequest{IsActive: &inactive})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, reg.Credentials.APIKey)
	assert.True(t, domainerrors.IsForbidden(err))
}
