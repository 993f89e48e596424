// Package provider registers signal providers and authenticates them.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/pkg/crypto"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

const webhookSecretBytes = 32

type Service struct {
	repo          repositories.ProviderRepository
	encryptionKey string
	logger        *logger.Logger
}

func NewService(repo repositories.ProviderRepository, encryptionKey string, logger *logger.Logger) *Service {
	return &Service{repo: repo, encryptionKey: encryptionKey, logger: logger}
}

// Register creates a provider and returns its credentials. The API key and
// webhook secret are not retrievable afterwards.
func (s *Service) Register(ctx context.Context, req *entities.RegisterProviderRequest) (*entities.RegisteredProvider, error) {
	name := strings.TrimSpace(req.Name)
	if len(name) < 2 {
		return nil, domainerrors.ValidationError("name", "must be at least 2 characters")
	}

	key, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, domainerrors.InternalError("failed to generate api key", err)
	}
	secret, err := crypto.GenerateSecret(webhookSecretBytes)
	if err != nil {
		return nil, domainerrors.InternalError("failed to generate webhook secret", err)
	}
	encrypted, err := crypto.Encrypt(secret, s.encryptionKey)
	if err != nil {
		return nil, domainerrors.InternalError("failed to encrypt webhook secret", err)
	}

	p := &entities.Provider{
		ID:                     uuid.New(),
		Name:                   name,
		IsActive:               true,
		IsVerified:             req.IsVerified,
		APIKeySelector:         key.Selector,
		APIKeyHash:             key.VerifierHash,
		WebhookSecretEncrypted: &encrypted,
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		p.Description = &d
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if domainerrors.IsConflict(err) {
			return nil, err
		}
		return nil, domainerrors.InternalError("failed to create provider", err)
	}

	s.logger.Info("Provider registered", "provider_id", p.ID, "name", p.Name)
	return &entities.RegisteredProvider{
		Provider: p,
		Credentials: &entities.ProviderCredentials{
			APIKey:        key.Token,
			WebhookSecret: secret,
		},
	}, nil
}

// Authenticate resolves an API key to an active provider.
func (s *Service) Authenticate(ctx context.Context, token string) (*entities.Provider, error) {
	selector, verifier, err := crypto.ParseAPIKey(token)
	if err != nil {
		return nil, domainerrors.UnauthorizedError("invalid api key")
	}
	p, err := s.repo.GetByAPIKeySelector(ctx, selector)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return nil, domainerrors.UnauthorizedError("invalid api key")
		}
		return nil, domainerrors.InternalError("failed to load provider", err)
	}
	if !crypto.VerifyAPIKey(verifier, p.APIKeyHash) {
		return nil, domainerrors.UnauthorizedError("invalid api key")
	}
	if !p.IsActive {
		return nil, domainerrors.ForbiddenError("provider is deactivated")
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entities.Provider, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]*entities.Provider, error) {
	providers, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, domainerrors.InternalError("failed to list providers", err)
	}
	return providers, nil
}

// Update toggles the admin flags.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *entities.UpdateProviderRequest) (*entities.Provider, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.IsVerified != nil {
		p.IsVerified = *req.IsVerified
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, domainerrors.InternalError("failed to update provider", err)
	}
	s.logger.Info("Provider updated", "provider_id", p.ID, "is_active", p.IsActive, "is_verified", p.IsVerified)
	return p, nil
}

// WebhookSecret returns the provider's signing secret, or "" when none is
// set.
func (s *Service) WebhookSecret(ctx context.Context, providerID uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, providerID)
	if err != nil {
		return "", err
	}
	if p.WebhookSecretEncrypted == nil || *p.WebhookSecretEncrypted == "" {
		return "", nil
	}
	secret, err := crypto.Decrypt(*p.WebhookSecretEncrypted, s.encryptionKey)
	if err != nil {
		return "", errors.Join(domainerrors.ErrInternal, err)
	}
	return secret, nil
}
