// Package webhook manages outbound webhook destinations for providers.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

// TestSender performs a one-off delivery outside the normal queue.
type TestSender interface {
	SendTest(ctx context.Context, cfg *entities.WebhookConfig) (*entities.TestDeliveryResult, error)
}

// reservedHeaders are set by the dispatcher and cannot be overridden.
var reservedHeaders = map[string]struct{}{
	"content-type":      {},
	"content-length":    {},
	"host":              {},
	"x-signature":       {},
	"x-signal-event":    {},
	"x-idempotency-key": {},
}

type Service struct {
	repo    repositories.WebhookRepository
	logs    repositories.NotificationLogRepository
	breaker Breaker
	sender  TestSender
	logger  *logger.Logger
}

func NewService(repo repositories.WebhookRepository, logs repositories.NotificationLogRepository, breaker Breaker, logger *logger.Logger) *Service {
	return &Service{repo: repo, logs: logs, breaker: breaker, logger: logger}
}

// SetTestSender wires the dispatcher once it exists.
func (s *Service) SetTestSender(sender TestSender) {
	s.sender = sender
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return domainerrors.ConfigurationError("url", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domainerrors.ConfigurationError("url", "scheme must be http or https")
	}
	return nil
}

func validateEventTypes(types []entities.EventType) (entities.EventTypeSet, error) {
	set := make(entities.EventTypeSet, 0, len(types))
	for _, et := range types {
		et = entities.EventType(strings.ToUpper(strings.TrimSpace(string(et))))
		if !et.Valid() {
			return nil, domainerrors.ConfigurationError("event_types", fmt.Sprintf("unknown event type %q", et))
		}
		if !set.Contains(et) {
			set = append(set, et)
		}
	}
	return set, nil
}

func validateHeaders(headers map[string]string) (entities.HeaderMap, error) {
	out := make(entities.HeaderMap, len(headers))
	for k, v := range headers {
		name := strings.TrimSpace(k)
		if name == "" {
			return nil, domainerrors.ConfigurationError("headers", "header name is empty")
		}
		if _, ok := reservedHeaders[strings.ToLower(name)]; ok {
			return nil, domainerrors.ConfigurationError("headers", fmt.Sprintf("header %q is reserved", name))
		}
		out[name] = v
	}
	return out, nil
}

// Create registers a new destination for the provider.
func (s *Service) Create(ctx context.Context, providerID uuid.UUID, req *entities.CreateWebhookRequest) (*entities.WebhookConfig, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	types, err := validateEventTypes(req.EventTypes)
	if err != nil {
		return nil, err
	}
	headers, err := validateHeaders(req.Headers)
	if err != nil {
		return nil, err
	}

	cfg := &entities.WebhookConfig{
		ID:           uuid.New(),
		ProviderID:   providerID,
		URL:          req.URL,
		EventTypes:   types,
		Headers:      headers,
		IsActive:     true,
		CircuitState: entities.CircuitStateClosed,
	}
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, domainerrors.InternalError("failed to create webhook", err)
	}
	s.logger.Info("Webhook created", "webhook_id", cfg.ID, "provider_id", providerID)
	return cfg, nil
}

// Get returns a config owned by the provider. Configs owned by someone else
// are reported as not found.
func (s *Service) Get(ctx context.Context, providerID, id uuid.UUID) (*entities.WebhookConfig, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.ProviderID != providerID {
		return nil, domainerrors.NotFoundError("webhook")
	}
	return cfg, nil
}

func (s *Service) List(ctx context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error) {
	configs, err := s.repo.ListByProvider(ctx, providerID)
	if err != nil {
		return nil, domainerrors.InternalError("failed to list webhooks", err)
	}
	return configs, nil
}

// Update changes url, subscriptions, headers or the active flag under the
// row lock, so circuit fields written by deliveries are never overwritten.
// Activating an OPEN circuit requires Reset.
func (s *Service) Update(ctx context.Context, providerID, id uuid.UUID, req *entities.UpdateWebhookRequest) (*entities.WebhookConfig, error) {
	var types entities.EventTypeSet
	var headers entities.HeaderMap
	if req.URL != nil {
		if err := validateURL(*req.URL); err != nil {
			return nil, err
		}
	}
	if req.EventTypes != nil {
		var err error
		if types, err = validateEventTypes(*req.EventTypes); err != nil {
			return nil, err
		}
	}
	if req.Headers != nil {
		var err error
		if headers, err = validateHeaders(*req.Headers); err != nil {
			return nil, err
		}
	}

	cfg, err := s.repo.Mutate(ctx, id, func(cfg *entities.WebhookConfig) error {
		if cfg.ProviderID != providerID {
			return domainerrors.NotFoundError("webhook")
		}
		if req.IsActive != nil && *req.IsActive && cfg.CircuitState == entities.CircuitStateOpen {
			return domainerrors.ConflictError("webhook", "circuit is open; reset it instead")
		}
		if req.URL != nil {
			cfg.URL = *req.URL
		}
		if req.EventTypes != nil {
			cfg.EventTypes = types
		}
		if req.Headers != nil {
			cfg.Headers = headers
		}
		if req.IsActive != nil {
			cfg.IsActive = *req.IsActive
		}
		return nil
	})
	if err != nil {
		var de *domainerrors.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domainerrors.InternalError("failed to update webhook", err)
	}
	return cfg, nil
}

func (s *Service) Delete(ctx context.Context, providerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, providerID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Webhook deleted", "webhook_id", id, "provider_id", providerID)
	return nil
}

// Reset closes an open circuit and re-enables the destination.
func (s *Service) Reset(ctx context.Context, providerID, id uuid.UUID) (*entities.WebhookConfig, error) {
	if _, err := s.Get(ctx, providerID, id); err != nil {
		return nil, err
	}
	cfg, err := s.repo.Mutate(ctx, id, func(cfg *entities.WebhookConfig) error {
		*cfg = s.breaker.Reset(*cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Webhook circuit reset", "webhook_id", id, "provider_id", providerID)
	return cfg, nil
}

// Test sends a synthetic event to an active destination.
func (s *Service) Test(ctx context.Context, providerID, id uuid.UUID) (*entities.TestDeliveryResult, error) {
	cfg, err := s.Get(ctx, providerID, id)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, domainerrors.ValidationError("webhook", "webhook is not active")
	}
	if s.sender == nil {
		return nil, domainerrors.ServiceUnavailableError("webhook dispatcher", nil)
	}
	return s.sender.SendTest(ctx, cfg)
}

// Deliveries returns the newest delivery attempts for a config.
func (s *Service) Deliveries(ctx context.Context, providerID, id uuid.UUID, limit, offset int) ([]*entities.NotificationLog, error) {
	if _, err := s.Get(ctx, providerID, id); err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByWebhook(ctx, id, limit, offset)
	if err != nil {
		return nil, domainerrors.InternalError("failed to list deliveries", err)
	}
	return logs, nil
}
