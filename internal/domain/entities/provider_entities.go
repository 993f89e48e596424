package entities

import (
	"time"

	"github.com/google/uuid"
)

// Provider is a signal source. Providers are deactivated, never deleted.
type Provider struct {
	ID                     uuid.UUID `json:"id" db:"id"`
	Name                   string    `json:"name" db:"name"`
	Description            *string   `json:"description,omitempty" db:"description"`
	IsActive               bool      `json:"is_active" db:"is_active"`
	IsVerified             bool      `json:"is_verified" db:"is_verified"`
	APIKeySelector         string    `json:"-" db:"api_key_selector"`
	APIKeyHash             string    `json:"-" db:"api_key_hash"`
	WebhookSecretEncrypted *string   `json:"-" db:"webhook_secret_encrypted"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

// ProviderCredentials are returned exactly once, at registration.
type ProviderCredentials struct {
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// RegisterProviderRequest is the admin payload for provider creation.
type RegisterProviderRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description,omitempty" validate:"max=500"`
	IsVerified  bool   `json:"is_verified"`
}

// UpdateProviderRequest toggles admin flags. Nil fields are left unchanged.
type UpdateProviderRequest struct {
	IsActive   *bool `json:"is_active,omitempty"`
	IsVerified *bool `json:"is_verified,omitempty"`
}

// RegisteredProvider pairs a new provider with its one-time credentials.
type RegisteredProvider struct {
	Provider    *Provider            `json:"provider"`
	Credentials *ProviderCredentials `json:"credentials"`
}
