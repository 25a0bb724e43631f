package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

const DefaultProvider = "uazapi"

// GatewaySettings holds the statically configured gateway values.
type GatewaySettings struct {
	Provider      string
	Credentials   gateway.Credentials
	WebhookSecret string
}

// CredentialResolver merges per-call overrides, static configuration and the
// stored integration settings, first non-empty value winning per field.
type CredentialResolver struct {
	settings domain.SettingsRepository
	static   GatewaySettings
}

func NewCredentialResolver(settings domain.SettingsRepository, static GatewaySettings) *CredentialResolver {
	if static.Provider == "" {
		static.Provider = DefaultProvider
	}
	return &CredentialResolver{settings: settings, static: static}
}

func (r *CredentialResolver) Resolve(ctx context.Context, override gateway.Credentials) (gateway.Credentials, error) {
	creds := gateway.Credentials{
		BaseURL:    firstNonEmpty(override.BaseURL, r.static.Credentials.BaseURL),
		Token:      firstNonEmpty(override.Token, r.static.Credentials.Token),
		SendPath:   firstNonEmpty(override.SendPath, r.static.Credentials.SendPath),
		StatusPath: firstNonEmpty(override.StatusPath, r.static.Credentials.StatusPath),
	}
	if creds.Complete() {
		return creds, nil
	}

	stored, err := r.loadSettings(ctx)
	if err != nil {
		return creds, err
	}
	if stored == nil {
		return creds, nil
	}

	creds.BaseURL = firstNonEmpty(creds.BaseURL, stored.BaseURL.String)
	creds.Token = firstNonEmpty(creds.Token, stored.InstanceToken.String)
	creds.SendPath = firstNonEmpty(creds.SendPath, stored.SendPath.String)
	creds.StatusPath = firstNonEmpty(creds.StatusPath, stored.StatusPath.String)
	return creds, nil
}

// WebhookSecret returns the secret callbacks must present. An empty result means no callback is accepted.
func (r *CredentialResolver) WebhookSecret(ctx context.Context) (string, error) {
	if r.static.WebhookSecret != "" {
		return r.static.WebhookSecret, nil
	}

	stored, err := r.loadSettings(ctx)
	if err != nil || stored == nil {
		return "", err
	}
	return firstNonEmpty(stored.WebhookSecret.String, stored.APIToken.String), nil
}

// Authenticate compares the presented secret against the expected one in constant time.
func (r *CredentialResolver) Authenticate(ctx context.Context, presented string) (bool, error) {
	expected, err := r.WebhookSecret(ctx)
	if err != nil {
		return false, err
	}
	if expected == "" || presented == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1, nil
}

func (r *CredentialResolver) loadSettings(ctx context.Context) (*domain.IntegrationSettings, error) {
	if r.settings == nil {
		return nil, nil
	}
	stored, err := r.settings.IntegrationSettings(ctx, r.static.Provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load integration settings: %w", err)
	}
	return stored, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
