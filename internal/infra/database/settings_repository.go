package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type SettingsRepository struct {
	db *db.Client
}

func NewSettingsRepository(db *db.Client) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) IntegrationSettings(ctx context.Context, provider string) (*domain.IntegrationSettings, error) {
	ds := goqu.From(settingsTable).
		Select("provider", "base_url", "instance_token", "send_path", "status_path", "webhook_secret", "api_token").
		Where(goqu.Ex{"provider": provider}).
		Limit(1)

	var settings domain.IntegrationSettings
	if err := r.db.QueryRow(ctx, &settings, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, domain.ErrSettingsNotFound
		}
		return nil, fmt.Errorf("error getting integration settings for %s: %w", provider, err)
	}
	return &settings, nil
}
