package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/herald/internal/models"
)

const mailConfigKey = "mail_config"

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetMailConfig returns the mail configuration, creating the default one on
// first access
func (r *SettingsRepository) GetMailConfig(ctx context.Context) (models.MailConfig, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", mailConfigKey).Scan(&value)
	if err == sql.ErrNoRows {
		cfg := models.DefaultMailConfig()
		data, err := json.Marshal(cfg)
		if err != nil {
			return cfg, err
		}
		// Another process may have created it in between
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING`,
			mailConfigKey, string(data), time.Now().UTC(),
		); err != nil {
			return cfg, fmt.Errorf("failed to create mail config: %w", err)
		}
		return r.GetMailConfig(ctx)
	}
	if err != nil {
		return models.MailConfig{}, fmt.Errorf("failed to read mail config: %w", err)
	}

	cfg := models.DefaultMailConfig()
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return models.MailConfig{}, fmt.Errorf("failed to decode mail config: %w", err)
	}
	return cfg, nil
}

// SaveMailConfig replaces the stored mail configuration
func (r *SettingsRepository) SaveMailConfig(ctx context.Context, cfg models.MailConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode mail config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		mailConfigKey, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save mail config: %w", err)
	}
	return nil
}
