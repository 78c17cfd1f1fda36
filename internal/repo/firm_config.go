package repo

import (
	"context"
	"database/sql"

	"gopkg.in/yaml.v3"

	"taxline/internal/config"
)

const firmConfigKey = "config"

// UpsertFirmConfig stores the firm config as YAML so the API server and
// CLI agree on roles and notification settings.
func (r Repo) UpsertFirmConfig(ctx context.Context, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO firm_config(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, firmConfigKey, string(data))
	return err
}

func (r Repo) GetFirmConfig(ctx context.Context) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM firm_config WHERE key=?`, firmConfigKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}
