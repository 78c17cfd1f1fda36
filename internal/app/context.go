package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxline/internal/config"
	"taxline/internal/domain"
	"taxline/internal/repo"
)

// ResolveFirmConfig loads the firm config, preferring taxline.yml in the
// workspace, then the copy stored in the database, then defaults. The
// resolved config is persisted and its RBAC roles are seeded so every
// entry point sees the same grants.
func ResolveFirmConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg, err = r.GetFirmConfig(ctx)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	if cfg == nil {
		cfg = config.Default("Local Firm")
	}
	if err := r.UpsertFirmConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("store firm config: %w", err)
	}
	if err := r.SeedRBAC(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed rbac: %w", err)
	}
	if err := ensureActorProfile(ctx, r, actorID); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureActorProfile creates a profile for the acting user if the staff
// directory does not know them yet. Local CLI users come in as Admin.
func ensureActorProfile(ctx context.Context, r repo.Repo, actorID string) error {
	if actorID == "" {
		actorID = "local-user"
	}
	if _, err := r.GetProfile(ctx, actorID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return r.UpsertProfile(ctx, domain.Profile{
		ID:        actorID,
		Email:     actorID + "@local",
		Role:      "Admin",
		CreatedAt: now,
		UpdatedAt: now,
	})
}
