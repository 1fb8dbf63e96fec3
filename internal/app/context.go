package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caretaker/internal/config"
	"caretaker/internal/domain"
	"caretaker/internal/repo"
)

// ResolveBuildingAndConfig picks the active building and ensures a building +
// config exist in the DB, seeding defaults if missing. It prefers overrides,
// then a single-building DB. If the building does not exist, it is created on
// the fly.
func ResolveBuildingAndConfig(ctx context.Context, buildingOverride string, r repo.Repo) (string, *config.Config, error) {
	buildingID := buildingOverride
	if buildingID == "" {
		if b, err := r.SingleBuilding(ctx); err == nil {
			buildingID = b.ID
		} else {
			return "", nil, fmt.Errorf("building not specified; use --building")
		}
	}
	seedCfg := config.Default(buildingID)

	if _, err := r.GetBuilding(ctx, buildingID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createBuilding(ctx, r, buildingID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetBuildingConfig(ctx, buildingID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertBuildingConfig(ctx, buildingID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed building config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Building.ID = buildingID
	return buildingID, cfg, nil
}

func createBuilding(ctx context.Context, r repo.Repo, buildingID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(buildingID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	b := domain.Building{
		ID:        buildingID,
		Name:      buildingID,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertBuilding(ctx, tx, b); err != nil {
		return fmt.Errorf("insert building: %w", err)
	}
	if err := r.UpsertBuildingConfigTx(ctx, tx, buildingID, seedCfg); err != nil {
		return fmt.Errorf("insert building config: %w", err)
	}
	return tx.Commit()
}
