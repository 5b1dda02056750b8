package server

import (
	"context"
	"time"

	"auth-server/config"
	"auth-server/database"
	"auth-server/grants"
	"auth-server/seed"
	"auth-server/store"

	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// RunMigrate applies pending migrations and exits. Used by deploy jobs that
// migrate ahead of a rollout.
func RunMigrate(ctx context.Context, cfg config.Config) error {
	conn, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = Migrate(ctx, cfg, conn)
	return err
}

// RunSeed migrates and seeds without starting the server
func RunSeed(ctx context.Context, cfg config.Config) (seed.Report, error) {
	conn, err := database.Open(cfg.DBPath)
	if err != nil {
		return seed.Report{}, err
	}
	defer conn.Close()

	return Prepare(ctx, cfg, conn, nil)
}

// RunSweep removes every grant expired as of now from the configured store
func RunSweep(ctx context.Context, cfg config.Config) (int64, error) {
	conn, err := database.Open(cfg.DBPath)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	sqlStore := store.NewSQLStore(conn, store.WithTimeout(cfg.StoreTimeout))
	gs, closeGrants, err := NewGrantStore(cfg, sqlStore)
	if err != nil {
		return 0, err
	}
	defer closeGrants()

	manager := grants.NewManager(gs, nil, grants.WithSweepBatchSize(cfg.SweepBatchSize))
	n, err := manager.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return n, err
	}
	logger.Info("Swept expired grants", zap.Int64("removed", n))
	return n, nil
}
