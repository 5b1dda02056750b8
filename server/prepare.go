package server

import (
	"context"
	"fmt"

	"auth-server/config"
	"auth-server/database"
	"auth-server/metrics"
	"auth-server/seed"
	"auth-server/store"

	"github.com/jmoiron/sqlx"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// Migrate brings the schema up to date while holding the migration lock
func Migrate(ctx context.Context, cfg config.Config, conn *sqlx.DB) (int64, error) {
	var version int64
	err := database.WithLock(ctx, cfg.LockFile, cfg.LockTimeout, func(ctx context.Context) error {
		v, err := database.Migrate(ctx, conn.DB)
		version = v
		return err
	})
	if err != nil {
		return 0, err
	}
	logger.Info("Schema up to date", zap.Int64("version", version))
	return version, nil
}

// LoadSeedSet returns the configured seed artifact, or the embedded canonical
// configuration when none is configured
func LoadSeedSet(cfg config.Config) (seed.Set, error) {
	if cfg.SeedFile != "" {
		return seed.LoadFile(cfg.SeedFile)
	}
	return seed.LoadCanonicalConfiguration()
}

// Prepare runs the startup sequence: migrate, then seed empty collections.
// The store must not serve traffic unless Prepare succeeds.
func Prepare(ctx context.Context, cfg config.Config, conn *sqlx.DB, collector *metrics.Collector) (seed.Report, error) {
	if _, err := Migrate(ctx, cfg, conn); err != nil {
		return seed.Report{}, err
	}

	set, err := LoadSeedSet(cfg)
	if err != nil {
		return seed.Report{}, fmt.Errorf("loading seed configuration: %w", err)
	}

	es := store.NewSQLStore(conn, store.WithTimeout(cfg.StoreTimeout))
	report, err := seed.NewSeeder(es, seed.WithMetrics(collector)).SeedIfEmpty(ctx, set)
	if err != nil {
		return report, err
	}

	logger.Info("Seeding finished",
		zap.String("instance_id", report.InstanceID),
		zap.String("clients", string(report.Clients)),
		zap.String("identity_resources", string(report.IdentityResources)),
		zap.String("api_resources", string(report.ApiResources)))
	return report, nil
}
