package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	goosedb "github.com/pressly/goose/v3/database"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrMigrationFailed wraps any failure to bring the schema up to date.
// Startup must not continue past it.
var ErrMigrationFailed = errors.New("schema migration failed")

// Migrate applies all pending migrations and returns the resulting schema
// version. Running it against an up to date database is a no-op.
func Migrate(ctx context.Context, db *sql.DB) (int64, error) {
	// The embedded filesystem has files under "migrations/", so we need
	// to strip that prefix to get a flat filesystem of .sql files.
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("%w: sub filesystem: %w", ErrMigrationFailed, err)
	}

	provider, err := goose.NewProvider(goosedb.DialectSQLite3, db, migrationFS)
	if err != nil {
		return 0, fmt.Errorf("%w: creating goose provider: %w", ErrMigrationFailed, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	for _, res := range results {
		logger.Info("Applied migration",
			zap.Int64("version", res.Source.Version),
			zap.String("file", res.Source.Path),
			zap.Duration("duration", res.Duration))
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: reading schema version: %w", ErrMigrationFailed, err)
	}
	return version, nil
}

// CreateMigration writes a new sequentially numbered SQL migration into dir
func CreateMigration(dir, name string) error {
	if name == "" {
		return errors.New("migration name is required")
	}
	goose.SetSequential(true)
	if err := goose.Create(nil, dir, name, "sql"); err != nil {
		return fmt.Errorf("creating migration %q: %w", name, err)
	}
	return nil
}
