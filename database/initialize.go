package database

import (
	"fmt"

	"auth-server/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/umakantv/go-utils/db"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// InitializeDatabase opens the configured SQLite database. Schema changes are
// applied separately by Migrate under the migration lock.
func InitializeDatabase(cfg config.Config) *sqlx.DB {
	// Database configuration for SQLite
	dbConfig := db.DatabaseConfig{
		DRIVER: "sqlite3",
		DB:     cfg.DSN(),
	}

	dbConn := db.GetDBConnection(dbConfig)

	logger.Info("Database connection opened", zap.String("path", cfg.DBPath))
	return dbConn
}

// Open opens and pings a SQLite database at path. Used by the offline
// commands and tests, which do not go through the shared connection helper.
func Open(path string) (*sqlx.DB, error) {
	conn, err := sqlx.Open("sqlite3", config.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return conn, nil
}
