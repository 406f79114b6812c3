package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"lance/pkg/logging"
)

// Migrate applies every pending goose migration found at the root of migrations.
func Migrate(ctx context.Context, db *sql.DB, migrations fs.FS, logger logging.Logger) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, r := range results {
		logger.WithFields(logging.Fields{
			"version":  r.Source.Version,
			"path":     r.Source.Path,
			"duration": r.Duration,
		}).Info("Applied migration")
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.WithField("version", version).Info("Database schema up to date")
	return nil
}
