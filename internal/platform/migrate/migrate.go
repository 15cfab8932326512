package migrate

import (
	"context"
	"fmt"
	"sync"

	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"housegen/migrations"
)

var setupMu sync.Mutex

// goose keeps its settings in package globals.
func setup(logger *slog.Logger) error {
	goose.SetBaseFS(migrations.Files)
	goose.SetLogger(gooseSlogLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set goose dialect: %w", err)
	}
	return nil
}

// Apply runs any pending SQL migrations bundled with the binary.
func Apply(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate: goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate: goose down: %w", err)
	}
	return nil
}

// Status logs the applied state of every bundled migration.
func Status(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate: goose status: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sqlx.DB) (int64, error) {
	setupMu.Lock()
	defer setupMu.Unlock()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("migrate: set goose dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("migrate: goose version: %w", err)
	}
	return v, nil
}
