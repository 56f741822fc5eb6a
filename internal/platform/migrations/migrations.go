// Package migrations embeds the schema for every supported task store and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed sql
var embedded embed.FS

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Commands accepted by Run.
const (
	CommandUp     = "up"
	CommandDown   = "down"
	CommandStatus = "status"
)

// NewProvider returns a goose provider bound to db and the schema for driver.
func NewProvider(driver string, db *sql.DB) (*goose.Provider, error) {
	var dialect goose.Dialect
	switch driver {
	case DriverPostgres:
		dialect = goose.DialectPostgres
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	fsys, err := fs.Sub(embedded, "sql/"+driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Run executes command (up, down or status) against db and logs each step.
func Run(ctx context.Context, driver string, db *sql.DB, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "migrations"), slog.String("command", command))

	provider, err := NewProvider(driver, db)
	if err != nil {
		return err
	}

	switch command {
	case CommandUp:
		results, err := provider.Up(ctx)
		for _, r := range results {
			logResult(logger, r)
		}
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		if len(results) == 0 {
			logger.Info("no migrations to apply")
		}
	case CommandDown:
		result, err := provider.Down(ctx)
		if result != nil {
			logResult(logger, result)
		}
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
	case CommandStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		for _, s := range statuses {
			logger.Info("migration status",
				slog.Int64("version", s.Source.Version),
				slog.String("path", s.Source.Path),
				slog.String("state", string(s.State)),
				slog.Time("applied_at", s.AppliedAt))
		}
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}

	return nil
}

func logResult(logger *slog.Logger, r *goose.MigrationResult) {
	attrs := []any{
		slog.Int64("version", r.Source.Version),
		slog.String("path", r.Source.Path),
		slog.String("direction", r.Direction),
		slog.Int64("duration_ms", r.Duration.Milliseconds()),
	}
	if r.Error != nil {
		logger.Error("migration failed", append(attrs, slog.String("error", r.Error.Error()))...)
		return
	}
	logger.Info("migration applied", attrs...)
}
