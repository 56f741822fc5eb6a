package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/jobfit-api/internal/config"
	"github.com/phrazzld/jobfit-api/internal/platform/migrations"
	"github.com/phrazzld/jobfit-api/internal/platform/postgres"
	"github.com/phrazzld/jobfit-api/internal/platform/sqlite"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// openDatabase establishes a connection for the configured driver and
// configures the connection pool.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	switch cfg.Driver {
	case migrations.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		logger.Info("database connection established", slog.String("driver", cfg.Driver))
		return db, nil

	case migrations.DriverPostgres:
		db, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		logger.Info("database connection established", slog.String("driver", cfg.Driver))
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// newTaskStore opens the database, brings the schema up to date and returns
// the matching TaskStore.
func newTaskStore(
	ctx context.Context,
	cfg config.DatabaseConfig,
	logger *slog.Logger,
) (store.TaskStore, *sql.DB, error) {
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := migrations.Run(ctx, cfg.Driver, db, migrations.CommandUp, logger); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if cfg.Driver == migrations.DriverSQLite {
		return sqlite.NewTaskStore(db, logger), db, nil
	}
	return postgres.NewPostgresTaskStore(db, logger), db, nil
}
