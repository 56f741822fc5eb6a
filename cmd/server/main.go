// Package main implements the entry point for the jobfit API server, which
// accepts resume analysis submissions and runs the analysis workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/jobfit-api/internal/config"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"github.com/phrazzld/jobfit-api/internal/platform/migrations"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (defaults to ./config.yaml when present)")
	mode := flag.String("mode", "", "Process mode: api, worker or all (overrides server.mode)")
	migrateCmd := flag.String("migrate", "", "Run database migrations (up, down, status) and exit")
	flag.Parse()

	if err := run(*configPath, *mode, *migrateCmd); err != nil {
		log.Fatalf("jobfit-api: %v", err)
	}
}

func run(configPath, mode, migrateCmd string) error {
	cfg, err := loadConfig(configPath, mode)
	if err != nil {
		return err
	}

	l, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("mode", cfg.Server.Mode),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("queue_backend", cfg.Queue.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		return runMigrations(ctx, cfg, migrateCmd, l)
	}

	app, err := newApplication(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.run(ctx)
}

// loadConfig reads configuration and applies the -mode override before
// validation.
func loadConfig(path, mode string) (*config.Config, error) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if mode != "" {
		cfg.Server.Mode = mode
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid -mode %q: %w", mode, err)
		}
	}
	return cfg, nil
}

func runMigrations(ctx context.Context, cfg *config.Config, command string, l *slog.Logger) error {
	db, err := openDatabase(ctx, cfg.Database, l)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			l.Error("failed to close database", slog.String("error", cerr.Error()))
		}
	}()

	return migrations.Run(ctx, cfg.Database.Driver, db, command, l)
}
