package main

import (
	"errors"
	"flag"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/config"
	"github.com/joao-fontenele/beadflow/internal/telemetry"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := telemetry.NewLogger(cfg.Development(), "beadflow-migrate")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	args := flag.Args()
	if len(args) < 1 {
		logger.Fatal("usage: migrate <up|down|version>")
	}
	if cfg.PostgresURL == "" {
		logger.Fatal("POSTGRES_URL environment variable is required")
	}

	m, err := migrate.New(cfg.MigrationsPath, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to create migrate instance", zap.Error(err))
	}
	defer func() { _, _ = m.Close() }()

	switch command := args[0]; command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
			return
		}
		if err != nil {
			logger.Fatal("migration up failed", zap.Error(err))
		}
		logger.Info("migrations applied successfully")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to rollback")
			return
		}
		if err != nil {
			logger.Fatal("migration down failed", zap.Error(err))
		}
		logger.Info("migration rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return
		}
		if err != nil {
			logger.Fatal("failed to get version", zap.Error(err))
		}
		logger.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))

	default:
		logger.Fatal("unknown command", zap.String("command", command))
	}
}
