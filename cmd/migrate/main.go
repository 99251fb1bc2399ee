package main

import (
	"errors"
	"flag"
	"os"

	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/internal/infrastructure/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		command string
		dbURL   string
		path    string
		steps   int
	)
	flag.StringVar(&command, "direction", "up", "up, down, steps or version")
	flag.StringVar(&dbURL, "db", "", "Database URL (default: DATABASE_URL, then TXOPS_DATABASE_* config)")
	flag.StringVar(&path, "path", "internal/repository/postgres/migrations", "Path to migration files")
	flag.IntVar(&steps, "n", 1, "Migrations to apply with -direction=steps; negative rolls back")
	flag.Parse()

	logger := observability.InitLogger("info", os.Stdout).With().Str("service", "txops-migrate").Logger()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load config")
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("Failed to open migrations")
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(steps)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Fatal().Err(verr).Msg("Failed to read schema version")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
		return
	default:
		logger.Fatal().Str("direction", command).Msg("Unknown direction, use up, down, steps or version")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Str("direction", command).Msg("Migration failed")
	}
	version, _, _ := m.Version()
	logger.Info().Str("direction", command).Uint("version", version).Msg("Migrations done")
}
