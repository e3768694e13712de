package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
	"waas-dispatch-service/internal/adapters/repositories"
	"waas-dispatch-service/internal/config"
	"waas-dispatch-service/internal/platform/db"
	"waas-dispatch-service/internal/platform/logger"

	"github.com/rs/zerolog"
)

// dbtool prepares a Postgres database: schema first, then worker seeds.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment)

	if cfg.Store.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Store.DatabaseURL, db.Options{MaxOpenConns: cfg.Store.MaxOpenConns})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	if err := initAndSeed(ctx, conn, cfg.Store.SeedPath, log); err != nil {
		log.Fatal().Err(err).Msg("dbtool failed")
	}
}

func initAndSeed(ctx context.Context, conn *sql.DB, seedPath string, log zerolog.Logger) error {
	log.Info().Msg("initializing database schema")
	if err := repositories.InitSchema(ctx, conn); err != nil {
		return fmt.Errorf("schema initialization: %w", err)
	}
	log.Info().Msg("schema ready")

	if seedPath == "" {
		log.Info().Msg("SEED_PATH empty, skipping worker seeds")
		return nil
	}

	log.Info().Str("path", seedPath).Msg("seeding workers")
	n, err := repositories.SeedWorkersFromJSON(ctx, repositories.NewPostgresStore(conn), seedPath)
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	log.Info().Int("workers", n).Msg("seeding complete")

	return nil
}
