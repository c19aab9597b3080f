package main

import (
	"context"
	"os"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/migrations"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New(config.LogConfig{Level: "info", Development: true})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Fatal("usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		logger.Fatal("direction must be 'up' or 'down'", zap.String("direction", direction))
	}

	cfg := config.LoadDatabase()
	db, err := database.NewConnection(&cfg)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	applied, err := migrations.Apply(ctx, db, direction)
	for _, name := range applied {
		logger.Info("migration applied", zap.String("file", name))
	}
	if err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	logger.Info("migrations complete", zap.Int("count", len(applied)), zap.String("direction", direction))
}
