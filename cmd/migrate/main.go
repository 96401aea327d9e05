// Command migrate applies the PostgreSQL schema and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/config"
	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.IsDevelopment()); err != nil {
		panic(err)
	}
	log := logger.L().Named("migrate")

	if err := run(cfg, log); err != nil {
		log.Error("migration failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg config.Config, log *zap.Logger) error {
	if cfg.UseMemoryStore() {
		log.Info("memory store selected; nothing to migrate")
		return nil
	}

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := store.NewPostgresStore(db).Migrate(ctx); err != nil {
		return err
	}
	log.Info("schema applied")
	return nil
}
