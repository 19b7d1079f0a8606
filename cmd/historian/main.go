// cmd/historian/main.go pops applied moves from the Redis queue and stores them
// in the configured database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/parchi/internal/cache"
	"github.com/jason-s-yu/parchi/internal/config"
	"github.com/jason-s-yu/parchi/internal/database"
	"github.com/jason-s-yu/parchi/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required for the historian")
	}
	if cfg.DBDriver == "memory" {
		logger.Fatal("the historian needs a persistent DB_DRIVER")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, database.Options{
		Driver:      cfg.DBDriver,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer store.Close()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.NewService(rdb, store, logger, historian.Options{
		Queue:      cfg.HistorianQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlush,
	})
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("final flush failed")
	}
	logger.Info("Historian shutdown complete.")
}
