// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/parchi/internal/auth"
	"github.com/jason-s-yu/parchi/internal/cache"
	"github.com/jason-s-yu/parchi/internal/config"
	"github.com/jason-s-yu/parchi/internal/database"
	"github.com/jason-s-yu/parchi/internal/handlers"
	"github.com/jason-s-yu/parchi/internal/historian"
	"github.com/jason-s-yu/parchi/internal/notify"
	"github.com/jason-s-yu/parchi/internal/room"
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
	} else {
		logger.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}
	if cfg.BotToken == "" {
		logger.Warn("BOT_TOKEN is empty; the webhook will reject every update")
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

	var signer *auth.Signer
	if len(cfg.AuthSeed) > 0 {
		signer, err = auth.NewSignerFromSeed(cfg.AuthSeed, cfg.TokenTTL)
	} else {
		signer, err = auth.NewSigner(cfg.TokenTTL)
	}
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	hub := notify.NewHub(logger, notify.DefaultBacklog)
	notifiers := notify.Fanout{hub}
	var actions room.ActionPublisher = historian.Direct{Sink: store}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		notifiers = append(notifiers, notify.NewRedisPublisher(rdb))
		actions = cache.NewPublisher(rdb, cfg.HistorianQueue)
		logger.Infof("publishing actions to Redis list %s", cfg.HistorianQueue)
	} else {
		notifiers = append(notifiers, notify.LogNotifier{Logger: logger})
	}

	svc := room.NewService(store, notifiers, logger,
		room.WithActionPublisher(actions),
		room.WithPlayerLimits(cfg.MinPlayers, cfg.MaxPlayers),
		room.WithTokenIssuer(signer),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(logger, svc, hub, signer, cfg.BotToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}()

	logger.Infof("Running on %s (db=%s)", cfg.Addr(), cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}
