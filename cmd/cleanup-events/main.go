// Command cleanup-events deletes webhook events older than the configured
// retention horizon. The ledger only needs to remember an event for as long
// as the platform may redeliver it. It is intended to be invoked by an
// external cron job, not as an in-process goroutine.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/webhookevent"
	"github.com/heartmarshall/newsline-backend/internal/app"
	"github.com/heartmarshall/newsline-backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	eventRepo := webhookevent.New(pool)

	cutoff := time.Now().Add(-cfg.Retention.WebhookEvents)

	deleted, err := eventRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("cleanup failed",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		os.Exit(1)
	}

	logger.Info("cleanup completed",
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)
}
