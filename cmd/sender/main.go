// Command sender drains the outbound push queue: it claims pending messages,
// sends them through the LINE Messaging API and records the outcome,
// retrying within the configured policy. It is intended to run as its own
// process alongside the server so a slow platform never backs up the API.
//
// Exit codes: 0 = clean shutdown, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/pushmessage"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/line"
	"github.com/heartmarshall/newsline-backend/internal/app"
	"github.com/heartmarshall/newsline-backend/internal/config"
	"github.com/heartmarshall/newsline-backend/internal/service/delivery"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	lineClient := line.NewWithURL(
		cfg.Line.APIBaseURL, cfg.Line.ChannelSecret, cfg.Line.ChannelAccessToken,
		cfg.Line.SendTimeout, logger,
	)

	svc := delivery.NewService(logger, pushmessage.New(pool), lineClient, delivery.Config{
		BatchSize:    cfg.Delivery.BatchSize,
		Workers:      cfg.Delivery.Workers,
		PollInterval: cfg.Delivery.PollInterval,
		SendTimeout:  cfg.Delivery.SendTimeout,
		MaxAttempts:  cfg.Delivery.MaxAttempts,
		RetryBackoff: cfg.Delivery.RetryBackoff,
		ClaimTTL:     cfg.Delivery.ClaimTTL,
	})

	if err := svc.Run(ctx); err != nil {
		logger.Error("delivery worker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("sender stopped")
}
