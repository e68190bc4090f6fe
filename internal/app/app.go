package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/agentrun"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/feeditem"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/pushmessage"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/quota"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/ragspace"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/source"
	translationrepo "github.com/heartmarshall/newsline-backend/internal/adapter/postgres/translation"
	userrepo "github.com/heartmarshall/newsline-backend/internal/adapter/postgres/user"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/userquery"
	"github.com/heartmarshall/newsline-backend/internal/adapter/postgres/webhookevent"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/line"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/openai"
	"github.com/heartmarshall/newsline-backend/internal/adapter/provider/retrieval"
	authpkg "github.com/heartmarshall/newsline-backend/internal/auth"
	"github.com/heartmarshall/newsline-backend/internal/config"
	"github.com/heartmarshall/newsline-backend/internal/service/answer"
	"github.com/heartmarshall/newsline-backend/internal/service/delivery"
	"github.com/heartmarshall/newsline-backend/internal/service/ingest"
	"github.com/heartmarshall/newsline-backend/internal/service/push"
	translationsvc "github.com/heartmarshall/newsline-backend/internal/service/translation"
	webhooksvc "github.com/heartmarshall/newsline-backend/internal/service/webhook"
	"github.com/heartmarshall/newsline-backend/internal/transport/middleware"
	"github.com/heartmarshall/newsline-backend/internal/transport/rest"
)

// Run is the application entry point. It loads configuration, connects to
// the database, assembles services and the HTTP transport, and serves until
// ctx is cancelled. Outbound delivery runs in the separate sender binary;
// the server only enqueues (and opportunistically drains on direct push
// requests).
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := NewLogger(cfg.Log)

	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
	)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	// Infrastructure.
	txm := postgres.NewTxManager(pool)
	jwtMgr := authpkg.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.ServiceTokenTTL)

	// Repositories.
	sourceRepo := source.New(pool)
	itemRepo := feeditem.New(pool)
	translationRepo := translationrepo.New(pool)
	eventRepo := webhookevent.New(pool)
	usersRepo := userrepo.New(pool, cfg.Quota.DefaultDailyLimit)
	quotaRepo := quota.New(pool)
	queryRepo := userquery.New(pool)
	spaceRepo := ragspace.New(pool)
	runRepo := agentrun.New(pool)
	messageRepo := pushmessage.New(pool)

	// External providers.
	lineClient := line.NewWithURL(cfg.Line.APIBaseURL, cfg.Line.ChannelSecret, cfg.Line.ChannelAccessToken, cfg.Line.SendTimeout, logger)
	llmClient := openai.NewWithURL(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.RequestTimeout, logger)
	retriever := retrieval.NewStub()

	// Services.
	var stages []ingest.Stage
	if cfg.Translation.Enabled {
		stages = append(stages, translationsvc.NewService(
			logger, translationRepo, itemRepo, llmClient,
			cfg.LLM.Provider, cfg.Translation.TargetLang, cfg.Translation.PromptVersion,
		))
	}
	ingestService := ingest.NewService(logger, sourceRepo, itemRepo, stages...)

	answerService := answer.NewService(
		logger, usersRepo, quotaRepo, queryRepo, runRepo, spaceRepo,
		retriever, llmClient, cfg.LLM.Provider, "",
	)

	deliveryService := delivery.NewService(logger, messageRepo, lineClient, delivery.Config{
		BatchSize:    cfg.Delivery.BatchSize,
		Workers:      cfg.Delivery.Workers,
		PollInterval: cfg.Delivery.PollInterval,
		SendTimeout:  cfg.Delivery.SendTimeout,
		MaxAttempts:  cfg.Delivery.MaxAttempts,
		RetryBackoff: cfg.Delivery.RetryBackoff,
		ClaimTTL:     cfg.Delivery.ClaimTTL,
	})

	pushService := push.NewService(
		logger, usersRepo, itemRepo, runRepo, messageRepo,
		deliveryService, llmClient, cfg.LLM.Provider, "",
	)

	webhookService := webhooksvc.NewService(logger, txm, eventRepo, usersRepo, answerService, lineClient)

	// HTTP transport.
	webhookHandler := rest.NewWebhookHandler(webhookService, lineClient, logger)
	ingestHandler := rest.NewIngestHandler(ingestService, logger)
	agentsHandler := rest.NewAgentsHandler(answerService, pushService, logger)
	deliveryHandler := rest.NewDeliveryHandler(deliveryService, logger)
	healthHandler := rest.NewHealthHandler(pool, BuildVersion())

	limiter := middleware.NewRateLimiter(5 * time.Minute)
	defer limiter.Stop()

	// The webhook authenticates by body signature inside the handler, so it
	// sits outside the bearer-token chain; everything under /v1 requires a
	// service token.
	webhookChain := middleware.Chain(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		limiter.Limit(cfg.RateLimit.WebhookPerMinute),
	)
	apiChain := middleware.Chain(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.Auth(jwtMgr),
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", healthHandler.Live)
	mux.HandleFunc("GET /health/ready", healthHandler.Ready)
	mux.HandleFunc("GET /health", healthHandler.Health)

	mux.Handle("POST /webhook/line", webhookChain(http.HandlerFunc(webhookHandler.Callback)))

	mux.Handle("POST /v1/ingest/items", apiChain(http.HandlerFunc(ingestHandler.SubmitItem)))
	mux.Handle("POST /v1/sources", apiChain(http.HandlerFunc(ingestHandler.RegisterSource)))
	mux.Handle("GET /v1/sources", apiChain(http.HandlerFunc(ingestHandler.ListSources)))
	mux.Handle("PATCH /v1/sources/{id}", apiChain(http.HandlerFunc(ingestHandler.SetSourceEnabled)))
	mux.Handle("POST /v1/agents/answer", apiChain(http.HandlerFunc(agentsHandler.Ask)))
	mux.Handle("POST /v1/agents/push", apiChain(http.HandlerFunc(agentsHandler.Push)))
	mux.Handle("GET /v1/delivery/messages", apiChain(http.HandlerFunc(deliveryHandler.ListMessages)))
	mux.Handle("GET /v1/delivery/messages/{id}", apiChain(http.HandlerFunc(deliveryHandler.GetMessage)))
	mux.Handle("POST /v1/delivery/messages/{id}/requeue", apiChain(http.HandlerFunc(deliveryHandler.Requeue)))
	mux.Handle("GET /v1/delivery/stats", apiChain(http.HandlerFunc(deliveryHandler.Stats)))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}
