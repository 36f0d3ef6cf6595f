package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/queue-api/internal/config"
	"github.com/clinicore/queue-api/internal/handler"
	queueHandler "github.com/clinicore/queue-api/internal/handler/queue"
	"github.com/clinicore/queue-api/internal/middleware"
	"github.com/clinicore/queue-api/internal/repository"
	"github.com/clinicore/queue-api/internal/repository/memory"
	"github.com/clinicore/queue-api/internal/repository/postgres"
	"github.com/clinicore/queue-api/internal/router"
	eventService "github.com/clinicore/queue-api/internal/service/event"
	queueService "github.com/clinicore/queue-api/internal/service/queue"
	"github.com/clinicore/queue-api/internal/ws"
	"github.com/clinicore/queue-api/pkg/logger"
	"github.com/clinicore/queue-api/pkg/messaging/redis"
	"github.com/clinicore/queue-api/pkg/metrics"
	"github.com/clinicore/queue-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := middleware.RegisterValidators(); err != nil {
		log.Fatal().Err(err).Msg("failed to register request validators")
	}

	appLogger := logger.NewLogger(nil)
	m := metrics.NewMetrics("queue_api")

	// Pick the queue store backend. Postgres is the durable default; the
	// memory store serves single-node deployments and local development and
	// has no outbox, so a broker outage there degrades to pull-only sync.
	var (
		db         *sqlx.DB
		queueRepo  repository.QueueRepository
		outboxRepo repository.OutboxRepository
	)
	switch cfg.Store.Backend {
	case "memory":
		queueRepo = memory.NewQueueRepository()
	default:
		db, err = postgres.NewDB(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		queueRepo = postgres.NewQueueRepository(db)
		outboxRepo = postgres.NewOutboxRepository(db)
	}

	brokerLog := log.With().Str("component", "redis-broker").Logger()
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &brokerLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	eventSvc := eventService.NewService(broker, outboxRepo, appLogger, m)
	queueSvc := queueService.NewService(queueRepo, eventSvc, queueService.NewClock(), m)

	hub := ws.NewHub(appLogger, m)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	h := handler.NewHandler(db)
	queueH := queueHandler.NewHandler(queueSvc)
	wsH := ws.NewHandler(hub)

	r := router.NewRouter(authMiddleware, queueH, wsH, h, router.Config{
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		CORS:           middleware.DefaultCORSConfig(),
	})
	r.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := hub.Run(ctx, broker); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("event hub stopped")
		}
	}()

	if outboxRepo != nil {
		outboxProcessor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
			BatchSize:    cfg.Outbox.BatchSize,
			PollInterval: cfg.Outbox.PollInterval,
			RetainFor:    cfg.Outbox.RetainFor,
		}, appLogger, m)
		go outboxProcessor.Start(ctx)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting queue API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
