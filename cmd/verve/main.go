package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verve-counter/internal/config"
	"verve-counter/internal/handler"
	"verve-counter/internal/metrics"
	"verve-counter/internal/middleware"
	"verve-counter/internal/publisher"
	"verve-counter/internal/repository"
	"verve-counter/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "1.0.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// storage
	var store repository.Store
	if cfg.RedisAddr != "" {
		r, err := repository.NewRedisStore(ctx, repository.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		store = r
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis dedup store")
	} else {
		store = repository.NewMemoryStore()
		log.Warn().Msg("REDIS_ADDR not set, using in-memory dedup store (single instance only)")
	}

	// sink
	pub, err := publisher.New(publisher.Config{
		Backend:  cfg.PublisherBackend,
		Brokers:  cfg.KafkaBrokers,
		NATSURL:  cfg.NATSURL,
		NSQDAddr: cfg.NSQDAddr,
		Timeout:  cfg.PublishTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.PublisherBackend).Msg("failed to create publisher")
	}

	// metrics
	metricsRegistry := metrics.NewRegistry()

	// services
	claimPool := service.NewPool("claims", cfg.WorkerPoolSize, cfg.WorkerQueueDepth)
	notifyPool := service.NewPool("notify", cfg.NotifyPoolSize, cfg.NotifyQueueDepth)
	metricsRegistry.RegisterPoolDepth(claimPool.Name(), func() float64 { return float64(claimPool.QueueDepth()) })
	metricsRegistry.RegisterPoolDepth(notifyPool.Name(), func() float64 { return float64(notifyPool.QueueDepth()) })

	dedup := service.NewDeduper(store, cfg.DedupTTL, cfg.ClaimTimeout)
	breakers := service.NewEndpointBreakers(cfg.BreakerFailures, cfg.BreakerSuccesses, cfg.BreakerCooldown)
	notifier := service.NewHTTPNotifier(notifyPool, cfg.NotifyTimeout, breakers, metricsRegistry)
	aggregator := service.NewAggregator(service.AggregatorConfig{
		Period:         cfg.WindowPeriod,
		Topic:          cfg.PublishTopic,
		PublishTimeout: cfg.PublishTimeout,
	}, dedup, pub, metricsRegistry)
	dispatcher := service.NewDispatcher(claimPool, dedup, aggregator, notifier, metricsRegistry)

	// handlers
	accept := handler.NewAcceptHandler(dispatcher)
	health := handler.NewHealthHandler(dedup, aggregator, version, claimPool, notifyPool)
	var admin http.Handler = handler.NewAdminHandler(aggregator, dedup, breakers)

	// JWT auth (optional: only if JWT_SECRET is set)
	if cfg.JWTSecret != "" {
		admin = middleware.NewJWTMiddleware([]byte(cfg.JWTSecret), cfg.JWTIssuer, "")(admin)
		log.Info().Msg("JWT authentication enabled for /admin")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/verve/accept", accept)
	mux.Handle("/metrics", metricsRegistry.Handler())
	mux.Handle("/admin/window", admin)
	mux.HandleFunc("/health", health.Liveness)
	mux.HandleFunc("/ready", health.Readiness)
	mux.HandleFunc("/status", health.Status)

	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logging,
		middleware.RequestSizeLimit(middleware.MaxRequestSize),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	aggregator.Start(ctx)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("publisher", cfg.PublisherBackend).
			Dur("window", cfg.WindowPeriod).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	aggregator.Stop()
	if err := claimPool.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("claim pool did not drain")
	}
	if err := notifyPool.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("notify pool did not drain")
	}
	if err := pub.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close failed")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("store close failed")
	}
	log.Info().Msg("server exited")
}
