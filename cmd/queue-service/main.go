package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/turnordoficial-hash/turnord02/internal/config"
	"github.com/turnordoficial-hash/turnord02/internal/feed"
	"github.com/turnordoficial-hash/turnord02/internal/httpapi"
	"github.com/turnordoficial-hash/turnord02/internal/queue"
	"github.com/turnordoficial-hash/turnord02/internal/realtime"
	"github.com/turnordoficial-hash/turnord02/internal/reconcile"
	"github.com/turnordoficial-hash/turnord02/internal/store"
	"github.com/turnordoficial-hash/turnord02/internal/store/memory"
	"github.com/turnordoficial-hash/turnord02/internal/store/postgres"
	"github.com/turnordoficial-hash/turnord02/internal/sweep"
	"github.com/turnordoficial-hash/turnord02/internal/telemetry"
)

const serviceName = "queue-service"

// backend is the store plus its outbox, whichever driver is selected.
type backend interface {
	store.QueueStore
	store.OutboxReader
}

func main() {
	if err := run(); err != nil {
		var cfgErr *queue.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "queue-service:", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := os.Getenv("ENV_FILE")
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg := config.Load()
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	cfg.BindFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := telemetry.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel).With("service", serviceName)
	slog.SetDefault(logger)
	shutdownTelemetry := telemetry.Setup(serviceName, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	policy, _ := queue.ParseMissingTargetPolicy(cfg.MissingTarget)
	service := queue.NewService(st, queue.Options{
		Location:        cfg.Location(),
		MaxCodeAttempts: cfg.MaxCodeAttempts,
		MissingTarget:   policy,
		Logger:          logger,
	})

	publisher, source, closeFeed, err := openFeed(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	poller := feed.NewPoller(st, publisher, feed.PollerOptions{
		Interval:  cfg.PollInterval,
		BatchSize: cfg.OutboxBatchSize,
		Retention: cfg.OutboxRetention,
		Settle:    cfg.OutboxSettle,
		Logger:    logger,
	})
	go poller.Run(ctx)

	hub := realtime.NewHub(logger)
	var boards []*reconcile.Controller
	for _, businessID := range cfg.Businesses {
		go func(businessID string) {
			if err := hub.Run(ctx, source, businessID); err != nil {
				logger.Error("realtime relay stopped", "business_id", businessID, "error", err)
			}
		}(businessID)

		controller, err := reconcile.New(service, source, realtime.NewBoardRenderer(hub, businessID, logger), reconcile.Options{
			Role:       reconcile.RoleStaff,
			BusinessID: businessID,
			Debounce:   cfg.Debounce,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		if err := controller.Start(ctx); err != nil {
			return fmt.Errorf("start board for %s: %w", businessID, err)
		}
		boards = append(boards, controller)
	}
	defer func() {
		for _, controller := range boards {
			controller.Stop()
		}
	}()

	sweeper, err := sweep.New(service, sweep.Options{
		BusinessIDs: cfg.Businesses,
		At:          cfg.SweepTime,
		Location:    cfg.Location(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			logger.Warn("sweep shutdown error", "error", err)
		}
	}()

	api := httpapi.NewHandler(service, httpapi.Options{
		DefaultBusiness: cfg.BusinessID,
		Businesses:      cfg.Businesses,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		BusinessPerMinute: cfg.BusinessRateLimitPerMinute,
		BusinessBurst:     cfg.BusinessRateLimitBurst,
	})

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", realtime.NewHandler("/realtime", hub, cfg.Businesses))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "store", cfg.StoreDriver, "businesses", cfg.Businesses)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.StoreDriver == config.StorePostgres {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		return postgres.NewStore(pool, postgres.Options{}), pool.Close, nil
	}

	mem := memory.New()
	if cfg.SeedFile != "" {
		seed, err := memory.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		if err := mem.Apply(ctx, seed); err != nil {
			return nil, nil, fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("memory store seeded", "file", cfg.SeedFile)
	}
	return mem, func() {}, nil
}

func openFeed(ctx context.Context, cfg config.Config, logger *slog.Logger) (feed.Publisher, feed.Source, func(), error) {
	if cfg.RedisAddr == "" {
		broker := feed.NewBroker(64, logger)
		return broker, broker, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	bus := feed.NewRedis(client, cfg.RedisChannelPrefix, logger)
	if err := bus.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("change feed on redis", "addr", cfg.RedisAddr)
	return bus, bus, func() { _ = client.Close() }, nil
}
