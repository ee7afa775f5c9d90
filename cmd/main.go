/**
 * @description
 * This is the main entry point for the openbanking-service. It initializes all
 * necessary components, starts the HTTP API, the RabbitMQ sync consumer and the
 * periodic resync job, and shuts them down gracefully.
 *
 * Key features:
 * - Loads and validates configuration from environment variables or a .env file.
 * - Selects the PostgreSQL or in-memory store.
 * - Connects Redis for per-customer sync rate limiting when configured.
 * - Publishes accounts.synced events and consumes customer.sync.requested events.
 *
 * @dependencies
 * - The service's internal packages for config, app logic, storage, and the gateway client.
 * - pgxpool for database connection, godotenv for local config, go-redis for rate limiting,
 *   and rabbitmq for messaging.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/openbanking-service/internal/api"
	"github.com/transfa/openbanking-service/internal/app"
	"github.com/transfa/openbanking-service/internal/config"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
	"github.com/transfa/openbanking-service/pkg/metrics"
	"github.com/transfa/openbanking-service/pkg/middleware"
	"github.com/transfa/openbanking-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables", "component", "bootstrap")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("cannot load config", "component", "bootstrap", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "component", "bootstrap", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	templates, err := gatewayclient.LoadTemplates(cfg.PaymentTemplatesFile)
	if err != nil {
		logger.Error("failed to load payment templates", "component", "bootstrap", "error", err)
		os.Exit(1)
	}
	gateway := gatewayclient.NewClient(cfg.Gateway(templates), m, logger)

	var (
		accountRepo store.AccountRepository
		txRepo      store.TransactionRepository
		offerCache  store.OfferCache
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart", "component", "bootstrap")
		accountRepo = store.NewMemoryAccountRepository()
		txRepo = store.NewMemoryTransactionRepository()
		offerCache = store.NewMemoryOfferCache()
	default:
		dbpool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to connect to database", "component", "bootstrap", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established", "component", "bootstrap")

		if err := store.EnsureSchema(ctx, dbpool); err != nil {
			logger.Error("failed to apply schema", "component", "bootstrap", "error", err)
			os.Exit(1)
		}
		accountRepo = store.NewPostgresAccountRepository(dbpool, logger)
		txRepo = store.NewPostgresTransactionRepository(dbpool)
		offerCache = store.NewPostgresOfferCache(dbpool, logger)
	}

	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set; accounts.synced events will be dropped", "component", "bootstrap")
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("failed to connect rabbitmq producer; events will be dropped", "component", "bootstrap", "error", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		publisher = producer
	}
	defer publisher.Close()

	accountService := app.NewAccountService(gateway, nil, accountRepo, txRepo, publisher, cfg.AccountEventsExchange, m, logger)
	paymentService := app.NewPaymentService(gateway, offerCache, cfg.OffersCacheTTL(), logger)

	var httpLimiter *middleware.RateLimiter
	if redisClient := connectRedis(ctx, cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		accountService.SetSyncRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix), cfg.FetchRateLimitPerMinute)
	} else if cfg.HTTPRateLimitPerMinute > 0 {
		httpLimiter = middleware.NewRateLimiter(cfg.HTTPRateLimitPerMinute, cfg.HTTPRateLimitPerMinute, time.Minute)
		defer httpLimiter.Stop()
	}

	if cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("failed to connect rabbitmq consumer; sync events disabled", "component", "bootstrap", "error", err)
		} else {
			defer consumer.Close()
			eventHandler := app.NewSyncEventHandler(accountService, logger)
			go func() {
				logger.Info("starting consumer", "component", "bootstrap", "routing_key", app.SyncRequestedRoutingKey, "queue", cfg.SyncRequestQueue)
				if err := consumer.Consume(ctx, cfg.CustomerEventsExchange, cfg.SyncRequestQueue, app.SyncRequestedRoutingKey, eventHandler.HandleSyncRequested); err != nil {
					logger.Error("consumer stopped", "component", "bootstrap", "error", err)
				}
			}()
		}
	}

	jobs := app.NewJobs(accountRepo, accountService, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.SyncJobSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "component", "bootstrap", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(cfg, accountService, paymentService, m, httpLimiter, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "component", "bootstrap", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "component", "bootstrap", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down openbanking-service", "component", "bootstrap")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "component", "bootstrap", "error", err)
	}
	<-scheduler.Stop().Done()

	logger.Info("server gracefully stopped", "component", "bootstrap")
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if redisURL == "" {
		logger.Warn("redis url missing; per-customer sync rate limiting disabled", "component", "bootstrap", "env", "REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; per-customer sync rate limiting disabled", "component", "bootstrap", "error", err)
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; per-customer sync rate limiting disabled", "component", "bootstrap", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected", "component", "bootstrap")
	return client
}
