package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finanse/internal/amqp"
	"finanse/internal/cache"
	"finanse/internal/cli"
	"finanse/internal/core"
	apphttp "finanse/internal/http"
	"finanse/internal/ledger"
	"finanse/internal/log"
	"finanse/internal/report"
	"finanse/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentApp)

	logger.Info("Starting finanse server",
		log.FieldOperation, log.OpStartup,
		"backend", cfg.DataBackend)

	store := cli.MustOpenStore(context.Background(), cfg, logger)

	buckets := cache.NewLRUCache[core.MonthBucket](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(buckets)
	cacheManager.StartCleanup(cfg.CacheTTL)

	// Bucket events are optional; without a broker the server runs standalone.
	var (
		amqpClient *amqp.Client
		publisher  ledger.Notifier
	)
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, bucket events disabled",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeNetwork)
		} else {
			amqpClient = client
			publisher = amqp.NewNotifier(client)
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	svc := services.NewLedgerService(store.Store, services.Config{
		Taxonomy:      cfg.Taxonomy(),
		RetryAttempts: uint(cfg.RetryAttempts),
		RetryDelay:    cfg.RetryDelay,
		Cache:         buckets,
		Publisher:     publisher,
		Logger:        logger,
	})
	reports := report.New(store.Store, logger)

	srv := apphttp.NewServer(":"+cfg.Port, svc, reports, apphttp.Options{
		Logger:              logger,
		RateLimitPerMinute:  cfg.RateLimitPerMinute,
		WriteLimitPerMinute: cfg.WriteLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := store.Cleanup(); err != nil {
			logger.Error("Store close error", log.FieldError, err, log.FieldErrorType, log.ErrorTypeDatabase)
		}
	})

	go func() {
		logger.Info("Listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
