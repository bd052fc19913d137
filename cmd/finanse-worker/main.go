package main

import (
	"context"
	"errors"
	"time"

	"finanse/internal/amqp"
	"finanse/internal/cli"
	"finanse/internal/ledger"
	"finanse/internal/log"
	"finanse/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentApp)

	logger.Info("Starting finanse-worker",
		log.FieldOperation, log.OpStartup,
		"backend", cfg.DataBackend,
		"audit_interval", cfg.AuditInterval)

	store := cli.MustOpenStore(context.Background(), cfg, logger)

	// The worker only verifies; it never mutates, so no notifier is attached.
	engine := ledger.NewEngine(store.Store, ledger.WithLogger(logger))
	audit := worker.NewAuditWorker(engine, worker.Config{Interval: cfg.AuditInterval}, logger)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, relying on periodic sweeps",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeNetwork)
		} else {
			amqpClient = client
		}
	} else {
		logger.Info("AMQP disabled - bucket events will not be consumed")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := store.Cleanup(); err != nil {
			logger.Error("Store close error", log.FieldError, err, log.FieldErrorType, log.ErrorTypeDatabase)
		}
	})

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeBucketEvents(ctx, audit.HandleBucketEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Bucket event consumption stopped",
					log.FieldError, err,
					log.FieldOperation, log.OpConsume)
			}
		}()
	}

	go func() {
		if err := audit.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Audit loop stopped", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped", "drifts", audit.Drifts())
}
