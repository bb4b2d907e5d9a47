package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/config"
	"github.com/xraph/herald/ingest"
	"github.com/xraph/herald/internal/logging"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, the delivery worker and the optional Kafka consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(cfg)
	},
}

func serve(cfg config.Config) error {
	logs, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logs.Sync() }()
	logger := logs.Slog

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := b.migrate(ctx); err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	h, err := herald.New(
		herald.WithStore(b.store),
		herald.WithLogger(logger),
		herald.WithConfig(heraldConfig(cfg.Delivery)),
		herald.WithMetrics(metrics),
		herald.WithTracer(observability.NewTracer()),
		herald.WithAttemptLog(b.attemptLog()),
	)
	if err != nil {
		return err
	}
	// Not ctx: a signal must not abort attempts Stop is waiting for.
	h.Start(context.Background())

	var limiter ratelimit.Limiter
	if b.redis != nil {
		limiter = ratelimit.NewRedis(b.redis, "herald:rl:")
	} else {
		mem := ratelimit.NewMemory()
		go mem.Run(ctx, time.Minute)
		limiter = mem
	}

	srv := api.New(h, limiter, api.Config{
		TestLimit:  cfg.RateLimit.TestLimit,
		TestWindow: cfg.RateLimit.TestWindow,
		LogLevel:   logging.EchoLevel(cfg.Log.Level),
	}, logger, metrics)

	if cfgPath != "" {
		err := config.Watch(cfgPath, func(next config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed", "error", err)
				return
			}
			if next.Log.Level == logs.Level() {
				return
			}
			if err := logs.SetLevel(next.Log.Level); err != nil {
				logger.Warn("config reload: bad log level", "error", err)
				return
			}
			srv.SetLogLevel(logging.EchoLevel(next.Log.Level))
			logger.Info("log level changed", "level", next.Log.Level)
		})
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		reader := ingest.NewReader(ingest.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: cfg.Kafka.CommitInterval,
			MaxWait:        cfg.Kafka.MaxWait,
		})
		consumer = ingest.NewConsumer(reader, h, ingest.Config{
			IPSalt:       cfg.Kafka.IPSalt,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		}, logger, metrics)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "error", runErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("kafka reader close", "error", err)
		}
	}

	// Herald applies its own shutdown timeout.
	if err := h.Stop(context.Background()); err != nil {
		logger.Warn("herald stop", "error", err)
	}

	return runErr
}
