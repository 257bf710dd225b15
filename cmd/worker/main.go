// Command worker consumes screening tasks from the queue, runs the
// analysis pipeline, and prepares the clarification session.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hiregate/screening/internal/adapter/observability"
	"github.com/hiregate/screening/internal/adapter/queue/redpanda"
	"github.com/hiregate/screening/internal/adapter/repo/postgres"
	"github.com/hiregate/screening/internal/config"
	"github.com/hiregate/screening/internal/screening/normalize"
	"github.com/hiregate/screening/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Dedicated /metrics endpoint so Prometheus can scrape queue metrics.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	pool, err := postgres.NewPool(context.Background(), cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	screeningRepo := postgres.NewScreeningRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)

	analysis := usecase.NewAnalysisService(screeningRepo, sessionRepo, normalize.MustNew())

	consumer, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        "screening-workers",
		MaxConcurrency: cfg.ConsumerMaxConcurrency,
		BackoffInitial: cfg.ConsumerBackoffInitial,
		BackoffMax:     cfg.ConsumerBackoffMax,
	}, analysis.Process)
	if err != nil {
		slog.Error("consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker shut down")
}
