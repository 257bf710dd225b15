// Command server starts the screening HTTP API and chat gateway.
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

	"github.com/redis/go-redis/v9"

	httpserver "github.com/hiregate/screening/internal/adapter/httpserver"
	"github.com/hiregate/screening/internal/adapter/observability"
	"github.com/hiregate/screening/internal/adapter/queue/redpanda"
	"github.com/hiregate/screening/internal/adapter/registry"
	"github.com/hiregate/screening/internal/adapter/repo/postgres"
	tikaext "github.com/hiregate/screening/internal/adapter/textextractor/tika"
	"github.com/hiregate/screening/internal/app"
	"github.com/hiregate/screening/internal/config"
	"github.com/hiregate/screening/internal/dialogue"
	"github.com/hiregate/screening/internal/usecase"
)

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ c *redis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return a.c.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

	screeningRepo := postgres.NewScreeningRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	transcriptRepo := postgres.NewTranscriptRepo(pool)

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("queue producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	screeningSvc := usecase.NewScreeningService(screeningRepo, sessionRepo, producer)
	resultSvc := usecase.NewResultService(screeningRepo, sessionRepo, transcriptRepo)
	scoringSvc := usecase.NewScoringService(screeningRepo)

	connRegistry := registry.New(rdb, cfg.ConnectionLeaseTTL)
	manager := dialogue.NewManager(
		sessionRepo,
		transcriptRepo,
		connRegistry,
		scoringSvc,
		dialogue.Policy{MaxReprompts: cfg.DialogueMaxReprompts},
		cfg.SessionTakeover,
	)

	dbCheck, redisCheck, kafkaCheck, tikaCheck := app.BuildReadinessChecks(cfg, pool, redisAdapter{rdb}, producer)

	ext := tikaext.New(cfg.TikaURL)

	srv := httpserver.NewServer(cfg, screeningSvc, resultSvc, sessionRepo, manager, ext, dbCheck, redisCheck, kafkaCheck, tikaCheck)
	handler := app.BuildRouter(cfg, srv)

	// No global read/write timeouts: the chat socket is long-lived. Regular
	// endpoints get their deadlines from the router's timeout middleware.
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
