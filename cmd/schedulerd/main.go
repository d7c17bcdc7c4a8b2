package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stridehq/stride-scheduler/config"
	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/email"
	"github.com/stridehq/stride-scheduler/internal/engine"
	"github.com/stridehq/stride-scheduler/internal/event"
	"github.com/stridehq/stride-scheduler/internal/health"
	"github.com/stridehq/stride-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/stridehq/stride-scheduler/internal/log"
	"github.com/stridehq/stride-scheduler/internal/metrics"
	"github.com/stridehq/stride-scheduler/internal/provision"
	httptransport "github.com/stridehq/stride-scheduler/internal/transport/http"
	"github.com/stridehq/stride-scheduler/internal/transport/http/handler"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

// schedulerd hosts the whole scheduling subsystem in one process: the
// execution engine, the orchestration service, the provisioning listeners,
// and the HTTP API. Running more than one instance against the same task
// store risks double-firing — there is no distributed lock.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")
	metrics.Register()

	taskRepo := postgres.NewTaskRepository(pool)
	execRepo := postgres.NewExecutionRepository(pool)

	bus := event.NewInProcessBus(logger, 256)

	// The default handler announces firings on the bus; delivery modules
	// (notifications, digests) subscribe to schedule.task.triggered.
	execHandler := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		err := bus.Publish(ctx, event.Event{
			Type:        domain.EventTaskTriggered,
			AggregateID: ec.TaskID,
			AccountUUID: ec.AccountUUID,
			OccurredOn:  ec.ExecutedAt,
			Payload: map[string]any{
				"sourceModule":   string(ec.SourceModule),
				"sourceEntityId": ec.SourceEntityID,
				"payload":        ec.Payload,
			},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"delivered": true}, nil
	})

	eng := engine.New(execHandler, logger, time.Duration(cfg.ExecTimeoutSec)*time.Second)
	sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)

	svc := usecase.NewTaskService(
		taskRepo,
		execRepo,
		eng,
		bus,
		sender,
		cfg.AlertEmail,
		time.Duration(cfg.ReconcileIntervalSec)*time.Second,
		logger,
	)

	registry := provision.NewRegistry(
		provision.GoalStrategy{},
		provision.TaskStrategy{},
		provision.ReminderStrategy{},
	)
	provision.NewListener(registry, svc, logger).Register(bus)

	if err := svc.Start(ctx); err != nil {
		stop()
		log.Fatalf("start scheduler: %v", err)
	}

	checker := health.NewChecker(pool, eng, logger, prometheus.DefaultRegisterer)

	taskHandler := handler.NewTaskHandler(svc, logger)
	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taskHandler, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	svc.Stop()
	bus.Close()
	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
