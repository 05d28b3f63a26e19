package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/reelcast-backend/internal/pipeline"
	"github.com/angelmondragon/reelcast-backend/internal/scheduler"
	"github.com/angelmondragon/reelcast-backend/pkg/bootstrap"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
)

const serviceName = "scheduler"

// drainTimeout bounds how long shutdown waits for in-flight dispatches.
const drainTimeout = 15 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		bootstrap.Fail(serviceName, err)
	}
}

func run(ctx context.Context) error {
	proc, err := bootstrap.Start(ctx, bootstrap.Options{Service: serviceName, WithRedis: true})
	if err != nil {
		return err
	}
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	stack, err := pipeline.Build(pipeline.Params{
		Config:  cfg,
		Logger:  logg,
		DB:      proc.DB.DB(),
		Locks:   proc.Redis,
		Metrics: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg.Scheduler, logg, proc.DB, stack)
	if err != nil {
		return err
	}
	params := scheduler.Params{
		Logger:   logg,
		Registry: registry,
		LockTTL:  cfg.Scheduler.LockTTL,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
	}
	if cfg.Scheduler.UseLock {
		params.Locks = proc.Redis
	}
	engine, err := scheduler.New(params)
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"service_kind":   serviceName,
		"sweep_interval": cfg.Scheduler.SweepInterval.String(),
	})
	stack.LogEnabled(ctx, logg)
	shutdownSide := bootstrap.ServeSide(ctx, logg, ":"+cfg.App.Port, sideMux())

	if err := engine.Start(ctx); err != nil {
		return err
	}
	logg.Info(ctx, "scheduler started")

	<-ctx.Done()
	logCtx := context.WithoutCancel(ctx)
	logg.Info(logCtx, "scheduler shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := multierr.Combine(engine.Stop(drainCtx), shutdownSide(drainCtx)); err != nil {
		return err
	}
	logg.Info(logCtx, "scheduler shut down gracefully")
	return nil
}

func sideMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
