package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/reelcast-backend/api/routes"
	"github.com/angelmondragon/reelcast-backend/internal/pipeline"
	"github.com/angelmondragon/reelcast-backend/pkg/bootstrap"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
)

const serviceName = "api"

// shutdownGrace bounds how long in-flight requests, including synchronous publishes, may finish.
const shutdownGrace = 30 * time.Second

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

	addr := ":" + firstNonEmpty(os.Getenv("PORT"), cfg.App.Port)
	logCtx := logg.WithFields(context.WithoutCancel(ctx), map[string]any{
		"addr":     addr,
		"instance": firstNonEmpty(os.Getenv("DYNO"), "local"),
	})
	stack.LogEnabled(logCtx, logg)

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			proc.DB,
			proc.Redis,
			stack.Publishing,
			stack.Credentials,
			stack.History,
			stack.Insights,
			promhttp.Handler(),
			metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logg.Info(logCtx, "api server listening")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
