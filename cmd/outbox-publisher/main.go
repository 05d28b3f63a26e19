package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/reelcast-backend/pkg/bootstrap"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/registry"
	"github.com/angelmondragon/reelcast-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		bootstrap.Fail(serviceName, err)
	}
}

func run(ctx context.Context) error {
	proc, err := bootstrap.Start(ctx, bootstrap.Options{Service: serviceName})
	if err != nil {
		return err
	}
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.WithoutCancel(ctx), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            proc.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(proc.DB.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(proc.DB.DB()),
		Metrics:       metrics.NewRelayMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "service_kind", serviceName)
	shutdownMetrics := bootstrap.ServeSide(ctx, logg, ":"+cfg.App.Port, promhttp.Handler())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	logg.Info(ctx, "outbox publisher started")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(context.WithoutCancel(ctx), "outbox publisher stopped")
	return nil
}
