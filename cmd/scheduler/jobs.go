package main

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/pipeline"
	"github.com/angelmondragon/reelcast-backend/internal/scheduler"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// buildRegistry registers the due sweep and the maintenance jobs. A zero interval
// disables the corresponding maintenance job.
func buildRegistry(cfg config.SchedulerConfig, logg *logger.Logger, db txRunner, stack *pipeline.Pipeline) (*scheduler.Registry, error) {
	registry := scheduler.NewRegistry()

	sweep, err := scheduler.NewDueSweepJob(scheduler.DueSweepParams{
		Logger:      logg,
		Schedules:   stack.Schedules,
		Executor:    stack.Executor,
		Metrics:     stack.PublishStats,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.DispatchConcurrency,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(sweep, every(cfg.SweepInterval, time.Minute))

	if cfg.ReaperInterval > 0 {
		reaper, err := scheduler.NewStaleReaperJob(scheduler.StaleReaperParams{
			Logger:     logg,
			DB:         db,
			Schedules:  stack.Schedules,
			History:    stack.History,
			Outbox:     stack.Outbox,
			Metrics:    stack.PublishStats,
			StaleAfter: cfg.StaleAfter,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(reaper, cfg.ReaperInterval)
	}

	if cfg.OutboxRetentionInterval > 0 {
		retention, err := scheduler.NewOutboxRetentionJob(scheduler.OutboxRetentionParams{
			Logger:     logg,
			DB:         db,
			Repository: stack.OutboxRepo,
			Retention:  cfg.OutboxRetentionDays,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(retention, cfg.OutboxRetentionInterval)
	}

	return registry, nil
}

func every(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
