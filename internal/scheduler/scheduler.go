// Package scheduler owns the recurring background work of the publishing engine: the
// due-entry sweep, the stale-claim reaper and outbox retention. A Scheduler is an explicit
// instance with its own lifecycle; nothing here is process-global.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/reelcast-backend/pkg/redis"
)

const defaultLockTTL = 5 * time.Minute

var ErrAlreadyStarted = errors.New("scheduler already started")

// LockStore backs the optional per-job lock. *redis.Client satisfies it.
type LockStore interface {
	pkgredis.LockStore
	LockKey(parts ...string) string
}

// Params configure a Scheduler. Locks and Metrics are optional.
type Params struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockStore
	LockTTL  time.Duration
	Metrics  *metrics.JobMetrics
}

// Scheduler runs every registered job on its cadence. Each job runs once on Start, and a
// run that is still going when the next tick fires is skipped rather than overlapped.
type Scheduler struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockStore
	lockTTL  time.Duration
	metrics  *metrics.JobMetrics

	mu      sync.Mutex
	engine  *cron.Cron
	initial sync.WaitGroup
}

func New(params Params) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Scheduler{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		lockTTL:  ttl,
		metrics:  params.Metrics,
	}, nil
}

// Start schedules every job and returns immediately. Job runs inherit ctx values but not
// its cancellation; Stop is the way to end them.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return ErrAlreadyStarted
	}

	runCtx := context.WithoutCancel(ctx)
	cronLog := cronLogger{logg: s.logg, ctx: runCtx}
	engine := cron.New(cron.WithLogger(cronLog))

	for _, entry := range s.registry.Entries() {
		job := entry.Job
		wrapped := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(func() {
			s.runJob(runCtx, job)
		}))
		engine.Schedule(cron.Every(entry.Every), wrapped)

		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			wrapped.Run()
		}()
		s.logg.Info(s.logg.WithFields(runCtx, map[string]any{
			"job":   job.Name(),
			"every": entry.Every.String(),
		}), "job scheduled")
	}
	engine.Start()
	s.engine = engine
	return nil
}

// Stop halts new runs and waits for in-flight ones, including work still held by
// Drainer jobs, until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	engine := s.engine
	s.engine = nil
	s.mu.Unlock()
	if engine == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-engine.Stop().Done()
		s.initial.Wait()
		for _, entry := range s.registry.Entries() {
			if d, ok := entry.Job.(Drainer); ok {
				d.Drain()
			}
		}
		close(done)
	}()
	select {
	case <-done:
		s.logg.Info(ctx, "scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunOnce runs every job a single time in registration order. Used by tests and one-shot tooling.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, entry := range s.registry.Entries() {
		s.runJob(ctx, entry.Job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "scheduler.job")

	if s.locks != nil {
		lock, err := pkgredis.NewLock(s.locks, s.locks.LockKey("scheduler", job.Name()), s.lockTTL)
		if err != nil {
			s.logg.Error(jobCtx, "job lock setup failed", err)
			s.metrics.IncFailure(job.Name())
			return
		}
		locked, err := lock.Acquire(jobCtx)
		if err != nil {
			s.logg.Error(jobCtx, "job lock acquire failed", err)
			s.metrics.IncFailure(job.Name())
			return
		}
		if !locked {
			s.logg.Info(jobCtx, "job held by another instance; skipping")
			s.metrics.IncSkipped(job.Name())
			return
		}
		defer func() {
			if err := lock.Release(jobCtx); err != nil {
				s.logg.Error(jobCtx, "job lock release failed", err)
			}
		}()
	}

	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Debug(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}

// cronLogger routes robfig/cron's own logging into the structured logger.
type cronLogger struct {
	logg *logger.Logger
	ctx  context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "cron: "+msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "cron: "+msg, err)
}

func pairs(keysAndValues []any) map[string]any {
	out := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out[key] = keysAndValues[i+1]
	}
	return out
}
