package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/reelcast-backend/internal/publishing"
	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

const (
	defaultBatchSize   = 50
	defaultConcurrency = 4
)

type entryExecutor interface {
	Execute(ctx context.Context, entry models.ScheduleEntry) (*publishing.Execution, error)
}

type claimRecorder interface {
	AddClaimed(n int)
}

type DueSweepParams struct {
	Logger      *logger.Logger
	Schedules   schedules.Repository
	Executor    entryExecutor
	Metrics     claimRecorder
	BatchSize   int
	Concurrency int
}

// DueSweepJob promotes scheduled entries whose time has come, claims them into publishing
// and dispatches the claimed ones. The claim is a compare-and-set, so an entry is only ever
// dispatched by the sweep that won it. Dispatch slots are shared across passes: a pass
// claims at most as many entries as there are free slots and returns once they are
// handed off, so a long upload never holds back the next tick.
type DueSweepJob struct {
	logg      *logger.Logger
	entries   schedules.Repository
	executor  entryExecutor
	metrics   claimRecorder
	batchSize int
	now       func() time.Time

	slots    chan struct{}
	inflight sync.WaitGroup
}

func NewDueSweepJob(params DueSweepParams) (*DueSweepJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Schedules == nil {
		return nil, fmt.Errorf("schedule repository required")
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("executor required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &DueSweepJob{
		logg:      params.Logger,
		entries:   params.Schedules,
		executor:  params.Executor,
		metrics:   params.Metrics,
		batchSize: batch,
		now:       func() time.Time { return time.Now().UTC() },
		slots:     make(chan struct{}, concurrency),
	}, nil
}

func (j *DueSweepJob) Name() string { return "due-sweep" }

func (j *DueSweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep runs one pass and returns how many entries it claimed. A failed due-item query
// skips the pass without touching any entry. Claimed entries run in the background;
// Drain waits for them.
func (j *DueSweepJob) Sweep(ctx context.Context) (int, error) {
	free := cap(j.slots) - len(j.slots)
	if free <= 0 {
		j.logg.Debug(ctx, "dispatch slots busy, sweep skipped")
		return 0, nil
	}
	now := j.now()
	due, err := j.entries.ListDue(ctx, now, min(j.batchSize, free))
	if err != nil {
		return 0, fmt.Errorf("list due entries: %w", err)
	}

	claimed := make([]models.ScheduleEntry, 0, len(due))
	for _, entry := range due {
		ok, err := j.claim(ctx, entry, now)
		if err != nil {
			j.logg.Error(j.logg.WithScheduleEntryID(ctx, entry.ID.String()), "claim schedule entry failed", err)
			continue
		}
		if !ok {
			continue
		}
		entry.State = enums.ScheduleStatePublishing
		claimedAt := now
		entry.ClaimedAt = &claimedAt
		claimed = append(claimed, entry)
	}
	if j.metrics != nil {
		j.metrics.AddClaimed(len(claimed))
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"due":     len(due),
		"claimed": len(claimed),
	}), "dispatching due entries")

	dispatchCtx := context.WithoutCancel(ctx)
	for _, entry := range claimed {
		j.slots <- struct{}{}
		j.inflight.Add(1)
		go func() {
			defer func() {
				<-j.slots
				j.inflight.Done()
			}()
			if _, err := j.executor.Execute(dispatchCtx, entry); err != nil {
				j.logg.Error(j.logg.WithScheduleEntryID(dispatchCtx, entry.ID.String()), "execute schedule entry failed", err)
			}
		}()
	}
	return len(claimed), nil
}

// Drain blocks until every dispatched entry has finished executing.
func (j *DueSweepJob) Drain() {
	j.inflight.Wait()
}

// claim walks scheduled -> due_now -> publishing. Losing either step means another
// writer (a cancel or a concurrent sweep) got there first.
func (j *DueSweepJob) claim(ctx context.Context, entry models.ScheduleEntry, now time.Time) (bool, error) {
	if entry.State == enums.ScheduleStateScheduled {
		ok, err := j.entries.Transition(ctx, entry.ID, enums.ScheduleStateDueNow, schedules.Change{
			At:   now,
			From: []enums.ScheduleState{enums.ScheduleStateScheduled},
		})
		if err != nil || !ok {
			return false, err
		}
	}
	return j.entries.Transition(ctx, entry.ID, enums.ScheduleStatePublishing, schedules.Change{
		At:   now,
		From: []enums.ScheduleState{enums.ScheduleStateDueNow},
	})
}
