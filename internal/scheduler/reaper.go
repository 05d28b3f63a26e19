package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

const (
	defaultStaleAfter = 2 * time.Hour
	msgInterrupted    = "publishing interrupted"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type entryRecords interface {
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]history.Record, error)
	AppendTx(ctx context.Context, tx *gorm.DB, record models.PublishRecord) (history.Record, error)
}

type resolutionRecorder interface {
	IncResolved(state string)
}

type StaleReaperParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Schedules  schedules.Repository
	History    entryRecords
	Outbox     outboxEmitter
	Metrics    resolutionRecorder
	StaleAfter time.Duration
	BatchSize  int
}

// StaleReaperJob resolves entries whose publishing claim outlived StaleAfter, typically
// because the process died mid-dispatch. Targets without a record get a failed
// "publishing interrupted" record and the entry state follows the per-target
// outcomes. It never re-dispatches.
type StaleReaperJob struct {
	logg       *logger.Logger
	db         txRunner
	entries    schedules.Repository
	history    entryRecords
	outbox     outboxEmitter
	metrics    resolutionRecorder
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewStaleReaperJob(params StaleReaperParams) (*StaleReaperJob, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Schedules == nil:
		return nil, fmt.Errorf("schedule repository required")
	case params.History == nil:
		return nil, fmt.Errorf("history store required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &StaleReaperJob{
		logg:       params.Logger,
		db:         params.DB,
		entries:    params.Schedules,
		history:    params.History,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		staleAfter: staleAfter,
		batchSize:  batch,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (j *StaleReaperJob) Name() string { return "stale-reaper" }

func (j *StaleReaperJob) Run(ctx context.Context) error {
	now := j.now()
	stale, err := j.entries.ListStale(ctx, now.Add(-j.staleAfter), j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale entries: %w", err)
	}

	reaped := 0
	for _, entry := range stale {
		entryCtx := j.logg.WithScheduleEntryID(ctx, entry.ID.String())
		state, err := j.reap(ctx, entry, now)
		if err != nil {
			j.logg.Error(entryCtx, "reap stale entry failed", err)
			continue
		}
		if state == "" {
			continue
		}
		reaped++
		if j.metrics != nil {
			j.metrics.IncResolved(string(state))
		}
		j.logg.Warn(j.logg.WithField(entryCtx, "state", string(state)), "stale publishing entry resolved")
	}

	if reaped > 0 {
		j.logg.Info(j.logg.WithField(ctx, "reaped", reaped), "stale reaper complete")
	}
	return nil
}

// reap resolves one stale entry and returns the state it moved to, or "" when
// another writer resolved it first.
func (j *StaleReaperJob) reap(ctx context.Context, entry models.ScheduleEntry, now time.Time) (enums.ScheduleState, error) {
	records, err := j.history.ListByEntry(ctx, entry.ID)
	if err != nil {
		return "", fmt.Errorf("load entry records: %w", err)
	}
	latest := latestByPlatform(records)

	statuses := make([]enums.PublishStatus, 0, len(entry.Targets))
	var missing []enums.Platform
	for _, target := range entry.Targets {
		rec, ok := latest[target.Platform]
		if !ok {
			missing = append(missing, target.Platform)
			statuses = append(statuses, enums.PublishStatusFailed)
			continue
		}
		statuses = append(statuses, rec.Status)
	}
	state := schedules.ResolveOutcome(statuses)
	lastError := failureSummary(latest, missing)

	won := false
	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.entries.WithTx(tx).Transition(ctx, entry.ID, state, schedules.Change{
			At:        now,
			LastError: lastError,
			From:      []enums.ScheduleState{enums.ScheduleStatePublishing},
		})
		if err != nil || !ok {
			return err
		}
		won = true

		message := msgInterrupted
		for _, platform := range missing {
			rec, err := j.history.AppendTx(ctx, tx, models.PublishRecord{
				ScheduleEntryID: entry.ID,
				VideoID:         entry.MediaItemID,
				OwnerID:         entry.OwnerID,
				Platform:        platform,
				Status:          enums.PublishStatusFailed,
				ErrorMessage:    &message,
				AttemptedAt:     now,
			})
			if err != nil {
				return err
			}
			latest[platform] = rec
		}

		outcomes := make([]history.Record, 0, len(entry.Targets))
		for _, target := range entry.Targets {
			outcomes = append(outcomes, latest[target.Platform])
		}
		return j.outbox.Emit(ctx, tx, outbox.ScheduleResolved(outbox.SourceScheduler, payloads.ScheduleResolvedEvent{
			ScheduleEntryID: entry.ID,
			MediaItemID:     entry.MediaItemID,
			OwnerID:         entry.OwnerID,
			State:           state,
			LastError:       lastError,
			Outcomes:        outcomesOf(outcomes),
			ResolvedAt:      now,
		}))
	})
	if err != nil || !won {
		return "", err
	}
	return state, nil
}

// latestByPlatform keeps the newest record per platform; records arrive oldest first.
func latestByPlatform(records []history.Record) map[enums.Platform]history.Record {
	out := make(map[enums.Platform]history.Record, len(records))
	for _, rec := range records {
		out[rec.Platform] = rec
	}
	return out
}

// failureSummary joins failed targets as "platform: message" in platform order,
// counting missing targets as interrupted.
func failureSummary(latest map[enums.Platform]history.Record, missing []enums.Platform) *string {
	parts := make([]string, 0, len(latest)+len(missing))
	for platform, rec := range latest {
		if rec.Status == enums.PublishStatusFailed && rec.ErrorMessage != nil {
			parts = append(parts, string(platform)+": "+*rec.ErrorMessage)
		}
	}
	for _, platform := range missing {
		parts = append(parts, string(platform)+": "+msgInterrupted)
	}
	if len(parts) == 0 {
		return nil
	}
	sort.Strings(parts)
	joined := strings.Join(parts, "; ")
	return &joined
}

func outcomesOf(records []history.Record) []payloads.TargetOutcome {
	out := make([]payloads.TargetOutcome, 0, len(records))
	for _, rec := range records {
		out = append(out, payloads.TargetOutcome{
			Platform:       rec.Platform,
			Status:         rec.Status,
			RecordID:       rec.ID,
			PlatformItemID: rec.PlatformItemID,
			PublishedURL:   rec.PublishedURL,
			ErrorMessage:   rec.ErrorMessage,
		})
	}
	return out
}
