package publishing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

const msgMediaNotFound = "media item not found"

type mediaCatalog interface {
	Get(ctx context.Context, ownerID, mediaItemID uuid.UUID) (*models.MediaItem, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type resolutionRecorder interface {
	IncResolved(state string)
}

// Execution is the resolved entry together with every target's outcome, in target order.
type Execution struct {
	Entry   models.ScheduleEntry
	Results []TargetResult
}

// ExecutorParams wires an Executor. Metrics is optional.
type ExecutorParams struct {
	DB           *gorm.DB
	Schedules    schedules.Repository
	Catalog      mediaCatalog
	Orchestrator *Orchestrator
	Outbox       outboxEmitter
	Metrics      resolutionRecorder
	Logger       *logger.Logger
	Now          func() time.Time
}

// Executor runs a claimed (publishing) entry to its terminal state.
type Executor struct {
	db           *gorm.DB
	schedules    schedules.Repository
	catalog      mediaCatalog
	orchestrator *Orchestrator
	outbox       outboxEmitter
	metrics      resolutionRecorder
	logg         *logger.Logger
	now          func() time.Time
}

func NewExecutor(p ExecutorParams) (*Executor, error) {
	switch {
	case p.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database required")
	case p.Schedules == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "schedule repository required")
	case p.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "media catalog required")
	case p.Orchestrator == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orchestrator required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	case p.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	e := &Executor{
		db:           p.DB,
		schedules:    p.Schedules,
		catalog:      p.Catalog,
		orchestrator: p.Orchestrator,
		outbox:       p.Outbox,
		metrics:      p.Metrics,
		logg:         p.Logger,
		now:          p.Now,
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// Execute publishes entry, which must already be claimed into publishing, and resolves it.
// If another writer resolved the entry first the outcome is logged and no event is emitted.
func (e *Executor) Execute(ctx context.Context, entry models.ScheduleEntry) (*Execution, error) {
	ctx = e.logg.WithScheduleEntryID(ctx, entry.ID.String())
	if entry.State != enums.ScheduleStatePublishing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "schedule entry is not publishing")
	}

	var outcomes map[enums.Platform]TargetResult
	media, err := e.catalog.Get(ctx, entry.OwnerID, entry.MediaItemID)
	switch {
	case err == nil:
		outcomes = e.orchestrator.Publish(ctx, entry, *media)
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		outcomes = e.orchestrator.Fail(ctx, entry, msgMediaNotFound)
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		outcomes = e.orchestrator.Fail(ctx, entry, pkgerrors.As(err).Message())
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load media item")
	}

	results := make([]TargetResult, 0, len(entry.Targets))
	statuses := make([]enums.PublishStatus, 0, len(entry.Targets))
	for _, target := range entry.Targets {
		res := outcomes[target.Platform]
		results = append(results, res)
		statuses = append(statuses, res.Status)
	}

	state := schedules.ResolveOutcome(statuses)
	lastError := summarizeFailures(results)
	resolvedAt := e.now()

	// Outcomes are already recorded, so the resolution outlives the caller's context.
	finalCtx := context.WithoutCancel(ctx)
	won := false
	err = e.db.WithContext(finalCtx).Transaction(func(tx *gorm.DB) error {
		ok, err := e.schedules.WithTx(tx).Transition(finalCtx, entry.ID, state, schedules.Change{
			At:        resolvedAt,
			LastError: lastError,
			From:      []enums.ScheduleState{enums.ScheduleStatePublishing},
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		won = true
		return e.outbox.Emit(finalCtx, tx, outbox.ScheduleResolved(outbox.SourcePublisher, payloads.ScheduleResolvedEvent{
			ScheduleEntryID: entry.ID,
			MediaItemID:     entry.MediaItemID,
			OwnerID:         entry.OwnerID,
			State:           state,
			LastError:       lastError,
			Outcomes:        toOutcomes(results),
			ResolvedAt:      resolvedAt,
		}))
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve schedule entry")
	}
	if !won {
		e.logg.Warn(e.logg.WithField(ctx, "state", string(state)), "schedule entry resolved elsewhere")
	} else if e.metrics != nil {
		e.metrics.IncResolved(string(state))
	}

	resolved, err := e.schedules.FindByID(finalCtx, entry.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload schedule entry")
	}
	if resolved == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "schedule entry not found")
	}
	e.logg.Info(e.logg.WithField(ctx, "state", string(resolved.State)), "schedule entry resolved")
	return &Execution{Entry: *resolved, Results: results}, nil
}

// summarizeFailures joins failed targets as "platform: message" in platform order.
func summarizeFailures(results []TargetResult) *string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.Status == enums.PublishStatusFailed {
			parts = append(parts, string(res.Platform)+": "+res.Error)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	sort.Strings(parts)
	joined := strings.Join(parts, "; ")
	return &joined
}

func toOutcomes(results []TargetResult) []payloads.TargetOutcome {
	out := make([]payloads.TargetOutcome, 0, len(results))
	for _, res := range results {
		out = append(out, payloads.TargetOutcome{
			Platform:       res.Platform,
			Status:         res.Status,
			RecordID:       res.RecordID,
			PlatformItemID: optional(res.PlatformItemID),
			PublishedURL:   optional(res.PublishedURL),
			ErrorMessage:   optional(res.Error),
		})
	}
	return out
}
