// Package publishing turns publish requests into schedule entries and runs claimed
// entries through the platform adapters.
package publishing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
	pkgpagination "github.com/angelmondragon/reelcast-backend/pkg/pagination"
)

// Service is the user-facing publishing surface.
type Service interface {
	SchedulePublish(ctx context.Context, ownerID uuid.UUID, input ScheduleInput) (*Entry, error)
	PublishNow(ctx context.Context, ownerID uuid.UUID, input PublishInput) (*PublishResult, error)
	CancelSchedule(ctx context.Context, ownerID, entryID uuid.UUID) (*Entry, error)
	Reschedule(ctx context.Context, ownerID, entryID uuid.UUID, scheduledAt time.Time) (*Entry, error)
	Republish(ctx context.Context, ownerID, entryID uuid.UUID) (*PublishResult, error)
	GetSchedule(ctx context.Context, ownerID, entryID uuid.UUID) (*Entry, error)
	ListSchedules(ctx context.Context, ownerID uuid.UUID, input ListInput) (*EntryPage, error)
}

type billingGuard interface {
	Check(ctx context.Context, ownerID uuid.UUID) error
}

type entryRecords interface {
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]history.Record, error)
}

type entryExecutor interface {
	Execute(ctx context.Context, entry models.ScheduleEntry) (*Execution, error)
}

// ServiceParams wires the publishing service.
type ServiceParams struct {
	DB        *gorm.DB
	Schedules schedules.Repository
	Catalog   mediaCatalog
	Billing   billingGuard
	Registry  *platforms.Registry
	History   entryRecords
	Executor  entryExecutor
	Outbox    outboxEmitter
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	db        *gorm.DB
	schedules schedules.Repository
	catalog   mediaCatalog
	billing   billingGuard
	registry  *platforms.Registry
	history   entryRecords
	executor  entryExecutor
	outbox    outboxEmitter
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database required")
	case p.Schedules == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "schedule repository required")
	case p.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "media catalog required")
	case p.Billing == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing guard required")
	case p.Registry == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "adapter registry required")
	case p.History == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "history store required")
	case p.Executor == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "executor required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	case p.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	s := &service{
		db:        p.DB,
		schedules: p.Schedules,
		catalog:   p.Catalog,
		billing:   p.Billing,
		registry:  p.Registry,
		history:   p.History,
		executor:  p.Executor,
		outbox:    p.Outbox,
		logg:      p.Logger,
		now:       p.Now,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// SchedulePublish creates a scheduled entry, or a due_now entry when ScheduledAt is nil.
func (s *service) SchedulePublish(ctx context.Context, ownerID uuid.UUID, input ScheduleInput) (*Entry, error) {
	now := s.now()
	if input.ScheduledAt != nil && !input.ScheduledAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scheduled_at must be in the future")
	}
	targets, err := s.admit(ctx, ownerID, input.MediaItemID, input.Targets)
	if err != nil {
		return nil, err
	}

	entry := &models.ScheduleEntry{
		OwnerID:     ownerID,
		MediaItemID: input.MediaItemID,
		State:       enums.ScheduleStateDueNow,
		CreatedAt:   now,
		Targets:     targets,
	}
	if input.ScheduledAt != nil {
		at := input.ScheduledAt.UTC()
		entry.ScheduledAt = &at
		entry.State = enums.ScheduleStateScheduled
	}
	if err := s.schedules.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create schedule entry")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"schedule_entry_id": entry.ID.String(),
		"state":             string(entry.State),
		"targets":           len(targets),
	}), "publish scheduled")
	out := toEntry(*entry)
	return &out, nil
}

// PublishNow claims a fresh entry directly into publishing and runs it before returning.
func (s *service) PublishNow(ctx context.Context, ownerID uuid.UUID, input PublishInput) (*PublishResult, error) {
	targets, err := s.admit(ctx, ownerID, input.MediaItemID, input.Targets)
	if err != nil {
		return nil, err
	}
	now := s.now()
	entry := models.ScheduleEntry{
		OwnerID:     ownerID,
		MediaItemID: input.MediaItemID,
		State:       enums.ScheduleStatePublishing,
		ClaimedAt:   &now,
		CreatedAt:   now,
		Targets:     targets,
	}
	if err := s.schedules.Create(ctx, &entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create schedule entry")
	}
	return s.run(ctx, entry)
}

// CancelSchedule cancels an entry that has not been claimed yet.
func (s *service) CancelSchedule(ctx context.Context, ownerID, entryID uuid.UUID) (*Entry, error) {
	entry, err := s.loadOwned(ctx, ownerID, entryID)
	if err != nil {
		return nil, err
	}
	if !schedules.Cancelable(entry.State) {
		return nil, stateConflict(entry.State, "schedule entry can no longer be canceled")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.cancelTx(ctx, tx, *entry, nil)
	})
	if err != nil {
		return nil, asDependency(err, "cancel schedule entry")
	}
	s.logg.Info(s.logg.WithScheduleEntryID(ctx, entryID.String()), "schedule canceled")
	return s.GetSchedule(ctx, ownerID, entryID)
}

// Reschedule replaces a pending entry with a new one at scheduledAt. The old entry is
// canceled and points at its replacement.
func (s *service) Reschedule(ctx context.Context, ownerID, entryID uuid.UUID, scheduledAt time.Time) (*Entry, error) {
	now := s.now()
	if !scheduledAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scheduled_at must be in the future")
	}
	entry, err := s.loadOwned(ctx, ownerID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.State != enums.ScheduleStateScheduled && entry.State != enums.ScheduleStateDueNow {
		return nil, stateConflict(entry.State, "only pending schedule entries can be rescheduled")
	}

	at := scheduledAt.UTC()
	replacement := &models.ScheduleEntry{
		OwnerID:     entry.OwnerID,
		MediaItemID: entry.MediaItemID,
		State:       enums.ScheduleStateScheduled,
		ScheduledAt: &at,
		CreatedAt:   now,
		Targets:     copyTargets(entry.Targets),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.schedules.WithTx(tx).Create(ctx, replacement); err != nil {
			return err
		}
		return s.cancelTx(ctx, tx, *entry, &replacement.ID)
	})
	if err != nil {
		return nil, asDependency(err, "reschedule entry")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"schedule_entry_id": entryID.String(),
		"superseded_by":     replacement.ID.String(),
	}), "schedule entry rescheduled")
	out := toEntry(*replacement)
	return &out, nil
}

// Republish runs a fresh entry for every target whose latest outcome on entryID failed.
func (s *service) Republish(ctx context.Context, ownerID, entryID uuid.UUID) (*PublishResult, error) {
	entry, err := s.loadOwned(ctx, ownerID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.State != enums.ScheduleStateFailed && entry.State != enums.ScheduleStatePartiallyFailed {
		return nil, stateConflict(entry.State, "only failed schedule entries can be republished")
	}
	records, err := s.history.ListByEntry(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	latest := make(map[enums.Platform]enums.PublishStatus, len(records))
	for _, rec := range records {
		latest[rec.Platform] = rec.Status
	}
	targets := make([]models.ScheduleTarget, 0, len(entry.Targets))
	for _, target := range copyTargets(entry.Targets) {
		if status, ok := latest[target.Platform]; !ok || status == enums.PublishStatusFailed {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return nil, stateConflict(entry.State, "schedule entry has no failed targets")
	}
	if err := s.billing.Check(ctx, ownerID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.Get(ctx, ownerID, entry.MediaItemID); err != nil {
		return nil, err
	}

	now := s.now()
	fresh := models.ScheduleEntry{
		OwnerID:     entry.OwnerID,
		MediaItemID: entry.MediaItemID,
		State:       enums.ScheduleStatePublishing,
		ClaimedAt:   &now,
		CreatedAt:   now,
		Targets:     targets,
	}
	if err := s.schedules.Create(ctx, &fresh); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create schedule entry")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"schedule_entry_id": entryID.String(),
		"republished_as":    fresh.ID.String(),
	}), "schedule entry republished")
	return s.run(ctx, fresh)
}

func (s *service) GetSchedule(ctx context.Context, ownerID, entryID uuid.UUID) (*Entry, error) {
	entry, err := s.loadOwned(ctx, ownerID, entryID)
	if err != nil {
		return nil, err
	}
	out := toEntry(*entry)
	return &out, nil
}

func (s *service) ListSchedules(ctx context.Context, ownerID uuid.UUID, input ListInput) (*EntryPage, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner identity missing")
	}
	states := make([]enums.ScheduleState, 0, len(input.States))
	for _, raw := range input.States {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		state, err := enums.ParseScheduleState(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid state filter")
		}
		states = append(states, state)
	}
	cursor, err := pkgpagination.Decode(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.schedules.List(ctx, schedules.ListQuery{
		OwnerID:     ownerID,
		MediaItemID: input.MediaItemID,
		States:      states,
		Cursor:      cursor,
		Limit:       pkgpagination.Probe(input.Limit),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list schedule entries")
	}

	rows, next := pkgpagination.Trim(rows, input.Limit, func(row models.ScheduleEntry) pkgpagination.Cursor {
		return pkgpagination.Cursor{At: row.CreatedAt, ID: row.ID}
	})
	items := make([]Entry, 0, len(rows))
	for _, row := range rows {
		items = append(items, toEntry(row))
	}
	return &EntryPage{Items: items, Cursor: next}, nil
}

// admit runs the synchronous input checks shared by every route that creates an entry.
// Nothing that fails here ever enters the state machine.
func (s *service) admit(ctx context.Context, ownerID, mediaItemID uuid.UUID, inputs []TargetInput) ([]models.ScheduleTarget, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner identity missing")
	}
	if mediaItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "media_item_id required")
	}
	targets, err := s.buildTargets(inputs)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalog.Get(ctx, ownerID, mediaItemID); err != nil {
		return nil, err
	}
	if err := s.billing.Check(ctx, ownerID); err != nil {
		return nil, err
	}
	return targets, nil
}

func (s *service) buildTargets(inputs []TargetInput) ([]models.ScheduleTarget, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one target required")
	}
	seen := make(map[enums.Platform]struct{}, len(inputs))
	out := make([]models.ScheduleTarget, 0, len(inputs))
	for _, in := range inputs {
		platform, err := enums.ParsePlatform(strings.ToLower(strings.TrimSpace(in.Platform)))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target platform").
				WithDetails(map[string]any{"platform": in.Platform})
		}
		if _, dup := seen[platform]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate target platform").
				WithDetails(map[string]any{"platform": platform})
		}
		if _, ok := s.registry.Get(platform); !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "platform not enabled").
				WithDetails(map[string]any{"platform": platform})
		}
		seen[platform] = struct{}{}

		target := models.ScheduleTarget{
			Platform: platform,
			Privacy:  trimmed(in.Privacy),
			Caption:  trimmed(in.Caption),
			Tags:     cleanTags(in.Tags),
		}
		out = append(out, target)
	}
	return out, nil
}

func (s *service) run(ctx context.Context, entry models.ScheduleEntry) (*PublishResult, error) {
	// Uploads that started must finish and be recorded even if the client goes away.
	exec, err := s.executor.Execute(context.WithoutCancel(ctx), entry)
	if err != nil {
		return nil, err
	}
	return &PublishResult{Entry: toEntry(exec.Entry), Targets: exec.Results}, nil
}

func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, entry models.ScheduleEntry, supersededBy *uuid.UUID) error {
	at := s.now()
	ok, err := s.schedules.WithTx(tx).Transition(ctx, entry.ID, enums.ScheduleStateCanceled, schedules.Change{
		At:           at,
		SupersededBy: supersededBy,
		From:         []enums.ScheduleState{enums.ScheduleStateScheduled, enums.ScheduleStateDueNow},
	})
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "schedule entry was claimed before it could be canceled")
	}
	return s.outbox.Emit(ctx, tx, outbox.ScheduleCanceled(outbox.SourceAPI, payloads.ScheduleCanceledEvent{
		ScheduleEntryID: entry.ID,
		MediaItemID:     entry.MediaItemID,
		OwnerID:         entry.OwnerID,
		SupersededBy:    supersededBy,
		CanceledAt:      at,
	}))
}

func (s *service) loadOwned(ctx context.Context, ownerID, entryID uuid.UUID) (*models.ScheduleEntry, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner identity missing")
	}
	entry, err := s.schedules.FindByID(ctx, entryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load schedule entry")
	}
	if entry == nil || entry.OwnerID != ownerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "schedule entry not found")
	}
	return entry, nil
}

func stateConflict(state enums.ScheduleState, message string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).
		WithDetails(map[string]any{"state": state})
}

func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func copyTargets(in []models.ScheduleTarget) []models.ScheduleTarget {
	out := make([]models.ScheduleTarget, 0, len(in))
	for _, t := range in {
		out = append(out, models.ScheduleTarget{
			Platform: t.Platform,
			Privacy:  t.Privacy,
			Tags:     append([]string{}, t.Tags...),
			Caption:  t.Caption,
		})
	}
	return out
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	if out == "" {
		return nil
	}
	return &out
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
