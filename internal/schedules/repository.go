package schedules

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgpagination "github.com/angelmondragon/reelcast-backend/pkg/pagination"
)

// Change is the optional column set written alongside a state transition.
type Change struct {
	At           time.Time
	LastError    *string
	SupersededBy *uuid.UUID
	// From narrows the accepted source states. Empty means every legal predecessor.
	From []enums.ScheduleState
}

// ListQuery filters an owner's entries.
type ListQuery struct {
	OwnerID     uuid.UUID
	MediaItemID uuid.UUID
	States      []enums.ScheduleState
	Cursor      *pkgpagination.Cursor
	Limit       int
}

// Repository persists schedule_entries and schedule_targets. Every state change is a
// compare-and-set on the current state; a false result means another writer won.
type Repository interface {
	Create(ctx context.Context, entry *models.ScheduleEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduleEntry, error)
	List(ctx context.Context, q ListQuery) ([]models.ScheduleEntry, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduleEntry, error)
	ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]models.ScheduleEntry, error)
	Transition(ctx context.Context, id uuid.UUID, to enums.ScheduleState, change Change) (bool, error)
	WithTx(tx *gorm.DB) Repository
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Create inserts the entry and its targets.
func (r *repositoryImpl) Create(ctx context.Context, entry *models.ScheduleEntry) error {
	now := time.Now().UTC()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt
	for i := range entry.Targets {
		if entry.Targets[i].ID == uuid.Nil {
			entry.Targets[i].ID = uuid.New()
		}
		entry.Targets[i].ScheduleEntryID = entry.ID
		if entry.Targets[i].CreatedAt.IsZero() {
			entry.Targets[i].CreatedAt = entry.CreatedAt
		}
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByID returns nil, nil when the entry does not exist.
func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduleEntry, error) {
	var entry models.ScheduleEntry
	err := r.withTargets(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repositoryImpl) List(ctx context.Context, q ListQuery) ([]models.ScheduleEntry, error) {
	query := r.withTargets(ctx).Where("owner_id = ?", q.OwnerID)
	if q.MediaItemID != uuid.Nil {
		query = query.Where("media_item_id = ?", q.MediaItemID)
	}
	if len(q.States) > 0 {
		query = query.Where("state IN ?", q.States)
	}

	var rows []models.ScheduleEntry
	err := q.Cursor.After(query, "created_at").
		Limit(q.Limit).
		Find(&rows).Error
	return rows, err
}

// ListDue returns scheduled entries whose time has come plus entries already due_now,
// oldest first.
func (r *repositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduleEntry, error) {
	var rows []models.ScheduleEntry
	err := r.withTargets(ctx).
		Where("(state = ? AND scheduled_at <= ?) OR state = ?", enums.ScheduleStateScheduled, now.UTC(), enums.ScheduleStateDueNow).
		Order("COALESCE(scheduled_at, created_at) ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListStale returns entries stuck in publishing since before claimedBefore.
func (r *repositoryImpl) ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]models.ScheduleEntry, error) {
	var rows []models.ScheduleEntry
	err := r.withTargets(ctx).
		Where("state = ? AND claimed_at < ?", enums.ScheduleStatePublishing, claimedBefore.UTC()).
		Order("claimed_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Transition moves the entry to `to` only if its current state is a legal predecessor.
func (r *repositoryImpl) Transition(ctx context.Context, id uuid.UUID, to enums.ScheduleState, change Change) (bool, error) {
	from := change.From
	if len(from) == 0 {
		from = Predecessors(to)
	}
	allowed := make([]enums.ScheduleState, 0, len(from))
	for _, state := range from {
		if CanTransition(state, to) {
			allowed = append(allowed, state)
		}
	}
	if len(allowed) == 0 {
		return false, nil
	}

	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	at = at.UTC()

	updates := map[string]any{
		"state":      to,
		"updated_at": at,
	}
	switch {
	case to == enums.ScheduleStatePublishing:
		updates["claimed_at"] = at
	case to == enums.ScheduleStateCanceled:
		updates["canceled_at"] = at
	case to.IsTerminal():
		updates["completed_at"] = at
	}
	if change.LastError != nil {
		updates["last_error"] = *change.LastError
	}
	if change.SupersededBy != nil {
		updates["superseded_by"] = *change.SupersededBy
	}

	res := r.db.WithContext(ctx).
		Model(&models.ScheduleEntry{}).
		Where("id = ? AND state IN ?", id, allowed).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repositoryImpl) withTargets(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Targets", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("platform ASC")
	})
}
