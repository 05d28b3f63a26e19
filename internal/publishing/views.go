package publishing

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgpagination "github.com/angelmondragon/reelcast-backend/pkg/pagination"
)

// TargetInput is one requested platform with its overrides.
type TargetInput struct {
	Platform string   `json:"platform" validate:"required,platform"`
	Privacy  *string  `json:"privacy,omitempty"`
	Tags     []string `json:"tags,omitempty" validate:"omitempty,max=30,dive,max=100"`
	Caption  *string  `json:"caption,omitempty" validate:"omitempty,max=2200"`
}

// ScheduleInput requests a publish at ScheduledAt, or as soon as possible when nil.
type ScheduleInput struct {
	MediaItemID uuid.UUID     `json:"media_item_id" validate:"required"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	Targets     []TargetInput `json:"targets" validate:"required,min=1,dive"`
}

// PublishInput requests a synchronous publish.
type PublishInput struct {
	MediaItemID uuid.UUID     `json:"media_item_id" validate:"required"`
	Targets     []TargetInput `json:"targets" validate:"required,min=1,dive"`
}

// ListInput filters ListSchedules.
type ListInput struct {
	States      []string
	MediaItemID uuid.UUID
	pkgpagination.Params
}

type Target struct {
	Platform enums.Platform `json:"platform"`
	Privacy  *string        `json:"privacy,omitempty"`
	Tags     []string       `json:"tags"`
	Caption  *string        `json:"caption,omitempty"`
}

// Entry is the read view of a ScheduleEntry.
type Entry struct {
	ID           uuid.UUID           `json:"id"`
	OwnerID      uuid.UUID           `json:"owner_id"`
	MediaItemID  uuid.UUID           `json:"media_item_id"`
	State        enums.ScheduleState `json:"state"`
	ScheduledAt  *time.Time          `json:"scheduled_at,omitempty"`
	LastError    *string             `json:"last_error,omitempty"`
	ClaimedAt    *time.Time          `json:"claimed_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	CanceledAt   *time.Time          `json:"canceled_at,omitempty"`
	SupersededBy *uuid.UUID          `json:"superseded_by,omitempty"`
	Targets      []Target            `json:"targets"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// PublishResult is the synchronous answer of PublishNow and Republish.
type PublishResult struct {
	Entry   Entry          `json:"entry"`
	Targets []TargetResult `json:"targets"`
}

type EntryPage struct {
	Items  []Entry `json:"items"`
	Cursor string  `json:"cursor"`
}

func toEntry(m models.ScheduleEntry) Entry {
	out := Entry{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		MediaItemID:  m.MediaItemID,
		State:        m.State,
		ScheduledAt:  utcPtr(m.ScheduledAt),
		LastError:    m.LastError,
		ClaimedAt:    utcPtr(m.ClaimedAt),
		CompletedAt:  utcPtr(m.CompletedAt),
		CanceledAt:   utcPtr(m.CanceledAt),
		SupersededBy: m.SupersededBy,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
		Targets:      make([]Target, 0, len(m.Targets)),
	}
	for _, t := range m.Targets {
		tags := []string(t.Tags)
		if tags == nil {
			tags = []string{}
		}
		out.Targets = append(out.Targets, Target{
			Platform: t.Platform,
			Privacy:  t.Privacy,
			Tags:     tags,
			Caption:  t.Caption,
		})
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
