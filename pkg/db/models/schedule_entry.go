package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// ScheduleEntry tracks one scheduling or immediate publish intent for a media item.
type ScheduleEntry struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID      uuid.UUID           `gorm:"column:owner_id;type:uuid;not null"`
	MediaItemID  uuid.UUID           `gorm:"column:media_item_id;type:uuid;not null"`
	State        enums.ScheduleState `gorm:"column:state;type:schedule_state;not null"`
	ScheduledAt  *time.Time          `gorm:"column:scheduled_at;type:timestamptz"`
	LastError    *string             `gorm:"column:last_error;type:text"`
	ClaimedAt    *time.Time          `gorm:"column:claimed_at;type:timestamptz"`
	CompletedAt  *time.Time          `gorm:"column:completed_at;type:timestamptz"`
	CanceledAt   *time.Time          `gorm:"column:canceled_at;type:timestamptz"`
	SupersededBy *uuid.UUID          `gorm:"column:superseded_by;type:uuid"`
	CreatedAt    time.Time           `gorm:"column:created_at;type:timestamptz;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;type:timestamptz;autoUpdateTime"`

	Targets []ScheduleTarget `gorm:"foreignKey:ScheduleEntryID;references:ID"`
}

func (ScheduleEntry) TableName() string { return "schedule_entries" }
