package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// ScheduleTarget is one platform a schedule entry delivers to, with per-platform overrides.
type ScheduleTarget struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ScheduleEntryID uuid.UUID      `gorm:"column:schedule_entry_id;type:uuid;not null"`
	Platform        enums.Platform `gorm:"column:platform;type:platform;not null"`
	Privacy         *string        `gorm:"column:privacy;type:text"`
	Tags            pq.StringArray `gorm:"column:tags;type:text[];not null;default:'{}'"`
	Caption         *string        `gorm:"column:caption;type:text"`
	CreatedAt       time.Time      `gorm:"column:created_at;type:timestamptz;autoCreateTime"`
}

func (ScheduleTarget) TableName() string { return "schedule_targets" }
