package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// PublishRecord is the append-only outcome of one publish attempt to one platform.
type PublishRecord struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ScheduleEntryID uuid.UUID           `gorm:"column:schedule_entry_id;type:uuid;not null"`
	VideoID         uuid.UUID           `gorm:"column:video_id;type:uuid;not null"`
	OwnerID         uuid.UUID           `gorm:"column:owner_id;type:uuid;not null"`
	Platform        enums.Platform      `gorm:"column:platform;type:platform;not null"`
	Status          enums.PublishStatus `gorm:"column:status;type:publish_status;not null"`
	PlatformItemID  *string             `gorm:"column:platform_item_id;type:text"`
	PublishedURL    *string             `gorm:"column:published_url;type:text"`
	ErrorMessage    *string             `gorm:"column:error_message;type:text"`
	Attempts        int                 `gorm:"column:attempts;not null;default:0"`
	AttemptedAt     time.Time           `gorm:"column:attempted_at;type:timestamptz;not null"`
}

func (PublishRecord) TableName() string { return "publish_records" }
