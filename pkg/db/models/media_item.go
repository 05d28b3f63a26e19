package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaItem is a finished video handed over by the generation pipeline. It is read-only here.
type MediaItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID         uuid.UUID `gorm:"column:owner_id;type:uuid;not null"`
	MediaURL        string    `gorm:"column:media_url;type:text;not null"`
	Title           string    `gorm:"column:title;type:text;not null"`
	Description     string    `gorm:"column:description;type:text;not null;default:''"`
	DurationSeconds int       `gorm:"column:duration_seconds;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;autoCreateTime"`
}

func (MediaItem) TableName() string { return "media_items" }
