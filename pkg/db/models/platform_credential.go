package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// PlatformCredential stores the OAuth grant for one (owner, platform) pair.
// Token columns hold sealed ciphertext, never plaintext.
type PlatformCredential struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID      uuid.UUID      `gorm:"column:owner_id;type:uuid;not null"`
	Platform     enums.Platform `gorm:"column:platform;type:platform;not null"`
	AccessToken  string         `gorm:"column:access_token;type:text;not null"`
	RefreshToken string         `gorm:"column:refresh_token;type:text;not null;default:''"`
	ExpiresAt    time.Time      `gorm:"column:expires_at;type:timestamptz;not null"`
	Scope        string         `gorm:"column:scope;type:text;not null;default:''"`
	AccountID    *string        `gorm:"column:account_id;type:text"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:timestamptz;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;type:timestamptz;autoUpdateTime"`
}

func (PlatformCredential) TableName() string { return "platform_credentials" }
