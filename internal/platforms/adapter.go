// Package platforms defines the uniform contract every publishing destination implements
// and the registry the orchestrator resolves adapters from.
package platforms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// Credential is the decrypted OAuth grant handed to an adapter call.
type Credential struct {
	OwnerID      uuid.UUID
	Platform     enums.Platform
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	AccountID    string
}

// Metadata carries the per-target presentation of a media item.
type Metadata struct {
	Title       string
	Description string
	Caption     string
	Tags        []string
	Privacy     string
}

// UploadResult is the normalized outcome of one Upload call.
type UploadResult struct {
	Status         enums.PublishStatus
	PlatformItemID string
	PublishedURL   string
}

// ItemState is the normalized processing state of a platform item.
type ItemState string

const (
	ItemStateProcessing ItemState = "processing"
	ItemStatePublished  ItemState = "published"
	ItemStateFailed     ItemState = "failed"
	ItemStateRemoved    ItemState = "removed"
)

type ItemStatus struct {
	PlatformItemID string    `json:"platform_item_id"`
	State          ItemState `json:"state"`
	Detail         string    `json:"detail,omitempty"`
	PublishedURL   string    `json:"published_url,omitempty"`
}

type Analytics struct {
	PlatformItemID string           `json:"platform_item_id"`
	Views          int64            `json:"views"`
	Likes          int64            `json:"likes"`
	Comments       int64            `json:"comments"`
	Shares         int64            `json:"shares"`
	Extra          map[string]int64 `json:"extra,omitempty"`
	FetchedAt      time.Time        `json:"fetched_at"`
}

// Token is what a platform token endpoint hands back on exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	AccountID    string
}

// OAuth is the connect and refresh half of an adapter.
type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Token, error)
	Refresh(ctx context.Context, credential Credential) (Token, error)
}

// Adapter uploads media to one platform. Upload is not idempotent and is never
// retried by the adapter itself; GetStatus and GetAnalytics are read-only.
type Adapter interface {
	OAuth
	Platform() enums.Platform
	Upload(ctx context.Context, media models.MediaItem, metadata Metadata, credential Credential) (UploadResult, error)
	GetStatus(ctx context.Context, platformItemID string, credential Credential) (ItemStatus, error)
	GetAnalytics(ctx context.Context, platformItemID string, credential Credential) (Analytics, error)
}
