package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// TargetOutcome is one platform's result inside a resolved schedule entry.
type TargetOutcome struct {
	Platform       enums.Platform      `json:"platform"`
	Status         enums.PublishStatus `json:"status"`
	RecordID       uuid.UUID           `json:"record_id"`
	PlatformItemID *string             `json:"platform_item_id,omitempty"`
	PublishedURL   *string             `json:"published_url,omitempty"`
	ErrorMessage   *string             `json:"error_message,omitempty"`
}

// ScheduleResolvedEvent is emitted when an entry reaches completed, partially_failed or failed.
type ScheduleResolvedEvent struct {
	ScheduleEntryID uuid.UUID           `json:"schedule_entry_id"`
	MediaItemID     uuid.UUID           `json:"media_item_id"`
	OwnerID         uuid.UUID           `json:"owner_id"`
	State           enums.ScheduleState `json:"state"`
	LastError       *string             `json:"last_error,omitempty"`
	Outcomes        []TargetOutcome     `json:"outcomes"`
	ResolvedAt      time.Time           `json:"resolved_at"`
}

type ScheduleCanceledEvent struct {
	ScheduleEntryID uuid.UUID  `json:"schedule_entry_id"`
	MediaItemID     uuid.UUID  `json:"media_item_id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	SupersededBy    *uuid.UUID `json:"superseded_by,omitempty"`
	CanceledAt      time.Time  `json:"canceled_at"`
}

type PlatformConnectedEvent struct {
	CredentialID uuid.UUID      `json:"credential_id"`
	OwnerID      uuid.UUID      `json:"owner_id"`
	Platform     enums.Platform `json:"platform"`
	AccountID    *string        `json:"account_id,omitempty"`
}

type PlatformDisconnectedEvent struct {
	OwnerID  uuid.UUID      `json:"owner_id"`
	Platform enums.Platform `json:"platform"`
}
