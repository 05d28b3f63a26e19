package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written into every envelope; readers reject newer versions.
const EnvelopeVersion = 1

// ActorRef identifies who produced the event. Scheduler-driven events carry the entry owner.
type ActorRef struct {
	OwnerID uuid.UUID `json:"ownerId"`
	Source  string    `json:"source,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
