package outbox

import (
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

// Producer names carried in ActorRef.Source.
const (
	SourceAPI       = "api"
	SourceScheduler = "scheduler"
	SourcePublisher = "publisher"
)

// ScheduleResolved builds the event written when an entry reaches a terminal outcome.
func ScheduleResolved(source string, data payloads.ScheduleResolvedEvent) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventScheduleResolved,
		AggregateType: enums.AggregateScheduleEntry,
		AggregateID:   data.ScheduleEntryID,
		Actor:         &ActorRef{OwnerID: data.OwnerID, Source: source},
		OccurredAt:    data.ResolvedAt,
		Data:          data,
	}
}

func ScheduleCanceled(source string, data payloads.ScheduleCanceledEvent) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventScheduleCanceled,
		AggregateType: enums.AggregateScheduleEntry,
		AggregateID:   data.ScheduleEntryID,
		Actor:         &ActorRef{OwnerID: data.OwnerID, Source: source},
		OccurredAt:    data.CanceledAt,
		Data:          data,
	}
}

func PlatformConnected(source string, data payloads.PlatformConnectedEvent) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventPlatformConnected,
		AggregateType: enums.AggregateCredential,
		AggregateID:   data.CredentialID,
		Actor:         &ActorRef{OwnerID: data.OwnerID, Source: source},
		Data:          data,
	}
}

// PlatformDisconnected is keyed by owner; the credential row is gone by the time it is written.
func PlatformDisconnected(source string, data payloads.PlatformDisconnectedEvent) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventPlatformDisconnected,
		AggregateType: enums.AggregateCredential,
		AggregateID:   data.OwnerID,
		Actor:         &ActorRef{OwnerID: data.OwnerID, Source: source},
		Data:          data,
	}
}
