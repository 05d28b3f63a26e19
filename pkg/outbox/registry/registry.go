// Package registry decodes outbox rows into typed events and routes them to topics.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

// PoisonError marks a row that can never be relayed; it goes straight to the DLQ.
type PoisonError struct {
	Err error
}

func (e *PoisonError) Error() string { return "poison event: " + e.Err.Error() }
func (e *PoisonError) Unwrap() error { return e.Err }

// Poison wraps a formatted cause in a *PoisonError.
func Poison(format string, args ...any) error {
	return &PoisonError{Err: fmt.Errorf(format, args...)}
}

// IsPoison reports whether err, or anything it wraps, is a *PoisonError.
func IsPoison(err error) bool {
	var poison *PoisonError
	return errors.As(err, &poison)
}

// Descriptor ties an event type to its aggregate, topic and payload shape.
type Descriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Descriptor {
	return Descriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// ResolvedEvent is a decoded outbox row.
type ResolvedEvent struct {
	Descriptor Descriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	descriptors map[enums.OutboxEventType]Descriptor
}

// NewEventRegistry routes every event type to the publishing topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.PublishingTopic
	if topic == "" {
		return nil, errors.New("publishing topic is required")
	}

	reg := &EventRegistry{descriptors: map[enums.OutboxEventType]Descriptor{}}
	for _, d := range []Descriptor{
		describe[payloads.ScheduleResolvedEvent](enums.EventScheduleResolved, enums.AggregateScheduleEntry, topic),
		describe[payloads.ScheduleCanceledEvent](enums.EventScheduleCanceled, enums.AggregateScheduleEntry, topic),
		describe[payloads.PlatformConnectedEvent](enums.EventPlatformConnected, enums.AggregateCredential, topic),
		describe[payloads.PlatformDisconnectedEvent](enums.EventPlatformDisconnected, enums.AggregateCredential, topic),
	} {
		reg.descriptors[d.EventType] = d
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure is a *PoisonError: retrying the same bytes cannot succeed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.descriptors[event.EventType]
	switch {
	case !ok:
		return nil, Poison("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, Poison("%s expects aggregate %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, Poison("%s row has no aggregate id", event.EventType)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, Poison("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, Poison("unsupported envelope version %d", envelope.Version)
	}
	if event.ID != uuid.Nil && envelope.EventID != event.ID.String() {
		return nil, Poison("envelope id %s does not match row %s", envelope.EventID, event.ID)
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Poison("%s envelope has no data", event.EventType)
	}
	payload, err := desc.decode(data)
	if err != nil {
		return nil, Poison("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
