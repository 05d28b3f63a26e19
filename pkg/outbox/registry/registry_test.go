package registry

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

const testTopic = "publishing-topic"

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{PublishingTopic: testTopic})
	require.NoError(t, err)
	return reg
}

// row builds an outbox row the way outbox.Service writes one.
func row(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	id := uuid.New()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return models.OutboxEvent{ID: id, EventType: eventType, AggregateType: aggregate, AggregateID: uuid.New(), Payload: envelope}
}

func TestResolveDecodesTypedPayloads(t *testing.T) {
	reg := testRegistry(t)
	entryID, ownerID := uuid.New(), uuid.New()

	resolved, err := reg.Resolve(row(t, enums.EventScheduleResolved, enums.AggregateScheduleEntry, payloads.ScheduleResolvedEvent{
		ScheduleEntryID: entryID,
		State:           enums.ScheduleStatePartiallyFailed,
		Outcomes: []payloads.TargetOutcome{
			{Platform: enums.PlatformYouTube, Status: enums.PublishStatusPublished},
			{Platform: enums.PlatformTikTok, Status: enums.PublishStatusFailed},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, testTopic, resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.ScheduleResolvedEvent)
	require.True(t, ok, "payload %T", resolved.Payload)
	assert.Equal(t, entryID, payload.ScheduleEntryID)
	assert.Len(t, payload.Outcomes, 2)
	assert.False(t, resolved.Envelope.OccurredAt.IsZero())

	resolved, err = reg.Resolve(row(t, enums.EventPlatformDisconnected, enums.AggregateCredential, payloads.PlatformDisconnectedEvent{
		OwnerID:  ownerID,
		Platform: enums.PlatformInstagram,
	}))
	require.NoError(t, err)
	disconnected, ok := resolved.Payload.(*payloads.PlatformDisconnectedEvent)
	require.True(t, ok)
	assert.Equal(t, ownerID, disconnected.OwnerID)
	assert.Equal(t, enums.PlatformInstagram, disconnected.Platform)
}

func TestResolveMarksBadRowsPoison(t *testing.T) {
	reg := testRegistry(t)
	valid := func() models.OutboxEvent {
		return row(t, enums.EventScheduleCanceled, enums.AggregateScheduleEntry, payloads.ScheduleCanceledEvent{ScheduleEntryID: uuid.New()})
	}
	rewrite := func(ev models.OutboxEvent, mutate func(*outbox.PayloadEnvelope)) models.OutboxEvent {
		var env outbox.PayloadEnvelope
		require.NoError(t, json.Unmarshal(ev.Payload, &env))
		mutate(&env)
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		ev.Payload = raw
		return ev
	}

	cases := map[string]func() models.OutboxEvent{
		"unknown type": func() models.OutboxEvent {
			ev := valid()
			ev.EventType = "media_uploaded"
			return ev
		},
		"aggregate mismatch": func() models.OutboxEvent {
			ev := valid()
			ev.AggregateType = enums.AggregateCredential
			return ev
		},
		"no aggregate id": func() models.OutboxEvent {
			ev := valid()
			ev.AggregateID = uuid.Nil
			return ev
		},
		"garbage envelope": func() models.OutboxEvent {
			ev := valid()
			ev.Payload = []byte("{")
			return ev
		},
		"future version": func() models.OutboxEvent {
			return rewrite(valid(), func(env *outbox.PayloadEnvelope) { env.Version = outbox.EnvelopeVersion + 1 })
		},
		"foreign event id": func() models.OutboxEvent {
			return rewrite(valid(), func(env *outbox.PayloadEnvelope) { env.EventID = uuid.NewString() })
		},
		"null data": func() models.OutboxEvent {
			return rewrite(valid(), func(env *outbox.PayloadEnvelope) { env.Data = json.RawMessage("null") })
		},
		"wrong shape": func() models.OutboxEvent {
			return rewrite(valid(), func(env *outbox.PayloadEnvelope) { env.Data = json.RawMessage(`{"schedule_entry_id":42}`) })
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(build())
			require.Error(t, err)
			assert.True(t, IsPoison(err), "got %v", err)
		})
	}
}

func TestPoisonSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("relay: %w", Poison("topic %s missing", "t"))
	assert.True(t, IsPoison(err))
	assert.EqualError(t, err, "relay: poison event: topic t missing")
	assert.False(t, IsPoison(fmt.Errorf("timeout")))
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)
}
