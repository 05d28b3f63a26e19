package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/pkg/db/dbtest"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

func TestServiceEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	ownerID := uuid.New()
	entryID := uuid.New()
	resolvedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, ScheduleResolved(SourceScheduler, payloads.ScheduleResolvedEvent{
			ScheduleEntryID: entryID,
			OwnerID:         ownerID,
			State:           enums.ScheduleStateCompleted,
			ResolvedAt:      resolvedAt,
		}))
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventScheduleResolved, rows[0].EventType)
	assert.Equal(t, enums.AggregateScheduleEntry, rows[0].AggregateType)
	assert.Equal(t, entryID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	assert.True(t, resolvedAt.Equal(envelope.OccurredAt))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, ownerID, envelope.Actor.OwnerID)
	assert.Equal(t, SourceScheduler, envelope.Actor.Source)

	var data payloads.ScheduleResolvedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, enums.ScheduleStateCompleted, data.State)
}

func TestServiceEmitRejectsMalformedEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := svc.Emit(context.Background(), nil, PlatformDisconnected(SourceAPI, payloads.PlatformDisconnectedEvent{OwnerID: uuid.New()}))
	assert.ErrorIs(t, err, errTxRequired)

	cases := map[string]DomainEvent{
		"unknown type":      {EventType: "listing_created", AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Data: struct{}{}},
		"unknown aggregate": {EventType: enums.EventScheduleCanceled, AggregateType: "order", AggregateID: uuid.New(), Data: struct{}{}},
		"missing aggregate": ScheduleCanceled(SourceAPI, payloads.ScheduleCanceledEvent{OwnerID: uuid.New()}),
		"missing data":      {EventType: enums.EventScheduleCanceled, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New()},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			err := conn.Transaction(func(tx *gorm.DB) error {
				return svc.Emit(context.Background(), tx, event)
			})
			require.Error(t, err)
		})
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEventConstructorsKeyAggregates(t *testing.T) {
	owner := uuid.New()
	credential := uuid.New()

	connected := PlatformConnected(SourceAPI, payloads.PlatformConnectedEvent{CredentialID: credential, OwnerID: owner, Platform: enums.PlatformTikTok})
	assert.Equal(t, enums.AggregateCredential, connected.AggregateType)
	assert.Equal(t, credential, connected.AggregateID)
	assert.Equal(t, owner, connected.Actor.OwnerID)

	disconnected := PlatformDisconnected(SourceAPI, payloads.PlatformDisconnectedEvent{OwnerID: owner, Platform: enums.PlatformTikTok})
	assert.Equal(t, owner, disconnected.AggregateID)
	assert.Equal(t, enums.EventPlatformDisconnected, disconnected.EventType)

	at := time.Now().UTC()
	entry := uuid.New()
	canceled := ScheduleCanceled(SourceAPI, payloads.ScheduleCanceledEvent{ScheduleEntryID: entry, OwnerID: owner, CanceledAt: at})
	assert.Equal(t, entry, canceled.AggregateID)
	assert.Equal(t, at, canceled.OccurredAt)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	base := time.Now().UTC().Add(-time.Hour)
	first := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventScheduleResolved, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: base}
	second := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventScheduleResolved, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: base.Add(time.Minute)}
	exhausted := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventScheduleResolved, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: base.Add(2 * time.Minute), AttemptCount: 5}
	for _, row := range []models.OutboxEvent{second, first, exhausted} {
		require.NoError(t, repo.Insert(conn, row))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, second.ID, rows[1].ID)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New("pubsub unavailable")))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "pubsub unavailable", *rows[0].LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("gave up"), 5))
	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	rows := []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventScheduleResolved, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &old},
		{ID: uuid.New(), EventType: enums.EventScheduleResolved, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &recent},
		{ID: uuid.New(), EventType: enums.EventScheduleResolved, AggregateType: enums.AggregateScheduleEntry, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)},
	}
	for _, row := range rows {
		require.NoError(t, repo.Insert(conn, row))
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
}

func TestDLQRepositoryClipsMessage(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventScheduleResolved,
		AggregateType: enums.AggregateScheduleEntry,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		AttemptCount:  3,
	}
	cause := errors.New(strings.Repeat("x", maxDLQErrorLen+100))
	require.NoError(t, dlq.InsertTx(conn, models.DeadLetter(event, enums.OutboxDLQReasonMaxAttempts, cause, time.Now().UTC())))

	var row models.OutboxDLQ
	require.NoError(t, conn.Where("event_id = ?", event.ID).First(&row).Error)
	assert.Equal(t, 3, row.AttemptCount)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, row.ErrorReason)
	require.NotNil(t, row.ErrorMessage)
	assert.Len(t, *row.ErrorMessage, maxDLQErrorLen)
}

func TestClipErrorKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", maxDLQErrorLen-1) + "é"
	clipped := clipError(msg)
	assert.Equal(t, maxDLQErrorLen-1, len(clipped))
	assert.True(t, utf8.ValidString(clipped))
	assert.Equal(t, "short", clipError("short"))
}
