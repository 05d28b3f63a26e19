package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/publishing/publishingtest"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
)

type gormTx struct{ db *gorm.DB }

func newReaper(t *testing.T, h *publishingtest.Harness) *StaleReaperJob {
	t.Helper()
	job, err := NewStaleReaperJob(StaleReaperParams{
		Logger:    logger.Nop(),
		DB:        gormTx{h.DB},
		Schedules: h.Schedules,
		History:   h.History,
		Outbox:    outbox.NewService(h.Outbox, logger.Nop()),
	})
	require.NoError(t, err)
	return job
}

func claimedAt(t *testing.T, h *publishingtest.Harness, id uuid.UUID, at time.Time) {
	t.Helper()
	require.NoError(t, h.DB.Model(&models.ScheduleEntry{}).Where("id = ?", id).Update("claimed_at", at).Error)
}

func resolvedEvent(t *testing.T, h *publishingtest.Harness) payloads.ScheduleResolvedEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, h.DB.Where("event_type = ?", enums.EventScheduleResolved).First(&row).Error)
	var env outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	var event payloads.ScheduleResolvedEvent
	require.NoError(t, json.Unmarshal(env.Data, &event))
	return event
}

func (g gormTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

func TestStaleReaperFailsAbandonedClaims(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)

	stale := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStatePublishing, nil, enums.PlatformYouTube)
	fresh := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStatePublishing, nil, enums.PlatformYouTube)
	claimedAt(t, h, stale.ID, time.Now().UTC().Add(-3*time.Hour))
	claimedAt(t, h, fresh.ID, time.Now().UTC().Add(-10*time.Minute))

	job := newReaper(t, h)
	require.NoError(t, job.Run(context.Background()))

	got := h.Entry(t, stale.ID)
	assert.Equal(t, enums.ScheduleStateFailed, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "youtube: publishing interrupted", *got.LastError)
	records := h.Records(t, stale.ID)
	require.Len(t, records, 1)
	assert.Equal(t, enums.PublishStatusFailed, records[0].Status)
	assert.Equal(t, "publishing interrupted", *records[0].ErrorMessage)
	assert.Equal(t, enums.ScheduleStatePublishing, h.Entry(t, fresh.ID).State)
	assert.EqualValues(t, 1, h.CountEvents(t, enums.EventScheduleResolved))
	assert.Zero(t, h.YouTube.Uploads())

	require.NoError(t, job.Run(context.Background()))
	assert.EqualValues(t, 1, h.CountEvents(t, enums.EventScheduleResolved))
}

func TestStaleReaperKeepsRecordedOutcomes(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)

	entry := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStatePublishing, nil, enums.PlatformYouTube, enums.PlatformTikTok)
	claimedAt(t, h, entry.ID, time.Now().UTC().Add(-3*time.Hour))
	itemID := "yt-123"
	published, err := h.History.Append(context.Background(), models.PublishRecord{
		ScheduleEntryID: entry.ID,
		VideoID:         item.ID,
		OwnerID:         ownerID,
		Platform:        enums.PlatformYouTube,
		Status:          enums.PublishStatusPublished,
		PlatformItemID:  &itemID,
		Attempts:        1,
	})
	require.NoError(t, err)

	require.NoError(t, newReaper(t, h).Run(context.Background()))

	got := h.Entry(t, entry.ID)
	assert.Equal(t, enums.ScheduleStatePartiallyFailed, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "tiktok: publishing interrupted", *got.LastError)

	records := h.Records(t, entry.ID)
	require.Len(t, records, len(entry.Targets))
	byPlatform := map[enums.Platform]enums.PublishStatus{}
	for _, rec := range records {
		byPlatform[rec.Platform] = rec.Status
	}
	assert.Equal(t, enums.PublishStatusPublished, byPlatform[enums.PlatformYouTube])
	assert.Equal(t, enums.PublishStatusFailed, byPlatform[enums.PlatformTikTok])

	event := resolvedEvent(t, h)
	assert.Equal(t, enums.ScheduleStatePartiallyFailed, event.State)
	require.Len(t, event.Outcomes, 2)
	for _, outcome := range event.Outcomes {
		assert.NotEqual(t, uuid.Nil, outcome.RecordID)
		if outcome.Platform == enums.PlatformYouTube {
			assert.Equal(t, published.ID, outcome.RecordID)
		}
	}
	assert.Zero(t, h.YouTube.Uploads()+h.TikTok.Uploads())
}

func TestStaleReaperCompletesFullyRecordedEntry(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)

	entry := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStatePublishing, nil, enums.PlatformTikTok)
	claimedAt(t, h, entry.ID, time.Now().UTC().Add(-3*time.Hour))
	itemID := "tt-9"
	_, err := h.History.Append(context.Background(), models.PublishRecord{
		ScheduleEntryID: entry.ID,
		VideoID:         item.ID,
		OwnerID:         ownerID,
		Platform:        enums.PlatformTikTok,
		Status:          enums.PublishStatusPublished,
		PlatformItemID:  &itemID,
	})
	require.NoError(t, err)

	require.NoError(t, newReaper(t, h).Run(context.Background()))

	got := h.Entry(t, entry.ID)
	assert.Equal(t, enums.ScheduleStateCompleted, got.State)
	assert.Nil(t, got.LastError)
	assert.Len(t, h.Records(t, entry.ID), 1)
}
