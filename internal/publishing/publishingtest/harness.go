// Package publishingtest wires the whole publishing pipeline on SQLite with fake adapters.
package publishingtest

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/billing"
	"github.com/angelmondragon/reelcast-backend/internal/credentials"
	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/media"
	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/internal/platforms/platformstest"
	"github.com/angelmondragon/reelcast-backend/internal/publishing"
	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/dbtest"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/retry"
	"github.com/angelmondragon/reelcast-backend/pkg/security"
)

// Gate is a billing gate whose answer tests flip at will.
type Gate struct {
	deny atomic.Bool
}

func (g *Gate) Deny(v bool) { g.deny.Store(v) }

func (g *Gate) MayPublish(context.Context, uuid.UUID) (bool, error) {
	return !g.deny.Load(), nil
}

type Harness struct {
	DB          *gorm.DB
	YouTube     *platformstest.Adapter
	TikTok      *platformstest.Adapter
	Registry    *platforms.Registry
	Credentials credentials.Store
	History     history.Store
	Catalog     media.Catalog
	Schedules   schedules.Repository
	Outbox      *outbox.Repository
	Gate        *Gate
	Executor    *publishing.Executor
	Service     publishing.Service
	Logger      *logger.Logger
}

// New builds a harness with youtube and tiktok registered. Retries back off for a
// millisecond so rate-limited fakes do not slow tests down.
func New(t *testing.T) *Harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.Nop()

	yt := platformstest.New(enums.PlatformYouTube)
	tt := platformstest.New(enums.PlatformTikTok)
	registry, err := platforms.NewRegistry(yt, tt)
	require.NoError(t, err)

	cipher, err := security.NewTokenCipher(config.CryptoConfig{
		TokenEncryptionKey: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
	})
	require.NoError(t, err)

	outboxRepo := outbox.NewRepository(conn)
	events := outbox.NewService(outboxRepo, logg)

	creds, err := credentials.NewService(credentials.Params{
		DB:       conn,
		Repo:     credentials.NewRepository(conn),
		Registry: registry,
		Cipher:   cipher,
		Outbox:   events,
		Logger:   logg,
	})
	require.NoError(t, err)

	records, err := history.NewService(history.NewRepository(conn))
	require.NoError(t, err)
	catalog, err := media.NewService(media.NewRepository(conn))
	require.NoError(t, err)
	entries := schedules.NewRepository(conn)

	orchestrator, err := publishing.NewOrchestrator(publishing.OrchestratorParams{
		Registry:    registry,
		Credentials: creds,
		History:     records,
		Logger:      logg,
		Retry:       retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	executor, err := publishing.NewExecutor(publishing.ExecutorParams{
		DB:           conn,
		Schedules:    entries,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Outbox:       events,
		Logger:       logg,
	})
	require.NoError(t, err)

	gate := &Gate{}
	guard, err := billing.NewGuard(gate, false, logg)
	require.NoError(t, err)

	svc, err := publishing.NewService(publishing.ServiceParams{
		DB:        conn,
		Schedules: entries,
		Catalog:   catalog,
		Billing:   guard,
		Registry:  registry,
		History:   records,
		Executor:  executor,
		Outbox:    events,
		Logger:    logg,
	})
	require.NoError(t, err)

	return &Harness{
		DB:          conn,
		YouTube:     yt,
		TikTok:      tt,
		Registry:    registry,
		Credentials: creds,
		History:     records,
		Catalog:     catalog,
		Schedules:   entries,
		Outbox:      outboxRepo,
		Gate:        gate,
		Executor:    executor,
		Service:     svc,
		Logger:      logg,
	}
}

// SeedMedia stores a fetchable media item for ownerID.
func (h *Harness) SeedMedia(t *testing.T, ownerID uuid.UUID) models.MediaItem {
	t.Helper()
	item := models.MediaItem{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		MediaURL:  "https://cdn.example.test/" + uuid.NewString() + ".mp4",
		Title:     "Weekly recap",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.DB.Create(&item).Error)
	return item
}

// Connect stores a fresh credential for (ownerID, platform) through the connect flow.
func (h *Harness) Connect(t *testing.T, ownerID uuid.UUID, platform enums.Platform) {
	t.Helper()
	_, err := h.Credentials.Connect(context.Background(), ownerID, platform, "code-"+string(platform))
	require.NoError(t, err)
}

// SeedEntry inserts an entry in state with one target per platform, bypassing the service.
func (h *Harness) SeedEntry(t *testing.T, ownerID, mediaItemID uuid.UUID, state enums.ScheduleState, scheduledAt *time.Time, targets ...enums.Platform) models.ScheduleEntry {
	t.Helper()
	entry := models.ScheduleEntry{
		OwnerID:     ownerID,
		MediaItemID: mediaItemID,
		State:       state,
		ScheduledAt: scheduledAt,
	}
	for _, p := range targets {
		entry.Targets = append(entry.Targets, models.ScheduleTarget{Platform: p})
	}
	require.NoError(t, h.Schedules.Create(context.Background(), &entry))
	return entry
}

// Entry reloads an entry by id.
func (h *Harness) Entry(t *testing.T, id uuid.UUID) models.ScheduleEntry {
	t.Helper()
	entry, err := h.Schedules.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return *entry
}

// Records returns every publish record for an entry, oldest first.
func (h *Harness) Records(t *testing.T, entryID uuid.UUID) []history.Record {
	t.Helper()
	records, err := h.History.ListByEntry(context.Background(), entryID)
	require.NoError(t, err)
	return records
}

// CountEvents counts outbox rows of eventType.
func (h *Harness) CountEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.DB.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}
