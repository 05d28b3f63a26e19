package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reelcast-backend/internal/publishing"
	"github.com/angelmondragon/reelcast-backend/internal/publishing/publishingtest"
	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

type claimCounter struct {
	mu sync.Mutex
	n  int
}

func (c *claimCounter) AddClaimed(n int) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

func newSweep(t *testing.T, h *publishingtest.Harness, repo schedules.Repository, metrics claimRecorder) *DueSweepJob {
	t.Helper()
	if repo == nil {
		repo = h.Schedules
	}
	job, err := NewDueSweepJob(DueSweepParams{
		Logger:    logger.Nop(),
		Schedules: repo,
		Executor:  h.Executor,
		Metrics:   metrics,
	})
	require.NoError(t, err)
	return job
}

func hoursFromNow(h float64) *time.Time {
	at := time.Now().UTC().Add(time.Duration(h * float64(time.Hour)))
	return &at
}

func TestSweepFailsPastDueEntryWithoutCredential(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)
	entry := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(-1), enums.PlatformYouTube)
	counter := &claimCounter{}

	job := newSweep(t, h, nil, counter)
	claimed, err := job.Sweep(context.Background())
	require.NoError(t, err)
	job.Drain()
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 1, counter.n)

	got := h.Entry(t, entry.ID)
	assert.Equal(t, enums.ScheduleStateFailed, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "youtube: credential not found", *got.LastError)
	require.NotNil(t, got.ClaimedAt)
	require.NotNil(t, got.ScheduledAt)

	records := h.Records(t, entry.ID)
	require.Len(t, records, 1)
	assert.Equal(t, enums.PublishStatusFailed, records[0].Status)
	assert.Equal(t, "credential not found", *records[0].ErrorMessage)
	assert.Zero(t, h.YouTube.Uploads())
}

func TestSweepIgnoresCanceledEntries(t *testing.T) {
	h := publishingtest.New(t)
	ctx := context.Background()
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)
	h.Connect(t, ownerID, enums.PlatformYouTube)

	at := time.Now().Add(30 * time.Minute)
	entry, err := h.Service.SchedulePublish(ctx, ownerID, publishing.ScheduleInput{
		MediaItemID: item.ID,
		ScheduledAt: &at,
		Targets:     []publishing.TargetInput{{Platform: "youtube"}},
	})
	require.NoError(t, err)
	_, err = h.Service.CancelSchedule(ctx, ownerID, entry.ID)
	require.NoError(t, err)

	job := newSweep(t, h, nil, nil)
	job.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	claimed, err := job.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, claimed)
	assert.Equal(t, enums.ScheduleStateCanceled, h.Entry(t, entry.ID).State)
	assert.Empty(t, h.Records(t, entry.ID))
	assert.Zero(t, h.YouTube.Uploads())
}

func TestSweepLeavesNoPastDueEntryScheduled(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)
	h.Connect(t, ownerID, enums.PlatformYouTube)
	h.Connect(t, ownerID, enums.PlatformTikTok)

	var due []models.ScheduleEntry
	for _, offset := range []float64{-3, -1, -0.01} {
		due = append(due, h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(offset), enums.PlatformYouTube, enums.PlatformTikTok))
	}
	immediate := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateDueNow, nil, enums.PlatformTikTok)
	future := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(5), enums.PlatformYouTube)

	job := newSweep(t, h, nil, nil)
	claimed, err := job.Sweep(context.Background())
	require.NoError(t, err)
	job.Drain()
	assert.Equal(t, 4, claimed)

	for _, e := range append(due, immediate) {
		got := h.Entry(t, e.ID)
		assert.Equal(t, enums.ScheduleStateCompleted, got.State, "entry %s", e.ID)
		assert.Len(t, h.Records(t, e.ID), len(e.Targets))
	}
	assert.Equal(t, enums.ScheduleStateScheduled, h.Entry(t, future.ID).State)

	var stillDue int64
	require.NoError(t, h.DB.Model(&models.ScheduleEntry{}).
		Where("state = ? AND scheduled_at <= ?", enums.ScheduleStateScheduled, time.Now().UTC()).
		Count(&stillDue).Error)
	assert.Zero(t, stillDue)
}

func TestConcurrentSweepsDispatchEachEntryOnce(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)
	h.Connect(t, ownerID, enums.PlatformYouTube)

	const entries = 8
	ids := make([]uuid.UUID, 0, entries)
	for i := 0; i < entries; i++ {
		ids = append(ids, h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(-1), enums.PlatformYouTube).ID)
	}

	counter := &claimCounter{}
	sweeps := []*DueSweepJob{newSweep(t, h, nil, counter), newSweep(t, h, nil, counter), newSweep(t, h, nil, counter)}
	for round := 0; round < entries; round++ {
		var wg sync.WaitGroup
		var mu sync.Mutex
		roundClaims := 0
		for _, job := range sweeps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := job.Sweep(context.Background())
				assert.NoError(t, err)
				mu.Lock()
				roundClaims += n
				mu.Unlock()
			}()
		}
		wg.Wait()
		for _, job := range sweeps {
			job.Drain()
		}
		if roundClaims == 0 {
			break
		}
	}

	assert.Equal(t, entries, counter.n)
	assert.Equal(t, entries, h.YouTube.Uploads())
	for _, id := range ids {
		assert.Len(t, h.Records(t, id), 1)
		assert.Equal(t, enums.ScheduleStateCompleted, h.Entry(t, id).State)
	}
}

type failingDue struct {
	schedules.Repository
}

func (failingDue) ListDue(context.Context, time.Time, int) ([]models.ScheduleEntry, error) {
	return nil, errors.New("connection reset")
}

func TestSweepSkipsPassWhenQueryFails(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)
	entry := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(-1), enums.PlatformYouTube)

	_, err := newSweep(t, h, failingDue{h.Schedules}, nil).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, enums.ScheduleStateScheduled, h.Entry(t, entry.ID).State)
	assert.Empty(t, h.Records(t, entry.ID))
}

type blockingExecutor struct {
	release chan struct{}
	mu      sync.Mutex
	ran     []uuid.UUID
}

func (e *blockingExecutor) Execute(_ context.Context, entry models.ScheduleEntry) (*publishing.Execution, error) {
	e.mu.Lock()
	e.ran = append(e.ran, entry.ID)
	e.mu.Unlock()
	<-e.release
	return &publishing.Execution{Entry: entry}, nil
}

func (e *blockingExecutor) executed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ran)
}

func TestSweepClaimsOnlyFreeDispatchSlots(t *testing.T) {
	h := publishingtest.New(t)
	ownerID := uuid.New()
	item := h.SeedMedia(t, ownerID)
	first := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(-2), enums.PlatformYouTube)
	second := h.SeedEntry(t, ownerID, item.ID, enums.ScheduleStateScheduled, hoursFromNow(-1), enums.PlatformYouTube)

	exec := &blockingExecutor{release: make(chan struct{})}
	job, err := NewDueSweepJob(DueSweepParams{
		Logger:      logger.Nop(),
		Schedules:   h.Schedules,
		Executor:    exec,
		Concurrency: 1,
	})
	require.NoError(t, err)

	claimed, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, enums.ScheduleStatePublishing, h.Entry(t, first.ID).State)

	claimed, err = job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, claimed)
	assert.Equal(t, enums.ScheduleStateScheduled, h.Entry(t, second.ID).State)

	close(exec.release)
	job.Drain()

	claimed, err = job.Sweep(context.Background())
	require.NoError(t, err)
	job.Drain()
	assert.Equal(t, 1, claimed)
	assert.Equal(t, enums.ScheduleStatePublishing, h.Entry(t, second.ID).State)
	assert.Equal(t, 2, exec.executed())
}
