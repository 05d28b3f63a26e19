package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reelcast-backend/internal/insights"
	"github.com/angelmondragon/reelcast-backend/internal/publishing/publishingtest"
	pkgAuth "github.com/angelmondragon/reelcast-backend/pkg/auth"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/retry"
)

type server struct {
	t       *testing.T
	h       *publishingtest.Harness
	cfg     *config.Config
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	h := publishingtest.New(t)
	insightsSvc, err := insights.NewService(insights.Params{
		History:     h.History,
		Credentials: h.Credentials,
		Registry:    h.Registry,
		Logger:      h.Logger,
		Retry:       retry.Policy{MaxAttempts: 1},
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "reelcast", ExpirationMinutes: 60},
	}
	handler := NewRouter(cfg, h.Logger, nil, nil, h.Service, h.Credentials, h.History, insightsSvc, nil, nil)
	return &server{t: t, h: h, cfg: cfg, handler: handler}
}

func (s *server) token(owner uuid.UUID) string {
	s.t.Helper()
	token, err := pkgAuth.NewTokens(s.cfg.JWT).Mint(owner, time.Now())
	require.NoError(s.t, err)
	return token
}

func (s *server) do(method, path string, owner uuid.UUID, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(owner))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Error.Code
}

func TestHealthLiveIsPublic(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/health/live", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Reelcast-Env"))
}

func TestHealthReadyWithoutDependencies(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/health/ready", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/api/v1/schedules", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishNowOverHTTP(t *testing.T) {
	s := newServer(t)
	owner := uuid.New()
	item := s.h.SeedMedia(t, owner)
	s.h.Connect(t, owner, enums.PlatformYouTube)

	rec := s.do(http.MethodPost, "/api/v1/publish", owner, map[string]any{
		"media_item_id": item.ID,
		"targets":       []map[string]any{{"platform": "youtube"}, {"platform": "tiktok"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Entry struct {
			ID    uuid.UUID `json:"id"`
			State string    `json:"state"`
		} `json:"entry"`
		Targets []struct {
			Platform string `json:"platform"`
			Status   string `json:"status"`
			Error    string `json:"error"`
		} `json:"targets"`
	}
	decodeData(t, rec, &result)
	assert.Equal(t, string(enums.ScheduleStatePartiallyFailed), result.Entry.State)
	require.Len(t, result.Targets, 2)

	byPlatform := map[string]string{}
	for _, target := range result.Targets {
		byPlatform[target.Platform] = target.Status
	}
	assert.Equal(t, string(enums.PublishStatusPublished), byPlatform["youtube"])
	assert.Equal(t, string(enums.PublishStatusFailed), byPlatform["tiktok"])

	history := s.do(http.MethodGet, "/api/v1/history/videos/"+item.ID.String(), owner, nil)
	require.Equal(t, http.StatusOK, history.Code, history.Body.String())
	var page struct {
		Items []struct {
			Platform string `json:"platform"`
		} `json:"items"`
	}
	decodeData(t, history, &page)
	assert.Len(t, page.Items, 2)

	stranger := s.do(http.MethodGet, "/api/v1/history/videos/"+item.ID.String(), uuid.New(), nil)
	require.Equal(t, http.StatusOK, stranger.Code)
	decodeData(t, stranger, &page)
	assert.Empty(t, page.Items)
}

func TestScheduleLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	owner := uuid.New()
	item := s.h.SeedMedia(t, owner)
	at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	created := s.do(http.MethodPost, "/api/v1/schedules", owner, map[string]any{
		"media_item_id": item.ID,
		"scheduled_at":  at,
		"targets":       []map[string]any{{"platform": "youtube", "tags": []string{"recap"}}},
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var entry struct {
		ID    uuid.UUID `json:"id"`
		State string    `json:"state"`
	}
	decodeData(t, created, &entry)
	assert.Equal(t, string(enums.ScheduleStateScheduled), entry.State)

	got := s.do(http.MethodGet, "/api/v1/schedules/"+entry.ID.String(), owner, nil)
	assert.Equal(t, http.StatusOK, got.Code)

	hidden := s.do(http.MethodGet, "/api/v1/schedules/"+entry.ID.String(), uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, hidden.Code)

	moved := s.do(http.MethodPost, "/api/v1/schedules/"+entry.ID.String()+"/reschedule", owner, map[string]any{
		"scheduled_at": at.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, moved.Code, moved.Body.String())
	var replacement struct {
		ID uuid.UUID `json:"id"`
	}
	decodeData(t, moved, &replacement)
	assert.NotEqual(t, entry.ID, replacement.ID)

	canceled := s.do(http.MethodPost, "/api/v1/schedules/"+replacement.ID.String()+"/cancel", owner, nil)
	require.Equal(t, http.StatusOK, canceled.Code, canceled.Body.String())
	decodeData(t, canceled, &entry)
	assert.Equal(t, string(enums.ScheduleStateCanceled), entry.State)

	again := s.do(http.MethodPost, "/api/v1/schedules/"+replacement.ID.String()+"/cancel", owner, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, again.Code)

	list := s.do(http.MethodGet, "/api/v1/schedules?state=canceled", owner, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var page struct {
		Items []struct {
			ID uuid.UUID `json:"id"`
		} `json:"items"`
	}
	decodeData(t, list, &page)
	assert.Len(t, page.Items, 2)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	s := newServer(t)
	owner := uuid.New()
	item := s.h.SeedMedia(t, owner)

	unknown := s.do(http.MethodPost, "/api/v1/schedules", owner, map[string]any{
		"media_item_id": item.ID,
		"targets":       []map[string]any{{"platform": "myspace"}},
	})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, unknown))

	empty := s.do(http.MethodPost, "/api/v1/schedules", owner, map[string]any{
		"media_item_id": item.ID,
		"targets":       []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	badID := s.do(http.MethodGet, "/api/v1/schedules/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusBadRequest, badID.Code)
}

func TestBillingDeniedOverHTTP(t *testing.T) {
	s := newServer(t)
	owner := uuid.New()
	item := s.h.SeedMedia(t, owner)
	s.h.Gate.Deny(true)

	rec := s.do(http.MethodPost, "/api/v1/publish", owner, map[string]any{
		"media_item_id": item.ID,
		"targets":       []map[string]any{{"platform": "youtube"}},
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "BILLING_DENIED", errorCode(t, rec))
}

func TestConnectionsOverHTTP(t *testing.T) {
	s := newServer(t)
	owner := uuid.New()

	authorize := s.do(http.MethodGet, "/api/v1/connections/tiktok/authorize", owner, nil)
	require.Equal(t, http.StatusOK, authorize.Code, authorize.Body.String())
	var consent struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}
	decodeData(t, authorize, &consent)
	assert.Contains(t, consent.URL, consent.State)

	connected := s.do(http.MethodPost, "/api/v1/connections/tiktok", owner, map[string]any{"code": "abc", "state": consent.State})
	require.Equal(t, http.StatusCreated, connected.Code, connected.Body.String())

	list := s.do(http.MethodGet, "/api/v1/connections", owner, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var conns struct {
		Items []struct {
			Platform string `json:"platform"`
		} `json:"items"`
	}
	decodeData(t, list, &conns)
	require.Len(t, conns.Items, 1)
	assert.Equal(t, "tiktok", conns.Items[0].Platform)

	removed := s.do(http.MethodDelete, "/api/v1/connections/tiktok", owner, nil)
	assert.Equal(t, http.StatusOK, removed.Code)

	unsupported := s.do(http.MethodPost, "/api/v1/connections/myspace", owner, map[string]any{"code": "abc"})
	assert.Equal(t, http.StatusBadRequest, unsupported.Code)
}

func TestRecordStatusOverHTTP(t *testing.T) {
	s := newServer(t)
	owner := uuid.New()
	item := s.h.SeedMedia(t, owner)
	s.h.Connect(t, owner, enums.PlatformYouTube)

	rec := s.do(http.MethodPost, "/api/v1/publish", owner, map[string]any{
		"media_item_id": item.ID,
		"targets":       []map[string]any{{"platform": "youtube"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Targets []struct {
			RecordID uuid.UUID `json:"record_id"`
		} `json:"targets"`
	}
	decodeData(t, rec, &result)
	require.Len(t, result.Targets, 1)

	status := s.do(http.MethodGet, "/api/v1/history/records/"+result.Targets[0].RecordID.String()+"/status", owner, nil)
	require.Equal(t, http.StatusOK, status.Code, status.Body.String())

	analytics := s.do(http.MethodGet, "/api/v1/history/records/"+result.Targets[0].RecordID.String()+"/analytics", owner, nil)
	require.Equal(t, http.StatusOK, analytics.Code, analytics.Body.String())
}
