package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
)

type memStates struct {
	data map[string]string
}

func newMemStates() *memStates {
	return &memStates{data: map[string]string{}}
}

func (m *memStates) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key], _ = value.(string)
	return nil
}

func (m *memStates) GetDel(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	delete(m.data, key)
	return v, nil
}

func (m *memStates) OAuthStateKey(ownerID, platform string) string {
	return ownerID + ":" + platform
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestVerifyStateConsumesIssuedState(t *testing.T) {
	states := newMemStates()
	owner := uuid.New()
	ctx := context.Background()
	if err := states.Set(ctx, stateKey(states, owner, enums.PlatformTikTok), "s-1", time.Minute); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if err := verifyState(ctx, states, owner, enums.PlatformTikTok, "s-1"); err != nil {
		t.Fatalf("expected state accepted, got %v", err)
	}
	err := verifyState(ctx, states, owner, enums.PlatformTikTok, "s-1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected replayed state rejected, got %v", err)
	}
}

func TestVerifyStateRejectsMismatch(t *testing.T) {
	states := newMemStates()
	owner := uuid.New()
	ctx := context.Background()
	_ = states.Set(ctx, stateKey(states, owner, enums.PlatformYouTube), "expected", time.Minute)

	if err := verifyState(ctx, states, owner, enums.PlatformYouTube, "forged"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected mismatch rejected, got %v", err)
	}
	if err := verifyState(ctx, states, owner, enums.PlatformYouTube, ""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected missing state rejected, got %v", err)
	}
	if err := verifyState(ctx, states, uuid.New(), enums.PlatformYouTube, "expected"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected other owner's state rejected, got %v", err)
	}
}

func TestVerifyStateDisabledWithoutStore(t *testing.T) {
	if err := verifyState(context.Background(), nil, uuid.New(), enums.PlatformTikTok, ""); err != nil {
		t.Fatalf("expected no check without a store, got %v", err)
	}
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	handler := HealthReady(cfg, nil, map[string]Pinger{"database": failingPinger{}})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestOwnerIDRequiresContext(t *testing.T) {
	_, err := ownerID(httptest.NewRequest(http.MethodGet, "/", nil))
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
