package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	scope := "owner:publish:owner-1"

	for i, want := range []bool{true, true, false} {
		allowed, count, err := client.FixedWindowAllow(ctx, scope, 2, time.Minute)
		if err != nil {
			t.Fatalf("hit %d: unexpected error: %v", i+1, err)
		}
		if allowed != want || count != int64(i+1) {
			t.Fatalf("hit %d: allowed=%v count=%d, want allowed=%v", i+1, allowed, count, want)
		}
	}
	key := client.RateLimitKey(scope)
	if got := mock.ttl[key]; got != time.Minute {
		t.Fatalf("expected window ttl on %s, got %v", key, got)
	}
	if mock.expireSets != 1 {
		t.Fatalf("window should be armed once, got %d", mock.expireSets)
	}
}

func TestFixedWindowAllowRearmsLostTTL(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.RateLimitKey("owner:publish:owner-2")
	mock.incr[key] = 5

	if _, _, err := client.FixedWindowAllow(ctx, "owner:publish:owner-2", 10, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.ttl[key] != time.Minute {
		t.Fatal("expected counter without ttl to be re-armed")
	}
}

func TestGetDelConsumesOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.OAuthStateKey("owner-1", "youtube")
	if err := client.Set(ctx, key, "state-1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := client.GetDel(ctx, key)
	if err != nil || got != "state-1" {
		t.Fatalf("expected state-1, got %q err=%v", got, err)
	}
	if _, err := client.GetDel(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil on second read, got %v", err)
	}
}

func TestSetNXGetDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.LockKey("credential-refresh", "owner-1", "youtube")
	ok, err := client.SetNX(ctx, key, "holder-a", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, key, "holder-b", 30*time.Second)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}
	holder, err := client.Get(ctx, key)
	if err != nil || holder != "holder-a" {
		t.Fatalf("unexpected holder %q err=%v", holder, err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.SetNX(context.Background(), "k", "v", time.Second); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "rc:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("publish:owner"); got != "rc:rate_limit:publish:owner" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("scheduler", "due-sweep"); got != "rc:lock:scheduler:due-sweep" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("scheduler", ""); got != "rc:lock:scheduler" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}
	if got := client.OAuthStateKey("owner-1", "tiktok"); got != "rc:oauth_state:owner-1:tiktok" {
		t.Fatalf("unexpected oauth state key %s", got)
	}
}

type mockCmdable struct {
	data       map[string]string
	incr       map[string]int64
	ttl        map[string]time.Duration
	expireSets int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
		ttl:  make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) GetDel(ctx context.Context, key string) *redis.StringCmd {
	cmd := m.Get(ctx, key)
	delete(m.data, key)
	return cmd
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) ExpireNX(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if _, armed := m.ttl[key]; armed {
		return redis.NewBoolResult(false, nil)
	}
	m.ttl[key] = expiration
	m.expireSets++
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
