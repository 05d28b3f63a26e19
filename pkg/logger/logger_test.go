package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v (%s)", err, buf.String())
	}
	return entry
}

func TestErrorCarriesScopedFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "scheduler", Env: "test", Level: zerolog.DebugLevel, Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithScheduleEntryID(ctx, "entry-1")
	ctx = log.WithFields(ctx, map[string]any{"platform": "youtube", "attempt": 2})

	log.Error(ctx, "upload failed", errors.New("quota exceeded"))

	entry := decode(t, buf)
	for key, want := range map[string]any{
		"service":           "scheduler",
		"env":               "test",
		"request_id":        "req-123",
		"schedule_entry_id": "entry-1",
		"platform":          "youtube",
		"attempt":           float64(2),
		"error":             "quota exceeded",
	} {
		if entry[key] != want {
			t.Fatalf("%s = %v, want %v; entry=%s", key, entry[key], want, buf.String())
		}
	}
	if _, ok := entry["stack"]; !ok {
		t.Fatalf("expected stack on error; entry=%s", buf.String())
	}
}

func TestScopedFieldsDoNotLeakToParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	parent := log.WithPlatform(context.Background(), "tiktok")
	_ = log.WithUserID(parent, "owner-9")
	log.Info(parent, "connected")

	entry := decode(t, buf)
	if entry["platform"] != "tiktok" {
		t.Fatalf("expected parent field; entry=%s", buf.String())
	}
	if _, ok := entry["user_id"]; ok {
		t.Fatalf("child field leaked into parent; entry=%s", buf.String())
	}
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf, WarnStack: true}).Warn(context.Background(), "slow sweep")
	if !bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	New(Options{ServiceName: "test", Output: buf}).Warn(context.Background(), "slow sweep")
	if bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("expected no stack when warn stack disabled")
	}
}

func TestLevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.WarnLevel, Output: buf})
	log.Info(context.Background(), "hidden")
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info/debug to be filtered, got %s", buf.String())
	}

	nop := Nop()
	nop.Error(context.TODO(), "dropped", errors.New("x"))
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Console: true, Output: buf}).Info(context.Background(), "human readable")
	if !strings.Contains(buf.String(), "human readable") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestForAppReadsSettings(t *testing.T) {
	log := ForApp("api", config.AppConfig{Env: "prod", LogLevel: "error", LogWarnStack: true})
	if log.base.GetLevel() != zerolog.ErrorLevel {
		t.Fatalf("expected error level, got %v", log.base.GetLevel())
	}
	if !log.warnStack {
		t.Fatalf("expected warn stack enabled")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
