package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

type txProbe struct {
	ID    int
	Label string
}

func openProbeDB(t *testing.T, gormLog gormlogger.Interface) *Client {
	t.Helper()
	if gormLog == nil {
		gormLog = gormlogger.Discard
	}
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormLog,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(&txProbe{}); err != nil {
		t.Fatalf("migrate probe: %v", err)
	}
	return FromGorm(conn)
}

func countProbes(t *testing.T, client *Client) int64 {
	t.Helper()
	var n int64
	if err := client.DB().Model(&txProbe{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := openProbeDB(t, nil)
	ctx := context.Background()

	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&txProbe{Label: "claimed"}).Error
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&txProbe{Label: "discarded"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if got := countProbes(t, client); got != 1 {
		t.Fatalf("expected 1 committed row, got %d", got)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := openProbeDB(t, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&txProbe{Label: "half-written"}).Error; err != nil {
				return err
			}
			panic("adapter exploded")
		})
	}()

	if got := countProbes(t, client); got != 0 {
		t.Fatalf("expected rollback after panic, got %d rows", got)
	}
}

func TestPingAndClose(t *testing.T) {
	client := openProbeDB(t, nil)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected ping after close to fail")
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{}, logger.Nop()); err == nil {
		t.Fatal("expected error without DSN")
	}
}

func TestQueryLoggerReportsFailuresButNotMisses(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf})
	client := openProbeDB(t, newQueryLogger(logg, time.Hour))

	var probe txProbe
	err := client.DB().First(&probe, 42).Error
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("record-not-found should not be logged: %s", buf.String())
	}

	_ = client.DB().Exec("SELECT * FROM missing_table").Error
	if !strings.Contains(buf.String(), "db.query_failed") || !strings.Contains(buf.String(), "missing_table") {
		t.Fatalf("expected failed query log with sql, got %s", buf.String())
	}
}

func TestQueryLoggerFlagsSlowQueries(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf})
	ql := newQueryLogger(logg, time.Millisecond)

	ql.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	if !strings.Contains(buf.String(), "db.query_slow") {
		t.Fatalf("expected slow query log, got %s", buf.String())
	}

	buf.Reset()
	ql.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	if buf.Len() != 0 {
		t.Fatalf("silent mode should suppress output, got %s", buf.String())
	}
}
