// Package dbtest opens throwaway SQLite databases that mirror the Postgres schema closely
// enough for repository tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Schema holds the SQLite DDL for every table the services touch.
var Schema = []string{
	`CREATE TABLE media_items (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		media_url TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE schedule_entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		media_item_id TEXT NOT NULL,
		state TEXT NOT NULL,
		scheduled_at DATETIME,
		last_error TEXT,
		claimed_at DATETIME,
		completed_at DATETIME,
		canceled_at DATETIME,
		superseded_by TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE INDEX idx_schedule_entries_state_scheduled_at ON schedule_entries (state, scheduled_at)`,
	`CREATE TABLE schedule_targets (
		id TEXT PRIMARY KEY,
		schedule_entry_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		privacy TEXT,
		tags TEXT NOT NULL DEFAULT '{}',
		caption TEXT,
		created_at DATETIME,
		UNIQUE (schedule_entry_id, platform)
	)`,
	`CREATE TABLE platform_credentials (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at DATETIME NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		account_id TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (owner_id, platform)
	)`,
	`CREATE TABLE publish_records (
		id TEXT PRIMARY KEY,
		schedule_entry_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL,
		platform_item_id TEXT,
		published_url TEXT,
		error_message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		attempted_at DATETIME NOT NULL
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a private in-memory database with Schema applied. A single
// connection keeps concurrent goroutines from tripping over SQLITE_LOCKED.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
