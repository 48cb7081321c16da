package database

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tally/internal/activity"
	"github.com/MarcoPoloResearchLab/tally/internal/snapshot"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&activity.Record{}, &snapshot.Snapshot{}, &snapshot.Record{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestApplyMigrationsNormalizesRoleLists(t *testing.T) {
	db := newMigrationTestDB(t)

	legacy := activity.Record{
		UserID:       "user-1",
		ChannelID:    "chan-1",
		Username:     "alice",
		Roles:        "moderator, member",
		ChannelName:  "general",
		MessageCount: 3,
		LastMessage:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored activity.Record
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if stored.Roles != "moderator,member" {
		t.Fatalf("expected normalized roles, got %q", stored.Roles)
	}

	var ledger migrationRecord
	if err := db.Where("name = ?", migrationNormalizeRoleLists).Take(&ledger).Error; err != nil {
		t.Fatalf("expected ledger entry: %v", err)
	}
	if ledger.AppliedAtSeconds <= 0 {
		t.Fatalf("expected applied timestamp, got %d", ledger.AppliedAtSeconds)
	}
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var first migrationRecord
	if err := db.Where("name = ?", migrationNormalizeRoleLists).Take(&first).Error; err != nil {
		t.Fatalf("expected ledger entry: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count ledger entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single ledger entry, got %d", count)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	path := t.TempDir() + "/tally.db"
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	for _, model := range []interface{}{&activity.Record{}, &snapshot.Snapshot{}, &snapshot.Record{}} {
		var count int64
		if err := db.Model(model).Count(&count).Error; err != nil {
			t.Fatalf("expected migrated table for %T: %v", model, err)
		}
	}
}
