package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tally/internal/activity"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&activity.Record{}, &Snapshot{}, &Record{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestManager(t *testing.T, clock *fakeClock) (*Manager, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	manager, err := NewManager(ManagerConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct manager: %v", err)
	}
	return manager, db
}

func seedActivity(t *testing.T, db *gorm.DB, userID, channelID string, count int64) {
	t.Helper()
	record := activity.Record{
		UserID:       userID,
		ChannelID:    channelID,
		Username:     userID + "-name",
		Roles:        "member",
		ChannelName:  channelID + "-name",
		MessageCount: count,
		LastMessage:  time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed activity: %v", err)
	}
}

func mustCreate(t *testing.T, manager *Manager) *Created {
	t.Helper()
	created, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}
	if created == nil {
		t.Fatalf("expected a snapshot, got empty-store no-op")
	}
	return created
}
