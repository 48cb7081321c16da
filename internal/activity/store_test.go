package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, clock func() time.Time) (*Store, *gorm.DB) {
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
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := NewStore(StoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func testMessage() Message {
	return Message{
		UserID:      "user-1",
		Username:    "alice",
		Roles:       []string{"moderator", "member"},
		ChannelID:   "chan-1",
		ChannelName: "general",
	}
}

func TestRecordMessageCreatesRecord(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store, db := newTestStore(t, func() time.Time { return now })

	if err := store.RecordMessage(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Record
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if stored.MessageCount != 1 {
		t.Fatalf("expected message count 1, got %d", stored.MessageCount)
	}
	if stored.Roles != "moderator,member" {
		t.Fatalf("unexpected roles serialization: %q", stored.Roles)
	}
	if !stored.LastMessage.Equal(now) {
		t.Fatalf("unexpected last message time: %v", stored.LastMessage)
	}
}

func TestRecordMessageAccumulatesAndOverwrites(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store, db := newTestStore(t, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		if err := store.RecordMessage(context.Background(), testMessage()); err != nil {
			t.Fatalf("unexpected error on message %d: %v", i, err)
		}
	}

	renamed := testMessage()
	renamed.Username = "alice-renamed"
	renamed.Roles = []string{"admin"}
	renamed.ChannelName = "general-renamed"
	if err := store.RecordMessage(context.Background(), renamed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Record
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if stored.MessageCount != 6 {
		t.Fatalf("expected message count 6, got %d", stored.MessageCount)
	}
	if stored.Username != "alice-renamed" {
		t.Fatalf("expected last-supplied username to win, got %q", stored.Username)
	}
	if stored.Roles != "admin" {
		t.Fatalf("expected last-supplied roles to win, got %q", stored.Roles)
	}
	if stored.ChannelName != "general-renamed" {
		t.Fatalf("expected last-supplied channel name to win, got %q", stored.ChannelName)
	}
}

func TestRecordMessageSeparatesChannels(t *testing.T) {
	store, db := newTestStore(t, nil)

	first := testMessage()
	second := testMessage()
	second.ChannelID = "chan-2"
	second.ChannelName = "random"

	if err := store.RecordMessage(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.RecordMessage(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int64
	if err := db.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records, got %d", count)
	}
}

func TestRecordMessageValidatesInput(t *testing.T) {
	store, _ := newTestStore(t, nil)

	tests := []struct {
		name     string
		mutate   func(*Message)
		sentinel error
	}{
		{name: "empty-user-id", mutate: func(m *Message) { m.UserID = "" }, sentinel: ErrInvalidUserID},
		{name: "blank-user-id", mutate: func(m *Message) { m.UserID = "   " }, sentinel: ErrInvalidUserID},
		{name: "empty-channel-id", mutate: func(m *Message) { m.ChannelID = "" }, sentinel: ErrInvalidChannelID},
		{name: "empty-username", mutate: func(m *Message) { m.Username = "" }, sentinel: ErrInvalidUsername},
		{name: "empty-channel-name", mutate: func(m *Message) { m.ChannelName = "" }, sentinel: ErrInvalidChannelName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage()
			tt.mutate(&msg)
			err := store.RecordMessage(context.Background(), msg)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestRecordMessageConcurrentUpsertsLoseNoIncrement(t *testing.T) {
	store, db := newTestStore(t, nil)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := store.RecordMessage(context.Background(), testMessage()); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Record
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if stored.MessageCount != workers*perWorker {
		t.Fatalf("expected message count %d, got %d", workers*perWorker, stored.MessageCount)
	}
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatalf("expected error for missing database")
	}
}
