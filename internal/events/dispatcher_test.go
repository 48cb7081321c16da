package events

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	published := Event{
		Type:        TypeSnapshotCreated,
		SnapshotID:  7,
		Name:        "activity-20260314T120000.000000000",
		RecordCount: 3,
		Timestamp:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	dispatcher.Publish(published)

	select {
	case received := <-stream:
		if received != published {
			t.Fatalf("unexpected event: %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestDispatcherCleanupClosesStream(t *testing.T) {
	dispatcher := NewDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background())
	cleanup()

	select {
	case _, open := <-stream:
		if open {
			t.Fatalf("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected stream to close")
	}

	if count := dispatcher.SubscriberCount(); count != 0 {
		t.Fatalf("expected no subscribers, got %d", count)
	}
}

func TestDispatcherContextCancellationUnsubscribes(t *testing.T) {
	dispatcher := NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if dispatcher.SubscriberCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected cancellation to remove the subscriber")
}

func TestDispatcherSkipsSlowSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	// Fill the buffer without draining; extra publishes must not block.
	for i := 0; i < 64; i++ {
		dispatcher.Publish(Event{Type: TypeSnapshotDeleted, SnapshotID: int64(i)})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received == 0 {
				t.Fatalf("expected buffered events")
			}
			if received > 16 {
				t.Fatalf("expected overflow to be dropped, received %d", received)
			}
			return
		}
	}
}
