package events

import (
	"context"
	"sync"
	"time"
)

const (
	// TypeSnapshotCreated announces a freshly committed snapshot.
	TypeSnapshotCreated = "snapshot-created"
	// TypeSnapshotDeleted announces a removed snapshot.
	TypeSnapshotDeleted = "snapshot-deleted"
)

// Event describes one snapshot lifecycle transition.
type Event struct {
	Type        string    `json:"type"`
	SnapshotID  int64     `json:"snapshot_id"`
	Name        string    `json:"name,omitempty"`
	RecordCount int       `json:"record_count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Dispatcher fans snapshot lifecycle events out to in-process subscribers.
// Slow subscribers are skipped rather than blocking the publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	bufferSize  int
}

// NewDispatcher constructs an event dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]chan Event),
		bufferSize:  16,
	}
}

// Subscribe registers a listener whose stream is closed when the returned
// cleanup runs or the context ends.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan Event, d.bufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			if registered, ok := d.subscribers[id]; ok {
				delete(d.subscribers, id)
				close(registered)
			}
			d.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return stream, cleanup
}

// Publish delivers the event to every subscriber with buffer space.
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.subscribers {
		select {
		case stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}
