// Package eventbus fans out worker lifecycle/progress events to HTTP/SSE
// subscribers. Per-publisher ordering is FIFO; slow
// subscribers are dropped rather than allowed to back-pressure the
// Worker.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event kinds the Worker and Server publish.
type Type string

const (
	JobStarted      Type = "job_started"
	ChapterStarted  Type = "chapter_started"
	ChapterComplete Type = "chapter_completed"
	JobCompleted    Type = "job_completed"
	JobFailed       Type = "job_failed"
	QueuePaused     Type = "queue_paused"
	QueueResumed    Type = "queue_resumed"
)

// subscriberCapacity bounds each subscriber's channel.
const subscriberCapacity = 100

// Event is one published message: a type, a JSON-encodable payload, and
// an id/timestamp. The id travels inside the JSON payload only; no SSE
// "id:" line is written, so Last-Event-ID resumption is not supported.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalSSE renders the event as an "event: <type>\ndata: <json>\n\n"
// SSE frame.
func (e Event) MarshalSSE() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := append([]byte("event: "+string(e.Type)+"\ndata: "), payload...)
	out = append(out, '\n', '\n')
	return out, nil
}

// Bus is a single-process fan-out of published events to bounded
// per-subscriber channels.
type Bus struct {
	mu   sync.Mutex
	subs map[int64]chan Event
	next int64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int64]chan Event)}
}

// Subscribe registers a new bounded channel and returns it along with an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberCapacity)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish sends an event to every current subscriber. A subscriber whose
// channel is full is dropped (unregistered) rather than allowed to block
// the publisher.
func (b *Bus) Publish(typ Type, data any) {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

// SubscriberCount reports the current number of live subscribers; only
// tests call it.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
