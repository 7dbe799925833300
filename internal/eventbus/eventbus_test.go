package eventbus

import (
	"strings"
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(JobStarted, map[string]any{"job_id": 1})

	select {
	case evt := <-ch:
		if evt.Type != JobStarted {
			t.Fatalf("expected job_started, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsSlowSubscriber(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()

	for i := 0; i < subscriberCapacity+5; i++ {
		b.Publish(ChapterStarted, nil)
	}

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected overflowed subscriber to be dropped, count=%d", b.SubscriberCount())
	}

	// Channel should be closed now.
	drained := 0
	for range ch {
		drained++
	}
	if drained != subscriberCapacity {
		t.Fatalf("expected channel to hold exactly %d buffered events, got %d", subscriberCapacity, drained)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	unsubscribe()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestMarshalSSEFraming(t *testing.T) {
	evt := Event{ID: "1", Type: JobCompleted, Data: map[string]any{"job_id": 42}, Timestamp: time.Unix(0, 0)}
	frame, err := evt.MarshalSSE()
	if err != nil {
		t.Fatalf("MarshalSSE: %v", err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, "event: job_completed\ndata: ") {
		t.Fatalf("unexpected frame prefix: %q", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Fatalf("expected frame to end with a blank line, got %q", s)
	}
}
