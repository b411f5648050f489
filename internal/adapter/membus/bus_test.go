package membus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
)

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got [2][]event.Event
	for i := 0; i < 2; i++ {
		i := i
		cancel := b.Subscribe(nil, func(ev event.Event) {
			mu.Lock()
			got[i] = append(got[i], ev)
			mu.Unlock()
		})
		defer cancel()
	}

	b.Publish(event.Event{Type: "agent:created", SessionID: "s1"})
	b.Publish(event.Event{Type: "agent:progress", SessionID: "s1"})

	waitFor(t, time.Second, "delivery to both subscribers", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[0]) == 2 && len(got[1]) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 2; i++ {
		if got[i][0].Type != "agent:created" || got[i][1].Type != "agent:progress" {
			t.Errorf("subscriber %d saw %v", i, got[i])
		}
	}
}

func TestSubscribeFilter(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []event.Event
	cancel := b.Subscribe(eventbus.BySession("s1"), func(ev event.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	defer cancel()

	b.Publish(event.Event{Type: "agent:created", SessionID: "s2"})
	b.Publish(event.Event{Type: "agent:created", SessionID: "s1"})
	b.Publish(event.Event{Type: "agent:log", SessionID: "s2"})

	waitFor(t, time.Second, "filtered delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].SessionID != "s1" {
		t.Errorf("got event for session %s", got[0].SessionID)
	}
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	const n = 200
	var mu sync.Mutex
	var got []string
	cancel := b.Subscribe(nil, func(ev event.Event) {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	})
	defer cancel()

	for i := 0; i < n; i++ {
		b.Publish(event.Event{ID: fmt.Sprintf("%04d", i), Type: "agent:log"})
	}

	waitFor(t, 2*time.Second, "all events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("out of order at %d: %s after %s", i, got[i], got[i-1])
		}
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	b := New(WithBuffer(1))
	defer b.Close()

	block := make(chan struct{})
	cancel := b.Subscribe(nil, func(event.Event) { <-block })
	defer cancel()
	defer close(block)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish(event.Event{Type: "agent:log"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	cancel := b.Subscribe(nil, func(event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(event.Event{Type: "agent:log"})
	waitFor(t, time.Second, "first delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	cancel()
	cancel() // idempotent
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d after cancel", b.SubscriberCount())
	}

	b.Publish(event.Event{Type: "agent:log"})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("count = %d after cancel, want 1", count)
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New()
	cancel := b.Subscribe(nil, func(event.Event) {})
	defer cancel()

	b.Close()
	b.Close() // idempotent

	// Must not panic or deliver.
	b.Publish(event.Event{Type: "agent:log"})
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after close", b.SubscriberCount())
	}
}
