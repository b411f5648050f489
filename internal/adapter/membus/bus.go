// Package membus implements the event bus port in-process. Each subscriber
// gets a buffered channel drained by its own goroutine, so publishers never
// wait on consumers.
package membus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
)

const defaultBuffer = 256

// subscriber is one registered handler with its delivery channel.
type subscriber struct {
	filter  eventbus.Filter
	ch      chan event.Event
	done    chan struct{}
	dropped atomic.Int64
}

// Bus is an in-memory multi-producer/multi-consumer event bus. Delivery to a
// subscriber whose buffer is full drops the event and counts it; per-subscriber
// delivery order otherwise matches publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[*subscriber]struct{}),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if sub.dropped.Add(1)%100 == 1 {
				slog.Warn("event bus subscriber buffer full, dropping",
					"type", ev.Type, "dropped_total", sub.dropped.Load())
			}
		}
	}
}

// Subscribe registers a handler. The handler runs on a dedicated goroutine
// until the returned cancel function is called or the bus is closed.
func (b *Bus) Subscribe(filter eventbus.Filter, handler eventbus.Handler) func() {
	sub := &subscriber{
		filter: filter,
		ch:     make(chan event.Event, b.buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				handler(ev)
			case <-sub.done:
				// Drain what is already buffered, then exit.
				for {
					select {
					case ev := <-sub.ch:
						handler(ev)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Close unregisters all subscribers. Pending buffered events are drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.done)
		delete(b.subs, sub)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
