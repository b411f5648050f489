// Package nats bridges the orchestrator event bus to NATS JetStream so
// out-of-process consumers (notification fan-out, analytics, other product
// surfaces) can subscribe without holding a WebSocket open.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
)

const streamName = "DEVMODE"

// subjectPrefix is the root of all published subjects:
// devmode.events.<family>.<name>, e.g. devmode.events.agent.progress.
const subjectPrefix = "devmode.events"

// Bridge publishes orchestrator events to a JetStream stream.
type Bridge struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a NATS connection and ensures the stream exists.
func Connect(ctx context.Context, url string) (*Bridge, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Bridge{nc: nc, js: js}, nil
}

// Publish sends one event to its subject.
func (b *Bridge) Publish(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.js.Publish(ctx, Subject(ev.Type), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", Subject(ev.Type), err)
	}
	return nil
}

// Attach subscribes the bridge to the bus. Publish failures are logged, never
// propagated; a consumer must not fail a state transition.
func (b *Bridge) Attach(bus eventbus.Bus) func() {
	return bus.Subscribe(nil, func(ev event.Event) {
		if err := b.Publish(context.Background(), ev); err != nil {
			slog.Error("nats event publish failed", "type", ev.Type, "error", err)
		}
	})
}

// Drain gracefully drains the connection.
func (b *Bridge) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (b *Bridge) Close() error {
	b.nc.Close()
	return nil
}

// IsConnected reports whether the bridge is currently connected.
func (b *Bridge) IsConnected() bool {
	return b.nc.IsConnected()
}

// Subject maps an event type like "agent:progress" to a NATS subject like
// "devmode.events.agent.progress".
func Subject(t event.Type) string {
	name := strings.ReplaceAll(string(t), ":", ".")
	return subjectPrefix + "." + name
}
