// Package eventbus defines the port by which internal state transitions
// become observable to external subscribers.
package eventbus

import "github.com/kriptik-ai/devmode/internal/domain/event"

// Filter selects which events a subscriber receives. A nil filter matches
// every event.
type Filter func(event.Event) bool

// Handler processes a delivered event. Handlers run on the subscriber's
// delivery goroutine, never on the publisher's.
type Handler func(event.Event)

// Bus is the publish/subscribe port. Publish is fire-and-forget: a slow or
// absent subscriber must never block a state transition.
type Bus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ev event.Event)

	// Subscribe registers a handler for events matching the filter.
	// The returned function cancels the subscription.
	Subscribe(filter Filter, handler Handler) (cancel func())
}

// BySession returns a filter matching events for one session.
func BySession(sessionID string) Filter {
	return func(ev event.Event) bool { return ev.SessionID == sessionID }
}

// ByAgent returns a filter matching events for one agent.
func ByAgent(agentID string) Filter {
	return func(ev event.Event) bool { return ev.AgentID == agentID }
}
