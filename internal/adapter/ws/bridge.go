package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
)

// Bridge subscribes the hub to the event bus so every orchestrator event
// reaches connected clients. Clients filter by session_id/agent_id in the
// payload. The returned cancel function detaches the bridge.
func (h *Hub) Bridge(bus eventbus.Bus) func() {
	return bus.Subscribe(nil, func(ev event.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal ws event", "type", ev.Type, "error", err)
			return
		}
		h.Broadcast(context.Background(), Message{
			Type:    string(ev.Type),
			Payload: data,
		})
	})
}
