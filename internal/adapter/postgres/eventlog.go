package postgres

import (
	"context"
	"fmt"

	"github.com/kriptik-ai/devmode/internal/domain/event"
)

// AppendEvent persists one orchestrator event to the append-only event log.
func (s *Store) AppendEvent(ctx context.Context, ev *event.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, type, session_id, agent_id, merge_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Type, ev.SessionID, ev.AgentID, ev.MergeID, []byte(ev.Payload), ev.Time)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Type, err)
	}
	return nil
}

// ListEventsBySession returns the most recent events for a session, oldest
// first.
func (s *Store) ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, session_id, agent_id, merge_id, payload, created_at
		 FROM (SELECT * FROM events WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2) recent
		 ORDER BY created_at`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.SessionID, &ev.AgentID, &ev.MergeID, &payload, &ev.Time); err != nil {
			return nil, err
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
