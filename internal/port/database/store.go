// Package database defines the persistence port. The orchestrator is
// in-memory authoritative; writes through this port are best-effort snapshots
// so state survives for audit and UI queries.
package database

import (
	"context"

	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/session"
)

// Store is the port interface for persistence operations.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessionsByUser(ctx context.Context, userID string, limit int) ([]session.Session, error)

	// Agents
	SaveAgent(ctx context.Context, a *agent.Agent) error
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgentsBySession(ctx context.Context, sessionID string) ([]agent.Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Merge queue
	SaveMergeEntry(ctx context.Context, e *merge.Entry) error
	ListMergeEntriesBySession(ctx context.Context, sessionID string) ([]merge.Entry, error)

	// Event log
	AppendEvent(ctx context.Context, ev *event.Event) error
	ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]event.Event, error)
}
