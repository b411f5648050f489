// Package lock defines the file lock domain types used for conflict
// prevention between concurrently running agents.
package lock

import (
	"fmt"
	"time"
)

// FileLock is an exclusive claim on a file path by a single agent.
type FileLock struct {
	Path       string    `json:"path"`
	AgentID    string    `json:"agent_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockedError is returned when a path is already held by another agent.
type LockedError struct {
	Path   string
	HeldBy string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("file %s is locked by agent %s", e.Path, e.HeldBy)
}
