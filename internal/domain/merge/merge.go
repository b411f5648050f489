// Package merge defines the merge queue domain types: pending integrations of
// agent output awaiting approval and serialized execution.
package merge

import "time"

// Status represents the lifecycle state of a merge queue entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusFailed
}

// Entry is one pending integration of an agent's output into the project.
type Entry struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	AgentID         string     `json:"agent_id"`
	Title           string     `json:"title,omitempty"`
	Diff            string     `json:"diff,omitempty"`
	TouchedFiles    []string   `json:"touched_files,omitempty"`
	Status          Status     `json:"status"`
	VerificationRef string     `json:"verification_ref,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Output is the agent output handed to the queue on enqueue.
type Output struct {
	AgentID      string   `json:"agent_id"`
	Title        string   `json:"title,omitempty"`
	Diff         string   `json:"diff"`
	TouchedFiles []string `json:"touched_files,omitempty"`
}
