// Package agent defines the Agent domain entity: one autonomous coding task
// execution unit within a session.
package agent

import (
	"fmt"
	"time"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// CanTransition reports whether an agent may move from its current status to
// the target. Terminal states are absorbing.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusRunning || to == StatusStopped || to == StatusFailed
	case StatusRunning:
		return to == StatusPaused || to == StatusCompleted || to == StatusFailed || to == StatusStopped
	case StatusPaused:
		return to == StatusRunning || to == StatusStopped || to == StatusFailed
	}
	return false
}

// EffortLevel controls how much work an agent puts into a task.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

// Agent represents one deployed coding agent.
type Agent struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"session_id"`
	UserID           string      `json:"user_id"`
	Name             string      `json:"name"`
	TaskPrompt       string      `json:"task_prompt"`
	Model            string      `json:"model"`
	EffortLevel      EffortLevel `json:"effort_level"`
	ThinkingBudget   int         `json:"thinking_budget,omitempty"`
	VerificationMode string      `json:"verification_mode,omitempty"` // overrides session default when set
	Status           Status      `json:"status"`
	Progress         int         `json:"progress"` // 0-100
	CurrentStep      string      `json:"current_step,omitempty"`
	StepsCompleted   int         `json:"steps_completed"`
	StepsTotal       int         `json:"steps_total"`
	TouchedFiles     []string    `json:"touched_files,omitempty"`
	Error            string      `json:"error,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// DeployRequest holds the fields needed to deploy a new agent into a session.
type DeployRequest struct {
	Name             string      `json:"name"`
	TaskPrompt       string      `json:"task_prompt"`
	Model            string      `json:"model,omitempty"`
	EffortLevel      EffortLevel `json:"effort_level,omitempty"`
	ThinkingBudget   int         `json:"thinking_budget,omitempty"`
	VerificationMode string      `json:"verification_mode,omitempty"`
	Complexity       string      `json:"complexity,omitempty"` // for pre-flight credit estimation
}

// Validate checks that a DeployRequest carries its required fields.
func (r *DeployRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.TaskPrompt == "" {
		return fmt.Errorf("task_prompt is required")
	}
	switch r.EffortLevel {
	case "", EffortLow, EffortMedium, EffortHigh:
	default:
		return fmt.Errorf("invalid effort_level %q", r.EffortLevel)
	}
	return nil
}

// LogEntry is one line of agent output, ring-buffered per agent.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}
