// Package session defines the Session domain entity: one developer-mode
// working context bound to a project and a user.
package session

import (
	"fmt"
	"time"
)

// Status represents the current state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// CanTransition reports whether a session may move from its current status
// to the target. Ended is absorbing.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusActive:
		return to == StatusPaused || to == StatusEnded
	case StatusPaused:
		return to == StatusActive || to == StatusEnded
	case StatusEnded:
		return false
	}
	return false
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool { return s == StatusEnded }

// Session represents one developer-mode working context.
type Session struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	UserID           string    `json:"user_id"`
	DefaultModel     string    `json:"default_model"`
	VerificationMode string    `json:"verification_mode"`
	AutoMergeEnabled bool      `json:"auto_merge_enabled"`
	BaseBranch       string    `json:"base_branch"`
	BudgetLimit      int       `json:"budget_limit"`
	CreditsSpent     int       `json:"credits_spent"`
	Status           Status    `json:"status"`
	AgentIDs         []string  `json:"agent_ids"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StartRequest holds the fields needed to start a new session.
type StartRequest struct {
	ProjectID        string `json:"project_id"`
	UserID           string `json:"user_id"`
	DefaultModel     string `json:"default_model,omitempty"`
	VerificationMode string `json:"verification_mode,omitempty"`
	AutoMergeEnabled bool   `json:"auto_merge_enabled,omitempty"`
	BaseBranch       string `json:"base_branch,omitempty"`
	BudgetLimit      int    `json:"budget_limit,omitempty"`
}

// Validate checks that a StartRequest carries its required fields.
func (r *StartRequest) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.BudgetLimit < 0 {
		return fmt.Errorf("budget_limit must not be negative")
	}
	return nil
}

// ConfigPatch holds the mutable configuration fields of a session.
// Nil fields are left unchanged.
type ConfigPatch struct {
	DefaultModel     *string `json:"default_model,omitempty"`
	VerificationMode *string `json:"verification_mode,omitempty"`
	AutoMergeEnabled *bool   `json:"auto_merge_enabled,omitempty"`
	BudgetLimit      *int    `json:"budget_limit,omitempty"`
}
