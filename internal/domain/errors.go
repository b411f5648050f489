// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition indicates a state transition that the entity's
// lifecycle does not allow. State is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrSessionNotActive indicates an operation that requires an active session
// was attempted against a paused or ended one.
var ErrSessionNotActive = errors.New("session is not active")

// ErrSessionEnded indicates an operation was attempted against an ended
// session. Ended is absorbing; nothing can be mutated afterwards.
var ErrSessionEnded = errors.New("session has ended")

// ErrAgentRunning indicates a mutation that requires the agent to be stopped
// first (for example deletion) was attempted while it is still running.
var ErrAgentRunning = errors.New("agent is running")

// ErrMergeInProgress indicates another merge entry is already executing for
// the same session. The caller should retry after it settles.
var ErrMergeInProgress = errors.New("merge already in progress for session")

// ErrBudgetExceeded indicates the estimated credit cost would exceed the
// session's remaining budget.
var ErrBudgetExceeded = errors.New("session budget exceeded")
