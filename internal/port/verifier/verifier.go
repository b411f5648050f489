// Package verifier defines the verification-agent collaborator port.
package verifier

import (
	"context"

	"github.com/kriptik-ai/devmode/internal/domain/verification"
)

// Input is the material handed to a verification agent.
type Input struct {
	ProjectID string               `json:"project_id"`
	SessionID string               `json:"session_id"`
	Feature   verification.Feature `json:"feature"`
	CodeFiles map[string]string    `json:"code_files,omitempty"`
	Intent    string               `json:"intent,omitempty"`
}

// Verifier runs one kind of automated check against a change.
type Verifier interface {
	Verify(ctx context.Context, in Input) (verification.AgentResult, error)
}

// Registry resolves verification agent types to their collaborators.
type Registry interface {
	Lookup(t verification.AgentType) (Verifier, bool)
}
