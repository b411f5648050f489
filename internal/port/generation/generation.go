// Package generation defines the model-generation collaborator port. The
// orchestrator treats generation as an opaque stream and must handle
// mid-stream failure.
package generation

import "context"

// ChunkType distinguishes stream chunk kinds.
type ChunkType string

const (
	ChunkText   ChunkType = "text"
	ChunkStatus ChunkType = "status"
)

// Chunk is one element of a generation stream. Status chunks report step
// boundaries and the files the step is about to write.
type Chunk struct {
	Type     ChunkType `json:"type"`
	Content  string    `json:"content,omitempty"`
	Model    string    `json:"model,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	Step     string    `json:"step,omitempty"`
	Files    []string  `json:"files,omitempty"`
	Done     bool      `json:"done,omitempty"`
}

// Request describes one generation call.
type Request struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Context      string `json:"context,omitempty"`
	Model        string `json:"model"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
}

// Stream yields generation chunks. Recv blocks until the next chunk, the
// stream ends (io.EOF), or it fails mid-stream with the underlying error.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Service is the model-generation collaborator.
type Service interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}
