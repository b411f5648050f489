// Package vcs defines the version-control collaborator port used by merge
// queue execution.
package vcs

import "context"

// MergeRequest carries the data needed to land one approved change.
type MergeRequest struct {
	SessionID  string   `json:"session_id"`
	MergeID    string   `json:"merge_id"`
	BaseBranch string   `json:"base_branch"`
	Title      string   `json:"title,omitempty"`
	Diff       string   `json:"diff"`
	Files      []string `json:"files,omitempty"`
}

// Merger applies an approved diff to the project working tree.
type Merger interface {
	ApplyMerge(ctx context.Context, req MergeRequest) error
}
