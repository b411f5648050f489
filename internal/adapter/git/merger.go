package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kriptik-ai/devmode/internal/port/vcs"
)

// Merger lands approved diffs on the working tree with the git CLI. Each
// merge applies the diff on a scratch branch, commits it, and fast-forwards
// the base branch.
type Merger struct {
	workDir string
	pool    *pool
}

// NewMerger creates a Merger rooted at workDir, allowing at most maxOps
// concurrent git invocations.
func NewMerger(workDir string, maxOps int) *Merger {
	return &Merger{workDir: workDir, pool: newPool(maxOps)}
}

// ApplyMerge lands one approved change. The whole sequence runs inside a
// pool slot so concurrent merges from different sessions serialize at the
// process level.
func (m *Merger) ApplyMerge(ctx context.Context, req vcs.MergeRequest) error {
	if req.BaseBranch == "" {
		return fmt.Errorf("merge %s: base branch is required", req.MergeID)
	}
	if strings.TrimSpace(req.Diff) == "" {
		return fmt.Errorf("merge %s: diff is empty", req.MergeID)
	}

	return m.pool.run(ctx, func() error {
		branch := "devmode/merge-" + req.MergeID

		if err := m.git(ctx, "checkout", "-B", branch, req.BaseBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", branch, err)
		}

		diffFile, err := m.writeDiff(req)
		if err != nil {
			return err
		}
		defer func() { _ = os.Remove(diffFile) }()

		if err := m.git(ctx, "apply", "--index", diffFile); err != nil {
			// Leave the tree on the base branch for the next attempt.
			_ = m.git(context.WithoutCancel(ctx), "checkout", req.BaseBranch)
			return fmt.Errorf("apply diff: %w", err)
		}

		title := req.Title
		if title == "" {
			title = "devmode merge " + req.MergeID
		}
		if err := m.git(ctx, "commit", "-m", title); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		if err := m.git(ctx, "checkout", req.BaseBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", req.BaseBranch, err)
		}
		if err := m.git(ctx, "merge", "--ff-only", branch); err != nil {
			return fmt.Errorf("merge %s: %w", branch, err)
		}

		_ = m.git(ctx, "branch", "-D", branch)
		return nil
	})
}

func (m *Merger) writeDiff(req vcs.MergeRequest) (string, error) {
	f, err := os.CreateTemp("", "devmode-merge-*.diff")
	if err != nil {
		return "", fmt.Errorf("create diff file: %w", err)
	}
	if _, err := f.WriteString(req.Diff); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write diff file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close diff file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}

func (m *Merger) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
