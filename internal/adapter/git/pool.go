// Package git implements the merge collaborator on top of the git CLI.
package git

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// pool limits concurrent git CLI invocations with a weighted semaphore, so a
// burst of merge executions cannot exhaust the host with git subprocesses.
type pool struct {
	sem *semaphore.Weighted
}

func newPool(limit int) *pool {
	if limit < 1 {
		limit = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(limit))}
}

// run acquires a slot, runs fn, and releases the slot. Returns ctx.Err() if
// the context is cancelled while waiting.
func (p *pool) run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
