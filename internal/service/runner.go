package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/lock"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/port/generation"
)

// errStalled marks a watchdog-triggered cancellation.
var errStalled = errors.New("agent made no progress within the stall window")

// taskOutput is what one completed generation run produced.
type taskOutput struct {
	text         strings.Builder
	touchedFiles []string
}

// runAgent drives one agent's task to a terminal state. It owns the
// generation stream, acquires file locks on step boundaries, honors pause and
// stop at every suspension point, and converts every failure into a recorded
// state instead of letting it escape.
func (o *Orchestrator) runAgent(ctx context.Context, st *agentState) {
	defer close(st.ctrl.done)

	if !st.tryTransition(agent.StatusRunning) {
		return // stopped before it ever started
	}
	cp := st.snapshot()
	fctx := context.WithoutCancel(ctx)

	_ = o.store.SaveAgent(fctx, &cp)
	o.emit(fctx, event.New(event.TypeAgentTaskStarted, cp.SessionID, map[string]any{
		"name": cp.Name, "model": cp.Model,
	}).WithAgent(cp.ID))
	st.logs.Append("info", "task started: "+cp.TaskPrompt)

	var lastProgress atomic.Int64
	lastProgress.Store(time.Now().UnixNano())
	if o.cfg.StallWindow > 0 {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go o.watchStall(watchCtx, st, &lastProgress)
	}

	out, err := o.generateWithRetries(ctx, st, &lastProgress)
	if err != nil {
		if ctx.Err() != nil && !st.ctrl.stalled.Load() {
			// Cooperative stop; stopAgentState finalizes the record.
			return
		}
		if st.ctrl.stalled.Load() {
			err = errStalled
		}
		o.failAgent(fctx, st, err)
		return
	}

	o.completeAgent(fctx, st, out)
}

// watchStall cancels the run when no progress has been observed for the
// configured window.
func (o *Orchestrator) watchStall(ctx context.Context, st *agentState, lastProgress *atomic.Int64) {
	interval := o.cfg.StallWindow / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastProgress.Load()))
			if idle >= o.cfg.StallWindow {
				st.ctrl.stalled.Store(true)
				st.ctrl.cancel()
				return
			}
		}
	}
}

// generateWithRetries calls the generation collaborator through the circuit
// breaker with bounded retries and exponential backoff. A mid-stream failure
// counts as a failed attempt.
func (o *Orchestrator) generateWithRetries(ctx context.Context, st *agentState, lastProgress *atomic.Int64) (*taskOutput, error) {
	snap := st.snapshot()
	req := generation.Request{
		Prompt:    snap.TaskPrompt,
		Model:     snap.Model,
		MaxTokens: snap.ThinkingBudget,
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			st.logs.Append("warn", fmt.Sprintf("generation attempt %d failed, retrying in %s: %v", attempt, backoff, lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := o.waitIfPaused(ctx, st); err != nil {
			return nil, err
		}

		// Model may have been switched between attempts.
		req.Model = st.snapshot().Model

		var stream generation.Stream
		err := o.breaker.Execute(func() error {
			var genErr error
			stream, genErr = o.gen.Generate(ctx, req)
			return genErr
		})
		if err != nil {
			lastErr = err
			continue
		}

		out, err := o.consumeStream(ctx, st, stream, lastProgress)
		_ = stream.Close()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("generation failed after %d retries: %w", o.cfg.MaxRetries, lastErr)
}

// consumeStream drains one generation stream. Status chunks mark step
// boundaries: locks for the step's files are acquired before the step's text
// is accepted. Returns io-level errors for the retry loop to handle.
func (o *Orchestrator) consumeStream(ctx context.Context, st *agentState, stream generation.Stream, lastProgress *atomic.Int64) (*taskOutput, error) {
	out := &taskOutput{}
	seen := make(map[string]bool)

	for {
		if err := o.waitIfPaused(ctx, st); err != nil {
			return nil, err
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		lastProgress.Store(time.Now().UnixNano())

		switch chunk.Type {
		case generation.ChunkStatus:
			for _, path := range chunk.Files {
				if seen[path] {
					continue
				}
				if err := o.acquireLock(ctx, st, path); err != nil {
					return nil, err
				}
				seen[path] = true
				out.touchedFiles = append(out.touchedFiles, path)
			}
			cp := st.update(func(a *agent.Agent) {
				if chunk.Step != "" {
					a.CurrentStep = chunk.Step
					a.StepsCompleted++
				}
				a.TouchedFiles = append([]string(nil), out.touchedFiles...)
				if a.StepsTotal > 0 {
					a.Progress = min(99, a.StepsCompleted*100/a.StepsTotal)
				} else {
					a.Progress = min(95, a.Progress+10)
				}
			})
			_ = o.store.SaveAgent(ctx, &cp)
			o.emit(ctx, event.New(event.TypeAgentProgress, cp.SessionID, map[string]any{
				"progress": cp.Progress, "step": cp.CurrentStep, "files": chunk.Files,
			}).WithAgent(cp.ID))

		case generation.ChunkText:
			out.text.WriteString(chunk.Content)
			st.logs.Append("info", chunk.Content)
			snap := st.snapshot()
			o.emit(ctx, event.New(event.TypeAgentLog, snap.SessionID, map[string]any{
				"level": "info", "message": chunk.Content,
			}).WithAgent(snap.ID))
		}

		if chunk.Done {
			return out, nil
		}
	}
}

// acquireLock claims a path for the agent, re-requesting with backoff while
// another agent holds it. Cancellable at every wait.
func (o *Orchestrator) acquireLock(ctx context.Context, st *agentState, path string) error {
	snap := st.snapshot()
	for {
		err := o.locks.Acquire(path, snap.ID)
		if err == nil {
			return nil
		}
		var locked *lock.LockedError
		if !errors.As(err, &locked) {
			return err
		}

		if o.metrics != nil {
			o.metrics.LockContention.Add(ctx, 1)
		}
		st.logs.Append("warn", fmt.Sprintf("waiting for lock on %s held by %s", path, locked.HeldBy))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.RetryBackoff):
		}
		if err := o.waitIfPaused(ctx, st); err != nil {
			return err
		}
	}
}

// waitIfPaused parks the loop while the pause flag is set. Returns the
// context error if the run is cancelled while parked.
func (o *Orchestrator) waitIfPaused(ctx context.Context, st *agentState) error {
	for st.ctrl.paused.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-st.ctrl.resume:
		}
	}
	return ctx.Err()
}

// failAgent records an unrecoverable failure: terminal status, locks
// released, error captured in the record and on the bus. Never panics or
// rethrows.
func (o *Orchestrator) failAgent(ctx context.Context, st *agentState, cause error) {
	if !st.tryTransition(agent.StatusFailed) {
		return // already finalized, e.g. stopped concurrently
	}
	cp := st.update(func(a *agent.Agent) { a.Error = cause.Error() })
	released := o.locks.ReleaseAll(cp.ID)
	st.logs.Append("error", cause.Error())

	_ = o.store.SaveAgent(ctx, &cp)
	o.emit(ctx, event.New(event.TypeAgentError, cp.SessionID, map[string]any{
		"error": cause.Error(), "released_locks": released,
	}).WithAgent(cp.ID))
	if o.metrics != nil {
		o.metrics.AgentsFailed.Add(ctx, 1)
	}
	slog.Error("agent failed", "agent_id", cp.ID, "error", cause)
}

// completeAgent finalizes a successful run: locks released, the output
// enqueued for merge, and verification run against the change. When the
// session has auto-merge enabled and verification passes, the entry is
// approved and executed immediately.
func (o *Orchestrator) completeAgent(ctx context.Context, st *agentState, out *taskOutput) {
	if !st.tryTransition(agent.StatusCompleted) {
		return
	}
	cp := st.update(func(a *agent.Agent) {
		a.Progress = 100
		a.CurrentStep = ""
		a.TouchedFiles = append([]string(nil), out.touchedFiles...)
	})
	released := o.locks.ReleaseAll(cp.ID)
	st.logs.Append("info", "task completed")

	_ = o.store.SaveAgent(ctx, &cp)
	o.emit(ctx, event.New(event.TypeAgentTaskCompleted, cp.SessionID, map[string]any{
		"touched_files": cp.TouchedFiles, "released_locks": released,
	}).WithAgent(cp.ID))
	if o.metrics != nil {
		o.metrics.AgentsCompleted.Add(ctx, 1)
	}
	slog.Info("agent completed", "agent_id", cp.ID, "touched_files", len(cp.TouchedFiles))

	sess, ok := o.GetSession(cp.SessionID)
	if !ok {
		return
	}

	entry, err := o.queue.Enqueue(ctx, cp.SessionID, merge.Output{
		AgentID:      cp.ID,
		Title:        cp.Name,
		Diff:         out.text.String(),
		TouchedFiles: cp.TouchedFiles,
	})
	if err != nil {
		slog.Warn("enqueue merge after completion", "agent_id", cp.ID, "error", err)
		return
	}

	mode := verification.Mode(cp.VerificationMode)
	if mode == "" {
		mode = verification.Mode(sess.VerificationMode)
	}
	result := o.verify.Run(ctx, mode, sess.ProjectID, cp.SessionID, verification.Feature{
		ID:           cp.ID,
		Description:  cp.TaskPrompt,
		TouchedFiles: cp.TouchedFiles,
	}, nil, cp.TaskPrompt)

	o.queue.AttachVerification(ctx, entry.ID, result)

	if sess.AutoMergeEnabled && result.Passed && result.Verdict == verification.VerdictPass {
		if err := o.queue.Approve(ctx, entry.ID, "auto-merge"); err == nil {
			if err := o.queue.Execute(ctx, entry.ID, sess.BaseBranch); err != nil {
				slog.Warn("auto-merge execute", "merge_id", entry.ID, "error", err)
			}
		}
	}
}
