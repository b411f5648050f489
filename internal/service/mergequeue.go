package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kriptik-ai/devmode/internal/adapter/otel"
	"github.com/kriptik-ai/devmode/internal/domain"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/port/database"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
	"github.com/kriptik-ai/devmode/internal/port/vcs"
)

// MergeQueue holds pending integrations per session. Entries move
// queued -> approved -> executing -> {completed | failed} or
// queued -> rejected; execution is serialized per session and bounded
// globally.
type MergeQueue struct {
	store   database.Store
	bus     eventbus.Bus
	merger  vcs.Merger
	metrics *otel.Metrics
	sem     *semaphore.Weighted

	mu        sync.RWMutex
	entries   map[string]*merge.Entry
	bySession map[string][]string // insertion-ordered entry IDs
	execMu    map[string]*sync.Mutex
	closed    map[string]bool
}

// NewMergeQueue creates a merge queue. maxConcurrent bounds the number of
// merges executing across all sessions at once.
func NewMergeQueue(store database.Store, bus eventbus.Bus, merger vcs.Merger, metrics *otel.Metrics, maxConcurrent int64) *MergeQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &MergeQueue{
		store:     store,
		bus:       bus,
		merger:    merger,
		metrics:   metrics,
		sem:       semaphore.NewWeighted(maxConcurrent),
		entries:   make(map[string]*merge.Entry),
		bySession: make(map[string][]string),
		execMu:    make(map[string]*sync.Mutex),
		closed:    make(map[string]bool),
	}
}

func (q *MergeQueue) emit(ctx context.Context, ev event.Event) {
	ev.ID = uuid.NewString()
	q.bus.Publish(ev)
	_ = q.store.AppendEvent(ctx, &ev)
}

// Enqueue appends a queued entry for the session. Does not execute anything.
func (q *MergeQueue) Enqueue(ctx context.Context, sessionID string, out merge.Output) (*merge.Entry, error) {
	q.mu.Lock()
	if q.closed[sessionID] {
		q.mu.Unlock()
		return nil, domain.ErrSessionEnded
	}
	entry := &merge.Entry{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		AgentID:      out.AgentID,
		Title:        out.Title,
		Diff:         out.Diff,
		TouchedFiles: append([]string(nil), out.TouchedFiles...),
		Status:       merge.StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
	q.entries[entry.ID] = entry
	q.bySession[sessionID] = append(q.bySession[sessionID], entry.ID)
	cp := *entry
	q.mu.Unlock()

	_ = q.store.SaveMergeEntry(ctx, &cp)
	q.emit(ctx, event.New(event.TypeMergeQueued, sessionID, cp).WithMerge(cp.ID).WithAgent(cp.AgentID))
	slog.Info("merge queued", "merge_id", cp.ID, "session_id", sessionID, "agent_id", cp.AgentID)

	return &cp, nil
}

// Get returns a copy of an entry.
func (q *MergeQueue) Get(mergeID string) (merge.Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	entry, ok := q.entries[mergeID]
	if !ok {
		return merge.Entry{}, false
	}
	return q.copyLocked(entry), true
}

// Queue returns the session's entries, oldest first. Entries of ended
// sessions remain queryable.
func (q *MergeQueue) Queue(sessionID string) []merge.Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.bySession[sessionID]
	out := make([]merge.Entry, 0, len(ids))
	for _, id := range ids {
		if entry, ok := q.entries[id]; ok {
			out = append(out, q.copyLocked(entry))
		}
	}
	return out
}

// Approve transitions queued -> approved.
func (q *MergeQueue) Approve(ctx context.Context, mergeID, approverUserID string) error {
	cp, err := q.transition(mergeID, merge.StatusQueued, func(e *merge.Entry) {
		now := time.Now().UTC()
		e.Status = merge.StatusApproved
		e.ApprovedBy = approverUserID
		e.ApprovedAt = &now
	})
	if err != nil {
		return err
	}

	_ = q.store.SaveMergeEntry(ctx, &cp)
	q.emit(ctx, event.New(event.TypeMergeApproved, cp.SessionID, map[string]any{
		"approved_by": approverUserID,
	}).WithMerge(cp.ID).WithAgent(cp.AgentID))
	slog.Info("merge approved", "merge_id", cp.ID, "approved_by", approverUserID)
	return nil
}

// Reject transitions queued -> rejected with the reason recorded.
func (q *MergeQueue) Reject(ctx context.Context, mergeID, approverUserID, reason string) error {
	cp, err := q.transition(mergeID, merge.StatusQueued, func(e *merge.Entry) {
		now := time.Now().UTC()
		e.Status = merge.StatusRejected
		e.ApprovedBy = approverUserID
		e.RejectionReason = reason
		e.ResolvedAt = &now
	})
	if err != nil {
		return err
	}

	_ = q.store.SaveMergeEntry(ctx, &cp)
	q.emit(ctx, event.New(event.TypeMergeRejected, cp.SessionID, map[string]any{
		"rejected_by": approverUserID, "reason": reason,
	}).WithMerge(cp.ID).WithAgent(cp.AgentID))
	slog.Info("merge rejected", "merge_id", cp.ID, "reason", reason)
	return nil
}

// AttachVerification records the verification outcome reference on an entry.
func (q *MergeQueue) AttachVerification(ctx context.Context, mergeID string, result *verification.Result) {
	q.mu.Lock()
	entry, ok := q.entries[mergeID]
	if !ok {
		q.mu.Unlock()
		return
	}
	entry.VerificationRef = result.Feature.ID
	cp := q.copyLocked(entry)
	q.mu.Unlock()

	_ = q.store.SaveMergeEntry(ctx, &cp)
}

// Execute runs an approved entry against the version-control collaborator.
// Requires approved status; enforces at most one executing entry per session
// (ErrMergeInProgress otherwise). A failed merge is never retried
// automatically; manual re-approval is required.
func (q *MergeQueue) Execute(ctx context.Context, mergeID, baseBranch string) error {
	q.mu.Lock()
	entry, ok := q.entries[mergeID]
	if !ok {
		q.mu.Unlock()
		return domain.ErrNotFound
	}
	if q.closed[entry.SessionID] {
		q.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if entry.Status != merge.StatusApproved {
		q.mu.Unlock()
		return fmt.Errorf("execute merge %s in status %s: %w", mergeID, entry.Status, domain.ErrInvalidTransition)
	}
	sessionID := entry.SessionID
	execMu, ok := q.execMu[sessionID]
	if !ok {
		execMu = &sync.Mutex{}
		q.execMu[sessionID] = execMu
	}
	q.mu.Unlock()

	if !execMu.TryLock() {
		return domain.ErrMergeInProgress
	}
	defer execMu.Unlock()

	if err := q.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("execute merge: %w", err)
	}
	defer q.sem.Release(1)

	cp, err := q.transition(mergeID, merge.StatusApproved, func(e *merge.Entry) {
		e.Status = merge.StatusExecuting
	})
	if err != nil {
		return err
	}
	_ = q.store.SaveMergeEntry(ctx, &cp)
	q.emit(ctx, event.New(event.TypeMergeExecuting, cp.SessionID, nil).WithMerge(cp.ID).WithAgent(cp.AgentID))

	mergeErr := q.merger.ApplyMerge(ctx, vcs.MergeRequest{
		SessionID:  cp.SessionID,
		MergeID:    cp.ID,
		BaseBranch: baseBranch,
		Title:      cp.Title,
		Diff:       cp.Diff,
		Files:      cp.TouchedFiles,
	})

	now := time.Now().UTC()
	if mergeErr != nil {
		cp, _ = q.transition(mergeID, merge.StatusExecuting, func(e *merge.Entry) {
			e.Status = merge.StatusFailed
			e.Error = mergeErr.Error()
			e.ResolvedAt = &now
		})
		_ = q.store.SaveMergeEntry(ctx, &cp)
		q.emit(ctx, event.New(event.TypeMergeFailed, cp.SessionID, map[string]any{
			"error": mergeErr.Error(),
		}).WithMerge(cp.ID).WithAgent(cp.AgentID))
		if q.metrics != nil {
			q.metrics.MergesFailed.Add(ctx, 1)
		}
		slog.Error("merge failed", "merge_id", cp.ID, "error", mergeErr)
		return fmt.Errorf("apply merge: %w", mergeErr)
	}

	cp, _ = q.transition(mergeID, merge.StatusExecuting, func(e *merge.Entry) {
		e.Status = merge.StatusCompleted
		e.ResolvedAt = &now
	})
	_ = q.store.SaveMergeEntry(ctx, &cp)
	q.emit(ctx, event.New(event.TypeMergeCompleted, cp.SessionID, nil).WithMerge(cp.ID).WithAgent(cp.AgentID))
	if q.metrics != nil {
		q.metrics.MergesExecuted.Add(ctx, 1)
	}
	slog.Info("merge completed", "merge_id", cp.ID, "session_id", cp.SessionID)
	return nil
}

// CloseSession marks a session's queue closed: entries remain queryable but
// can no longer be enqueued, approved, or executed.
func (q *MergeQueue) CloseSession(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed[sessionID] = true
}

// transition applies fn to the entry if it is currently in the expected
// status and its session is not closed. Returns a copy of the updated entry.
func (q *MergeQueue) transition(mergeID string, expect merge.Status, fn func(*merge.Entry)) (merge.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[mergeID]
	if !ok {
		return merge.Entry{}, domain.ErrNotFound
	}
	if q.closed[entry.SessionID] {
		return merge.Entry{}, domain.ErrSessionEnded
	}
	if entry.Status != expect {
		return merge.Entry{}, fmt.Errorf("merge %s in status %s: %w", mergeID, entry.Status, domain.ErrInvalidTransition)
	}
	fn(entry)
	return q.copyLocked(entry), nil
}

// copyLocked copies an entry. Caller holds q.mu.
func (q *MergeQueue) copyLocked(entry *merge.Entry) merge.Entry {
	cp := *entry
	cp.TouchedFiles = append([]string(nil), entry.TouchedFiles...)
	return cp
}
