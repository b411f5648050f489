// Package service implements the devmode core: the session orchestrator, the
// agent runtime, the verification mode scaler, and the merge queue.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kriptik-ai/devmode/internal/adapter/otel"
	"github.com/kriptik-ai/devmode/internal/config"
	"github.com/kriptik-ai/devmode/internal/domain"
	"github.com/kriptik-ai/devmode/internal/domain/credits"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/session"
	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/lockstore"
	"github.com/kriptik-ai/devmode/internal/port/cache"
	"github.com/kriptik-ai/devmode/internal/port/database"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
	"github.com/kriptik-ai/devmode/internal/port/generation"
	"github.com/kriptik-ai/devmode/internal/resilience"
)

// activeSessionKey is the cache key for active-session-by-project lookups.
func activeSessionKey(projectID string) string {
	return "session:active:" + projectID
}

// Orchestrator is the top-level coordinator. It owns sessions, the agents in
// each session, and the per-session merge queue. State is held in memory and
// written through to the database port best-effort; every transition emits a
// typed event on the bus.
type Orchestrator struct {
	cfg     config.Orchestrator
	store   database.Store
	bus     eventbus.Bus
	locks   *lockstore.Store
	cache   cache.Cache
	gen     generation.Service
	breaker *resilience.Breaker
	verify  *Verification
	queue   *MergeQueue
	metrics *otel.Metrics

	mu        sync.RWMutex
	sessions  map[string]*session.Session
	byProject map[string]string // projectID -> active session ID
	agents    map[string]*agentState
}

// OrchestratorDeps carries the collaborators an Orchestrator needs.
type OrchestratorDeps struct {
	Store   database.Store
	Bus     eventbus.Bus
	Locks   *lockstore.Store
	Cache   cache.Cache
	Gen     generation.Service
	Breaker *resilience.Breaker
	Verify  *Verification
	Queue   *MergeQueue
	Metrics *otel.Metrics
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(cfg config.Orchestrator, deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		bus:       deps.Bus,
		locks:     deps.Locks,
		cache:     deps.Cache,
		gen:       deps.Gen,
		breaker:   deps.Breaker,
		verify:    deps.Verify,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
		sessions:  make(map[string]*session.Session),
		byProject: make(map[string]string),
		agents:    make(map[string]*agentState),
	}
}

// emit publishes an event on the bus and appends it to the persistent event
// log. Both paths are fire-and-forget; neither may block a state transition.
func (o *Orchestrator) emit(ctx context.Context, ev event.Event) {
	ev.ID = uuid.NewString()
	o.bus.Publish(ev)
	_ = o.store.AppendEvent(ctx, &ev)
}

// StartSession creates a new session in active status. No agents are started.
func (o *Orchestrator) StartSession(ctx context.Context, req session.StartRequest) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if req.VerificationMode != "" && !verification.IsValidMode(verification.Mode(req.VerificationMode)) {
		return nil, fmt.Errorf("start session: invalid verification_mode %q", req.VerificationMode)
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:               uuid.NewString(),
		ProjectID:        req.ProjectID,
		UserID:           req.UserID,
		DefaultModel:     req.DefaultModel,
		VerificationMode: req.VerificationMode,
		AutoMergeEnabled: req.AutoMergeEnabled,
		BaseBranch:       req.BaseBranch,
		BudgetLimit:      req.BudgetLimit,
		Status:           session.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if sess.DefaultModel == "" {
		sess.DefaultModel = o.cfg.DefaultModel
	}
	if sess.VerificationMode == "" {
		sess.VerificationMode = o.cfg.DefaultVerificationMode
	}
	if sess.BaseBranch == "" {
		sess.BaseBranch = o.cfg.DefaultBaseBranch
	}

	o.mu.Lock()
	o.sessions[sess.ID] = sess
	o.byProject[sess.ProjectID] = sess.ID
	o.mu.Unlock()

	_ = o.store.SaveSession(ctx, sess)
	o.cacheSession(ctx, sess)

	o.emit(ctx, event.New(event.TypeSessionCreated, sess.ID, sess))
	slog.Info("session started", "session_id", sess.ID, "project_id", sess.ProjectID, "user_id", sess.UserID)

	out := *sess
	return &out, nil
}

// GetSession returns a copy of the session, or false if it does not exist.
func (o *Orchestrator) GetSession(id string) (*session.Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	sess, ok := o.sessions[id]
	if !ok {
		return nil, false
	}
	out := *sess
	out.AgentIDs = append([]string(nil), sess.AgentIDs...)
	return &out, true
}

// GetActiveSessionForProject returns the active session for a project, or
// false if none exists. Consults the L1 cache before the in-memory table.
func (o *Orchestrator) GetActiveSessionForProject(ctx context.Context, projectID string) (*session.Session, bool) {
	if o.cache != nil {
		if data, found, err := o.cache.Get(ctx, activeSessionKey(projectID)); err == nil && found {
			var sess session.Session
			if json.Unmarshal(data, &sess) == nil && sess.Status == session.StatusActive {
				return &sess, true
			}
		}
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	id, ok := o.byProject[projectID]
	if !ok {
		return nil, false
	}
	sess, ok := o.sessions[id]
	if !ok || sess.Status != session.StatusActive {
		return nil, false
	}
	out := *sess
	out.AgentIDs = append([]string(nil), sess.AgentIDs...)
	return &out, true
}

// GetUserSessions returns the user's sessions, newest first, up to limit.
// limit <= 0 returns all.
func (o *Orchestrator) GetUserSessions(userID string, limit int) []session.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []session.Session
	for _, sess := range o.sessions {
		if sess.UserID != userID {
			continue
		}
		cp := *sess
		cp.AgentIDs = append([]string(nil), sess.AgentIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PauseSession transitions active -> paused and signals every running agent
// in the session to pause at its next suspension point.
func (o *Orchestrator) PauseSession(ctx context.Context, id string) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return domain.ErrNotFound
	}
	if sess.Status.IsTerminal() {
		o.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if !sess.Status.CanTransition(session.StatusPaused) {
		o.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	sess.Status = session.StatusPaused
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	agents := o.sessionAgentsLocked(id)
	o.mu.Unlock()

	for _, st := range agents {
		o.pauseAgent(ctx, st)
	}

	_ = o.store.SaveSession(ctx, &cp)
	o.dropSessionCache(ctx, cp.ProjectID)
	o.emit(ctx, event.New(event.TypeSessionPaused, id, nil))
	slog.Info("session paused", "session_id", id)
	return nil
}

// ResumeSession transitions paused -> active and resumes paused agents.
func (o *Orchestrator) ResumeSession(ctx context.Context, id string) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return domain.ErrNotFound
	}
	if sess.Status.IsTerminal() {
		o.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if !sess.Status.CanTransition(session.StatusActive) {
		o.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	sess.Status = session.StatusActive
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	agents := o.sessionAgentsLocked(id)
	o.mu.Unlock()

	for _, st := range agents {
		o.resumeAgentState(ctx, st)
	}

	_ = o.store.SaveSession(ctx, &cp)
	o.cacheSession(ctx, &cp)
	o.emit(ctx, event.New(event.TypeSessionResumed, id, nil))
	slog.Info("session resumed", "session_id", id)
	return nil
}

// EndSession is the terminal transition. It stops every non-terminal agent,
// releases all file locks the session's agents hold, and closes the merge
// queue. Queue entries remain queryable but can no longer be approved.
func (o *Orchestrator) EndSession(ctx context.Context, id string) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return domain.ErrNotFound
	}
	if !sess.Status.CanTransition(session.StatusEnded) {
		o.mu.Unlock()
		return domain.ErrSessionEnded
	}
	sess.Status = session.StatusEnded
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	agents := o.sessionAgentsLocked(id)
	delete(o.byProject, sess.ProjectID)
	o.mu.Unlock()

	for _, st := range agents {
		o.stopAgentState(ctx, st, "session ended")
	}

	o.queue.CloseSession(id)

	_ = o.store.SaveSession(ctx, &cp)
	o.dropSessionCache(ctx, cp.ProjectID)
	o.emit(ctx, event.New(event.TypeSessionEnded, id, nil))
	slog.Info("session ended", "session_id", id)
	return nil
}

// UpdateSessionConfig mutates session configuration without changing status.
func (o *Orchestrator) UpdateSessionConfig(ctx context.Context, id string, patch session.ConfigPatch) (*session.Session, error) {
	if patch.VerificationMode != nil && !verification.IsValidMode(verification.Mode(*patch.VerificationMode)) {
		return nil, fmt.Errorf("update session config: invalid verification_mode %q", *patch.VerificationMode)
	}
	if patch.BudgetLimit != nil && *patch.BudgetLimit < 0 {
		return nil, fmt.Errorf("update session config: budget_limit must not be negative")
	}

	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if sess.Status.IsTerminal() {
		o.mu.Unlock()
		return nil, domain.ErrSessionEnded
	}
	if patch.DefaultModel != nil {
		sess.DefaultModel = *patch.DefaultModel
	}
	if patch.VerificationMode != nil {
		sess.VerificationMode = *patch.VerificationMode
	}
	if patch.AutoMergeEnabled != nil {
		sess.AutoMergeEnabled = *patch.AutoMergeEnabled
	}
	if patch.BudgetLimit != nil {
		sess.BudgetLimit = *patch.BudgetLimit
	}
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	cp.AgentIDs = append([]string(nil), sess.AgentIDs...)
	o.mu.Unlock()

	_ = o.store.SaveSession(ctx, &cp)
	o.cacheSession(ctx, &cp)
	o.emit(ctx, event.New(event.TypeSessionConfigUpdated, id, patch))
	return &cp, nil
}

// GetLockedFiles returns the current path -> agent mapping.
func (o *Orchestrator) GetLockedFiles() map[string]string {
	return o.locks.Snapshot()
}

// EstimateCredits returns the credit cost of running the given model at the
// given complexity. Pure; safe to call without any session.
func (o *Orchestrator) EstimateCredits(model string, complexity credits.Complexity) int {
	return credits.Estimate(model, complexity)
}

// GetMergeQueue returns the session's merge entries, oldest first.
func (o *Orchestrator) GetMergeQueue(sessionID string) []merge.Entry {
	return o.queue.Queue(sessionID)
}

// GetMergeEntry returns one merge entry by ID.
func (o *Orchestrator) GetMergeEntry(mergeID string) (merge.Entry, bool) {
	return o.queue.Get(mergeID)
}

// GetSessionEvents returns the session's persisted event log, most recent
// first, up to limit.
func (o *Orchestrator) GetSessionEvents(ctx context.Context, sessionID string, limit int) ([]event.Event, error) {
	if _, ok := o.GetSession(sessionID); !ok {
		return nil, domain.ErrNotFound
	}
	return o.store.ListEventsBySession(ctx, sessionID, limit)
}

// ApproveMerge approves a queued entry.
func (o *Orchestrator) ApproveMerge(ctx context.Context, mergeID, approverUserID string) error {
	return o.queue.Approve(ctx, mergeID, approverUserID)
}

// RejectMerge rejects a queued entry with a reason.
func (o *Orchestrator) RejectMerge(ctx context.Context, mergeID, approverUserID, reason string) error {
	return o.queue.Reject(ctx, mergeID, approverUserID, reason)
}

// ExecuteMerge executes an approved entry against the version-control
// collaborator, serialized per session.
func (o *Orchestrator) ExecuteMerge(ctx context.Context, mergeID string) error {
	entry, ok := o.queue.Get(mergeID)
	if !ok {
		return domain.ErrNotFound
	}
	baseBranch := o.cfg.DefaultBaseBranch
	if sess, ok := o.GetSession(entry.SessionID); ok {
		baseBranch = sess.BaseBranch
	}
	return o.queue.Execute(ctx, mergeID, baseBranch)
}

// cacheSession writes the session into the L1 cache keyed by project.
func (o *Orchestrator) cacheSession(ctx context.Context, sess *session.Session) {
	if o.cache == nil || sess.Status != session.StatusActive {
		return
	}
	if data, err := json.Marshal(sess); err == nil {
		_ = o.cache.Set(ctx, activeSessionKey(sess.ProjectID), data, 30*time.Second)
	}
}

func (o *Orchestrator) dropSessionCache(ctx context.Context, projectID string) {
	if o.cache == nil {
		return
	}
	_ = o.cache.Delete(ctx, activeSessionKey(projectID))
}

// sessionAgentsLocked returns the agent states of a session. Caller holds o.mu.
func (o *Orchestrator) sessionAgentsLocked(sessionID string) []*agentState {
	var out []*agentState
	for _, st := range o.agents {
		if st.snapshot().SessionID == sessionID {
			out = append(out, st)
		}
	}
	return out
}

// sessionStatus returns the current status of a session, or "" if unknown.
func (o *Orchestrator) sessionStatus(id string) session.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sess, ok := o.sessions[id]
	if !ok {
		return ""
	}
	return sess.Status
}

// addCreditsSpent records spent credits against a session's budget.
func (o *Orchestrator) addCreditsSpent(ctx context.Context, sessionID string, amount int) {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	sess.CreditsSpent += amount
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	o.mu.Unlock()

	_ = o.store.SaveSession(ctx, &cp)
}
