package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kriptik-ai/devmode/internal/domain"
	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/credits"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/session"
)

// runControl is the cooperative control surface of one running agent loop.
// Stop is delivered through context cancellation; pause is a flag the loop
// checks at every suspension point.
type runControl struct {
	cancel  context.CancelFunc
	paused  atomic.Bool
	stalled atomic.Bool
	resume  chan struct{} // signaled on resume, buffered
	done    chan struct{} // closed when the run loop exits
}

func newRunControl(cancel context.CancelFunc) *runControl {
	return &runControl{
		cancel: cancel,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// signalResume wakes the loop if it is parked on the pause flag.
func (c *runControl) signalResume() {
	c.paused.Store(false)
	select {
	case c.resume <- struct{}{}:
	default:
	}
}

// agentState couples an agent record with its log ring and run control.
type agentState struct {
	mu    sync.Mutex
	agent agent.Agent
	logs  *agent.LogRing
	ctrl  *runControl
}

// snapshot returns a copy of the agent record.
func (st *agentState) snapshot() agent.Agent {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := st.agent
	cp.TouchedFiles = append([]string(nil), st.agent.TouchedFiles...)
	return cp
}

// update mutates the record under lock and returns a copy.
func (st *agentState) update(fn func(*agent.Agent)) agent.Agent {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.agent)
	st.agent.UpdatedAt = time.Now().UTC()
	cp := st.agent
	cp.TouchedFiles = append([]string(nil), st.agent.TouchedFiles...)
	return cp
}

// tryTransition moves the agent to the target status if the lifecycle allows
// it. Returns false and leaves the record unchanged otherwise.
func (st *agentState) tryTransition(to agent.Status) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.agent.Status.CanTransition(to) {
		return false
	}
	st.agent.Status = to
	st.agent.UpdatedAt = time.Now().UTC()
	return true
}

// DeployAgent validates the session is active, creates an agent in queued
// status, and asynchronously transitions it to running. Returns immediately
// with the created record.
func (o *Orchestrator) DeployAgent(ctx context.Context, sessionID string, req agent.DeployRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("deploy agent: %w", err)
	}

	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if sess.Status != session.StatusActive {
		o.mu.Unlock()
		return nil, domain.ErrSessionNotActive
	}
	if len(sess.AgentIDs) >= o.cfg.MaxAgentsPerSession {
		o.mu.Unlock()
		return nil, fmt.Errorf("deploy agent: session agent limit (%d) reached", o.cfg.MaxAgentsPerSession)
	}

	model := req.Model
	if model == "" {
		model = sess.DefaultModel
	}
	effort := req.EffortLevel
	if effort == "" {
		effort = agent.EffortMedium
	}

	// Pre-flight budget check before any state mutation.
	estimate := credits.Estimate(model, credits.Complexity(req.Complexity))
	if sess.BudgetLimit > 0 && sess.CreditsSpent+estimate > sess.BudgetLimit {
		o.mu.Unlock()
		return nil, domain.ErrBudgetExceeded
	}

	now := time.Now().UTC()
	a := agent.Agent{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		UserID:           sess.UserID,
		Name:             req.Name,
		TaskPrompt:       req.TaskPrompt,
		Model:            model,
		EffortLevel:      effort,
		ThinkingBudget:   req.ThinkingBudget,
		VerificationMode: req.VerificationMode,
		Status:           agent.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &agentState{
		agent: a,
		logs:  agent.NewLogRing(o.cfg.AgentLogCapacity),
		ctrl:  newRunControl(cancel),
	}

	o.agents[a.ID] = st
	sess.AgentIDs = append(sess.AgentIDs, a.ID)
	sess.CreditsSpent += estimate
	sess.UpdatedAt = now
	sessCopy := *sess
	o.mu.Unlock()

	_ = o.store.SaveAgent(ctx, &a)
	_ = o.store.SaveSession(ctx, &sessCopy)

	o.emit(ctx, event.New(event.TypeAgentCreated, sessionID, a).WithAgent(a.ID))
	o.emit(ctx, event.New(event.TypeAgentDeployed, sessionID, map[string]any{
		"name": a.Name, "model": a.Model, "estimated_credits": estimate,
	}).WithAgent(a.ID))
	if o.metrics != nil {
		o.metrics.AgentsDeployed.Add(ctx, 1)
	}
	slog.Info("agent deployed", "agent_id", a.ID, "session_id", sessionID, "model", a.Model)

	go o.runAgent(runCtx, st)

	out := a
	return &out, nil
}

// StopAgent forces an agent to stopped, releasing its locks before returning.
func (o *Orchestrator) StopAgent(ctx context.Context, agentID string) error {
	st, ok := o.agentState(agentID)
	if !ok {
		return domain.ErrNotFound
	}
	if st.snapshot().Status.IsTerminal() {
		return domain.ErrInvalidTransition
	}
	o.stopAgentState(ctx, st, "stopped by user")
	return nil
}

// ResumeAgent resumes a single paused agent. The session must be active.
func (o *Orchestrator) ResumeAgent(ctx context.Context, agentID string) error {
	st, ok := o.agentState(agentID)
	if !ok {
		return domain.ErrNotFound
	}
	snap := st.snapshot()
	if snap.Status != agent.StatusPaused {
		return domain.ErrInvalidTransition
	}
	if o.sessionStatus(snap.SessionID) != session.StatusActive {
		return domain.ErrSessionNotActive
	}
	o.resumeAgentState(ctx, st)
	return nil
}

// RenameAgent changes the agent's display name.
func (o *Orchestrator) RenameAgent(ctx context.Context, agentID, name string) error {
	if name == "" {
		return fmt.Errorf("rename agent: name is required")
	}
	st, ok := o.agentState(agentID)
	if !ok {
		return domain.ErrNotFound
	}
	cp := st.update(func(a *agent.Agent) { a.Name = name })
	_ = o.store.SaveAgent(ctx, &cp)
	return nil
}

// ChangeAgentModel switches the model used for the agent's next generation
// call.
func (o *Orchestrator) ChangeAgentModel(ctx context.Context, agentID, model string) error {
	if model == "" {
		return fmt.Errorf("change agent model: model is required")
	}
	st, ok := o.agentState(agentID)
	if !ok {
		return domain.ErrNotFound
	}
	cp := st.update(func(a *agent.Agent) { a.Model = model })
	_ = o.store.SaveAgent(ctx, &cp)
	return nil
}

// DeleteAgent removes a non-running agent and releases any locks it holds.
func (o *Orchestrator) DeleteAgent(ctx context.Context, agentID string) error {
	st, ok := o.agentState(agentID)
	if !ok {
		return domain.ErrNotFound
	}
	snap := st.snapshot()
	if snap.Status == agent.StatusRunning {
		return domain.ErrAgentRunning
	}

	o.locks.ReleaseAll(agentID)

	o.mu.Lock()
	delete(o.agents, agentID)
	if sess, ok := o.sessions[snap.SessionID]; ok {
		for i, id := range sess.AgentIDs {
			if id == agentID {
				sess.AgentIDs = append(sess.AgentIDs[:i], sess.AgentIDs[i+1:]...)
				break
			}
		}
	}
	o.mu.Unlock()

	_ = o.store.DeleteAgent(ctx, agentID)
	slog.Info("agent deleted", "agent_id", agentID)
	return nil
}

// GetAgent returns a copy of the agent record, or false on miss.
func (o *Orchestrator) GetAgent(agentID string) (*agent.Agent, bool) {
	st, ok := o.agentState(agentID)
	if !ok {
		return nil, false
	}
	cp := st.snapshot()
	return &cp, true
}

// ListAgents returns the session's agents, oldest first.
func (o *Orchestrator) ListAgents(sessionID string) []agent.Agent {
	o.mu.RLock()
	states := o.sessionAgentsLocked(sessionID)
	o.mu.RUnlock()

	out := make([]agent.Agent, 0, len(states))
	for _, st := range states {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetAgentLogs returns up to limit recent log entries, oldest first.
func (o *Orchestrator) GetAgentLogs(agentID string, limit int) ([]agent.LogEntry, bool) {
	st, ok := o.agentState(agentID)
	if !ok {
		return nil, false
	}
	return st.logs.Tail(limit), true
}

func (o *Orchestrator) agentState(agentID string) (*agentState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.agents[agentID]
	return st, ok
}

// pauseAgent soft-pauses a running agent: the flag is observed at the loop's
// next suspension point.
func (o *Orchestrator) pauseAgent(ctx context.Context, st *agentState) {
	if !st.tryTransition(agent.StatusPaused) {
		return
	}
	st.ctrl.paused.Store(true)
	cp := st.snapshot()
	_ = o.store.SaveAgent(ctx, &cp)
	o.emit(ctx, event.New(event.TypeAgentPaused, cp.SessionID, nil).WithAgent(cp.ID))
	slog.Info("agent paused", "agent_id", cp.ID)
}

// resumeAgentState wakes a paused agent loop.
func (o *Orchestrator) resumeAgentState(ctx context.Context, st *agentState) {
	if !st.tryTransition(agent.StatusRunning) {
		return
	}
	st.ctrl.signalResume()
	cp := st.snapshot()
	_ = o.store.SaveAgent(ctx, &cp)
	o.emit(ctx, event.New(event.TypeAgentResumed, cp.SessionID, nil).WithAgent(cp.ID))
	slog.Info("agent resumed", "agent_id", cp.ID)
}

// stopAgentState cancels the run loop, waits briefly for it to exit, then
// finalizes the stopped state and releases every lock the agent holds. Lock
// release always happens before this call returns.
func (o *Orchestrator) stopAgentState(ctx context.Context, st *agentState, reason string) {
	st.ctrl.cancel()
	st.ctrl.signalResume() // unpark a paused loop so it can observe the cancel

	select {
	case <-st.ctrl.done:
	case <-time.After(o.cfg.StopGrace):
	}

	stopped := st.tryTransition(agent.StatusStopped)
	released := o.locks.ReleaseAll(st.snapshot().ID)

	if stopped {
		cp := st.update(func(a *agent.Agent) {
			if a.Error == "" {
				a.Error = reason
			}
		})
		_ = o.store.SaveAgent(ctx, &cp)
		o.emit(ctx, event.New(event.TypeAgentStopped, cp.SessionID, map[string]any{
			"reason": reason, "released_locks": released,
		}).WithAgent(cp.ID))
		slog.Info("agent stopped", "agent_id", cp.ID, "reason", reason, "released_locks", len(released))
	}
}
