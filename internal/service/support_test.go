package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kriptik-ai/devmode/internal/config"
	"github.com/kriptik-ai/devmode/internal/domain/agent"
	"github.com/kriptik-ai/devmode/internal/domain/event"
	"github.com/kriptik-ai/devmode/internal/domain/merge"
	"github.com/kriptik-ai/devmode/internal/domain/session"
	"github.com/kriptik-ai/devmode/internal/domain/verification"
	"github.com/kriptik-ai/devmode/internal/lockstore"
	"github.com/kriptik-ai/devmode/internal/port/eventbus"
	"github.com/kriptik-ai/devmode/internal/port/generation"
	"github.com/kriptik-ai/devmode/internal/port/vcs"
	"github.com/kriptik-ai/devmode/internal/port/verifier"
	"github.com/kriptik-ai/devmode/internal/resilience"
)

// --- persistence mock ---

type mockStore struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	agents   map[string]agent.Agent
	merges   map[string]merge.Entry
	events   []event.Event
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions: make(map[string]session.Session),
		agents:   make(map[string]agent.Agent),
		merges:   make(map[string]merge.Entry),
	}
}

func (m *mockStore) SaveSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *mockStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockStore) ListSessionsByUser(_ context.Context, userID string, _ int) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) SaveAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = *a
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *mockStore) ListAgentsBySession(_ context.Context, sessionID string) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, a := range m.agents {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

func (m *mockStore) SaveMergeEntry(_ context.Context, e *merge.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges[e.ID] = *e
	return nil
}

func (m *mockStore) ListMergeEntriesBySession(_ context.Context, sessionID string) ([]merge.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []merge.Entry
	for _, e := range m.merges {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) AppendEvent(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockStore) ListEventsBySession(_ context.Context, sessionID string, _ int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, ev := range m.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// --- event bus recorder ---

type recorderBus struct {
	mu     sync.Mutex
	events []event.Event
	subs   []struct {
		filter  eventbus.Filter
		handler eventbus.Handler
	}
}

func (b *recorderBus) Publish(ev event.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	subs := append(b.subs[:0:0], b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		if s.filter == nil || s.filter(ev) {
			s.handler(ev)
		}
	}
}

func (b *recorderBus) Subscribe(filter eventbus.Filter, handler eventbus.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, struct {
		filter  eventbus.Filter
		handler eventbus.Handler
	}{filter, handler})
	return func() {}
}

func (b *recorderBus) ofType(t event.Type) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []event.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// --- generation mocks ---

// scriptedStream replays a fixed chunk sequence, then blocks on hold (if set)
// before ending with finalErr. Parked Recv calls observe the run context the
// stream was created under, like a real transport would.
type scriptedStream struct {
	mu       sync.Mutex
	chunks   []generation.Chunk
	idx      int
	hold     chan struct{}
	finalErr error
	ctx      context.Context
}

func (s *scriptedStream) Recv() (generation.Chunk, error) {
	s.mu.Lock()
	if s.idx < len(s.chunks) {
		c := s.chunks[s.idx]
		s.idx++
		s.mu.Unlock()
		return c, nil
	}
	hold := s.hold
	err := s.finalErr
	ctx := s.ctx
	s.mu.Unlock()

	if hold != nil {
		if ctx != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return generation.Chunk{}, ctx.Err()
			}
		} else {
			<-hold
		}
	}
	if err == nil {
		err = io.EOF
	}
	return generation.Chunk{}, err
}

func (s *scriptedStream) Close() error { return nil }

// scriptedGen returns one scripted stream per prompt. Generate-level failures
// can be injected for the first failCalls invocations.
type scriptedGen struct {
	mu        sync.Mutex
	byPrompt  map[string][]*scriptedStream
	failCalls int
	failErr   error
	calls     int
}

func newScriptedGen() *scriptedGen {
	return &scriptedGen{byPrompt: make(map[string][]*scriptedStream)}
}

func (g *scriptedGen) add(prompt string, s *scriptedStream) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byPrompt[prompt] = append(g.byPrompt[prompt], s)
}

func (g *scriptedGen) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failCalls > 0 {
		g.failCalls--
		return nil, g.failErr
	}
	if queue := g.byPrompt[req.Prompt]; len(queue) > 0 {
		s := queue[0]
		g.byPrompt[req.Prompt] = queue[1:]
		s.mu.Lock()
		s.ctx = ctx
		s.mu.Unlock()
		return s, nil
	}
	return &scriptedStream{ctx: ctx}, nil
}

func (g *scriptedGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// --- verifier mocks ---

type stubVerifier struct {
	result verification.AgentResult
	err    error
	panics bool
}

func (s *stubVerifier) Verify(context.Context, verifier.Input) (verification.AgentResult, error) {
	if s.panics {
		panic("verifier exploded")
	}
	return s.result, s.err
}

type stubRegistry map[verification.AgentType]verifier.Verifier

func (r stubRegistry) Lookup(t verification.AgentType) (verifier.Verifier, bool) {
	v, ok := r[t]
	return v, ok
}

func passingRegistry(score float64, types ...verification.AgentType) stubRegistry {
	r := make(stubRegistry)
	for _, t := range types {
		r[t] = &stubVerifier{result: verification.AgentResult{Passed: true, Score: score}}
	}
	return r
}

// --- vcs mock ---

type mockMerger struct {
	mu       sync.Mutex
	requests []vcs.MergeRequest
	err      error
	block    chan struct{} // if set, ApplyMerge waits here
}

func (m *mockMerger) ApplyMerge(_ context.Context, req vcs.MergeRequest) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	block := m.block
	err := m.err
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (m *mockMerger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// --- fixture ---

type fixture struct {
	orch   *Orchestrator
	store  *mockStore
	bus    *recorderBus
	locks  *lockstore.Store
	gen    *scriptedGen
	merger *mockMerger
	queue  *MergeQueue
	verify *Verification
}

func testConfig() config.Orchestrator {
	cfg := config.Defaults().Orchestrator
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.StopGrace = 200 * time.Millisecond
	cfg.VerifyAgentTimeout = time.Second
	return cfg
}

func newFixture(_ *testing.T) *fixture {
	return newFixtureWith(testConfig(), passingRegistry(95,
		verification.AgentStatic, verification.AgentFunctional,
		verification.AgentVisual, verification.AgentSecurity, verification.AgentIntent))
}

func newFixtureWith(cfg config.Orchestrator, registry verifier.Registry) *fixture {
	store := newMockStore()
	bus := &recorderBus{}
	locks := lockstore.New()
	gen := newScriptedGen()
	merger := &mockMerger{}
	verify := NewVerification(registry, bus, nil, nil, cfg.VerifyAgentTimeout)
	queue := NewMergeQueue(store, bus, merger, nil, int64(cfg.MaxConcurrentMerges))

	orch := NewOrchestrator(cfg, OrchestratorDeps{
		Store:   store,
		Bus:     bus,
		Locks:   locks,
		Gen:     gen,
		Breaker: resilience.NewBreaker(100, time.Second),
		Verify:  verify,
		Queue:   queue,
	})

	return &fixture{
		orch: orch, store: store, bus: bus, locks: locks,
		gen: gen, merger: merger, queue: queue, verify: verify,
	}
}

func (f *fixture) startSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := f.orch.StartSession(context.Background(), session.StartRequest{
		ProjectID: "proj-1",
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return sess
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// waitForAgentStatus waits until the agent reaches the given status.
func (f *fixture) waitForAgentStatus(t *testing.T, agentID string, want agent.Status) {
	t.Helper()
	waitFor(t, 3*time.Second, "agent status "+string(want), func() bool {
		a, ok := f.orch.GetAgent(agentID)
		return ok && a.Status == want
	})
}
