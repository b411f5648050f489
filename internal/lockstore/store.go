// Package lockstore implements the file lock table: an exclusive path-to-agent
// mapping that prevents two concurrent agents from editing the same file.
package lockstore

import (
	"sync"
	"time"

	"github.com/kriptik-ai/devmode/internal/domain/lock"
)

// Store is an in-memory lock table. Acquisition is exclusive and
// first-come-first-served; there is no internal queueing, so a caller whose
// acquire fails must re-request. Entries older than the TTL are swept on
// access, so an agent that dies without releasing cannot wedge a path
// forever. Safe for concurrent use; check-and-set is atomic per path.
type Store struct {
	mu    sync.Mutex
	locks map[string]lock.FileLock
	ttl   time.Duration    // 0 disables expiry
	now   func() time.Time // injected for testing
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the maximum age of a lock entry before it is swept.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects the time source used for acquisition stamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty lock table.
func New(opts ...Option) *Store {
	s := &Store{
		locks: make(map[string]lock.FileLock),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire claims path for agentID. Succeeds if the path is unlocked or
// already held by the same agent (reentrant). Returns *lock.LockedError
// naming the current holder otherwise.
func (s *Store) Acquire(path, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	if held, ok := s.locks[path]; ok && held.AgentID != agentID {
		return &lock.LockedError{Path: path, HeldBy: held.AgentID}
	}
	if _, ok := s.locks[path]; !ok {
		s.locks[path] = lock.FileLock{Path: path, AgentID: agentID, AcquiredAt: s.now()}
	}
	return nil
}

// Release removes the entry for path if held by agentID. Releasing a path the
// agent does not hold is a no-op.
func (s *Store) Release(path, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.locks[path]; ok && held.AgentID == agentID {
		delete(s.locks, path)
	}
}

// ReleaseAll removes every entry held by agentID and returns the released
// paths. Used on agent completion, stop, and deletion.
func (s *Store) ReleaseAll(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []string
	for path, held := range s.locks {
		if held.AgentID == agentID {
			delete(s.locks, path)
			released = append(released, path)
		}
	}
	return released
}

// Holder returns the agent currently holding path, if any.
func (s *Store) Holder(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	held, ok := s.locks[path]
	if !ok {
		return "", false
	}
	return held.AgentID, true
}

// Snapshot returns the full path-to-agent mapping for conflict-prevention UIs.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	out := make(map[string]string, len(s.locks))
	for path, held := range s.locks {
		out[path] = held.AgentID
	}
	return out
}

// Len returns the number of held locks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// sweepLocked drops expired entries. Caller must hold s.mu.
func (s *Store) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for path, held := range s.locks {
		if held.AcquiredAt.Before(cutoff) {
			delete(s.locks, path)
		}
	}
}
