package agent

import (
	"sync"
	"time"
)

// LogRing is a fixed-capacity ring buffer of log entries. Old entries are
// overwritten once capacity is reached. Safe for concurrent use.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogRing creates a ring buffer holding at most capacity entries.
func NewLogRing(capacity int) *LogRing {
	if capacity < 1 {
		capacity = 1
	}
	return &LogRing{entries: make([]LogEntry, capacity)}
}

// Append adds a log entry, evicting the oldest when full.
func (r *LogRing) Append(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = LogEntry{Time: time.Now().UTC(), Level: level, Message: message}
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Tail returns up to limit entries, oldest first. limit <= 0 returns all.
func (r *LogRing) Tail(limit int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []LogEntry
	if r.full {
		ordered = append(ordered, r.entries[r.next:]...)
		ordered = append(ordered, r.entries[:r.next]...)
	} else {
		ordered = append(ordered, r.entries[:r.next]...)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Len returns the number of entries currently held.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}
