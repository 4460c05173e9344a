package diagnostics

import (
	"sync"
	"time"
)

// Tracker remembers when each device entered a bad connectivity state. It is
// volatile: an interval still open at shutdown is lost on restart.
type Tracker struct {
	mu       sync.Mutex
	badSince map[string]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{badSince: make(map[string]time.Time)}
}

// MarkBad records at as the first bad instant for rid. It returns false when
// rid is already tracked, leaving the original instant in place.
func (t *Tracker) MarkBad(rid string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.badSince[rid]; ok {
		return false
	}
	t.badSince[rid] = at
	return true
}

// Clear removes rid and returns the instant it went bad, if tracked.
func (t *Tracker) Clear(rid string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since, ok := t.badSince[rid]
	if ok {
		delete(t.badSince, rid)
	}
	return since, ok
}

// BadSince returns the tracked first bad instant for rid.
func (t *Tracker) BadSince(rid string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since, ok := t.badSince[rid]
	return since, ok
}

// Len returns the number of open downtime intervals.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.badSince)
}

// Reset drops all open intervals.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.badSince = make(map[string]time.Time)
}
