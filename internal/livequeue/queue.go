// Package livequeue holds the bounded buffer of freshly ingested events that
// tail viewers drain ahead of the slower store backfill.
package livequeue

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Entry is one ingested resource event as seen by tail viewers.
// EventID is the store sequence id; zero when unknown.
type Entry struct {
	EventID      int64           `json:"id,omitempty"`
	Timestamp    time.Time       `json:"ts"`
	ResourceID   string          `json:"rid"`
	ResourceType string          `json:"rtype"`
	Raw          json.RawMessage `json:"raw"`
}

// Queue is a bounded FIFO with non-blocking push and drain. It is safe for a
// single producer and any number of consumers.
type Queue struct {
	items   chan Entry
	evicted atomic.Int64
}

// New creates a queue holding at most capacity entries.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{items: make(chan Entry, capacity)}
}

// Push appends e without blocking. When the queue is full the oldest entry is
// evicted first; if a consumer empties the buffer in between, e is dropped.
func (q *Queue) Push(e Entry) {
	select {
	case q.items <- e:
		return
	default:
	}

	select {
	case <-q.items:
		q.evicted.Add(1)
	default:
		q.evicted.Add(1)
		return
	}

	select {
	case q.items <- e:
	default:
		q.evicted.Add(1)
	}
}

// Drain removes and returns up to max ready entries without blocking.
func (q *Queue) Drain(max int) []Entry {
	if max <= 0 {
		return nil
	}
	var out []Entry
	for len(out) < max {
		select {
		case e := <-q.items:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.items) }

// Evicted returns how many entries were evicted or dropped on overflow.
func (q *Queue) Evicted() int64 { return q.evicted.Load() }
