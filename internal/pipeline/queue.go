package pipeline

import (
	"sync"
	"time"
)

// Queue is a FIFO of job ids feeding one stage's worker pool. Pops block
// with a deadline so workers can observe shutdown and idle signals. Purge
// has no random access: it drains, filters, and reinserts, which is O(depth)
// and fine at the expected depths (tens of jobs).
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []string
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a job id
func (q *Queue) Push(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.cond.Signal()
}

// PopTimeout removes and returns the oldest id, blocking up to d.
// Returns false if the queue stayed empty.
func (q *Queue) PopTimeout(d time.Duration) (string, bool) {
	deadline := time.Now().Add(d)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false
		}
		// Cond has no timed wait; a timer wakes all waiters at the deadline
		timer := time.AfterFunc(remaining, q.cond.Broadcast)
		q.cond.Wait()
		timer.Stop()
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// Len returns the current depth
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether id is waiting on this queue
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item == id {
			return true
		}
	}
	return false
}

// Purge removes every occurrence of id, returning how many were dropped
func (q *Queue) Purge(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item == id {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}
