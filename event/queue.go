package event

import "sync"

// Queue is an unbounded in-memory event queue ordered by priority, FIFO
// within a priority class. It is safe for concurrent producers with a
// single consuming loop. No backpressure is applied; rate limiting is the
// producers' concern.
type Queue struct {
	mu   sync.Mutex
	seq  uint64
	rows []queued
}

type queued struct {
	ev  *Event
	seq uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts an event respecting priority and enqueue order.
func (q *Queue) Push(ev *Event) {
	if ev == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	row := queued{ev: ev, seq: q.seq}

	// Insert before the first entry with a strictly worse rank. Entries of
	// equal rank keep their enqueue order.
	idx := len(q.rows)
	for i, r := range q.rows {
		if r.ev.Priority.rank() > ev.Priority.rank() {
			idx = i
			break
		}
	}
	q.rows = append(q.rows, queued{})
	copy(q.rows[idx+1:], q.rows[idx:])
	q.rows[idx] = row
}

// Pop removes and returns the head of the queue. The second return value
// is false when the queue is empty.
func (q *Queue) Pop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.rows) == 0 {
		return nil, false
	}
	ev := q.rows[0].ev
	q.rows = q.rows[1:]
	return ev, true
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.rows) == 0 {
		return nil, false
	}
	return q.rows[0].ev, true
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}
