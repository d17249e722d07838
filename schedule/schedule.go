// Package schedule provides keyed one-shot deferred calls: fire a callback
// once, at or after a delay, with at most one in-flight call per id.
package schedule

import (
	"errors"
	"sync"
	"time"
)

var ErrDuplicateID = errors.New("schedule: id already in flight")

// Runner is the deferred-call contract consumed by the lending engine.
type Runner interface {
	Schedule(delay time.Duration, id string, fn func()) error
}

// Queue runs callbacks on timers. Delivery is best effort: a stopped queue
// drops pending callbacks, and callers are expected to back deferred work
// with a periodic reconciliation sweep.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewQueue constructs an empty timer queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]*time.Timer)}
}

// Schedule arms a timer for the id. Scheduling an id that is already in
// flight fails with ErrDuplicateID.
func (q *Queue) Schedule(delay time.Duration, id string, fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("schedule: queue stopped")
	}
	if _, exists := q.pending[id]; exists {
		return ErrDuplicateID
	}
	q.pending[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		fn()
	})
	return nil
}

// Pending reports the number of armed timers.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop cancels every armed timer and refuses further scheduling.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, timer := range q.pending {
		timer.Stop()
		delete(q.pending, id)
	}
}

// Manual is a Runner for tests: callbacks accumulate until Fire is called.
type Manual struct {
	mu    sync.Mutex
	tasks map[string]func()
	order []string
}

// NewManual constructs an empty manual runner.
func NewManual() *Manual {
	return &Manual{tasks: make(map[string]func())}
}

// Schedule records the callback under the id.
func (m *Manual) Schedule(delay time.Duration, id string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[id]; exists {
		return ErrDuplicateID
	}
	m.tasks[id] = fn
	m.order = append(m.order, id)
	return nil
}

// Pending reports the number of recorded callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Fire runs and clears every recorded callback in scheduling order.
func (m *Manual) Fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.order))
	for _, id := range m.order {
		if fn, ok := m.tasks[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.tasks = make(map[string]func())
	m.order = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
