// Package waitqueue provides a multi-producer multi-consumer queue for
// transferring values between goroutines, with close semantics: closing the
// queue wakes all waiting consumers and causes subsequent pushes to fail.
package waitqueue

import (
	"sync"

	"github.com/eapache/queue"
)

type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   *queue.Queue
	maxSize int
	closed  bool
}

// New returns an unbounded queue.
func New[T any]() *Queue[T] {
	return NewBounded[T](0)
}

// NewBounded returns a queue holding at most maxSize elements. A push to a
// full queue fails. maxSize <= 0 means unbounded.
func NewBounded[T any](maxSize int) *Queue[T] {
	q := &Queue[T]{
		items:   queue.New(),
		maxSize: maxSize,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and wakes one waiting consumer. It returns false if the
// queue is closed or full.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed || (q.maxSize > 0 && q.items.Length() >= q.maxSize) {
		q.mu.Unlock()
		return false
	}
	q.items.Add(v)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// WaitAndPop blocks until an element is available or the queue is closed.
// It returns false only when the queue is closed and drained.
func (q *Queue[T]) WaitAndPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.items.Length() == 0 {
		q.cond.Wait()
	}
	return q.popLocked()
}

// TryPop pops an element if one is immediately available.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.items.Length() == 0 {
		return zero, false
	}
	return q.items.Remove().(T), true
}

// Close marks the queue closed and wakes all waiting consumers. Elements
// already queued can still be popped. Once Close returns, no Push succeeds.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Open reopens a previously closed queue. A queue starts open.
func (q *Queue[T]) Open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Apply calls f on each queued element, front to back, under the queue lock.
// f must not call back into the queue.
func (q *Queue[T]) Apply(f func(T)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.items.Length(); i++ {
		f(q.items.Get(i).(T))
	}
}
