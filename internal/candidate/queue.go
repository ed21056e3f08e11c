// Package candidate holds remote network candidates until the session they
// belong to can accept them.
package candidate

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrAlreadyDrained = errors.New("candidate queue already drained")
	ErrClosed         = errors.New("candidate queue closed")
)

// ApplyFunc installs one candidate on the transport.
type ApplyFunc[T any] func(T) error

// Queue buffers candidates in arrival order until DrainInto. After the
// drain every Enqueue applies immediately under the same lock, so a
// candidate can never overtake one that arrived before it.
type Queue[T any] struct {
	mu      sync.Mutex
	pending []T
	apply   ApplyFunc[T]
	closed  bool
	logger  *zap.Logger
}

func NewQueue[T any](logger *zap.Logger) *Queue[T] {
	return &Queue[T]{logger: logger}
}

// Enqueue holds c, or applies it directly once the queue has drained.
// Apply failures are logged and the candidate is skipped.
func (q *Queue[T]) Enqueue(c T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.apply == nil {
		q.pending = append(q.pending, c)
		return nil
	}
	q.applyLocked(c)
	return nil
}

// DrainInto applies every held candidate in order and switches the queue to
// pass-through. It returns the number applied successfully.
func (q *Queue[T]) DrainInto(apply ApplyFunc[T]) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	if q.apply != nil {
		return 0, ErrAlreadyDrained
	}
	q.apply = apply

	applied := 0
	for _, c := range q.pending {
		if q.applyLocked(c) {
			applied++
		}
	}
	q.pending = nil
	return applied, nil
}

// Len reports how many candidates are waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drained reports whether DrainInto has run.
func (q *Queue[T]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.apply != nil
}

// Clear drops anything pending and rejects later candidates.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.closed = true
}

func (q *Queue[T]) applyLocked(c T) bool {
	if err := q.apply(c); err != nil {
		q.logger.Warn("skipping candidate that failed to apply", zap.Error(err))
		return false
	}
	return true
}
