package engine

import (
	"sync"
)

// OperationQueue is a FIFO of pending drain operations shared between any
// number of producers and the single drain worker. One mutex covers every
// method.
type OperationQueue struct {
	mu  sync.Mutex
	ops []DrainOperation
}

// NewOperationQueue creates an empty queue.
func NewOperationQueue() *OperationQueue {
	return &OperationQueue{}
}

// Push appends op at the tail.
func (q *OperationQueue) Push(op DrainOperation) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
}

// Front returns the head without removing it, together with the queue depth
// observed under the same lock acquisition. ok is false if the queue is empty.
func (q *OperationQueue) Front() (op DrainOperation, depth int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return DrainOperation{}, 0, false
	}
	return q.ops[0], len(q.ops), true
}

// PopFront removes and returns the head. It returns ErrEmptyQueue if there is
// nothing to remove.
func (q *OperationQueue) PopFront() (DrainOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return DrainOperation{}, ErrEmptyQueue
	}
	op := q.ops[0]
	q.ops[0] = DrainOperation{} // release payload for GC
	q.ops = q.ops[1:]
	if len(q.ops) == 0 {
		q.ops = nil
	}
	return op, nil
}

// Len returns the current number of queued operations.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Clear drops every queued operation and returns how many there were.
func (q *OperationQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ops)
	q.ops = nil
	return n
}

// IsEmpty reports whether the queue currently holds no operations.
func (q *OperationQueue) IsEmpty() bool {
	return q.Len() == 0
}
