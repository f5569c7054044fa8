// Package asyncquery tracks the lifecycle of one logical request and retains
// the last known-good (or conflict-authoritative) value across reloads.
package asyncquery

import (
	"context"
	"sync"
)

// State of a query.
type State int

const (
	// Unknown means the query has never been run.
	Unknown State = iota
	// Pending means a call is in flight.
	Pending
	// Fulfilled means the last call succeeded.
	Fulfilled
	// Rejected means the last call failed with a non-conflict error.
	Rejected
	// Conflicted means the last call failed with a revision conflict and the
	// authoritative value was captured from the conflict body.
	Conflicted
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	case Conflicted:
		return "conflicted"
	default:
		return "invalid"
	}
}

// Conflicter is implemented by errors that carry an optimistic-concurrency
// conflict body (HTTP 409 semantics). Keeping this an interface avoids a
// dependency on the HTTP layer.
type Conflicter interface {
	ConflictBody() map[string]any
}

// ConflictResolver derives the authoritative replacement value from a
// conflict error. ok=false means the body did not have the expected shape;
// the query then records a plain rejection instead of storing a zero value.
type ConflictResolver[T any] func(err error) (value T, ok bool)

// CallFunc performs the underlying request.
type CallFunc[T any] func(ctx context.Context) (T, error)

// Query is a reactive wrapper around one logical resource request.
//
// Value is only overwritten on a transition into Fulfilled or Conflicted;
// a Pending or Rejected transition leaves the last known value readable.
type Query[T any] struct {
	name string

	mu       sync.Mutex
	state    State
	value    T
	hasValue bool
	settled  chan struct{} // non-nil while Pending, closed on settlement

	listeners map[int]func()
	nextID    int
}

// New constructs a Query with a diagnostic name.
func New[T any](name string) *Query[T] {
	return &Query[T]{name: name}
}

// Name returns the diagnostic label.
func (q *Query[T]) Name() string { return q.name }

// State returns the current lifecycle state.
func (q *Query[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Value returns the last stored value (zero value if none yet).
func (q *Query[T]) Value() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value
}

// Get returns state and value atomically.
func (q *Query[T]) Get() (State, T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state, q.value
}

// Pending reports whether a call is in flight.
func (q *Query[T]) Pending() bool { return q.State() == Pending }

// Errored reports whether the last call failed (rejected or conflicted).
func (q *Query[T]) Errored() bool {
	s := q.State()
	return s == Rejected || s == Conflicted
}

// Done reports whether the query has settled at least once.
func (q *Query[T]) Done() bool {
	s := q.State()
	return s == Fulfilled || s == Rejected || s == Conflicted
}

// Subscribe registers fn to be invoked after every state transition and
// returns an unsubscribe function. Listeners run synchronously on the
// goroutine performing the transition and must not block.
func (q *Query[T]) Subscribe(fn func()) (unsubscribe func()) {
	q.mu.Lock()
	if q.listeners == nil {
		q.listeners = make(map[int]func())
	}
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Run executes call, tracking its lifecycle: the query flips to Pending
// before call starts and settles to Fulfilled, Conflicted, or Rejected when
// it returns. The original error is always returned unchanged so the caller
// can handle it locally in addition to the recorded state.
//
// Overlapping Runs on the same query are permitted but their settlement
// order is undefined; use RunDeferred for single-flight coordination.
func (q *Query[T]) Run(ctx context.Context, call CallFunc[T], onConflict ConflictResolver[T]) (T, error) {
	q.mu.Lock()
	q.begin()
	q.mu.Unlock()
	q.notify()

	v, err := call(ctx)
	return q.settle(v, err, onConflict)
}

// RunDeferred behaves like Run but refuses to start while another call is
// Pending: it waits for the in-flight call to settle (or ctx to end), then
// proceeds strictly after. Concurrent RunDeferred callers are serialized.
func (q *Query[T]) RunDeferred(ctx context.Context, call CallFunc[T], onConflict ConflictResolver[T]) (T, error) {
	q.mu.Lock()
	for q.state == Pending {
		ch := q.settled
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ch:
		}
		q.mu.Lock()
	}
	q.begin()
	q.mu.Unlock()
	q.notify()

	v, err := call(ctx)
	return q.settle(v, err, onConflict)
}

// Wait blocks until the query is not Pending.
func (q *Query[T]) Wait(ctx context.Context) error {
	q.mu.Lock()
	for q.state == Pending {
		ch := q.settled
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		q.mu.Lock()
	}
	q.mu.Unlock()
	return nil
}

// begin transitions to Pending. Caller holds q.mu.
func (q *Query[T]) begin() {
	q.state = Pending
	if q.settled == nil {
		q.settled = make(chan struct{})
	}
}

func (q *Query[T]) settle(v T, err error, onConflict ConflictResolver[T]) (T, error) {
	// Resolvers may read back the query (current value, state), so they run
	// before the lock is taken.
	var (
		cv       T
		resolved bool
	)
	if err != nil && onConflict != nil && isConflict(err) {
		cv, resolved = onConflict(err)
	}

	q.mu.Lock()
	switch {
	case err == nil:
		q.state = Fulfilled
		q.value = v
		q.hasValue = true
	case resolved:
		q.state = Conflicted
		q.value = cv
		q.hasValue = true
	default:
		// Non-conflict failures and malformed conflict bodies both record a
		// plain rejection; a zero value is never stored as authoritative.
		q.state = Rejected
	}
	if q.settled != nil {
		close(q.settled)
		q.settled = nil
	}
	out := q.value
	q.mu.Unlock()
	q.notify()

	if err != nil {
		return out, err
	}
	return v, nil
}

func (q *Query[T]) notify() {
	q.mu.Lock()
	fns := make([]func(), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func isConflict(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(Conflicter); ok {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
