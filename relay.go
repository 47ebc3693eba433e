package livebind

import (
	"context"
	"sync"
	"sync/atomic"
)

// A Relay is a single-slot handoff shared by one producer and one consumer. A
// producer calls [Relay.Push] to make a value available, and a consumer calls
// [Relay.Next] to receive values in the order they were pushed.
//
// Push blocks until the consumer has received the value and released it,
// either by calling [Relay.Ack] or by calling Next again. This makes each
// Push a synchronization point: when Push returns, the consumer has finished
// whatever it does with the value.
//
// A Relay is an infinite [Sequence]: Next never reports [ErrDone]. A consumer
// abandons a relay simply by no longer calling Next.
//
// Calls to Push must not overlap, and calls to Next must not overlap. Either
// violation causes a panic.
type Relay[T any] struct {
	ch chan item[T] // depth one; holds the value not yet received

	pushing atomic.Bool
	pulling atomic.Bool

	μ    sync.Mutex
	held chan struct{} // release signal for the value last received, or nil
}

type item[T any] struct {
	value T
	done  chan struct{} // closed when the consumer releases value
}

// NewRelay constructs a new empty relay.
func NewRelay[T any]() *Relay[T] { return &Relay[T]{ch: make(chan item[T], 1)} }

// Push sends v as the next value of the relay. It blocks until the consumer
// has received and released v, or until ctx ends. If ctx ends first, Push
// reports the error from ctx; v remains queued and may still be delivered.
//
// Push panics if it is called while another call to Push is in progress.
func (r *Relay[T]) Push(ctx context.Context, v T) error {
	if !r.pushing.CompareAndSwap(false, true) {
		panic("livebind: overlapping calls to Relay.Push")
	}
	defer r.pushing.Store(false)

	next := item[T]{value: v, done: make(chan struct{})}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.ch <- next:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-next.done:
		return nil
	}
}

// Next releases the value most recently received, if any, and then blocks
// until a value is pushed or ctx ends.
//
// Next panics if it is called while another call to Next is in progress.
func (r *Relay[T]) Next(ctx context.Context) (T, error) {
	if !r.pulling.CompareAndSwap(false, true) {
		panic("livebind: overlapping calls to Relay.Next")
	}
	defer r.pulling.Store(false)

	r.Ack()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case it := <-r.ch:
		r.μ.Lock()
		defer r.μ.Unlock()
		r.held = it.done
		return it.value, nil
	}
}

// Ack releases the value most recently received from Next, unblocking the
// Push that sent it. Ack is safe to call more than once.
func (r *Relay[T]) Ack() {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.held != nil {
		close(r.held)
		r.held = nil
	}
}
