package livebind

import (
	"context"
	"sync"
	"time"
)

// FromChan returns a [Sequence] that delivers the values received from ch.
// When ch is closed, the sequence reports [ErrDone].
func FromChan[T any](ch <-chan T) Sequence[T] { return &chanSeq[T]{ch: ch} }

type chanSeq[T any] struct{ ch <-chan T }

func (c *chanSeq[T]) Next(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case v, ok := <-c.ch:
		if !ok {
			return v, ErrDone
		}
		return v, nil
	}
}

// After returns a [Sequence] that delivers v once, no earlier than d after the
// call to After, and is then done. The delay starts when After is called, not
// when the sequence is first pulled.
func After[T any](d time.Duration, v T) Sequence[T] {
	return &afterSeq[T]{at: time.Now().Add(d), value: v}
}

type afterSeq[T any] struct {
	at    time.Time
	value T

	μ    sync.Mutex
	done bool
}

func (a *afterSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	a.μ.Lock()
	done := a.done
	a.μ.Unlock()
	if done {
		return zero, ErrDone
	}

	t := time.NewTimer(time.Until(a.at))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-t.C:
	}

	a.μ.Lock()
	defer a.μ.Unlock()
	if a.done {
		return zero, ErrDone
	}
	a.done = true
	return a.value, nil
}
