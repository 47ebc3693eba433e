// Package livebind defines types for binding asynchronous value streams to
// output that is replaced as new values arrive.
//
// A [Sequence] is a pull-based stream of values. A [Relay] turns imperative
// calls to [Relay.Push] into such a stream, and a [Cell] is a simple output
// sink that a consumer can write into. See the replace and live packages for
// consumers built on these types.
package livebind

import (
	"context"
	"errors"
	"iter"
)

// ErrDone is the error reported by [Sequence.Next] when the sequence has no
// more elements.
var ErrDone = errors.New("sequence is done")

// A Sequence is a pull-based asynchronous stream of values of type T.
//
// Next blocks until the next element is available and returns it. If the
// sequence is exhausted, Next reports [ErrDone]. If ctx ends before an element
// is available, Next reports the error from ctx.
//
// Unless otherwise documented, a Sequence supports only one consumer.
type Sequence[T any] interface {
	Next(ctx context.Context) (T, error)
}

// An Acker is a [Sequence] that wants to know when its consumer has finished
// processing an element. A consumer should call Ack once for each element it
// receives from Next, after it has finished with that element.
type Acker interface {
	Ack()
}

// Ack acknowledges the most recent element of s, if s is an [Acker].
// Otherwise Ack does nothing.
func Ack[T any](s Sequence[T]) {
	if a, ok := s.(Acker); ok {
		a.Ack()
	}
}

// All returns an iterator over the elements of s. Each element is paired with
// a nil error. If s reports an error other than [ErrDone], the iterator yields
// a zero value and that error, then stops. Elements are acknowledged after the
// body of the loop returns for them.
func All[T any](ctx context.Context, s Sequence[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := s.Next(ctx)
			if errors.Is(err, ErrDone) {
				return
			} else if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			ok := yield(v, nil)
			Ack(s)
			if !ok {
				return
			}
		}
	}
}
