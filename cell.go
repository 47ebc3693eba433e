package livebind

import (
	"context"
	"sync"

	"github.com/creachadair/mds/value"
)

// A Cell is an output sink holding at most one value of type T, which may be
// concurrently accessed by multiple goroutines. A Cell is either empty or
// holds a value. A zero Cell is empty and ready for use, but must not be
// copied after its first use.
//
// A Cell satisfies the sink interfaces of the replace package.
type Cell[T any] struct {
	mu    sync.Mutex
	x     value.Maybe[T]
	err   error
	gen   int           // update generation, incremented by Write and Clear
	ready chan struct{} // signal channel for Wait
}

// NewCell creates a new Cell holding init.
func NewCell[T any](init T) *Cell[T] { return &Cell[T]{x: value.Just(init)} }

// Write replaces the contents of c with v and clears any recorded failure.
// Write wakes any goroutines blocked in Wait.
func (c *Cell[T]) Write(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x, c.err = value.Just(v), nil
	c.updatedLocked()
}

// Clear empties c and clears any recorded failure. Clear wakes any goroutines
// blocked in Wait, even if c was already empty.
func (c *Cell[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x, c.err = value.Absent[T](), nil
	c.updatedLocked()
}

// Fail records err as a failure of the producer feeding c and wakes any
// goroutines blocked in Wait. The contents of c are not changed, and Fail does
// not count as an update.
func (c *Cell[T]) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.wakeLocked()
}

func (c *Cell[T]) updatedLocked() {
	c.gen++
	c.wakeLocked()
}

func (c *Cell[T]) wakeLocked() {
	if c.ready != nil {
		close(c.ready)
		c.ready = nil
	}
}

// Get returns the current contents of c.
func (c *Cell[T]) Get() value.Maybe[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x
}

// Err returns the failure most recently recorded by Fail, or nil if c has been
// written or cleared since.
func (c *Cell[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Updates reports the number of times c has been written or cleared.
func (c *Cell[T]) Updates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Wait blocks until c is updated or fails, or until ctx ends, and returns the
// contents of c. The flag indicates whether c changed (true) or ctx ended
// (false).
//
// If several updates happen concurrently with a call to Wait, Wait returns
// the contents after one of them, but not necessarily the first.
func (c *Cell[T]) Wait(ctx context.Context) (value.Maybe[T], bool) {
	c.mu.Lock()
	if c.ready == nil {
		c.ready = make(chan struct{})
	}
	old, ready := c.x, c.ready
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return old, false
	case <-ready:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.x, true
	}
}
