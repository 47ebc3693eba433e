// Package replace binds asynchronous sequences to an output sink, replacing
// the output with each value that arrives.
//
// A [Coordinator] owns one sink and at most one active subscription. Binding
// a new sequence supersedes the previous subscription without touching the
// output, so the last value stays visible until the new sequence produces
// its first element. Elements that arrive for a superseded subscription are
// discarded, no matter when they arrive.
package replace

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/creachadair/livebind"
	"github.com/creachadair/livebind/telemetry"
)

// A Sink is the output controlled by a [Coordinator].
type Sink[U any] interface {
	Write(U)
	Clear()
}

// An ErrorSink is a [Sink] that accepts failures of the bound sequence.
type ErrorSink interface {
	Fail(error)
}

// A Mapper transforms the element at the given index of a sequence before it
// is written to the sink. Indexes count from 0 for each new subscription.
type Mapper[T, U any] func(v T, index int) U

// State is the state of a [Coordinator].
type State int

const (
	Unbound    State = iota // no active subscription
	Awaiting                // subscribed, no element received yet
	Displaying              // the sink shows an element of the active subscription
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "Unbound"
	case Awaiting:
		return "Awaiting"
	case Displaying:
		return "Displaying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A Coordinator replaces the contents of a sink with the elements of the
// sequence most recently bound to it. A Coordinator is safe for concurrent
// use, but its mapper and sink are called with the coordinator's lock held
// and must not call back into it.
type Coordinator[T, U any] struct {
	sink     Sink[U]
	log      zerolog.Logger
	metrics  telemetry.Collector
	name     string
	empty    func(any) bool
	identity bool // T is assignable to U

	ctx    context.Context // governs all pulls, ended by Close
	cancel context.CancelFunc
	wg     sync.WaitGroup

	μ       sync.Mutex
	active  *subscription[T, U]
	pulling []*subscription[T, U] // subscriptions whose consumer is running
	nextID  uint64
	state   State
	closed  bool
}

type subscription[T, U any] struct {
	id     uint64
	seq    livebind.Sequence[T]
	mapper Mapper[T, U]
	index  int // next element index, guarded by the coordinator lock
}

// New constructs a new unbound [Coordinator] that writes to sink.
func New[T, U any](sink Sink[U], opts ...Option) *Coordinator[T, U] {
	if sink == nil {
		panic("replace: nil sink")
	}
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T, U]{
		sink:     sink,
		log:      cfg.logger.With().Str("coordinator", cfg.name).Logger(),
		metrics:  cfg.telemetry,
		name:     cfg.name,
		empty:    cfg.empty,
		identity: reflect.TypeFor[T]().AssignableTo(reflect.TypeFor[U]()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Bind subscribes c to seq. If seq is the sequence already bound, Bind does
// nothing: the existing subscription, its element index, and the current
// output are kept, and m is ignored. Otherwise the current subscription is
// superseded and c begins consuming seq from its start.
//
// If m is nil, elements are written unchanged, which requires T to be
// assignable to U. Bind panics if m is nil and it is not, or if c is closed.
func (c *Coordinator[T, U]) Bind(seq livebind.Sequence[T], m Mapper[T, U]) {
	if seq == nil {
		panic("replace: nil sequence")
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.closed {
		panic("replace: Bind on closed coordinator")
	}
	if c.active != nil && sameSequence(c.active.seq, seq) {
		c.log.Debug().Uint64("subscription", c.active.id).Msg("sequence already bound")
		return
	}
	if m == nil {
		if !c.identity {
			panic(fmt.Sprintf("replace: no mapper and %v is not assignable to %v",
				reflect.TypeFor[T](), reflect.TypeFor[U]()))
		}
		m = convert[T, U]
	}

	c.supersedeLocked()
	c.nextID++
	c.state = Awaiting
	c.metrics.IncBind(c.name)

	// A superseded subscription to seq may still be waiting for its next
	// element. Take over its pull rather than starting a second consumer.
	for _, sub := range c.pulling {
		if sameSequence(sub.seq, seq) {
			sub.id, sub.mapper, sub.index = c.nextID, m, 0
			c.active = sub
			c.log.Debug().Uint64("subscription", sub.id).Msg("bound sequence to pending pull")
			return
		}
	}
	sub := &subscription[T, U]{id: c.nextID, seq: seq, mapper: m}
	c.active = sub
	c.pulling = append(c.pulling, sub)
	c.log.Debug().Uint64("subscription", sub.id).Msg("bound sequence")

	c.wg.Add(1)
	go c.consume(sub)
}

// Set supersedes any active subscription and writes v to the sink.
func (c *Coordinator[T, U]) Set(v U) {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.supersedeLocked()
	c.state = Unbound
	c.sink.Write(v)
	c.metrics.IncWrite(c.name)
}

// Clear supersedes any active subscription and clears the sink.
func (c *Coordinator[T, U]) Clear() {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.supersedeLocked()
	c.state = Unbound
	c.sink.Clear()
	c.metrics.IncWrite(c.name)
}

// State reports the current state of c. A coordinator whose bound sequence
// has ended, normally or with an error, reports Unbound.
func (c *Coordinator[T, U]) State() State {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.state
}

// Close supersedes any active subscription, interrupts all pending pulls, and
// waits for the goroutines consuming them to exit. The output is not changed.
// Close is safe to call more than once.
func (c *Coordinator[T, U]) Close() {
	c.μ.Lock()
	if !c.closed {
		c.closed = true
		c.supersedeLocked()
		c.state = Unbound
	}
	c.μ.Unlock()

	c.cancel()
	c.wg.Wait()
}

// supersedeLocked retires the active subscription, if any.
// The caller must hold c.μ.
func (c *Coordinator[T, U]) supersedeLocked() {
	if c.active == nil {
		return
	}
	c.log.Debug().Uint64("subscription", c.active.id).Msg("superseded")
	c.metrics.IncSupersede(c.name)
	c.active = nil
}

// consume pulls elements from sub until sub is superseded, its sequence ends,
// or c is closed.
func (c *Coordinator[T, U]) consume(sub *subscription[T, U]) {
	defer c.wg.Done()
	for {
		v, err := sub.seq.Next(c.ctx)
		if err != nil {
			c.finish(sub, err)
			return
		}
		if !c.deliver(sub, v) {
			return
		}
	}
}

// deliver writes v to the sink if sub is still active, and reports whether
// it was. The element is acknowledged before the lock is released, so that a
// later subscription to the same sequence cannot observe the acknowledgement.
func (c *Coordinator[T, U]) deliver(sub *subscription[T, U], v T) bool {
	c.μ.Lock()
	defer c.μ.Unlock()
	defer livebind.Ack(sub.seq)
	if c.active != sub {
		c.log.Debug().Uint64("subscription", sub.id).Msg("discarded stale value")
		c.metrics.IncStale(c.name)
		c.dropLocked(sub)
		return false
	}
	if c.empty(any(v)) {
		c.sink.Clear()
	} else {
		c.sink.Write(sub.mapper(v, sub.index))
	}
	sub.index++
	c.state = Displaying
	c.metrics.IncWrite(c.name)
	return true
}

// finish handles the error that ended the pulls of sub. If sub is active it
// stays bound, so that binding its sequence again is still a no-op, but c
// reports Unbound since nothing more will arrive.
func (c *Coordinator[T, U]) finish(sub *subscription[T, U], err error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.dropLocked(sub)
	if c.ctx.Err() != nil {
		return // closed
	}
	if c.active == sub {
		c.state = Unbound
	}
	if errors.Is(err, livebind.ErrDone) {
		c.log.Debug().Uint64("subscription", sub.id).Msg("sequence done")
		return
	}

	es, ok := c.sink.(ErrorSink)
	if c.active != sub || !ok {
		c.log.Warn().Err(err).Uint64("subscription", sub.id).Bool("active", c.active == sub).Msg("sequence failed")
		return
	}
	es.Fail(fmt.Errorf("replace: subscription %d: %w", sub.id, err))
}

// dropLocked removes sub from the pulling set. The caller must hold c.μ.
func (c *Coordinator[T, U]) dropLocked(sub *subscription[T, U]) {
	c.pulling = slices.DeleteFunc(c.pulling, func(p *subscription[T, U]) bool { return p == sub })
}

// sameSequence reports whether a and b are the same sequence. Sequences of
// incomparable types are never the same.
func sameSequence[T any](a, b livebind.Sequence[T]) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// convert is the mapper used when none is given. T is assignable to U, but
// assignability between unnamed and named types or channel directions does
// not survive a type assertion, so those go through reflection.
func convert[T, U any](v T, _ int) U {
	if u, ok := any(v).(U); ok {
		return u
	}
	var u U
	reflect.ValueOf(&u).Elem().Set(reflect.ValueOf(&v).Elem().Convert(reflect.TypeFor[U]()))
	return u
}
