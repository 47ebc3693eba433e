// Package live reconciles bound values against state that may be changed
// outside the binding.
//
// A plain binding remembers the value it last committed and skips a commit
// of the same value, even if the target was changed in the meantime. A live
// binding instead compares against the target's current value, so a commit
// restores a value that was changed externally, and a commit that matches
// the target does not store anything.
package live

import (
	"sync"

	"github.com/creachadair/mds/value"
	"github.com/rs/zerolog"

	"github.com/creachadair/livebind/telemetry"
)

// A Target is mutable state that a binding writes to. Load reports the current
// value, or false if the target currently has no value.
type Target[T any] interface {
	Load() (T, bool)
	Store(T)
}

// A Binding commits values of type T to a [Target].
// A Binding is safe for concurrent use.
type Binding[T comparable] struct {
	target  Target[T]
	live    bool
	log     zerolog.Logger
	metrics telemetry.Collector
	name    string

	mu   sync.Mutex
	last value.Maybe[T] // last committed value, for non-live bindings
}

// New constructs a live binding to t.
func New[T comparable](t Target[T], opts ...Option) *Binding[T] {
	return newBinding(t, true, opts)
}

// NewCached constructs a binding to t that compares commits against the
// value it last committed, and ignores changes made to t by others.
func NewCached[T comparable](t Target[T], opts ...Option) *Binding[T] {
	return newBinding(t, false, opts)
}

func newBinding[T comparable](t Target[T], live bool, opts []Option) *Binding[T] {
	cfg := settings{logger: zerolog.Nop(), telemetry: telemetry.Noop(), name: "default"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Binding[T]{
		target:  t,
		live:    live,
		log:     cfg.logger.With().Str("binding", cfg.name).Bool("live", live).Logger(),
		metrics: cfg.telemetry,
		name:    cfg.name,
	}
}

// Commit makes v the value of the target, and reports whether the target was
// stored to.
func (b *Binding[T]) Commit(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.last
	if b.live {
		if x, ok := b.target.Load(); ok {
			cur = value.Just(x)
		} else {
			cur = value.Absent[T]()
		}
	}
	if x, ok := cur.GetOK(); ok && x == v {
		b.metrics.IncLiveCommit(b.name, false)
		return false
	}
	b.target.Store(v)
	b.last = value.Just(v)
	b.metrics.IncLiveCommit(b.name, true)
	b.log.Debug().Interface("value", v).Msg("stored")
	return true
}

// An Option configures a [Binding].
type Option func(*settings)

type settings struct {
	logger    zerolog.Logger
	telemetry telemetry.Collector
	name      string
}

// WithLogger provides a logger for the binding.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithTelemetry injects a metrics collector. A nil collector discards metrics.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(s *settings) {
		if collector == nil {
			collector = telemetry.Noop()
		}
		s.telemetry = collector
	}
}

// WithName sets the name used to label the binding's logs and metrics.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}
