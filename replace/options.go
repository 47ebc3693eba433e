package replace

import (
	"reflect"

	"github.com/rs/zerolog"

	"github.com/creachadair/livebind/telemetry"
)

// An Option configures a [Coordinator].
type Option func(*settings)

type settings struct {
	logger    zerolog.Logger
	telemetry telemetry.Collector
	name      string
	empty     func(any) bool
}

func defaultSettings() settings {
	return settings{
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
		name:      "default",
		empty:     isNil,
	}
}

// WithLogger provides a logger for the coordinator. By default nothing is
// logged.
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

// WithName sets the name used to label the coordinator's logs and metrics.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithEmpty sets the predicate that decides whether an element clears the
// output instead of being mapped and written. By default an element is empty
// if it is nil: a nil interface value, or a nil pointer, map, slice, channel
// or func.
func WithEmpty(empty func(v any) bool) Option {
	return func(s *settings) {
		if empty != nil {
			s.empty = empty
		}
	}
}

// isNil reports whether v is nil or holds a nil value of a nillable kind.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}
