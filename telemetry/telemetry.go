// Package telemetry defines the metrics hooks used by livebind consumers.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures events emitted by coordinators and live bindings.
//
// Implementations should be inexpensive to call, since hooks run inline while
// the owning component holds its lock.
type Collector interface {
	IncBind(name string)
	IncSupersede(name string)
	IncWrite(name string)
	IncStale(name string)
	IncLiveCommit(name string, stored bool)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector { return noopCollector{} }

func (noopCollector) IncBind(string)             {}
func (noopCollector) IncSupersede(string)        {}
func (noopCollector) IncWrite(string)            {}
func (noopCollector) IncStale(string)            {}
func (noopCollector) IncLiveCommit(string, bool) {}

// PrometheusCollector exposes counters via Prometheus.
type PrometheusCollector struct {
	binds       *prometheus.CounterVec
	supersedes  *prometheus.CounterVec
	writes      *prometheus.CounterVec
	stale       *prometheus.CounterVec
	liveCommits *prometheus.CounterVec
}

// counterKey identifies a counter registered with a particular registerer.
type counterKey struct {
	reg  prometheus.Registerer
	name string
}

var (
	countersLock sync.Mutex
	counters     = map[counterKey]*prometheus.CounterVec{}
)

// NewPrometheusCollector registers the required metrics with reg. If reg is
// nil, prometheus.DefaultRegisterer is used. Collectors created for the same
// registerer share their counters, and registering with a registry that
// already holds the metrics reuses the existing counters. Collectors for
// different registerers are independent. The registerer must be comparable,
// as every implementation in client_golang is.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	countersLock.Lock()
	defer countersLock.Unlock()

	var p PrometheusCollector
	for _, m := range []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&p.binds, "livebind_binds_total", "Number of subscriptions started per coordinator.", []string{"name"}},
		{&p.supersedes, "livebind_supersedes_total", "Number of subscriptions superseded per coordinator.", []string{"name"}},
		{&p.writes, "livebind_writes_total", "Number of values written or cleared per coordinator.", []string{"name"}},
		{&p.stale, "livebind_stale_discards_total", "Number of values discarded from superseded subscriptions.", []string{"name"}},
		{&p.liveCommits, "livebind_live_commits_total", "Number of live binding commits by outcome.", []string{"name", "outcome"}},
	} {
		c, err := register(reg, m.name, m.help, m.labels)
		if err != nil {
			return nil, err
		}
		*m.dst = c
	}
	return &p, nil
}

// register must be called with countersLock held.
func register(reg prometheus.Registerer, name, help string, labels []string) (*prometheus.CounterVec, error) {
	key := counterKey{reg: reg, name: name}
	if c, ok := counters[key]; ok {
		return c, nil
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		counter = existing
	}
	counters[key] = counter
	return counter, nil
}

// IncBind counts a new subscription.
func (p *PrometheusCollector) IncBind(name string) {
	if p != nil {
		inc(p.binds, name)
	}
}

// IncSupersede counts a superseded subscription.
func (p *PrometheusCollector) IncSupersede(name string) {
	if p != nil {
		inc(p.supersedes, name)
	}
}

// IncWrite counts a write or clear of the output sink.
func (p *PrometheusCollector) IncWrite(name string) {
	if p != nil {
		inc(p.writes, name)
	}
}

// IncStale counts a value discarded because its subscription was superseded.
func (p *PrometheusCollector) IncStale(name string) {
	if p != nil {
		inc(p.stale, name)
	}
}

// IncLiveCommit counts a live binding commit, labelled by whether the target
// was stored or the commit was skipped.
func (p *PrometheusCollector) IncLiveCommit(name string, stored bool) {
	if p == nil {
		return
	}
	outcome := "skipped"
	if stored {
		outcome = "stored"
	}
	inc(p.liveCommits, name, outcome)
}

func inc(c *prometheus.CounterVec, labels ...string) {
	if c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}
