// Package stats provides a minimal scoped façade over go-metrics, so
// instruments can be passed down a call tree and rendered as JSON without
// leaking the go-metrics dependency to every package.
package stats

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rcrowley/go-metrics"
)

type StatsReceiver interface {
	// Scope returns a receiver recording under scope/.../name.
	Scope(scope ...string) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge

	// Render marshals every instrument registered through this receiver's
	// registry to JSON.
	Render(pretty bool) []byte
}

type Counter interface {
	Inc(delta int64)
	Count() int64
}

type Gauge interface {
	Update(value int64)
	Value() int64
}

// DefaultStatsReceiver records into a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

type defaultStatsReceiver struct {
	mu       sync.Mutex
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return metrics.GetOrRegisterCounter(s.scoped(name...), s.registry)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return metrics.GetOrRegisterGauge(s.scoped(name...), s.registry)
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		}
	})
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(out, "", "  ")
	} else {
		b, err = json.Marshal(out)
	}
	if err != nil {
		return []byte{}
	}
	return b
}

func (s *defaultStatsReceiver) scoped(name ...string) string {
	return strings.Join(append(append([]string{}, s.scope...), name...), "/")
}

// NilStatsReceiver discards everything; the default when callers pass nil.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s nilStatsReceiver) Counter(name ...string) Counter      { return nilInstrument{} }
func (s nilStatsReceiver) Gauge(name ...string) Gauge          { return nilInstrument{} }
func (s nilStatsReceiver) Render(pretty bool) []byte           { return []byte("{}") }

type nilInstrument struct{}

func (n nilInstrument) Inc(delta int64)    {}
func (n nilInstrument) Count() int64       { return 0 }
func (n nilInstrument) Update(value int64) {}
func (n nilInstrument) Value() int64       { return 0 }
