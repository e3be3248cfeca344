// Package obstest records metric updates so tests can assert on them.
package obstest

import (
	"sync"

	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
)

type sample struct {
	name   observability.MetricKey
	labels map[string]string
	value  float64
}

// Recorder is an Observability whose counters remember every Add.
// Spans and histograms are discarded.
type Recorder struct {
	Log observability.Logger

	mu      sync.Mutex
	samples []sample
}

func New() *Recorder {
	return &Recorder{Log: observability.NopLogger()}
}

func (r *Recorder) Tracer() observability.Tracer   { return observability.NopTracer() }
func (r *Recorder) Logger() observability.Logger   { return r.Log }
func (r *Recorder) Metrics() observability.Metrics { return r }

func (r *Recorder) Counter(name observability.MetricKey) observability.Counter {
	return &counter{r: r, name: name}
}

func (r *Recorder) Histogram(observability.MetricKey) observability.Histogram {
	return observability.NopHistogram()
}

// Count sums every Add on name whose labels include all of want.
func (r *Recorder) Count(name observability.MetricKey, want ...observability.Label) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total float64
	for _, s := range r.samples {
		if s.name != name || !matches(s.labels, want) {
			continue
		}
		total += s.value
	}
	return total
}

func (r *Recorder) add(name observability.MetricKey, v float64, labels []observability.Label) {
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.Key] = l.Value
	}
	r.mu.Lock()
	r.samples = append(r.samples, sample{name: name, labels: m, value: v})
	r.mu.Unlock()
}

func matches(have map[string]string, want []observability.Label) bool {
	for _, l := range want {
		if have[l.Key] != l.Value {
			return false
		}
	}
	return true
}

type counter struct {
	r    *Recorder
	name observability.MetricKey
}

func (c *counter) Add(v float64, labels ...observability.Label) { c.r.add(c.name, v, labels) }
