// Package metrics exposes Prometheus collectors for taxonomy submissions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labeller"

type Metrics struct {
	registry       *prometheus.Registry
	submissions    *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	created        *prometheus.CounterVec
	skippedColours prometheus.Counter
	sideEffects    *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "class_editor",
			Name:      "submissions_total",
			Help:      "Class editor submissions by action and outcome code.",
		}, []string{"action", "status", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "class_editor",
			Name:      "submission_duration_seconds",
			Help:      "Time spent applying one class editor submission.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taxonomy",
			Name:      "created_total",
			Help:      "Taxonomy records created, by kind.",
		}, []string{"kind"}),
		skippedColours: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taxonomy",
			Name:      "skipped_colours_total",
			Help:      "Colour entries ignored because no scheme has their name.",
		}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taxonomy",
			Name:      "side_effect_failures_total",
			Help:      "Post-commit tasks (search, history) that failed.",
		}, []string{"task"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.duration,
		m.created,
		m.skippedColours,
		m.sideEffects,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveSubmission(action, status, code string, started time.Time) {
	m.submissions.WithLabelValues(action, status, code).Inc()
	m.duration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddCreated(kind string, n int) {
	if n > 0 {
		m.created.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) AddSkippedColours(n int) {
	if n > 0 {
		m.skippedColours.Add(float64(n))
	}
}

func (m *Metrics) SideEffectFailed(task string) {
	m.sideEffects.WithLabelValues(task).Inc()
}
