// Package metrics holds the prometheus collectors of the relay.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

// Metrics is the set of relay collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	pollCycles   *prometheus.CounterVec
	pollDuration prometheus.Histogram
	surfaced     prometheus.Counter
	decisions    *prometheus.CounterVec
	sends        *prometheus.CounterVec
	sendAttempts prometheus.Counter
	recoveries   *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Change detector poll cycles by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of completed poll cycles.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		surfaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_surfaced_total",
			Help:      "Incoming messages surfaced to the decision engine.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Reply decisions by outcome.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Dispatched sends by final state.",
		}, []string{"state"}),
		sendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Individual connector send attempts.",
		}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_recoveries_total",
			Help:      "Connector recovery actions by trigger.",
		}, []string{"trigger"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "User utterances by resolution path.",
		}, []string{"path"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollCycles, m.pollDuration, m.surfaced, m.decisions,
		m.sends, m.sendAttempts, m.recoveries, m.resolutions,
	)
	return m
}

// Registry returns the registry for extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PollCycle records one poll cycle
func (m *Metrics) PollCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.pollDuration.Observe(d.Seconds())
	}
}

// Surfaced records surfaced incoming messages
func (m *Metrics) Surfaced(n int) {
	if m == nil {
		return
	}
	m.surfaced.Add(float64(n))
}

// Decision records a decision outcome
func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// Send records a finished send and its attempts
func (m *Metrics) Send(state string, attempts int) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(state).Inc()
	m.sendAttempts.Add(float64(attempts))
}

// Recovery records a connector recovery
func (m *Metrics) Recovery(trigger string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(trigger).Inc()
}

// Resolution records how a user utterance was handled
func (m *Metrics) Resolution(path string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(path).Inc()
}
