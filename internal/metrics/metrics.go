// Package metrics exports Prometheus counters and histograms for engine
// lifecycle and call-dispatch events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	enginesStarted *prometheus.CounterVec
	enginesDied    *prometheus.CounterVec
	enginesActive  *prometheus.GaugeVec

	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	callTimeouts  *prometheus.CounterVec
	interrupts    *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	startDuration *prometheus.HistogramVec
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var m *Metrics

// Init initializes the Prometheus metrics subsystem under the given
// namespace. Safe to call once at daemon startup.
func Init(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mm := &Metrics{
		registry: registry,

		enginesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engines_started_total",
			Help:      "Total number of engine start attempts by kind and outcome",
		}, []string{"kind", "outcome"}),

		enginesDied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engines_died_total",
			Help:      "Total number of engine processes that exited, by kind and reason",
		}, []string{"kind", "reason"}),

		enginesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engines_active",
			Help:      "Number of engines currently registered, by state",
		}, []string{"kind", "state"}),

		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total dispatched calls by method and outcome",
		}, []string{"kind", "method", "outcome"}),

		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_ms",
			Help:      "Call latency in milliseconds",
			Buckets:   defaultBuckets,
		}, []string{"kind", "method"}),

		callTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_timeouts_total",
			Help:      "Total calls that hit evaluate_timeout",
		}, []string{"kind"}),

		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total interrupt requests by target state (queued, in_flight)",
		}, []string{"kind", "target"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending calls waiting in an engine's dispatch queue",
		}, []string{"identifier"}),

		startDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_start_duration_ms",
			Help:      "Time from spawn to readiness token, in milliseconds",
			Buckets:   defaultBuckets,
		}, []string{"kind"}),
	}

	registry.MustRegister(
		mm.enginesStarted, mm.enginesDied, mm.enginesActive,
		mm.callsTotal, mm.callDuration, mm.callTimeouts,
		mm.interrupts, mm.queueDepth, mm.startDuration,
	)

	m = mm
	return mm
}

// Default returns the process-wide Metrics instance, or nil if Init was
// never called (metrics are then no-ops).
func Default() *Metrics { return m }

// Handler returns the HTTP handler serving the Prometheus exposition
// format for this registry.
func (mm *Metrics) Handler() http.Handler {
	if mm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{})
}

// RecordEngineStart records the outcome of a start attempt.
func (mm *Metrics) RecordEngineStart(kind, outcome string, duration float64) {
	if mm == nil {
		return
	}
	mm.enginesStarted.WithLabelValues(kind, outcome).Inc()
	if outcome == "ok" {
		mm.startDuration.WithLabelValues(kind).Observe(duration)
	}
}

// RecordEngineDeath records a process exit, crash or explicit kill.
func (mm *Metrics) RecordEngineDeath(kind, reason string) {
	if mm == nil {
		return
	}
	mm.enginesDied.WithLabelValues(kind, reason).Inc()
}

// SetActiveEngines sets the current gauge value for a kind/state pair.
func (mm *Metrics) SetActiveEngines(kind, state string, n float64) {
	if mm == nil {
		return
	}
	mm.enginesActive.WithLabelValues(kind, state).Set(n)
}

// RecordCall records a completed dispatch with its outcome and latency.
func (mm *Metrics) RecordCall(kind, method, outcome string, durationMs float64) {
	if mm == nil {
		return
	}
	mm.callsTotal.WithLabelValues(kind, method, outcome).Inc()
	mm.callDuration.WithLabelValues(kind, method).Observe(durationMs)
}

// RecordTimeout increments the per-kind timeout counter.
func (mm *Metrics) RecordTimeout(kind string) {
	if mm == nil {
		return
	}
	mm.callTimeouts.WithLabelValues(kind).Inc()
}

// RecordInterrupt increments the interrupt counter for a queued or
// in-flight target.
func (mm *Metrics) RecordInterrupt(kind, target string) {
	if mm == nil {
		return
	}
	mm.interrupts.WithLabelValues(kind, target).Inc()
}

// SetQueueDepth reports the current pending-call count for one engine.
func (mm *Metrics) SetQueueDepth(identifier string, depth float64) {
	if mm == nil {
		return
	}
	mm.queueDepth.WithLabelValues(identifier).Set(depth)
}
