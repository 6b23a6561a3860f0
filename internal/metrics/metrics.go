// Package metrics exposes Prometheus collectors for a run, grounded on
// internal/interfaces/http/metrics.go's MetricsRegistry shape: a struct
// of labeled collectors created once and registered with the default
// registry, plus small recorder methods. The CLI records runs started and
// runs failed; the protocol driver and the transports do not call the
// state, barrier or transport recorders.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every collector a run exposes on /metrics.
type Registry struct {
	StateDuration    *prometheus.HistogramVec
	StateTransitions *prometheus.CounterVec
	BarrierWaitTime  *prometheus.HistogramVec
	RunsStarted      prometheus.Counter
	RunsFailed       *prometheus.CounterVec
	TransportErrors  *prometheus.CounterVec
}

// NewRegistry builds and registers every collector.
func NewRegistry() *Registry {
	r := &Registry{
		StateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fednorm_state_duration_seconds",
				Help:    "Time spent in each protocol state",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"state", "mode"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fednorm_state_transitions_total",
				Help: "Total number of protocol state transitions",
			},
			[]string{"state", "mode", "role"},
		),
		BarrierWaitTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fednorm_barrier_wait_seconds",
				Help:    "Time the coordinator spent waiting at an aggregation barrier",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"round", "mode"},
		),
		RunsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fednorm_runs_started_total",
				Help: "Total number of normalization runs started",
			},
		),
		RunsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fednorm_runs_failed_total",
				Help: "Total number of normalization runs that ended in error",
			},
			[]string{"kind"},
		),
		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fednorm_transport_errors_total",
				Help: "Total number of transport-level send/recv failures",
			},
			[]string{"transport"},
		),
	}

	prometheus.MustRegister(
		r.StateDuration,
		r.StateTransitions,
		r.BarrierWaitTime,
		r.RunsStarted,
		r.RunsFailed,
		r.TransportErrors,
	)
	return r
}

// StateTimer tracks how long the driver spent in one state.
type StateTimer struct {
	registry *Registry
	state    string
	mode     string
	role     string
	start    time.Time
}

// StartStateTimer begins timing a protocol state.
func (r *Registry) StartStateTimer(state, mode, role string) *StateTimer {
	r.StateTransitions.WithLabelValues(state, mode, role).Inc()
	return &StateTimer{registry: r, state: state, mode: mode, role: role, start: time.Now()}
}

// Stop records the elapsed time for the state being timed.
func (st *StateTimer) Stop() {
	st.registry.StateDuration.WithLabelValues(st.state, st.mode).Observe(time.Since(st.start).Seconds())
}

// RecordBarrierWait records how long a coordinator waited for a round's
// payloads to arrive.
func (r *Registry) RecordBarrierWait(round, mode string, d time.Duration) {
	r.BarrierWaitTime.WithLabelValues(round, mode).Observe(d.Seconds())
}

// RecordRunFailed records a run ending in the given error kind.
func (r *Registry) RecordRunFailed(kind string) {
	r.RunsFailed.WithLabelValues(kind).Inc()
	log.Warn().Str("kind", kind).Msg("run failed")
}

// RecordTransportError records a send/recv failure for a named transport.
func (r *Registry) RecordTransportError(transport string) {
	r.TransportErrors.WithLabelValues(transport).Inc()
}

// Handler returns the Prometheus scrape endpoint handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
