// Package metrics provides Prometheus metrics for the curation pipeline.
// Every Record method is safe on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the curator.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	AdmissionsTotal   *prometheus.CounterVec
	CandidatesStaged  prometheus.Counter
	StagingFailures   prometheus.Counter
	TransitionsTotal  *prometheus.CounterVec
	MergesTotal       *prometheus.CounterVec
	AnalystDropped    prometheus.Counter
	AnalystQueueDepth prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_turns_total",
				Help: "Conversational turns by outcome.",
			},
			[]string{"outcome"},
		),
		AdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_admissions_total",
				Help: "Rate limiter decisions by bucket and result.",
			},
			[]string{"bucket", "result"},
		),
		CandidatesStaged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_candidates_staged_total",
				Help: "Candidates written to the staging table.",
			},
		),
		StagingFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_staging_failures_total",
				Help: "Analyst or staging failures (non-fatal).",
			},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_transitions_total",
				Help: "Candidate status transitions by target status and result.",
			},
			[]string{"to", "result"},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_merges_total",
				Help: "Merge attempts by result.",
			},
			[]string{"result"},
		),
		AnalystDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_analyst_dropped_total",
				Help: "Exchanges dropped because the analyst queue was full.",
			},
		),
		AnalystQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curator_analyst_queue_depth",
				Help: "Exchanges waiting for an analyst worker.",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_http_requests_total",
				Help: "Management API requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curator_http_request_duration_seconds",
				Help:    "Management API request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TurnsTotal)
	reg.MustRegister(m.AdmissionsTotal)
	reg.MustRegister(m.CandidatesStaged)
	reg.MustRegister(m.StagingFailures)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.MergesTotal)
	reg.MustRegister(m.AnalystDropped)
	reg.MustRegister(m.AnalystQueueDepth)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn counts a conversational turn.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdmission counts a limiter decision.
func (m *Metrics) RecordAdmission(bucket string, admitted bool) {
	if m == nil {
		return
	}
	result := "admitted"
	if !admitted {
		result = "denied"
	}
	m.AdmissionsTotal.WithLabelValues(bucket, result).Inc()
}

// RecordStaged counts a staged candidate.
func (m *Metrics) RecordStaged() {
	if m == nil {
		return
	}
	m.CandidatesStaged.Inc()
}

// RecordStagingFailure counts a failed analyst/staging pass.
func (m *Metrics) RecordStagingFailure() {
	if m == nil {
		return
	}
	m.StagingFailures.Inc()
}

// RecordTransition counts a status change request.
func (m *Metrics) RecordTransition(to string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "refused"
	}
	m.TransitionsTotal.WithLabelValues(to, result).Inc()
}

// RecordMerge counts a merge attempt; result is applied, noop, invalid or rolled_back.
func (m *Metrics) RecordMerge(result string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(result).Inc()
}

// RecordAnalystDropped counts an exchange refused by a full queue.
func (m *Metrics) RecordAnalystDropped() {
	if m == nil {
		return
	}
	m.AnalystDropped.Inc()
}

// SetAnalystQueueDepth sets the queued exchange count.
func (m *Metrics) SetAnalystQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AnalystQueueDepth.Set(float64(n))
}

// RecordRequest increments the management API request counter.
func (m *Metrics) RecordRequest(route, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveDuration records management API request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
