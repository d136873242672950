// Package metrics holds the Prometheus collectors shared by the ingestion
// run, the dispatcher and the writer workers. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conch"

type Metrics struct {
	registry *prometheus.Registry

	parsed           *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	dispatched       *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	workerMessages   *prometheus.CounterVec
	workerLatency    *prometheus.HistogramVec
	fetchedBytes     *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastRunSuccess   prometheus.Gauge
}

// New builds the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		parsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_entries_total",
			Help:      "Leaf entries extracted from the dump, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_entries_total",
			Help:      "Entries rejected by the valuable-record filter, by kind.",
		}, []string{"kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revision_decisions_total",
			Help:      "Change detector outcomes, by kind and action.",
		}, []string{"kind", "action"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_messages_total",
			Help:      "Work messages acknowledged by the transport, by subject.",
		}, []string{"subject"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Work messages the transport did not accept, by subject.",
		}, []string{"subject"}),
		workerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_messages_total",
			Help:      "Work messages handled by writers, by subject and outcome.",
		}, []string{"subject", "outcome"}),
		workerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_message_seconds",
			Help:      "Time spent handling one work message.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"subject"}),
		fetchedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes downloaded by the conditional fetcher, by resource.",
		}, []string{"resource"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_run_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last completed ingestion run.",
		}),
	}

	m.registry.MustRegister(
		m.parsed,
		m.dropped,
		m.decisions,
		m.dispatched,
		m.dispatchFailures,
		m.workerMessages,
		m.workerLatency,
		m.fetchedBytes,
		m.runDuration,
		m.lastRunSuccess,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Parsed(kind string) {
	if m == nil {
		return
	}
	m.parsed.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) Decision(kind, action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) Dispatched(subject string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(subject).Inc()
}

func (m *Metrics) DispatchFailed(subject string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(subject).Inc()
}

func (m *Metrics) WorkerMessage(subject, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.workerMessages.WithLabelValues(subject, outcome).Inc()
	m.workerLatency.WithLabelValues(subject).Observe(elapsed.Seconds())
}

func (m *Metrics) Fetched(resource string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.fetchedBytes.WithLabelValues(resource).Add(float64(bytes))
}

func (m *Metrics) RunFinished(elapsed time.Duration, success bool, at time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Observe(elapsed.Seconds())
	if success {
		m.lastRunSuccess.Set(float64(at.Unix()))
	}
}
