// Package metrics exposes Prometheus instrumentation for runs and remote executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

const (
	MetricsNamespace = "testmgmt"
)

// Metrics holds every collector of the service. A nil *Metrics records nothing.
type Metrics struct {
	runsCreated   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	resultsTotal  *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	executions    *prometheus.CounterVec
	execDuration  prometheus.Histogram
	rejectedLate  prometheus.Counter
	streamClients prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_created_total",
			Help:      "Count of created test runs",
		}, []string{"trigger"}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_finished_total",
			Help:      "Count of test runs reaching a terminal status",
		}, []string{"status"}),
		resultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "results_total",
			Help:      "Count of recorded test results",
		}, []string{"outcome"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "queue_depth",
			Help:      "Runs waiting for a worker",
		}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "remote_executions_total",
			Help:      "Calls to the remote execution target",
		}, []string{"result"}),
		execDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "remote_execution_seconds",
			Help:      "Latency of remote execution calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		rejectedLate: f.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "late_results_rejected_total",
			Help:      "Results dropped because their run was already terminal",
		}),
		streamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "stream_clients",
			Help:      "Connected run stream subscribers",
		}),
	}
}

func (m *Metrics) RunCreated(trigger domain.Trigger) {
	if m == nil {
		return
	}
	m.runsCreated.WithLabelValues(string(trigger)).Inc()
}

func (m *Metrics) RunFinished(status domain.RunStatus) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ResultRecorded(outcome domain.Outcome) {
	if m == nil {
		return
	}
	m.resultsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RemoteExecution records one call to the execution target. result is "ok", "transient" or "error".
func (m *Metrics) RemoteExecution(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(result).Inc()
	m.execDuration.Observe(d.Seconds())
}

func (m *Metrics) LateResultRejected() {
	if m == nil {
		return
	}
	m.rejectedLate.Inc()
}

func (m *Metrics) StreamClientsDelta(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}
