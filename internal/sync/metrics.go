package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "specsync"

// Metrics exposes engine activity as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	queueItems    *prometheus.CounterVec
	pulled        *prometheus.CounterVec
	pending       prometheus.Gauge
	deadLetters   prometheus.Gauge
	status        *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by kind and result.",
		}, []string{"kind", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of sync cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		queueItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "items_processed_total",
			Help:      "Queue items handled by the drain, by outcome.",
		}, []string{"outcome"}),
		pulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "records_pulled_total",
			Help:      "Records written locally by the pull phase.",
		}, []string{"collection"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Queue items awaiting push.",
		}),
		deadLetters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "dead_letters",
			Help:      "Queue items retained after exhausting retries.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "status",
			Help:      "1 for the current engine status, 0 otherwise.",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		m.cycles, m.cycleDuration, m.queueItems, m.pulled, m.pending, m.deadLetters, m.status,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Queue outcomes.
const (
	outcomePushed       = "pushed"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
	outcomeDropped      = "dropped"
)

func (m *Metrics) observeCycle(kind string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.cycles.WithLabelValues(kind, result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeItem(outcome string) {
	if m == nil {
		return
	}
	m.queueItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observePull(collection string, n int) {
	if m == nil {
		return
	}
	m.pulled.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	m.pending.Set(float64(s.PendingChanges))
	m.deadLetters.Set(float64(s.DeadLetters))
	for _, st := range []Status{StatusIdle, StatusSyncing, StatusError, StatusOffline} {
		v := 0.0
		if st == s.Status {
			v = 1
		}
		m.status.WithLabelValues(string(st)).Set(v)
	}
}
