package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pinradar"

// Candidate source labels.
const (
	SourceCache  = "cache"
	SourceDirect = "direct"
)

// Metrics groups the collectors the discovery and lifecycle engines report to.
type Metrics struct {
	heartbeatDuration *prometheus.HistogramVec
	heartbeatPins     prometheus.Histogram
	candidateSource   *prometheus.CounterVec
	candidateDrops    *prometheus.CounterVec
	firstDiscoveries  prometheus.Counter

	indexWrites *prometheus.CounterVec

	passDuration *prometheus.HistogramVec
	passPins     *prometheus.CounterVec
	passFailures *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		heartbeatDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "heartbeat_duration_seconds",
			Help:      "Latency of heartbeat processing by outcome.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"outcome"}),
		heartbeatPins: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "heartbeat_pins",
			Help:      "Number of pins returned per heartbeat.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		}),
		candidateSource: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidate_lookups_total",
			Help:      "Candidate lookups by the source that answered them.",
		}, []string{"source"}),
		candidateDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidate_drops_total",
			Help:      "Candidates dropped by the precise filter, by reason.",
		}, []string{"reason"}),
		firstDiscoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "first_discoveries_total",
			Help:      "First discoveries recorded.",
		}),
		indexWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "writes_total",
			Help:      "Proximity index writes by operation and status.",
		}, []string{"op", "status"}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciler passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
		passPins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "pins_total",
			Help:      "Pins changed by reconciler passes.",
		}, []string{"pass"}),
		passFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "pass_failures_total",
			Help:      "Reconciler passes that failed.",
		}, []string{"pass"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Pin events published by subject and status.",
		}, []string{"subject", "status"}),
	}
}

var (
	defaultOnce sync.Once
	defaultSet  *Metrics
)

// Default returns the process-wide collectors on the default registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultSet = New(prometheus.DefaultRegisterer)
	})
	return defaultSet
}

// OrDiscard returns m, or collectors on a private registry when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveHeartbeat(outcome string, started time.Time, pins int) {
	m.heartbeatDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	if outcome == "ok" {
		m.heartbeatPins.Observe(float64(pins))
	}
}

func (m *Metrics) CandidateLookup(source string) {
	m.candidateSource.WithLabelValues(source).Inc()
}

func (m *Metrics) CandidateDropped(reason string) {
	m.candidateDrops.WithLabelValues(reason).Inc()
}

func (m *Metrics) FirstDiscovery() {
	m.firstDiscoveries.Inc()
}

func (m *Metrics) IndexWrite(op string, err error) {
	m.indexWrites.WithLabelValues(op, status(err)).Inc()
}

func (m *Metrics) ObservePass(pass string, started time.Time, pins int, err error) {
	m.passDuration.WithLabelValues(pass).Observe(time.Since(started).Seconds())
	if err != nil {
		m.passFailures.WithLabelValues(pass).Inc()
		return
	}
	m.passPins.WithLabelValues(pass).Add(float64(pins))
}

func (m *Metrics) EventPublished(subject string, err error) {
	m.eventsPublished.WithLabelValues(subject, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
