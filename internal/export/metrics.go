package export

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mr-Dark-debug/treesnap/internal/resolve"
)

// Export outcomes used as metric label values.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeSuperseded = "superseded"
	OutcomeTimeout    = "timeout"
)

// Metrics records export and bridge activity. It implements
// resolve.Observer so a join reports every bridge round trip.
type Metrics struct {
	exports        *prometheus.CounterVec
	exportDuration prometheus.Histogram
	calls          *prometheus.CounterVec
	callErrors     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	inFlight       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesnap_exports_total",
				Help: "Exports finished, by outcome",
			},
			[]string{"outcome"},
		),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "treesnap_export_duration_seconds",
			Help:    "Wall time of successful exports",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesnap_bridge_calls_total",
				Help: "Bridge round trips issued, by kind",
			},
			[]string{"kind"},
		),
		callErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesnap_bridge_call_errors_total",
				Help: "Bridge round trips that failed, by kind",
			},
			[]string{"kind"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treesnap_bridge_call_duration_seconds",
				Help:    "Bridge round trip latency, by kind",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"kind"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treesnap_bridge_calls_in_flight",
			Help: "Bridge round trips awaiting a response",
		}),
	}
	reg.MustRegister(m.exports, m.exportDuration, m.calls, m.callErrors, m.callDuration, m.inFlight)
	return m
}

// CallStarted implements resolve.Observer.
func (m *Metrics) CallStarted(kind resolve.CallKind) {
	m.calls.WithLabelValues(string(kind)).Inc()
	m.inFlight.Inc()
}

// CallFinished implements resolve.Observer.
func (m *Metrics) CallFinished(kind resolve.CallKind, elapsed time.Duration, err error) {
	m.inFlight.Dec()
	m.callDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err != nil {
		m.callErrors.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) observeExport(outcome string, elapsed time.Duration) {
	m.exports.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.exportDuration.Observe(elapsed.Seconds())
	}
}
