package ingestion

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the daemon's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	messages *prometheus.CounterVec
	upserts  prometheus.Counter
	removals prometheus.Counter
	batches  prometheus.Counter
	errors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treesnap_mirror_messages_total",
			Help: "Frames received from the runtime agent, by type.",
		}, []string{"type"}),
		upserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treesnap_mirror_nodes_upserted_total",
			Help: "Nodes written to the mirror.",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treesnap_mirror_nodes_removed_total",
			Help: "Nodes removed from the mirror.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treesnap_mirror_batches_committed_total",
			Help: "Write batches committed to the mirror.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treesnap_mirror_errors_total",
			Help: "Frames or writes that failed.",
		}),
	}
	reg.MustRegister(m.messages, m.upserts, m.removals, m.batches, m.errors)
	return m
}

func (m *Metrics) received(t MessageType) {
	if m != nil {
		m.messages.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) upserted(n int) {
	if m != nil {
		m.upserts.Add(float64(n))
	}
}

func (m *Metrics) removed(n int) {
	if m != nil {
		m.removals.Add(float64(n))
	}
}

func (m *Metrics) batch() {
	if m != nil {
		m.batches.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.errors.Inc()
	}
}
