package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the session counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	created   prometheus.Counter
	destroyed prometheus.Counter
	swept     prometheus.Counter
	active    prometheus.Gauge
}

// NewMetrics creates the session metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Sessions created.",
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "sessions",
			Name:      "destroyed_total",
			Help:      "Sessions destroyed by logout or invalidation.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Expired sessions removed by the sweeper.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatehouse",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Unexpired sessions as of the last sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.destroyed, m.swept, m.active)
	}
	return m
}

func (m *Metrics) incCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) incDestroyed() {
	if m != nil {
		m.destroyed.Inc()
	}
}

func (m *Metrics) addSwept(n int) {
	if m != nil && n > 0 {
		m.swept.Add(float64(n))
	}
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.active.Set(float64(n))
	}
}
