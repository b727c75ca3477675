package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports limiter decisions and store health to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	failovers prometheus.Counter
	blocked   prometheus.Gauge
	penalties prometheus.Gauge
	anomalies *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions by service, outcome and deciding gate.",
		}, []string{"service", "outcome", "gate"}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_failovers_total",
			Help: "Counter store operations served by the in-memory fallback after a primary error.",
		}),
		blocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_blocked_ips",
			Help: "Currently blocked IP addresses.",
		}),
		penalties: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_active_penalties",
			Help: "Currently active penalties.",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_anomalies_total",
			Help: "Anomalies reported by detection runs.",
		}, []string{"type"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.decisions, m.failovers, m.blocked, m.penalties, m.anomalies} {
		if errRegister := reg.Register(c); errRegister != nil {
			return nil, errRegister
		}
	}
	return m, nil
}

func (m *Metrics) observeDecision(service ServiceName, res Result) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !res.Allowed {
		outcome = "rejected"
	}
	m.decisions.WithLabelValues(string(service), outcome, string(res.Gate)).Inc()
}

func (m *Metrics) observeFailover() {
	if m == nil {
		return
	}
	m.failovers.Inc()
}

func (m *Metrics) setState(blocked, penalties int) {
	if m == nil {
		return
	}
	m.blocked.Set(float64(blocked))
	m.penalties.Set(float64(penalties))
}

func (m *Metrics) observeAnomalies(found []Anomaly) {
	if m == nil {
		return
	}
	for _, a := range found {
		m.anomalies.WithLabelValues(string(a.Type)).Inc()
	}
}
