package reportsync

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts view loads by source and results dropped as stale. A nil
// *Metrics records nothing.
type Metrics struct {
	loads *prometheus.CounterVec
	stale *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportsync_loads_total",
				Help: "Report view loads applied, by view and data source",
			},
			[]string{"view", "source"},
		),
		stale: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportsync_stale_results_total",
				Help: "Report view loads discarded because a newer load was issued",
			},
			[]string{"view"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.loads, m.stale)
	}
	return m
}

func (m *Metrics) loaded(view string, src Source) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(view, string(src)).Inc()
}

func (m *Metrics) discarded(view string) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(view).Inc()
}
