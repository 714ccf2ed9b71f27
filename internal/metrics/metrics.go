// Package metrics exposes Prometheus counters for admissions, rejections,
// cancellations and promotions, and a gauge of free units per tier.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors.  A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	admissions    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	promotions    *prometheus.CounterVec
	free          *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_admissions_total",
			Help: "Tickets admitted, by initial tier.",
		}, []string{"tier"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_rejections_total",
			Help: "Admissions refused, by reason.",
		}, []string{"reason"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_cancellations_total",
			Help: "Tickets cancelled, by status before cancellation.",
		}, []string{"status"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_promotions_total",
			Help: "Tickets moved up a tier after a cancellation.",
		}, []string{"from", "to"}),
		free: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "railway_free_units",
			Help: "Free numbers per tier at the last availability read.",
		}, []string{"tier"}),
	}
	reg.MustRegister(m.admissions, m.rejections, m.cancellations, m.promotions, m.free)
	return m
}

func (m *Metrics) Admitted(tier string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(tier).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Cancelled(status string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(status).Inc()
}

func (m *Metrics) Promoted(from, to string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(from, to).Inc()
}

// FreeUnits records the free count of each tier.
func (m *Metrics) FreeUnits(confirmed, rac, waiting int) {
	if m == nil {
		return
	}
	m.free.WithLabelValues("confirmed").Set(float64(confirmed))
	m.free.WithLabelValues("rac").Set(float64(rac))
	m.free.WithLabelValues("waiting_list").Set(float64(waiting))
}
