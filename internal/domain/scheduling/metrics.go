package scheduling

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts booking and availability outcomes. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	bookingAttempts     *prometheus.CounterVec
	availabilityQueries *prometheus.CounterVec
	availabilitySlots   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "booking_attempts_total",
			Help:      "Booking attempts by outcome kind",
		}, []string{"outcome"}),
		availabilityQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "availability_queries_total",
			Help:      "Availability queries by outcome kind",
		}, []string{"outcome"}),
		availabilitySlots: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Name:      "availability_slots",
			Help:      "Number of slots returned per availability query",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingAttempts, m.availabilityQueries, m.availabilitySlots)
	return m
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

func (m *Metrics) ObserveBooking(err error) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveAvailability(err error, slots int) {
	if m == nil {
		return
	}
	m.availabilityQueries.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.availabilitySlots.Observe(float64(slots))
	}
}
