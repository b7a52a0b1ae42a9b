package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters for call and turn handling.
type CallMetrics struct {
	callsTotal *prometheus.CounterVec
	turnsTotal prometheus.Counter
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Completed calls by outcome",
		}, []string{"outcome"}),
		turnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "calls",
			Name:      "turns_total",
			Help:      "Caller turns processed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.turnsTotal)
	return m
}

func (m *CallMetrics) ObserveCall(outcome string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(outcome).Inc()
}

func (m *CallMetrics) ObserveTurn() {
	if m == nil {
		return
	}
	m.turnsTotal.Inc()
}

// AvailabilityMetrics exposes cache and fetch counters for slot lookups.
type AvailabilityMetrics struct {
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	fetchErrors prometheus.Counter
}

func NewAvailabilityMetrics(reg prometheus.Registerer) *AvailabilityMetrics {
	m := &AvailabilityMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "availability",
			Name:      "cache_hits_total",
			Help:      "Slot cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "availability",
			Name:      "cache_misses_total",
			Help:      "Slot cache misses",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "availability",
			Name:      "fetch_errors_total",
			Help:      "Per-practitioner availability fetch failures",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.fetchErrors)
	return m
}

func (m *AvailabilityMetrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *AvailabilityMetrics) ObserveCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *AvailabilityMetrics) ObserveFetchError() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}

// BookingMetrics exposes booking outcome and critical-failure counters.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	criticalFailures prometheus.Counter
	requestLatency   *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "bookings",
			Name:      "total",
			Help:      "Booking operations by result",
		}, []string{"operation", "result"}),
		criticalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "bookings",
			Name:      "critical_failures_total",
			Help:      "Operations that exhausted retries",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "scheduler",
			Name:      "request_seconds",
			Help:      "Latency of external scheduler calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.criticalFailures, m.requestLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(operation, result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, result).Inc()
}

func (m *BookingMetrics) ObserveCriticalFailure() {
	if m == nil {
		return
	}
	m.criticalFailures.Inc()
}

func (m *BookingMetrics) ObserveSchedulerLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(operation).Observe(seconds)
}
