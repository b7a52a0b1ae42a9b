package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCallMetrics(reg)
	c.ObserveCall("booked")
	c.ObserveTurn()

	a := NewAvailabilityMetrics(reg)
	a.ObserveCacheHit()
	a.ObserveCacheMiss()
	a.ObserveFetchError()

	b := NewBookingMetrics(reg)
	b.ObserveBooking("create", "ok")
	b.ObserveCriticalFailure()
	b.ObserveSchedulerLatency("create_appointment", 0.4)
}

func TestMetricsNilSafe(t *testing.T) {
	var c *CallMetrics
	c.ObserveCall("booked")
	c.ObserveTurn()

	var a *AvailabilityMetrics
	a.ObserveCacheHit()
	a.ObserveCacheMiss()
	a.ObserveFetchError()

	var b *BookingMetrics
	b.ObserveBooking("create", "ok")
	b.ObserveCriticalFailure()
	b.ObserveSchedulerLatency("create_appointment", 0.1)
}
