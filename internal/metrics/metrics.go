package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's Prometheus series on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	ActiveTrips  prometheus.Gauge
	ActiveVisits prometheus.Gauge

	TripsStarted prometheus.Counter
	TripsEnded   prometheus.Counter
	MilesLogged  prometheus.Counter

	VisitsStarted  prometheus.Counter
	VisitsFinished *prometheus.CounterVec // outcome label: completed|cancelled

	Samples        *prometheus.CounterVec // reason label
	IngestDuration prometheus.Histogram

	PersistFailures *prometheus.CounterVec // kind label
	PersistQueued   prometheus.Gauge

	EventsPublished *prometheus.CounterVec // result label: ok|error
	NATSConnected   prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_active_trips",
			Help: "Number of trips currently active.",
		}),
		ActiveVisits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_active_visits",
			Help: "Number of visits currently in progress.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_trips_ended_total",
			Help: "Total trips ended.",
		}),
		MilesLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_trip_miles_total",
			Help: "Total miles frozen on ended trips.",
		}),
		VisitsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_visits_started_total",
			Help: "Total visits started.",
		}),
		VisitsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_visits_finished_total",
			Help: "Total visits finished by outcome.",
		}, []string{"outcome"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_samples_total",
			Help: "Location samples seen by filter decision.",
		}, []string{"reason"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldops_ingest_duration_seconds",
			Help:    "Time spent handling one location sample.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_persist_failures_total",
			Help: "Persistence jobs that exhausted their retries.",
		}, []string{"kind"}),
		PersistQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_persist_queue_depth",
			Help: "Persistence jobs waiting to run.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_events_published_total",
			Help: "Lifecycle events published to NATS by result.",
		}, []string{"result"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_nats_connected",
			Help: "1 when the NATS connection is up.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrips, c.ActiveVisits,
		c.TripsStarted, c.TripsEnded, c.MilesLogged,
		c.VisitsStarted, c.VisitsFinished,
		c.Samples, c.IngestDuration,
		c.PersistFailures, c.PersistQueued,
		c.EventsPublished, c.NATSConnected,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) TripStarted(active int) {
	if c == nil {
		return
	}
	c.TripsStarted.Inc()
	c.ActiveTrips.Set(float64(active))
}

func (c *Collector) TripEnded(active int, miles float64) {
	if c == nil {
		return
	}
	c.TripsEnded.Inc()
	c.MilesLogged.Add(miles)
	c.ActiveTrips.Set(float64(active))
}

func (c *Collector) SampleSeen(reason string, d time.Duration) {
	if c == nil {
		return
	}
	c.Samples.WithLabelValues(reason).Inc()
	c.IngestDuration.Observe(d.Seconds())
}

func (c *Collector) VisitStarted(active int) {
	if c == nil {
		return
	}
	c.VisitsStarted.Inc()
	c.ActiveVisits.Set(float64(active))
}

func (c *Collector) VisitFinished(outcome string, active int) {
	if c == nil {
		return
	}
	c.VisitsFinished.WithLabelValues(outcome).Inc()
	c.ActiveVisits.Set(float64(active))
}

func (c *Collector) PersistFailed(kind string) {
	if c == nil {
		return
	}
	c.PersistFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.PersistQueued.Set(float64(n))
}

func (c *Collector) EventPublished(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.EventsPublished.WithLabelValues("error").Inc()
		return
	}
	c.EventsPublished.WithLabelValues("ok").Inc()
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
