// Package stats exposes hub-internal counters and gauges in Prometheus
// format. Every method is safe to call on a nil collector so components can
// run without instrumentation in tests.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	workersConnected    prometheus.Gauge
	dashboardsConnected prometheus.Gauge
	checksIssued        prometheus.Counter
	checkTimeouts       prometheus.Counter
	checkDuration       prometheus.Histogram
	broadcasts          prometheus.Counter
	messagesRouted      *prometheus.CounterVec
	messagesDropped     prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		workersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetwatch_workers_connected",
			Help: "Number of worker sessions currently connected",
		}),
		dashboardsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetwatch_dashboards_connected",
			Help: "Number of dashboard sessions currently connected",
		}),
		checksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_health_checks_issued_total",
			Help: "Total health checks issued to workers",
		}),
		checkTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_health_check_timeouts_total",
			Help: "Total health checks that timed out",
		}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetwatch_health_check_duration_seconds",
			Help:    "Latency from issuing a health check to its resolution",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_broadcasts_total",
			Help: "Total broadcast fan-outs performed by the registry",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_messages_routed_total",
			Help: "Inbound messages routed by the orchestrator, by type",
		}, []string{"type"}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_messages_dropped_total",
			Help: "Inbound messages dropped as malformed or unknown",
		}),
	}

	c.registry.MustRegister(
		c.workersConnected,
		c.dashboardsConnected,
		c.checksIssued,
		c.checkTimeouts,
		c.checkDuration,
		c.broadcasts,
		c.messagesRouted,
		c.messagesDropped,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SetWorkersConnected(n int) {
	if c == nil {
		return
	}
	c.workersConnected.Set(float64(n))
}

func (c *Collector) SetDashboardsConnected(n int) {
	if c == nil {
		return
	}
	c.dashboardsConnected.Set(float64(n))
}

func (c *Collector) CheckIssued() {
	if c == nil {
		return
	}
	c.checksIssued.Inc()
}

func (c *Collector) CheckTimedOut() {
	if c == nil {
		return
	}
	c.checkTimeouts.Inc()
}

func (c *Collector) ObserveCheckDuration(seconds float64) {
	if c == nil {
		return
	}
	c.checkDuration.Observe(seconds)
}

func (c *Collector) Broadcast() {
	if c == nil {
		return
	}
	c.broadcasts.Inc()
}

func (c *Collector) MessageRouted(msgType string) {
	if c == nil {
		return
	}
	c.messagesRouted.WithLabelValues(msgType).Inc()
}

func (c *Collector) MessageDropped() {
	if c == nil {
		return
	}
	c.messagesDropped.Inc()
}
