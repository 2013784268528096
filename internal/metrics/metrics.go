// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the orchestrator's Prometheus metrics.
type Collector struct {
	runsStarted        prometheus.Counter
	runsFinished       *prometheus.CounterVec
	runDuration        prometheus.Histogram
	eventsPublished    prometheus.Counter
	subscribersActive  prometheus.Gauge
	subscribersDropped prometheus.Counter
	cronFirings        *prometheus.CounterVec
}

// NewCollector registers and returns the orchestrator metrics.
func NewCollector() *Collector {
	return &Collector{
		runsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentplane_runs_started_total",
			Help: "Total number of runs started",
		}),
		runsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_runs_finished_total",
			Help: "Total number of runs finished by terminal status",
		}, []string{"status"}),
		runDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentplane_run_duration_seconds",
			Help:    "Wall-clock duration of runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		eventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentplane_events_published_total",
			Help: "Total number of run events published to the broker",
		}),
		subscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentplane_subscribers_active",
			Help: "Number of live run event subscribers",
		}),
		subscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentplane_subscribers_dropped_total",
			Help: "Total number of subscribers disconnected for lagging",
		}),
		cronFirings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_cron_firings_total",
			Help: "Total number of cron firings by outcome",
		}, []string{"status"}),
	}
}

// NewNopCollector returns metrics bound to a throwaway registry, for tests.
func NewNopCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentplane_runs_started_total", Help: "Total number of runs started",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_runs_finished_total", Help: "Total number of runs finished by terminal status",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "agentplane_run_duration_seconds", Help: "Wall-clock duration of runs",
		}),
		eventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentplane_events_published_total", Help: "Total number of run events published to the broker",
		}),
		subscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentplane_subscribers_active", Help: "Number of live run event subscribers",
		}),
		subscribersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentplane_subscribers_dropped_total", Help: "Total number of subscribers disconnected for lagging",
		}),
		cronFirings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_cron_firings_total", Help: "Total number of cron firings by outcome",
		}, []string{"status"}),
	}
}

// RunStarted increments the started-runs counter.
func (c *Collector) RunStarted() {
	c.runsStarted.Inc()
}

// RunFinished records a run's terminal status and duration.
func (c *Collector) RunFinished(status string, seconds float64) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.Observe(seconds)
}

// EventPublished increments the published-events counter.
func (c *Collector) EventPublished() {
	c.eventsPublished.Inc()
}

// SubscriberConnected adjusts the live subscriber gauge.
func (c *Collector) SubscriberConnected() {
	c.subscribersActive.Inc()
}

// SubscriberDisconnected adjusts the live subscriber gauge.
func (c *Collector) SubscriberDisconnected() {
	c.subscribersActive.Dec()
}

// SubscriberDropped counts a subscriber disconnected for lagging.
func (c *Collector) SubscriberDropped() {
	c.subscribersDropped.Inc()
	c.subscribersActive.Dec()
}

// CronFiring records a firing outcome.
func (c *Collector) CronFiring(status string) {
	c.cronFirings.WithLabelValues(status).Inc()
}
