// Package prommetrics exports allocator metrics to Prometheus.
//
//	c := prommetrics.New("ids")
//	prometheus.MustRegister(c)
//	a, _ := idfreelist.New(idfreelist.WithMetricsCollector(c))
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements idfreelist.MetricsCollector and prometheus.Collector.
type Collector struct {
	assigns     *prometheus.CounterVec
	assignTime  prometheus.Histogram
	releases    *prometheus.CounterVec
	grows       prometheus.Counter
	capacity    prometheus.Gauge
	recoveries  prometheus.Counter
	recovered   prometheus.Gauge
	recoverTime prometheus.Histogram
	checkpoints *prometheus.CounterVec
	ckptTime    prometheus.Histogram
}

// New creates a Collector whose metric names start with namespace.
func New(namespace string) *Collector {
	return &Collector{
		assigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assigns_total",
			Help:      "AssignID calls by result (fresh, existing, error).",
		}, []string{"result"}),
		assignTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assign_duration_seconds",
			Help:      "AssignID latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "ReleaseID calls by result (released, missing).",
		}, []string{"result"}),
		grows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grows_total",
			Help:      "Capacity growths.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity",
			Help:      "Addressable ids.",
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Completed recoveries.",
		}),
		recovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovered_bindings",
			Help:      "Bindings restored by the last recovery.",
		}),
		recoverTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recovery_duration_seconds",
			Help:      "Time from StartRecovery to FinishRecovery.",
			Buckets:   prometheus.DefBuckets,
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Registry checkpoints by result (ok, error).",
		}, []string{"result"}),
		ckptTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Registry checkpoint latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.assigns, c.assignTime, c.releases, c.grows, c.capacity,
		c.recoveries, c.recovered, c.recoverTime, c.checkpoints, c.ckptTime,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

// RecordAssign implements idfreelist.MetricsCollector.
func (c *Collector) RecordAssign(d time.Duration, fresh bool, err error) {
	c.assignTime.Observe(d.Seconds())
	switch {
	case err != nil:
		c.assigns.WithLabelValues("error").Inc()
	case fresh:
		c.assigns.WithLabelValues("fresh").Inc()
	default:
		c.assigns.WithLabelValues("existing").Inc()
	}
}

// RecordRelease implements idfreelist.MetricsCollector.
func (c *Collector) RecordRelease(found bool) {
	if found {
		c.releases.WithLabelValues("released").Inc()
		return
	}
	c.releases.WithLabelValues("missing").Inc()
}

// RecordGrow implements idfreelist.MetricsCollector.
func (c *Collector) RecordGrow(_, newCapacity int) {
	c.grows.Inc()
	c.capacity.Set(float64(newCapacity))
}

// RecordRecovery implements idfreelist.MetricsCollector.
func (c *Collector) RecordRecovery(bindings int, d time.Duration) {
	c.recoveries.Inc()
	c.recovered.Set(float64(bindings))
	c.recoverTime.Observe(d.Seconds())
}

// RecordCheckpoint implements idfreelist.MetricsCollector.
func (c *Collector) RecordCheckpoint(d time.Duration, err error) {
	c.ckptTime.Observe(d.Seconds())
	if err != nil {
		c.checkpoints.WithLabelValues("error").Inc()
		return
	}
	c.checkpoints.WithLabelValues("ok").Inc()
}
