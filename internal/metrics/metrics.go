// Package metrics exports the control loop's state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/traffic.control/internal/coordination"
)

const namespace = "signalctl"

// Metrics is a coordination.Sink and TickObserver that records every
// outcome, congestion event and tick summary.
type Metrics struct {
	registry *prometheus.Registry

	green        *prometheus.GaugeVec
	reward       *prometheus.GaugeVec
	queue        *prometheus.GaugeVec
	actions      *prometheus.CounterVec
	congestion   *prometheus.CounterVec
	ticks        prometheus.Counter
	skipped      prometheus.Counter
	defaulted    prometheus.Counter
	tickDuration prometheus.Histogram
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		green: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "green_duration_seconds",
			Help:      "Current green phase duration per intersection.",
		}, []string{"intersection"}),
		reward: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reward",
			Help:      "Reward of the last tick per intersection.",
		}, []string{"intersection"}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Queued vehicles seen in the last tick per intersection.",
		}, []string{"intersection"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Phase decisions taken, by intersection and action.",
		}, []string{"intersection", "action"}),
		congestion: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "congestion_events_total",
			Help:      "Ticks in which a segment was congested.",
		}, []string{"segment", "level"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed control ticks.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_agents_total",
			Help:      "Agent turns skipped because the agent was deregistered mid-tick.",
		}),
		defaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "default_telemetry_total",
			Help:      "Agent turns that used the default snapshot.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one control tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.green, m.reward, m.queue, m.actions, m.congestion,
		m.ticks, m.skipped, m.defaulted, m.tickDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry so callers may add collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Congestion implements coordination.Sink.
func (m *Metrics) Congestion(ev coordination.CongestionEvent) error {
	m.congestion.WithLabelValues(ev.SegmentID, ev.Level.String()).Inc()
	return nil
}

// Outcome implements coordination.Sink.
func (m *Metrics) Outcome(o coordination.Outcome) error {
	m.green.WithLabelValues(o.IntersectionID).Set(o.GreenDuration.Seconds())
	m.reward.WithLabelValues(o.IntersectionID).Set(o.Reward)
	m.queue.WithLabelValues(o.IntersectionID).Set(float64(o.Telemetry.QueueLength))
	m.actions.WithLabelValues(o.IntersectionID, o.Action.String()).Inc()
	return nil
}

// TickDone implements coordination.TickObserver.
func (m *Metrics) TickDone(s coordination.TickSummary) {
	m.ticks.Inc()
	m.skipped.Add(float64(s.Skipped))
	m.defaulted.Add(float64(s.Defaulted))
	m.tickDuration.Observe(s.Duration.Seconds())
}

// WatchSegments exports the saturation of every monitored segment, read
// from views at scrape time so uncongested segments are visible too.
func (m *Metrics) WatchSegments(views func() []coordination.SegmentView) error {
	return m.registry.Register(&segmentCollector{views: views})
}

var saturationDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "", "segment_saturation"),
	"Saturation degree (occupancy / capacity) from the last tick.",
	[]string{"segment", "name"}, nil,
)

type segmentCollector struct {
	views func() []coordination.SegmentView
}

func (c *segmentCollector) Describe(ch chan<- *prometheus.Desc) { ch <- saturationDesc }

func (c *segmentCollector) Collect(ch chan<- prometheus.Metric) {
	for _, v := range c.views() {
		if v.Status == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(saturationDesc, prometheus.GaugeValue, v.Status.Saturation, v.LaneID, v.Name)
	}
}
