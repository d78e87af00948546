// Package metrics exports dispatch activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
)

const namespace = "hermes"

// Collector turns bus events into metrics on its own registry.
type Collector struct {
	reg *prometheus.Registry

	deliveries      *prometheus.CounterVec
	deliverySeconds prometheus.Histogram
	runs            *prometheus.CounterVec
	active          prometheus.Gauge
	progress        prometheus.Gauge

	ch          <-chan eventbus.Event
	unsubscribe func()
}

// New registers the metrics and subscribes to bus. Run drains the
// subscription.
func New(bus eventbus.Bus) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by result (sent, failed).",
		}, []string{"result"}),
		deliverySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_seconds",
			Help:      "Time spent delivering one link, waits included.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 120},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished dispatch runs by outcome.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a dispatch run is running or paused.",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_progress_ratio",
			Help:      "Fraction of links attempted in the current run.",
		}),
	}
	c.reg.MustRegister(
		c.deliveries, c.deliverySeconds, c.runs, c.active, c.progress,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(bus.Dropped()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Both results exist from the start so rate() works on the first run.
	c.deliveries.WithLabelValues("sent")
	c.deliveries.WithLabelValues("failed")

	c.ch, c.unsubscribe = bus.Subscribe(64, dispatch.TopicStarted, dispatch.TopicDelivery, dispatch.TopicProgress, dispatch.TopicFinished)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run consumes events until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	defer c.unsubscribe()
	eventbus.Consume(ctx, c.ch, c.observe)
	return nil
}

func (c *Collector) observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case dispatch.Started:
		c.active.Set(1)
		c.progress.Set(0)
	case dispatch.Delivery:
		result := "sent"
		if !d.OK() {
			result = "failed"
		}
		c.deliveries.WithLabelValues(result).Inc()
		c.deliverySeconds.Observe(d.Took.Seconds())
	case dispatch.Snapshot:
		if d.State.Active() {
			c.progress.Set(d.Percent() / 100)
		}
	case dispatch.Summary:
		c.active.Set(0)
		c.runs.WithLabelValues(d.Outcome.String()).Inc()
	}
}
