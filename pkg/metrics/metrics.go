package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/events"
)

var (
	// ObjectsTotal counts accept/reject decisions by host and outcome.
	ObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcynic_objects_total",
			Help: "Total number of validation decisions by host and outcome",
		},
		[]string{"host", "outcome"},
	)

	// RsyncTotal counts fetch attempts by host and outcome.
	RsyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcynic_rsync_total",
			Help: "Total number of rsync fetch attempts by host and outcome",
		},
		[]string{"host", "outcome"},
	)

	// RunDuration records the wall-clock duration of a full validation run.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rcynic_run_duration_seconds",
			Help:    "Duration of a full validation sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ObjectsTotal, RsyncTotal, RunDuration)
}

// Collector subscribes to the validation event bus and feeds the counters
// above. It never calls into the validators itself — exposition is a pure
// sink, keeping domain packages free of observability imports.
type Collector struct {
	sub    events.Subscriber
	broker *events.Broker
	stopCh chan struct{}
}

// NewCollector subscribes to broker.
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		sub:    broker.Subscribe(),
		broker: broker,
		stopCh: make(chan struct{}),
	}
}

// Start begins draining events in a goroutine.
func (c *Collector) Start() {
	go c.run()
}

// Stop unsubscribes and stops the drain loop.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.broker.Unsubscribe(c.sub)
}

func (c *Collector) run() {
	for {
		select {
		case ev, ok := <-c.sub:
			if !ok {
				return
			}
			c.observe(ev)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) observe(ev *events.Event) {
	switch ev.Outcome {
	case counters.RsyncSucceeded, counters.RsyncFailed, counters.RsyncTimedOut:
		RsyncTotal.WithLabelValues(ev.Host, ev.Outcome.String()).Inc()
	default:
		ObjectsTotal.WithLabelValues(ev.Host, ev.Outcome.String()).Inc()
	}
}

// Timer is a small helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Handler returns the promhttp handler for the --metrics-addr listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
