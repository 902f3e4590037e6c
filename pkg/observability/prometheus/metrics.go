package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "chatty"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics for the subscription server.
type Metrics struct {
	// Event bus metrics
	EventsPublished *prometheus.CounterVec
	HandlerPanics   prometheus.Counter

	// Subscription metrics
	ActiveSubscriptions prometheus.Gauge
	SubscriptionErrors  *prometheus.CounterVec

	// Connection metrics
	OpenConnections prometheus.Gauge
	FramesSent      *prometheus.CounterVec
	FramesDropped   prometheus.Counter
	SlowConsumers   prometheus.Counter

	// Store metrics
	StoreQueryDuration *prometheus.HistogramVec
}

// GetMetrics returns the singleton metrics collection, initializing it on
// first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates metrics registered with the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		EventsPublished: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatty_bus_events_published_total",
				Help: "Total number of events published per topic",
			},
			[]string{"topic"},
		),
		HandlerPanics: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "chatty_bus_handler_panics_total",
				Help: "Total number of recovered handler panics",
			},
		),
		ActiveSubscriptions: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "chatty_subscriptions_active",
				Help: "Number of active subscription instances",
			},
		),
		SubscriptionErrors: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatty_subscription_errors_total",
				Help: "Total number of per-subscription errors by code",
			},
			[]string{"code"},
		),
		OpenConnections: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "chatty_connections_open",
				Help: "Number of open subscription connections",
			},
		),
		FramesSent: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatty_frames_sent_total",
				Help: "Total number of outbound frames written per type",
			},
			[]string{"type"},
		),
		FramesDropped: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "chatty_frames_dropped_total",
				Help: "Total number of outbound frames dropped on overflow",
			},
		),
		SlowConsumers: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "chatty_slow_consumers_total",
				Help: "Total number of outbound queue overflows",
			},
		),
		StoreQueryDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatty_store_query_duration_seconds",
				Help:    "Store query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
	}
}
