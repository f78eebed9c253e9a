package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "chat_service"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Websocket metrics
	WSConnections  prometheus.Gauge
	WSEventsTotal  *prometheus.CounterVec
	EventsMirrored prometheus.Counter

	// Business metrics
	MessagesSentTotal    *prometheus.CounterVec
	NegotiationsTotal    *prometheus.CounterVec
	ConversationsCreated prometheus.Counter
	IdleEvictionsTotal   prometheus.Counter
	AutoClosedTotal      prometheus.Counter
	NotificationFailures prometheus.Counter
}

// New creates and registers all metrics with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Current number of open websocket connections",
			},
		),
		WSEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_events_total",
				Help:      "Total number of websocket events processed",
			},
			[]string{"event", "result"},
		),
		EventsMirrored: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_mirrored_total",
				Help:      "Total number of room events mirrored to redis",
			},
		),

		MessagesSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages persisted",
			},
			[]string{"type"},
		),
		NegotiationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "negotiations_total",
				Help:      "Total number of negotiation transitions",
			},
			[]string{"action"},
		),
		ConversationsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversations_created_total",
				Help:      "Total number of conversations created",
			},
		),
		IdleEvictionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idle_evictions_total",
				Help:      "Total number of idle connections evicted",
			},
		),
		AutoClosedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversations_auto_closed_total",
				Help:      "Total number of conversations closed by the auto-close timer",
			},
		),
		NotificationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Total number of failed notification deliveries",
			},
		),
	}
}
