package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests processed by the relay service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	outboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_outbox_depth",
			Help: "Number of entries in the outbox by status.",
		},
		[]string{"status"},
	)
	outboxDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbox_deliveries_total",
			Help: "Total number of outbox delivery attempts by result.",
		},
		[]string{"result"},
	)
	outboxDrainsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_outbox_drains_total",
			Help: "Total number of outbox drain passes.",
		},
	)
	badgeValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_badge_value",
			Help: "Current unread badge value by kind.",
		},
		[]string{"kind"},
	)
	badgePollErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_badge_poll_errors_total",
			Help: "Total number of failed badge count polls.",
		},
	)
	connectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connectivity_online",
			Help: "Whether the hosted backend is currently reachable (1/0).",
		},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_active_connections",
			Help: "Number of connected client surfaces.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		outboxDepth,
		outboxDeliveriesTotal,
		outboxDrainsTotal,
		badgeValue,
		badgePollErrorsTotal,
		connectivityOnline,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func SetOutboxDepth(pending, dead int) {
	outboxDepth.WithLabelValues("pending").Set(float64(pending))
	outboxDepth.WithLabelValues("dead").Set(float64(dead))
}

func IncOutboxDelivery(result string) {
	outboxDeliveriesTotal.WithLabelValues(result).Inc()
}

func IncOutboxDrain() {
	outboxDrainsTotal.Inc()
}

func SetBadge(direct, group, total int) {
	badgeValue.WithLabelValues("direct").Set(float64(direct))
	badgeValue.WithLabelValues("group").Set(float64(group))
	badgeValue.WithLabelValues("total").Set(float64(total))
}

func IncBadgePollError() {
	badgePollErrorsTotal.Inc()
}

func SetConnectivity(online bool) {
	if online {
		connectivityOnline.Set(1)
		return
	}
	connectivityOnline.Set(0)
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
