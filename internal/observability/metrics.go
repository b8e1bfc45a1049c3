package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics owns a private registry so tests can build it repeatedly.
type Metrics struct {
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	ticketEvents      *prometheus.CounterVec
	ticketOpsRejected *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helpdesk_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		ticketEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_ticket_events_total",
				Help: "History entries appended, by event type.",
			},
			[]string{"event"},
		),
		ticketOpsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_ticket_operations_rejected_total",
				Help: "Ticket operations rejected, by operation and error kind.",
			},
			[]string{"operation", "kind"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_external_errors_total",
				Help: "Failures talking to Kafka or search-service.",
			},
			[]string{"service"},
		),
	}
}

func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) IncrTicketEvent(event string) {
	if m == nil {
		return
	}
	m.ticketEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncrRejected(operation, kind string) {
	if m == nil {
		return
	}
	m.ticketOpsRejected.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) IncrExternalError(service string) {
	if m == nil {
		return
	}
	m.externalErrors.WithLabelValues(service).Inc()
}

// GinMiddleware observes request duration labelled with the matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
