// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixcheckout_orders_created_total",
			Help: "CreateOrder outcomes",
		},
		[]string{"outcome"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixcheckout_order_transitions_total",
			Help: "Applied order status transitions",
		},
		[]string{"from", "to"},
	)

	webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixcheckout_webhooks_total",
			Help: "Payment callbacks by outcome",
		},
		[]string{"outcome"},
	)

	sweeperProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixcheckout_sweeper_processed_total",
			Help: "Items handled by the expiration sweeper",
		},
		[]string{"step", "outcome"},
	)

	outboxProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixcheckout_outbox_events_total",
			Help: "Outbox events handed to kafka",
		},
		[]string{"outcome"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tixcheckout_tickets_issued_total",
			Help: "Tickets issued",
		},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tixcheckout_gateway_request_seconds",
			Help:    "Latency of payment provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op", "outcome"},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tixcheckout_http_request_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func OrderCreated(err error) { ordersCreated.WithLabelValues(outcome(err)).Inc() }

func OrderTransition(from, to string) { orderTransitions.WithLabelValues(from, to).Inc() }

func Webhook(result string) { webhooks.WithLabelValues(result).Inc() }

func SweeperProcessed(step string, err error) {
	sweeperProcessed.WithLabelValues(step, outcome(err)).Inc()
}

func OutboxProduced(n int, err error) {
	outboxProduced.WithLabelValues(outcome(err)).Add(float64(n))
}

func TicketsIssued(n int) { ticketsIssued.Add(float64(n)) }

func GatewayCall(provider, op string, started time.Time, err error) {
	gatewayLatency.WithLabelValues(provider, op, outcome(err)).Observe(time.Since(started).Seconds())
}

func HTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
