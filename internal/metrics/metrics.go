package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_orders_created_total",
			Help: "Order creation attempts by result",
		},
		[]string{"result"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_order_transitions_total",
			Help: "Committed order status transitions",
		},
		[]string{"from", "to"},
	)

	webhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_webhook_notifications_total",
			Help: "Payment notifications by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	paymentAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_payment_anomalies_total",
			Help: "Payment integrity anomalies recorded for manual reconciliation",
		},
		[]string{"kind"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kassa_expiration_sweep_duration_seconds",
			Help:    "Duration of expiration sweeps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	sweepOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_expiration_sweep_orders_total",
			Help: "Orders visited by expiration sweeps by result",
		},
		[]string{"result"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kassa_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func OrderCreated(result string) {
	ordersCreated.WithLabelValues(result).Inc()
}

func OrderTransition(from, to string) {
	orderTransitions.WithLabelValues(from, to).Inc()
}

func WebhookNotification(eventType, outcome string) {
	webhookNotifications.WithLabelValues(eventType, outcome).Inc()
}

func PaymentAnomaly(kind string) {
	paymentAnomalies.WithLabelValues(kind).Inc()
}

// SweepCompleted records one sweep pass.
func SweepCompleted(elapsed time.Duration, expired, skipped, failed int) {
	sweepDuration.Observe(elapsed.Seconds())
	sweepOrders.WithLabelValues("expired").Add(float64(expired))
	sweepOrders.WithLabelValues("skipped").Add(float64(skipped))
	sweepOrders.WithLabelValues("failed").Add(float64(failed))
}

// HTTPRequest records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
