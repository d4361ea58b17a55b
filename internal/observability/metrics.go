package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "confirmations_total", Help: "Payment confirmations by outcome"},
		[]string{"outcome"},
	)
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_booking",
			Name:      "backend_call_duration_seconds",
			Help:      "Latency of backend calls made by the booking client",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call", "result"},
	)
	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "outbox_deliveries_total", Help: "Ride outbox delivery attempts by result"},
		[]string{"result"},
	)
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_booking", Name: "outbox_pending", Help: "Ride records waiting for delivery"})

	RidesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "rides_created_total", Help: "Ride records persisted by the API"})
	PaymentsTotal     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "payments_total", Help: "Stripe operations performed by the API"},
		[]string{"op", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "http_panics_total", Help: "Handler panics recovered by route"},
		[]string{"path"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_booking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
