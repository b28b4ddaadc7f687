package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Payments
	PaymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Payments accepted for processing",
		},
		[]string{"provider", "type"},
	)
	PaymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Payment status transitions",
		},
		[]string{"provider", "status"},
	)

	// Outbound provider calls
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound requests to payment and tax APIs",
		},
		[]string{"target", "outcome"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of outbound requests including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_token_refreshes_total",
			Help: "Access token fetches",
		},
		[]string{"provider", "outcome"},
	)

	// Reconciliation
	ReconciliationDiscrepancies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_discrepancies_total",
			Help: "Discrepancies found by reconciliation runs",
		},
		[]string{"provider", "status"},
	)

	// Smart invoices
	InvoiceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smart_invoice_transitions_total",
			Help: "Smart invoice status transitions",
		},
		[]string{"status"},
	)

	// Notifications and worker queue
	NotificationJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_total",
			Help: "Notification deliveries by channel",
		},
		[]string{"channel", "outcome"},
	)
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	initOnce sync.Once
)

var Handler = promhttp.Handler

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPLatency,
			PaymentsInitiated,
			PaymentTransitions,
			ProviderRequests,
			ProviderLatency,
			TokenRefreshes,
			ReconciliationDiscrepancies,
			InvoiceTransitions,
			NotificationJobs,
			WorkerQueueDepth,
		)
	})
}
