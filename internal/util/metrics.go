package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_completed_total",
		Help: "Total number of sales finalized, by resulting status",
	}, []string{"status"})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_failed_total",
		Help: "Total number of failed sale completions",
	}, []string{"reason"})

	SalesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_cancelled_total",
		Help: "Total number of cancelled draft sales",
	})

	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservations_created_total",
		Help: "Total number of stock holds placed",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of rejected stock holds",
	}, []string{"reason"})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservations_expired_total",
		Help: "Total number of holds expired by the sweeper",
	})

	ReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sale_commit_latency_seconds",
		Help:    "Latency of the atomic sale completion transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total number of payments recorded, by method",
	}, []string{"method"})

	PaymentsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_rejected_total",
		Help: "Total number of rejected payments",
	}, []string{"reason"})

	RefundsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_processed_total",
		Help: "Total number of refunds processed, by type",
	}, []string{"type"})

	CreditDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_denials_total",
		Help: "Total number of credit guard denials",
	}, []string{"reason"})

	CreditOverridesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_overrides_total",
		Help: "Total number of manager overrides past a credit denial",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
