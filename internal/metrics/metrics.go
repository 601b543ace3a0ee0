// Package metrics содержит метрики Prometheus сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal считает HTTP-запросы по методу, шаблону маршрута и статусу.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration измеряет время обработки HTTP-запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// ActiveRequests показывает число запросов в обработке.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Current number of active HTTP requests",
		},
	)

	// StoreOperationDuration измеряет операции хранилища по имени операции и бэкенду.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of storage operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "backend"},
	)

	// TaskTransitionsTotal считает переходы задач с исходом для залога: none, refunded, forfeited.
	TaskTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_transitions_total",
			Help: "Total number of task lifecycle transitions",
		},
		[]string{"event", "mode", "outcome"},
	)

	// PaymentsTotal считает попытки оплаты залога: approved или declined.
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Total number of simulated deposit payments",
		},
		[]string{"result"},
	)
)

// TrackStoreOperation запускает таймер операции хранилища.
func TrackStoreOperation(operation, backend string) *prometheus.Timer {
	return prometheus.NewTimer(StoreOperationDuration.WithLabelValues(operation, backend))
}

// TrackTransition учитывает переход задачи.
func TrackTransition(event, mode, outcome string) {
	TaskTransitionsTotal.WithLabelValues(event, mode, outcome).Inc()
}

// TrackPayment учитывает результат платежа: approved или declined.
func TrackPayment(result string) {
	PaymentsTotal.WithLabelValues(result).Inc()
}
