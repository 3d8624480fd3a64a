// Package metrics provides Prometheus metrics for the price tracker.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricetracker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricetracker_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Sweep Metrics
	SweepRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricetracker_sweep_runs_total",
			Help: "Total number of sweep runs",
		},
	)

	SweepItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricetracker_sweep_items_processed_total",
			Help: "Sweep items processed by outcome",
		},
		[]string{"outcome"}, // "updated", "unchanged", "errored"
	)

	SweepAlertsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricetracker_sweep_alerts_created_total",
			Help: "Total number of price alerts created by sweeps",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricetracker_sweep_duration_seconds",
			Help:    "Time taken to process one sweep batch",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Fetch Metrics
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricetracker_fetch_requests_total",
			Help: "Listing page fetches by result",
		},
		[]string{"result"}, // "ok", "http_error", "network_error", "cached"
	)

	// Notification Metrics
	NotificationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricetracker_notifications_sent_total",
			Help: "Push notifications delivered successfully",
		},
	)

	NotificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricetracker_notifications_failed_total",
			Help: "Push notification deliveries that failed",
		},
	)

	// Catalog Metrics
	ProductsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricetracker_products_tracked",
			Help: "Number of products currently monitored",
		},
	)

	AlertsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricetracker_alerts_pending",
			Help: "Number of alerts awaiting notification",
		},
	)
)

// UpdateCatalogMetrics refreshes the catalog gauges from the database.
// Called after each sweep and dispatch run.
func UpdateCatalogMetrics(db *gorm.DB) {
	var products int64
	if err := db.Table("products").Count(&products).Error; err == nil {
		ProductsTracked.Set(float64(products))
	}

	var pending int64
	if err := db.Table("price_alerts").Where("notified = ?", false).Count(&pending).Error; err == nil {
		AlertsPending.Set(float64(pending))
	}
}
