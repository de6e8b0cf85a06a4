// Package metrics defines the Prometheus collectors shared across the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basileus",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// HTTPDuration observes request latency by route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "basileus",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ScanFiles counts files seen by the collection scanner, by outcome.
	// result: indexed|skipped|unreadable
	ScanFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basileus",
			Name:      "scan_files_total",
			Help:      "Files visited by the collection scanner",
		},
		[]string{"result"},
	)

	// Scans counts completed scans by terminal status.
	// status: finished|failed|canceled|busy
	Scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basileus",
			Name:      "scans_total",
			Help:      "Collection scans by terminal status",
		},
		[]string{"status"},
	)

	// SchedTasks counts scheduler tasks by terminal status.
	// status: finished|failed|canceled
	SchedTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basileus",
			Name:      "sched_tasks_total",
			Help:      "Scheduler tasks by terminal status",
		},
		[]string{"status"},
	)

	// SchedQueueDepth tracks the current depth of the scheduler queues.
	// queue: tasks|events
	SchedQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "basileus",
			Name:      "sched_queue_depth",
			Help:      "Current scheduler queue depth",
		},
		[]string{"queue"},
	)

	// CatalogSongs tracks the number of songs currently in the catalog.
	CatalogSongs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "basileus",
			Name:      "catalog_songs",
			Help:      "Songs currently stored in the catalog",
		},
	)
)
