package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GalleryPagesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chirp",
		Name:      "gallery_pages_served_total",
		Help:      "Total number of gallery pages served",
	}, []string{"mode"})

	GalleryPageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chirp",
		Name:      "gallery_page_duration_seconds",
		Help:      "Duration of gallery page queries",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"mode"})

	InvalidCursors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chirp",
		Name:      "gallery_invalid_cursors_total",
		Help:      "Total number of rejected pagination cursors",
	})

	ImagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chirp",
		Name:      "images_processed_total",
		Help:      "Total number of scraped images processed, by outcome",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chirp",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected and stored",
	})

	DetectorDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chirp",
		Name:      "detector_duration_seconds",
		Help:      "Duration of external face detector calls",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chirp",
		Name:      "scrape_job_queue_depth",
		Help:      "Number of pending scrape jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chirp",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chirp",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
