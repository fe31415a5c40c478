package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facecls_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facecls_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Classification metrics
	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facecls_classifications_total",
			Help: "Total number of classification requests",
		},
		[]string{"source", "status"}, // source: http, websocket
	)

	classificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facecls_classification_duration_seconds",
			Help:    "Classification duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	facesPerRequest = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facecls_faces_per_request",
			Help:    "Number of qualifying faces per classified image",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
		},
		[]string{"source"},
	)

	predictedClassTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facecls_predicted_class_total",
			Help: "Total number of faces per predicted class",
		},
		[]string{"class"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facecls_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// Upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "facecls_upload_size_bytes",
			Help:    "Size of uploaded image payloads in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "facecls_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facecls_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
