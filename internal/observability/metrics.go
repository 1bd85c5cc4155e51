package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtm",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtm",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"stream_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtm",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces recognized from database",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gtm",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "active_streams",
		Help:      "Number of currently active video streams",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gtm",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	// GTM metrics mirror the reid package's own monotonic counters
	// (internal/reid/metrics.go). They are Gauges rather than Counters
	// because they are periodically Set() from a Manager.Statistics()
	// snapshot rather than incremented at each call site — the reid
	// package owns the authoritative counters and must not take a
	// Prometheus dependency itself (see DESIGN.md).
	GTMTotalDetections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "total_detections",
		Help:      "Total number of detections submitted to the Global Track Manager",
	})

	GTMCrossCameraAssociations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "cross_camera_associations",
		Help:      "Total number of detections matched to an existing track across cameras",
	})

	GTMNewTracksCreated = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "new_tracks_created",
		Help:      "Total number of new global tracks created",
	})

	GTMTracksTimeout = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "tracks_timeout",
		Help:      "Total number of global tracks evicted for staleness",
	})

	GTMErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "errors",
		Help:      "Total number of internal faults caught during association",
	})

	GTMActiveTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gtm",
		Name:      "active_tracks",
		Help:      "Number of live global tracks",
	})

	GTMAssociateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gtm",
		Name:      "associate_duration_seconds",
		Help:      "Duration of Manager.Associate calls",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
	})
)
