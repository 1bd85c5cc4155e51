// Package reid implements the Global Track Manager: an online, multi-camera
// appearance re-identification engine. It assigns every per-camera detection
// a stable global identity that persists across cameras and time, based
// purely on appearance embeddings. It has no knowledge of storage, transport,
// or HTTP concerns; callers own persistence and delivery.
package reid

import "fmt"

// Detection is a single observation submitted by a camera pipeline.
// It is immutable once submitted to Associate.
type Detection struct {
	CameraID   int
	LocalID    int
	Confidence float32
	BBox       [4]float32 // x, y, w, h
	ClassID    int
	Timestamp  float64 // seconds, monotonic; 0 means "use ingestion time"

	// Embedding is absent for low-quality crops. A nil slice is the
	// explicit "no embedding" state, not a sentinel value.
	Embedding []float32
}

// TrajectoryPoint is one entry in a track's per-camera trajectory history.
type TrajectoryPoint struct {
	Timestamp  float64
	BBox       [4]float32
	Confidence float32
	LocalID    int
}

// GlobalTrack is the GTM's durable cross-camera identity. It is mutable and
// owned exclusively by the Manager; callers only ever see copies or
// read-only views of it.
type GlobalTrack struct {
	GlobalID     string
	CamerasSeen  map[int]struct{}
	LastSeen     float64
	CreationTime float64
	TotalDetections int

	// EmbeddingMemory is a bounded FIFO of the most recent MaxHistory
	// embeddings, oldest first.
	EmbeddingMemory *embeddingRing

	ConfidenceHistory []float32
	TrajectoryPerCamera map[int][]TrajectoryPoint
}

// formatGlobalID renders a monotonic counter value as the canonical
// GT_<6-digit> token.
func formatGlobalID(n uint64) string {
	return fmt.Sprintf("GT_%06d", n)
}

// Snapshot is a read-only, serializable view of every live track plus the
// current statistics, as returned by Manager.ExportSnapshot.
type Snapshot struct {
	Timestamp float64            `json:"timestamp"`
	Tracks    []TrackSnapshot    `json:"tracks"`
	Stats     Statistics         `json:"statistics"`
}

// TrackSnapshot is the per-track portion of Snapshot.
type TrackSnapshot struct {
	GlobalID             string  `json:"global_id"`
	CamerasSeen          []int   `json:"cameras_seen"`
	TotalDetections      int     `json:"total_detections"`
	CreationTime         float64 `json:"creation_time"`
	LastSeen             float64 `json:"last_seen"`
	TrajectoryPointCount int     `json:"trajectory_point_count"`
	AvgConfidence        float32 `json:"avg_confidence"`
}

// Statistics are the derived aggregates returned by Manager.Statistics.
type Statistics struct {
	TotalDetections         uint64  `json:"total_detections"`
	CrossCameraAssociations uint64  `json:"cross_camera_associations"`
	NewTracksCreated        uint64  `json:"new_tracks_created"`
	TracksTimeout           uint64  `json:"tracks_timeout"`
	Errors                  uint64  `json:"errors"`
	TotalGlobalTracks       int     `json:"total_global_tracks"`
	ActiveTracks            int     `json:"active_tracks"`
	CrossCameraTracks       int     `json:"cross_camera_tracks"`
	TrackedCameras          int     `json:"tracked_cameras"`
	AvgLatencyMs            float64 `json:"avg_latency_ms"`
}
