package reid

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// nowFn is overridable in tests; production code always uses wall-clock
// time, per the wall-clock-vs-stream-timestamp decision recorded in
// DESIGN.md.
var nowFn = func() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Manager is the Global Track Manager: the public entry point for
// associating detections with global identities. A zero Manager is not
// usable; construct with NewManager. Safe for concurrent use by many
// camera-pipeline producers.
type Manager struct {
	mu sync.RWMutex

	cfg Config

	tracks map[string]*GlobalTrack
	// order preserves insertion order for deterministic candidate scans
	// (and thus deterministic tie-breaks under identical scores).
	order []string

	// index is camera_id -> local_id -> global_id.
	index map[int]map[int]string

	globalIDCounter uint64

	counters counters
	latency  *latencyRing

	logger *slog.Logger
}

// NewManager constructs a Manager from cfg. logger may be nil, in which
// case slog.Default() is used.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		tracks:  make(map[string]*GlobalTrack),
		index:   make(map[int]map[int]string),
		latency: newLatencyRing(cfg.LatencyWindow),
		logger:  logger,
	}, nil
}

// Associate is the GTM's only mutating entry point. It is total: every
// well-formed detection receives a global_id, and no internal fault is ever
// surfaced to the caller. Callers should not treat a returned global_id as
// proof a cross-camera match occurred; consult Statistics for that.
func (m *Manager) Associate(d Detection) (globalID string) {
	start := nowFn()
	if d.Timestamp == 0 {
		d.Timestamp = start
	}

	m.counters.incTotalDetections()

	m.mu.Lock()
	defer func() {
		elapsedMs := (nowFn() - start) * 1000
		m.latency.record(elapsedMs)
		m.mu.Unlock()
	}()

	// InternalFault: any unexpected condition during matching/update is
	// caught here. associate is total; the fallback is a new track, never
	// a thrown error to the caller.
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("reid: internal fault during associate, falling back to new track",
				"panic", r, "camera_id", d.CameraID, "local_id", d.LocalID)
			m.counters.incErrors()
			globalID = m.createTrack(d)
			m.counters.incNewTracksCreated()
			m.setIndex(d.CameraID, d.LocalID, globalID)
		}
	}()

	m.gc(start)

	globalID = m.associateLocked(d, start)
	return globalID
}

// associateLocked performs steps 3-6 of the orchestrator contract. Caller
// holds m.mu for writing.
func (m *Manager) associateLocked(d Detection, now float64) string {
	bypass := d.Confidence < m.cfg.MinConfidence || d.Embedding == nil

	if !bypass {
		result := findBestMatch(d, m.tracks, m.order, now, m.cfg)
		if result.matched {
			m.updateTrack(result.globalID, d)
			m.counters.incCrossCameraAssociations()
			m.setIndex(d.CameraID, d.LocalID, result.globalID)
			return result.globalID
		}
	}

	globalID := m.createTrack(d)
	m.counters.incNewTracksCreated()
	m.setIndex(d.CameraID, d.LocalID, globalID)
	return globalID
}

func (m *Manager) createTrack(d Detection) string {
	n := atomic.AddUint64(&m.globalIDCounter, 1)
	globalID := formatGlobalID(n)

	track := &GlobalTrack{
		GlobalID:            globalID,
		CamerasSeen:         map[int]struct{}{d.CameraID: {}},
		LastSeen:            d.Timestamp,
		CreationTime:        d.Timestamp,
		TotalDetections:     1,
		EmbeddingMemory:     newEmbeddingRing(m.cfg.MaxHistory),
		ConfidenceHistory:   []float32{d.Confidence},
		TrajectoryPerCamera: map[int][]TrajectoryPoint{},
	}
	if d.Embedding != nil {
		track.EmbeddingMemory.push(d.Embedding)
	}
	track.TrajectoryPerCamera[d.CameraID] = append(track.TrajectoryPerCamera[d.CameraID], TrajectoryPoint{
		Timestamp:  d.Timestamp,
		BBox:       d.BBox,
		Confidence: d.Confidence,
		LocalID:    d.LocalID,
	})

	m.tracks[globalID] = track
	m.order = append(m.order, globalID)
	return globalID
}

func (m *Manager) updateTrack(globalID string, d Detection) {
	track := m.tracks[globalID]
	if track == nil {
		// Associate holds the writer lock from matching through commit, so
		// the matched track is present here; if it is not, the update is
		// skipped.
		return
	}
	if d.Embedding != nil {
		track.EmbeddingMemory.push(d.Embedding)
	}
	track.TrajectoryPerCamera[d.CameraID] = append(track.TrajectoryPerCamera[d.CameraID], TrajectoryPoint{
		Timestamp:  d.Timestamp,
		BBox:       d.BBox,
		Confidence: d.Confidence,
		LocalID:    d.LocalID,
	})
	track.CamerasSeen[d.CameraID] = struct{}{}
	track.LastSeen = d.Timestamp
	track.ConfidenceHistory = append(track.ConfidenceHistory, d.Confidence)
	track.TotalDetections++
}

func (m *Manager) setIndex(cameraID, localID int, globalID string) {
	locals, ok := m.index[cameraID]
	if !ok {
		locals = make(map[int]string)
		m.index[cameraID] = locals
	}
	locals[localID] = globalID
}

// GetGlobalTrack returns a defensive copy of the track, or nil if it does
// not exist (or has been reaped by GC).
func (m *Manager) GetGlobalTrack(globalID string) *GlobalTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	track := m.tracks[globalID]
	if track == nil {
		return nil
	}
	return copyTrack(track)
}

// GetCameraTracks returns a copy of the local_id -> global_id mapping for a
// camera. A nil/empty map means the camera is unknown or has no live tracks.
func (m *Manager) GetCameraTracks(cameraID int) map[int]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	locals := m.index[cameraID]
	out := make(map[int]string, len(locals))
	for k, v := range locals {
		out[k] = v
	}
	return out
}

// Statistics returns counters plus derived aggregates, per C6.
func (m *Manager) Statistics() Statistics {
	total, crossCam, newTracks, timeouts, errs := m.counters.snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := nowFn()

	cameras := make(map[int]struct{})
	crossCameraTracks := 0
	activeTracks := 0
	for _, track := range m.tracks {
		if len(track.CamerasSeen) > 1 {
			crossCameraTracks++
		}
		for c := range track.CamerasSeen {
			cameras[c] = struct{}{}
		}
		// A track only counts as active if it is still fresh right now,
		// independent of whatever GC left behind. GC only runs at the top
		// of Associate, so a track can go stale between calls.
		if now-track.LastSeen <= m.cfg.TrackTimeout {
			activeTracks++
		}
	}

	return Statistics{
		TotalDetections:         total,
		CrossCameraAssociations: crossCam,
		NewTracksCreated:        newTracks,
		TracksTimeout:           timeouts,
		Errors:                  errs,
		TotalGlobalTracks:       len(m.tracks),
		ActiveTracks:            activeTracks,
		CrossCameraTracks:       crossCameraTracks,
		TrackedCameras:          len(cameras),
		AvgLatencyMs:            m.latency.average(),
	}
}

// ExportSnapshot returns a serializable point-in-time view of every live
// track plus current statistics, suitable for validation or diagnostics.
func (m *Manager) ExportSnapshot() Snapshot {
	stats := m.Statistics()

	m.mu.RLock()
	defer m.mu.RUnlock()

	tracks := make([]TrackSnapshot, 0, len(m.order))
	for _, id := range m.order {
		track := m.tracks[id]
		if track == nil {
			continue
		}
		tracks = append(tracks, TrackSnapshot{
			GlobalID:             track.GlobalID,
			CamerasSeen:          cameraSet(track.CamerasSeen),
			TotalDetections:      track.TotalDetections,
			CreationTime:         track.CreationTime,
			LastSeen:             track.LastSeen,
			TrajectoryPointCount: trajectoryCount(track),
			AvgConfidence:        avgConfidence(track.ConfidenceHistory),
		})
	}

	return Snapshot{
		Timestamp: nowFn(),
		Tracks:    tracks,
		Stats:     stats,
	}
}

func copyTrack(t *GlobalTrack) *GlobalTrack {
	cp := &GlobalTrack{
		GlobalID:            t.GlobalID,
		CamerasSeen:         make(map[int]struct{}, len(t.CamerasSeen)),
		LastSeen:            t.LastSeen,
		CreationTime:        t.CreationTime,
		TotalDetections:     t.TotalDetections,
		EmbeddingMemory:     t.EmbeddingMemory,
		ConfidenceHistory:   append([]float32(nil), t.ConfidenceHistory...),
		TrajectoryPerCamera: make(map[int][]TrajectoryPoint, len(t.TrajectoryPerCamera)),
	}
	for k := range t.CamerasSeen {
		cp.CamerasSeen[k] = struct{}{}
	}
	for k, v := range t.TrajectoryPerCamera {
		cp.TrajectoryPerCamera[k] = append([]TrajectoryPoint(nil), v...)
	}
	return cp
}

func cameraSet(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func trajectoryCount(t *GlobalTrack) int {
	n := 0
	for _, points := range t.TrajectoryPerCamera {
		n += len(points)
	}
	return n
}

func avgConfidence(history []float32) float32 {
	if len(history) == 0 {
		return 0
	}
	var sum float32
	for _, c := range history {
		sum += c
	}
	return sum / float32(len(history))
}
