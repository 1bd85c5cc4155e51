package reid

import (
	"math"
	"math/rand"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var globalIDPattern = regexp.MustCompile(`^GT_\d{6}$`)

// withFixedClock overrides nowFn for the duration of a test and restores it
// afterward. Scenario tests need GC decisions to be driven off a controlled
// clock, not real wall time.
func withFixedClock(t *testing.T, initial float64) func(delta float64) {
	t.Helper()
	current := initial
	orig := nowFn
	nowFn = func() float64 { return current }
	t.Cleanup(func() { nowFn = orig })
	return func(delta float64) { current += delta }
}

func unitVector(t *testing.T, seed int64, dim int) []float32 {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	v := make([]float32, dim)
	var sumSq float64
	for i := range v {
		v[i] = r.Float32()*2 - 1
		sumSq += float64(v[i]) * float64(v[i])
	}
	norm := float32(1)
	if sumSq > 0 {
		norm = float32(1.0 / math.Sqrt(sumSq))
	}
	for i := range v {
		v[i] *= norm
	}
	return v
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultConfig(), nil)
	require.NoError(t, err)
	return m
}

func TestAssociate_ScenarioA_SingleCameraNewTrack(t *testing.T) {
	m := newTestManager(t)
	e1 := unitVector(t, 1, 256)

	id := m.Associate(Detection{
		CameraID:   0,
		LocalID:    1,
		Confidence: 0.9,
		BBox:       [4]float32{100, 100, 50, 100},
		Embedding:  e1,
		Timestamp:  1000.0,
	})

	assert.Equal(t, "GT_000001", id)
	stats := m.Statistics()
	assert.Equal(t, 1, stats.TotalGlobalTracks)
	assert.Equal(t, 0, stats.CrossCameraTracks)
}

func TestAssociate_ScenarioB_CrossCameraAssociation(t *testing.T) {
	withFixedClock(t, 1000)
	m := newTestManager(t)
	e1 := unitVector(t, 1, 256)

	first := m.Associate(Detection{
		CameraID: 0, LocalID: 1, Confidence: 0.9,
		Embedding: e1, Timestamp: 1000.0,
	})

	noise := unitVector(t, 2, 256)
	blended := make([]float32, 256)
	for i := range blended {
		blended[i] = e1[i] + 0.05*noise[i]
	}

	second := m.Associate(Detection{
		CameraID: 1, LocalID: 1, Confidence: 0.8,
		Embedding: blended, Timestamp: 1000.1,
	})

	require.Equal(t, first, second)
	track := m.GetGlobalTrack(first)
	require.NotNil(t, track)
	assert.Contains(t, track.CamerasSeen, 0)
	assert.Contains(t, track.CamerasSeen, 1)
	assert.EqualValues(t, 1, m.Statistics().CrossCameraAssociations)
}

func TestAssociate_ScenarioC_LowConfidenceBypass(t *testing.T) {
	m := newTestManager(t)
	e1 := unitVector(t, 1, 256)

	first := m.Associate(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Embedding: e1, Timestamp: 1000.0})
	second := m.Associate(Detection{CameraID: 1, LocalID: 2, Confidence: 0.4, Embedding: e1, Timestamp: 1000.1})

	assert.NotEqual(t, first, second)
	assert.Equal(t, "GT_000002", second)
	assert.EqualValues(t, 2, m.Statistics().NewTracksCreated)
}

func TestAssociate_ScenarioD_MissingEmbeddingBypass(t *testing.T) {
	m := newTestManager(t)

	id := m.Associate(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Embedding: nil, Timestamp: 1000.0})

	assert.Regexp(t, globalIDPattern, id)
	assert.EqualValues(t, 1, m.Statistics().NewTracksCreated)
}

func TestAssociate_ScenarioE_StalenessGC(t *testing.T) {
	advance := withFixedClock(t, 0)
	cfg := DefaultConfig()
	cfg.TrackTimeout = 30
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	e1 := unitVector(t, 1, 256)
	oldID := m.Associate(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Embedding: e1, Timestamp: 0})

	advance(31)
	newID := m.Associate(Detection{CameraID: 1, LocalID: 1, Confidence: 0.9, Embedding: unitVector(t, 2, 256), Timestamp: 31})

	assert.NotEqual(t, oldID, newID)
	assert.Nil(t, m.GetGlobalTrack(oldID))
	assert.EqualValues(t, 1, m.Statistics().TracksTimeout)
}

func TestStatistics_ActiveTracksExcludesStaleBeforeGCRuns(t *testing.T) {
	advance := withFixedClock(t, 0)
	cfg := DefaultConfig()
	cfg.TrackTimeout = 30
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	e1 := unitVector(t, 1, 256)
	m.Associate(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Embedding: e1, Timestamp: 0})

	require.EqualValues(t, 1, m.Statistics().TotalGlobalTracks)
	require.EqualValues(t, 1, m.Statistics().ActiveTracks)

	// Past the timeout, but Associate (and thus gc) hasn't been called again.
	// The track is still "total" yet must no longer count as "active".
	advance(31)
	stats := m.Statistics()
	assert.EqualValues(t, 1, stats.TotalGlobalTracks)
	assert.EqualValues(t, 0, stats.ActiveTracks)
}

func TestAssociate_ScenarioF_SameCameraNonMatch(t *testing.T) {
	withFixedClock(t, 1000)
	m := newTestManager(t)
	e1 := unitVector(t, 1, 256)

	first := m.Associate(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Embedding: e1, Timestamp: 1000.0})
	second := m.Associate(Detection{CameraID: 0, LocalID: 2, Confidence: 0.9, Embedding: e1, Timestamp: 1000.1})

	assert.NotEqual(t, first, second)
}

func TestAssociate_GlobalIDsNeverReused(t *testing.T) {
	advance := withFixedClock(t, 0)
	cfg := DefaultConfig()
	cfg.TrackTimeout = 5
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := m.Associate(Detection{CameraID: i % 3, LocalID: i, Confidence: 0.9, Timestamp: float64(i) * 10})
		require.False(t, seen[id], "global_id %s reused", id)
		seen[id] = true
		advance(10)
	}
}

func TestAssociate_EmbeddingMemoryBoundedByMaxHistory(t *testing.T) {
	withFixedClock(t, 0)
	cfg := DefaultConfig()
	cfg.MaxHistory = 5
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	e := unitVector(t, 1, cfg.FeatureDim)
	var id string
	for i := 0; i < 20; i++ {
		// Same appearance on a new camera each time, so every detection
		// after the first matches the first track and pushes another
		// embedding into its memory, well past MaxHistory.
		det := Detection{CameraID: i, LocalID: i, Confidence: 0.9, Embedding: e, Timestamp: float64(i)}
		got := m.Associate(det)
		if i == 0 {
			id = got
		}
	}
	_ = id

	for _, track := range m.tracks {
		assert.LessOrEqual(t, track.EmbeddingMemory.len(), cfg.MaxHistory)
	}
}

func TestAssociate_LastSeenNeverPrecedesCreationTime(t *testing.T) {
	m := newTestManager(t)
	id := m.Associate(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Timestamp: 100})
	m.Associate(Detection{CameraID: 1, LocalID: 1, Confidence: 0.9, Timestamp: 200})

	track := m.GetGlobalTrack(id)
	if track != nil {
		assert.GreaterOrEqual(t, track.LastSeen, track.CreationTime)
	}
}

func TestAssociate_ConcurrentProducers(t *testing.T) {
	m := newTestManager(t)

	const producers = 20
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(cameraID int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				e := unitVector(t, int64(cameraID*1000+i), 256)
				id := m.Associate(Detection{
					CameraID:   cameraID,
					LocalID:    i,
					Confidence: 0.9,
					Embedding:  e,
					Timestamp:  float64(i),
				})
				assert.Regexp(t, globalIDPattern, id)
			}
		}(p)
	}
	wg.Wait()

	stats := m.Statistics()
	assert.EqualValues(t, producers*perProducer, stats.TotalDetections)
	assert.LessOrEqual(t, stats.NewTracksCreated+stats.CrossCameraAssociations, stats.TotalDetections)
}
