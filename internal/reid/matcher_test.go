package reid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func track(id string, camera int, lastSeen float64, embeddings ...[]float32) *GlobalTrack {
	ring := newEmbeddingRing(100)
	for _, e := range embeddings {
		ring.push(e)
	}
	return &GlobalTrack{
		GlobalID:        id,
		CamerasSeen:     map[int]struct{}{camera: {}},
		LastSeen:        lastSeen,
		EmbeddingMemory: ring,
	}
}

func TestFindBestMatch_EmptyCandidateSet(t *testing.T) {
	result := findBestMatch(Detection{CameraID: 0, Embedding: []float32{1, 0}}, map[string]*GlobalTrack{}, nil, 0, DefaultConfig())

	assert.False(t, result.matched)
	assert.Equal(t, float32(0), result.score)
}

func TestFindBestMatch_ExcludesSameCamera(t *testing.T) {
	e := []float32{1, 0}
	tr := track("GT_000001", 0, 0, e)
	tracks := map[string]*GlobalTrack{"GT_000001": tr}

	result := findBestMatch(Detection{CameraID: 0, Embedding: e}, tracks, []string{"GT_000001"}, 0, DefaultConfig())

	assert.False(t, result.matched)
}

func TestFindBestMatch_ExcludesStaleTracks(t *testing.T) {
	e := []float32{1, 0}
	tr := track("GT_000001", 1, 0, e)
	tracks := map[string]*GlobalTrack{"GT_000001": tr}
	cfg := DefaultConfig()
	cfg.TrackTimeout = 30

	result := findBestMatch(Detection{CameraID: 0, Embedding: e}, tracks, []string{"GT_000001"}, 31, cfg)

	assert.False(t, result.matched)
}

func TestFindBestMatch_PicksHighestScoreAboveThreshold(t *testing.T) {
	good := []float32{1, 0}
	bad := []float32{0, 1}
	trGood := track("GT_000001", 1, 10, good)
	trBad := track("GT_000002", 2, 10, bad)
	tracks := map[string]*GlobalTrack{"GT_000001": trGood, "GT_000002": trBad}

	result := findBestMatch(Detection{CameraID: 0, Embedding: good}, tracks, []string{"GT_000001", "GT_000002"}, 10, DefaultConfig())

	assert.True(t, result.matched)
	assert.Equal(t, "GT_000001", result.globalID)
}

func TestFindBestMatch_TieBreakPrefersMoreRecentLastSeen(t *testing.T) {
	e := []float32{1, 0}
	older := track("GT_000002", 1, 5, e)
	newer := track("GT_000001", 2, 9, e)
	tracks := map[string]*GlobalTrack{"GT_000001": newer, "GT_000002": older}

	result := findBestMatch(Detection{CameraID: 0, Embedding: e}, tracks, []string{"GT_000002", "GT_000001"}, 10, DefaultConfig())

	assert.Equal(t, "GT_000001", result.globalID)
}
