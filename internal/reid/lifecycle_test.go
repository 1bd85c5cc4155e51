package reid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGC_PrunesIndexEntriesForEvictedTracks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackTimeout = 10
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	id := m.createTrack(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Timestamp: 0})
	m.setIndex(0, 1, id)

	m.gc(100)

	assert.Nil(t, m.tracks[id])
	assert.Empty(t, m.index[0])
}

func TestGC_KeepsFreshTracks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackTimeout = 30
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	id := m.createTrack(Detection{CameraID: 0, LocalID: 1, Confidence: 0.9, Timestamp: 0})

	m.gc(10)

	assert.NotNil(t, m.tracks[id])
}
