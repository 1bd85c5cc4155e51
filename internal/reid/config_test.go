package reid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DefaultIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfig_RejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreWeightMax = 0.5
	cfg.ScoreWeightAvg = 0.9

	assert.Error(t, cfg.Validate())
}

func TestConfig_RejectsNonPositiveHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 0

	assert.Error(t, cfg.Validate())
}
