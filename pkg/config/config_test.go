package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.DefaultConcurrencyLimit)
	assert.Equal(t, 3, cfg.NLaunch)
	assert.Equal(t, 64, cfg.EventQueueDepth)
}

func TestConfig_Validate_RejectsReaperLongerThanHeartbeat(t *testing.T) {
	cfg := &Config{
		NLaunch: 1, DefaultConcurrencyLimit: 1, AllocatorCapacityLimit: 1, EventQueueDepth: 1,
		HeartbeatTTL: 0, ReaperInterval: 1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALLOCATOR_REAPER_INTERVAL")
}

func TestConfig_Validate_RejectsZeroConcurrencyLimit(t *testing.T) {
	cfg := &Config{NLaunch: 1, DefaultConcurrencyLimit: 0}
	err := cfg.Validate()
	require.Error(t, err)
}
