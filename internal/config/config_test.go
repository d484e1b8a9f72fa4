package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "auto", cfg.EmbeddingProvider)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, 24*time.Hour, cfg.DecayInterval)
	assert.Equal(t, 10*time.Second, cfg.JudgeTimeout)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
	assert.Empty(t, cfg.QdrantURL)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KIOKU_PORT", "9090")
	t.Setenv("KIOKU_DECAY_INTERVAL", "1h")
	t.Setenv("KIOKU_EMBEDDING_PROVIDER", "noop")
	t.Setenv("KIOKU_RATE_LIMIT_ENABLED", "false")
	t.Setenv("KIOKU_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Hour, cfg.DecayInterval)
	assert.Equal(t, "noop", cfg.EmbeddingProvider)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("KIOKU_PORT", "not-a-number")
	t.Setenv("KIOKU_DECAY_INTERVAL", "tomorrow")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.DecayInterval)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.EmbeddingDimensions = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.DecayInterval = 0
	assert.Error(t, cfg.Validate())
}
