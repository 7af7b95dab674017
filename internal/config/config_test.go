package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Debate.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Debate.StartCooldown)
	assert.Equal(t, 0.85, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, "oldest", cfg.Cache.EvictionPolicy)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_DEBATES", "3")
	t.Setenv("START_COOLDOWN", "5s")
	t.Setenv("CACHE_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("PRODUCTION", "true")

	cfg := Load()

	assert.Equal(t, 3, cfg.Debate.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Debate.StartCooldown)
	assert.Equal(t, 0.9, cfg.Cache.SimilarityThreshold)
	assert.True(t, cfg.Server.Production)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_DEBATES", "lots")
	t.Setenv("TURN_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 10, cfg.Debate.MaxConcurrent)
	assert.Equal(t, 8*time.Second, cfg.Debate.TurnInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero ceiling", func(c *Config) { c.Debate.MaxConcurrent = 0 }, "MAX_CONCURRENT_DEBATES"},
		{"too many agents", func(c *Config) { c.Debate.MaxAgents = 9 }, "MAX_AGENTS_PER_DEBATE"},
		{"threshold above one", func(c *Config) { c.Cache.SimilarityThreshold = 1.5 }, "CACHE_SIMILARITY_THRESHOLD"},
		{"threshold zero", func(c *Config) { c.Cache.SimilarityThreshold = 0 }, "CACHE_SIMILARITY_THRESHOLD"},
		{"unbounded cache", func(c *Config) { c.Cache.MaxEntries = 0 }, "CACHE_MAX_ENTRIES"},
		{"unknown eviction policy", func(c *Config) { c.Cache.EvictionPolicy = "lru" }, "CACHE_EVICTION_POLICY"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "REDIS_ADDR"},
		{"zero rate window", func(c *Config) { c.Rate.API.Window = 0 }, "RATE_API"},
		{"zero ws sessions", func(c *Config) { c.Realtime.MaxSessionsPerIP = 0 }, "WS session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsAllProblemsAtOnce(t *testing.T) {
	cfg := Load()
	cfg.Debate.MaxConcurrent = -1
	cfg.Cache.MaxEntries = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_DEBATES")
	assert.Contains(t, err.Error(), "CACHE_MAX_ENTRIES")
}
