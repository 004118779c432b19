package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/aris-agent/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ModeLocal, cfg.Mode)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.True(t, cfg.UseMockLLM)
	assert.Equal(t, 20*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 1, cfg.CrisisRetries)
	assert.Equal(t, 20, cfg.HistoryWindow)
	assert.Equal(t, config.CrisisDiscard, cfg.CrisisPolicy)
	assert.Equal(t, config.DistortionAnnotate, cfg.DistortionPolicy)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARIS_MODE", "gcp")
	t.Setenv("ARIS_GCP_PROJECT", "demo")
	t.Setenv("ARIS_STORAGE_BACKEND", "redis")
	t.Setenv("ARIS_LLM_TIMEOUT", "5s")
	t.Setenv("ARIS_CRISIS_POLICY", "record")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ModeGCP, cfg.Mode)
	assert.False(t, cfg.UseMockLLM)
	assert.Equal(t, "redis", cfg.StorageBackend)
	assert.Equal(t, 5*time.Second, cfg.LLMTimeout)
	assert.Equal(t, config.CrisisRecord, cfg.CrisisPolicy)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string][2]string{
		"gcp without project": {"ARIS_MODE", "gcp"},
		"unknown backend":     {"ARIS_STORAGE_BACKEND", "cassandra"},
		"unknown policy":      {"ARIS_CRISIS_POLICY", "ignore"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(kv[0], kv[1])

			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
