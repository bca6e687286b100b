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

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, CacheModeDefaultOn, cfg.LLMCache.Mode)
	assert.Equal(t, 1024, cfg.LLMCache.L1MaxEntries)
	assert.Equal(t, time.Hour, cfg.LLMCache.L1TTL)
	assert.Equal(t, 4*time.Hour, cfg.LogCache.GeneralTTL)
	assert.Equal(t, 6*time.Hour, cfg.LogCache.TraceTTL)
	assert.Equal(t, int64(50*1024*1024), cfg.Safety.MaxLogBytes)
	assert.True(t, cfg.Flags.UseDBPrompts)
	assert.Equal(t, []string{"extract", "plan", "analyze", "verify"}, cfg.LLMCache.SupportedCallTypes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_CACHE_MODE", "default_off")
	t.Setenv("LLM_CACHE_L1_TTL_SECONDS", "120")
	t.Setenv("LLM_CACHE_SUPPORTED_CALL_TYPES", "extract, verify")
	t.Setenv("MAX_LOG_BYTES", "1024")
	t.Setenv("USE_DB_PROMPTS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, CacheModeDefaultOff, cfg.LLMCache.Mode)
	assert.Equal(t, 2*time.Minute, cfg.LLMCache.L1TTL)
	assert.Equal(t, []string{"extract", "verify"}, cfg.LLMCache.SupportedCallTypes)
	assert.Equal(t, int64(1024), cfg.Safety.MaxLogBytes)
	assert.False(t, cfg.Flags.UseDBPrompts)
}

func TestLoadRejectsInvalidEnums(t *testing.T) {
	t.Setenv("LLM_CACHE_MODE", "sometimes")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("LLM_CACHE_MODE", "default_on")
	t.Setenv("LLM_PROVIDER", "mainframe")
	_, err = Load()
	require.Error(t, err)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("LLM_CACHE_L1_MAX_ENTRIES", "not-a-number")
	t.Setenv("MAX_LOG_BYTES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.LLMCache.L1MaxEntries)
	assert.Equal(t, int64(50*1024*1024), cfg.Safety.MaxLogBytes)
}
