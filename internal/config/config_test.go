package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.GetBackend())
	assert.Equal(t, ":8080", cfg.GetServerAddr())
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, Typing{
		ReannounceInterval: time.Second,
		QuietPeriod:        3 * time.Second,
		StaleThreshold:     5 * time.Second,
	}, cfg.GetTyping())
	assert.Zero(t, cfg.GetPresenceOfflineDebounce())
	assert.Equal(t, "text", cfg.GetLogFormat())
}

func TestFromEnv_SurrealRequiresConnectionSettings(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{"PARLEY_BACKEND": "surreal"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSetting)

	cfg, err := FromEnv(envMap(map[string]string{
		"PARLEY_BACKEND": "Surreal",
		"SURREAL_URL":    "ws://localhost:8000/rpc",
		"SURREAL_NS":     "parley",
		"SURREAL_DB":     "chat",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendSurreal, cfg.GetBackend())
}

func TestFromEnv_RejectsStaleThresholdInsideQuietPeriod(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"TYPING_QUIET_PERIOD":    "3s",
		"TYPING_STALE_THRESHOLD": "3s",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"PARLEY_BACKEND": "firestore"}},
		{"bad duration", map[string]string{"TYPING_QUIET_PERIOD": "soon"}},
		{"negative duration", map[string]string{"WRITE_TIMEOUT": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envMap(tt.env))
			assert.ErrorIs(t, err, ErrInvalidSetting)
		})
	}
}
