package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "quotes.db", cfg.Store.SQLitePath)
	assert.Equal(t, int64(512), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, "connected", cfg.Ingest.SessionStatus)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("QUOTES_STORE_DRIVER", "memory")
	t.Setenv("QUOTES_SERVER_PORT", "9090")
	t.Setenv("QUOTES_INGEST_SESSION_STATUS", "disconnected")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "disconnected", cfg.Ingest.SessionStatus)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope"})
	assert.Error(t, err)
}
