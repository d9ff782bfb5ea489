package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
	assert.Equal(t, time.Second, cfg.Toggle.CooldownDuration())
	assert.Equal(t, 10*time.Second, cfg.Session.PollIntervalDuration())
	assert.Equal(t, 30*time.Minute, cfg.Catalog.RefreshIntervalDuration())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://dash.example.com/api
  token: abc
toggle:
  cooldown: 250ms
log:
  level: debug
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dash.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "abc", cfg.API.Token)
	assert.Equal(t, "vpnpanel", cfg.API.UserAgent, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Toggle.CooldownDuration())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Defaults()
	cfg.Metrics.Listen = "127.0.0.1:9109"

	require.NoError(t, Save(path, &cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestBadDurationsFallBack(t *testing.T) {
	assert.Equal(t, 15*time.Second, APIConfig{Timeout: "soon"}.TimeoutDuration())
	assert.Equal(t, time.Second, ToggleConfig{Cooldown: "-1s"}.CooldownDuration())
}
