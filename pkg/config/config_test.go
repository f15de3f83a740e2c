package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bluealsad.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenSectionsMissing(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.DrainTimeout)
	assert.Equal(t, 1000, cfg.LingerTimeout)
	assert.Equal(t, 600, cfg.CloseTimeout)
	assert.Empty(t, cfg.Adapters)
}

func TestLoadOverridesTimeouts(t *testing.T) {
	path := writeTempConfig(t, "[timeouts]\ndrain_ms = 500\nlinger_ms = 2000\nclose_ms = 800\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.DrainTimeout)
	assert.Equal(t, 2000, cfg.LingerTimeout)
	assert.Equal(t, 800, cfg.CloseTimeout)
}

func TestLoadParsesAdapterSections(t *testing.T) {
	path := writeTempConfig(t, "[adapter.hci0]\nwideband = true\n\n[adapter.hci1]\nwideband = false\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Adapters, 2)
	assert.Equal(t, "hci0", cfg.Adapters[0].Name)
	assert.True(t, cfg.Adapters[0].Wideband)
	assert.Equal(t, "hci1", cfg.Adapters[1].Name)
	assert.False(t, cfg.Adapters[1].Wideband)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}
