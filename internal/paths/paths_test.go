package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirsHonourXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "cfg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))

	file, err := ConfigFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "cfg", "vpnpanel", "config.yaml"), file)

	db, err := DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "vpnpanel", "vpnpanel.db"), db)

	info, err := os.Stat(filepath.Dir(db))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDirsFallBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "vpnpanel"), dir)
}
