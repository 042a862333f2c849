package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"host: pool.example.com\nport: 8332\npath: /\ngetworkConnections: 2\n",
	), 0o600))

	os.Setenv("WORKSOURCE_PORT", "9999")
	defer os.Unsetenv("WORKSOURCE_PORT")

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "pool.example.com", s.Host)
	assert.Equal(t, 9999, s.Port)
	assert.Equal(t, 2, s.GetworkConnections)
	assert.Equal(t, 3*time.Second, s.GetworkTimeout)
}

func TestLoadSettings_NoFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, 1, s.GetworkConnections)
	assert.Equal(t, "/", s.Path)
}
