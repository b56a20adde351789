package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ".", c.DumpDir)
	assert.Empty(t, c.Listen)
	assert.Equal(t, 5*time.Minute, c.OrdersCadence())
	assert.Equal(t, 2*time.Minute, c.OrdersBackoff())
	assert.Equal(t, 15*time.Second, c.PushTimeout())
	assert.Equal(t, 4, c.Locations.QueueCapacity)

	h, m, err := c.AnchorClock()
	require.NoError(t, err)
	assert.Equal(t, 11, h)
	assert.Equal(t, 15, m)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dump_dir: /var/lib/emd
listen: 127.0.0.1:8080
orders:
  cadence_seconds: 60
  failure_backoff_seconds: 30
histories:
  anchor: "09:00"
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/emd", c.DumpDir)
	assert.Equal(t, "127.0.0.1:8080", c.Listen)
	assert.Equal(t, time.Minute, c.OrdersCadence())
	assert.Equal(t, 30*time.Second, c.OrdersBackoff())
	// Untouched sections keep their defaults.
	assert.Equal(t, 4, c.Locations.QueueCapacity)

	h, m, err := c.AnchorClock()
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 0, m)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad-cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orders:\n  cadence_seconds: 0\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "cadence")

	path = filepath.Join(dir, "bad-anchor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`histories: {anchor: "25:00"}`), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "anchor")
}
