package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpden/mcpden/pkg/errdefs"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4040, cfg.Listen.PortLow)
	assert.Equal(t, 4099, cfg.Listen.PortHigh)
	assert.Equal(t, 40000, cfg.Ports.Low)
	assert.Equal(t, 49999, cfg.Ports.High)
	assert.Equal(t, 30, cfg.Session.TTLMinutes)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDir: /var/lib/mcpden
log:
  level: debug
  json: true
session:
  ttlMinutes: 5
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mcpden", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 5, cfg.Session.TTLMinutes)
	// Untouched sections keep their defaults
	assert.Equal(t, 4040, cfg.Listen.PortLow)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: /from/file\n"), 0600))

	t.Setenv(EnvDataDir, "/from/env")
	t.Setenv(EnvHostPort, "4555")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, 4555, cfg.Listen.PortLow)
	assert.GreaterOrEqual(t, cfg.Listen.PortHigh, 4555)
}

func TestLoad_MissingNamedFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidArgument, errdefs.GetCode(err))
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ports:
  low: 100
  high: 50
`), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidArgument, errdefs.GetCode(err))
}

func TestLoad_BadHostPortEnvIgnored(t *testing.T) {
	t.Setenv(EnvHostPort, "not-a-port")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4040, cfg.Listen.PortLow)
}
