package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDecodesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	contents := `
addr: 127.0.0.1:2001
dataDir: /var/lib/raftd
servers:
  - 127.0.0.1:2001
  - 127.0.0.1:2002
maxLogCapacity: 50
metricsAddr: 127.0.0.1:9090
logLevel: debug
logJSON: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2001", cfg.Addr)
	assert.Equal(t, "/var/lib/raftd", cfg.DataDir)
	assert.Equal(t, []string{"127.0.0.1:2001", "127.0.0.1:2002"}, cfg.Servers)
	assert.Equal(t, 50, cfg.MaxLogCapacity)
	assert.True(t, cfg.LogJSON)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
