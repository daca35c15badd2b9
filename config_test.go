package callstream

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "callstream.yaml")
	data := []byte(`
queue_capacity: 4
call_timeout_seconds: 30
grpc_listen_addr: 127.0.0.1:9000
log_level: debug
`)
	require.NoError(t, os.WriteFile(file, data, 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.QueueCapacity)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Equal(t, "127.0.0.1:9000", cfg.GRPCListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	// unset fields take defaults
	assert.Equal(t, "127.0.0.1:26356", cfg.WSListenAddr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("queue_capacity: [nope"), 0o600))

	_, err := LoadConfig(file)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, "127.0.0.1:26355", cfg.GRPCListenAddr)
	assert.Equal(t, "127.0.0.1:26356", cfg.WSListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	// no timeout unless asked for
	assert.Zero(t, cfg.CallTimeout())
}
