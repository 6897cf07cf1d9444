package xmux

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
native:
  name: redis-streams
  options:
    addr: localhost:6379
    batch_size: 16
codec: json
receive_timeout: 2s
queue_size: 50
call_timeout: 1m
shutdown_timeout: 90s
observers:
  workers: 4
  buffer_size: 256
`))
	require.NoError(t, err)
	assert.Equal(t, "redis-streams", cfg.Native.Name)
	assert.Equal(t, "localhost:6379", cfg.Native.Options["addr"])
	assert.Equal(t, 16, cfg.Native.Options["batch_size"])
	assert.Equal(t, 2*time.Second, cfg.ReceiveTimeout)
	assert.Equal(t, 50, cfg.QueueSize)
	assert.Equal(t, time.Minute, cfg.CallTimeout)
	assert.Equal(t, 90*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, ObserverConfig{Workers: 4, BufferSize: 256}, cfg.Observers)
}

func TestParseConfig_Errors(t *testing.T) {
	_, err := ParseConfig([]byte("queue_size: -1"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("call_timeout: soon"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec: cbor\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "cbor", cfg.Codec)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRuntimeBuilder_WithConfig(t *testing.T) {
	rb := NewRuntimeBuilder().WithConfig(Config{
		Native:         NativeConfig{Name: "memory"},
		Codec:          "cbor",
		CallTimeout:    time.Second,
		QueueSize:      5,
		Observers:      ObserverConfig{Workers: 1},
		ReceiveTimeout: 0,
	})
	assert.Equal(t, "memory", rb.nativeName)
	assert.Equal(t, "cbor", rb.codecName)
	assert.Equal(t, time.Second, rb.callTimeout)
	assert.Equal(t, 5, rb.queueSize)
	assert.Equal(t, 1, rb.poolWorkers)
	assert.Equal(t, DefaultReceiveTimeout, rb.receiveTimeout, "zero values keep defaults")
	assert.Equal(t, DefaultShutdownTimeout, rb.shutdownTimeout)
}
