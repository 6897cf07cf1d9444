package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--console=false"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "xmux dev\n", out)
}

func TestExecCommand_Synchronous(t *testing.T) {
	out, err := execute(t, "exec", `{"@type":"getOption","name":"version"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"@type":"ok"}`+"\n", out)
}

func TestExecCommand_ThroughSession(t *testing.T) {
	out, err := execute(t, "exec", "--session", `{"@type":"getMe"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"@type":"ok"}`+"\n", out)
}

func TestExecCommand_RejectsBadJSON(t *testing.T) {
	_, err := execute(t, "exec", `{"name":"no type"}`)
	assert.ErrorContains(t, err, "invalid request JSON")
}

func TestExecCommand_UnknownNative(t *testing.T) {
	_, err := execute(t, "exec", "--native", "nope", `{"@type":"getMe"}`)
	assert.ErrorContains(t, err, "nope")
}

func TestRuntimeConfig_FileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
native:
  name: memory
  options:
    reply_delay: 5ms
codec: json
call_timeout: 2s
`), 0o600))

	opts := &RootOptions{
		ConfigPath: path,
		Codec:      "cbor",
		Options:    map[string]string{"max_pending": "10"},
	}
	cfg, err := opts.runtimeConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Native.Name)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, "5ms", cfg.Native.Options["reply_delay"])
	assert.Equal(t, "10", cfg.Native.Options["max_pending"])
	assert.Equal(t, "cbor", cfg.Native.Options["codec"])
}

func TestRuntimeConfig_DefaultsToMemory(t *testing.T) {
	cfg, err := (&RootOptions{}).runtimeConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Native.Name)
	assert.NotContains(t, cfg.Native.Options, "codec")
}
