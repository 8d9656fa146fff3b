package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTOMLConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultTOMLConfig()
	serverCfg := cfg.ToServerConfig()

	assert.Equal(t, DefaultConfig(), serverCfg)
	assert.Equal(t, 250*time.Millisecond, serverCfg.PollInterval)
}

func TestToServerConfigMapsSettings(t *testing.T) {
	disabled := false
	cfg := TOMLConfig{
		Server: ServerSection{
			Address:       "127.0.0.1",
			Port:          7000,
			WebSocketPort: -1,
			MetricsPort:   9191,
			DataDir:       "/tmp/chat",
		},
		Limits: LimitsSection{
			HandshakeTimeoutSeconds: 3,
			PollIntervalMs:          50,
		},
		Console: ConsoleSection{Enabled: &disabled},
	}

	serverCfg := cfg.ToServerConfig()

	assert.Equal(t, "127.0.0.1", serverCfg.Address)
	assert.Equal(t, 7000, serverCfg.Port)
	assert.Equal(t, -1, serverCfg.WebSocketPort)
	assert.Equal(t, 9191, serverCfg.MetricsPort)
	assert.Equal(t, "/tmp/chat", serverCfg.DataDir)
	assert.Equal(t, 3*time.Second, serverCfg.HandshakeTimeout)
	assert.Equal(t, 50*time.Millisecond, serverCfg.PollInterval)
	assert.False(t, serverCfg.ConsoleEnabled)
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	assert.Equal(t, DefaultConfig(), cfg.ToServerConfig())
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# tinychat server configuration"))

	// The written file loads back to the same values
	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ToServerConfig(), reloaded.ToServerConfig())
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7100\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	serverCfg := cfg.ToServerConfig()
	assert.Equal(t, 7100, serverCfg.Port)
	assert.Equal(t, DefaultConfig().WebSocketPort, serverCfg.WebSocketPort)
	assert.True(t, serverCfg.ConsoleEnabled)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.tinychat/server.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".tinychat", "server.toml"), got)

	got, err = ExpandPath("/etc/tinychat.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/tinychat.toml", got)
}
