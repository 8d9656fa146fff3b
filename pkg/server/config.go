package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Limits  LimitsSection  `toml:"limits"`
	Console ConsoleSection `toml:"console"`
}

type ServerSection struct {
	Address       string `toml:"address"`
	Port          int    `toml:"port"`
	WebSocketPort int    `toml:"websocket_port"` // -1 disables the WebSocket listener
	MetricsPort   int    `toml:"metrics_port"`   // -1 disables /metrics and /health
	DataDir       string `toml:"data_dir"`
}

type LimitsSection struct {
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	PollIntervalMs          int `toml:"poll_interval_ms"`
}

type ConsoleSection struct {
	Enabled *bool `toml:"enabled"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	enabled := true
	return TOMLConfig{
		Server: ServerSection{
			Address:       "0.0.0.0",
			Port:          6470,
			WebSocketPort: 6471,
			MetricsPort:   9090,
			DataDir:       "~/.tinychat",
		},
		Limits: LimitsSection{
			HandshakeTimeoutSeconds: int(DefaultHandshakeTimeout / time.Second),
			PollIntervalMs:          int(DefaultPollInterval / time.Millisecond),
		},
		Console: ConsoleSection{
			Enabled: &enabled,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable location still runs with defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# tinychat server configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig, falling back to
// defaults for unset values
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Address) != "" {
		cfg.Address = c.Server.Address
	}

	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}

	if c.Server.WebSocketPort != 0 {
		cfg.WebSocketPort = c.Server.WebSocketPort
	}

	if c.Server.MetricsPort != 0 {
		cfg.MetricsPort = c.Server.MetricsPort
	}

	if strings.TrimSpace(c.Server.DataDir) != "" {
		cfg.DataDir = c.Server.DataDir
	}

	if c.Limits.HandshakeTimeoutSeconds > 0 {
		cfg.HandshakeTimeout = time.Duration(c.Limits.HandshakeTimeoutSeconds) * time.Second
	}

	if c.Limits.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(c.Limits.PollIntervalMs) * time.Millisecond
	}

	if c.Console.Enabled != nil {
		cfg.ConsoleEnabled = *c.Console.Enabled
	}

	return cfg
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
