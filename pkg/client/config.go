package client

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where the client looks for its config
const DefaultConfigPath = "~/.tinychat/client.toml"

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	UI         UISection         `toml:"ui"`
}

type ConnectionSection struct {
	Server    string `toml:"server"`    // host:port, tcp://host:port or ws://host:port/ws
	Username  string `toml:"username"`  // Prefilled in the username prompt
	Transport string `toml:"transport"` // "tcp" or "websocket"
}

type UISection struct {
	Notifications  bool `toml:"notifications"` // Desktop notification when the server ends the session
	ShowTimestamps bool `toml:"show_timestamps"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Path, e.Message, e.LineNumber)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			Server:    "localhost:" + defaultTCPPort,
			Transport: TransportTCP,
		},
		UI: UISection{
			Notifications:  true,
			ShowTimestamps: true,
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Unwritable config dir is not fatal, run with defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    strings.TrimPrefix(err.Error(), "toml: "),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{Path: path, Message: err.Error()}
	}

	return config, nil
}

var lineNumberPattern = regexp.MustCompile(`line (\d+)`)

// extractLineNumber pulls the line number out of a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberPattern.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

func validateConfig(config *TOMLConfig) error {
	var problems []string

	switch config.Connection.Transport {
	case "", TransportTCP, TransportWebSocket:
	default:
		problems = append(problems, fmt.Sprintf("invalid transport %q (must be %q or %q)",
			config.Connection.Transport, TransportTCP, TransportWebSocket))
	}

	if config.Connection.Server != "" {
		if _, err := parseServerAddress(config.Connection.Server, config.Connection.Transport == TransportWebSocket); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# tinychat client configuration
# This file was auto-generated with default values

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// UseWebSocket reports whether the configured transport is WebSocket
func (c *TOMLConfig) UseWebSocket() bool {
	return c.Connection.Transport == TransportWebSocket
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
