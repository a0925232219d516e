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
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	Host     string `toml:"host"`
	TCPPort  int    `toml:"tcp_port"`
	HTTPPort int    `toml:"http_port"`
}

type LimitsSection struct {
	MaxNicknameLength   int     `toml:"max_nickname_length"`
	MaxMessageLength    int     `toml:"max_message_length"`
	MessageRateLimit    float64 `toml:"message_rate_limit"`
	MessageBurst        int     `toml:"message_burst"`
	WriteTimeoutSeconds int     `toml:"write_timeout_seconds"`
	MaxFrameSize        int     `toml:"max_frame_size"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	defaults := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			Host:     defaults.Host,
			TCPPort:  defaults.TCPPort,
			HTTPPort: defaults.HTTPPort,
		},
		Limits: LimitsSection{
			MaxNicknameLength:   defaults.MaxNicknameLength,
			MaxMessageLength:    defaults.MaxMessageLength,
			MessageRateLimit:    defaults.MessageRateLimit,
			MessageBurst:        defaults.MessageBurst,
			WriteTimeoutSeconds: int(defaults.WriteTimeout / time.Second),
			MaxFrameSize:        int(defaults.MaxFrameSize),
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Still runnable with defaults, e.g. on a read-only filesystem
			errorLog.Printf("Could not write default config to %s: %v", path, err)
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
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

	header := `# Chat Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect
# http_port = 0 disables the metrics/health/websocket listener
# message_rate_limit is chat messages per second per session, 0 disables it

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = strings.TrimSpace(c.Server.Host)
	}

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if c.Limits.MaxNicknameLength != 0 {
		cfg.MaxNicknameLength = c.Limits.MaxNicknameLength
	}

	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}

	if c.Limits.MessageRateLimit > 0 {
		cfg.MessageRateLimit = c.Limits.MessageRateLimit
	}

	if c.Limits.MessageBurst != 0 {
		cfg.MessageBurst = c.Limits.MessageBurst
	}

	if c.Limits.WriteTimeoutSeconds != 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}

	if c.Limits.MaxFrameSize > 0 {
		cfg.MaxFrameSize = uint32(c.Limits.MaxFrameSize)
	}

	return cfg
}
