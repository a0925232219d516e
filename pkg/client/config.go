package client

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	UI         UISection         `toml:"ui"`
}

type ConnectionSection struct {
	DefaultServer       string `toml:"default_server"`
	LoginTimeoutSeconds int    `toml:"login_timeout_seconds"`
	LoginAttempts       int    `toml:"login_attempts"`
}

type UISection struct {
	TimestampFormat string `toml:"timestamp_format"` // Go time layout
	NotifyOnMention bool   `toml:"notify_on_mention"`
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

// DefaultConfigPath returns client.toml under the XDG config directory
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "client.toml"
		}
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, "chat", "client.toml")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			DefaultServer:       DefaultServer,
			LoginTimeoutSeconds: int(DefaultLoginTimeout / time.Second),
			LoginAttempts:       DefaultLoginAttempts,
		},
		UI: UISection{
			TimestampFormat: DefaultTimeFormat,
			NotifyOnMention: true,
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable location still leaves us with usable defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:    path,
			Message: err.Error(),
		}
	}

	return config, nil
}

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	re := regexp.MustCompile(`line (\d+)`)
	matches := re.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

func cleanErrorMessage(errMsg string) string {
	return strings.TrimPrefix(errMsg, "toml: ")
}

func validateConfig(config *TOMLConfig) error {
	var errors []string

	if config.Connection.LoginTimeoutSeconds < 0 {
		errors = append(errors, "Login timeout cannot be negative")
	}
	if config.Connection.LoginAttempts < 0 {
		errors = append(errors, "Login attempts cannot be negative")
	}
	if server := strings.TrimSpace(config.Connection.DefaultServer); server != "" {
		if _, err := parseServerAddress(server); err != nil {
			errors = append(errors, fmt.Sprintf("Invalid default server %q: %v", server, err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}
	return nil
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

	header := `# Chat Client Configuration
# This file was auto-generated with default values
# timestamp_format is a Go time layout, e.g. "15:04:05" or "Jan 2 15:04"

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetServerAddress returns the configured server, or DefaultServer when unset
func (c *TOMLConfig) GetServerAddress() string {
	server := strings.TrimSpace(c.Connection.DefaultServer)
	if server == "" {
		return DefaultServer
	}
	return server
}

// TimeFormat returns the layout used to render event timestamps
func (c *TOMLConfig) TimeFormat() string {
	if c.UI.TimestampFormat == "" {
		return DefaultTimeFormat
	}
	return c.UI.TimestampFormat
}

// Options builds client options for nickname from the config
func (c *TOMLConfig) Options(nickname string) Options {
	return Options{
		Nickname:      nickname,
		LoginTimeout:  time.Duration(c.Connection.LoginTimeoutSeconds) * time.Second,
		LoginAttempts: c.Connection.LoginAttempts,
	}.withDefaults()
}
