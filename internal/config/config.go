// ABOUTME: Configuration loading and parsing for hearthd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hearthd configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Timeouts     TimeoutsConfig     `yaml:"timeouts"`
	Database     DatabaseConfig     `yaml:"database"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the listener and advertisement configuration
type ServerConfig struct {
	// Name is the instance name advertised over mDNS. Defaults to the hostname.
	Name string `yaml:"name"`
	// Port is the TCP listen port. 0 picks an ephemeral port.
	Port int `yaml:"port"`
	// ServiceType is the mDNS service type to advertise under.
	ServiceType string `yaml:"service_type"`
	// Domain is the mDNS domain, normally "local.".
	Domain string `yaml:"domain"`
}

// TimeoutsConfig holds timing configuration for connection and listener supervision
type TimeoutsConfig struct {
	Setup          time.Duration `yaml:"-"`
	HealthInterval time.Duration `yaml:"-"`
	RestartDelay   time.Duration `yaml:"-"`
	Dispatch       time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SetupRaw          string `yaml:"setup"`
	HealthIntervalRaw string `yaml:"health_interval"`
	RestartDelayRaw   string `yaml:"restart_delay"`
	DispatchRaw       string `yaml:"dispatch"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CapabilitiesConfig points at the provider-enablement defaults file
type CapabilitiesConfig struct {
	// DefaultsPath is an optional TOML file with the initial per-provider
	// enabled flags. Providers absent from the file use their built-in default.
	DefaultsPath string `yaml:"defaults_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default timing values applied when the config file leaves them unset.
const (
	DefaultSetupTimeout    = 30 * time.Second
	DefaultHealthInterval  = 30 * time.Second
	DefaultRestartDelay    = 2 * time.Second
	DefaultDispatchTimeout = 30 * time.Second
)

// Default returns a Config with sensible defaults for running without a config file.
func Default() *Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "hearthd"
	}
	return &Config{
		Server: ServerConfig{
			Name:        hostname,
			Port:        0,
			ServiceType: "_mcp._tcp",
			Domain:      "local.",
		},
		Timeouts: TimeoutsConfig{
			Setup:          DefaultSetupTimeout,
			HealthInterval: DefaultHealthInterval,
			RestartDelay:   DefaultRestartDelay,
			Dispatch:       DefaultDispatchTimeout,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultDatabasePath returns the XDG data path for the hearthd database.
// Priority: XDG_DATA_HOME/hearthd > ~/.local/share/hearthd
func defaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hearthd.db" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "hearthd", "hearthd.db")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields left unset fall back to the Default() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.ServiceType == "" {
		return fmt.Errorf("server.service_type is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Timeouts.Setup <= 0 {
		return fmt.Errorf("timeouts.setup must be positive")
	}
	if c.Timeouts.HealthInterval <= 0 {
		return fmt.Errorf("timeouts.health_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Timeouts.SetupRaw != "" {
		cfg.Timeouts.Setup, err = time.ParseDuration(cfg.Timeouts.SetupRaw)
		if err != nil {
			return fmt.Errorf("parsing setup %q: %w", cfg.Timeouts.SetupRaw, err)
		}
	}

	if cfg.Timeouts.HealthIntervalRaw != "" {
		cfg.Timeouts.HealthInterval, err = time.ParseDuration(cfg.Timeouts.HealthIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing health_interval %q: %w", cfg.Timeouts.HealthIntervalRaw, err)
		}
	}

	if cfg.Timeouts.RestartDelayRaw != "" {
		cfg.Timeouts.RestartDelay, err = time.ParseDuration(cfg.Timeouts.RestartDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing restart_delay %q: %w", cfg.Timeouts.RestartDelayRaw, err)
		}
	}

	if cfg.Timeouts.DispatchRaw != "" {
		cfg.Timeouts.Dispatch, err = time.ParseDuration(cfg.Timeouts.DispatchRaw)
		if err != nil {
			return fmt.Errorf("parsing dispatch %q: %w", cfg.Timeouts.DispatchRaw, err)
		}
	}

	return nil
}
