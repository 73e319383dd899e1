// Package config loads and validates the orchestrator's configuration:
// where its data root lives, which address the External Gateway listens
// on, which container backend drives the Supervisor, and the swarm-wide
// policy defaults. Values come from a YAML config file, SWARM_-prefixed
// environment variables (plus the unprefixed DATA_ROOT, LISTEN_ADDR,
// CONTAINER_BACKEND and PROVIDER_API_KEY), and flags, in ascending
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/viper"
)

// Config is the complete orchestrator configuration.
type Config struct {
	DataRoot  string          `mapstructure:"data_root"`
	Server    ServerConfig    `mapstructure:"server"`
	Container ContainerConfig `mapstructure:"container"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Swarm     SwarmConfig     `mapstructure:"swarm"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the External Gateway's HTTP listener.
type ServerConfig struct {
	// ListenAddr is the address the Gateway binds, e.g. ":7420".
	ListenAddr string `mapstructure:"listen_addr"`
}

// ContainerConfig selects and tunes the Container Supervisor's backend.
type ContainerConfig struct {
	// Backend names the Runtime implementation to construct. "local" runs
	// plain OS processes via LocalProcessRuntime; other values are reserved
	// for a real sandbox integration a production deployment wires in.
	Backend string `mapstructure:"backend"`
	// CallTimeoutSeconds bounds every Runtime call.
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
	// Image is defaulted and validated as non-empty, but it is not passed
	// to the Supervisor: every agent container is created from
	// "swarm-agent:latest".
	Image string `mapstructure:"image"`
}

// ProviderConfig carries the credential injected into every agent
// container's environment so agents can call their model provider.
type ProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SwarmConfig holds swarm-wide policy defaults, distinct from the
// per-swarm graph the Swarm Registry persists.
type SwarmConfig struct {
	// AutoConnectHuman controls whether node.add auto-seeds human<->bee
	// edges. Default false: the human node must never be privileged by
	// default.
	AutoConnectHuman bool `mapstructure:"auto_connect_human"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Dir is the directory orchestrator.log is written to; empty logs to
	// stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB bounds a rotated log file's size before rollover.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups limits how many rotated log files are kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DataRoot: defaultDataRoot(),
		Server: ServerConfig{
			ListenAddr: ":7420",
		},
		Container: ContainerConfig{
			Backend:            "local",
			CallTimeoutSeconds: 30,
			Image:              "swarm-agent:latest",
		},
		Provider: ProviderConfig{
			APIKey: "",
		},
		Swarm: SwarmConfig{
			AutoConnectHuman: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

func defaultDataRoot() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "swarm-orchestrator")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swarm-orchestrator"
	}
	return filepath.Join(home, ".local", "share", "swarm-orchestrator")
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("data_root", defaults.DataRoot)

	viper.SetDefault("server.listen_addr", defaults.Server.ListenAddr)

	viper.SetDefault("container.backend", defaults.Container.Backend)
	viper.SetDefault("container.call_timeout_seconds", defaults.Container.CallTimeoutSeconds)
	viper.SetDefault("container.image", defaults.Container.Image)

	viper.SetDefault("provider.api_key", defaults.Provider.APIKey)

	viper.SetDefault("swarm.auto_connect_human", defaults.Swarm.AutoConnectHuman)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct. Viper's
// environment binding means SWARM_PROVIDER_API_KEY (or PROVIDER_API_KEY)
// overrides provider.api_key
// without a config file entry, the pattern production deployments use for
// credentials.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "swarm-orchestrator")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swarm-orchestrator"
	}
	return filepath.Join(home, ".config", "swarm-orchestrator")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidContainerBackends returns the list of recognized container backends.
func ValidContainerBackends() []string {
	return []string{"local"}
}

// IsValidContainerBackend checks if the given backend is recognized.
func IsValidContainerBackend(backend string) bool {
	return slices.Contains(ValidContainerBackends(), backend)
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// IsValidLogLevel checks if the given log level is valid.
func IsValidLogLevel(level string) bool {
	return slices.Contains(ValidLogLevels(), level)
}
