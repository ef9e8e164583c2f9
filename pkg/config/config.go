// Package config loads hub configuration from file, environment, and
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nmdchub/nmdchub/pkg/store"
)

// Config represents the hub configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NMDCHUB_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Hub controls the NMDC listener and hub behavior.
	Hub HubConfig `mapstructure:"hub" yaml:"hub"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Database configures the persistent store (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the status API server configuration.
	API APIConfig `mapstructure:"api" yaml:"api"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HubConfig controls the NMDC side of the hub.
type HubConfig struct {
	// Name is the hub name announced in $HubName.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// BindAddress is the address the NMDC listener binds to.
	// Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the NMDC listener port. The protocol default is 411.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MOTD is sent to every user after login. Optional.
	MOTD string `mapstructure:"motd" yaml:"motd,omitempty"`

	// Private rejects logins for nicks without an existing account.
	Private bool `mapstructure:"private" yaml:"private"`

	// RestrictUnverifiedUsers withholds Search/SR/RevConnectToMe from
	// unverified users and gates ConnectToMe between them and ops.
	RestrictUnverifiedUsers bool `mapstructure:"restrict_unverified_users" yaml:"restrict_unverified_users"`

	// DescriptionStart, when set, is the prefix every user description
	// must carry. Ops are told about offenders at login and in listings.
	DescriptionStart string `mapstructure:"description_start" yaml:"description_start,omitempty"`

	// AdvancedBotName is the nick of the administrative bot.
	AdvancedBotName string `mapstructure:"advanced_bot_name" yaml:"advanced_bot_name"`

	// OpChatName is the nick of the op-chat relay bot.
	OpChatName string `mapstructure:"op_chat_name" yaml:"op_chat_name"`

	// LogBotName is the nick of the remote-logging bot.
	LogBotName string `mapstructure:"log_bot_name" yaml:"log_bot_name"`

	// NumTaskRunners is the worker pool size. Forced to 1 when the
	// database backend is not safe for concurrent connections.
	NumTaskRunners int `mapstructure:"num_task_runners" validate:"omitempty,min=1,max=64" yaml:"num_task_runners"`

	// MaxHistoryRows caps the rows returned by the history command.
	MaxHistoryRows int `mapstructure:"max_history_rows" yaml:"max_history_rows"`

	// StupidFactor scales how much a stupidified message is mangled.
	StupidFactor int `mapstructure:"stupid_factor" yaml:"stupid_factor"`

	// ConnectCheckTime is how long an op's RevConnectToMe authorizes the
	// reverse ConnectToMe on restricted hubs.
	ConnectCheckTime time.Duration `mapstructure:"connect_check_time" yaml:"connect_check_time"`

	// HistoryTime is the default lookback of the history command and the
	// retention horizon of the history scrub.
	HistoryTime time.Duration `mapstructure:"history_time" yaml:"history_time"`

	// ReloadBots enables the $ReloadBots op command, which tears down and
	// re-registers every bot without dropping user sessions.
	ReloadBots bool `mapstructure:"reload_bots" yaml:"reload_bots"`

	// CleanupTime bounds how long shutdown waits for the task queue to
	// drain before proceeding.
	CleanupTime time.Duration `mapstructure:"cleanup_time" yaml:"cleanup_time"`

	// MaxFrameSize drops connections that send a single frame larger
	// than this many bytes.
	MaxFrameSize int `mapstructure:"max_frame_size" yaml:"max_frame_size"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DATA, THREADING, SQL, DEBUG, INFO, WARN, ERROR, or a
	// numeric hub level (1, 8, 10, 15, 20, 30, 40).
	Level string `mapstructure:"level" validate:"required" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file
	// path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics endpoint. Metrics are
// served by the status API; Enabled false means no collectors register.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	// Enabled controls whether the status API listens at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the status API.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location and falls back to pure
// defaults when no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  nmdchub init\n\n"+
				"Or specify a custom config file:\n"+
				"  nmdchub <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  nmdchub init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the file may carry database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the NMDCHUB_ prefix, e.g.
// NMDCHUB_HUB_PORT=4111.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NMDCHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// True-by-default booleans need viper defaults; ApplyDefaults cannot
	// tell an omitted key from an explicit false.
	v.SetDefault("hub.reload_bots", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is not an error; the caller falls back to defaults.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, or the current directory as
// a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nmdchub")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nmdchub")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
