package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyHubDefaults(&cfg.Hub)
	applyLoggingDefaults(&cfg.Logging)
	cfg.Database.ApplyDefaults()
	applyAPIDefaults(&cfg.API)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyHubDefaults(cfg *HubConfig) {
	if cfg.Name == "" {
		cfg.Name = "nmdchub"
	}
	if cfg.Port == 0 {
		cfg.Port = 411
	}
	if cfg.AdvancedBotName == "" {
		cfg.AdvancedBotName = "AdvancedBot"
	}
	if cfg.OpChatName == "" {
		cfg.OpChatName = "OpChat"
	}
	if cfg.LogBotName == "" {
		cfg.LogBotName = "LogBot"
	}
	if cfg.NumTaskRunners == 0 {
		cfg.NumTaskRunners = 5
	}
	if cfg.MaxHistoryRows == 0 {
		cfg.MaxHistoryRows = 100
	}
	if cfg.StupidFactor == 0 {
		cfg.StupidFactor = 3
	}
	if cfg.ConnectCheckTime == 0 {
		cfg.ConnectCheckTime = 180 * time.Second
	}
	if cfg.HistoryTime == 0 {
		cfg.HistoryTime = 365 * 24 * time.Hour
	}
	if cfg.CleanupTime == 0 {
		cfg.CleanupTime = 30 * time.Second
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = 64 * 1024
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Hub: HubConfig{
			ReloadBots: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
