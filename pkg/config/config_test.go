package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdchub/nmdchub/pkg/store"
)

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "nmdchub", cfg.Hub.Name)
	assert.Equal(t, 411, cfg.Hub.Port)
	assert.Equal(t, "AdvancedBot", cfg.Hub.AdvancedBotName)
	assert.Equal(t, "OpChat", cfg.Hub.OpChatName)
	assert.Equal(t, 5, cfg.Hub.NumTaskRunners)
	assert.Equal(t, 180*time.Second, cfg.Hub.ConnectCheckTime)
	assert.Equal(t, 365*24*time.Hour, cfg.Hub.HistoryTime)
	assert.True(t, cfg.Hub.ReloadBots)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.Equal(t, 8080, cfg.API.Port)

	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Run("invalid log level", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = "CHATTY"
		assert.Error(t, Validate(cfg))
	})

	t.Run("numeric log level accepted", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = "8"
		assert.NoError(t, Validate(cfg))
	})

	t.Run("invalid format", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Logging.Format = "xml"
		assert.Error(t, Validate(cfg))
	})

	t.Run("port bounds", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Hub.Port = 70000
		assert.Error(t, Validate(cfg))
	})

	t.Run("bot nick with separator", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Hub.OpChatName = "Op Chat"
		assert.Error(t, Validate(cfg))
	})

	t.Run("duplicate bot nicks", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Hub.OpChatName = cfg.Hub.AdvancedBotName
		assert.Error(t, Validate(cfg))
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
hub:
  name: "Test Hub"
  port: 4111
  restrict_unverified_users: true
  connect_check_time: 90s
logging:
  level: debug
database:
  type: fallback
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Test Hub", cfg.Hub.Name)
	assert.Equal(t, 4111, cfg.Hub.Port)
	assert.True(t, cfg.Hub.RestrictUnverifiedUsers)
	assert.Equal(t, 90*time.Second, cfg.Hub.ConnectCheckTime)
	// Defaults fill the rest.
	assert.Equal(t, "AdvancedBot", cfg.Hub.AdvancedBotName)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, store.DatabaseTypeMemory, cfg.Database.Type)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 411, cfg.Hub.Port)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Hub.Name = "Saved Hub"
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Saved Hub", loaded.Hub.Name)
}
