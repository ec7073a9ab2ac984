package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sho7650/media-window/internal/core"
)

func TestManager_LoadFromYAML(t *testing.T) {
	ctx := context.Background()

	t.Run("Load valid configuration", func(t *testing.T) {
		configContent := `
window:
  keep_behind: 2
  preload_ahead: 3
  max_concurrent_opens: 4
  single_item_mode: true
  dispose_grace: "80ms"
visibility:
  hide_grace: "3s"
  visible_threshold: 0.6
pagination:
  fetch_threshold: 5
  page_size: 20
  feed: "home"
storage:
  path: "./feed.db"
logging:
  level: "debug"
  format: "json"
`
		configFile := createTempConfigFile(t, "config.yaml", configContent)

		manager := NewManager(nil)
		cfg, err := manager.LoadFromFile(ctx, configFile)
		require.NoError(t, err, "LoadFromFile should not return error for valid config")
		require.NotNil(t, cfg)

		assert.Equal(t, core.WindowConfig{KeepBehind: 2, PreloadAhead: 3, MaxConcurrentOpens: 4, SingleItemMode: true}, cfg.Window.Core())
		assert.Equal(t, 80*time.Millisecond, cfg.Window.DisposeGraceDuration())
		assert.Equal(t, 3*time.Second, cfg.Visibility.HideGraceDuration())
		assert.Equal(t, 0.6, cfg.Visibility.VisibleThreshold)
		assert.Equal(t, PaginationConfig{FetchThreshold: 5, PageSize: 20, Feed: "home"}, cfg.Pagination)
		assert.Equal(t, "./feed.db", cfg.Storage.Path)
		assert.Equal(t, LoggingConfig{Level: "debug", Format: "json"}, cfg.Logging)
		assert.Same(t, cfg, manager.Current())
	})

	t.Run("Missing sections keep defaults", func(t *testing.T) {
		configFile := createTempConfigFile(t, "config.yml", "window:\n  keep_behind: 0\n")

		cfg, err := NewManager(nil).LoadFromFile(ctx, configFile)
		require.NoError(t, err)

		want := Default()
		want.Window.KeepBehind = 0
		assert.Equal(t, want, cfg)
		assert.Equal(t, core.DefaultDisposeGrace, cfg.Window.DisposeGraceDuration())
	})

	t.Run("Load configuration with environment variables", func(t *testing.T) {
		t.Setenv("MEDIA_WINDOW_DB_PATH", "/custom/db/path.db")

		configFile := createTempConfigFile(t, "config.yaml", `
storage:
  path: "${MEDIA_WINDOW_DB_PATH}"
pagination:
  feed: "${MEDIA_WINDOW_UNSET_FEED}"
`)
		cfg, err := NewManager(nil).LoadFromFile(ctx, configFile)
		require.NoError(t, err)
		assert.Equal(t, "/custom/db/path.db", cfg.Storage.Path)
		assert.Equal(t, "${MEDIA_WINDOW_UNSET_FEED}", cfg.Pagination.Feed, "unset variables stay as written")
	})

	t.Run("Fail on invalid YAML", func(t *testing.T) {
		configFile := createTempConfigFile(t, "config.yaml", "window: [unterminated")
		_, err := NewManager(nil).LoadFromFile(ctx, configFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse YAML")
	})

	t.Run("Fail on missing file", func(t *testing.T) {
		_, err := NewManager(nil).LoadFromFile(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("Fail on unknown extension", func(t *testing.T) {
		configFile := createTempConfigFile(t, "config.json", "{}")
		_, err := NewManager(nil).LoadFromFile(ctx, configFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported config file extension")
	})
}

func TestManager_LoadFromTOML(t *testing.T) {
	configFile := createTempConfigFile(t, "config.toml", `
[window]
keep_behind = 0
preload_ahead = 1
max_concurrent_opens = 1
dispose_grace = "10ms"

[visibility]
hide_grace = "250ms"

[logging]
level = "warn"
format = "logfmt"
`)

	cfg, err := NewManager(nil).LoadFromFile(context.Background(), configFile)
	require.NoError(t, err)

	assert.Equal(t, core.WindowConfig{KeepBehind: 0, PreloadAhead: 1, MaxConcurrentOpens: 1}, cfg.Window.Core())
	assert.Equal(t, 10*time.Millisecond, cfg.Window.DisposeGraceDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.Visibility.HideGraceDuration())
	assert.Equal(t, core.DefaultVisibleThreshold, cfg.Visibility.VisibleThreshold)
	assert.Equal(t, "logfmt", cfg.Logging.Format)
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"negative keep_behind", func(c *Config) { c.Window.KeepBehind = -1 }, "keep_behind"},
		{"negative preload_ahead", func(c *Config) { c.Window.PreloadAhead = -2 }, "preload_ahead"},
		{"zero max_concurrent_opens", func(c *Config) { c.Window.MaxConcurrentOpens = 0 }, "max_concurrent_opens"},
		{"bad dispose_grace", func(c *Config) { c.Window.DisposeGrace = "soon" }, "dispose_grace"},
		{"negative hide_grace", func(c *Config) { c.Visibility.HideGrace = "-1s" }, "hide_grace"},
		{"threshold above one", func(c *Config) { c.Visibility.VisibleThreshold = 1.5 }, "visible_threshold"},
		{"zero threshold", func(c *Config) { c.Visibility.VisibleThreshold = 0 }, "visible_threshold"},
		{"zero fetch_threshold", func(c *Config) { c.Pagination.FetchThreshold = 0 }, "fetch_threshold"},
		{"zero page_size", func(c *Config) { c.Pagination.PageSize = 0 }, "page_size"},
		{"empty feed", func(c *Config) { c.Pagination.Feed = "" }, "feed"},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }, "path"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}

	require.NoError(t, Default().Validate(), "defaults must be valid")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestManager_HotReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	t.Run("Watch for configuration changes", func(t *testing.T) {
		configFile := createTempConfigFile(t, "config.yaml", "window:\n  keep_behind: 1\n")

		manager := NewManager(nil)
		_, err := manager.LoadFromFile(ctx, configFile)
		require.NoError(t, err)

		changeChan := make(chan ChangeEvent, 1)
		require.NoError(t, manager.WatchForChanges(ctx, configFile, changeChan))

		err = os.WriteFile(configFile, []byte("window:\n  keep_behind: 4\n"), 0644)
		require.NoError(t, err)

		select {
		case event := <-changeChan:
			assert.Equal(t, EventConfigUpdated, event.Type)
			assert.Equal(t, configFile, event.Path)
			require.NotNil(t, event.Config)
			assert.Equal(t, 4, event.Config.Window.KeepBehind)
		case <-time.After(2 * time.Second):
			t.Fatal("Should receive config change notification within 2 seconds")
		}

		assert.Equal(t, 4, manager.Current().Window.KeepBehind)
	})

	t.Run("Keep previous configuration on invalid change", func(t *testing.T) {
		configFile := createTempConfigFile(t, "config.yaml", "window:\n  keep_behind: 2\n")

		manager := NewManager(nil)
		original, err := manager.LoadFromFile(ctx, configFile)
		require.NoError(t, err)

		changeChan := make(chan ChangeEvent, 1)
		require.NoError(t, manager.WatchForChanges(ctx, configFile, changeChan))

		err = os.WriteFile(configFile, []byte("window:\n  max_concurrent_opens: 0\n"), 0644)
		require.NoError(t, err)

		select {
		case event := <-changeChan:
			assert.Equal(t, EventConfigError, event.Type)
			assert.Contains(t, event.Error, "validation failed")
			assert.Nil(t, event.Config)
		case <-time.After(2 * time.Second):
			t.Fatal("Should receive config error notification")
		}

		assert.Same(t, original, manager.Current())
	})
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.toml": FormatTOML,
	} {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatFromPath("config")
	assert.Error(t, err)
}

// Helper functions
func createTempConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	return configFile
}
