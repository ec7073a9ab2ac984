package config

import (
	"fmt"
	"time"

	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/internal/logging"
)

// Config represents the complete application configuration
type Config struct {
	Window     WindowConfig     `yaml:"window" toml:"window"`
	Visibility VisibilityConfig `yaml:"visibility" toml:"visibility"`
	Pagination PaginationConfig `yaml:"pagination" toml:"pagination"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// WindowConfig holds the sliding window settings
type WindowConfig struct {
	KeepBehind         int    `yaml:"keep_behind" toml:"keep_behind"`
	PreloadAhead       int    `yaml:"preload_ahead" toml:"preload_ahead"`
	MaxConcurrentOpens int    `yaml:"max_concurrent_opens" toml:"max_concurrent_opens"`
	SingleItemMode     bool   `yaml:"single_item_mode" toml:"single_item_mode"`
	DisposeGrace       string `yaml:"dispose_grace" toml:"dispose_grace"`
}

// VisibilityConfig holds the viewport tracker settings
type VisibilityConfig struct {
	HideGrace        string  `yaml:"hide_grace" toml:"hide_grace"`
	VisibleThreshold float64 `yaml:"visible_threshold" toml:"visible_threshold"`
}

// PaginationConfig holds the page fetching settings
type PaginationConfig struct {
	FetchThreshold int    `yaml:"fetch_threshold" toml:"fetch_threshold"`
	PageSize       int    `yaml:"page_size" toml:"page_size"`
	Feed           string `yaml:"feed" toml:"feed"`
}

// StorageConfig represents database configuration
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig selects log level and output format
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ChangeEvent represents a configuration change event
type ChangeEvent struct {
	Type   string
	Path   string
	Error  string
	Config *Config
}

const (
	EventConfigUpdated = "config_updated"
	EventConfigError   = "config_error"
)

// Default returns the configuration used for every unset value.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			KeepBehind:         core.DefaultKeepBehind,
			PreloadAhead:       core.DefaultPreloadAhead,
			MaxConcurrentOpens: core.DefaultMaxConcurrentOpens,
			DisposeGrace:       core.DefaultDisposeGrace.String(),
		},
		Visibility: VisibilityConfig{
			HideGrace:        core.DefaultHideGrace.String(),
			VisibleThreshold: core.DefaultVisibleThreshold,
		},
		Pagination: PaginationConfig{
			FetchThreshold: core.DefaultFetchThreshold,
			PageSize:       10,
			Feed:           "default",
		},
		Storage: StorageConfig{Path: "./media-window.db"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Window.Validate(); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if err := c.Visibility.Validate(); err != nil {
		return fmt.Errorf("visibility: %w", err)
	}
	if err := c.Pagination.Validate(); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage: %w: path cannot be empty", core.ErrInvalidConfig)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Core converts the section into the immutable window configuration.
func (w WindowConfig) Core() core.WindowConfig {
	return core.WindowConfig{
		KeepBehind:         w.KeepBehind,
		PreloadAhead:       w.PreloadAhead,
		MaxConcurrentOpens: w.MaxConcurrentOpens,
		SingleItemMode:     w.SingleItemMode,
	}
}

// Validate checks if WindowConfig is valid
func (w WindowConfig) Validate() error {
	if err := w.Core().Validate(); err != nil {
		return err
	}
	_, err := parseGrace("dispose_grace", w.DisposeGrace)
	return err
}

// DisposeGraceDuration returns the parsed dispose grace. An empty value
// yields the default.
func (w WindowConfig) DisposeGraceDuration() time.Duration {
	d, err := parseGrace("dispose_grace", w.DisposeGrace)
	if err != nil || w.DisposeGrace == "" {
		return core.DefaultDisposeGrace
	}
	return d
}

// Validate checks if VisibilityConfig is valid
func (v VisibilityConfig) Validate() error {
	if v.VisibleThreshold <= 0 || v.VisibleThreshold > 1 {
		return fmt.Errorf("%w: visible_threshold must be in (0, 1], got: %v", core.ErrInvalidConfig, v.VisibleThreshold)
	}
	_, err := parseGrace("hide_grace", v.HideGrace)
	return err
}

// HideGraceDuration returns the parsed hide grace. An empty value yields
// the default.
func (v VisibilityConfig) HideGraceDuration() time.Duration {
	d, err := parseGrace("hide_grace", v.HideGrace)
	if err != nil || v.HideGrace == "" {
		return core.DefaultHideGrace
	}
	return d
}

// Validate checks if PaginationConfig is valid
func (p PaginationConfig) Validate() error {
	if p.FetchThreshold < 1 {
		return fmt.Errorf("%w: fetch_threshold must be >= 1, got: %d", core.ErrInvalidConfig, p.FetchThreshold)
	}
	if p.PageSize < 1 {
		return fmt.Errorf("%w: page_size must be >= 1, got: %d", core.ErrInvalidConfig, p.PageSize)
	}
	if p.Feed == "" {
		return fmt.Errorf("%w: feed cannot be empty", core.ErrInvalidConfig)
	}
	return nil
}

// Validate checks if LoggingConfig is valid
func (l LoggingConfig) Validate() error {
	if !logging.ValidLevel(l.Level) {
		return fmt.Errorf("%w: unknown log level %q", core.ErrInvalidConfig, l.Level)
	}
	switch l.Format {
	case "text", "json", "logfmt":
		return nil
	default:
		return fmt.Errorf("%w: log format must be text, json or logfmt, got: %q", core.ErrInvalidConfig, l.Format)
	}
}

func parseGrace(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s format: %v", core.ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative, got: %s", core.ErrInvalidConfig, field, value)
	}
	return d, nil
}
