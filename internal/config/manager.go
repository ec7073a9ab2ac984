// Package config loads the media window configuration from YAML or TOML
// files, substitutes ${VAR} references from the environment and reloads the
// file when it changes on disk.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sho7650/media-window/internal/logging"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

const defaultDebounce = 100 * time.Millisecond

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %q", filepath.Ext(path))
	}
}

// Manager handles configuration loading, validation, and hot reload
type Manager struct {
	log      logging.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *Config
}

// NewManager creates a new configuration manager
func NewManager(log logging.Logger) *Manager {
	return &Manager{
		log:      logging.OrNop(log).With("component", "config"),
		debounce: defaultDebounce,
	}
}

// LoadFromFile loads configuration from a YAML or TOML file. Values missing
// from the file keep their defaults.
func (m *Manager) LoadFromFile(ctx context.Context, path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Parse decodes and validates data in the given format.
func Parse(data []byte, format Format) (*Config, error) {
	content := []byte(substituteEnvVars(string(data)))

	cfg := Default()
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Current returns the most recently loaded configuration, or nil.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// WatchForChanges reloads path whenever it changes and reports the outcome
// on changes. Bursts of writes are coalesced. Watching stops when ctx is
// done. The parent directory is watched so editors that replace the file
// are followed.
func (m *Manager) WatchForChanges(ctx context.Context, path string, changes chan<- ChangeEvent) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to add watch path %s: %w", filepath.Dir(target), err)
	}

	go m.watchLoop(ctx, watcher, target, changes)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, changes chan<- ChangeEvent) {
	defer func() { _ = watcher.Close() }()

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(m.debounce, func() { m.reload(ctx, path, changes) })
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("config watcher error", "err", err)
		}
	}
}

func (m *Manager) reload(ctx context.Context, path string, changes chan<- ChangeEvent) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := m.LoadFromFile(ctx, path)
	event := ChangeEvent{Type: EventConfigUpdated, Path: path, Config: cfg}
	if err != nil {
		m.log.Warn("config reload failed", "path", path, "err", err)
		event = ChangeEvent{Type: EventConfigError, Path: path, Error: err.Error()}
	} else {
		m.log.Info("config reloaded", "path", path)
	}

	select {
	case changes <- event:
	case <-ctx.Done():
	}
}

// substituteEnvVars replaces ${VAR} patterns with environment variables.
// Unset variables are left as written.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}
