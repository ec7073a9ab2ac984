package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Default window parameters.
const (
	DefaultKeepBehind         = 1
	DefaultPreloadAhead       = 2
	DefaultMaxConcurrentOpens = 2
	DefaultDisposeGrace       = 50 * time.Millisecond
	DefaultHideGrace          = 5 * time.Second
	DefaultVisibleThreshold   = 0.5
	DefaultFetchThreshold     = 3
)

// WindowConfig describes which items around the current index keep their
// resources open. It is immutable once handed to a manager.
type WindowConfig struct {
	KeepBehind         int  `yaml:"keep_behind" toml:"keep_behind" json:"keep_behind"`
	PreloadAhead       int  `yaml:"preload_ahead" toml:"preload_ahead" json:"preload_ahead"`
	MaxConcurrentOpens int  `yaml:"max_concurrent_opens" toml:"max_concurrent_opens" json:"max_concurrent_opens"`
	SingleItemMode     bool `yaml:"single_item_mode" toml:"single_item_mode" json:"single_item_mode"`
}

// DefaultWindowConfig returns the stock window: one behind, two ahead.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		KeepBehind:         DefaultKeepBehind,
		PreloadAhead:       DefaultPreloadAhead,
		MaxConcurrentOpens: DefaultMaxConcurrentOpens,
	}
}

// Validate checks if WindowConfig is valid
func (c WindowConfig) Validate() error {
	if c.KeepBehind < 0 {
		return fmt.Errorf("%w: keep_behind must be >= 0, got: %d", ErrInvalidConfig, c.KeepBehind)
	}
	if c.PreloadAhead < 0 {
		return fmt.Errorf("%w: preload_ahead must be >= 0, got: %d", ErrInvalidConfig, c.PreloadAhead)
	}
	if c.MaxConcurrentOpens < 1 {
		return fmt.Errorf("%w: max_concurrent_opens must be >= 1, got: %d", ErrInvalidConfig, c.MaxConcurrentOpens)
	}
	return nil
}

// MaxRetained is the upper bound on the size of any retain set.
func (c WindowConfig) MaxRetained() int {
	if c.SingleItemMode {
		return 1
	}
	return c.KeepBehind + c.PreloadAhead + 1
}

// RetainRange returns the inclusive index bounds retained around index for a
// list of count items. ok is false when index is outside [0, count).
func (c WindowConfig) RetainRange(index, count int) (lo, hi int, ok bool) {
	if index < 0 || index >= count {
		return 0, 0, false
	}
	if c.SingleItemMode {
		return index, index, true
	}
	lo = max(index-c.KeepBehind, 0)
	hi = min(index+c.PreloadAhead, count-1)
	return lo, hi, true
}

// ValidResourceURL reports whether raw can be handed to a backend. Blank
// strings, unparsable URLs and relative references are rejected.
func ValidResourceURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" || strings.HasPrefix(u.Path, "/")
}
