package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     WindowConfig
		wantErr bool
	}{
		{"defaults", DefaultWindowConfig(), false},
		{"zero window", WindowConfig{MaxConcurrentOpens: 1}, false},
		{"negative keep behind", WindowConfig{KeepBehind: -1, MaxConcurrentOpens: 1}, true},
		{"negative preload", WindowConfig{PreloadAhead: -2, MaxConcurrentOpens: 1}, true},
		{"no open slots", WindowConfig{KeepBehind: 1, PreloadAhead: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWindowConfig_RetainRange(t *testing.T) {
	cfg := WindowConfig{KeepBehind: 1, PreloadAhead: 2, MaxConcurrentOpens: 2}

	t.Run("middle of list", func(t *testing.T) {
		lo, hi, ok := cfg.RetainRange(2, 5)
		require.True(t, ok)
		assert.Equal(t, 1, lo)
		assert.Equal(t, 4, hi)
	})

	t.Run("clamped at both ends", func(t *testing.T) {
		lo, hi, ok := cfg.RetainRange(0, 2)
		require.True(t, ok)
		assert.Equal(t, 0, lo)
		assert.Equal(t, 1, hi)
	})

	t.Run("out of range", func(t *testing.T) {
		_, _, ok := cfg.RetainRange(5, 5)
		assert.False(t, ok)
		_, _, ok = cfg.RetainRange(-1, 5)
		assert.False(t, ok)
		_, _, ok = cfg.RetainRange(0, 0)
		assert.False(t, ok)
	})

	t.Run("single item mode", func(t *testing.T) {
		single := cfg
		single.SingleItemMode = true
		lo, hi, ok := single.RetainRange(3, 10)
		require.True(t, ok)
		assert.Equal(t, 3, lo)
		assert.Equal(t, 3, hi)
		assert.Equal(t, 1, single.MaxRetained())
	})
}

func TestWindowConfig_RetainRangeBounds(t *testing.T) {
	for keep := 0; keep <= 3; keep++ {
		for ahead := 0; ahead <= 3; ahead++ {
			cfg := WindowConfig{KeepBehind: keep, PreloadAhead: ahead, MaxConcurrentOpens: 1}
			for count := 1; count <= 8; count++ {
				for index := 0; index < count; index++ {
					lo, hi, ok := cfg.RetainRange(index, count)
					require.True(t, ok)
					assert.LessOrEqual(t, lo, index, fmt.Sprintf("keep=%d ahead=%d idx=%d", keep, ahead, index))
					assert.GreaterOrEqual(t, hi, index)
					assert.LessOrEqual(t, hi-lo+1, cfg.MaxRetained())
					assert.GreaterOrEqual(t, lo, 0)
					assert.Less(t, hi, count)
				}
			}
		}
	}
}

func TestValidResourceURL(t *testing.T) {
	assert.True(t, ValidResourceURL("https://cdn.example.com/v/1.mp4"))
	assert.True(t, ValidResourceURL("file:///tmp/clip.mov"))
	assert.True(t, ValidResourceURL("/var/media/clip.mp4"))
	assert.False(t, ValidResourceURL(""))
	assert.False(t, ValidResourceURL("   "))
	assert.False(t, ValidResourceURL("clip.mp4"))
	assert.False(t, ValidResourceURL("http://[::1"))
}

func TestResourceError(t *testing.T) {
	cause := errors.New("decoder crashed")
	err := fmt.Errorf("window: %w", NewResourceError("item-1", "open", cause))

	assert.True(t, IsResourceError(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "resource item-1: open failed: decoder crashed")

	var re *ResourceError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "item-1", re.ItemID)
	assert.False(t, IsResourceError(cause))
}
