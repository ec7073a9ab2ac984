package interfaces

import (
	"context"
	"fmt"
	"strings"
)

// MediaItem is a unit of content with a stable id, a media URL and an
// opaque application payload. Two items refer to the same resource iff
// their IDs match; the payload never takes part in identity.
type MediaItem[T any] struct {
	ID           string `json:"id" yaml:"id"`
	ResourceURL  string `json:"resource_url" yaml:"resource_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty" yaml:"thumbnail_url,omitempty"`
	Payload      T      `json:"payload" yaml:"payload"`
}

// Validate checks that the item can be tracked. An empty ResourceURL is
// allowed: such items are listed but never opened.
func (m *MediaItem[T]) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("media item ID cannot be empty")
	}
	return nil
}

// Backend opens playable resources. Timeouts are the backend's concern;
// callers never cancel an open mid-flight.
type Backend interface {
	Open(ctx context.Context, url string) (Handle, error)
}

// Handle is an open, backend-owned resource associated with one item id.
type Handle interface {
	// Playback
	Play() error
	Pause() error
	SetVolume(level float64) error

	// Status
	IsPlaying() bool
	IsInitialized() bool

	// Teardown. Called exactly once per handle.
	Dispose(ctx context.Context) error
}

// ItemSource supplies pages of items. An empty page signals the end of data.
type ItemSource[T any] interface {
	FetchPage(ctx context.Context, page int) ([]MediaItem[T], error)
}

// ItemSourceFunc adapts a plain function to ItemSource.
type ItemSourceFunc[T any] func(ctx context.Context, page int) ([]MediaItem[T], error)

// FetchPage calls f(ctx, page).
func (f ItemSourceFunc[T]) FetchPage(ctx context.Context, page int) ([]MediaItem[T], error) {
	return f(ctx, page)
}

// Pausable is implemented by anything holding playing resources that must be
// paused on navigation away from a screen and resumed on return.
type Pausable interface {
	// PauseAll pauses every playing resource and returns the ids it paused.
	PauseAll() []string
	// Resume resumes playback for the given ids, skipping ones no longer open.
	Resume(ids []string)
}

// Volume levels applied on mute toggles.
const (
	VolumeMuted  = 0.0
	VolumeNormal = 1.0
)
