package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sho7650/media-window/internal/pagination"
)

// Store defines the contract for the feed catalog
type Store interface {
	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
	IsReady() bool

	// Item operations
	StoreItems(ctx context.Context, feed string, records []Record) (int, error)
	FetchPage(ctx context.Context, feed string, page, size int) ([]Record, error)
	Count(ctx context.Context, feed string) (int, error)

	// Cursor operations
	pagination.CursorStore
}

// Record is a media item as stored in a feed. Payload holds the item's
// application data as JSON.
type Record struct {
	FeedID       string          `json:"feed_id" db:"feed_id"`
	Position     int             `json:"position" db:"position"`
	ID           string          `json:"id" db:"id"`
	ResourceURL  string          `json:"resource_url" db:"resource_url"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
