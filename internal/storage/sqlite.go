// Package storage keeps the feed catalog in SQLite: the ordered media items
// of each feed and the pagination cursor reached for it.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sho7650/media-window/internal/pagination"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// ErrNotReady is returned by operations on an uninitialized or closed store.
var ErrNotReady = errors.New("storage not ready")

// SQLiteStorage implements Store using SQLite
type SQLiteStorage struct {
	dbPath string
	db     *sql.DB
	ready  bool
}

var _ Store = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) *SQLiteStorage {
	return &SQLiteStorage{dbPath: dbPath}
}

// Initialize opens the database and migrates it to the latest schema
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrations := NewMigrationManager(db, schemaMigrations)
	if err := migrations.Initialize(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := migrations.MigrateTo(ctx, migrations.Latest()); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	s.db = db
	s.ready = true
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	s.ready = false
	err := s.db.Close()
	s.db = nil
	return err
}

// IsReady returns whether the storage is ready for operations
func (s *SQLiteStorage) IsReady() bool {
	return s.ready && s.db != nil
}

// StoreItems appends records to the end of feed. Records whose id is
// already in the feed are skipped. It returns how many were inserted.
func (s *SQLiteStorage) StoreItems(ctx context.Context, feed string, records []Record) (int, error) {
	if !s.IsReady() {
		return 0, ErrNotReady
	}
	if feed == "" {
		return 0, fmt.Errorf("feed id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM media_items WHERE feed_id = ?`, feed).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read feed end: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO media_items (feed_id, position, id, resource_url, thumbnail_url, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("media item ID cannot be empty")
		}
		payload := r.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		res, err := stmt.ExecContext(ctx, feed, next, r.ID, r.ResourceURL, r.ThumbnailURL, string(payload), created)
		if err != nil {
			return 0, fmt.Errorf("failed to store media item %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
			next++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// FetchPage returns page (counted from 0) of feed in position order. Past
// the end it returns an empty slice.
func (s *SQLiteStorage) FetchPage(ctx context.Context, feed string, page, size int) ([]Record, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	if page < 0 || size < 1 {
		return nil, fmt.Errorf("invalid page %d of size %d", page, size)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT feed_id, position, id, resource_url, thumbnail_url, payload, created_at
		FROM media_items WHERE feed_id = ?
		ORDER BY position LIMIT ? OFFSET ?`, feed, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to query media items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0, size)
	for rows.Next() {
		var r Record
		var payload string
		if err := rows.Scan(&r.FeedID, &r.Position, &r.ID, &r.ResourceURL, &r.ThumbnailURL, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media item: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media items: %w", err)
	}
	return records, nil
}

// Count returns the number of items in feed
func (s *SQLiteStorage) Count(ctx context.Context, feed string) (int, error) {
	if !s.IsReady() {
		return 0, ErrNotReady
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_items WHERE feed_id = ?`, feed).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count media items: %w", err)
	}
	return n, nil
}

// SaveCursor stores the pagination cursor of feed. The in-flight flag is
// not persisted.
func (s *SQLiteStorage) SaveCursor(ctx context.Context, feed string, c pagination.Cursor) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO feed_cursors (feed_id, page, has_more, updated_at)
		VALUES (?, ?, ?, ?)`, feed, c.Page, c.HasMore, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the stored cursor of feed. ok is false when none was
// saved.
func (s *SQLiteStorage) LoadCursor(ctx context.Context, feed string) (pagination.Cursor, bool, error) {
	if !s.IsReady() {
		return pagination.Cursor{}, false, ErrNotReady
	}
	var c pagination.Cursor
	err := s.db.QueryRowContext(ctx,
		`SELECT page, has_more FROM feed_cursors WHERE feed_id = ?`, feed).Scan(&c.Page, &c.HasMore)
	if errors.Is(err, sql.ErrNoRows) {
		return pagination.Cursor{}, false, nil
	}
	if err != nil {
		return pagination.Cursor{}, false, fmt.Errorf("failed to load cursor: %w", err)
	}
	return c, true, nil
}

// NewRecord encodes item for storage.
func NewRecord[T any](item interfaces.MediaItem[T]) (Record, error) {
	if err := item.Validate(); err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal payload of %s: %w", item.ID, err)
	}
	return Record{
		ID:           item.ID,
		ResourceURL:  item.ResourceURL,
		ThumbnailURL: item.ThumbnailURL,
		Payload:      payload,
	}, nil
}

// Item decodes r into a media item with payload type T.
func Item[T any](r Record) (interfaces.MediaItem[T], error) {
	item := interfaces.MediaItem[T]{
		ID:           r.ID,
		ResourceURL:  r.ResourceURL,
		ThumbnailURL: r.ThumbnailURL,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &item.Payload); err != nil {
			return item, fmt.Errorf("failed to unmarshal payload of %s: %w", r.ID, err)
		}
	}
	return item, nil
}

// Source serves a feed of the store as an item source.
type Source[T any] struct {
	store Store
	feed  string
	size  int
}

var _ interfaces.ItemSource[struct{}] = (*Source[struct{}])(nil)

// NewSource creates an item source over feed with pages of size items.
func NewSource[T any](store Store, feed string, size int) *Source[T] {
	return &Source[T]{store: store, feed: feed, size: size}
}

// FetchPage implements interfaces.ItemSource.
func (s *Source[T]) FetchPage(ctx context.Context, page int) ([]interfaces.MediaItem[T], error) {
	records, err := s.store.FetchPage(ctx, s.feed, page, s.size)
	if err != nil {
		return nil, err
	}
	items := make([]interfaces.MediaItem[T], 0, len(records))
	for _, r := range records {
		item, err := Item[T](r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
