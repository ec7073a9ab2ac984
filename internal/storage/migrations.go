package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Up        string    `json:"up"`
	Down      string    `json:"down"`
	AppliedAt time.Time `json:"applied_at"`
}

// schemaMigrations is the ordered schema history of the catalog.
var schemaMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_media_items",
		Up: `
		CREATE TABLE media_items (
			feed_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			resource_url TEXT NOT NULL,
			thumbnail_url TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT 'null',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (feed_id, id)
		);
		CREATE INDEX idx_media_items_position ON media_items(feed_id, position);`,
		Down: `DROP TABLE media_items;`,
	},
	{
		Version: 2,
		Name:    "create_feed_cursors",
		Up: `
		CREATE TABLE feed_cursors (
			feed_id TEXT PRIMARY KEY,
			page INTEGER NOT NULL,
			has_more BOOLEAN NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		Down: `DROP TABLE feed_cursors;`,
	},
}

// MigrationManager applies and rolls back migrations on an open database
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager creates a migration manager for db
func NewMigrationManager(db *sql.DB, migrations []Migration) *MigrationManager {
	return &MigrationManager{db: db, migrations: migrations}
}

// Initialize sets up the migration tracking table
func (mm *MigrationManager) Initialize(ctx context.Context) error {
	_, err := mm.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// CurrentVersion returns the current database schema version
func (mm *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := mm.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Apply runs a single migration inside a transaction
func (mm *MigrationManager) Apply(ctx context.Context, migration Migration) error {
	if migration.Version <= 0 {
		return fmt.Errorf("migration version must be positive, got %d", migration.Version)
	}
	if migration.Name == "" || migration.Up == "" {
		return fmt.Errorf("migration %d needs a name and an Up script", migration.Version)
	}

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var applied int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, migration.Version).Scan(&applied); err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if applied > 0 {
		return fmt.Errorf("migration version %d already applied", migration.Version)
	}

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		migration.Version, migration.Name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}

// Rollback runs the Down script of an applied migration
func (mm *MigrationManager) Rollback(ctx context.Context, migration Migration) error {
	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, migration.Version)
	if err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("migration version %d not applied", migration.Version)
	}
	if migration.Down != "" {
		if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
			return fmt.Errorf("failed to roll back migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}
	return nil
}

// Applied returns all applied migrations
func (mm *MigrationManager) Applied(ctx context.Context) ([]Migration, error) {
	rows, err := mm.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var migrations []Migration
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, m)
	}
	return migrations, rows.Err()
}

// MigrateTo moves the schema up or down to targetVersion
func (mm *MigrationManager) MigrateTo(ctx context.Context, targetVersion int) error {
	current, err := mm.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	if targetVersion > current {
		for _, m := range mm.migrations {
			if m.Version <= current {
				continue
			}
			if m.Version > targetVersion {
				break
			}
			if err := mm.Apply(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}

	for i := len(mm.migrations) - 1; i >= 0; i-- {
		m := mm.migrations[i]
		if m.Version <= targetVersion || m.Version > current {
			continue
		}
		if err := mm.Rollback(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the highest known migration version
func (mm *MigrationManager) Latest() int {
	if len(mm.migrations) == 0 {
		return 0
	}
	return mm.migrations[len(mm.migrations)-1].Version
}
