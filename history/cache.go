// ABOUTME: SQLite-backed cache of the backend's project history for offline listing.
// ABOUTME: The cache is always rebuildable from the backend; Replace swaps the whole table atomically.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/2389-research/conductor/backend"
	_ "github.com/mattn/go-sqlite3"
)

// Cache mirrors the last fetched history. It is a queryable cache, not
// the source of truth.
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates a cache database at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS history (
			project_id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			files_created INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Replace swaps the cached history for items inside one transaction and
// records when it happened. Backend order is preserved.
func (c *Cache) Replace(ctx context.Context, items []backend.ProjectSummary, at time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO history (project_id, prompt, status, created_at, files_created, position)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, p := range items {
		if p.ProjectID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, p.ProjectID, p.Prompt, p.Status,
			p.CreatedAt.UTC().Format(time.RFC3339Nano), p.FilesCreated, i); err != nil {
			return fmt.Errorf("insert %s: %w", p.ProjectID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('refreshed_at', ?)",
		at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record refresh time: %w", err)
	}
	return tx.Commit()
}

// List returns the cached history in backend order.
func (c *Cache) List(ctx context.Context) ([]backend.ProjectSummary, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT project_id, prompt, status, created_at, files_created
		 FROM history ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []backend.ProjectSummary
	for rows.Next() {
		var p backend.ProjectSummary
		var created string
		if err := rows.Scan(&p.ProjectID, &p.Prompt, &p.Status, &created, &p.FilesCreated); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			p.CreatedAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RefreshedAt returns when the cache was last replaced. ok is false for a
// cache that has never been filled.
func (c *Cache) RefreshedAt(ctx context.Context) (at time.Time, ok bool, err error) {
	var raw string
	err = c.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'refreshed_at'").Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read refresh time: %w", err)
	}
	at, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse refresh time: %w", err)
	}
	return at, true, nil
}
