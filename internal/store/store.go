// Package store is the local SQLite database holding synchronized objects.
//
// The database runs embedded through ncruces/go-sqlite3 with WAL enabled so
// the daemon and the CLI can read while a sync writes.
//
// Layout:
//   - objects: one row per entity, keyed by UUID, with the collection name,
//     the parent UUID, cross-collection references (JSON) and the remaining
//     flat fields (JSON)
//   - conf: key/value settings, including the local device id
//
// Every method has a Context variant; the plain form uses context.Background.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection.
type DB struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open opens (and creates if needed) the database at path and initializes
// the schema.
//
// The caller MUST call Close() when done.
//
//	db, err := store.Open("~/.local/share/gtdsync/gtd.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "store"})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path, logger: logger}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn("failed to checkpoint WAL", "err", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates tables and indexes. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates tables and indexes with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		uuid TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		parent_uuid TEXT,
		refs TEXT NOT NULL DEFAULT '{}',    -- JSON object: field -> uuid
		fields TEXT NOT NULL DEFAULT '{}',  -- JSON object: flat record fields
		deleted INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conf (
		key TEXT PRIMARY KEY,
		val TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_objects_collection ON objects(collection, deleted);
	CREATE INDEX IF NOT EXISTS idx_objects_parent ON objects(parent_uuid);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
