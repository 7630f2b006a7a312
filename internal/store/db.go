// Package store provides the local SQLite mirror database.
//
// Tables are not declared upfront. They are created on first write with
// only an integer primary key and gain columns as records carrying them
// arrive (additive schema evolution). Foreign keys are declared on the
// columns that carry them and are enforced, so a referenced row must exist,
// possibly as a placeholder holding only its id, before the referencing row
// is written.
//
// Architecture:
//   - Database file: any path, created along with its parent directory
//   - WAL mode: concurrent external readers during writes
//   - One writer: the sync engine, one transaction per top-level record
//   - Engine bookkeeping: the sync_runs table
//
// Remote libSQL/Turso databases (libsql:// URLs) are supported in cgo builds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// libsqlDriver is set by driver_libsql.go when the libSQL driver is compiled in.
var libsqlDriver string

// ErrLibSQLUnavailable is returned when a libsql:// database is requested
// from a binary built without cgo.
var ErrLibSQLUnavailable = errors.New("libsql databases require a cgo build")

// ErrNotInitialized is returned by OpenExisting when no database exists at
// the path yet.
var ErrNotInitialized = errors.New("database not initialized")

// DB wraps the database connection with mirror-specific functionality.
type DB struct {
	conn   *sql.DB
	x      *sqlx.DB
	path   string
	remote bool
}

// Open opens (creating if needed) the mirror database.
//
// path is a filesystem path, optionally prefixed with "file:", or a
// libsql://, http:// or https:// URL of a remote libSQL database.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.Open("gitlab.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	if isRemote(path) {
		return openRemote(path)
	}

	path = strings.TrimPrefix(path, "file:")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas are applied to every pooled connection through the DSN.
	q := url.Values{}
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	connStr := "file:" + path + "?" + q.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return finishOpen(conn, "sqlite3", path)
}

// OpenExisting opens a local database that a sync has already created.
// Remote databases are opened as with Open.
func OpenExisting(path string) (*DB, error) {
	if !isRemote(path) {
		if _, err := os.Stat(strings.TrimPrefix(path, "file:")); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotInitialized, path)
		}
	}
	return Open(path)
}

func openRemote(dsn string) (*DB, error) {
	if libsqlDriver == "" {
		return nil, ErrLibSQLUnavailable
	}

	conn, err := sql.Open(libsqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}

	db, err := finishOpen(conn, libsqlDriver, dsn)
	if err != nil {
		return nil, err
	}
	db.remote = true

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func finishOpen(conn *sql.DB, driverName, path string) (*DB, error) {
	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn: conn,
		x:    sqlx.NewDb(conn, driverName),
		path: path,
	}, nil
}

func isRemote(path string) bool {
	for _, scheme := range []string{"libsql://", "http://", "https://"} {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

// Path returns the path or URL the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.remote {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Update runs fn inside one transaction, committing if fn returns nil and
// rolling back otherwise. Schema changes made by fn are rolled back too.
func (db *DB) Update(ctx context.Context, fn func(w *Writer) error) error {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	w := newWriter(tx)
	if err := fn(w); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
