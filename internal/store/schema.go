package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ColumnType is the declared SQLite type of a column.
type ColumnType string

const (
	Integer ColumnType = "INTEGER"
	Text    ColumnType = "TEXT"
	Real    ColumnType = "REAL"
	// Boolean columns hold 0/1 integers.
	Boolean ColumnType = "INTEGER"
)

// Column describes one mirrored column.
type Column struct {
	Name string
	Type ColumnType
	// References names the table whose id this column refers to. A
	// referenced row must exist before a non-null value is written.
	References string
}

// Definition returns the column definition used by ALTER TABLE.
func (c Column) Definition() string {
	def := c.Name + " " + string(c.Type)
	if c.References != "" {
		def += " REFERENCES " + c.References + "(id)"
	}
	return def
}

// tableExists reports whether table exists.
func tableExists(ctx context.Context, q sqlx.QueryerContext, table string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

// tableColumns returns the set of column names of table (empty if it does not exist).
func tableColumns(ctx context.Context, q sqlx.QueryerContext, table string) (map[string]bool, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, `SELECT name FROM pragma_table_info(?)`, table); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[n] = true
	}
	return cols, nil
}

// TableExists reports whether table has been created.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	return tableExists(ctx, db.x, table)
}

// Columns returns the column names of table, or an empty set if it does not exist.
func (db *DB) Columns(ctx context.Context, table string) (map[string]bool, error) {
	return tableColumns(ctx, db.x, table)
}

// Get runs a single-row query and scans it into dest (sqlx semantics).
func (db *DB) Get(ctx context.Context, dest any, query string, args ...any) error {
	return db.x.GetContext(ctx, dest, query, args...)
}

// CountRows returns the number of rows in table; ok is false if the table
// does not exist.
func (db *DB) CountRows(ctx context.Context, table string) (count int64, ok bool, err error) {
	exists, err := db.TableExists(ctx, table)
	if err != nil || !exists {
		return 0, false, err
	}

	if err := db.x.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, true, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, true, nil
}
