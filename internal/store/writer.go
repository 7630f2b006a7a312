package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// Field is one column value of a Row. A nil Value is stored as NULL.
type Field struct {
	Column
	Value any
}

// Row is one record keyed by its integer primary key.
type Row struct {
	Table  string
	ID     int64
	Fields []Field
}

// Columns returns the column descriptors of the row's fields.
func (r Row) Columns() []Column {
	cols := make([]Column, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Writer performs writes inside one transaction opened by DB.Update.
type Writer struct {
	tx *sqlx.Tx

	// known caches the columns of tables touched in this transaction.
	known map[string]map[string]bool
}

func newWriter(tx *sqlx.Tx) *Writer {
	return &Writer{tx: tx, known: make(map[string]map[string]bool)}
}

func (w *Writer) columns(ctx context.Context, table string) (map[string]bool, error) {
	if cols, ok := w.known[table]; ok {
		return cols, nil
	}
	cols, err := tableColumns(ctx, w.tx, table)
	if err != nil {
		return nil, err
	}
	w.known[table] = cols
	return cols, nil
}

// EnsureTable creates table with only an integer primary key if it does
// not exist yet.
func (w *Writer) EnsureTable(ctx context.Context, table string) error {
	cols, err := w.columns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) > 0 {
		return nil
	}

	ctb := sqlbuilder.SQLite.NewCreateTableBuilder()
	ctb.CreateTable(table).IfNotExists()
	ctb.Define("id", "INTEGER", "PRIMARY KEY")
	query, args := ctb.Build()

	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	w.known[table] = map[string]bool{"id": true}
	return nil
}

// EnsureColumns adds every column of cols that table does not have yet.
// Existing columns are never altered or dropped.
func (w *Writer) EnsureColumns(ctx context.Context, table string, cols []Column) error {
	if err := w.EnsureTable(ctx, table); err != nil {
		return err
	}
	existing, err := w.columns(ctx, table)
	if err != nil {
		return err
	}

	for _, c := range cols {
		if existing[c.Name] {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, c.Definition())
		if _, err := w.tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, c.Name, err)
		}
		existing[c.Name] = true
	}
	return nil
}

// InsertIgnore inserts a row holding only id unless one already exists.
// The table must exist.
func (w *Writer) InsertIgnore(ctx context.Context, table string, id int64) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto(table)
	ib.Cols("id")
	ib.Values(id)
	query, args := ib.Build()

	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %s %d: %w", table, id, err)
	}
	return nil
}

// Upsert inserts row, or overwrites every listed column of the existing row
// with the same id. Columns not listed keep their values. The table and
// its columns must exist.
func (w *Writer) Upsert(ctx context.Context, row Row) error {
	query, args := upsertSQL(row)
	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s %d: %w", row.Table, row.ID, err)
	}
	return nil
}

func upsertSQL(row Row) (string, []any) {
	names := make([]string, 0, len(row.Fields)+1)
	values := make([]any, 0, len(row.Fields)+1)
	names = append(names, "id")
	values = append(values, row.ID)
	for _, f := range row.Fields {
		names = append(names, f.Name)
		values = append(values, f.Value)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(row.Table)
	ib.Cols(names...)
	ib.Values(values...)
	query, args := ib.Build()

	if len(row.Fields) == 0 {
		return query + " ON CONFLICT(id) DO NOTHING", args
	}

	set := make([]string, len(row.Fields))
	for i, f := range row.Fields {
		set[i] = f.Name + " = excluded." + f.Name
	}
	return query + " ON CONFLICT(id) DO UPDATE SET " + strings.Join(set, ", "), args
}
