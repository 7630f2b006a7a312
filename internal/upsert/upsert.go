// Package upsert persists decoded GitLab records into the local store.
//
// Every record is written in its own transaction: referenced rows are
// ensured first (as placeholders holding only an id when they are not
// known locally yet), the table gains any missing columns, and the row is
// then inserted or overwritten in place. Composite records such as a
// pipeline with its jobs write the parent before the children.
//
// A failed record rolls back as a whole, including any schema change it
// made; records committed before it stay durable.
package upsert

import (
	"context"
	"fmt"
	"strings"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

// Upserter writes records to the store.
type Upserter struct {
	db *store.DB
	// webBase prefixes job web paths to build web_url.
	webBase string
}

// New creates an upserter. webBase is the service base URL, e.g.
// "https://gitlab.com"; it may be empty, in which case jobs keep their
// relative web path.
func New(db *store.DB, webBase string) *Upserter {
	return &Upserter{db: db, webBase: strings.TrimSuffix(webBase, "/")}
}

// EnsureExists makes sure table exists and holds a row with id, creating a
// placeholder row (id only, every other column NULL) if it does not. An
// existing row is never modified.
func (u *Upserter) EnsureExists(ctx context.Context, w *store.Writer, table string, id int64) error {
	if err := w.EnsureTable(ctx, table); err != nil {
		return err
	}
	return w.InsertIgnore(ctx, table, id)
}

// Upsert writes row: every referenced table is created first and every
// non-null foreign key target ensured, then missing columns are added and
// the row is inserted, or overwritten column by column if a row with the
// same id exists.
//
// The referenced table must exist even for a NULL value: SQLite resolves
// the REFERENCES clause on every insert while foreign keys are enforced.
func (u *Upserter) Upsert(ctx context.Context, w *store.Writer, row store.Row) error {
	for _, f := range row.Fields {
		if f.References == "" {
			continue
		}
		if f.Value == nil {
			if err := w.EnsureTable(ctx, f.References); err != nil {
				return err
			}
			continue
		}
		id, ok := f.Value.(int64)
		if !ok {
			return fmt.Errorf("foreign key %s.%s must be an int64, got %T", row.Table, f.Name, f.Value)
		}
		if err := u.EnsureExists(ctx, w, f.References, id); err != nil {
			return err
		}
	}

	if err := w.EnsureColumns(ctx, row.Table, row.Columns()); err != nil {
		return err
	}
	return w.Upsert(ctx, row)
}

// save runs fn in one transaction and classifies a failure as a storage
// write error.
func (u *Upserter) save(ctx context.Context, op string, fn func(w *store.Writer) error) error {
	if err := u.db.Update(ctx, fn); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return gitlab.NewError(gitlab.KindStorage, op, err)
	}
	return nil
}

// nullable dereferences p, mapping nil to a NULL value.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// timestamp is nullable for time columns, storing the value in
// watermark.Layout.
func timestamp(p *string) any {
	if p == nil {
		return nil
	}
	return watermark.Normalize(*p)
}

func localID(kind string, gid gitlab.GlobalID) (int64, error) {
	id, err := gid.LocalID()
	if err != nil {
		return 0, fmt.Errorf("invalid %s record: %w", kind, err)
	}
	return id, nil
}
