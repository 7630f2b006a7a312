package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

// RunsTable is the engine's own bookkeeping table.
const RunsTable = "sync_runs"

// Run is one recorded sync invocation.
type Run struct {
	ID         string         `db:"id"`
	Resource   string         `db:"resource"`
	Scope      string         `db:"scope"`
	State      string         `db:"state"`
	Count      int            `db:"count"`
	Watermark  sql.NullString `db:"watermark"`
	Error      sql.NullString `db:"error"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
}

func (db *DB) ensureRunsTable(ctx context.Context) error {
	ctb := sqlbuilder.SQLite.NewCreateTableBuilder()
	ctb.CreateTable(RunsTable).IfNotExists()
	ctb.Define("id", "TEXT", "PRIMARY KEY")
	ctb.Define("resource", "TEXT", "NOT NULL")
	ctb.Define("scope", "TEXT", "NOT NULL")
	ctb.Define("state", "TEXT", "NOT NULL")
	ctb.Define("count", "INTEGER", "NOT NULL", "DEFAULT 0")
	ctb.Define("watermark", "TEXT")
	ctb.Define("error", "TEXT")
	ctb.Define("started_at", "TEXT", "NOT NULL")
	ctb.Define("finished_at", "TEXT")
	query, args := ctb.Build()

	if _, err := db.x.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create %s: %w", RunsTable, err)
	}
	return nil
}

// StartRun records the start of a sync invocation and returns its id.
func (db *DB) StartRun(ctx context.Context, resource, scope, state string) (string, error) {
	if err := db.ensureRunsTable(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(RunsTable)
	ib.Cols("id", "resource", "scope", "state", "started_at")
	ib.Values(id, resource, scope, state, now())
	query, args := ib.Build()

	if _, err := db.x.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// FinishRun records the terminal state of a run. An empty watermark or
// errMsg is stored as NULL.
func (db *DB) FinishRun(ctx context.Context, id, state string, count int, watermark, errMsg string) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update(RunsTable)
	ub.Set(
		ub.Assign("state", state),
		ub.Assign("count", count),
		ub.Assign("watermark", nullIfEmpty(watermark)),
		ub.Assign("error", nullIfEmpty(errMsg)),
		ub.Assign("finished_at", now()),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	res, err := db.x.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. It returns nothing if
// no run was ever recorded.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	exists, err := db.TableExists(ctx, RunsTable)
	if err != nil || !exists {
		return nil, err
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "resource", "scope", "state", "count", "watermark", "error", "started_at", "finished_at")
	sb.From(RunsTable)
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)
	query, args := sb.Build()

	var runs []Run
	if err := db.x.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// runTimeLayout has a fixed width so run timestamps sort lexically.
const runTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func now() string {
	return time.Now().UTC().Format(runTimeLayout)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
