package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// testDB opens a fresh database in a temporary directory.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var pipelineCols = []Column{
	{Name: "status", Type: Text},
	{Name: "duration", Type: Integer},
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "mirror.db")
	db, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	var fk int
	if err := db.RawDB().QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA failed: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	if _, err := OpenExisting(path); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("OpenExisting() on missing file = %v, want ErrNotInitialized", err)
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	_ = db.Close()

	db, err = OpenExisting(path)
	if err != nil {
		t.Fatalf("OpenExisting() failed: %v", err)
	}
	_ = db.Close()
}

func TestOpen_RemoteWithoutDriver(t *testing.T) {
	if libsqlDriver != "" {
		t.Skip("libsql driver compiled in")
	}
	if _, err := Open("libsql://example.turso.io"); !errors.Is(err, ErrLibSQLUnavailable) {
		t.Errorf("expected ErrLibSQLUnavailable, got %v", err)
	}
}

func TestWriter_TablesAndColumnsAreAdditive(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Update(ctx, func(w *Writer) error {
		if err := w.EnsureColumns(ctx, "pipelines", pipelineCols); err != nil {
			return err
		}
		return w.Upsert(ctx, Row{Table: "pipelines", ID: 1, Fields: []Field{
			{Column: pipelineCols[0], Value: "success"},
			{Column: pipelineCols[1], Value: int64(30)},
		}})
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	// A later record carries a column the table has not seen yet.
	extra := Column{Name: "ref", Type: Text}
	err = db.Update(ctx, func(w *Writer) error {
		if err := w.EnsureColumns(ctx, "pipelines", append(pipelineCols, extra)); err != nil {
			return err
		}
		return w.Upsert(ctx, Row{Table: "pipelines", ID: 2, Fields: []Field{{Column: extra, Value: "main"}}})
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	cols, err := db.Columns(ctx, "pipelines")
	if err != nil {
		t.Fatalf("Columns() failed: %v", err)
	}
	want := map[string]bool{"id": true, "status": true, "duration": true, "ref": true}
	if diff := cmp.Diff(want, cols); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	var status string
	if err := db.Get(ctx, &status, "SELECT status FROM pipelines WHERE id = 1"); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if status != "success" {
		t.Errorf("status = %q", status)
	}
}

func TestWriter_UpsertOverwritesInPlace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	write := func(status string) {
		t.Helper()
		err := db.Update(ctx, func(w *Writer) error {
			if err := w.EnsureColumns(ctx, "pipelines", pipelineCols); err != nil {
				return err
			}
			return w.Upsert(ctx, Row{Table: "pipelines", ID: 7, Fields: []Field{{Column: pipelineCols[0], Value: status}}})
		})
		if err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
	}
	write("running")
	write("success")

	count, ok, err := db.CountRows(ctx, "pipelines")
	if err != nil || !ok {
		t.Fatalf("CountRows() = %d, %v, %v", count, ok, err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	var status string
	if err := db.Get(ctx, &status, "SELECT status FROM pipelines WHERE id = 7"); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if status != "success" {
		t.Errorf("status = %q, want success", status)
	}
}

func TestWriter_InsertIgnoreKeepsExistingRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Update(ctx, func(w *Writer) error {
		if err := w.EnsureColumns(ctx, "pipelines", pipelineCols); err != nil {
			return err
		}
		if err := w.Upsert(ctx, Row{Table: "pipelines", ID: 5, Fields: []Field{{Column: pipelineCols[0], Value: "failed"}}}); err != nil {
			return err
		}
		if err := w.InsertIgnore(ctx, "pipelines", 5); err != nil {
			return err
		}
		return w.InsertIgnore(ctx, "pipelines", 6)
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	var status string
	if err := db.Get(ctx, &status, "SELECT status FROM pipelines WHERE id = 5"); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if status != "failed" {
		t.Errorf("placeholder overwrote existing row: status = %q", status)
	}

	count, _, _ := db.CountRows(ctx, "pipelines")
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestWriter_ForeignKeysEnforced(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ref := Column{Name: "project_id", Type: Integer, References: "projects"}
	err := db.Update(ctx, func(w *Writer) error {
		if err := w.EnsureTable(ctx, "projects"); err != nil {
			return err
		}
		if err := w.EnsureColumns(ctx, "pipelines", []Column{ref}); err != nil {
			return err
		}
		return w.Upsert(ctx, Row{Table: "pipelines", ID: 1, Fields: []Field{{Column: ref, Value: int64(42)}}})
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestUpdate_RollbackDiscardsSchemaChanges(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Update(ctx, func(w *Writer) error {
		if err := w.EnsureColumns(ctx, "jobs", []Column{{Name: "name", Type: Text}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	exists, err := db.TableExists(ctx, "jobs")
	if err != nil {
		t.Fatalf("TableExists() failed: %v", err)
	}
	if exists {
		t.Error("table created by a rolled back transaction must not exist")
	}
}

func TestUpsertSQL(t *testing.T) {
	query, args := upsertSQL(Row{Table: "projects", ID: 42, Fields: []Field{
		{Column: Column{Name: "name", Type: Text}, Value: "widget"},
		{Column: Column{Name: "group_id", Type: Integer}, Value: nil},
	}})

	want := "INSERT INTO projects (id, name, group_id) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name, group_id = excluded.group_id"
	if query != want {
		t.Errorf("query = %q\nwant    %q", query, want)
	}
	if diff := cmp.Diff([]any{int64(42), "widget", nil}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	query, _ = upsertSQL(Row{Table: "projects", ID: 1})
	if query != "INSERT INTO projects (id) VALUES (?) ON CONFLICT(id) DO NOTHING" {
		t.Errorf("id-only query = %q", query)
	}
}

func TestColumn_Definition(t *testing.T) {
	c := Column{Name: "head_pipeline_id", Type: Integer, References: "pipelines"}
	if got := c.Definition(); got != "head_pipeline_id INTEGER REFERENCES pipelines(id)" {
		t.Errorf("Definition() = %q", got)
	}
}

func TestCountRows_MissingTable(t *testing.T) {
	db := testDB(t)
	count, ok, err := db.CountRows(context.Background(), "deployments")
	if err != nil {
		t.Fatalf("CountRows() failed: %v", err)
	}
	if ok || count != 0 {
		t.Errorf("CountRows() = %d, %v for missing table", count, ok)
	}
}

func TestRuns_Lifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	runs, err := db.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}

	id, err := db.StartRun(ctx, "pipelines", "acme/widget", "resolving")
	if err != nil {
		t.Fatalf("StartRun() failed: %v", err)
	}
	if err := db.FinishRun(ctx, id, "done", 3, "2024-05-01T10:00:00Z", ""); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	runs, err = db.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != id || r.State != "done" || r.Count != 3 || r.Watermark.String != "2024-05-01T10:00:00Z" {
		t.Errorf("unexpected run: %+v", r)
	}
	if r.Error.Valid || !r.FinishedAt.Valid {
		t.Errorf("unexpected nullable fields: %+v", r)
	}

	if err := db.FinishRun(ctx, "missing", "done", 0, "", ""); err == nil {
		t.Error("expected error finishing unknown run")
	}
}
