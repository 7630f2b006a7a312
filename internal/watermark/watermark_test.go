package watermark

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var (
	fullPath  = store.Column{Name: "full_path", Type: store.Text}
	projectID = store.Column{Name: "project_id", Type: store.Integer, References: "projects"}
	envID     = store.Column{Name: "environment_id", Type: store.Integer, References: "environments"}
	envName   = store.Column{Name: "name", Type: store.Text}
	createdAt = store.Column{Name: "created_at", Type: store.Text}
	updatedAt = store.Column{Name: "updated_at", Type: store.Text}
)

// seed writes rows, creating tables and columns as needed.
func seed(t *testing.T, db *store.DB, rows ...store.Row) {
	t.Helper()
	ctx := context.Background()
	err := db.Update(ctx, func(w *store.Writer) error {
		for _, row := range rows {
			if err := w.EnsureColumns(ctx, row.Table, row.Columns()); err != nil {
				return err
			}
			if err := w.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func project(id int64, path string) store.Row {
	return store.Row{Table: "projects", ID: id, Fields: []store.Field{{Column: fullPath, Value: path}}}
}

func pipeline(id, project int64, created, updated any) store.Row {
	return store.Row{Table: "pipelines", ID: id, Fields: []store.Field{
		{Column: projectID, Value: project},
		{Column: createdAt, Value: created},
		{Column: updatedAt, Value: updated},
	}}
}

func TestResolve_NoPipelinesTable(t *testing.T) {
	db := testDB(t)
	seed(t, db, project(42, "acme/widget"))

	w, err := NewResolver(db).Resolve(context.Background(), Pipelines, Scope{ProjectPath: "acme/widget"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if w.Valid {
		t.Errorf("expected no watermark, got %s", w)
	}
}

func TestResolve_UnknownProject(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db)

	// No projects table at all.
	_, err := r.Resolve(context.Background(), Pipelines, Scope{ProjectPath: "acme/widget"})
	if !errors.Is(err, gitlab.ErrScopeNotFound) {
		t.Fatalf("expected scope not found, got %v", err)
	}

	seed(t, db, project(1, "acme/other"))
	_, err = r.Resolve(context.Background(), MergeRequests, Scope{ProjectPath: "acme/widget"})
	if !errors.Is(err, gitlab.ErrScopeNotFound) {
		t.Fatalf("expected scope not found, got %v", err)
	}
}

func TestResolve_PipelinesMaxOfCreatedAndUpdated(t *testing.T) {
	db := testDB(t)
	seed(t, db,
		project(42, "acme/widget"),
		project(43, "acme/other"),
		pipeline(1, 42, "2024-05-01T10:00:00Z", "2024-05-01T11:00:00Z"),
		pipeline(2, 42, "2024-05-03T09:00:00Z", nil),
		pipeline(3, 43, "2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z"),
	)

	w, err := NewResolver(db).Resolve(context.Background(), Pipelines, Scope{ProjectPath: "acme/widget"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if w != At("2024-05-03T09:00:00Z") {
		t.Errorf("watermark = %s, want 2024-05-03T09:00:00Z", w)
	}
}

func TestResolve_Monotonic(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db)
	ctx := context.Background()
	scope := Scope{ProjectPath: "acme/widget"}

	seed(t, db, project(42, "acme/widget"), pipeline(1, 42, "2024-05-01T10:00:00Z", "2024-05-02T10:00:00Z"))
	before, err := r.Resolve(ctx, Pipelines, scope)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	// Re-syncing an older record cannot move the watermark back.
	seed(t, db, pipeline(2, 42, "2024-04-01T10:00:00Z", "2024-04-01T10:00:00Z"))
	after, err := r.Resolve(ctx, Pipelines, scope)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if after.Time < before.Time {
		t.Errorf("watermark went back from %s to %s", before, after)
	}
}

func TestResolve_PlaceholderOnlyTable(t *testing.T) {
	db := testDB(t)
	seed(t, db, project(42, "acme/widget"), store.Row{Table: "pipelines", ID: 99})

	w, err := NewResolver(db).Resolve(context.Background(), Pipelines, Scope{ProjectPath: "acme/widget"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if w.Valid {
		t.Errorf("expected no watermark for placeholder-only table, got %s", w)
	}
}

func TestResolve_DeploymentsJoin(t *testing.T) {
	db := testDB(t)
	env := func(id, project int64, name string) store.Row {
		return store.Row{Table: "environments", ID: id, Fields: []store.Field{
			{Column: projectID, Value: project},
			{Column: envName, Value: name},
		}}
	}
	deployment := func(id, project, env int64, updated string) store.Row {
		return store.Row{Table: "deployments", ID: id, Fields: []store.Field{
			{Column: projectID, Value: project},
			{Column: envID, Value: env},
			{Column: updatedAt, Value: updated},
		}}
	}
	seed(t, db,
		project(42, "acme/widget"),
		env(7, 42, "production"),
		env(8, 42, "staging"),
		deployment(1, 42, 7, "2024-05-01T10:00:00Z"),
		deployment(2, 42, 7, "2024-05-02T10:00:00Z"),
		deployment(3, 42, 8, "2024-07-01T10:00:00Z"),
	)
	r := NewResolver(db)
	ctx := context.Background()

	w, err := r.Resolve(ctx, Deployments, Scope{ProjectPath: "acme/widget", Environment: "production"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if w != At("2024-05-02T10:00:00Z") {
		t.Errorf("watermark = %s", w)
	}

	w, err = r.Resolve(ctx, Deployments, Scope{ProjectPath: "acme/widget", Environment: "review/x"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if w.Valid {
		t.Errorf("expected no watermark for unknown environment, got %s", w)
	}
}

func TestResolve_UnwatermarkedResources(t *testing.T) {
	db := testDB(t)
	for _, res := range []Resource{Projects, Environments} {
		w, err := NewResolver(db).Resolve(context.Background(), res, Scope{ProjectPath: "acme/widget"})
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", res, err)
		}
		if w.Valid {
			t.Errorf("Resolve(%s) = %s, want none", res, w)
		}
	}
}

func TestWatermark_Max(t *testing.T) {
	a := At("2024-01-01T00:00:00Z")
	b := At("2024-02-01T00:00:00Z")
	if a.Max(b) != b || b.Max(a) != b {
		t.Error("Max did not pick the later watermark")
	}
	if None.Max(a) != a || a.Max(None) != a {
		t.Error("Max with None must return the other watermark")
	}

	// Lexically "." sorts before "Z", and "+02:00" hides an earlier instant.
	frac := At("2024-05-01T10:00:00.5Z")
	whole := At("2024-05-01T10:00:00Z")
	if frac.Max(whole) != frac || whole.Max(frac) != frac {
		t.Errorf("Max(%s, %s) did not pick the fractional second", frac, whole)
	}
	offset := At("2024-05-01T11:00:00+02:00")
	if offset.Max(whole) != whole {
		t.Errorf("Max(%s, %s) = %s", offset, whole, offset.Max(whole))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2024-05-01T10:00:00Z", "2024-05-01T10:00:00Z"},
		{"2024-05-01T10:00:00.5Z", "2024-05-01T10:00:00Z"},
		{"2024-05-01T12:00:00.123456+02:00", "2024-05-01T10:00:00Z"},
		{"not a time", "not a time"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		expr    string
		prefix  string
		wantErr bool
	}{
		{"2024-05-01T10:00:00+02:00", "2024-05-01T08:00:00Z", false},
		{"2024-05-01", "2024-05-01T00:00:00Z", false},
		{"yesterday", "2024-05-09", false},
		{"", "", false},
		{"xyzzy", "", true},
	}

	for _, tt := range tests {
		w, err := ParseSince(tt.expr, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSince(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			continue
		}
		if !strings.HasPrefix(w.Time, tt.prefix) {
			t.Errorf("ParseSince(%q) = %s, want prefix %q", tt.expr, w, tt.prefix)
		}
	}
}

func ExampleWatermark_Max() {
	stored := At("2024-05-01T10:00:00Z")
	fmt.Println(stored.Max(None))
	fmt.Println(None)
	// Output:
	// 2024-05-01T10:00:00Z
	// none
}
