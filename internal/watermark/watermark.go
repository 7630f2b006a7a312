// Package watermark computes the latest-known timestamp of a resource scope
// in the local store. The sync orchestrator passes it to the remote query
// as an updated-after bound, so a run only fetches what changed since the
// last one.
package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
)

// Resource names a mirrored resource type. The value is its table name.
type Resource string

const (
	Projects      Resource = "projects"
	Pipelines     Resource = "pipelines"
	Jobs          Resource = "jobs"
	MergeRequests Resource = "merge_requests"
	Environments  Resource = "environments"
	Deployments   Resource = "deployments"
)

// Table returns the local table holding the resource.
func (r Resource) Table() string {
	return string(r)
}

// Scope bounds which records a watermark applies to.
type Scope struct {
	ProjectPath string
	// Environment is only set for deployments.
	Environment string
}

func (s Scope) String() string {
	if s.Environment == "" {
		return s.ProjectPath
	}
	return s.ProjectPath + "@" + s.Environment
}

// Layout is the form every stored timestamp takes: UTC with second
// precision, so that SQL max() over a column orders values correctly.
const Layout = time.RFC3339

// Normalize rewrites an RFC3339 timestamp in Layout. Sub-second digits are
// dropped, which can only move a watermark earlier. Values that do not parse
// are returned unchanged.
func Normalize(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(Layout)
}

// Watermark is a remote timestamp string. The zero value means "no
// watermark": fetch everything.
type Watermark struct {
	Time  string
	Valid bool
}

// None is the absence of a watermark.
var None = Watermark{}

// At returns a watermark at t.
func At(t string) Watermark {
	return Watermark{Time: t, Valid: true}
}

func (w Watermark) String() string {
	if !w.Valid {
		return "none"
	}
	return w.Time
}

// Max returns the later of w and o. RFC3339 values compare as times;
// anything else compares lexically.
func (w Watermark) Max(o Watermark) Watermark {
	switch {
	case !w.Valid:
		return o
	case !o.Valid:
		return w
	case later(o.Time, w.Time):
		return o
	default:
		return w
	}
}

func later(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA != nil || errB != nil {
		return a > b
	}
	return ta.After(tb)
}

// Resolver reads watermarks from the local store.
type Resolver struct {
	db *store.DB
}

// NewResolver creates a resolver over db.
func NewResolver(db *store.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the maximum created_at/updated_at of the stored rows of
// resource within scope, or None if the table does not exist or no row
// matches. A project missing from the local store is reported as
// gitlab.ErrScopeNotFound.
//
// Projects and environments have no watermark: the service offers no
// updated-after filter for them.
func (r *Resolver) Resolve(ctx context.Context, resource Resource, scope Scope) (Watermark, error) {
	switch resource {
	case Projects, Environments:
		return None, nil
	case Pipelines:
		return r.byProject(ctx, Pipelines.Table(), "project_id", scope)
	case MergeRequests:
		return r.byProject(ctx, MergeRequests.Table(), "target_project_id", scope)
	case Deployments:
		return r.deployments(ctx, scope)
	default:
		return None, fmt.Errorf("no watermark for resource %q", resource)
	}
}

// ProjectID returns the local id of the project with the given full path.
func (r *Resolver) ProjectID(ctx context.Context, fullPath string) (int64, error) {
	cols, err := r.db.Columns(ctx, Projects.Table())
	if err != nil {
		return 0, err
	}
	if !cols["full_path"] {
		return 0, scopeNotFound(fullPath)
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id").From(Projects.Table()).Where(sb.Equal("full_path", fullPath))
	query, args := sb.Build()

	var id int64
	if err := r.db.Get(ctx, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, scopeNotFound(fullPath)
		}
		return 0, fmt.Errorf("failed to look up project %s: %w", fullPath, err)
	}
	return id, nil
}

func scopeNotFound(fullPath string) error {
	return fmt.Errorf("%w: project %q is not in the local store", gitlab.ErrScopeNotFound, fullPath)
}

type maxima struct {
	Created sql.NullString `db:"created"`
	Updated sql.NullString `db:"updated"`
}

func (m maxima) watermark() Watermark {
	var w Watermark
	if m.Created.Valid {
		w = w.Max(At(m.Created.String))
	}
	if m.Updated.Valid {
		w = w.Max(At(m.Updated.String))
	}
	return w
}

// maxOf returns the aggregate expression for column, or NULL if the table
// has no such column yet (e.g. it only holds placeholder rows).
func maxOf(cols map[string]bool, prefix, column string) string {
	if !cols[column] {
		return "NULL"
	}
	return "max(" + prefix + column + ")"
}

func (r *Resolver) byProject(ctx context.Context, table, fk string, scope Scope) (Watermark, error) {
	projectID, err := r.ProjectID(ctx, scope.ProjectPath)
	if err != nil {
		return None, err
	}

	cols, err := r.db.Columns(ctx, table)
	if err != nil {
		return None, err
	}
	if !cols[fk] {
		return None, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(
		sb.As(maxOf(cols, "", "created_at"), "created"),
		sb.As(maxOf(cols, "", "updated_at"), "updated"),
	)
	sb.From(table).Where(sb.Equal(fk, projectID))
	query, args := sb.Build()

	var m maxima
	if err := r.db.Get(ctx, &m, query, args...); err != nil {
		return None, fmt.Errorf("failed to read %s watermark: %w", table, err)
	}
	return m.watermark(), nil
}

// deployments joins deployments to their environment and project, since a
// deployment scope is a project full path plus an environment name.
func (r *Resolver) deployments(ctx context.Context, scope Scope) (Watermark, error) {
	if _, err := r.ProjectID(ctx, scope.ProjectPath); err != nil {
		return None, err
	}

	envCols, err := r.db.Columns(ctx, Environments.Table())
	if err != nil {
		return None, err
	}
	depCols, err := r.db.Columns(ctx, Deployments.Table())
	if err != nil {
		return None, err
	}
	if !envCols["name"] || !envCols["project_id"] || !depCols["environment_id"] {
		return None, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(
		sb.As(maxOf(depCols, "d.", "created_at"), "created"),
		sb.As(maxOf(depCols, "d.", "updated_at"), "updated"),
	)
	sb.From(sb.As(Deployments.Table(), "d"))
	sb.Join(sb.As(Environments.Table(), "e"), "d.environment_id = e.id")
	sb.Join(sb.As(Projects.Table(), "p"), "e.project_id = p.id")
	sb.Where(
		sb.Equal("p.full_path", scope.ProjectPath),
		sb.Equal("e.name", scope.Environment),
	)
	query, args := sb.Build()

	var m maxima
	if err := r.db.Get(ctx, &m, query, args...); err != nil {
		return None, fmt.Errorf("failed to read deployments watermark: %w", err)
	}
	return m.watermark(), nil
}
