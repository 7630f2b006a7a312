package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/metrics"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
	"github.com/squiddy/gitlab-to-sqlite/internal/upsert"
	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

// State is the phase of a sync invocation.
type State string

const (
	Resolving  State = "resolving"
	Paginating State = "paginating"
	Upserting  State = "upserting"
	Done       State = "done"
	Failed     State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Result describes one sync invocation.
type Result struct {
	// RunID identifies the invocation in the sync_runs table. Empty if it
	// could not be recorded.
	RunID    string
	Resource watermark.Resource
	Scope    watermark.Scope
	State    State
	// Count is the number of records written, including on failure.
	Count int
	// Watermark is the lower bound the fetch used.
	Watermark watermark.Watermark
	Duration  time.Duration
}

// Event reports a state change or a fetched page of a running sync.
type Event struct {
	RunID    string             `json:"run_id"`
	Resource watermark.Resource `json:"resource"`
	Scope    string             `json:"scope"`
	State    State              `json:"state"`
	Count    int                `json:"count"`
	Page     int                `json:"page,omitempty"`
	Error    string             `json:"error,omitempty"`
	Time     time.Time          `json:"time"`
}

// Options configures a Syncer.
type Options struct {
	// FullResync ignores stored watermarks and fetches everything.
	FullResync bool
	// Since, if valid, replaces the stored watermark.
	Since watermark.Watermark
	// PageSize defaults to gitlab.DefaultPageSize.
	PageSize int
	// WebBase is the service base URL used to build job web URLs.
	WebBase string
	// OnEvent, if set, observes state changes and fetched pages.
	OnEvent func(Event)
}

// syncer implements the Syncer interface.
type syncer struct {
	exec     gitlab.Executor
	db       *store.DB
	resolver *watermark.Resolver
	upserter *upsert.Upserter
	opts     Options
	logger   *log.Logger
}

// New creates a new Syncer.
//
// The client is shared by every call; build one per process run. If
// logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	client, err := gitlab.NewClient(gitlab.Config{Host: host, Token: token}, nil)
//	if err != nil {
//	    return err
//	}
//	database, err := store.Open("gitlab.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//	syncer := sync.New(client, database, sync.Options{WebBase: client.BaseURL()}, nil)
func New(exec gitlab.Executor, database *store.DB, opts Options, logger *log.Logger) Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		exec:     exec,
		db:       database,
		resolver: watermark.NewResolver(database),
		upserter: upsert.New(database, opts.WebBase),
		opts:     opts,
		logger:   logger,
	}
}

// run tracks one invocation through its state machine.
type run struct {
	s      *syncer
	result Result
	start  time.Time
}

func (s *syncer) begin(ctx context.Context, resource watermark.Resource, scope watermark.Scope) *run {
	r := &run{
		s:      s,
		result: Result{Resource: resource, Scope: scope, State: Resolving},
		start:  time.Now(),
	}

	id, err := s.db.StartRun(ctx, string(resource), scope.String(), string(Resolving))
	if err != nil {
		s.logger.Printf("Warning: failed to record %s run: %v", resource, err)
	}
	r.result.RunID = id

	s.logger.Printf("Syncing %s for %s", resource, scope)
	r.emit(0, "")
	return r
}

func (r *run) emit(page int, errMsg string) {
	if r.s.opts.OnEvent == nil {
		return
	}
	r.s.opts.OnEvent(Event{
		RunID:    r.result.RunID,
		Resource: r.result.Resource,
		Scope:    r.result.Scope.String(),
		State:    r.result.State,
		Count:    r.result.Count,
		Page:     page,
		Error:    errMsg,
		Time:     time.Now().UTC(),
	})
}

func (r *run) transition(state State) {
	if r.result.State == state || r.result.State.Terminal() {
		return
	}
	r.result.State = state
	r.emit(0, "")
}

func (r *run) touched() {
	r.result.Count++
	metrics.RecordsUpserted.WithLabelValues(string(r.result.Resource)).Inc()
}

// finish moves the run to Done or Failed and records it.
func (r *run) finish(ctx context.Context, err error) (Result, error) {
	s := r.s
	r.result.Duration = time.Since(r.start)

	state, errMsg := Done, ""
	if err != nil {
		state, errMsg = Failed, err.Error()
	}
	r.transition(state)

	resource := string(r.result.Resource)
	metrics.SyncRuns.WithLabelValues(resource, string(state)).Inc()
	metrics.SyncDuration.WithLabelValues(resource).Observe(r.result.Duration.Seconds())

	if r.result.RunID != "" {
		// Record the outcome even when ctx was canceled.
		bg := context.WithoutCancel(ctx)
		wm := ""
		if r.result.Watermark.Valid {
			wm = r.result.Watermark.Time
		}
		if ferr := s.db.FinishRun(bg, r.result.RunID, string(state), r.result.Count, wm, errMsg); ferr != nil {
			s.logger.Printf("Warning: failed to record %s run outcome: %v", resource, ferr)
		}
	}

	if err != nil {
		s.logger.Printf("Sync of %s for %s failed after %d records: %v", resource, r.result.Scope, r.result.Count, err)
		return r.result, fmt.Errorf("sync %s for %s: %w", resource, r.result.Scope, err)
	}

	s.logger.Printf("Synced %d %s for %s in %v", r.result.Count, resource, r.result.Scope, r.result.Duration.Round(time.Millisecond))
	return r.result, nil
}

// paginator returns a paginator that reports pages of this run.
func (r *run) paginator() *gitlab.Paginator {
	p := gitlab.NewPaginator(r.s.exec)
	if r.s.opts.PageSize > 0 {
		p.PageSize = r.s.opts.PageSize
	}
	p.OnPage = func(q gitlab.Query, page, nodes int) {
		r.transition(Paginating)
		r.s.logger.Printf("Fetched %s page %d (%d records)", q.Name, page, nodes)
		r.emit(page, "")
	}
	return p
}

// projectID returns the local id of the project, syncing the project first
// if it is not in the local store yet.
func (s *syncer) projectID(ctx context.Context, fullPath string) (int64, error) {
	id, err := s.resolver.ProjectID(ctx, fullPath)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, gitlab.ErrScopeNotFound) {
		return 0, err
	}

	s.logger.Printf("Project %s is not in the local store, fetching it", fullPath)
	project, err := gitlab.FetchProject(ctx, s.exec, fullPath)
	if err != nil {
		return 0, err
	}
	return s.upserter.SaveProject(ctx, project)
}

// lowerBound resolves the lower bound of a fetch. An explicit Since wins
// over FullResync, which wins over the stored watermark.
func (s *syncer) lowerBound(ctx context.Context, resource watermark.Resource, scope watermark.Scope) (watermark.Watermark, error) {
	switch {
	case s.opts.Since.Valid:
		return s.opts.Since, nil
	case s.opts.FullResync:
		return watermark.None, nil
	default:
		return s.resolver.Resolve(ctx, resource, scope)
	}
}

// Sync implements Syncer.Sync.
func (s *syncer) Sync(ctx context.Context, resource watermark.Resource, scope watermark.Scope) (Result, error) {
	switch resource {
	case watermark.Projects:
		return s.SyncProject(ctx, scope.ProjectPath)
	case watermark.Pipelines:
		return s.SyncPipelines(ctx, scope.ProjectPath)
	case watermark.MergeRequests:
		return s.SyncMergeRequests(ctx, scope.ProjectPath)
	case watermark.Environments:
		return s.SyncEnvironments(ctx, scope.ProjectPath)
	case watermark.Deployments:
		return s.SyncDeployments(ctx, scope.ProjectPath, scope.Environment)
	default:
		return Result{Resource: resource, Scope: scope, State: Failed}, fmt.Errorf("unknown resource %q", resource)
	}
}

// SyncAll implements Syncer.SyncAll.
func (s *syncer) SyncAll(ctx context.Context, fullPath string, environments []string) ([]Result, error) {
	type step struct {
		resource watermark.Resource
		scope    watermark.Scope
	}

	project := watermark.Scope{ProjectPath: fullPath}
	steps := []step{
		{watermark.Projects, project},
		{watermark.Pipelines, project},
		{watermark.MergeRequests, project},
		{watermark.Environments, project},
	}
	for _, env := range environments {
		steps = append(steps, step{watermark.Deployments, watermark.Scope{ProjectPath: fullPath, Environment: env}})
	}

	results := make([]Result, 0, len(steps))
	for _, st := range steps {
		res, err := s.Sync(ctx, st.resource, st.scope)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
