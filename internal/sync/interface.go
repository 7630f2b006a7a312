// Package sync orchestrates incremental syncs of GitLab resources into the
// local store.
package sync

import (
	"context"

	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

// Syncer mirrors one resource type for one scope per call.
//
// Every call resolves the scope's watermark, pages through the records the
// service changed since then, and upserts each one as it arrives. Calls
// run sequentially: a page is fully written before the next is requested,
// and SyncAll syncs resources one after another.
//
// The returned Result carries the touched count (records written, not
// new-vs-changed) also when the call fails; records written before a
// failure stay in the store and advance the next call's watermark.
type Syncer interface {
	// SyncProject fetches the project with the given full path and writes it.
	//
	// Returns an error classified as gitlab.ErrScopeNotFound if the
	// service does not know the project.
	//
	// Example:
	//   res, err := syncer.SyncProject(ctx, "acme/widget")
	SyncProject(ctx context.Context, fullPath string) (Result, error)

	// SyncPipelines syncs the pipelines of a project with their jobs.
	//
	// If the project is not in the local store yet, it is synced first.
	//
	// Example:
	//   res, err := syncer.SyncPipelines(ctx, "acme/widget")
	//   fmt.Printf("Saved/updated %d pipelines\n", res.Count)
	SyncPipelines(ctx context.Context, fullPath string) (Result, error)

	// SyncMergeRequests syncs the merge requests targeting a project.
	SyncMergeRequests(ctx context.Context, fullPath string) (Result, error)

	// SyncEnvironments syncs every environment of a project. Environments
	// have no watermark and are always fetched in full.
	SyncEnvironments(ctx context.Context, fullPath string) (Result, error)

	// SyncDeployments syncs the deployments of one environment of a
	// project. The environment itself is fetched and written first.
	//
	// Example:
	//   res, err := syncer.SyncDeployments(ctx, "acme/widget", "production")
	SyncDeployments(ctx context.Context, fullPath, environment string) (Result, error)

	// Sync dispatches to the resource-specific method.
	Sync(ctx context.Context, resource watermark.Resource, scope watermark.Scope) (Result, error)

	// SyncAll syncs the project, its pipelines, merge requests and
	// environments, then the deployments of each named environment, in
	// that order. It stops at the first failure and returns the results
	// gathered so far, the failed one included.
	SyncAll(ctx context.Context, fullPath string, environments []string) ([]Result, error)
}
