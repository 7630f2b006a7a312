package sync

import (
	"context"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

// each pages through q and saves every node as it arrives.
func each[T any](ctx context.Context, r *run, q gitlab.Query, vars map[string]any, save func(node *T) error) error {
	for node, err := range gitlab.NodesOf[T](ctx, r.paginator(), q, vars) {
		if err != nil {
			return err
		}

		r.transition(Upserting)
		if err := save(node); err != nil {
			return err
		}
		r.touched()
	}
	return nil
}

// filter returns the query variables for a scope and lower bound.
func filter(scope watermark.Scope, wm watermark.Watermark) map[string]any {
	vars := map[string]any{"project": scope.ProjectPath}
	if scope.Environment != "" {
		vars["environment"] = scope.Environment
	}
	if wm.Valid {
		vars["updated_after"] = wm.Time
	}
	return vars
}

// SyncProject implements Syncer.SyncProject.
func (s *syncer) SyncProject(ctx context.Context, fullPath string) (Result, error) {
	r := s.begin(ctx, watermark.Projects, watermark.Scope{ProjectPath: fullPath})

	r.transition(Paginating)
	project, err := gitlab.FetchProject(ctx, s.exec, fullPath)
	if err != nil {
		return r.finish(ctx, err)
	}

	r.transition(Upserting)
	if _, err := s.upserter.SaveProject(ctx, project); err != nil {
		return r.finish(ctx, err)
	}
	r.touched()
	return r.finish(ctx, nil)
}

// SyncPipelines implements Syncer.SyncPipelines.
func (s *syncer) SyncPipelines(ctx context.Context, fullPath string) (Result, error) {
	scope := watermark.Scope{ProjectPath: fullPath}
	r := s.begin(ctx, watermark.Pipelines, scope)

	if _, err := s.projectID(ctx, fullPath); err != nil {
		return r.finish(ctx, err)
	}
	wm, err := s.lowerBound(ctx, watermark.Pipelines, scope)
	if err != nil {
		return r.finish(ctx, err)
	}
	r.result.Watermark = wm
	s.logger.Printf("Fetching pipelines of %s updated after %s", fullPath, wm)

	err = each(ctx, r, gitlab.PipelinesQuery, filter(scope, wm), func(node *gitlab.PipelineNode) error {
		_, err := s.upserter.SavePipeline(ctx, node)
		return err
	})
	return r.finish(ctx, err)
}

// SyncMergeRequests implements Syncer.SyncMergeRequests.
func (s *syncer) SyncMergeRequests(ctx context.Context, fullPath string) (Result, error) {
	scope := watermark.Scope{ProjectPath: fullPath}
	r := s.begin(ctx, watermark.MergeRequests, scope)

	if _, err := s.projectID(ctx, fullPath); err != nil {
		return r.finish(ctx, err)
	}
	wm, err := s.lowerBound(ctx, watermark.MergeRequests, scope)
	if err != nil {
		return r.finish(ctx, err)
	}
	r.result.Watermark = wm
	s.logger.Printf("Fetching merge requests of %s updated after %s", fullPath, wm)

	err = each(ctx, r, gitlab.MergeRequestsQuery, filter(scope, wm), func(node *gitlab.MergeRequestNode) error {
		_, err := s.upserter.SaveMergeRequest(ctx, node)
		return err
	})
	return r.finish(ctx, err)
}

// SyncEnvironments implements Syncer.SyncEnvironments.
func (s *syncer) SyncEnvironments(ctx context.Context, fullPath string) (Result, error) {
	scope := watermark.Scope{ProjectPath: fullPath}
	r := s.begin(ctx, watermark.Environments, scope)

	projectID, err := s.projectID(ctx, fullPath)
	if err != nil {
		return r.finish(ctx, err)
	}

	err = each(ctx, r, gitlab.EnvironmentsQuery, filter(scope, watermark.None), func(node *gitlab.EnvironmentNode) error {
		_, err := s.upserter.SaveEnvironment(ctx, node, projectID)
		return err
	})
	return r.finish(ctx, err)
}

// SyncDeployments implements Syncer.SyncDeployments.
func (s *syncer) SyncDeployments(ctx context.Context, fullPath, environment string) (Result, error) {
	scope := watermark.Scope{ProjectPath: fullPath, Environment: environment}
	r := s.begin(ctx, watermark.Deployments, scope)

	projectID, err := s.projectID(ctx, fullPath)
	if err != nil {
		return r.finish(ctx, err)
	}

	// The environment's local id scopes the deployments.
	env, err := gitlab.FetchEnvironment(ctx, s.exec, fullPath, environment)
	if err != nil {
		return r.finish(ctx, err)
	}
	envID, err := s.upserter.SaveEnvironment(ctx, env, projectID)
	if err != nil {
		return r.finish(ctx, err)
	}

	wm, err := s.lowerBound(ctx, watermark.Deployments, scope)
	if err != nil {
		return r.finish(ctx, err)
	}
	r.result.Watermark = wm
	s.logger.Printf("Fetching deployments of %s updated after %s", scope, wm)

	err = each(ctx, r, gitlab.DeploymentsQuery, filter(scope, wm), func(node *gitlab.DeploymentNode) error {
		_, err := s.upserter.SaveDeployment(ctx, node, projectID, envID)
		return err
	})
	return r.finish(ctx, err)
}
