package upsert

import (
	"context"
	"fmt"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
)

// SaveProject writes a project and returns its local id.
func (u *Upserter) SaveProject(ctx context.Context, node *gitlab.ProjectNode) (int64, error) {
	id, err := localID("project", node.ID)
	if err != nil {
		return 0, err
	}

	var groupID any
	if node.Group != nil {
		gid, err := localID("group", node.Group.ID)
		if err != nil {
			return 0, err
		}
		groupID = gid
	}

	row := store.Row{Table: ProjectsTable, ID: id, Fields: []store.Field{
		{Column: colGroupID, Value: groupID},
		{Column: colName, Value: node.Name},
		{Column: colPath, Value: node.Path},
		{Column: colFullPath, Value: node.FullPath},
	}}

	return id, u.save(ctx, fmt.Sprintf("save project %d", id), func(w *store.Writer) error {
		return u.Upsert(ctx, w, row)
	})
}

// SavePipeline writes a pipeline and then each of its embedded jobs.
func (u *Upserter) SavePipeline(ctx context.Context, node *gitlab.PipelineNode) (int64, error) {
	id, err := localID("pipeline", node.ID)
	if err != nil {
		return 0, err
	}
	projectID, err := localID("project", node.Project.ID)
	if err != nil {
		return 0, err
	}

	row := store.Row{Table: PipelinesTable, ID: id, Fields: []store.Field{
		{Column: colProjectID, Value: projectID},
		{Column: colCreatedAt, Value: timestamp(node.CreatedAt)},
		{Column: colUpdatedAt, Value: timestamp(node.UpdatedAt)},
		{Column: colStartedAt, Value: timestamp(node.StartedAt)},
		{Column: colFinishedAt, Value: timestamp(node.FinishedAt)},
		{Column: colStatus, Value: nullable(node.Status)},
		{Column: colDuration, Value: nullable(node.Duration)},
		{Column: colCommitSHA, Value: nullable(node.SHA)},
		{Column: colRef, Value: nullable(node.Ref)},
	}}

	jobs := make([]store.Row, 0, len(node.Jobs.Nodes))
	for i := range node.Jobs.Nodes {
		job, err := u.jobRow(&node.Jobs.Nodes[i], id, projectID)
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, job)
	}

	return id, u.save(ctx, fmt.Sprintf("save pipeline %d", id), func(w *store.Writer) error {
		if err := u.Upsert(ctx, w, row); err != nil {
			return err
		}
		for _, job := range jobs {
			if err := u.Upsert(ctx, w, job); err != nil {
				return err
			}
		}
		return nil
	})
}

func (u *Upserter) jobRow(job *gitlab.JobNode, pipelineID, projectID int64) (store.Row, error) {
	id, err := localID("job", job.ID)
	if err != nil {
		return store.Row{}, err
	}

	var stage any
	if job.Stage != nil {
		stage = nullable(job.Stage.Name)
	}
	var webURL any
	if job.WebPath != nil {
		webURL = u.webBase + *job.WebPath
	}

	return store.Row{Table: JobsTable, ID: id, Fields: []store.Field{
		{Column: colName, Value: nullable(job.Name)},
		{Column: colStageName, Value: stage},
		{Column: colPipelineID, Value: pipelineID},
		{Column: colProjectID, Value: projectID},
		{Column: colCreatedAt, Value: timestamp(job.CreatedAt)},
		{Column: colQueuedAt, Value: timestamp(job.QueuedAt)},
		{Column: colScheduledAt, Value: timestamp(job.ScheduledAt)},
		{Column: colStartedAt, Value: timestamp(job.StartedAt)},
		{Column: colFinishedAt, Value: timestamp(job.FinishedAt)},
		{Column: colManual, Value: nullable(job.ManualJob)},
		{Column: colStatus, Value: nullable(job.Status)},
		{Column: colQueuedDuration, Value: nullable(job.QueuedDuration)},
		{Column: colDuration, Value: nullable(job.Duration)},
		{Column: colWebURL, Value: webURL},
	}}, nil
}

// SaveMergeRequest writes a merge request. A head pipeline not yet known
// locally gets a placeholder row; a null head pipeline is stored as NULL
// without one.
func (u *Upserter) SaveMergeRequest(ctx context.Context, node *gitlab.MergeRequestNode) (int64, error) {
	id, err := localID("merge request", node.ID)
	if err != nil {
		return 0, err
	}
	projectID, err := localID("project", node.TargetProject.ID)
	if err != nil {
		return 0, err
	}

	var headPipeline any
	if node.HeadPipeline != nil {
		pid, err := localID("pipeline", node.HeadPipeline.ID)
		if err != nil {
			return 0, err
		}
		headPipeline = pid
	}

	var additions, changes, deletions, fileCount any
	if s := node.DiffStatsSummary; s != nil {
		additions = nullable(s.Additions)
		changes = nullable(s.Changes)
		deletions = nullable(s.Deletions)
		fileCount = nullable(s.FileCount)
	}

	row := store.Row{Table: MergeRequestsTable, ID: id, Fields: []store.Field{
		{Column: colIID, Value: nullable(node.IID)},
		{Column: colWebURL, Value: nullable(node.WebURL)},
		{Column: colTitle, Value: nullable(node.Title)},
		{Column: colDescription, Value: nullable(node.Description)},
		{Column: colState, Value: nullable(node.State)},
		{Column: colSourceBranch, Value: nullable(node.SourceBranch)},
		{Column: colTargetBranch, Value: nullable(node.TargetBranch)},
		{Column: colTargetProjectID, Value: projectID},
		{Column: colCreatedAt, Value: timestamp(node.CreatedAt)},
		{Column: colMergedAt, Value: timestamp(node.MergedAt)},
		{Column: colUpdatedAt, Value: timestamp(node.UpdatedAt)},
		{Column: colCommitCount, Value: nullable(node.CommitCount)},
		{Column: colUserDiscussionsCount, Value: nullable(node.UserDiscussionsCount)},
		{Column: colUserNotesCount, Value: nullable(node.UserNotesCount)},
		{Column: colDiffStatsAdditions, Value: additions},
		{Column: colDiffStatsChanges, Value: changes},
		{Column: colDiffStatsDeletions, Value: deletions},
		{Column: colDiffStatsFileCount, Value: fileCount},
		{Column: colHeadPipelineID, Value: headPipeline},
	}}

	return id, u.save(ctx, fmt.Sprintf("save merge request %d", id), func(w *store.Writer) error {
		return u.Upsert(ctx, w, row)
	})
}

// SaveEnvironment writes an environment of the project with local id projectID.
func (u *Upserter) SaveEnvironment(ctx context.Context, node *gitlab.EnvironmentNode, projectID int64) (int64, error) {
	id, err := localID("environment", node.ID)
	if err != nil {
		return 0, err
	}

	row := store.Row{Table: EnvironmentsTable, ID: id, Fields: []store.Field{
		{Column: colProjectID, Value: projectID},
		{Column: colName, Value: node.Name},
		{Column: colSlug, Value: nullable(node.Slug)},
		{Column: colState, Value: nullable(node.State)},
		{Column: colTier, Value: nullable(node.Tier)},
		{Column: colExternalURL, Value: nullable(node.ExternalURL)},
		{Column: colCreatedAt, Value: timestamp(node.CreatedAt)},
		{Column: colUpdatedAt, Value: timestamp(node.UpdatedAt)},
	}}

	return id, u.save(ctx, fmt.Sprintf("save environment %d", id), func(w *store.Writer) error {
		return u.Upsert(ctx, w, row)
	})
}

// SaveDeployment writes a deployment of the given project and environment.
func (u *Upserter) SaveDeployment(ctx context.Context, node *gitlab.DeploymentNode, projectID, environmentID int64) (int64, error) {
	id, err := localID("deployment", node.ID)
	if err != nil {
		return 0, err
	}

	row := store.Row{Table: DeploymentsTable, ID: id, Fields: []store.Field{
		{Column: colEnvironmentID, Value: environmentID},
		{Column: colProjectID, Value: projectID},
		{Column: colIID, Value: nullable(node.IID)},
		{Column: colRef, Value: nullable(node.Ref)},
		{Column: colSHA, Value: nullable(node.SHA)},
		{Column: colStatus, Value: nullable(node.Status)},
		{Column: colCreatedAt, Value: timestamp(node.CreatedAt)},
		{Column: colUpdatedAt, Value: timestamp(node.UpdatedAt)},
		{Column: colFinishedAt, Value: timestamp(node.FinishedAt)},
	}}

	return id, u.save(ctx, fmt.Sprintf("save deployment %d", id), func(w *store.Writer) error {
		return u.Upsert(ctx, w, row)
	})
}
