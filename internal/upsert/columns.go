package upsert

import "github.com/squiddy/gitlab-to-sqlite/internal/store"

// Table names of the mirrored entities.
const (
	ProjectsTable      = "projects"
	PipelinesTable     = "pipelines"
	JobsTable          = "jobs"
	MergeRequestsTable = "merge_requests"
	EnvironmentsTable  = "environments"
	DeploymentsTable   = "deployments"
)

// Tables lists the mirrored tables in reference order.
var Tables = []string{
	ProjectsTable,
	PipelinesTable,
	JobsTable,
	MergeRequestsTable,
	EnvironmentsTable,
	DeploymentsTable,
}

func text(name string) store.Column    { return store.Column{Name: name, Type: store.Text} }
func integer(name string) store.Column { return store.Column{Name: name, Type: store.Integer} }
func float(name string) store.Column   { return store.Column{Name: name, Type: store.Real} }
func boolean(name string) store.Column { return store.Column{Name: name, Type: store.Boolean} }

func ref(name, table string) store.Column {
	return store.Column{Name: name, Type: store.Integer, References: table}
}

// Shared columns.
var (
	colCreatedAt  = text("created_at")
	colUpdatedAt  = text("updated_at")
	colStartedAt  = text("started_at")
	colFinishedAt = text("finished_at")
	colStatus     = text("status")
	colDuration   = integer("duration")
	colName       = text("name")
	colWebURL     = text("web_url")
	colProjectID  = ref("project_id", ProjectsTable)
)

// projects
var (
	colGroupID  = integer("group_id")
	colPath     = text("path")
	colFullPath = text("full_path")
)

// pipelines
var (
	colCommitSHA = text("commit_sha")
	colRef       = text("ref")
)

// jobs
var (
	colStageName      = text("stage_name")
	colPipelineID     = ref("pipeline_id", PipelinesTable)
	colQueuedAt       = text("queued_at")
	colScheduledAt    = text("scheduled_at")
	colManual         = boolean("manual")
	colQueuedDuration = float("queued_duration")
)

// merge_requests
var (
	colIID                  = text("iid")
	colTitle                = text("title")
	colDescription          = text("description")
	colState                = text("state")
	colSourceBranch         = text("source_branch")
	colTargetBranch         = text("target_branch")
	colTargetProjectID      = ref("target_project_id", ProjectsTable)
	colMergedAt             = text("merged_at")
	colCommitCount          = integer("commit_count")
	colUserDiscussionsCount = integer("user_discussions_count")
	colUserNotesCount       = integer("user_notes_count")
	colDiffStatsAdditions   = integer("diff_stats_additions")
	colDiffStatsChanges     = integer("diff_stats_changes")
	colDiffStatsDeletions   = integer("diff_stats_deletions")
	colDiffStatsFileCount   = integer("diff_stats_file_count")
	colHeadPipelineID       = ref("head_pipeline_id", PipelinesTable)
)

// environments
var (
	colSlug        = text("slug")
	colTier        = text("tier")
	colExternalURL = text("external_url")
)

// deployments
var (
	colEnvironmentID = ref("environment_id", EnvironmentsTable)
	colSHA           = text("sha")
)
