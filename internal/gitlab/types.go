package gitlab

import (
	"fmt"
	"strconv"
	"strings"
)

// GlobalID is an opaque global identifier such as "gid://gitlab/Project/42".
type GlobalID string

// LocalID returns the final numeric segment of the identifier.
func (g GlobalID) LocalID() (int64, error) {
	s := string(g)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid global id %q: %w", string(g), err)
	}
	return id, nil
}

// Ref is a reference to another entity by global id.
type Ref struct {
	ID GlobalID `json:"id"`
}

// PageInfo is the cursor block of a paginated connection.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// ProjectNode is a decoded project.
type ProjectNode struct {
	ID GlobalID `json:"id"`
	// Group is nil for projects in a user namespace.
	Group    *Ref   `json:"group"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"fullPath"`
}

// PipelineNode is a decoded pipeline with its embedded jobs.
type PipelineNode struct {
	ID         GlobalID `json:"id"`
	Project    Ref      `json:"project"`
	CreatedAt  *string  `json:"createdAt"`
	UpdatedAt  *string  `json:"updatedAt"`
	StartedAt  *string  `json:"startedAt"`
	FinishedAt *string  `json:"finishedAt"`
	Status     *string  `json:"status"`
	Duration   *int64   `json:"duration"`
	SHA        *string  `json:"sha"`
	Ref        *string  `json:"ref"`
	Jobs       struct {
		Nodes []JobNode `json:"nodes"`
	} `json:"jobs"`
}

// JobNode is a decoded CI job.
type JobNode struct {
	ID          GlobalID `json:"id"`
	Name        *string  `json:"name"`
	CreatedAt   *string  `json:"createdAt"`
	QueuedAt    *string  `json:"queuedAt"`
	ScheduledAt *string  `json:"scheduledAt"`
	StartedAt   *string  `json:"startedAt"`
	FinishedAt  *string  `json:"finishedAt"`
	ManualJob   *bool    `json:"manualJob"`
	Stage       *struct {
		Name *string `json:"name"`
	} `json:"stage"`
	Status         *string  `json:"status"`
	QueuedDuration *float64 `json:"queuedDuration"`
	Duration       *int64   `json:"duration"`
	WebPath        *string  `json:"webPath"`
}

// MergeRequestNode is a decoded merge request.
type MergeRequestNode struct {
	ID                   GlobalID `json:"id"`
	IID                  *string  `json:"iid"`
	WebURL               *string  `json:"webUrl"`
	Title                *string  `json:"title"`
	Description          *string  `json:"description"`
	State                *string  `json:"state"`
	SourceBranch         *string  `json:"sourceBranch"`
	TargetBranch         *string  `json:"targetBranch"`
	TargetProject        Ref      `json:"targetProject"`
	CreatedAt            *string  `json:"createdAt"`
	MergedAt             *string  `json:"mergedAt"`
	UpdatedAt            *string  `json:"updatedAt"`
	CommitCount          *int64   `json:"commitCount"`
	UserDiscussionsCount *int64   `json:"userDiscussionsCount"`
	UserNotesCount       *int64   `json:"userNotesCount"`
	DiffStatsSummary     *struct {
		Additions *int64 `json:"additions"`
		Changes   *int64 `json:"changes"`
		Deletions *int64 `json:"deletions"`
		FileCount *int64 `json:"fileCount"`
	} `json:"diffStatsSummary"`
	// HeadPipeline is nil when the service reports no head pipeline; it is then
	// stored as NULL and no placeholder pipeline is created.
	HeadPipeline *Ref `json:"headPipeline"`
}

// EnvironmentNode is a decoded environment.
type EnvironmentNode struct {
	ID          GlobalID `json:"id"`
	Name        string   `json:"name"`
	Slug        *string  `json:"slug"`
	State       *string  `json:"state"`
	Tier        *string  `json:"tier"`
	ExternalURL *string  `json:"externalUrl"`
	CreatedAt   *string  `json:"createdAt"`
	UpdatedAt   *string  `json:"updatedAt"`
}

// DeploymentNode is a decoded deployment.
type DeploymentNode struct {
	ID         GlobalID `json:"id"`
	IID        *string  `json:"iid"`
	Ref        *string  `json:"ref"`
	SHA        *string  `json:"sha"`
	Status     *string  `json:"status"`
	CreatedAt  *string  `json:"createdAt"`
	UpdatedAt  *string  `json:"updatedAt"`
	FinishedAt *string  `json:"finishedAt"`
}
