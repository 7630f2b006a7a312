package gitlab

// Query describes one GraphQL operation.
type Query struct {
	// Name is the GraphQL operation name.
	Name string
	// Text is the query document.
	Text string
	// Connection is the path from the response data to the paginated
	// connection. Empty for non-paginated queries.
	Connection []string
}

// ProjectQuery fetches a single project by full path.
var ProjectQuery = Query{
	Name: "project",
	Text: `
query project($project: ID!) {
  project(fullPath: $project) {
    id
    group {
      id
    }
    name
    path
    fullPath
  }
}`,
}

// PipelinesQuery pages through a project's pipelines with their jobs.
var PipelinesQuery = Query{
	Name:       "pipelines",
	Connection: []string{"project", "pipelines"},
	Text: `
query pipelines($project: ID!, $first: Int, $after: String, $updated_after: Time) {
  project(fullPath: $project) {
    pipelines(first: $first, after: $after, updatedAfter: $updated_after) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        id
        createdAt
        updatedAt
        startedAt
        finishedAt
        status
        duration
        sha
        ref
        project {
          id
        }
        jobs {
          nodes {
            id
            name
            createdAt
            queuedAt
            scheduledAt
            startedAt
            finishedAt
            manualJob
            stage {
              name
            }
            status
            queuedDuration
            duration
            webPath
          }
        }
      }
    }
  }
}`,
}

// MergeRequestsQuery pages through merge requests targeting a project.
var MergeRequestsQuery = Query{
	Name:       "mergeRequests",
	Connection: []string{"project", "mergeRequests"},
	Text: `
query mergeRequests($project: ID!, $first: Int, $after: String, $updated_after: Time) {
  project(fullPath: $project) {
    mergeRequests(first: $first, after: $after, updatedAfter: $updated_after) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        id
        iid
        webUrl
        title
        description
        state
        sourceBranch
        targetBranch
        targetProject {
          id
        }
        createdAt
        mergedAt
        updatedAt
        commitCount
        userDiscussionsCount
        userNotesCount
        diffStatsSummary {
          additions
          changes
          deletions
          fileCount
        }
        headPipeline {
          id
        }
      }
    }
  }
}`,
}

// EnvironmentsQuery pages through a project's environments. The service
// offers no updated-after filter here, so environments are always fully synced.
var EnvironmentsQuery = Query{
	Name:       "environments",
	Connection: []string{"project", "environments"},
	Text: `
query environments($project: ID!, $first: Int, $after: String) {
  project(fullPath: $project) {
    environments(first: $first, after: $after) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        id
        name
        slug
        state
        tier
        externalUrl
        createdAt
        updatedAt
      }
    }
  }
}`,
}

// EnvironmentQuery fetches a single environment of a project by name.
var EnvironmentQuery = Query{
	Name: "environment",
	Text: `
query environment($project: ID!, $environment: String) {
  project(fullPath: $project) {
    environment(name: $environment) {
      id
      name
      slug
      state
      tier
      externalUrl
      createdAt
      updatedAt
    }
  }
}`,
}

// DeploymentsQuery pages through the deployments of one environment.
var DeploymentsQuery = Query{
	Name:       "deployments",
	Connection: []string{"project", "environment", "deployments"},
	Text: `
query deployments($project: ID!, $environment: String, $first: Int, $after: String, $updated_after: Time) {
  project(fullPath: $project) {
    environment(name: $environment) {
      deployments(first: $first, after: $after, updatedAfter: $updated_after, orderBy: {updatedAt: ASC}) {
        pageInfo {
          hasNextPage
          endCursor
        }
        nodes {
          id
          iid
          ref
          sha
          status
          createdAt
          updatedAt
          finishedAt
        }
      }
    }
  }
}`,
}

// MetadataQuery fetches the service version.
var MetadataQuery = Query{
	Name: "metadata",
	Text: `
query metadata {
  metadata {
    version
  }
}`,
}
