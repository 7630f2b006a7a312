package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
	engine "github.com/squiddy/gitlab-to-sqlite/internal/sync"
	"github.com/squiddy/gitlab-to-sqlite/internal/ui"
	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

// syncFlags are the options shared by the sync commands.
type syncFlags struct {
	full  bool
	since string
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.full, "full", false, "Ignore the stored watermark and fetch everything")
	cmd.Flags().StringVar(&f.since, "since", "", `Fetch records updated after this time ("2024-05-01", "2 weeks ago")`)
	cmd.Flags().Int("page-size", gitlab.DefaultPageSize, "Records requested per page")
}

// nouns name each resource in command output.
var nouns = map[watermark.Resource]string{
	watermark.Projects:      "projects",
	watermark.Pipelines:     "pipelines",
	watermark.MergeRequests: "merge requests",
	watermark.Environments:  "environments",
	watermark.Deployments:   "deployments",
}

// session is an open client and database for one sync command.
type session struct {
	client *gitlab.Client
	db     *store.DB
	syncer engine.Syncer
}

func (s *session) Close() error {
	return s.db.Close()
}

// openSession connects to the service and the database at dbPath.
// onEvent may be nil.
func (a *app) openSession(dbPath string, flags syncFlags, onEvent func(engine.Event)) (*session, error) {
	since, err := watermark.ParseSince(flags.since, time.Now())
	if err != nil {
		return nil, err
	}

	client, err := gitlab.NewClient(gitlab.Config{
		Host:        a.cfg.Host,
		Token:       a.cfg.Token,
		MaxAttempts: a.cfg.MaxAttempts,
		Timeout:     a.cfg.Timeout,
	}, a.logs.Logger("gitlab"))
	if err != nil {
		return nil, err
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	syncer := engine.New(client, db, engine.Options{
		FullResync: flags.full,
		Since:      since,
		PageSize:   a.cfg.PageSize,
		WebBase:    client.BaseURL(),
		OnEvent:    onEvent,
	}, a.logs.Logger("sync"))

	return &session{client: client, db: db, syncer: syncer}, nil
}

// report prints the touched count of a sync, also for a failed one.
func report(w io.Writer, res engine.Result) {
	noun := nouns[res.Resource]
	if res.Scope.Environment != "" {
		noun += " of " + res.Scope.Environment
	}
	if res.State == engine.Failed {
		fmt.Fprintf(w, "%s Saved/updated %d %s before the failure\n", ui.RenderWarn("⚠"), res.Count, noun)
		return
	}
	fmt.Fprintf(w, "Saved/updated %d %s\n", res.Count, noun)
}

// newResourceCmd builds a command syncing one resource of one project.
func newResourceCmd(a *app, use, short string, sync func(ctx context.Context, s engine.Syncer, args []string) (engine.Result, error)) *cobra.Command {
	var flags syncFlags
	args := cobra.ExactArgs(2)
	if use == "deployments" {
		args = cobra.ExactArgs(3)
	}

	cmd := &cobra.Command{
		Use:     use + " DB_PATH PROJECT",
		GroupID: "sync",
		Short:   short,
		Args:    args,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(args[0], flags, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sync(cmd.Context(), sess.syncer, args[1:])
			report(cmd.OutOrStdout(), res)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newProjectsCmd(a *app) *cobra.Command {
	return newResourceCmd(a, "projects", "Save a project", func(ctx context.Context, s engine.Syncer, args []string) (engine.Result, error) {
		return s.SyncProject(ctx, args[0])
	})
}

func newPipelinesCmd(a *app) *cobra.Command {
	return newResourceCmd(a, "pipelines", "Save pipelines and their jobs", func(ctx context.Context, s engine.Syncer, args []string) (engine.Result, error) {
		return s.SyncPipelines(ctx, args[0])
	})
}

func newMergeRequestsCmd(a *app) *cobra.Command {
	return newResourceCmd(a, "merge-requests", "Save merge requests", func(ctx context.Context, s engine.Syncer, args []string) (engine.Result, error) {
		return s.SyncMergeRequests(ctx, args[0])
	})
}

func newEnvironmentsCmd(a *app) *cobra.Command {
	return newResourceCmd(a, "environments", "Save environments", func(ctx context.Context, s engine.Syncer, args []string) (engine.Result, error) {
		return s.SyncEnvironments(ctx, args[0])
	})
}

func newDeploymentsCmd(a *app) *cobra.Command {
	cmd := newResourceCmd(a, "deployments", "Save deployments of an environment", func(ctx context.Context, s engine.Syncer, args []string) (engine.Result, error) {
		return s.SyncDeployments(ctx, args[0], args[1])
	})
	cmd.Use = "deployments DB_PATH PROJECT ENVIRONMENT"
	return cmd
}

func newAllCmd(a *app) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:     "all DB_PATH PROJECT [ENVIRONMENT...]",
		GroupID: "sync",
		Short:   "Save a project with every resource",
		Long: `Save a project, its pipelines, merge requests and environments, then the
deployments of each named environment. Stops at the first failure.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(args[0], flags, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			start := time.Now()
			results, err := sess.syncer.SyncAll(cmd.Context(), args[1], args[2:])
			out := cmd.OutOrStdout()
			for _, res := range results {
				report(out, res)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
