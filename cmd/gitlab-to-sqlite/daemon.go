package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/config"
	"github.com/squiddy/gitlab-to-sqlite/internal/daemon"
	"github.com/squiddy/gitlab-to-sqlite/internal/dashboard"
	engine "github.com/squiddy/gitlab-to-sqlite/internal/sync"
	"github.com/squiddy/gitlab-to-sqlite/internal/ui"
)

// daemonTargets returns the projects named on the command line, or the
// configured targets when there are none.
func daemonTargets(cfg *config.Config, projects []string) []daemon.Target {
	if len(projects) > 0 {
		targets := make([]daemon.Target, len(projects))
		for i, p := range projects {
			targets[i] = daemon.Target{Project: p}
		}
		return targets
	}

	targets := make([]daemon.Target, len(cfg.Daemon.Targets))
	for i, t := range cfg.Daemon.Targets {
		targets[i] = daemon.Target{Project: t.Project, Environments: t.Environments}
	}
	return targets
}

func newDaemonCmd(a *app) *cobra.Command {
	var (
		dbPath        string
		withDashboard bool
	)

	cmd := &cobra.Command{
		Use:     "daemon [PROJECT...]",
		GroupID: "advanced",
		Short:   "Keep projects in sync (foreground)",
		Long: `Sync every resource of the configured projects now and then on a fixed
interval (daemon.interval). Projects given as arguments replace the
daemon.targets list of the config file.

The daemon will:
  1. Sync each target's project, pipelines, merge requests and environments
  2. Sync the deployments of the environments listed for the target
  3. Keep going when a target fails and retry it next cycle
  4. Reload the targets when the config file changes

With --dashboard, progress is served on the live dashboard as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dbPath == "" {
				dbPath = a.cfg.DB
			}

			targets := daemonTargets(a.cfg, args)
			if len(targets) == 0 {
				return errors.New("no targets: name projects as arguments or under daemon.targets in the config file")
			}

			var handler *dashboard.Handler
			var onEvent func(engine.Event)
			if withDashboard {
				logger := a.logs.Logger("dashboard")
				server := dashboard.NewServer(&dashboard.Config{
					Host:   a.cfg.Dashboard.Host,
					Port:   a.cfg.Dashboard.Port,
					Logger: logger,
				})
				handler = dashboard.NewHandler(server, logger)
				if err := server.Start(); err != nil {
					return fmt.Errorf("failed to start dashboard: %w", err)
				}
				defer server.Stop()
				onEvent = handler.OnSyncEvent
			}

			sess, err := a.openSession(dbPath, syncFlags{}, onEvent)
			if err != nil {
				return err
			}
			defer sess.Close()

			d, err := daemon.New(sess.syncer, targets, &daemon.Config{
				Interval:         a.cfg.Daemon.Interval,
				DebounceInterval: a.cfg.Daemon.Debounce,
				ConfigFile:       a.cfg.Sources.ConfigFile,
				Reload: func() ([]daemon.Target, error) {
					cfg, err := config.Load(a.options(cmd))
					if err != nil {
						return nil, err
					}
					return daemonTargets(cfg, args), nil
				},
				OnCycle: func(summary daemon.Summary, _ error) {
					if handler == nil {
						return
					}
					for _, res := range summary.Results {
						var err error
						if res.State == engine.Failed {
							err = summary.Errors[res.Scope.ProjectPath]
						}
						handler.OnSyncComplete(res, err)
					}
					if counts, err := tableCounts(ctx, sess.db); err == nil {
						handler.UpdateStats(counts)
					}
				},
				Logger: a.logs.Logger("daemon"),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
			for _, t := range targets {
				fmt.Fprintf(out, "   Target: %s %v\n", t.Project, t.Environments)
			}
			fmt.Fprintf(out, "   Database: %s\n", dbPath)
			fmt.Fprintf(out, "   Interval: %v\n", a.cfg.Daemon.Interval)
			fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

			return d.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "Serve the live dashboard while syncing")
	return cmd
}
