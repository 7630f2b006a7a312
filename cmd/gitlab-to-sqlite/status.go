package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
	"github.com/squiddy/gitlab-to-sqlite/internal/ui"
	"github.com/squiddy/gitlab-to-sqlite/internal/upsert"
)

// tableCounts returns the row count of every mirrored table that exists.
func tableCounts(ctx context.Context, db *store.DB) (map[string]int64, error) {
	counts := make(map[string]int64, len(upsert.Tables))
	for _, table := range upsert.Tables {
		n, ok, err := db.CountRows(ctx, table)
		if err != nil {
			return nil, err
		}
		if ok {
			counts[table] = n
		}
	}
	return counts, nil
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		dbPath      string
		runs        int
		checkServer bool
	)

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "advanced",
		Short:   "Show mirror status",
		Long: `Display the current status of the mirror database.

Shows:
  - Database location and size
  - Row count of each mirrored table
  - The most recent sync runs
  - With --check-server, the GitLab version and whether it is supported`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if dbPath == "" {
				dbPath = a.cfg.DB
			}

			db, err := store.OpenExisting(dbPath)
			if errors.Is(err, store.ErrNotInitialized) {
				fmt.Fprintf(out, "\n%s Database not initialized\n", ui.RenderWarn("⚠"))
				fmt.Fprintf(out, "   Run 'gitlab-to-sqlite pipelines %s PROJECT' to create it\n\n", dbPath)
				return nil
			}
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Fprintf(out, "\n%s Mirror Status\n\n", ui.RenderAccent("📊"))
			fmt.Fprintf(out, "Location: %s\n", dbPath)
			if info, err := os.Stat(dbPath); err == nil {
				fmt.Fprintf(out, "Size: %s\n", formatSize(info.Size()))
			}

			counts, err := tableCounts(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, table := range upsert.Tables {
				if n, ok := counts[table]; ok {
					fmt.Fprintf(out, "%-16s %d\n", table+":", n)
				} else {
					fmt.Fprintf(out, "%-16s %s\n", table+":", ui.RenderMuted("-"))
				}
			}

			if err := printRuns(ctx, out, db, runs); err != nil {
				return err
			}

			if checkServer {
				if err := a.printServer(ctx, out); err != nil {
					return err
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	cmd.Flags().IntVar(&runs, "runs", 10, "Number of recent sync runs to show")
	cmd.Flags().BoolVar(&checkServer, "check-server", false, "Query the GitLab version")
	return cmd
}

func printRuns(ctx context.Context, out io.Writer, db *store.DB, limit int) error {
	if limit <= 0 {
		return nil
	}
	recent, err := db.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s\n", ui.RenderHeader("Recent runs"))
	if len(recent) == 0 {
		fmt.Fprintln(out, "(none)")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRESOURCE\tSCOPE\tSTATE\tCOUNT\tWATERMARK")
	for _, r := range recent {
		wm := "none"
		if r.Watermark.Valid {
			wm = r.Watermark.String
		}
		state := r.State
		if r.Error.Valid {
			state += ": " + r.Error.String
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", r.StartedAt, r.Resource, r.Scope, state, r.Count, wm)
	}
	return tw.Flush()
}

func (a *app) printServer(ctx context.Context, out io.Writer) error {
	client, err := gitlab.NewClient(gitlab.Config{
		Host:        a.cfg.Host,
		Token:       a.cfg.Token,
		MaxAttempts: a.cfg.MaxAttempts,
		Timeout:     a.cfg.Timeout,
	}, a.logs.Logger("gitlab"))
	if err != nil {
		return err
	}

	v, err := client.ServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to query server version: %w", err)
	}
	ok, err := gitlab.CheckServerVersion(v)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nServer: %s %s\n", client.BaseURL(), v)
	if ok {
		fmt.Fprintf(out, "%s Supported\n", ui.RenderPass("✓"))
	} else {
		fmt.Fprintf(out, "%s Older than %s, some queries may be rejected\n", ui.RenderWarn("⚠"), gitlab.MinServerVersion)
	}
	return nil
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
