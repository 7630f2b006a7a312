package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/dashboard"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
)

func newDashboardCmd(a *app) *cobra.Command {
	var (
		dbPath  string
		port    int
		refresh time.Duration
	)

	cmd := &cobra.Command{
		Use:     "dashboard",
		GroupID: "advanced",
		Short:   "Serve the row counts of a mirror over WebSocket",
		Long: `Start a WebSocket dashboard server publishing the row count of each
mirrored table, refreshed periodically. To watch syncs as they happen, run
'gitlab-to-sqlite daemon --dashboard' instead.

WebSocket messages include:
- stats: Row counts of the mirrored tables
- sync_event: A state change or fetched page of a running sync (daemon only)
- sync_complete: A sync reached done or failed (daemon only)

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if refresh <= 0 {
				return fmt.Errorf("refresh must be positive, got %v", refresh)
			}
			if dbPath == "" {
				dbPath = a.cfg.DB
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Dashboard.Port
			}

			db, err := store.OpenExisting(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := a.logs.Logger("dashboard")
			server := dashboard.NewServer(&dashboard.Config{
				Host:   a.cfg.Dashboard.Host,
				Port:   port,
				Logger: logger,
			})
			handler := dashboard.NewHandler(server, logger)

			publish := func() {
				counts, err := tableCounts(ctx, db)
				if err != nil {
					logger.Printf("Failed to count rows: %v", err)
					return
				}
				handler.UpdateStats(counts)
			}
			publish()

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}

			fmt.Fprintf(out, "Dashboard server started on http://%s\n", server.Addr())
			fmt.Fprintf(out, "WebSocket endpoint: ws://%s/ws\n", server.Addr())
			fmt.Fprintf(out, "Health check: http://%s/health\n", server.Addr())
			fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

			ticker := time.NewTicker(refresh)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Fprintln(out, "\nShutting down dashboard server...")
					return server.Stop()
				case <-ticker.C:
					publish()
				}
			}
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().DurationVar(&refresh, "refresh", 5*time.Second, "How often row counts are published")
	return cmd
}
