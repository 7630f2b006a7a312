package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/loadtest"
	"github.com/squiddy/gitlab-to-sqlite/internal/ui"
)

func newBenchCmd() *cobra.Command {
	var (
		dbPath     string
		readers    int
		pipelines  int
		jobs       int
		queries    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "bench",
		GroupID: "advanced",
		Short:   "Benchmark watermark reads during a sync",
		Long: `Populate a scratch mirror with synthetic pipelines, then resolve the
pipelines watermark from concurrent readers while a writer keeps saving newer
pipelines, and report the read latency.

Examples:
  # Default settings (10 readers, 1000 pipelines)
  gitlab-to-sqlite bench

  # 50 readers against 5000 pipelines
  gitlab-to-sqlite bench --readers 50 --pipelines 5000

  # Output as JSON
  gitlab-to-sqlite bench --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case readers <= 0:
				return errors.New("--readers must be positive")
			case pipelines <= 0:
				return errors.New("--pipelines must be positive")
			case jobs < 0:
				return errors.New("--jobs must not be negative")
			case queries <= 0:
				return errors.New("--queries must be positive")
			}

			if dbPath == "" {
				dir, err := os.MkdirTemp("", "gitlab-to-sqlite-bench-")
				if err != nil {
					return fmt.Errorf("failed to create scratch directory: %w", err)
				}
				defer os.RemoveAll(dir)
				dbPath = filepath.Join(dir, "bench.db")
			}

			if !jsonOutput {
				fmt.Fprintf(out, "Populating %d pipelines with %d jobs each...\n", pipelines, jobs)
			}
			mirror, err := loadtest.Populate(ctx, dbPath, pipelines, jobs)
			if err != nil {
				return err
			}
			defer mirror.Close()

			start := time.Now()
			stats, err := mirror.RunConcurrentReaders(ctx, readers, queries)
			elapsed := time.Since(start)
			if stats == nil {
				return err
			}
			qps := float64(stats.TotalQueries) / elapsed.Seconds()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(map[string]any{
					"config": map[string]any{
						"readers":   readers,
						"pipelines": pipelines,
						"jobs":      jobs,
						"queries":   queries,
					},
					"latency": map[string]any{
						"min_ms":  stats.Min.Milliseconds(),
						"p50_ms":  stats.P50.Milliseconds(),
						"mean_ms": stats.Mean.Milliseconds(),
						"p95_ms":  stats.P95.Milliseconds(),
						"p99_ms":  stats.P99.Milliseconds(),
						"max_ms":  stats.Max.Milliseconds(),
					},
					"throughput": map[string]any{
						"qps":     qps,
						"queries": stats.TotalQueries,
						"writes":  stats.Writes,
					},
					"errors": stats.Errors,
				}); encErr != nil {
					return encErr
				}
				return err
			}

			fmt.Fprintln(out)
			stats.Fprint(out)
			fmt.Fprintf(out, "  Throughput:    %.2f queries/second\n", qps)
			if err != nil {
				fmt.Fprintf(out, "\n%s %d reads failed\n", ui.RenderWarn("⚠"), stats.Errors)
				return err
			}
			fmt.Fprintf(out, "\n%s Benchmark complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default: a scratch file removed afterwards)")
	cmd.Flags().IntVar(&readers, "readers", 10, "Number of concurrent readers")
	cmd.Flags().IntVar(&pipelines, "pipelines", 1000, "Pipelines in the mirror before reading starts")
	cmd.Flags().IntVar(&jobs, "jobs", 3, "Jobs per pipeline")
	cmd.Flags().IntVar(&queries, "queries", 50, "Watermark reads per reader")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}
