// Command gitlab-to-sqlite mirrors GitLab projects, pipelines, jobs, merge
// requests, environments and deployments into a SQLite database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/config"
	"github.com/squiddy/gitlab-to-sqlite/internal/logging"
	"github.com/squiddy/gitlab-to-sqlite/internal/ui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		return 1
	}
	return 0
}

// app carries the state shared by all commands of one invocation.
type app struct {
	stdin  io.Reader
	stderr io.Writer

	configFile string
	cfg        *config.Config
	logs       *logging.Output
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gitlab-to-sqlite",
		Short: "Save data from GitLab to a SQLite database",
		Long: `Save data from GitLab to a SQLite database.

Each sync command fetches only the records changed since the newest one
already stored, so running it again is cheap. Tables and columns are
created as data arrives.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default: ./gitlab-to-sqlite.yaml or the user config dir)")
	flags.StringP("auth", "a", config.DefaultAuthFile, "Path to auth.json token file")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")
	flags.BoolP("quiet", "q", false, "Discard log output")

	root.AddCommand(
		newAuthCmd(a),
		newProjectsCmd(a),
		newPipelinesCmd(a),
		newMergeRequestsCmd(a),
		newEnvironmentsCmd(a),
		newDeploymentsCmd(a),
		newAllCmd(a),
		newStatusCmd(a),
		newDaemonCmd(a),
		newDashboardCmd(a),
		newBenchCmd(),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration and opens the log output.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.options(cmd))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logs = logging.Open(logging.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Quiet:      cfg.Log.Quiet,
		Stderr:     a.stderr,
	})
	return nil
}

func (a *app) options(cmd *cobra.Command) config.Options {
	return config.Options{File: a.configFile, Flags: cmd.Flags()}
}

func (a *app) close() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
