package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gitlab-to-sqlite %s (GitLab %s or newer)\n", version, gitlab.MinServerVersion)
		},
	}
}
