package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/squiddy/gitlab-to-sqlite/internal/config"
	"github.com/squiddy/gitlab-to-sqlite/internal/ui"
)

func newAuthCmd(a *app) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Save authentication credentials to a JSON file",
		Long: `Prompt for a GitLab personal access token and save it, with the host, to
the auth file (auth.json unless --auth says otherwise). Other keys already in
the file are kept. A .toml, .yaml or .yml extension selects that format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Create a GitLab personal user token and paste it here:")
			fmt.Fprintln(out)

			token, err := a.promptToken()
			if err != nil {
				return err
			}

			path := a.cfg.Auth
			if err := config.SaveAuth(path, config.Auth{Token: token, Host: host}); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Saved credentials to %s\n", ui.RenderPass("✓"), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "GitLab host")
	return cmd
}

// promptToken asks for the token without echo on a terminal and reads a
// line otherwise.
func (a *app) promptToken() (string, error) {
	if f, ok := a.stdin.(*os.File); ok && ui.IsTerminal(f) {
		var token string
		err := huh.NewInput().
			Title("Personal token").
			EchoMode(huh.EchoModePassword).
			Value(&token).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token cannot be empty")
				}
				return nil
			}).
			Run()
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(token), nil
	}

	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	return token, nil
}
