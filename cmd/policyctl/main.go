// Command policyctl runs the policy agent's operations from a terminal with
// the same configuration as the service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/policy-agent/internal/api"
	"github.com/p-blackswan/policy-agent/internal/bootstrap"
	"github.com/p-blackswan/policy-agent/internal/config"
	"github.com/p-blackswan/policy-agent/internal/factcheck"
)

// clients are the operations the CLI drives. Nil fields are unconfigured.
type clients struct {
	FactCheck  api.FactChecker
	Resolver   api.Resolver
	Files      api.Files
	Research   api.Researcher
	Credential string
	close      func() error
}

type loader func(ctx context.Context) (*clients, error)

var errNotConfigured = errors.New("GitHub is not configured: set GITHUB_APP_ID, GITHUB_INSTALLATION_ID, GITHUB_TARGET_OWNER and GITHUB_TARGET_REPO")

func loadClients(ctx context.Context) (*clients, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	svc, err := bootstrap.Build(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	c := &clients{Credential: cfg.FactCheckCredential, close: svc.Close}
	if svc.FactCheck != nil {
		c.FactCheck = svc.FactCheck
	}
	if svc.Resolver != nil {
		c.Resolver = svc.Resolver
	}
	if svc.Gateway != nil {
		c.Files = svc.Gateway
	}
	if svc.Research != nil {
		c.Research = svc.Research
	}
	return c, nil
}

func newRootCmd(load loader) *cobra.Command {
	var c *clients

	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "Operate the policy agent from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			c, err = load(cmd.Context())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c != nil && c.close != nil {
				return c.close()
			}
			return nil
		},
	}

	var credential string
	factCheckCmd := &cobra.Command{
		Use:   "factcheck <pr-url>",
		Short: "Fact-check a pull request and post the result as a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.FactCheck == nil {
				return errNotConfigured
			}
			if credential == "" {
				credential = c.Credential
			}
			res := c.FactCheck.Run(cmd.Context(), factcheck.Request{PRURL: args[0], Credential: credential})
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("fact-check failed: %s", res.Error.Code)
			}
			return nil
		},
	}
	factCheckCmd.Flags().StringVar(&credential, "credential", "", "shared secret (defaults to FACTCHECK_CREDENTIAL)")

	var current string
	resolveCmd := &cobra.Command{
		Use:   "resolve <query>",
		Short: "Pick the Markdown file a request should edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.Resolver == nil {
				return errNotConfigured
			}
			return writeJSON(cmd.OutOrStdout(), c.Resolver.Resolve(cmd.Context(), args[0], current))
		},
	}
	resolveCmd.Flags().StringVar(&current, "current", "", "file currently open, used as the fallback")

	var query, ref string
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "List Markdown files in the policy repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.Files == nil {
				return errNotConfigured
			}
			var (
				files []string
				err   error
			)
			if query != "" {
				files, err = c.Files.SearchFiles(cmd.Context(), query, ref)
			} else {
				files, err = c.Files.ListMarkdownFiles(cmd.Context(), ref)
			}
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	filesCmd.Flags().StringVar(&query, "query", "", "case-insensitive path filter")
	filesCmd.Flags().StringVar(&ref, "ref", "", "branch to list (defaults to the base branch)")

	researchCmd := &cobra.Command{
		Use:   "research <statement>",
		Short: "Verify a statement with several models and synthesize the answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.Research == nil {
				return errors.New("research is not configured: set RESEARCH_MODELS")
			}
			res, err := c.Research.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	root.AddCommand(factCheckCmd, resolveCmd, filesCmd, researchCmd)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd(loadClients).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
