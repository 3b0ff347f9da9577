// Command atlassian-fetch exports Jira data as JSON lines on stdout.
//
// Configuration comes from ATLASSIAN_* environment variables and an optional
// YAML file (--config). Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/atlassian-client/pkg/config"
	"github.com/Sternrassler/atlassian-client/pkg/jira"
	"github.com/Sternrassler/atlassian-client/pkg/logging"
	"github.com/Sternrassler/atlassian-client/pkg/metrics"
	"github.com/Sternrassler/atlassian-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func versionString() string {
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one CLI invocation and releases what setup acquired, also
// when the command failed.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if tErr := a.teardown(); tErr != nil {
		a.logger.Warn().Err(tErr).Msg("Shutdown incomplete")
	}
	return err
}

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configFile  string
	logLevel    string
	prettyLogs  bool
	metricsAddr string
	cloudID     string
	pageSize    int

	logger        zerolog.Logger
	jira          *jira.Client
	closeClient   func() error
	metricsServer *http.Server
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "atlassian-fetch",
		Short:        "Export Jira projects, issues, worklogs and changelogs as JSON lines",
		Version:      versionString(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML config file (environment variables take precedence)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error, disabled (default from ATLASSIAN_LOG_LEVEL or info)")
	flags.BoolVar(&a.prettyLogs, "pretty", false, "human-readable logs on stderr")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while running, e.g. :9090")
	flags.StringVar(&a.cloudID, "cloud-id", "", "Atlassian cloud ID (default from ATLASSIAN_CLOUD_ID)")
	flags.IntVar(&a.pageSize, "page-size", 0, "page size (default 50 for projects and issues, 100 for worklogs and changelogs)")

	root.AddCommand(
		a.projectsCmd(),
		a.graphProjectsCmd(),
		a.issuesCmd(),
		a.worklogsCmd(),
		a.changelogCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(config.Options{ConfigFile: a.configFile})
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(level),
		Pretty: a.prettyLogs || cfg.LogPretty,
		Output: os.Stderr,
	})
	a.logger = logging.NewLogger(logging.ComponentCLI)

	if a.cloudID != "" {
		cfg.CloudID = strings.TrimSpace(a.cloudID)
	}
	if cfg.CloudID == "" {
		return errors.New("cloud ID is required: set ATLASSIAN_CLOUD_ID or --cloud-id")
	}

	api, closeFn, err := cfg.NewClient(ctx, logging.NewLogger(logging.ComponentClient))
	if err != nil {
		return err
	}
	a.closeClient = closeFn

	a.jira, err = jira.New(api, cfg.CloudID)
	if err != nil {
		return err
	}

	if a.metricsAddr != "" {
		a.metricsServer = metrics.NewServer(a.metricsAddr)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Str("addr", a.metricsAddr).Msg("Metrics server failed")
			}
		}()
		a.logger.Info().Str("addr", a.metricsAddr).Msg("Serving metrics")
	}
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	if a.closeClient != nil {
		errs = append(errs, a.closeClient())
	}
	return errors.Join(errs...)
}

func splitTypes(raw []string) []string {
	var out []string
	for _, r := range raw {
		out = append(out, strings.Split(r, ",")...)
	}
	return out
}

func (a *app) projectsCmd() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects of the given types via the Jira REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seq, err := a.jira.Projects(cmd.Context(), jira.ProjectsQuery{ProjectTypes: splitTypes(types), PageSize: a.pageSize})
			if err != nil {
				return err
			}
			return export(a, cmd, "projects", seq)
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", []string{"SOFTWARE"}, "project types, e.g. software,service_desk")
	return cmd
}

func (a *app) graphProjectsCmd() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "graph-projects",
		Short: "List projects with their linkable Opsgenie teams via the GraphQL gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seq, err := a.jira.ProjectsWithOpsgenieTeams(cmd.Context(), jira.ProjectsQuery{ProjectTypes: splitTypes(types), PageSize: a.pageSize})
			if err != nil {
				return err
			}
			return export(a, cmd, "graph-projects", seq)
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", []string{"SOFTWARE"}, "project types, e.g. software,service_desk")
	return cmd
}

func (a *app) issuesCmd() *cobra.Command {
	var jql string
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Search issues with JQL via the Jira REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seq, err := a.jira.Issues(cmd.Context(), jira.IssuesQuery{JQL: jql, PageSize: a.pageSize})
			if err != nil {
				return err
			}
			return export(a, cmd, "issues", seq)
		},
	}
	cmd.Flags().StringVar(&jql, "jql", "", "JQL query")
	_ = cmd.MarkFlagRequired("jql")
	return cmd
}

func (a *app) worklogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worklogs ISSUE-KEY",
		Short: "List the worklogs of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := a.jira.IssueWorklogs(cmd.Context(), args[0], a.pageSize)
			if err != nil {
				return err
			}
			return export(a, cmd, "worklogs", seq)
		},
	}
}

func (a *app) changelogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changelog ISSUE-KEY",
		Short: "List the changelog of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := a.jira.IssueChangelog(cmd.Context(), args[0], a.pageSize)
			if err != nil {
				return err
			}
			return export(a, cmd, "changelog", seq)
		},
	}
}

// export writes every item of seq to the command output as it arrives.
func export[T any](a *app, cmd *cobra.Command, name string, seq pagination.Sequence[T]) error {
	start := time.Now()
	n, err := encodeAll(cmd.Context(), cmd.OutOrStdout(), seq)
	event := a.logger.Info()
	if err != nil {
		event = a.logger.Warn().Err(err)
	}
	event.Str("export", name).Int("records", n).Dur("duration", time.Since(start)).Msg("Export finished")
	return err
}

func encodeAll[T any](ctx context.Context, out io.Writer, seq pagination.Sequence[T]) (int, error) {
	enc := json.NewEncoder(out)
	n := 0
	for seq.Next(ctx) {
		if err := enc.Encode(seq.Item()); err != nil {
			return n, fmt.Errorf("write record: %w", err)
		}
		n++
	}
	return n, seq.Err()
}
