package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentic-research/cfsync/internal/cli"
	"github.com/agentic-research/cfsync/internal/codefresh"
	"github.com/agentic-research/cfsync/internal/config"
	"github.com/agentic-research/cfsync/internal/generator"
	"github.com/agentic-research/cfsync/internal/ingest"
	"github.com/agentic-research/cfsync/internal/journal"
	"github.com/agentic-research/cfsync/internal/platform"
	"github.com/agentic-research/cfsync/internal/render"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// options are the flags shared by every command. They override the
// environment only when set on the command line.
type options struct {
	manifests   string
	templates   string
	apiURL      string
	apiKey      string
	timeout     time.Duration
	rate        float64
	concurrency int
	projects    bool
	errorRules  string
	journal     string
	verbose     bool

	logger *zap.Logger
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cfsync",
		Short:         "Reconcile pipeline manifests with Codefresh",
		Long:          "cfsync renders every manifest through its templates and creates or updates the resulting pipelines on Codefresh. Running it without a subcommand is the same as 'cfsync sync'.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logger != nil {
				return nil
			}
			cfg := zap.NewProductionConfig()
			if opts.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, false)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.manifests, "manifests", "", "Manifests directory (env "+config.EnvManifestsPath+")")
	flags.StringVar(&opts.templates, "templates", "", "Templates directory (env "+config.EnvTemplatesPath+")")
	flags.StringVar(&opts.apiURL, "api-url", config.DefaultAPIURL, "Codefresh API URL (env "+config.EnvAPIURL+")")
	flags.StringVar(&opts.apiKey, "api-key", "", "Codefresh API key (env "+config.EnvAPIKey+")")
	flags.DurationVar(&opts.timeout, "timeout", config.DefaultTimeout, "Per-request timeout (env "+config.EnvTimeout+")")
	flags.Float64Var(&opts.rate, "rate", config.DefaultRate, "Maximum API requests per second, 0 for unlimited (env "+config.EnvRate+")")
	flags.IntVar(&opts.concurrency, "concurrency", config.DefaultConcurrency, "Pipelines reconciled in parallel (env "+config.EnvConcurrency+")")
	flags.BoolVar(&opts.projects, "projects", true, "Create missing projects (env "+config.EnvManageProjects+")")
	flags.StringVar(&opts.errorRules, "error-rules", "", "YAML file overriding the not-found error rules (env "+config.EnvErrorRules+")")
	flags.StringVar(&opts.journal, "journal", "", "SQLite file recording every action (env "+config.EnvJournal+")")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newSyncCommand(opts),
		newPlanCommand(opts),
		newRenderCommand(opts),
		newJournalCommand(opts),
	)
	return cmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	opts := &options{}
	err := newRootCommand(opts).ExecuteContext(ctx)
	stop()
	if opts.logger != nil {
		_ = opts.logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the flags set on cmd.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("manifests") {
		cfg.ManifestsPath = opts.manifests
	}
	if flags.Changed("templates") {
		cfg.TemplatesPath = opts.templates
	}
	if flags.Changed("api-url") {
		cfg.APIURL = opts.apiURL
	}
	if flags.Changed("api-key") {
		cfg.APIKey = opts.apiKey
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("rate") {
		cfg.Rate = opts.rate
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.concurrency
	}
	if flags.Changed("projects") {
		cfg.ManageProjects = opts.projects
	}
	if flags.Changed("error-rules") {
		cfg.ErrorRules = opts.errorRules
	}
	if flags.Changed("journal") {
		cfg.Journal = opts.journal
	}
	return cfg, nil
}

func parameters(cfg config.Config) (cli.Parameters, error) {
	manifests, err := filepath.Abs(cfg.ManifestsPath)
	if err != nil {
		return cli.Parameters{}, fmt.Errorf("resolve manifests path: %w", err)
	}
	templates, err := filepath.Abs(cfg.TemplatesPath)
	if err != nil {
		return cli.Parameters{}, fmt.Errorf("resolve templates path: %w", err)
	}
	return cli.Parameters{
		ManifestsPath:  manifests,
		TemplatesPath:  templates,
		ManageProjects: cfg.ManageProjects,
	}, nil
}

// newCli assembles the pipeline. rec may be nil for runs that never touch
// the platform.
func newCli(logger *zap.Logger, rec cli.Reconciler) *cli.Cli {
	return cli.New(
		ingest.NewLoader(osfs.New("/"), logger.Named("ingest")),
		generator.New(render.NewTextEngine(), logger.Named("generator")),
		rec,
		logger,
	)
}

// runReconcile is shared by sync and plan.
func runReconcile(cmd *cobra.Command, opts *options, dryRun bool) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}
	params, err := parameters(cfg)
	if err != nil {
		return err
	}
	logger := opts.logger

	client, err := platform.NewHTTPClient(cfg.APIURL, cfg.APIKey,
		platform.WithTimeout(cfg.Timeout),
		platform.WithRateLimit(cfg.Rate, cfg.Concurrency),
		platform.WithLogger(logger.Named("platform")))
	if err != nil {
		return err
	}

	recOpts := []codefresh.Option{
		codefresh.WithDryRun(dryRun),
		codefresh.WithConcurrency(cfg.Concurrency),
	}
	if cfg.ErrorRules != "" {
		pipeline, project, err := loadClassifiers(cfg.ErrorRules)
		if err != nil {
			return err
		}
		recOpts = append(recOpts, codefresh.WithClassifiers(pipeline, project))
	}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()
		logger.Info("journal opened", zap.String("path", cfg.Journal), zap.String("run_id", j.RunID()))
		recOpts = append(recOpts, codefresh.WithRecorder(j))
	}

	reconciler := codefresh.New(client, logger.Named("codefresh"), recOpts...)
	report, err := newCli(logger, reconciler).Exec(cmd.Context(), params)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report, dryRun)
	return report.Err()
}

func loadClassifiers(path string) (*codefresh.Classifier, *codefresh.Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read error rules: %w", err)
	}
	rules, err := codefresh.LoadRules(data)
	if err != nil {
		return nil, nil, err
	}
	return rules.Classifiers()
}
