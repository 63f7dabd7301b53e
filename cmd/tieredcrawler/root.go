package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"TieredCrawler/internal/app"
	"TieredCrawler/internal/config"
	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/logging"
	"TieredCrawler/internal/output"
	"TieredCrawler/internal/usecase"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// crawler is what the command needs from the application.
type crawler interface {
	DefaultRunOptions(mode domain.RunMode) usecase.RunOptions
	RunOnce(ctx context.Context, opts usecase.RunOptions) domain.RunReport
	RunLoop(ctx context.Context, opts usecase.RunOptions, reports chan<- domain.RunReport) error
	Stats(ctx context.Context) (usecase.TierStats, error)
	NextColdHour() int
	ImportResult(ctx context.Context, file crawlfile.ResultFile, runKey string, force bool) (usecase.ImportSummary, error)
	Close() error
}

type appFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (crawler, error)

func newApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (crawler, error) {
	return app.New(ctx, cfg, logger)
}

// exitError carries the process exit code of a failure raised after flag parsing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var (
	errCycleFailed = errors.New("crawl cycle failed")
	errInterrupted = errors.New("interrupted")
)

type cliOptions struct {
	hot, cold, all, scheduled, stats bool

	force    bool
	loop     bool
	json     bool
	delayMin float64
	delayMax float64
	retries  int

	configPath string
	importPath string
	runKey     string
}

func (o cliOptions) mode() domain.RunMode {
	switch {
	case o.hot:
		return domain.ModeHot
	case o.cold:
		return domain.ModeCold
	case o.all:
		return domain.ModeAll
	default:
		return domain.ModeScheduled
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, factory appFactory) int {
	cmd := newRootCmd(stdout, stderr, factory)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		color.New(color.FgRed, color.Bold).Fprintf(stderr, "Error: %s\n", err)
		return exitUsage
	}
	if exitErr.err != nil && !errors.Is(exitErr.err, errCycleFailed) {
		color.New(color.FgRed, color.Bold).Fprintf(stderr, "Error: %s\n", exitErr.err)
	}
	return exitErr.code
}

func newRootCmd(stdout, stderr io.Writer, factory appFactory) *cobra.Command {
	var opts cliOptions

	cmd := &cobra.Command{
		Use:   "tieredcrawler",
		Short: "Refresh work statistics in hot and cold tiers",
		Long: `tieredcrawler exports valid works by tier, fetches their current statistics,
merges the per-tier results and imports them once per cycle.

Recently published works (hot tier) are crawled every cycle; older works (cold
tier) only during the configured cold hours.

Example usage:
  tieredcrawler                  # scheduled cycle for the current hour
  tieredcrawler --all --force    # crawl both tiers and re-import this hour
  tieredcrawler --stats          # show tier sizes
  tieredcrawler --loop           # run a scheduled cycle every hour`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, stdout, stderr, factory)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.hot, "hot", false, "crawl the hot tier only")
	flags.BoolVar(&opts.cold, "cold", false, "crawl the cold tier only")
	flags.BoolVar(&opts.all, "all", false, "crawl both tiers regardless of the hour")
	flags.BoolVar(&opts.scheduled, "scheduled", false, "crawl hot, plus cold during cold hours (default)")
	flags.BoolVar(&opts.stats, "stats", false, "print tier statistics and exit")
	flags.BoolVar(&opts.force, "force", false, "re-import even if this run key was already imported")
	flags.BoolVar(&opts.loop, "loop", false, "repeat scheduled cycles every hour until interrupted")
	flags.BoolVar(&opts.json, "json", false, "print the run report as JSON")
	flags.Float64Var(&opts.delayMin, "delay-min", 1.0, "minimum delay between requests in seconds")
	flags.Float64Var(&opts.delayMax, "delay-max", 3.0, "maximum delay between requests in seconds")
	flags.IntVar(&opts.retries, "retries", 2, "retries per item on transient errors")
	flags.StringVar(&opts.configPath, "config", "", "config file (default $TIERED_CRAWLER_CONFIG)")
	flags.StringVar(&opts.importPath, "import", "", "import an existing result file instead of crawling")
	flags.StringVar(&opts.runKey, "run-key", "", "run key for --import")

	cmd.MarkFlagsMutuallyExclusive("hot", "cold", "all", "scheduled", "stats", "import")
	cmd.MarkFlagsMutuallyExclusive("loop", "stats")
	cmd.MarkFlagsMutuallyExclusive("loop", "import")
	cmd.MarkFlagsRequiredTogether("import", "run-key")

	return cmd
}

func execute(cmd *cobra.Command, opts cliOptions, stdout, stderr io.Writer, factory appFactory) error {
	ctx := cmd.Context()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	applyFlagOverrides(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitUsage, err: fmt.Errorf("invalid configuration: %w", err)}
	}

	// The manual import file is read before any storage connection is made.
	var importFile crawlfile.ResultFile
	if opts.importPath != "" {
		importFile, err = crawlfile.ReadResult(opts.importPath)
		if err != nil {
			return &exitError{code: exitUsage, err: fmt.Errorf("--import: %w", err)}
		}
	}

	logger := logging.NewWithWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
	application, err := factory(ctx, cfg, logger)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("close application", "error", cerr)
		}
	}()

	switch {
	case opts.stats:
		stats, err := application.Stats(ctx)
		if err != nil {
			return &exitError{code: exitFailure, err: err}
		}
		if err := output.Stats(stdout, stats, application.NextColdHour()); err != nil {
			return &exitError{code: exitFailure, err: err}
		}
		return nil

	case opts.importPath != "":
		summary, err := application.ImportResult(ctx, importFile, opts.runKey, opts.force)
		if err != nil {
			return &exitError{code: exitFailure, err: err}
		}
		if summary.Skipped {
			fmt.Fprintf(stdout, "run %s already imported, skipped\n", opts.runKey)
		} else {
			fmt.Fprintf(stdout, "imported %d records as %s\n", summary.Applied, opts.runKey)
		}
		return nil
	}

	runOpts := application.DefaultRunOptions(opts.mode())
	runOpts.Force = opts.force

	render := func(report domain.RunReport) {
		var err error
		if opts.json {
			err = output.ReportJSON(stdout, report)
		} else {
			err = output.Report(stdout, report)
		}
		if err != nil {
			logger.Warn("render report", "error", err)
		}
	}

	if opts.loop {
		reports := make(chan domain.RunReport)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for report := range reports {
				render(report)
			}
		}()

		err := application.RunLoop(ctx, runOpts, reports)
		close(reports)
		wg.Wait()
		if err != nil {
			return &exitError{code: exitFailure, err: err}
		}
		return &exitError{code: exitInterrupted}
	}

	report := application.RunOnce(ctx, runOpts)
	render(report)

	if ctx.Err() != nil {
		return &exitError{code: exitInterrupted, err: errInterrupted}
	}
	if !report.Success {
		return &exitError{code: exitFailure, err: errCycleFailed}
	}
	return nil
}

// applyFlagOverrides lets explicit crawl flags win over configuration.
func applyFlagOverrides(cmd *cobra.Command, opts cliOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("delay-min") {
		cfg.Crawler.DelayMin = seconds(opts.delayMin)
	}
	if flags.Changed("delay-max") {
		cfg.Crawler.DelayMax = seconds(opts.delayMax)
	}
	if flags.Changed("retries") {
		cfg.Crawler.MaxRetries = opts.retries
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
