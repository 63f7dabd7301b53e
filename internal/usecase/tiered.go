package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
)

// TierExporter writes the transfer file of a tier.
type TierExporter interface {
	Export(ctx context.Context, tier domain.Tier, now time.Time) (ExportInfo, error)
}

// TierFetcher turns a transfer file into a result file.
type TierFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (crawlfile.ResultFile, error)
}

// ResultImporter applies a merged result to the backing store.
type ResultImporter interface {
	Import(ctx context.Context, result *crawlfile.MergedResult, runKey string, force bool) (ImportSummary, error)
}

// TieredDeps wires the collaborators of the tiered scheduler.
type TieredDeps struct {
	Exporter TierExporter
	Fetcher  TierFetcher
	Merger   *Merger
	Importer ResultImporter
	Clock    ports.Clock
	Recorder ports.RunRecorder
	Notifier ports.Notifier
	Logger   *slog.Logger
}

// TieredSettings holds the time-window policy.
type TieredSettings struct {
	DataDir     string
	ColdHours   []int
	TierTimeout time.Duration
}

// RunOptions are the per-invocation knobs of a cycle.
type RunOptions struct {
	Mode       domain.RunMode
	Force      bool
	DelayMin   time.Duration
	DelayMax   time.Duration
	MaxRetries int
}

// TieredScheduler runs one crawl cycle: decide tiers, export+fetch each tier
// concurrently, merge, import once, report.
type TieredScheduler struct {
	exporter TierExporter
	fetcher  TierFetcher
	merger   *Merger
	importer ResultImporter
	clock    ports.Clock
	recorder ports.RunRecorder
	notifier ports.Notifier
	logger   *slog.Logger
	settings TieredSettings
}

// NewTieredScheduler constructs the orchestrator.
func NewTieredScheduler(deps TieredDeps, settings TieredSettings) *TieredScheduler {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Merger == nil {
		deps.Merger = NewMerger(deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if settings.ColdHours == nil {
		settings.ColdHours = domain.DefaultColdHours
	}
	return &TieredScheduler{
		exporter: deps.Exporter,
		fetcher:  deps.Fetcher,
		merger:   deps.Merger,
		importer: deps.Importer,
		clock:    deps.Clock,
		recorder: deps.Recorder,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		settings: settings,
	}
}

// SelectTiers decides which tiers a mode runs at the given hour. HOT is always
// part of a scheduled cycle; COLD only during the configured cold hours.
func SelectTiers(mode domain.RunMode, hour int, coldHours []int) []domain.Tier {
	switch mode {
	case domain.ModeHot:
		return []domain.Tier{domain.TierHot}
	case domain.ModeCold:
		return []domain.Tier{domain.TierCold}
	case domain.ModeAll:
		return []domain.Tier{domain.TierHot, domain.TierCold}
	default:
		if domain.ShouldRunCold(hour, coldHours) {
			return []domain.Tier{domain.TierHot, domain.TierCold}
		}
		return []domain.Tier{domain.TierHot}
	}
}

// RunKey identifies the import batch of a cycle: the local hour it started in plus
// the tiers it covered. Retrying the same cycle reproduces the same key.
func RunKey(started time.Time, tiers []domain.Tier) string {
	names := make([]string, len(tiers))
	for i, tier := range tiers {
		names[i] = string(tier)
	}
	return started.Format("2006-01-02T15") + "/" + strings.Join(names, "+")
}

// Run executes one cycle and never returns early on a tier failure. The hour is
// read once at the start and governs the whole cycle.
func (s *TieredScheduler) Run(ctx context.Context, opts RunOptions) domain.RunReport {
	if opts.Mode == "" {
		opts.Mode = domain.ModeScheduled
	}

	started := s.clock.Now()
	hour := started.Hour()
	tiers := SelectTiers(opts.Mode, hour, s.settings.ColdHours)

	report := domain.RunReport{
		Mode:         opts.Mode,
		RunKey:       RunKey(started, tiers),
		StartedAt:    started,
		CurrentHour:  hour,
		NextColdHour: domain.NextColdHour(hour, s.settings.ColdHours),
	}
	for _, tier := range tiers {
		if tier == domain.TierCold {
			report.ColdSelected = true
		}
	}

	s.logger.Info("crawl cycle started", "mode", opts.Mode, "hour", hour, "tiers", tiers, "run_key", report.RunKey)
	if opts.Mode == domain.ModeScheduled && !report.ColdSelected {
		s.logger.Info("cold tier not due", "next_cold_hour", report.NextColdHour)
	}

	report.Tiers = s.runTiers(ctx, tiers, started, opts)

	paths := make(map[domain.Tier]string, len(report.Tiers))
	for _, outcome := range report.Tiers {
		if outcome.ResultPath != "" {
			paths[outcome.Tier] = outcome.ResultPath
		}
	}

	var merged *crawlfile.MergedResult
	if len(paths) > 0 {
		merged = s.merger.Merge(paths)
	}

	if len(paths) > 0 {
		var mergedTiers []domain.Tier
		if merged != nil {
			mergedTiers = merged.Tiers
		}
		for i := range report.Tiers {
			out := &report.Tiers[i]
			if out.Status == domain.TierStatusSuccess && !slices.Contains(mergedTiers, out.Tier) {
				out.Status = domain.TierStatusFailed
				out.Error = "result file could not be merged"
				s.logger.Warn("tier result left out of merge", "tier", out.Tier, "path", out.ResultPath)
			}
		}
	}

	switch {
	case merged != nil:
		counts := merged.Counts
		report.Merged = &counts
		report.Import = s.importMerged(ctx, merged, report.RunKey, opts.Force)
	case len(paths) > 0:
		report.Import = domain.ImportStep{Attempted: false, Error: crawlfile.ErrNoData.Error()}
	default:
		report.Import = domain.ImportStep{Attempted: false, Success: true, Skipped: true}
	}

	report.FinishedAt = s.clock.Now()
	report.Success = report.AnyFetchSucceeded() && report.Import.Success

	s.finish(ctx, report)
	return report
}

func (s *TieredScheduler) runTiers(ctx context.Context, tiers []domain.Tier, started time.Time, opts RunOptions) []domain.TierOutcome {
	outcomes := make([]domain.TierOutcome, len(tiers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(tiers))
	for i, tier := range tiers {
		g.Go(func() error {
			outcomes[i] = s.runTier(gctx, tier, started, opts)
			return nil // tier failures are reported, never propagated
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *TieredScheduler) runTier(ctx context.Context, tier domain.Tier, started time.Time, opts RunOptions) (out domain.TierOutcome) {
	logger := s.logger.With("tier", tier)
	out = domain.TierOutcome{Tier: tier, StartedAt: s.clock.Now()}

	defer func() {
		if r := recover(); r != nil {
			out.Status = domain.TierStatusFailed
			out.Error = fmt.Sprintf("tier task panicked: %v", r)
			out.ResultPath = ""
			logger.Error("tier task panicked", "panic", r)
		}
		out.FinishedAt = s.clock.Now()
		out.Duration = out.FinishedAt.Sub(out.StartedAt)
	}()

	if s.settings.TierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.TierTimeout)
		defer cancel()
	}

	logger.Info("exporting tier")
	info, err := s.exporter.Export(ctx, tier, started)
	if err != nil {
		out.Export = &domain.ExportStep{Success: false, Error: err.Error()}
		out.Status = domain.TierStatusFailed
		out.Error = fmt.Sprintf("export: %v", err)
		logger.Error("export failed", "error", err)
		return out
	}
	out.Export = &domain.ExportStep{Success: true, Count: info.Count, File: info.Path}

	if info.Count == 0 {
		out.Status = domain.TierStatusSkipped
		logger.Info("no items to crawl in tier")
		return out
	}

	resultPath := crawlfile.ResultPath(s.settings.DataDir, tier, started)
	result, err := s.fetcher.Fetch(ctx, FetchRequest{
		TransferPath: info.Path,
		ResultPath:   resultPath,
		Tier:         tier,
		DelayMin:     opts.DelayMin,
		DelayMax:     opts.DelayMax,
		MaxRetries:   opts.MaxRetries,
	})
	if err != nil {
		out.Fetch = &domain.FetchStep{Success: false, Error: err.Error()}
		out.Status = domain.TierStatusFailed
		out.Error = fmt.Sprintf("fetch: %v", err)
		logger.Error("fetch failed", "error", err)
		return out
	}

	out.Fetch = &domain.FetchStep{Success: true, Output: resultPath, Counts: result.Counts}
	out.ResultPath = resultPath
	out.Status = domain.TierStatusSuccess
	logger.Info("tier crawled", "success", result.Success, "failed", result.Failed, "skipped", result.Skipped)
	return out
}

func (s *TieredScheduler) importMerged(ctx context.Context, merged *crawlfile.MergedResult, runKey string, force bool) domain.ImportStep {
	step := domain.ImportStep{Attempted: true}
	if s.importer == nil {
		step.Error = "importer is not configured"
		return step
	}

	summary, err := s.importer.Import(ctx, merged, runKey, force)
	if err != nil {
		step.Error = err.Error()
		s.logger.Error("import failed", "run_key", runKey, "error", err)
		return step
	}

	step.Success = true
	step.Skipped = summary.Skipped
	step.Applied = summary.Applied
	return step
}

func (s *TieredScheduler) finish(ctx context.Context, report domain.RunReport) {
	if s.recorder != nil {
		if err := s.recorder.RecordRun(report); err != nil {
			s.logger.Warn("record run metrics", "error", err)
		}
	}

	if report.Success {
		s.logger.Info("crawl cycle finished", "run_key", report.RunKey, "duration", report.FinishedAt.Sub(report.StartedAt))
		return
	}

	s.logger.Error("crawl cycle failed", "run_key", report.RunKey, "import_error", report.Import.Error)
	if s.notifier != nil {
		if err := s.notifier.PublishDigest(ctx, FailureDigest(report)); err != nil {
			s.logger.Warn("notify failure", "error", err)
		}
	}
}

// FailureDigest renders a short operator message for a failed cycle.
func FailureDigest(report domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Crawl cycle failed* `%s`\n", report.RunKey)
	for _, o := range report.Tiers {
		fmt.Fprintf(&b, "- %s: %s", o.Tier, o.Status)
		if o.Error != "" {
			fmt.Fprintf(&b, " (%s)", o.Error)
		}
		b.WriteString("\n")
	}
	if report.Import.Error != "" {
		fmt.Fprintf(&b, "- import: %s\n", report.Import.Error)
	}
	return b.String()
}
