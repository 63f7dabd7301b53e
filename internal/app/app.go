package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"TieredCrawler/internal/config"
	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/infrastructure/bilibili"
	"TieredCrawler/internal/infrastructure/metrics"
	"TieredCrawler/internal/infrastructure/scheduler"
	"TieredCrawler/internal/infrastructure/storage"
	"TieredCrawler/internal/infrastructure/telegram"
	"TieredCrawler/internal/logging"
	"TieredCrawler/internal/ports"
	"TieredCrawler/internal/source"
	"TieredCrawler/internal/usecase"
)

// Deps lets callers replace the outer adapters. Nil fields get production defaults.
type Deps struct {
	Store    ports.WorkStore
	Sources  *source.Registry
	Clock    ports.Clock
	Recorder ports.RunRecorder
	Notifier ports.Notifier
	Driver   ports.Scheduler
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	clock    ports.Clock
	driver   ports.Scheduler
	exporter *usecase.Exporter
	importer *usecase.Importer
	tiered   *usecase.TieredScheduler
}

// New opens the backing store and builds a runnable application.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	application := Build(cfg, Deps{Store: storage.NewPostgresRepository(db)}, baseLogger)
	application.db = db
	return application, nil
}

// Build assembles the use cases around the given adapters.
func Build(cfg config.Config, deps Deps, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{Location: cfg.Scheduler.Location()}
	}
	if deps.Sources == nil {
		deps.Sources = source.NewRegistry()
		deps.Sources.Register(bilibili.NewClient(bilibili.Options{
			BaseURL:   cfg.Crawler.BaseURL,
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.Crawler.Timeout,
		}, bilibili.NewLimiter(cfg.Crawler.RequestsPerSecond), baseLogger.With("component", "source.bilibili")))
	}
	if deps.Recorder == nil && cfg.Metrics.Textfile != "" {
		deps.Recorder = metrics.NewTextfileRecorder(cfg.Metrics.Textfile)
	}
	if deps.Notifier == nil && cfg.Notifications.Telegram.Enabled() {
		tg := cfg.Notifications.Telegram
		deps.Notifier = telegram.NewNotifier(tg.APIBase, tg.BotToken, tg.ChatID)
	}
	if deps.Driver == nil {
		deps.Driver = scheduler.NewHourlyScheduler(time.Hour, true, baseLogger.With("component", "driver"))
	}

	exporter := usecase.NewExporter(deps.Store, cfg.Crawler.DataDir, cfg.Scheduler.HotDays, baseLogger.With("component", "exporter"))
	fetcher := usecase.NewFetcher(deps.Sources, baseLogger.With("component", "fetcher"))
	importer := usecase.NewImporter(deps.Store, baseLogger.With("component", "importer"))

	tiered := usecase.NewTieredScheduler(usecase.TieredDeps{
		Exporter: exporter,
		Fetcher:  fetcher,
		Merger:   usecase.NewMerger(baseLogger.With("component", "merger")),
		Importer: importer,
		Clock:    deps.Clock,
		Recorder: deps.Recorder,
		Notifier: deps.Notifier,
		Logger:   baseLogger.With("component", "scheduler"),
	}, usecase.TieredSettings{
		DataDir:     cfg.Crawler.DataDir,
		ColdHours:   cfg.Scheduler.ColdHours,
		TierTimeout: cfg.Scheduler.TierTimeout,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		clock:    deps.Clock,
		driver:   deps.Driver,
		exporter: exporter,
		importer: importer,
		tiered:   tiered,
	}
}

// DefaultRunOptions fills crawl knobs from configuration.
func (a *Application) DefaultRunOptions(mode domain.RunMode) usecase.RunOptions {
	return usecase.RunOptions{
		Mode:       mode,
		DelayMin:   a.cfg.Crawler.DelayMin,
		DelayMax:   a.cfg.Crawler.DelayMax,
		MaxRetries: a.cfg.Crawler.MaxRetries,
	}
}

// RunOnce performs a single crawl cycle.
func (a *Application) RunOnce(ctx context.Context, opts usecase.RunOptions) domain.RunReport {
	return a.tiered.Run(ctx, opts)
}

// RunLoop runs a cycle every hour until ctx is cancelled. A cycle in progress
// completes before RunLoop returns.
func (a *Application) RunLoop(ctx context.Context, opts usecase.RunOptions, reports chan<- domain.RunReport) error {
	loop := usecase.NewScheduler(a.driver, a.tiered, opts, reports)
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("hourly loop started", "mode", opts.Mode)

	<-ctx.Done()
	a.logger.Info("stopping after the current cycle")
	return loop.Stop(context.WithoutCancel(ctx))
}

// Stats classifies the valid items of the backing store at the current time.
func (a *Application) Stats(ctx context.Context) (usecase.TierStats, error) {
	return a.exporter.Stats(ctx, a.clock.Now())
}

// NextColdHour returns the next configured cold hour from now.
func (a *Application) NextColdHour() int {
	return domain.NextColdHour(a.clock.Now().Hour(), a.cfg.Scheduler.ColdHours)
}

// ImportResult re-imports one loaded result file under runKey.
func (a *Application) ImportResult(ctx context.Context, file crawlfile.ResultFile, runKey string, force bool) (usecase.ImportSummary, error) {
	return a.importer.ImportResult(ctx, file, runKey, force)
}

// Close releases the database pool.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
