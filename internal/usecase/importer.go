package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/ports"
)

// ImportSummary describes what an import did.
type ImportSummary struct {
	Applied int
	Skipped bool
}

// Importer writes a cycle's fetched records back to the backing store.
type Importer struct {
	store  ports.WorkStore
	logger *slog.Logger
}

// NewImporter wires the backing store.
func NewImporter(store ports.WorkStore, logger *slog.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// Import upserts every record of result in one transaction tagged with runKey.
// An empty result is a successful no-op. Re-importing a run key without force is
// reported as skipped rather than applied twice.
func (i *Importer) Import(ctx context.Context, result *crawlfile.MergedResult, runKey string, force bool) (ImportSummary, error) {
	if result == nil || len(result.Data) == 0 {
		i.info("nothing to import", "run_key", runKey)
		return ImportSummary{}, nil
	}
	if i.store == nil {
		return ImportSummary{}, fmt.Errorf("work store is not configured")
	}
	if runKey == "" {
		return ImportSummary{}, fmt.Errorf("run key is required")
	}

	applied, err := i.store.ApplyResults(ctx, runKey, result.Data, force)
	if errors.Is(err, ports.ErrAlreadyImported) {
		i.info("run already imported, skipping", "run_key", runKey)
		return ImportSummary{Skipped: true}, nil
	}
	if err != nil {
		return ImportSummary{}, fmt.Errorf("apply results for %s: %w", runKey, err)
	}

	i.info("import committed", "run_key", runKey, "records", applied, "force", force)
	return ImportSummary{Applied: applied}, nil
}

// ImportResult imports one loaded result file, tagged or legacy, for manual
// re-imports of an earlier cycle.
func (i *Importer) ImportResult(ctx context.Context, file crawlfile.ResultFile, runKey string, force bool) (ImportSummary, error) {
	merged := &crawlfile.MergedResult{
		Counts:          file.Counts,
		DurationSeconds: file.DurationSeconds,
		Data:            file.Data,
	}
	if file.Tier != "" {
		merged.Tiers = append(merged.Tiers, file.Tier)
	}
	return i.Import(ctx, merged, runKey, force)
}

func (i *Importer) info(msg string, args ...interface{}) {
	if i.logger != nil {
		i.logger.Info(msg, args...)
	}
}
