package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
)

// ExportInfo describes a written transfer file.
type ExportInfo struct {
	Tier  domain.Tier
	Path  string
	Count int
}

// TierSummary describes one tier in the stats view.
type TierSummary struct {
	Count  int
	Newest *domain.WorkItem
	Oldest *domain.WorkItem
}

// TierStats is the --stats view of the backing store.
type TierStats struct {
	HotDays    int
	Cutoff     time.Time
	TotalWorks int
	Hot        TierSummary
	Cold       TierSummary
}

// Exporter selects valid work items of a tier and writes them to a transfer file.
type Exporter struct {
	store   ports.WorkStore
	dataDir string
	hotDays int
	logger  *slog.Logger
}

// NewExporter wires the backing store and export location.
func NewExporter(store ports.WorkStore, dataDir string, hotDays int, logger *slog.Logger) *Exporter {
	if hotDays <= 0 {
		hotDays = domain.DefaultHotDays
	}
	return &Exporter{store: store, dataDir: dataDir, hotDays: hotDays, logger: logger}
}

// Export writes every valid item of tier, ordered by ID, to a new transfer file.
func (e *Exporter) Export(ctx context.Context, tier domain.Tier, now time.Time) (ExportInfo, error) {
	items, err := e.selectTier(ctx, tier, now)
	if err != nil {
		return ExportInfo{}, err
	}

	file := crawlfile.TransferFile{
		SessionID:  uuid.NewString(),
		ExportTime: now,
		Tier:       tier,
		HotDays:    e.hotDays,
		TotalCount: len(items),
		Data:       make([]crawlfile.TransferItem, 0, len(items)),
	}
	for _, item := range items {
		file.Data = append(file.Data, crawlfile.NewTransferItem(item))
	}

	path := crawlfile.ExportPath(e.dataDir, tier, now)
	if err := crawlfile.WriteJSON(path, file); err != nil {
		return ExportInfo{}, fmt.Errorf("write transfer file: %w", err)
	}

	e.debug("tier exported", "tier", tier, "count", len(items), "file", path)
	return ExportInfo{Tier: tier, Path: path, Count: len(items)}, nil
}

// Stats classifies all valid items without writing anything.
func (e *Exporter) Stats(ctx context.Context, now time.Time) (TierStats, error) {
	items, err := e.store.ListValid(ctx)
	if err != nil {
		return TierStats{}, fmt.Errorf("list work items: %w", err)
	}

	stats := TierStats{
		HotDays:    e.hotDays,
		Cutoff:     domain.HotCutoff(now, e.hotDays),
		TotalWorks: len(items),
	}
	for i := range items {
		item := items[i]
		summary := &stats.Cold
		if domain.Classify(item, now, e.hotDays) == domain.TierHot {
			summary = &stats.Hot
		}
		summary.Count++
		if summary.Newest == nil || item.PublishedAt.After(summary.Newest.PublishedAt) {
			summary.Newest = &item
		}
		if summary.Oldest == nil || item.PublishedAt.Before(summary.Oldest.PublishedAt) {
			summary.Oldest = &item
		}
	}
	return stats, nil
}

func (e *Exporter) selectTier(ctx context.Context, tier domain.Tier, now time.Time) ([]domain.WorkItem, error) {
	if e.store == nil {
		return nil, fmt.Errorf("work store is not configured")
	}

	all, err := e.store.ListValid(ctx)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}

	selected := make([]domain.WorkItem, 0, len(all))
	for _, item := range all {
		if !item.Valid {
			continue
		}
		if tier.Matches(item, now, e.hotDays) {
			selected = append(selected, item)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].ID < selected[j].ID
	})
	return selected, nil
}

func (e *Exporter) debug(msg string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
