package usecase

import (
	"log/slog"
	"os"
	"slices"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
)

// tierOrder fixes the iteration order of merge inputs.
var tierOrder = []domain.Tier{domain.TierHot, domain.TierCold, domain.TierAll}

// Merger combines the result files of every tier that ran in one cycle.
type Merger struct {
	logger *slog.Logger
}

// NewMerger builds a merger.
func NewMerger(logger *slog.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge reads each result file that exists and parses, sums its counts and appends
// its records, hot before cold. Unreadable inputs are skipped with a warning. It
// returns nil when no input was usable.
func (m *Merger) Merge(paths map[domain.Tier]string) *crawlfile.MergedResult {
	var merged *crawlfile.MergedResult

	for _, tier := range orderedTiers(paths) {
		path := paths[tier]
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			m.warn("result file missing, skipped", "tier", tier, "path", path, "error", err)
			continue
		}

		file, err := crawlfile.ReadResult(path)
		if err != nil {
			m.warn("result file unreadable, skipped", "tier", tier, "path", path, "error", err)
			continue
		}

		if merged == nil {
			merged = &crawlfile.MergedResult{}
		}
		merged.Counts = merged.Counts.Add(file.Counts)
		merged.DurationSeconds += file.DurationSeconds
		merged.Tiers = append(merged.Tiers, tier)
		merged.Data = append(merged.Data, file.Data...)
	}

	if merged == nil {
		m.warn("no result files to merge", "inputs", len(paths))
		return nil
	}

	if m.logger != nil {
		m.logger.Info("results merged", "tiers", merged.Tiers, "total", merged.Total,
			"success", merged.Success, "failed", merged.Failed, "skipped", merged.Skipped)
	}
	return merged
}

func orderedTiers(paths map[domain.Tier]string) []domain.Tier {
	out := make([]domain.Tier, 0, len(paths))
	for _, tier := range tierOrder {
		if _, ok := paths[tier]; ok {
			out = append(out, tier)
		}
	}
	var extra []domain.Tier
	for tier := range paths {
		if !slices.Contains(tierOrder, tier) {
			extra = append(extra, tier)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

func (m *Merger) warn(msg string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
