// Package crawlfile defines the on-disk formats exchanged between the exporter,
// fetcher and merger, and where those files live under the data directory.
package crawlfile

import (
	"errors"
	"time"

	"TieredCrawler/internal/domain"
)

// ErrNoData signals that a merge found no readable result files.
var ErrNoData = errors.New("no crawl data to import")

// TransferItem is one work item selected for a crawl cycle.
type TransferItem struct {
	ID          string            `json:"id"`
	Platform    string            `json:"platform,omitempty"`
	ExternalID  string            `json:"external_id"`
	Title       string            `json:"title,omitempty"`
	PublishTime *time.Time        `json:"publish_time,omitempty"`
	Valid       bool              `json:"is_valid"`
	Log         []domain.LogEntry `json:"log,omitempty"`
}

// TransferFile is the exporter's output for one tier.
type TransferFile struct {
	SessionID  string         `json:"session_id"`
	ExportTime time.Time      `json:"export_time"`
	Tier       domain.Tier    `json:"tier,omitempty"`
	HotDays    int            `json:"hot_days,omitempty"`
	TotalCount int            `json:"total_count"`
	Data       []TransferItem `json:"data"`
}

// ResultRecord carries the outcome of fetching one item.
type ResultRecord struct {
	ID         string               `json:"id"`
	Platform   string               `json:"platform,omitempty"`
	ExternalID string               `json:"external_id"`
	Tier       domain.Tier          `json:"tier,omitempty"`
	Status     domain.AttemptStatus `json:"status"`
	Metrics    domain.Metrics       `json:"metrics,omitempty"`
	Error      string               `json:"error,omitempty"`
	Valid      bool                 `json:"is_valid"`
	Log        []domain.LogEntry    `json:"log,omitempty"`
	CrawledAt  time.Time            `json:"crawled_at"`
}

// Counts aggregates per-item outcomes.
type Counts = domain.Counts

// ResultFile is the fetcher's output. Tier is empty on legacy single-tier files.
type ResultFile struct {
	SessionID string      `json:"session_id"`
	CrawlTime time.Time   `json:"crawl_time"`
	Tier      domain.Tier `json:"tier,omitempty"`
	Counts
	DurationSeconds float64        `json:"duration_seconds"`
	Data            []ResultRecord `json:"data"`
}

// MergedResult is the union of all result files produced in one cycle.
type MergedResult struct {
	Counts
	DurationSeconds float64
	Tiers           []domain.Tier
	Data            []ResultRecord
}

// WorkItem rebuilds the domain view of a transfer entry.
func (t TransferItem) WorkItem() domain.WorkItem {
	item := domain.WorkItem{
		ID:         t.ID,
		Platform:   t.Platform,
		ExternalID: t.ExternalID,
		Title:      t.Title,
		Valid:      t.Valid,
		Log:        append([]domain.LogEntry(nil), t.Log...),
	}
	if t.PublishTime != nil {
		item.PublishedAt = *t.PublishTime
	}
	if item.Platform == "" {
		item.Platform = domain.DefaultPlatform
	}
	return item
}

// NewTransferItem converts a stored work item into its transfer representation.
func NewTransferItem(item domain.WorkItem) TransferItem {
	out := TransferItem{
		ID:         item.ID,
		Platform:   item.Platform,
		ExternalID: item.ExternalID,
		Title:      item.Title,
		Valid:      item.Valid,
		Log:        item.Log,
	}
	if !item.PublishedAt.IsZero() {
		published := item.PublishedAt
		out.PublishTime = &published
	}
	return out
}
