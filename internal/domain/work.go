package domain

import "time"

// DefaultPlatform is assumed for work items that do not name their origin.
const DefaultPlatform = "bilibili"

// MaxLogEntries bounds the per-item status history.
const MaxLogEntries = 50

// Metrics holds the numeric counters fetched for a work item (view, like, coin, ...).
type Metrics map[string]int64

// WorkItem is a trackable piece of remote content owned by the backing store.
type WorkItem struct {
	ID          string
	Platform    string
	ExternalID  string
	Title       string
	PublishedAt time.Time
	Valid       bool
	Log         []LogEntry
	Metrics     Metrics
}

// AttemptStatus enumerates outcomes recorded in an item's log.
type AttemptStatus string

const (
	StatusSuccess     AttemptStatus = "success"
	StatusFailed      AttemptStatus = "failed"
	StatusSkipped     AttemptStatus = "skipped"
	StatusInvalidated AttemptStatus = "invalidated"
)

// LogEntry is one line of an item's crawl history.
type LogEntry struct {
	Status    AttemptStatus `json:"status"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}
