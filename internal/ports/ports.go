package ports

import (
	"context"
	"errors"
	"time"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
)

// ErrAlreadyImported is returned by WorkStore.ApplyResults when the run key was
// imported before and force was not requested.
var ErrAlreadyImported = errors.New("run already imported")

// WorkStore is the backing store of trackable work items.
type WorkStore interface {
	// ListValid returns every work item whose validity flag is set.
	ListValid(ctx context.Context) ([]domain.WorkItem, error)
	// ApplyResults upserts fetched records as one transaction tagged with runKey.
	ApplyResults(ctx context.Context, runKey string, records []crawlfile.ResultRecord, force bool) (int, error)
}

// Notifier delivers short operator messages (failed cycles, etc.).
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// RunRecorder exports per-cycle observations.
type RunRecorder interface {
	RecordRun(report domain.RunReport) error
}

// Scheduler controls when recurring cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Clock abstracts wall-clock reads so cycle decisions can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// Now returns the current time in the configured location.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}
