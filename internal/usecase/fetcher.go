package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/source"
)

// FetchRequest names the files and pacing of one fetch pass. Paths are explicit so
// concurrent tiers never share a target.
type FetchRequest struct {
	TransferPath string
	ResultPath   string
	Tier         domain.Tier
	DelayMin     time.Duration
	DelayMax     time.Duration
	MaxRetries   int
}

const missingExternalID = "missing external id"

// Fetcher performs one remote lookup per transfer item, strictly sequentially.
type Fetcher struct {
	sources *source.Registry
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(min, max time.Duration) time.Duration
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetchClock overrides the time source used for log and record timestamps.
func WithFetchClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// WithSleeper overrides how the delay between two items is waited out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithJitter overrides how a delay is picked from the configured range.
func WithJitter(jitter func(min, max time.Duration) time.Duration) FetcherOption {
	return func(f *Fetcher) { f.jitter = jitter }
}

// NewFetcher wires the source registry.
func NewFetcher(sources *source.Registry, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		sources: sources,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
		jitter:  uniformJitter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch reads the transfer file, fetches every item and writes the result file.
// Per-item failures are recorded in the result; only file I/O errors are returned.
// When ctx ends mid-batch the remaining items are counted as skipped and the
// partial result is still written.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (crawlfile.ResultFile, error) {
	started := f.now()

	transfer, err := crawlfile.ReadTransfer(req.TransferPath)
	if err != nil {
		return crawlfile.ResultFile{}, err
	}

	sessionID := transfer.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result := crawlfile.ResultFile{
		SessionID: sessionID,
		CrawlTime: started,
		Tier:      req.Tier,
		Data:      make([]crawlfile.ResultRecord, 0, len(transfer.Data)),
	}
	result.Total = len(transfer.Data)

	f.info("fetch started", "tier", req.Tier, "items", result.Total, "transfer", req.TransferPath)

	requested := false
	for i, entry := range transfer.Data {
		item := entry.WorkItem()

		if ctx.Err() != nil {
			result.Data = append(result.Data, f.abandon(transfer.Data[i:], req.Tier, ctx.Err())...)
			result.Skipped += len(transfer.Data) - i
			break
		}

		if !item.Valid {
			result.Skipped++
			result.Data = append(result.Data, f.record(item, req.Tier, domain.StatusSkipped, "item is marked invalid"))
			continue
		}

		if item.ExternalID == "" {
			result.Failed++
			item.AppendLog(domain.StatusFailed, missingExternalID, f.now())
			result.Data = append(result.Data, f.record(item, req.Tier, domain.StatusFailed, missingExternalID))
			continue
		}

		src, err := f.sources.Resolve(item.Platform)
		if err != nil {
			result.Skipped++
			result.Data = append(result.Data, f.record(item, req.Tier, domain.StatusSkipped, err.Error()))
			continue
		}

		if requested {
			if err := f.sleep(ctx, f.jitter(req.DelayMin, req.DelayMax)); err != nil {
				result.Data = append(result.Data, f.abandon(transfer.Data[i:], req.Tier, err)...)
				result.Skipped += len(transfer.Data) - i
				break
			}
		}
		requested = true

		metrics, err := f.fetchWithRetry(ctx, src, item.ExternalID, req)
		if err != nil && (ctx.Err() != nil || isContextError(err)) {
			cause := ctx.Err()
			if cause == nil {
				cause = err
			}
			result.Data = append(result.Data, f.abandon(transfer.Data[i:], req.Tier, cause)...)
			result.Skipped += len(transfer.Data) - i
			break
		}

		at := f.now()
		if err != nil {
			result.Failed++
			demoted := item.RecordFailure(err.Error(), at)
			rec := f.record(item, req.Tier, domain.StatusFailed, err.Error())
			result.Data = append(result.Data, rec)
			f.warn("item fetch failed", "tier", req.Tier, "id", item.ID, "bvid", item.ExternalID, "error", err, "demoted", demoted)
			continue
		}

		result.Success++
		item.RecordSuccess(metrics, at)
		rec := f.record(item, req.Tier, domain.StatusSuccess, "")
		result.Data = append(result.Data, rec)
		f.debug("item fetched", "tier", req.Tier, "id", item.ID, "bvid", item.ExternalID, "metrics", metrics.Summary())
	}

	result.DurationSeconds = f.now().Sub(started).Seconds()

	if err := crawlfile.WriteJSON(req.ResultPath, result); err != nil {
		return crawlfile.ResultFile{}, fmt.Errorf("write result file: %w", err)
	}

	f.info("fetch finished", "tier", req.Tier,
		"success", result.Success, "failed", result.Failed, "skipped", result.Skipped,
		"output", req.ResultPath)
	return result, nil
}

// fetchWithRetry retries transient errors up to req.MaxRetries times, waiting a
// fresh jittered delay before each retry. Other errors end the item at once.
func (f *Fetcher) fetchWithRetry(ctx context.Context, src source.StatsSource, externalID string, req FetchRequest) (domain.Metrics, error) {
	operation := func() (domain.Metrics, error) {
		metrics, err := src.FetchStats(ctx, externalID)
		if err != nil && !source.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return metrics, err
	}

	metrics, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&jitterBackOff{min: req.DelayMin, max: req.DelayMax, draw: f.jitter}),
		backoff.WithMaxTries(uint(max(req.MaxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			f.debug("retrying item", "bvid", externalID, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, err
	}
	return metrics, nil
}

// jitterBackOff waits a uniform draw from [min, max] before every retry.
type jitterBackOff struct {
	min, max time.Duration
	draw     func(min, max time.Duration) time.Duration
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	return b.draw(b.min, b.max)
}

func (b *jitterBackOff) Reset() {}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (f *Fetcher) record(item domain.WorkItem, tier domain.Tier, status domain.AttemptStatus, msg string) crawlfile.ResultRecord {
	rec := crawlfile.ResultRecord{
		ID:         item.ID,
		Platform:   item.Platform,
		ExternalID: item.ExternalID,
		Tier:       tier,
		Status:     status,
		Error:      msg,
		Valid:      item.Valid,
		Log:        item.Log,
		CrawledAt:  f.now(),
	}
	if status == domain.StatusSuccess {
		rec.Metrics = item.Metrics
	}
	return rec
}

func (f *Fetcher) abandon(rest []crawlfile.TransferItem, tier domain.Tier, cause error) []crawlfile.ResultRecord {
	reason := "fetch interrupted"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "tier time budget exhausted"
	}
	f.warn("fetch stopped early", "tier", tier, "remaining", len(rest), "reason", reason)

	out := make([]crawlfile.ResultRecord, 0, len(rest))
	for _, entry := range rest {
		out = append(out, f.record(entry.WorkItem(), tier, domain.StatusSkipped, reason))
	}
	return out
}

func (f *Fetcher) info(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Info(msg, args...)
	}
}

func (f *Fetcher) warn(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

func (f *Fetcher) debug(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func uniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
