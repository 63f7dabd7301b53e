package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/source"
)

func writeTransfer(t *testing.T, items ...domain.WorkItem) string {
	t.Helper()

	file := crawlfile.TransferFile{SessionID: "session-1", Tier: domain.TierHot, TotalCount: len(items)}
	for _, item := range items {
		file.Data = append(file.Data, crawlfile.NewTransferItem(item))
	}
	path := filepath.Join(t.TempDir(), "transfer.json")
	require.NoError(t, crawlfile.WriteJSON(path, file))
	return path
}

func fixedJitter(d time.Duration) func(min, max time.Duration) time.Duration {
	return func(time.Duration, time.Duration) time.Duration { return d }
}

func TestFetchDelaysOnlyBetweenRequests(t *testing.T) {
	t.Parallel()

	invalid := workItem("2", "BV2", exportNow)
	invalid.Valid = false
	transfer := writeTransfer(t,
		workItem("1", "BV1", exportNow),
		invalid,
		workItem("3", "", exportNow),
		workItem("4", "BV4", exportNow),
		workItem("5", "BV5", exportNow),
	)
	sleeps := &recordedSleeps{}
	fetcher := NewFetcher(registryWith(newScriptSource()), nil,
		WithSleeper(sleeps.sleep), WithJitter(fixedJitter(1500*time.Millisecond)))

	resultPath := filepath.Join(t.TempDir(), "views_data_hot.json")
	result, err := fetcher.Fetch(context.Background(), FetchRequest{
		TransferPath: transfer,
		ResultPath:   resultPath,
		Tier:         domain.TierHot,
		DelayMin:     time.Second,
		DelayMax:     2 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, crawlfile.Counts{Total: 5, Success: 3, Failed: 1, Skipped: 1}, result.Counts)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, sleeps.delays)

	onDisk, err := crawlfile.ReadResult(resultPath)
	require.NoError(t, err)
	assert.Equal(t, result.Counts, onDisk.Counts)
	assert.Equal(t, domain.TierHot, onDisk.Tier)
	assert.Equal(t, "session-1", onDisk.SessionID)
	require.Len(t, onDisk.Data, 5)
	assert.Equal(t, domain.StatusSuccess, onDisk.Data[0].Status)
	assert.Equal(t, int64(1000), onDisk.Data[0].Metrics["view"])
	assert.Equal(t, domain.StatusSkipped, onDisk.Data[1].Status)
	assert.Nil(t, onDisk.Data[1].Metrics)

	missing := onDisk.Data[2]
	assert.Equal(t, domain.StatusFailed, missing.Status)
	assert.True(t, missing.Valid, "a missing external id is logged, not demoted")
	require.Len(t, missing.Log, 1)
	assert.Equal(t, domain.StatusFailed, missing.Log[0].Status)
	assert.Equal(t, "missing external id", missing.Log[0].Message)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	transient := fmt.Errorf("http 502: %w", source.ErrTransient)
	tests := []struct {
		name       string
		errs       []error
		maxRetries int
		wantStatus domain.AttemptStatus
		wantCalls  int
	}{
		{name: "recovers within budget", errs: []error{transient, transient}, maxRetries: 2, wantStatus: domain.StatusSuccess, wantCalls: 3},
		{name: "budget exhausted", errs: []error{transient, transient}, maxRetries: 1, wantStatus: domain.StatusFailed, wantCalls: 2},
		{name: "not found is final", errs: []error{source.ErrNotFound}, maxRetries: 2, wantStatus: domain.StatusFailed, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := newScriptSource()
			src.errs["BV1"] = tt.errs
			draws := 0
			fetcher := NewFetcher(registryWith(src), nil, WithJitter(func(min, max time.Duration) time.Duration {
				assert.Equal(t, 2*time.Second, min)
				assert.Equal(t, 4*time.Second, max)
				draws++
				return 0
			}))

			result, err := fetcher.Fetch(context.Background(), FetchRequest{
				TransferPath: writeTransfer(t, workItem("1", "BV1", exportNow)),
				ResultPath:   filepath.Join(t.TempDir(), "out.json"),
				Tier:         domain.TierHot,
				DelayMin:     2 * time.Second,
				DelayMax:     4 * time.Second,
				MaxRetries:   tt.maxRetries,
			})
			require.NoError(t, err)

			require.Len(t, result.Data, 1)
			assert.Equal(t, tt.wantStatus, result.Data[0].Status)
			assert.Equal(t, tt.wantCalls, src.callCount("BV1"))
			assert.Equal(t, tt.wantCalls-1, draws, "one jittered delay before every retry")
		})
	}
}

func TestFetchDemotesChronicFailures(t *testing.T) {
	t.Parallel()

	item := workItem("1", "BV1", exportNow)
	item.Log = []domain.LogEntry{
		{Status: domain.StatusFailed, Message: "timeout", Timestamp: time.Now().Add(-48 * time.Hour)},
		{Status: domain.StatusFailed, Message: "timeout", Timestamp: time.Now().Add(-24 * time.Hour)},
	}
	src := newScriptSource()
	src.errs["BV1"] = []error{source.ErrNotFound}

	result, err := NewFetcher(registryWith(src), nil).Fetch(context.Background(), FetchRequest{
		TransferPath: writeTransfer(t, item),
		ResultPath:   filepath.Join(t.TempDir(), "out.json"),
		Tier:         domain.TierCold,
	})
	require.NoError(t, err)

	rec := result.Data[0]
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.False(t, rec.Valid)
	require.Len(t, rec.Log, 4)
	assert.Equal(t, domain.StatusInvalidated, rec.Log[3].Status)
}

func TestFetchStopsAtDeadlineAndKeepsPartialResult(t *testing.T) {
	t.Parallel()

	src := newScriptSource()
	src.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resultPath := filepath.Join(t.TempDir(), "out.json")
	result, err := NewFetcher(registryWith(src), nil).Fetch(ctx, FetchRequest{
		TransferPath: writeTransfer(t, workItem("1", "BV1", exportNow), workItem("2", "BV2", exportNow)),
		ResultPath:   resultPath,
		Tier:         domain.TierCold,
	})
	require.NoError(t, err)

	assert.Equal(t, crawlfile.Counts{Total: 2, Skipped: 2}, result.Counts)
	assert.Equal(t, "tier time budget exhausted", result.Data[1].Error)
	assert.Equal(t, 0, src.callCount("BV2"))

	_, err = crawlfile.ReadResult(resultPath)
	require.NoError(t, err)
}

func TestFetchLocalDeadlineErrorAbandonsWithoutDemotion(t *testing.T) {
	t.Parallel()

	failedBefore := workItem("2", "BV2", exportNow)
	failedBefore.Log = []domain.LogEntry{
		{Status: domain.StatusFailed, Message: "timeout", Timestamp: time.Now().Add(-30 * time.Minute)},
	}
	src := newScriptSource()
	src.errs["BV2"] = []error{fmt.Errorf("rate limit wait: %v: %w", "would exceed context deadline", context.DeadlineExceeded)}

	result, err := NewFetcher(registryWith(src), nil, WithJitter(fixedJitter(0))).Fetch(context.Background(), FetchRequest{
		TransferPath: writeTransfer(t, workItem("1", "BV1", exportNow), failedBefore, workItem("3", "BV3", exportNow)),
		ResultPath:   filepath.Join(t.TempDir(), "out.json"),
		Tier:         domain.TierHot,
		MaxRetries:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, crawlfile.Counts{Total: 3, Success: 1, Skipped: 2}, result.Counts)
	rec := result.Data[1]
	assert.Equal(t, domain.StatusSkipped, rec.Status)
	assert.True(t, rec.Valid)
	assert.Len(t, rec.Log, 1, "no failure is logged for an item that was never contacted")
	assert.Equal(t, "tier time budget exhausted", rec.Error)
	assert.Equal(t, 1, src.callCount("BV2"))
	assert.Equal(t, 0, src.callCount("BV3"))
}

func TestFetchMissingTransferFile(t *testing.T) {
	t.Parallel()

	_, err := NewFetcher(registryWith(newScriptSource()), nil).Fetch(context.Background(), FetchRequest{
		TransferPath: filepath.Join(t.TempDir(), "missing.json"),
		ResultPath:   filepath.Join(t.TempDir(), "out.json"),
	})
	require.Error(t, err)
}

func TestUniformJitterStaysInRange(t *testing.T) {
	t.Parallel()

	for range 100 {
		d := uniformJitter(time.Second, 3*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
	assert.Equal(t, time.Second, uniformJitter(time.Second, time.Second))
}
