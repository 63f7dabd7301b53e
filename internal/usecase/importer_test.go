package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
)

func mergedOf(ids ...string) *crawlfile.MergedResult {
	merged := &crawlfile.MergedResult{Counts: crawlfile.Counts{Total: len(ids), Success: len(ids)}}
	for _, id := range ids {
		merged.Data = append(merged.Data, crawlfile.ResultRecord{ID: id, Status: domain.StatusSuccess, Valid: true})
	}
	return merged
}

func TestImportIsIdempotentPerRunKey(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	importer := NewImporter(store, nil)
	ctx := context.Background()

	first, err := importer.Import(ctx, mergedOf("1", "2"), "2024-05-01T08/hot", false)
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Applied: 2}, first)

	second, err := importer.Import(ctx, mergedOf("1", "2"), "2024-05-01T08/hot", false)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Len(t, store.imported["2024-05-01T08/hot"], 2)

	forced, err := importer.Import(ctx, mergedOf("1"), "2024-05-01T08/hot", true)
	require.NoError(t, err)
	assert.Equal(t, 1, forced.Applied)
}

func TestImportEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	importer := NewImporter(store, nil)

	summary, err := importer.Import(context.Background(), nil, "k", false)
	require.NoError(t, err)
	assert.Zero(t, summary)

	_, err = importer.Import(context.Background(), &crawlfile.MergedResult{}, "k", false)
	require.NoError(t, err)
	assert.Zero(t, store.calls)
}

func TestImportStoreFailure(t *testing.T) {
	t.Parallel()

	store := &memStore{applyErr: errors.New("serialization failure")}
	_, err := NewImporter(store, nil).Import(context.Background(), mergedOf("1"), "k", false)
	require.ErrorContains(t, err, "serialization failure")
	require.ErrorContains(t, err, "apply results for k")
}

func TestImportResultAcceptsLegacyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "views_data.json")
	require.NoError(t, crawlfile.WriteJSON(path, crawlfile.ResultFile{
		Counts: crawlfile.Counts{Total: 1, Success: 1},
		Data:   []crawlfile.ResultRecord{{ID: "7", Status: domain.StatusSuccess, Valid: true}},
	}))

	file, err := crawlfile.ReadResult(path)
	require.NoError(t, err)

	store := &memStore{}
	summary, err := NewImporter(store, nil).ImportResult(context.Background(), file, "manual", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, "7", store.imported["manual"][0].ID)
}
