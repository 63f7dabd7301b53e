package usecase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
)

func writeResult(t *testing.T, dir string, tier domain.Tier, counts crawlfile.Counts, ids ...string) string {
	t.Helper()

	file := crawlfile.ResultFile{SessionID: string(tier), Tier: tier, Counts: counts, DurationSeconds: 1.5}
	for _, id := range ids {
		file.Data = append(file.Data, crawlfile.ResultRecord{ID: id, Tier: tier, Status: domain.StatusSuccess, Valid: true})
	}
	path := filepath.Join(dir, "views_data_"+string(tier)+".json")
	require.NoError(t, crawlfile.WriteJSON(path, file))
	return path
}

func TestMergeSumsCountsHotFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := map[domain.Tier]string{
		domain.TierCold: writeResult(t, dir, domain.TierCold, crawlfile.Counts{Total: 1, Failed: 1}, "c1"),
		domain.TierHot:  writeResult(t, dir, domain.TierHot, crawlfile.Counts{Total: 2, Success: 2}, "h1", "h2"),
	}

	merged := NewMerger(nil).Merge(paths)
	require.NotNil(t, merged)

	assert.Equal(t, crawlfile.Counts{Total: 3, Success: 2, Failed: 1}, merged.Counts)
	assert.Equal(t, []domain.Tier{domain.TierHot, domain.TierCold}, merged.Tiers)
	assert.InDelta(t, 3.0, merged.DurationSeconds, 1e-9)
	require.Len(t, merged.Data, 3)
	assert.Equal(t, "h1", merged.Data[0].ID)
	assert.Equal(t, "c1", merged.Data[2].ID)
}

func TestMergeSkipsMissingAndCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))

	merged := NewMerger(nil).Merge(map[domain.Tier]string{
		domain.TierHot:  writeResult(t, dir, domain.TierHot, crawlfile.Counts{Total: 2, Success: 2}, "h1", "h2"),
		domain.TierCold: corrupt,
		domain.TierAll:  filepath.Join(dir, "absent.json"),
	})
	require.NotNil(t, merged)
	assert.Equal(t, 2, merged.Total)
	assert.Equal(t, []domain.Tier{domain.TierHot}, merged.Tiers)
}

func TestMergeNothingUsable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Nil(t, NewMerger(nil).Merge(nil))
	assert.Nil(t, NewMerger(nil).Merge(map[domain.Tier]string{domain.TierHot: filepath.Join(dir, "gone.json")}))
}
