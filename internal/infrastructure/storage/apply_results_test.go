package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
)

const testRunKey = "2024-01-15T08/hot+cold"

var (
	existsSQL   = regexp.QuoteMeta("SELECT EXISTS ( SELECT 1 FROM crawl_runs WHERE run_key = $1 )")
	updateSQL   = `UPDATE work_items SET .+ WHERE id = \$\d+`
	snapshotSQL = regexp.QuoteMeta("INSERT INTO work_metrics_snapshots (work_id,run_key,tier,metrics,crawled_at)")
	runSQL      = regexp.QuoteMeta("INSERT INTO crawl_runs (run_key,record_count,imported_at)")
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresRepository(sqlx.NewDb(db, "postgres")), mock
}

func sampleRecords() []crawlfile.ResultRecord {
	crawled := time.Date(2024, time.January, 15, 8, 2, 0, 0, time.UTC)
	return []crawlfile.ResultRecord{
		{ID: "1", ExternalID: "BV1", Tier: domain.TierHot, Status: domain.StatusSuccess, Valid: true, Metrics: domain.Metrics{"view": 10}, CrawledAt: crawled},
		{ID: "2", ExternalID: "BV2", Tier: domain.TierCold, Status: domain.StatusFailed, Valid: true, CrawledAt: crawled},
	}
}

func TestApplyResultsCommits(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(existsSQL).WithArgs(testRunKey).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(snapshotSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(runSQL).WithArgs(testRunKey, int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := repo.ApplyResults(context.Background(), testRunKey, sampleRecords(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyResultsForceReappliesImportedRun(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(existsSQL).WithArgs(testRunKey).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(snapshotSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(runSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := repo.ApplyResults(context.Background(), testRunKey, sampleRecords(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyResultsAlreadyImportedRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(existsSQL).WithArgs(testRunKey).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	applied, err := repo.ApplyResults(context.Background(), testRunKey, sampleRecords(), false)
	require.ErrorIs(t, err, ports.ErrAlreadyImported)
	assert.Zero(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyResultsExecFailureRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery(existsSQL).WithArgs(testRunKey).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(snapshotSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WillReturnError(boom)
	mock.ExpectRollback()

	applied, err := repo.ApplyResults(context.Background(), testRunKey, sampleRecords(), false)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "update work item 2")
	assert.Zero(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
