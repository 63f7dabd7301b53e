package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
)

const (
	workItemsTable = "work_items"
	snapshotsTable = "work_metrics_snapshots"
	runsTable      = "crawl_runs"
)

// PostgresRepository is the WorkStore backed by Postgres.
type PostgresRepository struct {
	db *sqlx.DB
	qb sq.StatementBuilderType
}

var _ ports.WorkStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires an sqlx.DB implementation.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type workItemRow struct {
	ID          string         `db:"id"`
	Platform    sql.NullString `db:"platform"`
	ExternalID  string         `db:"external_id"`
	Title       sql.NullString `db:"title"`
	PublishedAt sql.NullTime   `db:"published_at"`
	Valid       bool           `db:"is_valid"`
	CrawlLog    []byte         `db:"crawl_log"`
	Metrics     []byte         `db:"metrics"`
}

func (r workItemRow) toDomain() (domain.WorkItem, error) {
	item := domain.WorkItem{
		ID:         r.ID,
		Platform:   r.Platform.String,
		ExternalID: r.ExternalID,
		Title:      r.Title.String,
		Valid:      r.Valid,
	}
	if item.Platform == "" {
		item.Platform = domain.DefaultPlatform
	}
	if r.PublishedAt.Valid {
		item.PublishedAt = r.PublishedAt.Time
	}
	if len(r.CrawlLog) > 0 {
		if err := json.Unmarshal(r.CrawlLog, &item.Log); err != nil {
			return domain.WorkItem{}, fmt.Errorf("decode log of %s: %w", r.ID, err)
		}
	}
	if len(r.Metrics) > 0 {
		if err := json.Unmarshal(r.Metrics, &item.Metrics); err != nil {
			return domain.WorkItem{}, fmt.Errorf("decode metrics of %s: %w", r.ID, err)
		}
	}
	return item, nil
}

// ListValid returns every valid work item ordered by id.
func (r *PostgresRepository) ListValid(ctx context.Context) ([]domain.WorkItem, error) {
	query, args, err := r.listValidQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []workItemRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select work items: %w", err)
	}

	items := make([]domain.WorkItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ApplyResults writes fetched records in one transaction. Without force, a run key
// that was already imported yields ports.ErrAlreadyImported and nothing is written.
func (r *PostgresRepository) ApplyResults(ctx context.Context, runKey string, records []crawlfile.ResultRecord, force bool) (applied int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	existsQuery, existsArgs, err := r.runExistsQuery(runKey).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if err = tx.GetContext(ctx, &exists, existsQuery, existsArgs...); err != nil {
		return 0, fmt.Errorf("check run %s: %w", runKey, err)
	}
	if exists && !force {
		err = ports.ErrAlreadyImported
		return 0, err
	}

	for _, rec := range records {
		update, err := r.itemUpdate(rec)
		if err != nil {
			return 0, err
		}
		if err = execBuilder(ctx, tx, update); err != nil {
			return 0, fmt.Errorf("update work item %s: %w", rec.ID, err)
		}

		if rec.Status != domain.StatusSuccess {
			continue
		}
		snapshot, err := r.snapshotUpsert(runKey, rec)
		if err != nil {
			return 0, err
		}
		if err = execBuilder(ctx, tx, snapshot); err != nil {
			return 0, fmt.Errorf("upsert snapshot %s: %w", rec.ID, err)
		}
		applied++
	}

	if err = execBuilder(ctx, tx, r.runUpsert(runKey, len(records))); err != nil {
		return 0, fmt.Errorf("record run %s: %w", runKey, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

func (r *PostgresRepository) listValidQuery() sq.SelectBuilder {
	return r.qb.
		Select("id", "platform", "external_id", "title", "published_at", "is_valid", "crawl_log", "metrics").
		From(workItemsTable).
		Where(sq.Eq{"is_valid": true}).
		OrderBy("id")
}

func (r *PostgresRepository) runExistsQuery(runKey string) sq.SelectBuilder {
	return r.qb.
		Select("1").
		Prefix("SELECT EXISTS (").
		From(runsTable).
		Where(sq.Eq{"run_key": runKey}).
		Suffix(")")
}

func (r *PostgresRepository) itemUpdate(rec crawlfile.ResultRecord) (sq.UpdateBuilder, error) {
	logJSON, err := json.Marshal(rec.Log)
	if err != nil {
		return sq.UpdateBuilder{}, fmt.Errorf("encode log of %s: %w", rec.ID, err)
	}

	set := map[string]interface{}{
		"is_valid":   rec.Valid,
		"crawl_log":  string(logJSON),
		"updated_at": sq.Expr("NOW()"),
	}
	if rec.Status == domain.StatusSuccess {
		metricsJSON, err := json.Marshal(rec.Metrics)
		if err != nil {
			return sq.UpdateBuilder{}, fmt.Errorf("encode metrics of %s: %w", rec.ID, err)
		}
		set["metrics"] = string(metricsJSON)
		set["last_crawled_at"] = rec.CrawledAt
	}

	return r.qb.Update(workItemsTable).SetMap(set).Where(sq.Eq{"id": rec.ID}), nil
}

func (r *PostgresRepository) snapshotUpsert(runKey string, rec crawlfile.ResultRecord) (sq.InsertBuilder, error) {
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode metrics of %s: %w", rec.ID, err)
	}
	return r.qb.
		Insert(snapshotsTable).
		Columns("work_id", "run_key", "tier", "metrics", "crawled_at").
		Values(rec.ID, runKey, string(rec.Tier), string(metricsJSON), rec.CrawledAt).
		Suffix("ON CONFLICT (work_id, run_key) DO UPDATE SET metrics = EXCLUDED.metrics, tier = EXCLUDED.tier, crawled_at = EXCLUDED.crawled_at"), nil
}

func (r *PostgresRepository) runUpsert(runKey string, records int) sq.InsertBuilder {
	return r.qb.
		Insert(runsTable).
		Columns("run_key", "record_count", "imported_at").
		Values(runKey, records, sq.Expr("NOW()")).
		Suffix("ON CONFLICT (run_key) DO UPDATE SET record_count = EXCLUDED.record_count, imported_at = EXCLUDED.imported_at")
}

func execBuilder(ctx context.Context, tx *sqlx.Tx, builder sq.Sqlizer) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build statement: %w", err)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}
