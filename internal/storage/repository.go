package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"market-intel/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const (
	getItemSQL = `SELECT
        id,
        title,
        current_price::text,
        market_data
    FROM catalog_items
    WHERE id = $1;`

	// The snapshot field group is replaced in one statement; the checked_at
	// guard makes it a compare-and-swap against concurrent writers.
	updateSnapshotSQL = `UPDATE catalog_items
    SET market_data       = $2,
        price_flag        = $3,
        market_checked_at = $4,
        updated_at        = now()
    WHERE id = $1
      AND (market_checked_at IS NULL OR market_checked_at < $4);`

	itemExistsSQL = `SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1);`

	listStalestItemIDsSQL = `SELECT id
    FROM catalog_items
    WHERE market_checked_at IS NULL
       OR market_checked_at <= $1
    ORDER BY market_checked_at NULLS FIRST, id
    LIMIT $2;`

	listItemIDsSQL = `SELECT id FROM catalog_items ORDER BY id LIMIT $1;`

	insertRunSQL = `INSERT INTO reconcile_runs (
        id,
        trigger,
        started_at,
        finished_at,
        total,
        succeeded,
        failed,
        not_attempted,
        refreshed,
        cancelled
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	insertOutcomeSQL = `INSERT INTO reconcile_outcomes (
        run_id,
        position,
        item_id,
        status,
        refreshed,
        average_sold_price,
        suggested_price,
        sample_size,
        flag_status,
        flag_pct,
        error,
        checked_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    );`

	listRecentRunsSQL = `SELECT
        id::text,
        trigger,
        started_at,
        finished_at,
        total,
        succeeded,
        failed,
        not_attempted,
        refreshed,
        cancelled
    FROM reconcile_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	latestRunIDSQL = `SELECT id::text FROM reconcile_runs ORDER BY started_at DESC LIMIT 1;`

	listRunOutcomesSQL = `SELECT
        run_id::text,
        position,
        item_id,
        status,
        refreshed,
        average_sold_price::text,
        suggested_price::text,
        sample_size,
        flag_status,
        flag_pct,
        error,
        checked_at
    FROM reconcile_outcomes
    WHERE run_id = $1
    ORDER BY position;`

	deleteRunsBeforeSQL = `DELETE FROM reconcile_runs WHERE started_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CatalogStore exposes the catalog fields the pricing engine owns.
type CatalogStore interface {
	GetItem(ctx context.Context, id string) (market.CatalogItemRef, error)
	UpdateSnapshotAndFlag(ctx context.Context, id string, snap market.Snapshot, flag market.PriceFlag) error
	ListStalestItemIDs(ctx context.Context, checkedBefore time.Time, limit int) ([]string, error)
	ListItemIDs(ctx context.Context, limit int) ([]string, error)
}

// RunStore defines operations for batch report persistence.
type RunStore interface {
	SaveRun(ctx context.Context, trigger string, report market.Report) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	LatestRunID(ctx context.Context) (string, error)
	ListRunOutcomes(ctx context.Context, runID string) ([]OutcomeRecord, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to catalog pricing fields and run reports.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies the schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock also dies with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// GetItem loads the pricing view of a catalog item.
func (s *Store) GetItem(ctx context.Context, id string) (market.CatalogItemRef, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.CatalogItemRef{}, err
	}

	var (
		item       market.CatalogItemRef
		priceStr   string
		marketData []byte
	)
	if scanErr := pool.QueryRow(ctx, getItemSQL, id).Scan(&item.ID, &item.Title, &priceStr, &marketData); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return market.CatalogItemRef{}, fmt.Errorf("item %s: %w", id, market.ErrItemNotFound)
		}
		return market.CatalogItemRef{}, fmt.Errorf("get item: %w", scanErr)
	}

	item.CurrentPrice, err = decimal.NewFromString(priceStr)
	if err != nil {
		return market.CatalogItemRef{}, fmt.Errorf("parse current price: %w", err)
	}

	if len(marketData) > 0 {
		var snap market.Snapshot
		if err := json.Unmarshal(marketData, &snap); err != nil {
			return market.CatalogItemRef{}, fmt.Errorf("decode market data: %w", err)
		}
		item.Snapshot = &snap
	}
	return item, nil
}

// UpdateSnapshotAndFlag replaces the snapshot and flag of an item in one
// statement. It fails with market.ErrWriteConflict when the stored snapshot is
// not older than snap.
func (s *Store) UpdateSnapshotAndFlag(ctx context.Context, id string, snap market.Snapshot, flag market.PriceFlag) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode market data: %w", err)
	}
	flagJSON, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode price flag: %w", err)
	}

	cmdTag, execErr := pool.Exec(ctx, updateSnapshotSQL, id, snapJSON, flagJSON, snap.LastCheckedAt)
	if execErr != nil {
		return fmt.Errorf("update snapshot: %w", execErr)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if scanErr := pool.QueryRow(ctx, itemExistsSQL, id).Scan(&exists); scanErr != nil {
		return fmt.Errorf("check item: %w", scanErr)
	}
	if !exists {
		return fmt.Errorf("item %s: %w", id, market.ErrItemNotFound)
	}
	return fmt.Errorf("item %s: %w", id, market.ErrWriteConflict)
}

// ListStalestItemIDs lists items never checked or last checked at or before
// checkedBefore, oldest first.
func (s *Store) ListStalestItemIDs(ctx context.Context, checkedBefore time.Time, limit int) ([]string, error) {
	return s.listIDs(ctx, "list stalest items", listStalestItemIDsSQL, checkedBefore, limit)
}

// ListItemIDs lists catalog item ids ordered by id.
func (s *Store) ListItemIDs(ctx context.Context, limit int) ([]string, error) {
	return s.listIDs(ctx, "list items", listItemIDsSQL, limit)
}

func (s *Store) listIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	ids, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
	if collectErr != nil {
		return nil, fmt.Errorf("%s: %w", op, collectErr)
	}
	return ids, nil
}

// SaveRun persists a run summary and all of its outcomes in one transaction.
func (s *Store) SaveRun(ctx context.Context, trigger string, report market.Report) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRunSQL,
			report.RunID,
			trigger,
			report.StartedAt,
			report.FinishedAt,
			len(report.Outcomes),
			report.Succeeded,
			report.Failed,
			report.NotAttempted,
			report.Refreshed,
			report.Cancelled,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if len(report.Outcomes) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, out := range report.Outcomes {
			batch.Queue(insertOutcomeSQL, outcomeArgs(report.RunID, i, out)...)
		}

		results := tx.SendBatch(ctx, batch)
		for range report.Outcomes {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		return results.Close()
	})
}

func outcomeArgs(runID string, position int, out market.Outcome) []any {
	var (
		avg, suggested, sampleSize, checkedAt any
		flagStatus, flagPct, errMsg           any
	)
	if out.Snapshot != nil {
		avg = out.Snapshot.AverageSoldPrice.String()
		suggested = out.Snapshot.SuggestedPrice.String()
		sampleSize = out.Snapshot.SampleSize
		checkedAt = out.Snapshot.LastCheckedAt
	}
	if out.Flag != nil {
		flagStatus = string(out.Flag.Status)
		flagPct = out.Flag.Percentage
	}
	if out.Error != "" {
		errMsg = out.Error
	}
	return []any{
		runID,
		position,
		out.ItemID,
		string(out.Status),
		out.Refreshed,
		avg,
		suggested,
		sampleSize,
		flagStatus,
		flagPct,
		errMsg,
		checkedAt,
	}
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var run RunRecord
		if err := rows.Scan(
			&run.ID,
			&run.Trigger,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Total,
			&run.Succeeded,
			&run.Failed,
			&run.NotAttempted,
			&run.Refreshed,
			&run.Cancelled,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// LatestRunID returns the id of the most recent run.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}
	var id string
	if scanErr := pool.QueryRow(ctx, latestRunIDSQL).Scan(&id); scanErr != nil {
		return "", fmt.Errorf("latest run: %w", scanErr)
	}
	return id, nil
}

// ListRunOutcomes lists the outcomes of a run in input order.
func (s *Store) ListRunOutcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunOutcomesSQL, runID)
	if queryErr != nil {
		return nil, fmt.Errorf("list run outcomes: %w", queryErr)
	}
	defer rows.Close()

	outcomes := make([]OutcomeRecord, 0)
	for rows.Next() {
		rec, scanErr := scanOutcome(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		outcomes = append(outcomes, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return outcomes, nil
}

// DeleteRunsBefore deletes historical runs and their outcomes.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete runs before: %w", execErr)
	}
	return nil
}

func scanOutcome(rows pgx.Rows) (OutcomeRecord, error) {
	var (
		rec          OutcomeRecord
		avgStr       sql.NullString
		suggestedStr sql.NullString
		sampleSize   sql.NullInt32
		flagStatus   sql.NullString
		flagPct      sql.NullInt64
		errMsg       sql.NullString
		checkedAt    sql.NullTime
	)

	if err := rows.Scan(
		&rec.RunID,
		&rec.Position,
		&rec.ItemID,
		&rec.Status,
		&rec.Refreshed,
		&avgStr,
		&suggestedStr,
		&sampleSize,
		&flagStatus,
		&flagPct,
		&errMsg,
		&checkedAt,
	); err != nil {
		return OutcomeRecord{}, err
	}

	if avgStr.Valid {
		avg, err := decimal.NewFromString(avgStr.String)
		if err != nil {
			return OutcomeRecord{}, fmt.Errorf("parse average sold price: %w", err)
		}
		rec.AverageSoldPrice = &avg
	}
	if suggestedStr.Valid {
		suggested, err := decimal.NewFromString(suggestedStr.String)
		if err != nil {
			return OutcomeRecord{}, fmt.Errorf("parse suggested price: %w", err)
		}
		rec.SuggestedPrice = &suggested
	}
	if sampleSize.Valid {
		n := int(sampleSize.Int32)
		rec.SampleSize = &n
	}
	if flagStatus.Valid {
		status := flagStatus.String
		rec.FlagStatus = &status
	}
	if flagPct.Valid {
		pct := flagPct.Int64
		rec.FlagPct = &pct
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	if checkedAt.Valid {
		ts := checkedAt.Time
		rec.CheckedAt = &ts
	}
	return rec, nil
}

var (
	_ CatalogStore   = (*Store)(nil)
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
