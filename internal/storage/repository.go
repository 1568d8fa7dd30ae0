package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createRefreshRunsSQL = `CREATE TABLE IF NOT EXISTS refresh_runs (
        id          UUID PRIMARY KEY,
        kind        TEXT NOT NULL,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ,
        total       INTEGER NOT NULL DEFAULT 0,
        updated     INTEGER NOT NULL DEFAULT 0,
        errors      INTEGER NOT NULL DEFAULT 0,
        skipped     INTEGER NOT NULL DEFAULT 0,
        status      TEXT NOT NULL,
        error       TEXT
    );`

	insertRunSQL = `INSERT INTO refresh_runs (
        id,
        kind,
        started_at,
        status
    ) VALUES (
        $1,$2,$3,$4
    );`

	finishRunSQL = `UPDATE refresh_runs
    SET
        finished_at = $2,
        total       = $3,
        updated     = $4,
        errors      = $5,
        skipped     = $6,
        status      = $7,
        error       = $8
    WHERE id = $1;`

	listRecentRunsSQL = `SELECT
        id,
        kind,
        started_at,
        finished_at,
        total,
        updated,
        errors,
        skipped,
        status,
        error
    FROM refresh_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunRecorder keeps an audit trail of batch refreshes.
type RunRecorder interface {
	StartRun(ctx context.Context, kind string, startedAt time.Time) (RefreshRun, error)
	FinishRun(ctx context.Context, run RefreshRun) error
	ListRecentRuns(ctx context.Context, limit int) ([]RefreshRun, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store records refresh runs in PostgreSQL and coordinates refreshers.
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

// EnsureSchema creates the ledger table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createRefreshRunsSQL); err != nil {
		return fmt.Errorf("create refresh_runs: %w", err)
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
		// the session lock also goes away when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// StartRun inserts a running row with a fresh id.
func (s *Store) StartRun(ctx context.Context, kind string, startedAt time.Time) (RefreshRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return RefreshRun{}, err
	}

	run := RefreshRun{
		ID:        uuid.New(),
		Kind:      kind,
		StartedAt: startedAt.UTC(),
		Status:    "running",
	}
	if _, err := pool.Exec(ctx, insertRunSQL, run.ID, run.Kind, run.StartedAt, run.Status); err != nil {
		return RefreshRun{}, fmt.Errorf("insert refresh run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run RefreshRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	tag, execErr := pool.Exec(ctx, finishRunSQL,
		run.ID,
		run.FinishedAt,
		run.Total,
		run.Updated,
		run.Errors,
		run.Skipped,
		run.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("finish refresh run: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentRuns lists the latest runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RefreshRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RefreshRun, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRun(rows pgx.Rows) (RefreshRun, error) {
	var (
		run      RefreshRun
		finished sql.NullTime
		errMsg   sql.NullString
	)
	if err := rows.Scan(
		&run.ID,
		&run.Kind,
		&run.StartedAt,
		&finished,
		&run.Total,
		&run.Updated,
		&run.Errors,
		&run.Skipped,
		&run.Status,
		&errMsg,
	); err != nil {
		return RefreshRun{}, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}
	return run, nil
}

var (
	_ RunRecorder    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
