package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Runs ---

const runColumns = `id, job_id, status, started_at, finished_at, final_percent, created_at, updated_at`

func scanRun(row pgx.Row) (*models.Run, error) {
	var r models.Run
	err := row.Scan(&r.ID, &r.JobID, &r.Status, &r.StartedAt, &r.FinishedAt, &r.FinalPercent,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_runs (id, job_id, status, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.JobID, run.Status, run.StartedAt, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM training_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) LatestRun(ctx context.Context, jobID string) (*models.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM training_runs WHERE job_id = $1
		 ORDER BY started_at DESC LIMIT 1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// FinishRun moves a running run to status. Runs already finished are left
// untouched and reported as ErrNotFound.
func (s *PostgresStore) FinishRun(ctx context.Context, id uuid.UUID, status string, opts ...RunFinishOption) error {
	params := &runFinishParams{}
	for _, opt := range opts {
		opt(params)
	}
	finishedAt := time.Now().UTC()
	if params.FinishedAt != nil {
		finishedAt = *params.FinishedAt
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE training_runs
		 SET status = $2, finished_at = $3, final_percent = COALESCE($4, final_percent), updated_at = NOW()
		 WHERE id = $1 AND finished_at IS NULL`,
		id, status, finishedAt, params.FinalPercent)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Snapshots ---

func (s *PostgresStore) AppendSnapshot(ctx context.Context, snap *models.Snapshot) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO progress_snapshots (run_id, percent, description, reported_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		snap.RunID, snap.Percent, snap.Description, snap.ReportedAt,
	).Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots of a run, newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, runID uuid.UUID, limit int) ([]*models.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, percent, description, reported_at, created_at
		 FROM progress_snapshots WHERE run_id = $1 ORDER BY id DESC LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*models.Snapshot{}
	for rows.Next() {
		var sn models.Snapshot
		if err := rows.Scan(&sn.ID, &sn.RunID, &sn.Percent, &sn.Description, &sn.ReportedAt, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, &sn)
	}
	return snaps, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503" // foreign_key_violation
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
