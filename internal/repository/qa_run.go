package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swoopinfo/swoopkb/internal/domain"
)

type QARunRepository struct {
	db dbtx
}

func NewQARunRepository(pool *pgxpool.Pool) *QARunRepository {
	return &QARunRepository{db: pool}
}

func NewQARunRepositoryWithTx(tx pgx.Tx) *QARunRepository {
	return &QARunRepository{db: tx}
}

// Create persists a finished QA sweep summary. Rows are immutable once written.
func (r *QARunRepository) Create(ctx context.Context, run *domain.QARun) error {
	if run.ID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "qa run ID is required")
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO qa_runs (id, started_at, finished_at, examined, passed, failed, repaired, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Examined, run.Passed, run.Failed, run.Repaired,
		nullableString(run.Notes),
	)
	return err
}

// GetLatest returns the most recently finished sweep.
func (r *QARunRepository) GetLatest(ctx context.Context) (*domain.QARun, error) {
	var run domain.QARun
	var notes pgtype.Text
	err := r.db.QueryRow(ctx,
		`SELECT id, started_at, finished_at, examined, passed, failed, repaired, notes
		 FROM qa_runs
		 ORDER BY finished_at DESC
		 LIMIT 1`,
	).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Examined, &run.Passed, &run.Failed,
		&run.Repaired, &notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQARunNotFound
		}
		return nil, err
	}
	if notes.Valid {
		run.Notes = notes.String
	}
	return &run, nil
}

// ListRecent returns up to limit sweeps, newest first.
func (r *QARunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.QARun, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, started_at, finished_at, examined, passed, failed, repaired, notes
		 FROM qa_runs
		 ORDER BY finished_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.QARun
	for rows.Next() {
		var run domain.QARun
		var notes pgtype.Text
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Examined, &run.Passed,
			&run.Failed, &run.Repaired, &notes); err != nil {
			return nil, err
		}
		if notes.Valid {
			run.Notes = notes.String
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
