package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swoopinfo/swoopkb/internal/domain"
)

type GenerationJobRepository struct {
	db dbtx
}

func NewGenerationJobRepository(pool *pgxpool.Pool) *GenerationJobRepository {
	return &GenerationJobRepository{db: pool}
}

func NewGenerationJobRepositoryWithTx(tx pgx.Tx) *GenerationJobRepository {
	return &GenerationJobRepository{db: tx}
}

// Enqueue inserts a pending job for a chunk key. The partial unique index on
// live jobs keeps at most one pending/processing job per key; a duplicate
// enqueue is reported as ErrJobAlreadyInFlight and is safe to ignore.
func (r *GenerationJobRepository) Enqueue(ctx context.Context, job *domain.GenerationJob) error {
	if err := domain.ValidateGenerationJob(job); err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO generation_jobs
			(id, vehicle_key, content_id, chunk_type, status, attempt, repair_hint, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (vehicle_key, content_id, chunk_type) WHERE status IN ('pending', 'processing') DO NOTHING`,
		job.ID, job.VehicleKey, job.ContentID, job.ChunkType, job.Status, job.Attempt,
		nullableString(job.RepairHint), nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobAlreadyInFlight
	}
	return nil
}

// ClaimPending atomically moves a batch of pending jobs to processing and
// returns them. SKIP LOCKED keeps concurrent workers from double-claiming.
func (r *GenerationJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM generation_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE generation_jobs
		 SET status = $3,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE generation_jobs.id = cte.id
		 RETURNING generation_jobs.id, generation_jobs.vehicle_key, generation_jobs.content_id,
		           generation_jobs.chunk_type, generation_jobs.status, generation_jobs.attempt,
		           generation_jobs.repair_hint, generation_jobs.error, generation_jobs.created_at,
		           generation_jobs.processed_at`,
		domain.GenerationJobStatusPending, limit, domain.GenerationJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanGenerationJobRows(rows)
}

// UpdateStatus finalizes a claimed job.
func (r *GenerationJobRepository) UpdateStatus(ctx context.Context, id string, status domain.GenerationJobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.GenerationJobStatusCompleted || status == domain.GenerationJobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrGenerationJobNotFound
	}
	return nil
}

// InFlight reports whether a pending or processing job exists for the key.
func (r *GenerationJobRepository) InFlight(ctx context.Context, key domain.ChunkKey) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			 SELECT 1 FROM generation_jobs
			 WHERE vehicle_key = $1 AND content_id = $2 AND chunk_type = $3
			   AND status IN ($4, $5)
		 )`,
		key.VehicleKey, key.ContentID, key.ChunkType,
		domain.GenerationJobStatusPending, domain.GenerationJobStatusProcessing,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CountForVehicleSince counts jobs created for a vehicle after the given
// instant. Used for the per-vehicle daily generation limit.
func (r *GenerationJobRepository) CountForVehicleSince(ctx context.Context, vehicleKey string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM generation_jobs WHERE vehicle_key = $1 AND created_at >= $2`,
		vehicleKey, since,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetByID retrieves a generation job by ID.
func (r *GenerationJobRepository) GetByID(ctx context.Context, id string) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var repairHint, errMsg pgtype.Text
	err := r.db.QueryRow(ctx,
		`SELECT id, vehicle_key, content_id, chunk_type, status, attempt, repair_hint, error, created_at, processed_at
		 FROM generation_jobs WHERE id = $1`,
		id,
	).Scan(&job.ID, &job.VehicleKey, &job.ContentID, &job.ChunkType, &job.Status, &job.Attempt,
		&repairHint, &errMsg, &job.CreatedAt, &job.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGenerationJobNotFound
		}
		return nil, err
	}
	if repairHint.Valid {
		job.RepairHint = repairHint.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}

func scanGenerationJobRows(rows pgx.Rows) ([]*domain.GenerationJob, error) {
	var jobs []*domain.GenerationJob
	for rows.Next() {
		var job domain.GenerationJob
		var repairHint, errMsg pgtype.Text
		if err := rows.Scan(&job.ID, &job.VehicleKey, &job.ContentID, &job.ChunkType, &job.Status,
			&job.Attempt, &repairHint, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
			return nil, err
		}
		if repairHint.Valid {
			job.RepairHint = repairHint.String
		}
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
