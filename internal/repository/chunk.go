package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/pagination"
	"github.com/swoopinfo/swoopkb/internal/service"
)

const chunkColumns = `id, vehicle_key, content_id, chunk_type, title, content_text, data, sources,
	source_confidence, qa_status, qa_notes, qa_pass_count, last_qa_reviewed_at, last_qa_passed_at,
	verified_status, verified_at, failed_at, promotion_count, regeneration_attempts, regenerated_at,
	created_at, updated_at`

// ChunkRepository handles persistence of knowledge chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Get retrieves the single live chunk for an identity triple.
func (r *ChunkRepository) Get(ctx context.Context, key domain.ChunkKey) (*domain.Chunk, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+chunkColumns+`
		 FROM chunks WHERE vehicle_key = $1 AND content_id = $2 AND chunk_type = $3`,
		key.VehicleKey, key.ContentID, key.ChunkType,
	)
	return scanChunk(row)
}

// GetByID retrieves a chunk by its row ID.
func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = $1`,
		id,
	)
	return scanChunk(row)
}

// CreateStub inserts a quarantined stub row. The unique constraint on
// (vehicle_key, content_id, chunk_type) is the authoritative dedup: a losing
// concurrent creator gets ErrChunkAlreadyExists and must re-read instead.
func (r *ChunkRepository) CreateStub(ctx context.Context, c *domain.Chunk) error {
	if err := domain.ValidateChunk(c); err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO chunks
			(id, vehicle_key, content_id, chunk_type, title, content_text, data, sources,
			 source_confidence, qa_status, verified_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (vehicle_key, content_id, chunk_type) DO NOTHING`,
		c.ID, c.VehicleKey, c.ContentID, c.ChunkType, c.Title, c.ContentText, c.Data, c.Sources,
		c.SourceConfidence, c.QAStatus, c.VerifiedStatus, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkAlreadyExists
	}
	return nil
}

// UpdateContent replaces the generated content fields after a (re)generation.
func (r *ChunkRepository) UpdateContent(ctx context.Context, id string, title, contentText string, data map[string]interface{}, sources []string, sourceConfidence float64, regeneratedAt *time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks
		 SET title = $1, content_text = $2, data = $3, sources = $4, source_confidence = $5,
		     regenerated_at = COALESCE($6, regenerated_at), updated_at = $7
		 WHERE id = $8`,
		title, contentText, data, sources, sourceConfidence, regeneratedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// UpdateTrust applies a promoter fieldset atomically and bumps updated_at.
func (r *ChunkRepository) UpdateTrust(ctx context.Context, id string, u service.TrustUpdate) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks
		 SET qa_status = $1,
		     qa_notes = $2,
		     qa_pass_count = COALESCE($3, qa_pass_count),
		     last_qa_reviewed_at = COALESCE($4, last_qa_reviewed_at),
		     last_qa_passed_at = COALESCE($5, last_qa_passed_at),
		     verified_status = COALESCE($6, verified_status),
		     verified_at = COALESCE($7, verified_at),
		     failed_at = COALESCE($8, failed_at),
		     promotion_count = COALESCE($9, promotion_count),
		     regeneration_attempts = COALESCE($10, regeneration_attempts),
		     updated_at = $11
		 WHERE id = $12`,
		u.QAStatus, nullableString(u.QANotes), u.QAPassCount, u.LastQAReviewedAt, u.LastQAPassedAt,
		u.VerifiedStatus, u.VerifiedAt, u.FailedAt, u.PromotionCount, u.RegenerationAttempts,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// UpdateEmbedding stores the content embedding used for reuse lookups.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// Unban is the operator override out of the banned state. The chunk returns
// to a clean quarantined stub state and gets a fresh attempt budget.
func (r *ChunkRepository) Unban(ctx context.Context, id string) (*domain.Chunk, error) {
	chunk, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if chunk.VerifiedStatus != domain.VerifiedStatusBanned {
		return nil, domain.ErrChunkNotBanned
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks
		 SET verified_status = $1, qa_status = $2, qa_notes = $3,
		     regeneration_attempts = 0, failed_at = NULL, updated_at = $4
		 WHERE id = $5`,
		domain.VerifiedStatusUnverified, domain.QAStatusPending, "operator override: ban lifted",
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, err
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, domain.ErrChunkNotFound
	}
	return r.GetByID(ctx, id)
}

// ListDueForReview selects chunks eligible for the daily QA sweep: trusted
// rows past first generation, reviewed longer ago than the cutoff, with no
// generation still in flight for the same key.
func (r *ChunkRepository) ListDueForReview(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`
		 FROM chunks c
		 WHERE c.verified_status IN ($1, $2)
		   AND c.qa_status <> $3
		   AND (c.last_qa_reviewed_at IS NULL OR c.last_qa_reviewed_at < $4)
		   AND NOT EXISTS (
		       SELECT 1 FROM generation_jobs j
		       WHERE j.vehicle_key = c.vehicle_key
		         AND j.content_id = c.content_id
		         AND j.chunk_type = c.chunk_type
		         AND j.status IN ('pending', 'processing')
		   )
		 ORDER BY c.last_qa_reviewed_at ASC NULLS FIRST
		 LIMIT $5`,
		domain.VerifiedStatusCandidate, domain.VerifiedStatusVerified, domain.QAStatusPending,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// FindNearest returns safe chunks of the same vehicle and type ordered by
// cosine distance to the query embedding.
func (r *ChunkRepository) FindNearest(ctx context.Context, vehicleKey string, chunkType domain.ChunkType, embedding []float32, limit int) ([]*service.ChunkMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`, embedding <=> $6 AS distance
		 FROM chunks
		 WHERE vehicle_key = $1 AND chunk_type = $2
		   AND qa_status = $3 AND verified_status IN ($4, $5)
		   AND embedding IS NOT NULL
		 ORDER BY distance
		 LIMIT $7`,
		vehicleKey, chunkType, domain.QAStatusPass,
		domain.VerifiedStatusCandidate, domain.VerifiedStatusVerified,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*service.ChunkMatch
	for rows.Next() {
		var c domain.Chunk
		var qaNotes pgtype.Text
		var distance float64
		if err := rows.Scan(
			&c.ID, &c.VehicleKey, &c.ContentID, &c.ChunkType, &c.Title, &c.ContentText, &c.Data, &c.Sources,
			&c.SourceConfidence, &c.QAStatus, &qaNotes, &c.QAPassCount, &c.LastQAReviewedAt, &c.LastQAPassedAt,
			&c.VerifiedStatus, &c.VerifiedAt, &c.FailedAt, &c.PromotionCount, &c.RegenerationAttempts, &c.RegeneratedAt,
			&c.CreatedAt, &c.UpdatedAt, &distance,
		); err != nil {
			return nil, err
		}
		if qaNotes.Valid {
			c.QANotes = qaNotes.String
		}
		matches = append(matches, &service.ChunkMatch{Chunk: &c, Distance: distance})
	}
	return matches, rows.Err()
}

// ListByVehicleWithCursor pages through all chunks for a vehicle, newest first.
func (r *ChunkRepository) ListByVehicleWithCursor(ctx context.Context, vehicleKey string, cursor *pagination.Cursor, limit int) (*service.ChunkPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+chunkColumns+`
			 FROM chunks
			 WHERE vehicle_key = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			vehicleKey, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+chunkColumns+`
			 FROM chunks
			 WHERE vehicle_key = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			vehicleKey, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanChunkRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.ChunkPageResult{Items: items, NextCursor: nextCursor, HasMore: hasMore}, nil
}

func scanChunk(row pgx.Row) (*domain.Chunk, error) {
	var c domain.Chunk
	var qaNotes pgtype.Text
	err := row.Scan(
		&c.ID, &c.VehicleKey, &c.ContentID, &c.ChunkType, &c.Title, &c.ContentText, &c.Data, &c.Sources,
		&c.SourceConfidence, &c.QAStatus, &qaNotes, &c.QAPassCount, &c.LastQAReviewedAt, &c.LastQAPassedAt,
		&c.VerifiedStatus, &c.VerifiedAt, &c.FailedAt, &c.PromotionCount, &c.RegenerationAttempts, &c.RegeneratedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	if qaNotes.Valid {
		c.QANotes = qaNotes.String
	}
	return &c, nil
}

func scanChunkRows(rows pgx.Rows) ([]*domain.Chunk, error) {
	var results []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var qaNotes pgtype.Text
		if err := rows.Scan(
			&c.ID, &c.VehicleKey, &c.ContentID, &c.ChunkType, &c.Title, &c.ContentText, &c.Data, &c.Sources,
			&c.SourceConfidence, &c.QAStatus, &qaNotes, &c.QAPassCount, &c.LastQAReviewedAt, &c.LastQAPassedAt,
			&c.VerifiedStatus, &c.VerifiedAt, &c.FailedAt, &c.PromotionCount, &c.RegenerationAttempts, &c.RegeneratedAt,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if qaNotes.Valid {
			c.QANotes = qaNotes.String
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}
