package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/telemetry"
)

// DefaultGenerationTimeout bounds a single generator call. A generator that
// exceeds it produces a fail verdict, consuming one repair attempt.
const DefaultGenerationTimeout = 90 * time.Second

// reuseDistanceThreshold is the maximum cosine distance at which an existing
// safe chunk's content is copied instead of calling the generator.
const reuseDistanceThreshold = 0.05

// GenerationRequest is the input to one generator invocation.
type GenerationRequest struct {
	VehicleKey string
	ContentID  string
	ChunkType  domain.ChunkType
	Attempt    int
	RepairHint string
}

// GenerationResult is the structured content a generator produces.
type GenerationResult struct {
	Title            string
	ContentText      string
	Data             map[string]interface{}
	Sources          []string
	SourceConfidence float64
}

// ContentGenerator produces chunk content. Implemented by the openrouter
// client.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// EmbeddingClient produces vector embeddings for chunk content.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DiagramStore persists SVG diagram payloads outside the row store and
// returns a retrievable URL.
type DiagramStore interface {
	Upload(ctx context.Context, key string, svg []byte) (string, error)
}

// GenerationService executes one generation job end to end: produce content,
// persist it, finalize the job, and run the QA verdict through the promoter.
type GenerationService struct {
	chunkRepo ChunkRepositoryInterface
	jobRepo   GenerationJobRepositoryInterface
	generator ContentGenerator
	embedder  EmbeddingClient
	diagrams  DiagramStore
	qa        *QAService
	promoter  *PromoterService
	timeout   time.Duration
}

// NewGenerationService creates a new GenerationService instance. embedder and
// diagrams are optional.
func NewGenerationService(
	chunkRepo ChunkRepositoryInterface,
	jobRepo GenerationJobRepositoryInterface,
	generator ContentGenerator,
	embedder EmbeddingClient,
	diagrams DiagramStore,
	qa *QAService,
	promoter *PromoterService,
	timeout time.Duration,
) *GenerationService {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &GenerationService{
		chunkRepo: chunkRepo,
		jobRepo:   jobRepo,
		generator: generator,
		embedder:  embedder,
		diagrams:  diagrams,
		qa:        qa,
		promoter:  promoter,
		timeout:   timeout,
	}
}

// ProcessJob runs a claimed generation job to completion. It owns the job's
// final status: the caller must not update the job after ProcessJob returns.
func (s *GenerationService) ProcessJob(ctx context.Context, job *domain.GenerationJob) error {
	ctx, span := telemetry.StartSpan(ctx, "GenerationService.ProcessJob", telemetry.SpanAttributes{
		VehicleKey: job.VehicleKey,
		ContentID:  job.ContentID,
		ChunkType:  string(job.ChunkType),
		Operation:  "generate",
	})
	defer span.End()

	key := domain.ChunkKey{VehicleKey: job.VehicleKey, ContentID: job.ContentID, ChunkType: job.ChunkType}
	chunk, err := s.chunkRepo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrChunkNotFound) {
			// Stub was removed out from under the job. Nothing to generate into.
			return s.jobRepo.UpdateStatus(ctx, job.ID, domain.GenerationJobStatusFailed, "chunk stub no longer exists")
		}
		return wrapStoreError(err)
	}

	if chunk.VerifiedStatus == domain.VerifiedStatusBanned {
		// An operator ban landed between enqueue and claim.
		return s.jobRepo.UpdateStatus(ctx, job.ID, domain.GenerationJobStatusCompleted, "skipped: chunk is banned")
	}

	result, genErr := s.produce(ctx, chunk, job)
	if genErr != nil {
		// The failed attempt is charged against the chunk's repair budget.
		// Finalize the job first so the promoter can schedule a retry without
		// colliding with this job's in-flight slot.
		if err := s.jobRepo.UpdateStatus(ctx, job.ID, domain.GenerationJobStatusFailed, genErr.Error()); err != nil {
			return wrapStoreError(err)
		}
		verdict := &Verdict{
			Status:     domain.QAStatusFail,
			Notes:      fmt.Sprintf("generation failed: %v", genErr),
			RepairHint: job.RepairHint,
		}
		_, err := s.promoter.Apply(ctx, chunk.ID, verdict)
		return err
	}

	regeneratedAt := time.Now().UTC()
	var regenPtr *time.Time
	if job.Attempt > 0 {
		regenPtr = &regeneratedAt
	}
	if err := s.chunkRepo.UpdateContent(ctx, chunk.ID, result.Title, result.ContentText,
		result.Data, result.Sources, result.SourceConfidence, regenPtr); err != nil {
		return wrapStoreError(err)
	}

	if s.embedder != nil {
		if embedding, err := s.embedder.Embed(ctx, result.ContentText); err != nil {
			log.Printf("generation: embedding failed for chunk %s: %v", chunk.ID, err)
		} else if err := s.chunkRepo.UpdateEmbedding(ctx, chunk.ID, embedding); err != nil {
			log.Printf("generation: storing embedding failed for chunk %s: %v", chunk.ID, err)
		}
	}

	if err := s.jobRepo.UpdateStatus(ctx, job.ID, domain.GenerationJobStatusCompleted, ""); err != nil {
		return wrapStoreError(err)
	}

	// Fresh content must re-earn trust before it is visible.
	updated, err := s.chunkRepo.GetByID(ctx, chunk.ID)
	if err != nil {
		return wrapStoreError(err)
	}
	verdict, err := s.qa.Evaluate(ctx, updated)
	if err != nil {
		return err
	}
	_, err = s.promoter.Apply(ctx, chunk.ID, verdict)
	return err
}

// produce obtains content for the chunk, preferring reuse of a near-identical
// safe chunk over a generator call, and offloads SVG payloads to the diagram
// store.
func (s *GenerationService) produce(ctx context.Context, chunk *domain.Chunk, job *domain.GenerationJob) (*GenerationResult, error) {
	if reused := s.tryReuse(ctx, chunk, job); reused != nil {
		return reused, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.generator.Generate(genCtx, GenerationRequest{
		VehicleKey: job.VehicleKey,
		ContentID:  job.ContentID,
		ChunkType:  job.ChunkType,
		Attempt:    job.Attempt,
		RepairHint: job.RepairHint,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("generator timed out after %s", s.timeout)
		}
		return nil, err
	}
	if result == nil || len(result.Data) == 0 {
		return nil, domain.ErrGenerationFailed
	}

	if chunk.ChunkType == domain.ChunkTypeDiagramSVG && s.diagrams != nil {
		if err := s.offloadSVG(ctx, chunk, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// tryReuse looks for an existing safe chunk close enough to the request to
// copy outright. Repair attempts never reuse: the point of a repair is new
// content.
func (s *GenerationService) tryReuse(ctx context.Context, chunk *domain.Chunk, job *domain.GenerationJob) *GenerationResult {
	if s.embedder == nil || job.Attempt > 0 {
		return nil
	}
	query := fmt.Sprintf("%s %s %s", job.VehicleKey, job.ContentID, job.ChunkType)
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil
	}
	matches, err := s.chunkRepo.FindNearest(ctx, job.VehicleKey, job.ChunkType, embedding, 1)
	if err != nil || len(matches) == 0 {
		return nil
	}
	best := matches[0]
	if best.Distance > reuseDistanceThreshold || best.Chunk.ID == chunk.ID {
		return nil
	}
	log.Printf("generation: reusing chunk %s for %s (distance %.4f)", best.Chunk.ID, chunk.Key(), best.Distance)
	return &GenerationResult{
		Title:            best.Chunk.Title,
		ContentText:      best.Chunk.ContentText,
		Data:             best.Chunk.Data,
		Sources:          best.Chunk.Sources,
		SourceConfidence: best.Chunk.SourceConfidence,
	}
}

// offloadSVG moves inline SVG markup out of the row store into the diagram
// store, leaving only the object key behind. The API layer presigns a fresh
// download URL on each safe read.
func (s *GenerationService) offloadSVG(ctx context.Context, chunk *domain.Chunk, result *GenerationResult) error {
	svg, ok := result.Data["svg"].(string)
	if !ok || svg == "" {
		return nil
	}
	objectKey := fmt.Sprintf("diagrams/%s/%s.svg", chunk.VehicleKey, chunk.ContentID)
	if _, err := s.diagrams.Upload(ctx, objectKey, []byte(svg)); err != nil {
		return fmt.Errorf("diagram upload failed: %w", err)
	}
	delete(result.Data, "svg")
	result.Data["svg_key"] = objectKey
	return nil
}
