package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/pagination"
	"github.com/swoopinfo/swoopkb/internal/telemetry"
)

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	Get(ctx context.Context, key domain.ChunkKey) (*domain.Chunk, error)
	GetByID(ctx context.Context, id string) (*domain.Chunk, error)
	CreateStub(ctx context.Context, c *domain.Chunk) error
	UpdateContent(ctx context.Context, id string, title, contentText string, data map[string]interface{}, sources []string, sourceConfidence float64, regeneratedAt *time.Time) error
	UpdateTrust(ctx context.Context, id string, u TrustUpdate) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	Unban(ctx context.Context, id string) (*domain.Chunk, error)
	ListDueForReview(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Chunk, error)
	FindNearest(ctx context.Context, vehicleKey string, chunkType domain.ChunkType, embedding []float32, limit int) ([]*ChunkMatch, error)
	ListByVehicleWithCursor(ctx context.Context, vehicleKey string, cursor *pagination.Cursor, limit int) (*ChunkPageResult, error)
}

// ChunkMatch is a safe chunk returned by a vector similarity lookup together
// with its cosine distance from the query embedding.
type ChunkMatch struct {
	Chunk    *domain.Chunk
	Distance float64
}

type ChunkPageResult struct {
	Items      []*domain.Chunk
	NextCursor string
	HasMore    bool
}

// GenerationJobRepositoryInterface defines the repository interface for generation job persistence
type GenerationJobRepositoryInterface interface {
	Enqueue(ctx context.Context, job *domain.GenerationJob) error
	ClaimPending(ctx context.Context, limit int) ([]*domain.GenerationJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.GenerationJobStatus, errMsg string) error
	CountForVehicleSince(ctx context.Context, vehicleKey string, since time.Time) (int, error)
}

// QARunRepositoryInterface defines the repository interface for QA run persistence
type QARunRepositoryInterface interface {
	Create(ctx context.Context, run *domain.QARun) error
	GetLatest(ctx context.Context) (*domain.QARun, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.QARun, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// ResolutionStatus is the outcome class of a cache lookup.
type ResolutionStatus string

const (
	// ResolutionSafe means trusted content is attached and may be shown.
	ResolutionSafe ResolutionStatus = "safe"
	// ResolutionPending means generation is scheduled or still in flight.
	ResolutionPending ResolutionStatus = "pending"
	// ResolutionUnavailable means a chunk exists but must not be shown.
	ResolutionUnavailable ResolutionStatus = "unavailable"
)

// UnavailableReason explains a ResolutionUnavailable outcome.
type UnavailableReason string

const (
	ReasonVerificationInProgress UnavailableReason = "verification_in_progress"
	ReasonRejected               UnavailableReason = "rejected"
)

// Resolution is the result of resolving a chunk key. Chunk is only populated
// for ResolutionSafe; callers never receive quarantined or banned content.
type Resolution struct {
	Status ResolutionStatus
	Reason UnavailableReason
	Chunk  *domain.Chunk
}

// ResolverService is the lazy cache controller: it answers chunk lookups and
// turns misses into exactly one scheduled generation.
type ResolverService struct {
	chunkRepo  ChunkRepositoryInterface
	jobRepo    GenerationJobRepositoryInterface
	tx         TxRunner
	uuidGen    UUIDGenerator
	dailyLimit int
	now        func() time.Time
}

// NewResolverService creates a new ResolverService instance.
// tx, when non-nil, runs Unban and its regeneration enqueue in one
// transaction. dailyLimit caps generations scheduled per vehicle per UTC day;
// <=0 disables it.
func NewResolverService(chunkRepo ChunkRepositoryInterface, jobRepo GenerationJobRepositoryInterface, tx TxRunner, dailyLimit int) *ResolverService {
	return &ResolverService{
		chunkRepo:  chunkRepo,
		jobRepo:    jobRepo,
		tx:         tx,
		uuidGen:    &DefaultUUIDGenerator{},
		dailyLimit: dailyLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewResolverServiceWithDeps creates a ResolverService with injected UUID
// generator and clock (for testing).
func NewResolverServiceWithDeps(chunkRepo ChunkRepositoryInterface, jobRepo GenerationJobRepositoryInterface, dailyLimit int, uuidGen UUIDGenerator, now func() time.Time) *ResolverService {
	return &ResolverService{
		chunkRepo:  chunkRepo,
		jobRepo:    jobRepo,
		uuidGen:    uuidGen,
		dailyLimit: dailyLimit,
		now:        now,
	}
}

// ResolveInput identifies the chunk being requested.
type ResolveInput struct {
	VehicleKey string
	ContentID  string
	ChunkType  domain.ChunkType
}

// Resolve answers a chunk lookup. A miss creates a quarantined stub and
// schedules one generation; concurrent callers for the same key converge on
// the same stub via the unique constraint, never on duplicate jobs.
func (s *ResolverService) Resolve(ctx context.Context, input ResolveInput) (*Resolution, error) {
	ctx, span := telemetry.StartSpan(ctx, "ResolverService.Resolve", telemetry.SpanAttributes{
		VehicleKey: input.VehicleKey,
		ContentID:  input.ContentID,
		ChunkType:  string(input.ChunkType),
		Operation:  "resolve",
	})
	defer span.End()

	if input.VehicleKey == "" || input.ContentID == "" {
		return nil, domain.ErrInvalidVehicleKey
	}
	key := domain.ChunkKey{VehicleKey: input.VehicleKey, ContentID: input.ContentID, ChunkType: input.ChunkType}

	chunk, err := s.chunkRepo.Get(ctx, key)
	if err == nil {
		return s.resolutionFor(chunk), nil
	}
	if !errors.Is(err, domain.ErrChunkNotFound) {
		return nil, wrapStoreError(err)
	}

	if err := s.checkDailyLimit(ctx, input.VehicleKey); err != nil {
		return nil, err
	}

	now := s.now()
	stub := domain.NewStub(s.uuidGen.NewString(), input.VehicleKey, input.ContentID, input.ChunkType, now)
	if err := s.chunkRepo.CreateStub(ctx, stub); err != nil {
		if errors.Is(err, domain.ErrChunkAlreadyExists) {
			// Lost the race; the winner's stub is authoritative.
			existing, rerr := s.chunkRepo.Get(ctx, key)
			if rerr != nil {
				return nil, wrapStoreError(rerr)
			}
			return s.resolutionFor(existing), nil
		}
		return nil, wrapStoreError(err)
	}

	if err := s.enqueueGeneration(ctx, s.jobRepo, key, 0, ""); err != nil {
		return nil, err
	}

	return &Resolution{Status: ResolutionPending}, nil
}

// resolutionFor maps an existing chunk to its caller-facing outcome from
// derived visibility and, for quarantined rows, whether a verdict exists yet.
func (s *ResolverService) resolutionFor(chunk *domain.Chunk) *Resolution {
	switch chunk.Visibility() {
	case domain.VisibilitySafe:
		return &Resolution{Status: ResolutionSafe, Chunk: chunk}
	case domain.VisibilityBanned:
		return &Resolution{Status: ResolutionUnavailable, Reason: ReasonRejected}
	default:
		// No verdict yet means generation is still in flight.
		if chunk.QAStatus == domain.QAStatusPending {
			return &Resolution{Status: ResolutionPending}
		}
		return &Resolution{Status: ResolutionUnavailable, Reason: ReasonVerificationInProgress}
	}
}

func (s *ResolverService) checkDailyLimit(ctx context.Context, vehicleKey string) error {
	if s.dailyLimit <= 0 {
		return nil
	}
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := s.jobRepo.CountForVehicleSince(ctx, vehicleKey, dayStart)
	if err != nil {
		return wrapStoreError(err)
	}
	if count >= s.dailyLimit {
		return domain.ErrGenerationRateLimited
	}
	return nil
}

func (s *ResolverService) enqueueGeneration(ctx context.Context, jobs GenerationJobRepositoryInterface, key domain.ChunkKey, attempt int, repairHint string) error {
	job := &domain.GenerationJob{
		ID:         s.uuidGen.NewString(),
		VehicleKey: key.VehicleKey,
		ContentID:  key.ContentID,
		ChunkType:  key.ChunkType,
		Status:     domain.GenerationJobStatusPending,
		Attempt:    attempt,
		RepairHint: repairHint,
		CreatedAt:  s.now(),
	}
	if err := jobs.Enqueue(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyInFlight) {
			return nil
		}
		return wrapStoreError(err)
	}
	return nil
}

// GetChunk retrieves a chunk by row ID without visibility filtering. Intended
// for operator tooling, not for content serving.
func (s *ResolverService) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	chunk, err := s.chunkRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrChunkNotFound) {
			return nil, err
		}
		return nil, wrapStoreError(err)
	}
	return chunk, nil
}

type ListChunksInput struct {
	VehicleKey string
	Cursor     string
	Limit      int
}

type ListChunksOutput struct {
	Items   []*domain.Chunk
	Cursor  string
	HasMore bool
}

// ListByVehicle pages through every chunk recorded for a vehicle, including
// quarantined and banned rows. Content fields of unsafe rows are redacted at
// the API layer, not here.
func (s *ResolverService) ListByVehicle(ctx context.Context, input ListChunksInput) (*ListChunksOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "ResolverService.ListByVehicle", telemetry.SpanAttributes{
		VehicleKey: input.VehicleKey,
		Operation:  "list",
	})
	defer span.End()

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.chunkRepo.ListByVehicleWithCursor(ctx, input.VehicleKey, cursor, limit)
	if err != nil {
		return nil, wrapStoreError(err)
	}

	return &ListChunksOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}

// Unban lifts a ban by operator decision. The chunk drops back to a
// quarantined unverified state with a fresh attempt budget, and one
// regeneration is scheduled so repaired content can be produced. With a
// TxRunner present the trust reset and its job land together or not at all.
func (s *ResolverService) Unban(ctx context.Context, id string) (*domain.Chunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "ResolverService.Unban", telemetry.SpanAttributes{
		Operation: "unban",
	})
	defer span.End()

	var chunk *domain.Chunk
	unban := func(chunks ChunkRepositoryInterface, jobs GenerationJobRepositoryInterface) error {
		c, err := chunks.Unban(ctx, id)
		if err != nil {
			return err
		}
		chunk = c
		return s.enqueueGeneration(ctx, jobs, c.Key(), 0, c.QANotes)
	}

	var err error
	if s.tx != nil {
		err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
			return unban(repos.Chunks(), repos.GenerationJobs())
		})
	} else {
		err = unban(s.chunkRepo, s.jobRepo)
	}
	if err != nil {
		if errors.Is(err, domain.ErrChunkNotFound) || errors.Is(err, domain.ErrChunkNotBanned) {
			return nil, err
		}
		return nil, wrapStoreError(err)
	}

	return chunk, nil
}

// wrapStoreError classifies unexpected persistence failures so the transport
// layer can answer 503 instead of a generic 500.
func wrapStoreError(err error) error {
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		return err
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeStoreUnavailable, "knowledge store unavailable", err)
}
