package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/telemetry"
)

// DefaultMaxRegenerationAttempts caps how often a failing chunk is repaired
// before it is banned.
const DefaultMaxRegenerationAttempts = 3

// TrustUpdate is the partial trust fieldset the promoter writes. Nil pointers
// leave the stored value untouched.
type TrustUpdate struct {
	QAStatus             domain.QAStatus
	QANotes              string
	QAPassCount          *int
	LastQAReviewedAt     *time.Time
	LastQAPassedAt       *time.Time
	VerifiedStatus       *domain.VerifiedStatus
	VerifiedAt           *time.Time
	FailedAt             *time.Time
	PromotionCount       *int
	RegenerationAttempts *int
}

// PromotionOutcome summarizes what one verdict did to a chunk's trust state.
type PromotionOutcome struct {
	QAStatus              domain.QAStatus
	VerifiedStatus        domain.VerifiedStatus
	Visibility            domain.Visibility
	Promoted              bool
	Banned                bool
	RegenerationScheduled bool
}

// PromoterService applies QA verdicts to chunk trust state. It owns the only
// code path that advances verified status; everything else reads it.
type PromoterService struct {
	chunkRepo   ChunkRepositoryInterface
	jobRepo     GenerationJobRepositoryInterface
	uuidGen     UUIDGenerator
	maxAttempts int
	now         func() time.Time

	// Per-key serialization. The daily sweep and an on-demand regeneration can
	// finish a verdict for the same chunk concurrently; only one may apply the
	// transition at a time.
	keyLocks sync.Map
}

// NewPromoterService creates a new PromoterService instance.
func NewPromoterService(chunkRepo ChunkRepositoryInterface, jobRepo GenerationJobRepositoryInterface, maxAttempts int) *PromoterService {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRegenerationAttempts
	}
	return &PromoterService{
		chunkRepo:   chunkRepo,
		jobRepo:     jobRepo,
		uuidGen:     &DefaultUUIDGenerator{},
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewPromoterServiceWithDeps creates a PromoterService with injected UUID
// generator and clock (for testing).
func NewPromoterServiceWithDeps(chunkRepo ChunkRepositoryInterface, jobRepo GenerationJobRepositoryInterface, maxAttempts int, uuidGen UUIDGenerator, now func() time.Time) *PromoterService {
	s := NewPromoterService(chunkRepo, jobRepo, maxAttempts)
	s.uuidGen = uuidGen
	s.now = now
	return s
}

// Apply records a QA verdict on a chunk and advances its trust state
// according to the promotion rules. It re-reads the chunk under the key lock
// so a stale caller cannot clobber a newer transition.
func (s *PromoterService) Apply(ctx context.Context, chunkID string, verdict *Verdict) (*PromotionOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "PromoterService.Apply", telemetry.SpanAttributes{
		Operation: "promote",
	})
	defer span.End()

	chunk, err := s.chunkRepo.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, domain.ErrChunkNotFound) {
			return nil, err
		}
		return nil, wrapStoreError(err)
	}

	mu := s.lockFor(chunk.Key().String())
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock.
	chunk, err = s.chunkRepo.GetByID(ctx, chunkID)
	if err != nil {
		return nil, wrapStoreError(err)
	}

	if chunk.VerifiedStatus == domain.VerifiedStatusBanned {
		// Banned is terminal. Only an operator unban leaves it.
		return &PromotionOutcome{
			QAStatus:       chunk.QAStatus,
			VerifiedStatus: domain.VerifiedStatusBanned,
			Visibility:     domain.VisibilityBanned,
		}, nil
	}

	switch verdict.Status {
	case domain.QAStatusPass:
		return s.applyPass(ctx, chunk, verdict)
	case domain.QAStatusFail:
		return s.applyFail(ctx, chunk, verdict)
	default:
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "verdict must be pass or fail")
	}
}

func (s *PromoterService) applyPass(ctx context.Context, chunk *domain.Chunk, verdict *Verdict) (*PromotionOutcome, error) {
	now := s.now()
	passCount := chunk.QAPassCount + 1
	update := TrustUpdate{
		QAStatus:         domain.QAStatusPass,
		QANotes:          verdict.Notes,
		QAPassCount:      &passCount,
		LastQAReviewedAt: &now,
		LastQAPassedAt:   &now,
	}

	newStatus := chunk.VerifiedStatus
	promoted := false

	switch chunk.VerifiedStatus {
	case domain.VerifiedStatusUnverified:
		newStatus = domain.VerifiedStatusCandidate
		promoted = true
	case domain.VerifiedStatusCandidate:
		// Verification needs two passes on distinct calendar days. Same-day
		// repeats keep the chunk a candidate.
		if chunk.LastQAPassedAt != nil && !sameCalendarDay(*chunk.LastQAPassedAt, now) {
			newStatus = domain.VerifiedStatusVerified
			update.VerifiedAt = &now
			promoted = true
		}
	case domain.VerifiedStatusVerified:
		// Already fully trusted.
	}

	if promoted {
		promotionCount := chunk.PromotionCount + 1
		update.PromotionCount = &promotionCount
		update.VerifiedStatus = &newStatus
	}

	if err := s.chunkRepo.UpdateTrust(ctx, chunk.ID, update); err != nil {
		return nil, wrapStoreError(err)
	}

	return &PromotionOutcome{
		QAStatus:       domain.QAStatusPass,
		VerifiedStatus: newStatus,
		Visibility:     domain.ComputeVisibility(domain.QAStatusPass, newStatus),
		Promoted:       promoted,
	}, nil
}

func (s *PromoterService) applyFail(ctx context.Context, chunk *domain.Chunk, verdict *Verdict) (*PromotionOutcome, error) {
	now := s.now()
	update := TrustUpdate{
		QAStatus:         domain.QAStatusFail,
		QANotes:          verdict.Notes,
		LastQAReviewedAt: &now,
	}

	// Previously verified content that regresses is banned outright. Trusted
	// data that goes bad is worse than data that was never trusted, so it
	// gets no repair attempts.
	if chunk.VerifiedStatus == domain.VerifiedStatusVerified {
		banned := domain.VerifiedStatusBanned
		update.VerifiedStatus = &banned
		update.FailedAt = &now
		if err := s.chunkRepo.UpdateTrust(ctx, chunk.ID, update); err != nil {
			return nil, wrapStoreError(err)
		}
		return &PromotionOutcome{
			QAStatus:       domain.QAStatusFail,
			VerifiedStatus: banned,
			Visibility:     domain.VisibilityBanned,
			Banned:         true,
		}, nil
	}

	attempts := chunk.RegenerationAttempts + 1
	update.RegenerationAttempts = &attempts

	if attempts > s.maxAttempts {
		banned := domain.VerifiedStatusBanned
		update.VerifiedStatus = &banned
		update.FailedAt = &now
		if err := s.chunkRepo.UpdateTrust(ctx, chunk.ID, update); err != nil {
			return nil, wrapStoreError(err)
		}
		return &PromotionOutcome{
			QAStatus:       domain.QAStatusFail,
			VerifiedStatus: banned,
			Visibility:     domain.VisibilityBanned,
			Banned:         true,
		}, nil
	}

	if err := s.chunkRepo.UpdateTrust(ctx, chunk.ID, update); err != nil {
		return nil, wrapStoreError(err)
	}

	// Schedule a repair pass. The repair hint travels with the job so the
	// generator can address the specific failure.
	job := &domain.GenerationJob{
		ID:         s.uuidGen.NewString(),
		VehicleKey: chunk.VehicleKey,
		ContentID:  chunk.ContentID,
		ChunkType:  chunk.ChunkType,
		Status:     domain.GenerationJobStatusPending,
		Attempt:    attempts,
		RepairHint: repairHint(verdict),
		CreatedAt:  now,
	}
	scheduled := true
	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		if !errors.Is(err, domain.ErrJobAlreadyInFlight) {
			return nil, wrapStoreError(err)
		}
		scheduled = false
	}

	return &PromotionOutcome{
		QAStatus:              domain.QAStatusFail,
		VerifiedStatus:        chunk.VerifiedStatus,
		Visibility:            domain.ComputeVisibility(domain.QAStatusFail, chunk.VerifiedStatus),
		RegenerationScheduled: scheduled,
	}, nil
}

func (s *PromoterService) lockFor(key string) *sync.Mutex {
	mu, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func repairHint(v *Verdict) string {
	if v.RepairHint != "" {
		return v.RepairHint
	}
	return v.Notes
}

func sameCalendarDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
