package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/service"
)

// DefaultReviewInterval is how long a trusted chunk may go unreviewed before
// the daily sweep picks it up again.
const DefaultReviewInterval = 24 * time.Hour

// QAScheduler periodically re-reviews trusted chunks. Scans are keyed on each
// chunk's last review time, so restarts and overlapping ticks never produce
// duplicate reviews.
type QAScheduler struct {
	chunkRepo service.ChunkRepositoryInterface
	qaRuns    service.QARunRepositoryInterface
	qa        *service.QAService
	promoter  *service.PromoterService
	interval  time.Duration
	batchSize int
	uuidGen   service.UUIDGenerator
	now       func() time.Time
}

// NewQAScheduler creates a new QAScheduler instance.
func NewQAScheduler(
	chunkRepo service.ChunkRepositoryInterface,
	qaRuns service.QARunRepositoryInterface,
	qa *service.QAService,
	promoter *service.PromoterService,
	interval time.Duration,
	batchSize int,
) *QAScheduler {
	if interval <= 0 {
		interval = DefaultReviewInterval
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &QAScheduler{
		chunkRepo: chunkRepo,
		qaRuns:    qaRuns,
		qa:        qa,
		promoter:  promoter,
		interval:  interval,
		batchSize: batchSize,
		uuidGen:   &service.DefaultUUIDGenerator{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewQASchedulerWithDeps creates a QAScheduler with injected UUID generator
// and clock (for testing).
func NewQASchedulerWithDeps(
	chunkRepo service.ChunkRepositoryInterface,
	qaRuns service.QARunRepositoryInterface,
	qa *service.QAService,
	promoter *service.PromoterService,
	interval time.Duration,
	batchSize int,
	uuidGen service.UUIDGenerator,
	now func() time.Time,
) *QAScheduler {
	s := NewQAScheduler(chunkRepo, qaRuns, qa, promoter, interval, batchSize)
	s.uuidGen = uuidGen
	s.now = now
	return s
}

// ProcessJobs implements the JobProcessor interface. A tick only sweeps when
// chunks are actually due, so the poll interval can be much shorter than the
// review interval.
func (s *QAScheduler) ProcessJobs(ctx context.Context) error {
	run, err := s.RunSweep(ctx)
	if err != nil {
		return err
	}
	if run != nil {
		log.Printf("QA sweep complete: examined=%d passed=%d failed=%d repaired=%d",
			run.Examined, run.Passed, run.Failed, run.Repaired)
	}
	return nil
}

// RunSweep reviews every chunk due for re-evaluation and records one summary
// row. Returns nil without a row when nothing was due.
func (s *QAScheduler) RunSweep(ctx context.Context) (*domain.QARun, error) {
	started := s.now()
	cutoff := started.Add(-s.interval)

	var examined, passed, failed, repaired int
	var sweepErr error

	for {
		chunks, err := s.chunkRepo.ListDueForReview(ctx, cutoff, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks due for review: %w", err)
		}
		if len(chunks) == 0 {
			break
		}

		batchReviewed := 0
		for _, chunk := range chunks {
			outcome, err := s.reviewChunk(ctx, chunk)
			if err != nil {
				log.Printf("QA sweep: review of chunk %s failed: %v", chunk.ID, err)
				sweepErr = err
				continue
			}
			batchReviewed++
			examined++
			switch outcome.QAStatus {
			case domain.QAStatusPass:
				passed++
			case domain.QAStatusFail:
				failed++
			}
			if outcome.RegenerationScheduled {
				repaired++
			}
		}

		// A batch where nothing moved would come back verbatim next query.
		if batchReviewed == 0 || len(chunks) < s.batchSize {
			break
		}
	}

	if examined == 0 && sweepErr == nil {
		return nil, nil
	}

	notes := ""
	if sweepErr != nil {
		notes = fmt.Sprintf("partial sweep, last error: %v", sweepErr)
	}
	run := &domain.QARun{
		ID:         s.uuidGen.NewString(),
		StartedAt:  started,
		FinishedAt: s.now(),
		Examined:   examined,
		Passed:     passed,
		Failed:     failed,
		Repaired:   repaired,
		Notes:      notes,
	}
	if err := s.qaRuns.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record qa run: %w", err)
	}
	return run, nil
}

func (s *QAScheduler) reviewChunk(ctx context.Context, chunk *domain.Chunk) (*service.PromotionOutcome, error) {
	verdict, err := s.qa.Evaluate(ctx, chunk)
	if err != nil {
		return nil, err
	}
	return s.promoter.Apply(ctx, chunk.ID, verdict)
}

// Health is a snapshot of scheduler liveness for the health endpoint.
type Health struct {
	LastRun      *domain.QARun
	OverdueSince *time.Time
	Healthy      bool
}

// GetHealth reports whether the sweep cadence is being kept. The scheduler is
// unhealthy when more than two intervals have elapsed without a recorded run.
func (s *QAScheduler) GetHealth(ctx context.Context) (*Health, error) {
	last, err := s.qaRuns.GetLatest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrQARunNotFound) {
			// No run yet. Healthy until the first interval has clearly passed.
			return &Health{Healthy: true}, nil
		}
		return nil, err
	}

	deadline := last.FinishedAt.Add(2 * s.interval)
	if s.now().After(deadline) {
		return &Health{LastRun: last, OverdueSince: &deadline, Healthy: false}, nil
	}
	return &Health{LastRun: last, Healthy: true}, nil
}
