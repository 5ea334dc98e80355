package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/swoopinfo/swoopkb/internal/domain"
)

// GenerationJobSource claims pending generation jobs.
type GenerationJobSource interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.GenerationJob, error)
}

// GenerationProcessor executes one claimed job end to end, including its
// final status write.
type GenerationProcessor interface {
	ProcessJob(ctx context.Context, job *domain.GenerationJob) error
}

// GenerationWorker drains the generation job queue.
type GenerationWorker struct {
	source    GenerationJobSource
	processor GenerationProcessor
	batchSize int
}

// NewGenerationWorker creates a new GenerationWorker instance
func NewGenerationWorker(source GenerationJobSource, processor GenerationProcessor, batchSize int) *GenerationWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &GenerationWorker{
		source:    source,
		processor: processor,
		batchSize: batchSize,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *GenerationWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.source.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending generation jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processor.ProcessJob(ctx, job); err != nil {
			log.Printf("Error processing generation job %s (%s/%s/%s): %v",
				job.ID, job.VehicleKey, job.ContentID, job.ChunkType, err)
		}
	}

	return nil
}
