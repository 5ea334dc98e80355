package domain

import "time"

// GenerationJobStatus represents the lifecycle of a generation job.
type GenerationJobStatus string

const (
	GenerationJobStatusPending    GenerationJobStatus = "pending"
	GenerationJobStatusProcessing GenerationJobStatus = "processing"
	GenerationJobStatusCompleted  GenerationJobStatus = "completed"
	GenerationJobStatusFailed     GenerationJobStatus = "failed"
)

// GenerationJob is one queued Generator invocation for a chunk key. At most
// one job per key may be pending or processing at a time; the partial unique
// index on the jobs table enforces this even across daemon instances.
type GenerationJob struct {
	ID          string
	VehicleKey  string
	ContentID   string
	ChunkType   ChunkType
	Status      GenerationJobStatus
	Attempt     int
	RepairHint  string
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func isValidGenerationJobStatus(s GenerationJobStatus) bool {
	switch s {
	case GenerationJobStatusPending, GenerationJobStatusProcessing,
		GenerationJobStatusCompleted, GenerationJobStatusFailed:
		return true
	}
	return false
}

// ValidateGenerationJob validates a GenerationJob instance.
func ValidateGenerationJob(j *GenerationJob) error {
	if j == nil {
		return NewDomainError(ErrCodeValidation, "generation job cannot be nil")
	}
	if j.ID == "" {
		return NewDomainError(ErrCodeValidation, "generation job ID is required")
	}
	if j.VehicleKey == "" || j.ContentID == "" {
		return NewDomainError(ErrCodeValidation, "generation job requires vehicle key and content id")
	}
	if !isValidChunkType(j.ChunkType) {
		return ErrInvalidChunkType
	}
	if !isValidGenerationJobStatus(j.Status) {
		return NewDomainError(ErrCodeValidation, "invalid generation job status")
	}
	return nil
}
