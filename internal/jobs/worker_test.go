package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/swoopinfo/swoopkb/internal/domain"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockGenerationJobSource is a mock implementation of GenerationJobSource
type MockGenerationJobSource struct {
	mock.Mock
}

func (m *MockGenerationJobSource) ClaimPending(ctx context.Context, limit int) ([]*domain.GenerationJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.GenerationJob), args.Error(1)
}

// MockGenerationProcessor is a mock implementation of GenerationProcessor
type MockGenerationProcessor struct {
	mock.Mock
}

func (m *MockGenerationProcessor) ProcessJob(ctx context.Context, job *domain.GenerationJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(250 * time.Millisecond)

	// Stop worker
	worker.Stop()
	wg.Wait()

	// Verify ProcessJobs was called at least once
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	// Cancel context
	cancel()
	wg.Wait()

	// Verify ProcessJobs was called
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestGenerationWorker_ProcessJobs_NoPendingJobs tests when there are no pending jobs
func TestGenerationWorker_ProcessJobs_NoPendingJobs(t *testing.T) {
	mockSource := new(MockGenerationJobSource)
	mockProcessor := new(MockGenerationProcessor)

	mockSource.On("ClaimPending", mock.Anything, 10).Return([]*domain.GenerationJob{}, nil)

	worker := NewGenerationWorker(mockSource, mockProcessor, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockSource.AssertExpectations(t)
	mockProcessor.AssertNotCalled(t, "ProcessJob", mock.Anything, mock.Anything)
}

// TestGenerationWorker_ProcessJobs_Success tests successful job processing
func TestGenerationWorker_ProcessJobs_Success(t *testing.T) {
	mockSource := new(MockGenerationJobSource)
	mockProcessor := new(MockGenerationProcessor)

	jobs := []*domain.GenerationJob{
		{ID: "job-1", VehicleKey: "2019_honda_accord_2.0t", ContentID: "oil_capacity", ChunkType: domain.ChunkTypeFluidCapacity},
		{ID: "job-2", VehicleKey: "2015_ford_f-150_5.0l", ContentID: "brake_pads", ChunkType: domain.ChunkTypePartInfo},
	}

	mockSource.On("ClaimPending", mock.Anything, 10).Return(jobs, nil)
	mockProcessor.On("ProcessJob", mock.Anything, jobs[0]).Return(nil)
	mockProcessor.On("ProcessJob", mock.Anything, jobs[1]).Return(nil)

	worker := NewGenerationWorker(mockSource, mockProcessor, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockSource.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

// TestGenerationWorker_ProcessJobs_FailureContinues tests that one failing job
// does not stop the batch
func TestGenerationWorker_ProcessJobs_FailureContinues(t *testing.T) {
	mockSource := new(MockGenerationJobSource)
	mockProcessor := new(MockGenerationProcessor)

	jobs := []*domain.GenerationJob{
		{ID: "job-1", VehicleKey: "2019_honda_accord_2.0t", ContentID: "oil_capacity", ChunkType: domain.ChunkTypeFluidCapacity},
		{ID: "job-2", VehicleKey: "2015_ford_f-150_5.0l", ContentID: "brake_pads", ChunkType: domain.ChunkTypePartInfo},
	}

	mockSource.On("ClaimPending", mock.Anything, 10).Return(jobs, nil)
	mockProcessor.On("ProcessJob", mock.Anything, jobs[0]).Return(errors.New("generation failed"))
	mockProcessor.On("ProcessJob", mock.Anything, jobs[1]).Return(nil)

	worker := NewGenerationWorker(mockSource, mockProcessor, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockProcessor.AssertExpectations(t)
}

// TestGenerationWorker_ProcessJobs_ClaimError tests claim error handling
func TestGenerationWorker_ProcessJobs_ClaimError(t *testing.T) {
	mockSource := new(MockGenerationJobSource)
	mockProcessor := new(MockGenerationProcessor)

	mockSource.On("ClaimPending", mock.Anything, 10).Return(nil, errors.New("database error"))

	worker := NewGenerationWorker(mockSource, mockProcessor, 10)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim pending jobs")
	mockSource.AssertExpectations(t)
}
