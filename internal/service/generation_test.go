package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/swoopinfo/swoopkb/internal/domain"
)

// MockContentGenerator is a mock implementation of ContentGenerator
type MockContentGenerator struct {
	mock.Mock
}

func (m *MockContentGenerator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GenerationResult), args.Error(1)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockDiagramStore is a mock implementation of DiagramStore
type MockDiagramStore struct {
	mock.Mock
}

func (m *MockDiagramStore) Upload(ctx context.Context, key string, svg []byte) (string, error) {
	args := m.Called(ctx, key, svg)
	return args.String(0), args.Error(1)
}

func stubChunk() *domain.Chunk {
	return domain.NewStub("chunk-1", "2019_honda_accord_2.0t", "oil_capacity", domain.ChunkTypeFluidCapacity, testNow)
}

func generationJob() *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:         "job-1",
		VehicleKey: "2019_honda_accord_2.0t",
		ContentID:  "oil_capacity",
		ChunkType:  domain.ChunkTypeFluidCapacity,
		Status:     domain.GenerationJobStatusProcessing,
		Attempt:    0,
	}
}

func goodResult() *GenerationResult {
	return &GenerationResult{
		Title:       "Engine Oil Capacity",
		ContentText: "The 2.0T engine takes 4.7 quarts of 0W-20 synthetic oil with a filter change.",
		Data: map[string]interface{}{
			"capacity_quarts": 4.7,
			"oil_type":        "0W-20 synthetic",
		},
		Sources:          []string{"owner's manual"},
		SourceConfidence: 0.9,
	}
}

func newGenerationFixture(generator ContentGenerator, embedder EmbeddingClient, diagrams DiagramStore) (*GenerationService, *MockChunkRepository, *MockGenerationJobRepository) {
	chunkRepo := new(MockChunkRepository)
	jobRepo := new(MockGenerationJobRepository)
	qa := NewQAService(nil)
	promoter := NewPromoterServiceWithDeps(chunkRepo, jobRepo, 3, NewMockUUIDGenerator("promoter-job-1"), fixedClock(testNow))
	svc := NewGenerationService(chunkRepo, jobRepo, generator, embedder, diagrams, qa, promoter, time.Minute)
	return svc, chunkRepo, jobRepo
}

func TestGenerationService_ProcessJob(t *testing.T) {
	ctx := context.Background()
	job := generationJob()
	key := domain.ChunkKey{VehicleKey: job.VehicleKey, ContentID: job.ContentID, ChunkType: job.ChunkType}

	t.Run("success persists content, completes the job, and promotes", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		stub := stubChunk()
		generated := stubChunk()
		generated.Title = goodResult().Title
		generated.ContentText = goodResult().ContentText
		generated.Data = goodResult().Data

		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerationRequest) bool {
			return req.VehicleKey == job.VehicleKey && req.Attempt == 0 && req.RepairHint == ""
		})).Return(goodResult(), nil)
		chunkRepo.On("UpdateContent", mock.Anything, "chunk-1",
			goodResult().Title, goodResult().ContentText, mock.Anything, mock.Anything, 0.9, (*time.Time)(nil)).Return(nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "").Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(generated, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.MatchedBy(func(u TrustUpdate) bool {
			return u.QAStatus == domain.QAStatusPass &&
				u.VerifiedStatus != nil && *u.VerifiedStatus == domain.VerifiedStatusCandidate
		})).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		chunkRepo.AssertExpectations(t)
		jobRepo.AssertExpectations(t)
	})

	t.Run("repair attempt records regenerated_at", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		repair := generationJob()
		repair.Attempt = 1
		repair.RepairHint = "remove placeholder text"

		stub := stubChunk()
		generated := stubChunk()
		generated.ContentText = goodResult().ContentText
		generated.Data = goodResult().Data

		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerationRequest) bool {
			return req.Attempt == 1 && req.RepairHint == "remove placeholder text"
		})).Return(goodResult(), nil)
		chunkRepo.On("UpdateContent", mock.Anything, "chunk-1",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
			mock.MatchedBy(func(ts *time.Time) bool { return ts != nil })).Return(nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "").Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(generated, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, repair)

		require.NoError(t, err)
		chunkRepo.AssertExpectations(t)
	})

	t.Run("generator failure finalizes the job before the retry is scheduled", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		stub := stubChunk()
		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("model unavailable"))

		var jobFinalized bool
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusFailed, mock.MatchedBy(func(msg string) bool {
			return msg == "model unavailable"
		})).Run(func(args mock.Arguments) { jobFinalized = true }).Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(stub, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.MatchedBy(func(u TrustUpdate) bool {
			return u.QAStatus == domain.QAStatusFail &&
				u.RegenerationAttempts != nil && *u.RegenerationAttempts == 1
		})).Return(nil)
		jobRepo.On("Enqueue", mock.Anything, mock.MatchedBy(func(j *domain.GenerationJob) bool {
			// The prior job must be finalized before a retry can occupy the
			// in-flight slot.
			return jobFinalized && j.Attempt == 1
		})).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		jobRepo.AssertExpectations(t)
	})

	t.Run("generator timeout is a failed attempt", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		stub := stubChunk()
		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

		var jobFinalized bool
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusFailed, mock.MatchedBy(func(msg string) bool {
			return strings.Contains(msg, "timed out")
		})).Run(func(args mock.Arguments) { jobFinalized = true }).Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(stub, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.MatchedBy(func(u TrustUpdate) bool {
			return u.QAStatus == domain.QAStatusFail &&
				u.RegenerationAttempts != nil && *u.RegenerationAttempts == 1
		})).Return(nil)
		jobRepo.On("Enqueue", mock.Anything, mock.MatchedBy(func(j *domain.GenerationJob) bool {
			return jobFinalized && j.Attempt == 1 && strings.Contains(j.RepairHint, "timed out")
		})).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		jobRepo.AssertExpectations(t)
	})

	t.Run("empty generator output is a failed attempt", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		stub := stubChunk()
		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(&GenerationResult{}, nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusFailed, mock.Anything).Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(stub, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)
		jobRepo.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		chunkRepo.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything,
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("vanished stub fails the job without a verdict", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		chunkRepo.On("Get", mock.Anything, key).Return(nil, domain.ErrChunkNotFound)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusFailed, "chunk stub no longer exists").Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("banned chunk skips generation entirely", func(t *testing.T) {
		generator := new(MockContentGenerator)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, nil)

		banned := stubChunk()
		banned.VerifiedStatus = domain.VerifiedStatusBanned
		chunkRepo.On("Get", mock.Anything, key).Return(banned, nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "skipped: chunk is banned").Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})
}

func TestGenerationService_Reuse(t *testing.T) {
	ctx := context.Background()
	job := generationJob()
	key := domain.ChunkKey{VehicleKey: job.VehicleKey, ContentID: job.ContentID, ChunkType: job.ChunkType}

	t.Run("near-identical safe chunk is copied instead of generated", func(t *testing.T) {
		generator := new(MockContentGenerator)
		embedder := new(MockEmbeddingClient)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, embedder, nil)

		stub := stubChunk()
		donor := safeChunk()
		donor.ID = "donor-1"

		generated := stubChunk()
		generated.ContentText = donor.ContentText
		generated.Data = donor.Data

		embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1, 0.2}, nil)
		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		chunkRepo.On("FindNearest", mock.Anything, job.VehicleKey, job.ChunkType, mock.Anything, 1).
			Return([]*ChunkMatch{{Chunk: donor, Distance: 0.01}}, nil)
		chunkRepo.On("UpdateContent", mock.Anything, "chunk-1",
			donor.Title, donor.ContentText, mock.Anything, mock.Anything, mock.Anything, (*time.Time)(nil)).Return(nil)
		chunkRepo.On("UpdateEmbedding", mock.Anything, "chunk-1", mock.Anything).Return(nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "").Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(generated, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("distant match falls through to the generator", func(t *testing.T) {
		generator := new(MockContentGenerator)
		embedder := new(MockEmbeddingClient)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, embedder, nil)

		stub := stubChunk()
		donor := safeChunk()
		donor.ID = "donor-1"
		generated := stubChunk()
		generated.ContentText = goodResult().ContentText
		generated.Data = goodResult().Data

		embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1, 0.2}, nil)
		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		chunkRepo.On("FindNearest", mock.Anything, job.VehicleKey, job.ChunkType, mock.Anything, 1).
			Return([]*ChunkMatch{{Chunk: donor, Distance: 0.4}}, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(goodResult(), nil)
		chunkRepo.On("UpdateContent", mock.Anything, "chunk-1",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, (*time.Time)(nil)).Return(nil)
		chunkRepo.On("UpdateEmbedding", mock.Anything, "chunk-1", mock.Anything).Return(nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "").Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(generated, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		generator.AssertExpectations(t)
	})

	t.Run("repair attempts never reuse", func(t *testing.T) {
		generator := new(MockContentGenerator)
		embedder := new(MockEmbeddingClient)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, embedder, nil)

		repair := generationJob()
		repair.Attempt = 2

		stub := stubChunk()
		generated := stubChunk()
		generated.ContentText = goodResult().ContentText
		generated.Data = goodResult().Data

		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(goodResult(), nil)
		embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
		chunkRepo.On("UpdateContent", mock.Anything, "chunk-1",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		chunkRepo.On("UpdateEmbedding", mock.Anything, "chunk-1", mock.Anything).Return(nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "").Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(generated, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, repair)

		require.NoError(t, err)
		chunkRepo.AssertNotCalled(t, "FindNearest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGenerationService_DiagramOffload(t *testing.T) {
	ctx := context.Background()

	t.Run("svg payload moves to the diagram store", func(t *testing.T) {
		generator := new(MockContentGenerator)
		diagrams := new(MockDiagramStore)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, diagrams)

		job := generationJob()
		job.ContentID = "cooling_system_diagram"
		job.ChunkType = domain.ChunkTypeDiagramSVG
		key := domain.ChunkKey{VehicleKey: job.VehicleKey, ContentID: job.ContentID, ChunkType: job.ChunkType}

		stub := domain.NewStub("chunk-1", job.VehicleKey, job.ContentID, job.ChunkType, testNow)
		result := &GenerationResult{
			Title:       "Cooling System Diagram",
			ContentText: "Coolant flow diagram for the 2.0T engine showing radiator and thermostat.",
			Data: map[string]interface{}{
				"svg":         "<svg>...</svg>",
				"description": "coolant flow",
			},
		}
		generated := domain.NewStub("chunk-1", job.VehicleKey, job.ContentID, job.ChunkType, testNow)
		generated.ContentText = result.ContentText
		generated.Data = map[string]interface{}{"svg_key": "k", "description": "coolant flow"}

		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(result, nil)
		diagrams.On("Upload", mock.Anything, "diagrams/2019_honda_accord_2.0t/cooling_system_diagram.svg",
			[]byte("<svg>...</svg>")).Return("diagrams/2019_honda_accord_2.0t/cooling_system_diagram.svg", nil)
		chunkRepo.On("UpdateContent", mock.Anything, "chunk-1", mock.Anything, mock.Anything,
			mock.MatchedBy(func(data map[string]interface{}) bool {
				_, hasInline := data["svg"]
				keyVal, hasKey := data["svg_key"].(string)
				return !hasInline && hasKey && keyVal == "diagrams/2019_honda_accord_2.0t/cooling_system_diagram.svg"
			}), mock.Anything, mock.Anything, mock.Anything).Return(nil)
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusCompleted, "").Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(generated, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		diagrams.AssertExpectations(t)
	})

	t.Run("diagram upload failure charges an attempt", func(t *testing.T) {
		generator := new(MockContentGenerator)
		diagrams := new(MockDiagramStore)
		svc, chunkRepo, jobRepo := newGenerationFixture(generator, nil, diagrams)

		job := generationJob()
		job.ChunkType = domain.ChunkTypeDiagramSVG
		key := domain.ChunkKey{VehicleKey: job.VehicleKey, ContentID: job.ContentID, ChunkType: job.ChunkType}

		stub := domain.NewStub("chunk-1", job.VehicleKey, job.ContentID, job.ChunkType, testNow)
		result := &GenerationResult{Data: map[string]interface{}{"svg": "<svg/>"}}

		chunkRepo.On("Get", mock.Anything, key).Return(stub, nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return(result, nil)
		diagrams.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("bucket missing"))
		jobRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GenerationJobStatusFailed, mock.Anything).Return(nil)
		chunkRepo.On("GetByID", mock.Anything, "chunk-1").Return(stub, nil)
		chunkRepo.On("UpdateTrust", mock.Anything, "chunk-1", mock.Anything).Return(nil)
		jobRepo.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

		err := svc.ProcessJob(ctx, job)

		require.NoError(t, err)
		chunkRepo.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything,
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
