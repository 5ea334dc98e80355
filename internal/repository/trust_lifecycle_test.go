//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/service"
	"github.com/swoopinfo/swoopkb/internal/testutil"
)

// fixedClock lets the test steer promotion day boundaries.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

// TestTrustLifecycle_PromotionToVerified walks a chunk through the full trust
// ladder against real repositories: stub, candidate on first pass, verified on
// a pass the next calendar day.
func TestTrustLifecycle_PromotionToVerified(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	chunkRepo := NewChunkRepository(pool)
	jobRepo := NewGenerationJobRepository(pool)

	clock := &fixedClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	promoter := service.NewPromoterServiceWithDeps(chunkRepo, jobRepo, 3, &service.DefaultUUIDGenerator{}, clock.now)
	resolver := service.NewResolverService(chunkRepo, jobRepo, NewTxRunner(pool), 0)

	resolution, err := resolver.Resolve(ctx, service.ResolveInput{
		VehicleKey: "2019_honda_accord_2.0t",
		ContentID:  "oil_capacity",
		ChunkType:  domain.ChunkTypeFluidCapacity,
	})
	require.NoError(t, err)
	assert.Equal(t, service.ResolutionPending, resolution.Status)

	chunk, err := chunkRepo.Get(ctx, domain.ChunkKey{
		VehicleKey: "2019_honda_accord_2.0t",
		ContentID:  "oil_capacity",
		ChunkType:  domain.ChunkTypeFluidCapacity,
	})
	require.NoError(t, err)

	// Mark the lone scheduled job done so a later fail verdict can re-enqueue.
	claimed, err := jobRepo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, jobRepo.UpdateStatus(ctx, claimed[0].ID, domain.GenerationJobStatusCompleted, ""))

	// First pass: unverified becomes candidate and the chunk turns safe.
	outcome, err := promoter.Apply(ctx, chunk.ID, &service.Verdict{Status: domain.QAStatusPass, Notes: "clean"})
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusCandidate, outcome.VerifiedStatus)
	assert.Equal(t, domain.VisibilitySafe, outcome.Visibility)
	assert.True(t, outcome.Promoted)

	resolution, err = resolver.Resolve(ctx, service.ResolveInput{
		VehicleKey: "2019_honda_accord_2.0t",
		ContentID:  "oil_capacity",
		ChunkType:  domain.ChunkTypeFluidCapacity,
	})
	require.NoError(t, err)
	assert.Equal(t, service.ResolutionSafe, resolution.Status)

	// Same-day second pass does not advance trust.
	outcome, err = promoter.Apply(ctx, chunk.ID, &service.Verdict{Status: domain.QAStatusPass})
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusCandidate, outcome.VerifiedStatus)
	assert.False(t, outcome.Promoted)

	// A pass on the next calendar day promotes to verified.
	clock.t = clock.t.Add(24 * time.Hour)
	outcome, err = promoter.Apply(ctx, chunk.ID, &service.Verdict{Status: domain.QAStatusPass})
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusVerified, outcome.VerifiedStatus)
	assert.True(t, outcome.Promoted)

	persisted, err := chunkRepo.GetByID(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusVerified, persisted.VerifiedStatus)
	assert.NotNil(t, persisted.VerifiedAt)
	assert.Equal(t, 3, persisted.QAPassCount)
	assert.Equal(t, 2, persisted.PromotionCount)
}

// TestTrustLifecycle_VerifiedRegressionBansImmediately exercises the zero
// tolerance rule for verified content.
func TestTrustLifecycle_VerifiedRegressionBansImmediately(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	chunkRepo := NewChunkRepository(pool)
	jobRepo := NewGenerationJobRepository(pool)
	promoter := service.NewPromoterService(chunkRepo, jobRepo, 3)

	stub := newStubChunk("2019_honda_accord_2.0t", "head_bolt_torque", domain.ChunkTypeTorqueSpec)
	require.NoError(t, chunkRepo.CreateStub(ctx, stub))

	now := time.Now().UTC().Truncate(time.Microsecond)
	verified := domain.VerifiedStatusVerified
	require.NoError(t, chunkRepo.UpdateTrust(ctx, stub.ID, service.TrustUpdate{
		QAStatus:       domain.QAStatusPass,
		LastQAPassedAt: &now,
		VerifiedStatus: &verified,
		VerifiedAt:     &now,
	}))

	outcome, err := promoter.Apply(ctx, stub.ID, &service.Verdict{
		Status: domain.QAStatusFail,
		Notes:  "torque value no longer matches",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Banned)
	assert.False(t, outcome.RegenerationScheduled)

	persisted, err := chunkRepo.GetByID(ctx, stub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusBanned, persisted.VerifiedStatus)
	assert.Equal(t, 0, persisted.RegenerationAttempts)
	assert.NotNil(t, persisted.FailedAt)

	// No repair job for a banned chunk.
	inFlight, err := jobRepo.InFlight(ctx, stub.Key())
	require.NoError(t, err)
	assert.False(t, inFlight)

	// Operator unban resets the chunk and schedules one regeneration.
	resolver := service.NewResolverService(chunkRepo, jobRepo, NewTxRunner(pool), 0)
	reset, err := resolver.Unban(ctx, stub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusUnverified, reset.VerifiedStatus)

	inFlight, err = jobRepo.InFlight(ctx, stub.Key())
	require.NoError(t, err)
	assert.True(t, inFlight)
}

// TestTrustLifecycle_FailuresExhaustAttempts drives a quarantined chunk
// through repeated failures until the attempt cap bans it.
func TestTrustLifecycle_FailuresExhaustAttempts(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	chunkRepo := NewChunkRepository(pool)
	jobRepo := NewGenerationJobRepository(pool)
	promoter := service.NewPromoterService(chunkRepo, jobRepo, 3)

	stub := newStubChunk("2019_honda_accord_2.0t", "oil_capacity", domain.ChunkTypeFluidCapacity)
	require.NoError(t, chunkRepo.CreateStub(ctx, stub))

	for i := 1; i <= 3; i++ {
		outcome, err := promoter.Apply(ctx, stub.ID, &service.Verdict{
			Status:     domain.QAStatusFail,
			RepairHint: "placeholder content",
		})
		require.NoError(t, err)
		assert.False(t, outcome.Banned)
		assert.True(t, outcome.RegenerationScheduled)

		// Drain the repair job so the next verdict can schedule another.
		claimed, err := jobRepo.ClaimPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, i, claimed[0].Attempt)
		require.NoError(t, jobRepo.UpdateStatus(ctx, claimed[0].ID, domain.GenerationJobStatusFailed, "still bad"))
	}

	outcome, err := promoter.Apply(ctx, stub.ID, &service.Verdict{
		Status:     domain.QAStatusFail,
		RepairHint: "placeholder content",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Banned)
	assert.False(t, outcome.RegenerationScheduled)

	persisted, err := chunkRepo.GetByID(ctx, stub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifiedStatusBanned, persisted.VerifiedStatus)
	assert.Equal(t, 4, persisted.RegenerationAttempts)
}
