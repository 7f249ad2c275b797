package scoring

import (
	"context"
	"testing"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatchContinuesPastFailures(t *testing.T) {
	f := newFixture(t, domain.ScoringConfig{BatchErrorThreshold: 0.5})
	f.seedEntity(t, "mfi-1", true)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveEntity(ctx, &domain.Entity{ID: "mfi-2", Name: "No Data", Active: true}))

	report, err := f.orch.RunBatch(ctx, system, RunRequest{
		Kind:      KindRisk,
		EntityIDs: []string{"mfi-1", "mfi-2", "ghost"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "mfi-1", report.Outcomes[0].EntityID)
	assert.Equal(t, StatusFailed, report.Outcomes[2].Status)
}

func TestRunBatchFailsAboveThreshold(t *testing.T) {
	f := newFixture(t, domain.ScoringConfig{BatchErrorThreshold: 0.25})
	f.seedEntity(t, "mfi-1", true)

	report, err := f.orch.RunBatch(context.Background(), system, RunRequest{
		Kind:      KindRisk,
		EntityIDs: []string{"mfi-1", "ghost-1", "ghost-2"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchFailed)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Failed)
	assert.InDelta(t, 2.0/3.0, report.ErrorRate(), 1e-9)
}

func TestRunBatchAllActiveEntities(t *testing.T) {
	f := newFixture(t, domain.ScoringConfig{})
	f.seedEntity(t, "mfi-1", true)
	f.seedEntity(t, "mfi-2", true)
	ctx := context.Background()

	risk, err := f.orch.RunBatch(ctx, system, RunRequest{Kind: KindRisk})
	require.NoError(t, err)
	assert.Equal(t, 2, risk.Succeeded)

	comp, err := f.orch.RunBatch(ctx, system, RunRequest{Kind: KindCompliance})
	require.NoError(t, err)
	assert.Equal(t, 2, comp.Succeeded)
}

func TestRunBatchValidation(t *testing.T) {
	f := newFixture(t, domain.ScoringConfig{})

	_, err := f.orch.RunBatch(context.Background(), system, RunRequest{Kind: "fsi"})
	assert.True(t, domain.IsValidation(err))

	_, err = f.orch.RunBatch(context.Background(), system, RunRequest{Kind: KindCompliance, Cadence: "AD_HOC"})
	assert.True(t, domain.IsValidation(err))
}

func TestSweepBreaches(t *testing.T) {
	f := newFixture(t, domain.ScoringConfig{RiskBreachScore: 40, ComplianceBreachScore: 70})
	f.seedEntity(t, "mfi-1", true)
	ctx := context.Background()

	require.Equal(t, StatusSuccess, f.orch.ScoreRisk(ctx, system, RiskRun{EntityID: "mfi-1"}).Status)
	require.Equal(t, StatusSuccess, f.orch.ScoreCompliance(ctx, system, ComplianceRun{EntityID: "mfi-1"}).Status)

	found, err := f.orch.SweepBreaches(ctx, system)
	require.NoError(t, err)
	assert.Equal(t, 2, found)
}
