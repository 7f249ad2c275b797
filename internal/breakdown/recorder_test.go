package breakdown

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var officer = domain.Actor{ID: "officer-1", Role: domain.RoleComplianceOfficer}

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "breakdowns.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewRecorder(repo)
}

func riskComponents() []domain.BreakdownComponent {
	return []domain.BreakdownComponent{
		{Name: "financial_stability", Value: 75, Weight: 0.25, Contribution: 18.75},
		{Name: "inherent", Value: 60, Weight: 0.20, Contribution: 12},
		{Name: "operational", Value: 70, Weight: 0.20, Contribution: 14},
		{Name: "market", Value: 65, Weight: 0.15, Contribution: 9.75},
		{Name: "credit", Value: 55, Weight: 0.20, Contribution: 11},
	}
}

func TestBuildConservesContributions(t *testing.T) {
	reported := 65.5
	b, err := Build(Entry{
		Type:        domain.CalcRiskScore,
		ReferenceID: "assessment-1",
		Components:  riskComponents(),
		Reported:    &reported,
	})
	require.NoError(t, err)

	var sum, impact float64
	for _, c := range b.Components {
		sum += c.Contribution
		impact += c.ImpactPercentage
	}
	assert.InDelta(t, b.FinalValue, sum, 1e-6)
	assert.InDelta(t, 100, impact, 0.01)
	assert.InDelta(t, 28.6259, b.Components[0].ImpactPercentage, 1e-3)
}

func TestBuildRejectsMismatchedContribution(t *testing.T) {
	components := riskComponents()
	components[2].Contribution = 15

	_, err := Build(Entry{Type: domain.CalcRiskScore, ReferenceID: "assessment-1", Components: components})
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
}

func TestBuildRejectsSumThatDisagreesWithReported(t *testing.T) {
	reported := 70.0
	_, err := Build(Entry{
		Type:        domain.CalcRiskScore,
		ReferenceID: "assessment-1",
		Components:  riskComponents(),
		Reported:    &reported,
	})
	assert.True(t, domain.IsInvariantViolation(err))
}

func TestBuildAllZeroContributions(t *testing.T) {
	b, err := Build(Entry{
		Type:        domain.CalcComplianceIndex,
		ReferenceID: "index-1",
		Components: []domain.BreakdownComponent{
			{Name: "a", Value: 0, Weight: 1, Contribution: 0},
			{Name: "b", Value: 10, Weight: 0, Contribution: 0},
		},
	})
	require.NoError(t, err)
	for _, c := range b.Components {
		assert.Zero(t, c.ImpactPercentage)
	}
	require.NotNil(t, b.FinalPercentage)
	assert.Zero(t, *b.FinalPercentage)
}

func TestBuildValidation(t *testing.T) {
	tests := map[string]Entry{
		"unknown type":  {Type: "NOPE", ReferenceID: "x", Components: riskComponents()},
		"no reference":  {Type: domain.CalcRiskScore, Components: riskComponents()},
		"no components": {Type: domain.CalcRiskScore, ReferenceID: "x"},
		"unnamed":       {Type: domain.CalcRiskScore, ReferenceID: "x", Components: []domain.BreakdownComponent{{Value: 1, Weight: 1, Contribution: 1}}},
	}
	for name, e := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Build(e)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestRecordAndQuery(t *testing.T) {
	rec := newRecorder(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC)
	rec.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	f := &domain.Formula{ID: "formula-1", Version: 3}
	first, err := rec.Record(ctx, officer, Entry{
		Type: domain.CalcRiskScore, ReferenceID: "assessment-1", Formula: f, Components: riskComponents(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, officer.ID, first.CalculatedBy)

	components := riskComponents()
	components[0] = domain.BreakdownComponent{Name: "financial_stability", Value: 80, Weight: 0.25, Contribution: 20}
	second, err := rec.Record(ctx, officer, Entry{
		Type: domain.CalcRiskScore, ReferenceID: "assessment-1", Formula: f, Components: components,
	})
	require.NoError(t, err)

	latest, err := rec.Latest(ctx, "assessment-1", domain.CalcRiskScore)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	require.NotNil(t, latest.FormulaVersion)
	assert.Equal(t, 3, *latest.FormulaVersion)

	all, err := rec.ListByType(ctx, domain.CalcRiskScore, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = rec.Latest(ctx, "missing", "")
	assert.True(t, domain.IsNotFound(err))
}

func TestRecordRequiresCapability(t *testing.T) {
	rec := newRecorder(t)
	accountant := domain.Actor{ID: "acc-1", Role: domain.RoleAccountant}

	_, err := rec.Record(context.Background(), accountant, Entry{
		Type: domain.CalcRiskScore, ReferenceID: "assessment-1", Components: riskComponents(),
	})
	assert.True(t, domain.IsForbidden(err))
}

func TestRecordInvariantViolationWritesNothing(t *testing.T) {
	rec := newRecorder(t)
	ctx := context.Background()

	components := riskComponents()
	components[0].Contribution = 99
	_, err := rec.Record(ctx, officer, Entry{Type: domain.CalcRiskScore, ReferenceID: "assessment-9", Components: components})
	require.Error(t, err)

	_, err = rec.Latest(ctx, "assessment-9", "")
	assert.True(t, domain.IsNotFound(err))
}
