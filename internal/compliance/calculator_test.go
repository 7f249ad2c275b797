package compliance

import (
	"testing"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func survey(r, y, n int, pi, bi, adj float64) *domain.ComplianceIndex {
	c := domain.NewComplianceIndex("mfi-1", "2026-Q3", domain.AnalysisQuarterly)
	c.TotalResponses, c.TotalYes, c.TotalNo = r, y, n
	c.PositiveWeight, c.NegativeWeight = pi, bi
	c.PostInspectionAdjustment = adj
	return c
}

func sumContributions(cs []domain.BreakdownComponent) float64 {
	var s float64
	for _, c := range cs {
		s += c.Contribution
	}
	return s
}

func TestPRBSAllYes(t *testing.T) {
	res, err := Calculate(survey(10, 10, 0, 1, 1, 0))
	require.NoError(t, err)

	assert.Equal(t, PathPRBS, res.Path)
	assert.Equal(t, 99.5, res.Raw)
	assert.Equal(t, 99.5, res.Base)
	assert.Equal(t, 99.5, res.Final)
	assert.InDelta(t, res.Exact, sumContributions(res.Components), 1e-9)
}

func TestPRBSAdjustmentClampsFinal(t *testing.T) {
	res, err := Calculate(survey(10, 10, 0, 1, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, 99.5, res.Base)
	assert.Equal(t, 100.0, res.Final)

	names := make([]string, 0, len(res.Components))
	for _, c := range res.Components {
		names = append(names, c.Name)
		assert.InDelta(t, c.Value*c.Weight, c.Contribution, 1e-9, c.Name)
	}
	assert.Contains(t, names, "final_clamp_correction")
	assert.InDelta(t, 100, sumContributions(res.Components), 1e-9)
}

func TestPRBSAllNo(t *testing.T) {
	res, err := Calculate(survey(10, 0, 10, 1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 98.0, res.Base)
}

func TestPRBSRawBelowZeroIsClamped(t *testing.T) {
	res, err := Calculate(survey(1, 0, 1, 1, 500, 0))
	require.NoError(t, err)

	assert.Equal(t, -401.0, res.Raw)
	assert.Equal(t, 0.0, res.Base)
	assert.Equal(t, 0.0, res.Final)
	assert.InDelta(t, 0, sumContributions(res.Components), 1e-9)
}

func TestBaselinePath(t *testing.T) {
	c := domain.NewComplianceIndex("mfi-1", "2026", domain.AnalysisAnnual)
	c.OverallComplianceScore = 70
	c.PostInspectionAdjustment = -80

	res, err := Calculate(c)
	require.NoError(t, err)
	assert.Equal(t, PathBaseline, res.Path)
	assert.Equal(t, 70.0, res.Base)
	assert.Equal(t, 0.0, res.Final)
}

func TestCalculateIsIdempotent(t *testing.T) {
	c := survey(12, 7, 3, 1.2, 0.8, -3.5)

	first, err := Calculate(c)
	require.NoError(t, err)
	Apply(c, first)

	second, err := Calculate(c)
	require.NoError(t, err)
	assert.Equal(t, first.Final, second.Final)
	assert.Equal(t, first.Components, second.Components)
}

func TestCalculateValidation(t *testing.T) {
	tests := map[string]*domain.ComplianceIndex{
		"negative tally":   survey(10, -1, 0, 1, 1, 0),
		"tallies exceed R": survey(10, 8, 5, 1, 1, 0),
		"negative weight":  survey(10, 5, 5, -1, 1, 0),
	}
	baseline := domain.NewComplianceIndex("mfi-1", "2026", domain.AnalysisAnnual)
	baseline.OverallComplianceScore = 140
	tests["baseline out of range"] = baseline

	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Calculate(c)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestBaselineScore(t *testing.T) {
	open := &domain.Inspection{Status: domain.InspectionOpen}
	resolved := &domain.Inspection{Status: domain.InspectionResolved}

	assert.Equal(t, 75.0, BaselineScore("", nil))
	assert.Equal(t, 100.0, BaselineScore(domain.TierLow, resolved))
	assert.Equal(t, 40.0, BaselineScore(domain.TierCritical, open))
	assert.Equal(t, 60.0, BaselineScore(domain.TierMedium, open))

	assert.True(t, IsBreach(59.99, 60))
	assert.False(t, IsBreach(60, 60))
}
