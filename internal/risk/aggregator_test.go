package risk

import (
	"testing"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func measures(fsi, inherent, operational, market, credit float64) map[domain.SubScore]domain.Measure {
	return map[domain.SubScore]domain.Measure{
		domain.SubScoreFinancialStability: domain.Present(fsi),
		domain.SubScoreInherent:           domain.Present(inherent),
		domain.SubScoreOperational:        domain.Present(operational),
		domain.SubScoreMarket:             domain.Present(market),
		domain.SubScoreCredit:             domain.Present(credit),
	}
}

func defaultAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)
	return a
}

func TestAggregateDefaultWeights(t *testing.T) {
	a := defaultAggregator(t)

	// 75×0.25 + 60×0.20 + 70×0.20 + 65×0.15 + 55×0.20
	res, err := a.Aggregate(measures(75, 60, 70, 65, 55), Options{})
	require.NoError(t, err)

	assert.Equal(t, 65.5, res.Score)
	assert.Equal(t, domain.TierMediumHigh, res.Tier)
	assert.False(t, res.Reduced)
	require.Len(t, res.Contributions, 5)

	var sum float64
	for _, c := range res.Contributions {
		assert.InDelta(t, c.Value*c.Weight, c.Contribution, 1e-9)
		sum += c.Contribution
	}
	assert.InDelta(t, res.Exact, sum, 1e-9)
}

func TestAggregateRoundsToTwoPlaces(t *testing.T) {
	a := defaultAggregator(t)

	res, err := a.Aggregate(measures(33.333, 33.333, 33.333, 33.333, 33.333), Options{})
	require.NoError(t, err)
	assert.Equal(t, 33.33, res.Score)
}

func TestAggregateRejectsOutOfRange(t *testing.T) {
	a := defaultAggregator(t)

	for _, v := range []float64{-0.01, 100.01, 250} {
		_, err := a.Aggregate(measures(v, 50, 50, 50, 50), Options{})
		assert.True(t, domain.IsValidation(err), "value %v should be rejected", v)
	}

	res, err := a.Aggregate(measures(100, 100, 100, 100, 100), Options{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Score)
	assert.Equal(t, domain.TierCritical, res.Tier)
}

func TestAggregateMissingSubScore(t *testing.T) {
	a := defaultAggregator(t)
	scores := measures(80, 60, 40, 0, 20)
	scores[domain.SubScoreMarket] = domain.Missing("no prior assessment")

	_, err := a.Aggregate(scores, Options{})
	assert.True(t, domain.IsValidation(err))

	res, err := a.Aggregate(scores, Options{AllowReduced: true})
	require.NoError(t, err)
	assert.True(t, res.Reduced)
	assert.Equal(t, []domain.SubScore{domain.SubScoreMarket}, res.Missing)

	// (80×0.25 + 60×0.20 + 40×0.20 + 20×0.20) / 0.85
	assert.Equal(t, 51.76, res.Score)

	var weight float64
	for _, c := range res.Contributions {
		weight += c.Weight
	}
	assert.InDelta(t, 1.0, weight, 1e-9)
}

func TestAggregateInvalidSubScore(t *testing.T) {
	a := defaultAggregator(t)
	scores := measures(80, 60, 40, 30, 20)
	scores[domain.SubScoreCredit] = domain.Invalid("zero equity")

	_, err := a.Aggregate(scores, Options{AllowReduced: true})
	assert.True(t, domain.IsValidation(err))
}

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		ok      bool
	}{
		{"defaults", DefaultWeights(), true},
		{"sum above one", Weights{
			domain.SubScoreFinancialStability: 0.3, domain.SubScoreInherent: 0.2,
			domain.SubScoreOperational: 0.2, domain.SubScoreMarket: 0.15, domain.SubScoreCredit: 0.2,
		}, false},
		{"missing key", Weights{
			domain.SubScoreFinancialStability: 0.45, domain.SubScoreInherent: 0.2,
			domain.SubScoreOperational: 0.2, domain.SubScoreMarket: 0.15,
		}, false},
		{"unknown key", Weights{
			domain.SubScoreFinancialStability: 0.25, domain.SubScoreInherent: 0.2,
			domain.SubScoreOperational: 0.2, domain.SubScoreMarket: 0.15, "liquidity": 0.2,
		}, false},
		{"negative", Weights{
			domain.SubScoreFinancialStability: 0.65, domain.SubScoreInherent: -0.2,
			domain.SubScoreOperational: 0.2, domain.SubScoreMarket: 0.15, domain.SubScoreCredit: 0.2,
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, domain.IsValidation(err))
			}
		})
	}

	_, err := NewAggregator(Weights{})
	assert.True(t, domain.IsValidation(err))
}

func TestClassifyLadder(t *testing.T) {
	tests := []struct {
		score float64
		tier  domain.RiskTier
	}{
		{0, domain.TierLow},
		{20, domain.TierLow},
		{20.01, domain.TierMediumLow},
		{40, domain.TierMediumLow},
		{60, domain.TierMedium},
		{60.01, domain.TierMediumHigh},
		{80, domain.TierMediumHigh},
		{85, domain.TierHigh},
		{90, domain.TierHigh},
		{90.01, domain.TierCritical},
		{100, domain.TierCritical},
	}
	for _, tt := range tests {
		got, err := Classify(tt.score)
		require.NoError(t, err)
		assert.Equal(t, tt.tier, got, "score %v", tt.score)
	}

	_, err := Classify(100.5)
	assert.True(t, domain.IsValidation(err))
}

func TestClassifyMonotonic(t *testing.T) {
	prev := -1
	for s := 0.0; s <= 100.0; s += 0.25 {
		tier, err := Classify(s)
		require.NoError(t, err)
		require.GreaterOrEqual(t, tier.Rank(), prev, "tier dropped at %v", s)
		prev = tier.Rank()
	}
}
