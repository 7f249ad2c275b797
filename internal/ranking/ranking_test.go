package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/cache"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reader = domain.Actor{ID: "acc-1", Role: domain.RoleAccountant}

type fakeSource struct {
	entities []*domain.Entity
	history  map[string][]*domain.RiskAssessment
	calls    int
}

func (f *fakeSource) ListActiveEntities(context.Context) ([]*domain.Entity, error) {
	f.calls++
	return f.entities, nil
}

func (f *fakeSource) ListRiskAssessments(_ context.Context, entityID string, limit int) ([]*domain.RiskAssessment, error) {
	h := f.history[entityID]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func assessment(id string, score float64, tier domain.RiskTier) *domain.RiskAssessment {
	return &domain.RiskAssessment{ID: id, OverallRiskScore: score, RiskTier: tier}
}

func newSource() *fakeSource {
	return &fakeSource{
		entities: []*domain.Entity{
			{ID: "e1", Name: "Alpha Microfinance", Active: true},
			{ID: "e2", Name: "Beta Savings", Active: true},
			{ID: "e3", Name: "Gamma Credit", Active: true},
			{ID: "e4", Name: "Delta Lending", Active: true},
		},
		history: map[string][]*domain.RiskAssessment{
			"e1": {assessment("a1", 42, domain.TierMedium), assessment("a0", 50, domain.TierMedium)},
			"e2": {assessment("b1", 85, domain.TierHigh), assessment("b0", 70, domain.TierMediumHigh)},
			"e3": {assessment("c1", 42, domain.TierMedium)},
		},
	}
}

func TestIndustryRanking(t *testing.T) {
	svc := NewService(newSource(), nil, 0)

	entries, err := svc.Industry(context.Background(), reader, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "e2", entries[0].EntityID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, domain.TrendUp, entries[0].Trend)

	assert.Equal(t, "e1", entries[1].EntityID)
	assert.Equal(t, domain.TrendDown, entries[1].Trend)
	require.NotNil(t, entries[1].PreviousScore)
	assert.Equal(t, 50.0, *entries[1].PreviousScore)

	assert.Equal(t, "e3", entries[2].EntityID)
	assert.Equal(t, domain.TrendFlat, entries[2].Trend)
	assert.Nil(t, entries[2].PreviousScore)
}

func TestIndustryRankingIsCached(t *testing.T) {
	src := newSource()
	c := cache.NewLRUCache(10)
	svc := NewService(src, c, time.Minute)
	ctx := context.Background()

	_, err := svc.Industry(ctx, reader, 0)
	require.NoError(t, err)
	top, err := svc.Industry(ctx, reader, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	require.Len(t, top, 1)
	assert.Equal(t, "e2", top[0].EntityID)

	require.NoError(t, c.Delete(ctx, CacheKey))
	_, err = svc.Industry(ctx, reader, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestIndustryRequiresActor(t *testing.T) {
	svc := NewService(newSource(), nil, 0)
	_, err := svc.Industry(context.Background(), domain.Actor{}, 0)
	assert.True(t, domain.IsForbidden(err))
}

func TestTrendOf(t *testing.T) {
	assert.Equal(t, domain.TrendUp, TrendOf(2, 1))
	assert.Equal(t, domain.TrendDown, TrendOf(1, 2))
	assert.Equal(t, domain.TrendFlat, TrendOf(1, 1))
}
