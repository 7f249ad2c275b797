// Package ranking orders supervised entities by their latest overall risk
// score and reports the trend against the previous assessment.
package ranking

import (
	"context"
	"sort"
	"time"

	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/cache"
	"github.com/opensource-finance/prudence/internal/domain"
	"go.uber.org/zap"
)

// CacheKey holds the last computed industry ranking.
const CacheKey = "ranking:industry"

const defaultTTL = time.Minute

// Source is the read surface the ranking needs.
type Source interface {
	ListActiveEntities(ctx context.Context) ([]*domain.Entity, error)
	ListRiskAssessments(ctx context.Context, entityID string, limit int) ([]*domain.RiskAssessment, error)
}

// Service computes industry rankings.
type Service struct {
	source Source
	cache  domain.Cache
	ttl    time.Duration
}

// NewService creates a ranking service. c may be nil.
func NewService(source Source, c domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{source: source, cache: c, ttl: ttl}
}

// Industry returns every entity with at least one assessment, highest
// risk first. limit <= 0 returns all.
func (s *Service) Industry(ctx context.Context, actor domain.Actor, limit int) ([]domain.RankingEntry, error) {
	if err := authz.Require(actor, authz.ActionRead, authz.ResourceRanking); err != nil {
		return nil, err
	}

	var entries []domain.RankingEntry
	hit := false
	if s.cache != nil {
		var err error
		if hit, err = cache.GetJSON(ctx, s.cache, CacheKey, &entries); err != nil {
			zap.L().Warn("ranking: cache read failed", zap.Error(err))
		}
	}

	if !hit {
		var err error
		entries, err = s.compute(ctx)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := cache.SetJSON(ctx, s.cache, CacheKey, entries, s.ttl); err != nil {
				zap.L().Warn("ranking: cache write failed", zap.Error(err))
			}
		}
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Service) compute(ctx context.Context) ([]domain.RankingEntry, error) {
	entities, err := s.source.ListActiveEntities(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.RankingEntry, 0, len(entities))
	for _, e := range entities {
		history, err := s.source.ListRiskAssessments(ctx, e.ID, 2)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			continue
		}

		latest := history[0]
		entry := domain.RankingEntry{
			EntityID:         e.ID,
			EntityName:       e.Name,
			AssessmentID:     latest.ID,
			OverallRiskScore: latest.OverallRiskScore,
			RiskTier:         latest.RiskTier,
			Trend:            domain.TrendFlat,
		}
		if len(history) > 1 {
			prev := history[1].OverallRiskScore
			entry.PreviousScore = &prev
			entry.Trend = TrendOf(latest.OverallRiskScore, prev)
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].OverallRiskScore != entries[j].OverallRiskScore {
			return entries[i].OverallRiskScore > entries[j].OverallRiskScore
		}
		return entries[i].EntityName < entries[j].EntityName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// TrendOf compares a score with its predecessor.
func TrendOf(current, previous float64) domain.Trend {
	switch {
	case current > previous:
		return domain.TrendUp
	case current < previous:
		return domain.TrendDown
	default:
		return domain.TrendFlat
	}
}
