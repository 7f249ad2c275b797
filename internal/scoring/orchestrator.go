// Package scoring orchestrates per-entity risk and compliance runs:
// FETCH_INPUTS, COMPUTE_SUBSCORES, AGGREGATE, CLASSIFY, PERSIST and
// RECORD_BREAKDOWN, executed strictly in order.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/prudence/internal/breach"
	"github.com/opensource-finance/prudence/internal/breakdown"
	"github.com/opensource-finance/prudence/internal/bus"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/formula"
	"github.com/opensource-finance/prudence/internal/ranking"
	"go.uber.org/zap"
)

// Kind selects which score a run computes.
type Kind string

const (
	KindRisk       Kind = "risk"
	KindCompliance Kind = "compliance"
)

// Valid reports whether k is a known run kind.
func (k Kind) Valid() bool {
	return k == KindRisk || k == KindCompliance
}

// Status is the outcome class of one entity's run.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome is the result of one entity's run.
type Outcome struct {
	EntityID    string          `json:"entity_id"`
	Status      Status          `json:"status"`
	Stage       Stage           `json:"stage,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Score       float64         `json:"score,omitempty"`
	RiskTier    domain.RiskTier `json:"risk_level,omitempty"`
	Breach      bool            `json:"breach,omitempty"`
	BreakdownID string          `json:"breakdown_id,omitempty"`

	Err error `json:"-"`
}

func skipped(entityID string, stage Stage, reason string) *Outcome {
	return &Outcome{EntityID: entityID, Status: StatusSkipped, Stage: stage, Reason: reason}
}

func failed(entityID string, stage Stage, err error) *Outcome {
	return &Outcome{EntityID: entityID, Status: StatusFailed, Stage: stage, Reason: err.Error(), Err: err}
}

// Orchestrator runs scoring pipelines against the repository.
type Orchestrator struct {
	repo     domain.Repository
	registry *formula.Registry
	recorder *breakdown.Recorder
	detector *breach.Detector
	bus      domain.EventBus
	cache    domain.Cache
	cfg      domain.ScoringConfig
	now      func() time.Time
}

// New creates an orchestrator. b and c may be nil: events are then not
// published and the run guard is disabled.
func New(repo domain.Repository, registry *formula.Registry, recorder *breakdown.Recorder, b domain.EventBus, c domain.Cache, cfg domain.ScoringConfig) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.StageAttempts <= 0 {
		cfg.StageAttempts = 2
	}
	if cfg.BatchErrorThreshold <= 0 {
		cfg.BatchErrorThreshold = 0.25
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = 15 * time.Minute
	}
	if cfg.MissingPolicy == "" {
		cfg.MissingPolicy = domain.MissingReduce
	}
	if cfg.BreachNoticeTTL <= 0 {
		cfg.BreachNoticeTTL = 30 * 24 * time.Hour
	}

	return &Orchestrator{
		repo:     repo,
		registry: registry,
		recorder: recorder,
		detector: breach.NewDetector(cfg.RiskBreachScore, cfg.ComplianceBreachScore),
		bus:      b,
		cache:    c,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Registry returns the formula registry the orchestrator scores with.
func (o *Orchestrator) Registry() *formula.Registry {
	return o.registry
}

// Recorder returns the breakdown recorder.
func (o *Orchestrator) Recorder() *breakdown.Recorder {
	return o.recorder
}

func runKey(kind Kind, entityID, period string) string {
	return fmt.Sprintf("run:%s:%s:%s", kind, entityID, period)
}

// acquire takes the per (kind, entity, period) run guard. It returns false
// when another run holds it. The returned release is always safe to call.
func (o *Orchestrator) acquire(ctx context.Context, kind Kind, entityID, period string) (bool, func()) {
	if o.cache == nil {
		return true, func() {}
	}

	key := runKey(kind, entityID, period)
	n, err := o.cache.IncrementCounter(ctx, key, o.cfg.RunLockTTL)
	if err != nil {
		zap.L().Warn("scoring: run guard unavailable", zap.String("key", key), zap.Error(err))
		return true, func() {}
	}
	if n > 1 {
		return false, func() {}
	}
	return true, func() {
		if err := o.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
			zap.L().Warn("scoring: release run guard", zap.String("key", key), zap.Error(err))
		}
		if err := o.cache.Delete(context.WithoutCancel(ctx), ranking.CacheKey); err != nil {
			zap.L().Debug("scoring: drop cached ranking", zap.Error(err))
		}
	}
}

func (o *Orchestrator) publishScore(ctx context.Context, ev domain.ScoreEvent) {
	if o.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, o.bus, domain.TopicScoreComputed, ev); err != nil {
		zap.L().Warn("scoring: publish score event",
			zap.String("entity_id", ev.EntityID), zap.Error(err))
	}
}

func breachKey(kind domain.BreachKind, referenceID string) string {
	return fmt.Sprintf("breach:%s:%s", kind, referenceID)
}

// settleBreach reports whether the record referenceID is in breach. An
// event is published only when the record enters breach: records already
// notified are not published again, and a record that leaves breach is
// forgotten so that re-entering notifies once more.
func (o *Orchestrator) settleBreach(ctx context.Context, kind domain.BreachKind, referenceID string, ev *domain.BreachEvent) (inBreach, published bool) {
	key := breachKey(kind, referenceID)
	if ev == nil {
		if o.cache != nil {
			if err := o.cache.Delete(ctx, key); err != nil {
				zap.L().Debug("scoring: clear breach marker", zap.String("key", key), zap.Error(err))
			}
		}
		return false, false
	}

	if o.cache != nil {
		seen, err := o.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("scoring: breach marker unavailable", zap.String("key", key), zap.Error(err))
		} else if seen != nil {
			return true, false
		}
	}

	zap.L().Info("scoring: breach detected",
		zap.String("entity_id", ev.EntityID),
		zap.String("kind", string(ev.Kind)),
		zap.String("reason", breach.Reason(ev)))
	if o.bus == nil {
		return true, false
	}
	if err := breach.Publish(ctx, o.bus, ev); err != nil {
		zap.L().Warn("scoring: publish breach event",
			zap.String("entity_id", ev.EntityID), zap.Error(err))
		return true, false
	}
	if o.cache != nil {
		stamp := []byte(ev.DetectedAt.UTC().Format(time.RFC3339))
		if err := o.cache.Set(ctx, key, stamp, o.cfg.BreachNoticeTTL); err != nil {
			zap.L().Warn("scoring: set breach marker", zap.String("key", key), zap.Error(err))
		}
	}
	return true, true
}

// recordBreakdown runs RECORD_BREAKDOWN. A failure is returned for the
// caller to surface as degraded; it never undoes the persisted score.
func (o *Orchestrator) recordBreakdown(ctx context.Context, actor domain.Actor, entityID string, e breakdown.Entry) (*domain.CalculationBreakdown, error) {
	var b *domain.CalculationBreakdown
	err := o.runStage(ctx, StageRecordBreakdown, entityID, func(ctx context.Context) error {
		var err error
		b, err = o.recorder.Record(ctx, actor, e)
		return err
	})
	return b, err
}
