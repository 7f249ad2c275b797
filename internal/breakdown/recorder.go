// Package breakdown records append-only audit trails that decompose a
// computed score into weighted contributions.
package breakdown

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// Epsilon bounds |contribution - value×weight| for each component.
	Epsilon = 1e-6

	// reportedTolerance allows for 2dp rounding of the reported score.
	reportedTolerance = 0.005 + 1e-9
)

// Entry is what a caller submits for recording.
type Entry struct {
	Type        domain.CalculationType
	ReferenceID string
	Formula     *domain.Formula
	Components  []domain.BreakdownComponent

	// Reported is the score the caller persisted, if any. The recorded
	// final value is the sum of contributions and must round to it.
	Reported *float64
}

// Recorder validates and persists breakdowns.
type Recorder struct {
	store domain.BreakdownStore
	now   func() time.Time
}

func NewRecorder(store domain.BreakdownStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record validates e, derives impact percentages and appends the row.
// Nothing is written when validation fails.
func (r *Recorder) Record(ctx context.Context, actor domain.Actor, e Entry) (*domain.CalculationBreakdown, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceBreakdown); err != nil {
		return nil, err
	}

	b, err := Build(e)
	if err != nil {
		if domain.IsInvariantViolation(err) {
			zap.L().Error("invariant violation",
				zap.Bool("invariant", true),
				zap.String("reference_id", e.ReferenceID),
				zap.String("calculation_type", string(e.Type)),
				zap.Error(err))
		}
		return nil, err
	}

	b.ID = uuid.New().String()
	b.CalculatedAt = r.now().UTC()
	b.CalculatedBy = actor.ID

	if err := r.store.SaveBreakdown(ctx, b); err != nil {
		return nil, err
	}

	zap.L().Debug("breakdown: recorded",
		zap.String("breakdown_id", b.ID),
		zap.String("reference_id", b.ReferenceID),
		zap.Int("components", len(b.Components)))
	return b, nil
}

// Latest returns the newest breakdown for a reference. An empty type
// matches any calculation type.
func (r *Recorder) Latest(ctx context.Context, referenceID string, t domain.CalculationType) (*domain.CalculationBreakdown, error) {
	if referenceID == "" {
		return nil, eris.Wrap(domain.ErrValidation, "breakdown: reference_id is required")
	}
	if t != "" && !t.Valid() {
		return nil, eris.Wrapf(domain.ErrValidation, "breakdown: unknown calculation type %q", t)
	}
	return r.store.LatestBreakdown(ctx, referenceID, t)
}

// ListByType returns every breakdown of a type, newest first.
func (r *Recorder) ListByType(ctx context.Context, t domain.CalculationType, limit int) ([]*domain.CalculationBreakdown, error) {
	if !t.Valid() {
		return nil, eris.Wrapf(domain.ErrValidation, "breakdown: unknown calculation type %q", t)
	}
	return r.store.ListBreakdownsByType(ctx, t, limit)
}

// Build validates e and returns an unsaved breakdown.
//
// A component whose contribution disagrees with value×weight, or a sum that
// disagrees with the reported score, is an invariant violation.
func Build(e Entry) (*domain.CalculationBreakdown, error) {
	if !e.Type.Valid() {
		return nil, eris.Wrapf(domain.ErrValidation, "breakdown: unknown calculation type %q", e.Type)
	}
	if e.ReferenceID == "" {
		return nil, eris.Wrap(domain.ErrValidation, "breakdown: reference_id is required")
	}
	if len(e.Components) == 0 {
		return nil, eris.Wrap(domain.ErrValidation, "breakdown: at least one component is required")
	}

	components := make([]domain.BreakdownComponent, len(e.Components))
	copy(components, e.Components)

	var total float64
	for _, c := range components {
		if c.Name == "" {
			return nil, eris.Wrap(domain.ErrValidation, "breakdown: component name is required")
		}
		if !finite(c.Value) || !finite(c.Weight) || !finite(c.Contribution) {
			return nil, eris.Wrapf(domain.ErrValidation, "breakdown: component %s has a non-finite field", c.Name)
		}
		expected := c.Value * c.Weight
		if math.Abs(c.Contribution-expected) > Epsilon*math.Max(1, math.Abs(expected)) {
			return nil, eris.Wrapf(domain.ErrInvariantViolation,
				"breakdown: component %s contribution %v != value %v × weight %v",
				c.Name, c.Contribution, c.Value, c.Weight)
		}
		total += c.Contribution
	}

	if e.Reported != nil && math.Abs(total-*e.Reported) > reportedTolerance {
		return nil, eris.Wrapf(domain.ErrInvariantViolation,
			"breakdown: contributions sum to %v but reported score is %v", total, *e.Reported)
	}

	for i := range components {
		components[i].ImpactPercentage = Impact(components[i].Contribution, total)
	}

	b := &domain.CalculationBreakdown{
		CalculationType: e.Type,
		ReferenceID:     e.ReferenceID,
		FinalValue:      total,
		Components:      components,
	}
	if e.Formula != nil {
		b.FormulaID = e.Formula.ID
		v := e.Formula.Version
		b.FormulaVersion = &v
	}
	if e.Type == domain.CalcComplianceIndex {
		pct := total
		b.FinalPercentage = &pct
	}
	return b, nil
}

// Impact is contribution as a percentage of total, or zero when total is zero.
func Impact(contribution, total float64) float64 {
	if total == 0 {
		return 0
	}
	return contribution / total * 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
