package formula

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/cache"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/risk"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultFormulaTTL = 5 * time.Minute

// Registry is the versioned formula store with activation semantics.
type Registry struct {
	store     domain.FormulaStore
	cache     domain.Cache
	evaluator *Evaluator
	ttl       time.Duration
}

// NewRegistry creates a registry. c may be nil to disable caching.
func NewRegistry(store domain.FormulaStore, c domain.Cache, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultFormulaTTL
	}
	return &Registry{
		store:     store,
		cache:     c,
		evaluator: NewEvaluator(),
		ttl:       ttl,
	}
}

// Evaluator returns the evaluator shared with callers that score entities.
func (r *Registry) Evaluator() *Evaluator {
	return r.evaluator
}

func activeKey(t domain.FormulaType) string {
	return "formula:active:" + string(t)
}

// Create stores f as version 1. The first formula of a type is activated.
func (r *Registry) Create(ctx context.Context, actor domain.Actor, f *domain.Formula) (*domain.Formula, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceFormula); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, eris.Wrap(domain.ErrValidation, "formula: body is required")
	}

	now := time.Now().UTC()
	created := f.Clone()
	created.ID = uuid.New().String()
	created.Version = 1
	created.Active = false
	created.Builtin = false
	created.CreatedBy = actor.ID
	created.UpdatedBy = actor.ID
	created.CreatedAt = now
	created.UpdatedAt = now

	if err := r.Validate(created); err != nil {
		return nil, err
	}

	siblings, err := r.store.ListFormulas(ctx, created.FormulaType)
	if err != nil {
		return nil, err
	}

	if err := r.store.CreateFormula(ctx, created); err != nil {
		return nil, err
	}

	zap.L().Info("formula: created",
		zap.String("formula_id", created.ID),
		zap.String("formula_type", string(created.FormulaType)),
		zap.String("actor", actor.ID))

	if len(siblings) == 0 {
		return r.Activate(ctx, actor, created.ID)
	}
	return created, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Formula, error) {
	return r.store.GetFormula(ctx, id)
}

// List returns every formula of a type, newest version first.
func (r *Registry) List(ctx context.Context, t domain.FormulaType) ([]*domain.Formula, error) {
	if !t.Valid() {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: unknown type %q", t)
	}
	return r.store.ListFormulas(ctx, t)
}

// Versions returns the immutable snapshots of a formula.
func (r *Registry) Versions(ctx context.Context, id string) ([]*domain.FormulaVersion, error) {
	return r.store.ListFormulaVersions(ctx, id)
}

// GetActive returns the single active formula of type t.
// It returns ErrNotFound when none is active.
func (r *Registry) GetActive(ctx context.Context, t domain.FormulaType) (*domain.Formula, error) {
	if !t.Valid() {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: unknown type %q", t)
	}

	if r.cache != nil {
		var cached domain.Formula
		hit, err := cache.GetJSON(ctx, r.cache, activeKey(t), &cached)
		if err != nil {
			zap.L().Warn("formula: cache read failed", zap.String("formula_type", string(t)), zap.Error(err))
		}
		if hit {
			return &cached, nil
		}
	}

	f, err := r.store.GetActiveFormula(ctx, t)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, activeKey(t), f, r.ttl); err != nil {
			zap.L().Warn("formula: cache write failed", zap.String("formula_type", string(t)), zap.Error(err))
		}
	}
	return f, nil
}

// ActiveOrDefault returns the active formula of type t, falling back to the
// built-in default when none is active.
func (r *Registry) ActiveOrDefault(ctx context.Context, t domain.FormulaType) (*domain.Formula, error) {
	f, err := r.GetActive(ctx, t)
	if err == nil {
		return f, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}
	if b := Builtin(t); b != nil {
		return b, nil
	}
	return nil, err
}

// Activate makes id the only active formula of its type. A concurrency
// conflict is retried once before it is surfaced.
func (r *Registry) Activate(ctx context.Context, actor domain.Actor, id string) (*domain.Formula, error) {
	if err := authz.Require(actor, authz.ActionActivate, authz.ResourceFormula); err != nil {
		return nil, err
	}

	f, err := r.store.ActivateFormula(ctx, id, actor.ID)
	if domain.IsConcurrencyConflict(err) {
		zap.L().Warn("formula: activation conflict, retrying", zap.String("formula_id", id))
		f, err = r.store.ActivateFormula(ctx, id, actor.ID)
	}
	if err != nil {
		if domain.IsInvariantViolation(err) {
			zap.L().Error("invariant violation",
				zap.Bool("invariant", true), zap.String("formula_id", id), zap.Error(err))
		}
		return nil, err
	}

	r.invalidate(ctx, f.FormulaType)

	zap.L().Info("formula: activated",
		zap.String("formula_id", f.ID),
		zap.String("formula_type", string(f.FormulaType)),
		zap.Int("version", f.Version),
		zap.String("actor", actor.ID))
	return f, nil
}

// Duplicate copies a formula into a new inactive row at source version + 1.
func (r *Registry) Duplicate(ctx context.Context, actor domain.Actor, id string) (*domain.Formula, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceFormula); err != nil {
		return nil, err
	}

	src, err := r.store.GetFormula(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dup := src.Clone()
	dup.ID = uuid.New().String()
	dup.Name = src.Name + " (Copy)"
	dup.Version = src.Version + 1
	dup.Active = false
	dup.CreatedBy = actor.ID
	dup.UpdatedBy = actor.ID
	dup.ChangeNotes = fmt.Sprintf("Duplicated from %s version %d", src.ID, src.Version)
	dup.CreatedAt = now
	dup.UpdatedAt = now

	if err := r.store.CreateFormula(ctx, dup); err != nil {
		return nil, err
	}

	zap.L().Info("formula: duplicated",
		zap.String("source_id", src.ID), zap.String("formula_id", dup.ID), zap.String("actor", actor.ID))
	return dup, nil
}

// RecordEdit applies changes, bumps the version and snapshots the result.
func (r *Registry) RecordEdit(ctx context.Context, actor domain.Actor, id string, changes domain.FormulaChanges) (*domain.Formula, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceFormula); err != nil {
		return nil, err
	}
	if changes.Empty() {
		return nil, eris.Wrap(domain.ErrValidation, "formula: edit changes nothing")
	}

	cur, err := r.store.GetFormula(ctx, id)
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if changes.Name != nil {
		next.Name = *changes.Name
	}
	if changes.Description != nil {
		next.Description = *changes.Description
	}
	if changes.Expression != nil {
		next.Expression = *changes.Expression
	}
	if changes.Variables != nil {
		next.Variables = changes.Variables
	}
	if changes.Weights != nil {
		next.Weights = changes.Weights
	}
	if changes.Thresholds != nil {
		next.Thresholds = changes.Thresholds
	}
	next.Version = cur.Version + 1
	next.UpdatedBy = actor.ID
	next.ChangeNotes = changes.ChangeNotes
	next.UpdatedAt = time.Now().UTC()

	if err := r.Validate(next); err != nil {
		return nil, err
	}
	if err := r.store.UpdateFormula(ctx, next, cur.Version); err != nil {
		return nil, err
	}

	r.evaluator.Forget(id)
	if next.Active {
		r.invalidate(ctx, next.FormulaType)
	}

	zap.L().Info("formula: edited",
		zap.String("formula_id", id), zap.Int("version", next.Version), zap.String("actor", actor.ID))
	return next, nil
}

// ValidateExpression compiles expression against variables.
func (r *Registry) ValidateExpression(expression string, variables map[string]string) error {
	return r.evaluator.Validate(expression, variables)
}

// Evaluate runs the stored formula id against inputs without persisting
// anything.
func (r *Registry) Evaluate(ctx context.Context, id string, inputs map[string]float64) (domain.Measure, error) {
	f, err := r.store.GetFormula(ctx, id)
	if err != nil {
		return domain.Measure{}, err
	}
	measures := make(map[string]domain.Measure, len(inputs))
	for k, v := range inputs {
		measures[k] = domain.Present(v)
	}
	return r.evaluator.Evaluate(ctx, f, measures)
}

// Validate checks a formula before it is stored.
func (r *Registry) Validate(f *domain.Formula) error {
	if !f.FormulaType.Valid() {
		return eris.Wrapf(domain.ErrValidation, "formula: unknown type %q", f.FormulaType)
	}
	if strings.TrimSpace(f.Name) == "" {
		return eris.Wrap(domain.ErrValidation, "formula: name is required")
	}

	for k, v := range f.Thresholds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Wrapf(domain.ErrValidation, "formula: threshold %s is not finite", k)
		}
	}

	switch f.FormulaType {
	case domain.FormulaCompositeRisk:
		if err := risk.WeightsFromMap(f.Weights).Validate(); err != nil {
			return err
		}
	case domain.FormulaComplianceScore:
		for _, k := range []string{"positive", "negative"} {
			v, ok := f.Weights[k]
			if !ok {
				continue
			}
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return eris.Wrapf(domain.ErrValidation, "formula: %s weight must be a non-negative number", k)
			}
		}
	}

	if weightsOnly(f.FormulaType) && f.Expression == "" {
		return nil
	}
	return r.evaluator.Validate(f.Expression, f.Variables)
}

func (r *Registry) invalidate(ctx context.Context, t domain.FormulaType) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, activeKey(t)); err != nil {
		zap.L().Warn("formula: cache invalidation failed", zap.String("formula_type", string(t)), zap.Error(err))
	}
}

// SeedBuiltins persists the built-in default of every type that has no
// stored formula yet. Seeded formulas become active as the first of their
// type. It returns the formulas it created.
func (r *Registry) SeedBuiltins(ctx context.Context, actor domain.Actor) ([]*domain.Formula, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceFormula); err != nil {
		return nil, err
	}

	var seeded []*domain.Formula
	for _, t := range domain.FormulaTypes() {
		b := Builtin(t)
		if b == nil {
			continue
		}
		existing, err := r.store.ListFormulas(ctx, t)
		if err != nil {
			return seeded, err
		}
		if len(existing) > 0 {
			continue
		}

		b.ID = ""
		b.Builtin = false
		b.ChangeNotes = "Seeded from built-in default"
		f, err := r.Create(ctx, actor, b)
		if err != nil {
			return seeded, eris.Wrapf(err, "formula: seed %s", t)
		}
		seeded = append(seeded, f)
	}
	return seeded, nil
}
