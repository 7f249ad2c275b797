package scoring

import (
	"context"
	"time"

	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/risk"
	"go.uber.org/zap"
)

// AssessmentInput creates an assessment from assessor-supplied sub-scores.
type AssessmentInput struct {
	EntityID       string                  `json:"entity_id" validate:"required"`
	AssessmentDate time.Time               `json:"assessment_date"`
	Period         domain.AssessmentPeriod `json:"assessment_period" validate:"omitempty,oneof=QUARTERLY ANNUAL AD_HOC"`

	FinancialStabilityScore *float64 `json:"fsi_score" validate:"omitempty,gte=0,lte=100"`
	InherentRiskScore       *float64 `json:"inherent_risk_score" validate:"omitempty,gte=0,lte=100"`
	OperationalRiskScore    *float64 `json:"operational_risk_score" validate:"omitempty,gte=0,lte=100"`
	MarketRiskScore         *float64 `json:"market_risk_score" validate:"omitempty,gte=0,lte=100"`
	CreditRiskScore         *float64 `json:"credit_risk_score" validate:"omitempty,gte=0,lte=100"`

	CapitalAdequacyRatio *float64 `json:"car"`
	LiquidityRatio       *float64 `json:"liquidity_ratio"`
	Notes                string   `json:"notes"`

	// AllowReduced opts into renormalizing weights over supplied sub-scores.
	AllowReduced bool `json:"allow_reduced"`
}

// AssessmentPatch changes stored sub-scores. Nil fields are untouched.
type AssessmentPatch struct {
	FinancialStabilityScore *float64 `json:"fsi_score" validate:"omitempty,gte=0,lte=100"`
	InherentRiskScore       *float64 `json:"inherent_risk_score" validate:"omitempty,gte=0,lte=100"`
	OperationalRiskScore    *float64 `json:"operational_risk_score" validate:"omitempty,gte=0,lte=100"`
	MarketRiskScore         *float64 `json:"market_risk_score" validate:"omitempty,gte=0,lte=100"`
	CreditRiskScore         *float64 `json:"credit_risk_score" validate:"omitempty,gte=0,lte=100"`

	CapitalAdequacyRatio *float64                 `json:"car"`
	LiquidityRatio       *float64                 `json:"liquidity_ratio"`
	Notes                *string                  `json:"notes"`
	Status               *domain.AssessmentStatus `json:"status" validate:"omitempty,oneof=PENDING IN_PROGRESS COMPLETED REVIEW_REQUIRED"`

	// AllowReduced replaces the stored opt-in when set.
	AllowReduced *bool `json:"allow_reduced"`
}

// GetAssessment reads an assessment.
func (o *Orchestrator) GetAssessment(ctx context.Context, actor domain.Actor, id string) (*domain.RiskAssessment, error) {
	if err := authz.Require(actor, authz.ActionRead, authz.ResourceAssessment); err != nil {
		return nil, err
	}
	return o.repo.GetRiskAssessment(ctx, id)
}

// CreateAssessment stores a PENDING assessment and scores it immediately.
func (o *Orchestrator) CreateAssessment(ctx context.Context, actor domain.Actor, in AssessmentInput) (*AssessmentResult, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceAssessment); err != nil {
		return nil, err
	}
	if _, err := o.repo.GetEntity(ctx, in.EntityID); err != nil {
		return nil, err
	}

	a := &domain.RiskAssessment{
		EntityID:                in.EntityID,
		AssessmentDate:          in.AssessmentDate,
		Period:                  in.Period,
		FinancialStabilityScore: in.FinancialStabilityScore,
		InherentRiskScore:       in.InherentRiskScore,
		OperationalRiskScore:    in.OperationalRiskScore,
		MarketRiskScore:         in.MarketRiskScore,
		CreditRiskScore:         in.CreditRiskScore,
		CapitalAdequacyRatio:    in.CapitalAdequacyRatio,
		LiquidityRatio:          in.LiquidityRatio,
		Status:                  domain.AssessmentPending,
		AllowReduced:            in.AllowReduced,
		Assessor:                actor.ID,
		Notes:                   in.Notes,
	}
	if a.Period == "" {
		a.Period = domain.PeriodAdHoc
	}
	if a.AssessmentDate.IsZero() {
		a.AssessmentDate = o.now()
	}
	return o.rescore(ctx, actor, a)
}

// UpdateAssessment applies patch and recomputes score and tier.
func (o *Orchestrator) UpdateAssessment(ctx context.Context, actor domain.Actor, id string, patch AssessmentPatch) (*AssessmentResult, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceAssessment); err != nil {
		return nil, err
	}
	a, err := o.repo.GetRiskAssessment(ctx, id)
	if err != nil {
		return nil, err
	}

	set := func(dst **float64, v *float64) {
		if v != nil {
			*dst = v
		}
	}
	set(&a.FinancialStabilityScore, patch.FinancialStabilityScore)
	set(&a.InherentRiskScore, patch.InherentRiskScore)
	set(&a.OperationalRiskScore, patch.OperationalRiskScore)
	set(&a.MarketRiskScore, patch.MarketRiskScore)
	set(&a.CreditRiskScore, patch.CreditRiskScore)
	set(&a.CapitalAdequacyRatio, patch.CapitalAdequacyRatio)
	set(&a.LiquidityRatio, patch.LiquidityRatio)
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.AllowReduced != nil {
		a.AllowReduced = *patch.AllowReduced
	}

	return o.rescore(ctx, actor, a)
}

// RecalculateAssessment recomputes overall score and tier from the stored
// sub-scores on the basis they were scored with. opts.AllowReduced can
// widen a full-weight assessment to a reduced one; it never narrows.
func (o *Orchestrator) RecalculateAssessment(ctx context.Context, actor domain.Actor, id string, opts risk.Options) (*AssessmentResult, error) {
	if err := authz.Require(actor, authz.ActionRecalculate, authz.ResourceAssessment); err != nil {
		return nil, err
	}
	a, err := o.repo.GetRiskAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	a.AllowReduced = a.AllowReduced || opts.AllowReduced
	return o.rescore(ctx, actor, a)
}

// RerunAssessmentBreakdown records a fresh breakdown for a stored
// assessment without touching its score. The stored score must still
// agree with its sub-scores.
func (o *Orchestrator) RerunAssessmentBreakdown(ctx context.Context, actor domain.Actor, id string, opts risk.Options) (*domain.CalculationBreakdown, error) {
	if err := authz.Require(actor, authz.ActionRecalculate, authz.ResourceAssessment); err != nil {
		return nil, err
	}
	a, err := o.repo.GetRiskAssessment(ctx, id)
	if err != nil {
		return nil, err
	}

	opts.AllowReduced = opts.AllowReduced || a.AllowReduced
	composite, res, err := o.aggregate(ctx, storedScores(a), opts)
	if err != nil {
		return nil, err
	}
	return o.recordBreakdown(ctx, actor, a.EntityID, riskEntry(a, composite, res))
}

// rescore runs AGGREGATE through RECORD_BREAKDOWN over a's stored sub-scores.
func (o *Orchestrator) rescore(ctx context.Context, actor domain.Actor, a *domain.RiskAssessment) (*AssessmentResult, error) {
	opts := risk.Options{AllowReduced: a.AllowReduced}
	var composite *domain.Formula
	var res *risk.Result
	err := o.runStage(ctx, StageAggregate, a.EntityID, func(ctx context.Context) error {
		var err error
		composite, res, err = o.aggregate(ctx, storedScores(a), opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := o.runStage(ctx, StageClassify, a.EntityID, func(context.Context) error {
		return o.classify(a, res)
	}); err != nil {
		return nil, err
	}

	if err := o.runStage(ctx, StagePersist, a.EntityID, func(ctx context.Context) error {
		return o.repo.SaveRiskAssessment(ctx, a)
	}); err != nil {
		return nil, err
	}

	out := &AssessmentResult{
		Assessment: a,
		Reduced:    res.Reduced,
		Missing:    res.Missing,
	}

	b, err := o.recordBreakdown(ctx, actor, a.EntityID, riskEntry(a, composite, res))
	if err != nil {
		out.Degraded = true
		out.BreakdownError = err.Error()
	} else {
		out.Breakdown = b
	}

	o.publishScore(ctx, domain.ScoreEvent{
		Kind:        string(KindRisk),
		EntityID:    a.EntityID,
		ReferenceID: a.ID,
		Score:       a.OverallRiskScore,
		RiskTier:    a.RiskTier,
		ComputedAt:  o.now().UTC(),
	})
	out.Breach, _ = o.settleBreach(ctx, domain.BreachRisk, a.ID, o.detector.Risk(composite, a))

	zap.L().Info("scoring: assessment recalculated",
		zap.String("assessment_id", a.ID),
		zap.String("result", res.Describe()),
		zap.Bool("degraded", out.Degraded))
	return out, nil
}

func storedScores(a *domain.RiskAssessment) map[domain.SubScore]domain.Measure {
	out := make(map[domain.SubScore]domain.Measure, 5)
	for name, v := range a.SubScoreValues() {
		out[name] = domain.FromNullable(string(name), v)
	}
	return out
}
