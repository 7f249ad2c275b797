package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/breakdown"
	"github.com/opensource-finance/prudence/internal/compliance"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ComplianceRun describes one entity's compliance run.
type ComplianceRun struct {
	EntityID string
	Date     time.Time
	Cadence  domain.AnalysisPeriod
}

// PeriodLabel names the reporting period containing t: "2026-Q3" for a
// quarterly cadence, "2026" for an annual one.
func PeriodLabel(t time.Time, cadence domain.AnalysisPeriod) string {
	t = t.UTC()
	if cadence == domain.AnalysisAnnual {
		return fmt.Sprintf("%d", t.Year())
	}
	return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
}

// ComplianceResult is returned by every operation that (re)computes an index.
type ComplianceResult struct {
	Index          *domain.ComplianceIndex      `json:"index"`
	Path           compliance.Path              `json:"path"`
	Base           float64                      `json:"base_score"`
	Breakdown      *domain.CalculationBreakdown `json:"breakdown,omitempty"`
	Breach         bool                         `json:"breach"`
	Degraded       bool                         `json:"degraded,omitempty"`
	BreakdownError string                       `json:"breakdown_error,omitempty"`
}

type complianceInputs struct {
	entity     *domain.Entity
	index      *domain.ComplianceIndex
	existing   bool
	assessment *domain.RiskAssessment
	inspection *domain.Inspection
}

// ScoreCompliance refreshes the baseline and recomputes the entity's index
// for the period containing run.Date.
func (o *Orchestrator) ScoreCompliance(ctx context.Context, actor domain.Actor, run ComplianceRun) *Outcome {
	if err := authz.Require(actor, authz.ActionRun, authz.ResourceScoring); err != nil {
		return failed(run.EntityID, "", err)
	}
	if run.Date.IsZero() {
		run.Date = o.now()
	}
	if run.Cadence == "" {
		run.Cadence = domain.AnalysisQuarterly
	}
	label := PeriodLabel(run.Date, run.Cadence)

	ok, release := o.acquire(ctx, KindCompliance, run.EntityID, label+":"+string(run.Cadence))
	defer release()
	if !ok {
		return skipped(run.EntityID, "", "run already in progress")
	}

	var in *complianceInputs
	err := o.runStage(ctx, StageFetchInputs, run.EntityID, func(ctx context.Context) error {
		var err error
		in, err = o.fetchComplianceInputs(ctx, run.EntityID, label, run.Cadence)
		return err
	})
	if err != nil {
		return failed(run.EntityID, StageFetchInputs, err)
	}
	if !in.existing && in.assessment == nil && in.inspection == nil {
		return skipped(run.EntityID, StageFetchInputs, "no risk assessment or inspection on file")
	}

	var f *domain.Formula
	err = o.runStage(ctx, StageComputeSubScore, run.EntityID, func(ctx context.Context) error {
		var err error
		f, err = o.registry.ActiveOrDefault(ctx, domain.FormulaComplianceScore)
		if err != nil {
			return err
		}
		if !in.existing {
			applyFormulaWeights(in.index, f)
		}
		var tier domain.RiskTier
		if in.assessment != nil {
			tier = in.assessment.RiskTier
		}
		in.index.OverallComplianceScore = compliance.BaselineScore(tier, in.inspection)
		return nil
	})
	if err != nil {
		return failed(run.EntityID, StageComputeSubScore, err)
	}

	res, err := o.calculate(ctx, in.index)
	if err != nil {
		return failed(run.EntityID, StageAggregate, err)
	}

	if err := o.classifyIndex(ctx, in.index, res); err != nil {
		return failed(run.EntityID, StageClassify, err)
	}

	if err := o.persistIndex(ctx, in.index); err != nil {
		return failed(run.EntityID, StagePersist, err)
	}

	out := &Outcome{
		EntityID:    run.EntityID,
		Status:      StatusSuccess,
		ReferenceID: in.index.ID,
		Score:       in.index.FinalComplianceScore,
	}

	b, err := o.recordBreakdown(ctx, actor, run.EntityID, complianceEntry(in.index, f, res))
	if err != nil {
		out.Status = StatusDegraded
		out.Stage = StageRecordBreakdown
		out.Reason = err.Error()
		out.Err = err
	} else {
		out.BreakdownID = b.ID
	}

	o.publishScore(ctx, domain.ScoreEvent{
		Kind:        string(KindCompliance),
		EntityID:    run.EntityID,
		ReferenceID: in.index.ID,
		Score:       in.index.FinalComplianceScore,
		ComputedAt:  o.now().UTC(),
	})
	out.Breach, _ = o.settleBreach(ctx, domain.BreachCompliance, in.index.ID, o.detector.Compliance(f, in.index))

	zap.L().Info("scoring: compliance scored",
		zap.String("entity_id", run.EntityID),
		zap.String("index_id", in.index.ID),
		zap.String("path", string(res.Path)),
		zap.Float64("final", in.index.FinalComplianceScore),
		zap.String("status", string(out.Status)))
	return out
}

func (o *Orchestrator) fetchComplianceInputs(ctx context.Context, entityID, label string, cadence domain.AnalysisPeriod) (*complianceInputs, error) {
	entity, err := o.repo.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	in := &complianceInputs{entity: entity}

	in.index, err = o.repo.FindComplianceIndex(ctx, entityID, label, cadence)
	switch {
	case err == nil:
		in.existing = true
	case domain.IsNotFound(err):
		in.index = domain.NewComplianceIndex(entityID, label, cadence)
	default:
		return nil, err
	}

	assessments, err := o.repo.ListRiskAssessments(ctx, entityID, 1)
	if err != nil {
		return nil, err
	}
	if len(assessments) > 0 {
		in.assessment = assessments[0]
	}

	in.inspection, err = o.repo.LatestInspection(ctx, entityID)
	if err != nil && !domain.IsNotFound(err) {
		return nil, err
	}
	return in, nil
}

// ComplianceInput creates an index. Unset scores and weights take the
// documented defaults.
type ComplianceInput struct {
	EntityID       string                `json:"entity_id" validate:"required"`
	Period         string                `json:"period" validate:"required"`
	AnalysisPeriod domain.AnalysisPeriod `json:"analysis_period" validate:"omitempty,oneof=QUARTERLY ANNUAL"`

	OverallComplianceScore     *float64 `json:"overall_compliance_score" validate:"omitempty,gte=0,lte=100"`
	RegulatoryComplianceScore  *float64 `json:"regulatory_compliance_score" validate:"omitempty,gte=0,lte=100"`
	OperationalComplianceScore *float64 `json:"operational_compliance_score" validate:"omitempty,gte=0,lte=100"`
	FinancialComplianceScore   *float64 `json:"financial_compliance_score" validate:"omitempty,gte=0,lte=100"`
	PostInspectionAdjustment   float64  `json:"post_inspection_adjustment"`

	TotalResponses int      `json:"total_responses" validate:"gte=0"`
	TotalYes       int      `json:"total_yes" validate:"gte=0"`
	TotalNo        int      `json:"total_no" validate:"gte=0"`
	TotalBlank     int      `json:"total_blank" validate:"gte=0"`
	PositiveWeight *float64 `json:"positive_weight" validate:"omitempty,gte=0"`
	NegativeWeight *float64 `json:"negative_weight" validate:"omitempty,gte=0"`
}

// CompliancePatch changes stored tallies and adjustments. Nil fields are untouched.
type CompliancePatch struct {
	OverallComplianceScore     *float64 `json:"overall_compliance_score" validate:"omitempty,gte=0,lte=100"`
	RegulatoryComplianceScore  *float64 `json:"regulatory_compliance_score" validate:"omitempty,gte=0,lte=100"`
	OperationalComplianceScore *float64 `json:"operational_compliance_score" validate:"omitempty,gte=0,lte=100"`
	FinancialComplianceScore   *float64 `json:"financial_compliance_score" validate:"omitempty,gte=0,lte=100"`
	PostInspectionAdjustment   *float64 `json:"post_inspection_adjustment"`

	TotalResponses *int     `json:"total_responses" validate:"omitempty,gte=0"`
	TotalYes       *int     `json:"total_yes" validate:"omitempty,gte=0"`
	TotalNo        *int     `json:"total_no" validate:"omitempty,gte=0"`
	TotalBlank     *int     `json:"total_blank" validate:"omitempty,gte=0"`
	PositiveWeight *float64 `json:"positive_weight" validate:"omitempty,gte=0"`
	NegativeWeight *float64 `json:"negative_weight" validate:"omitempty,gte=0"`
}

// GetComplianceIndex reads an index.
func (o *Orchestrator) GetComplianceIndex(ctx context.Context, actor domain.Actor, id string) (*domain.ComplianceIndex, error) {
	if err := authz.Require(actor, authz.ActionRead, authz.ResourceCompliance); err != nil {
		return nil, err
	}
	return o.repo.GetComplianceIndex(ctx, id)
}

// CreateComplianceIndex stores a new index and computes its final score.
func (o *Orchestrator) CreateComplianceIndex(ctx context.Context, actor domain.Actor, in ComplianceInput) (*ComplianceResult, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceCompliance); err != nil {
		return nil, err
	}
	if _, err := o.repo.GetEntity(ctx, in.EntityID); err != nil {
		return nil, err
	}

	analysis := in.AnalysisPeriod
	if analysis == "" {
		analysis = domain.AnalysisQuarterly
	}
	idx := domain.NewComplianceIndex(in.EntityID, in.Period, analysis)

	f, err := o.registry.ActiveOrDefault(ctx, domain.FormulaComplianceScore)
	if err != nil {
		return nil, err
	}
	applyFormulaWeights(idx, f)

	setFloat(&idx.OverallComplianceScore, in.OverallComplianceScore)
	setFloat(&idx.RegulatoryComplianceScore, in.RegulatoryComplianceScore)
	setFloat(&idx.OperationalComplianceScore, in.OperationalComplianceScore)
	setFloat(&idx.FinancialComplianceScore, in.FinancialComplianceScore)
	setFloat(&idx.PositiveWeight, in.PositiveWeight)
	setFloat(&idx.NegativeWeight, in.NegativeWeight)
	idx.PostInspectionAdjustment = in.PostInspectionAdjustment
	idx.TotalResponses = in.TotalResponses
	idx.TotalYes = in.TotalYes
	idx.TotalNo = in.TotalNo
	idx.TotalBlank = in.TotalBlank

	return o.recompute(ctx, actor, idx, f)
}

// UpdateComplianceIndex applies patch and recomputes the final score.
func (o *Orchestrator) UpdateComplianceIndex(ctx context.Context, actor domain.Actor, id string, patch CompliancePatch) (*ComplianceResult, error) {
	if err := authz.Require(actor, authz.ActionWrite, authz.ResourceCompliance); err != nil {
		return nil, err
	}
	idx, err := o.repo.GetComplianceIndex(ctx, id)
	if err != nil {
		return nil, err
	}

	setFloat(&idx.OverallComplianceScore, patch.OverallComplianceScore)
	setFloat(&idx.RegulatoryComplianceScore, patch.RegulatoryComplianceScore)
	setFloat(&idx.OperationalComplianceScore, patch.OperationalComplianceScore)
	setFloat(&idx.FinancialComplianceScore, patch.FinancialComplianceScore)
	setFloat(&idx.PostInspectionAdjustment, patch.PostInspectionAdjustment)
	setFloat(&idx.PositiveWeight, patch.PositiveWeight)
	setFloat(&idx.NegativeWeight, patch.NegativeWeight)
	setInt(&idx.TotalResponses, patch.TotalResponses)
	setInt(&idx.TotalYes, patch.TotalYes)
	setInt(&idx.TotalNo, patch.TotalNo)
	setInt(&idx.TotalBlank, patch.TotalBlank)

	f, err := o.registry.ActiveOrDefault(ctx, domain.FormulaComplianceScore)
	if err != nil {
		return nil, err
	}
	return o.recompute(ctx, actor, idx, f)
}

// RecalculateCompliance recomputes final_compliance_score from stored inputs.
// Repeated calls with unchanged inputs yield the same score.
func (o *Orchestrator) RecalculateCompliance(ctx context.Context, actor domain.Actor, id string) (*ComplianceResult, error) {
	if err := authz.Require(actor, authz.ActionRecalculate, authz.ResourceCompliance); err != nil {
		return nil, err
	}
	idx, err := o.repo.GetComplianceIndex(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := o.registry.ActiveOrDefault(ctx, domain.FormulaComplianceScore)
	if err != nil {
		return nil, err
	}
	return o.recompute(ctx, actor, idx, f)
}

func (o *Orchestrator) recompute(ctx context.Context, actor domain.Actor, idx *domain.ComplianceIndex, f *domain.Formula) (*ComplianceResult, error) {
	res, err := o.calculate(ctx, idx)
	if err != nil {
		return nil, err
	}
	if err := o.classifyIndex(ctx, idx, res); err != nil {
		return nil, err
	}

	if err := o.persistIndex(ctx, idx); err != nil {
		return nil, err
	}

	out := &ComplianceResult{Index: idx, Path: res.Path, Base: res.Base}
	b, err := o.recordBreakdown(ctx, actor, idx.EntityID, complianceEntry(idx, f, res))
	if err != nil {
		out.Degraded = true
		out.BreakdownError = err.Error()
	} else {
		out.Breakdown = b
	}

	o.publishScore(ctx, domain.ScoreEvent{
		Kind:        string(KindCompliance),
		EntityID:    idx.EntityID,
		ReferenceID: idx.ID,
		Score:       idx.FinalComplianceScore,
		ComputedAt:  o.now().UTC(),
	})
	out.Breach, _ = o.settleBreach(ctx, domain.BreachCompliance, idx.ID, o.detector.Compliance(f, idx))
	return out, nil
}

func (o *Orchestrator) calculate(ctx context.Context, idx *domain.ComplianceIndex) (*compliance.Result, error) {
	var res *compliance.Result
	err := o.runStage(ctx, StageAggregate, idx.EntityID, func(context.Context) error {
		var err error
		res, err = compliance.Calculate(idx)
		return err
	})
	return res, err
}

// classifyIndex stamps the final score onto idx. A final score outside
// [0,100] means the clamp was bypassed.
func (o *Orchestrator) classifyIndex(ctx context.Context, idx *domain.ComplianceIndex, res *compliance.Result) error {
	return o.runStage(ctx, StageClassify, idx.EntityID, func(context.Context) error {
		if !(res.Final >= 0 && res.Final <= 100) {
			return eris.Wrapf(domain.ErrInvariantViolation, "scoring: compliance score %v outside [0,100]", res.Final)
		}
		compliance.Apply(idx, res)
		return nil
	})
}

func (o *Orchestrator) persistIndex(ctx context.Context, idx *domain.ComplianceIndex) error {
	return o.runStage(ctx, StagePersist, idx.EntityID, func(ctx context.Context) error {
		now := o.now().UTC()
		idx.CalculatedAt = &now
		return o.repo.SaveComplianceIndex(ctx, idx)
	})
}

// applyFormulaWeights seeds PRBS weights from a COMPLIANCE_SCORE formula.
func applyFormulaWeights(idx *domain.ComplianceIndex, f *domain.Formula) {
	if f == nil {
		return
	}
	if w, ok := f.Weights["positive"]; ok {
		idx.PositiveWeight = w
	}
	if w, ok := f.Weights["negative"]; ok {
		idx.NegativeWeight = w
	}
}

func complianceEntry(idx *domain.ComplianceIndex, f *domain.Formula, res *compliance.Result) breakdown.Entry {
	final := idx.FinalComplianceScore
	return breakdown.Entry{
		Type:        domain.CalcComplianceIndex,
		ReferenceID: idx.ID,
		Formula:     f,
		Components:  res.Components,
		Reported:    &final,
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
