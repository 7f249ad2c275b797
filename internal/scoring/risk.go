package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/breakdown"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/risk"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RiskInputs is everything FETCH_INPUTS gathers for a risk run.
type RiskInputs struct {
	Entity     *domain.Entity
	Statement  *domain.FinancialStatement
	Inspection *domain.Inspection
	Prior      *domain.RiskAssessment
}

// SubScores is the output of COMPUTE_SUBSCORES.
type SubScores struct {
	Scores    map[domain.SubScore]domain.Measure
	CAR       domain.Measure
	Liquidity domain.Measure
}

// RiskRun describes one entity's risk run.
type RiskRun struct {
	EntityID string
	Date     time.Time
	Period   domain.AssessmentPeriod
}

func (r RiskRun) periodKey() string {
	return r.Date.UTC().Format("2006-01-02") + ":" + string(r.Period)
}

// AssessmentResult is returned by every operation that (re)computes an
// assessment. Degraded means the score was persisted but its breakdown
// was not.
type AssessmentResult struct {
	Assessment     *domain.RiskAssessment       `json:"assessment"`
	Breakdown      *domain.CalculationBreakdown `json:"breakdown,omitempty"`
	Reduced        bool                         `json:"reduced,omitempty"`
	Missing        []domain.SubScore            `json:"missing,omitempty"`
	Breach         bool                         `json:"breach"`
	Degraded       bool                         `json:"degraded,omitempty"`
	BreakdownError string                       `json:"breakdown_error,omitempty"`
}

// ScoreRisk runs the full risk pipeline for one entity.
func (o *Orchestrator) ScoreRisk(ctx context.Context, actor domain.Actor, run RiskRun) *Outcome {
	if err := authz.Require(actor, authz.ActionRun, authz.ResourceScoring); err != nil {
		return failed(run.EntityID, "", err)
	}
	if run.Date.IsZero() {
		run.Date = o.now()
	}
	if run.Period == "" {
		run.Period = domain.PeriodQuarterly
	}

	ok, release := o.acquire(ctx, KindRisk, run.EntityID, run.periodKey())
	defer release()
	if !ok {
		return skipped(run.EntityID, "", "run already in progress")
	}

	var in *RiskInputs
	err := o.runStage(ctx, StageFetchInputs, run.EntityID, func(ctx context.Context) error {
		var err error
		in, err = o.fetchRiskInputs(ctx, run.EntityID)
		return err
	})
	if err != nil {
		if domain.IsNotFound(err) && in != nil && in.Entity != nil {
			return skipped(run.EntityID, StageFetchInputs, "no financial statement on file")
		}
		return failed(run.EntityID, StageFetchInputs, err)
	}

	var subs *SubScores
	err = o.runStage(ctx, StageComputeSubScore, run.EntityID, func(ctx context.Context) error {
		var err error
		subs, err = o.ComputeSubScores(ctx, in)
		return err
	})
	if err != nil {
		return failed(run.EntityID, StageComputeSubScore, err)
	}

	opts := risk.Options{}
	if missing := missingNames(subs.Scores); len(missing) > 0 {
		switch o.cfg.MissingPolicy {
		case domain.MissingSkip:
			return skipped(run.EntityID, StageComputeSubScore, "missing sub-scores: "+strings.Join(missing, ", "))
		case domain.MissingReduce:
			opts.AllowReduced = true
		}
	}

	var composite *domain.Formula
	var res *risk.Result
	err = o.runStage(ctx, StageAggregate, run.EntityID, func(ctx context.Context) error {
		var err error
		composite, res, err = o.aggregate(ctx, subs.Scores, opts)
		return err
	})
	if err != nil {
		return failed(run.EntityID, StageAggregate, err)
	}

	a := &domain.RiskAssessment{
		EntityID:             run.EntityID,
		AssessmentDate:       run.Date,
		Period:               run.Period,
		CapitalAdequacyRatio: subs.CAR.Ptr(),
		LiquidityRatio:       subs.Liquidity.Ptr(),
		AllowReduced:         opts.AllowReduced,
		Assessor:             actor.ID,
	}
	for name, m := range subs.Scores {
		a.SetSubScore(name, m.Ptr())
	}

	err = o.runStage(ctx, StageClassify, run.EntityID, func(ctx context.Context) error {
		return o.classify(a, res)
	})
	if err != nil {
		return failed(run.EntityID, StageClassify, err)
	}

	err = o.runStage(ctx, StagePersist, run.EntityID, func(ctx context.Context) error {
		return o.repo.SaveRiskAssessment(ctx, a)
	})
	if err != nil {
		return failed(run.EntityID, StagePersist, err)
	}
	ev := o.detector.Risk(composite, a)

	out := &Outcome{
		EntityID:    run.EntityID,
		Status:      StatusSuccess,
		ReferenceID: a.ID,
		Score:       a.OverallRiskScore,
		RiskTier:    a.RiskTier,
	}

	b, err := o.recordBreakdown(ctx, actor, run.EntityID, riskEntry(a, composite, res))
	if err != nil {
		out.Status = StatusDegraded
		out.Stage = StageRecordBreakdown
		out.Reason = err.Error()
		out.Err = err
	} else {
		out.BreakdownID = b.ID
	}

	o.publishScore(ctx, domain.ScoreEvent{
		Kind:        string(KindRisk),
		EntityID:    a.EntityID,
		ReferenceID: a.ID,
		Score:       a.OverallRiskScore,
		RiskTier:    a.RiskTier,
		ComputedAt:  o.now().UTC(),
	})
	out.Breach, _ = o.settleBreach(ctx, domain.BreachRisk, a.ID, ev)

	zap.L().Info("scoring: risk scored",
		zap.String("entity_id", run.EntityID),
		zap.String("assessment_id", a.ID),
		zap.String("result", res.Describe()),
		zap.String("status", string(out.Status)))
	return out
}

func (o *Orchestrator) fetchRiskInputs(ctx context.Context, entityID string) (*RiskInputs, error) {
	entity, err := o.repo.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	in := &RiskInputs{Entity: entity}

	in.Statement, err = o.repo.LatestFinancialStatement(ctx, entityID)
	if err != nil {
		return in, err
	}

	in.Inspection, err = o.repo.LatestInspection(ctx, entityID)
	if err != nil && !domain.IsNotFound(err) {
		return in, err
	}

	prior, err := o.repo.ListRiskAssessments(ctx, entityID, 1)
	if err != nil {
		return in, err
	}
	if len(prior) > 0 {
		in.Prior = prior[0]
	}
	return in, nil
}

// ComputeSubScores evaluates the active formulas over in. Inherent and
// market scores are carried forward from the prior assessment unless an
// active MARKET_RISK formula exists.
func (o *Orchestrator) ComputeSubScores(ctx context.Context, in *RiskInputs) (*SubScores, error) {
	inputs := in.Statement.Measures()
	if in.Inspection != nil {
		for k, v := range in.Inspection.Measures() {
			inputs[k] = v
		}
	} else {
		inputs["open_findings"] = domain.Missing("no inspection on file")
		inputs["critical_findings"] = domain.Missing("no inspection on file")
	}

	eval := func(t domain.FormulaType) (domain.Measure, error) {
		f, err := o.registry.ActiveOrDefault(ctx, t)
		if err != nil {
			return domain.Measure{}, err
		}
		return o.registry.Evaluator().Evaluate(ctx, f, inputs)
	}

	out := &SubScores{Scores: make(map[domain.SubScore]domain.Measure, 5)}
	var err error

	if out.Scores[domain.SubScoreFinancialStability], err = eval(domain.FormulaFSIScore); err != nil {
		return nil, err
	}
	if out.Scores[domain.SubScoreCredit], err = eval(domain.FormulaCreditRisk); err != nil {
		return nil, err
	}
	if out.Scores[domain.SubScoreOperational], err = eval(domain.FormulaOperationalRisk); err != nil {
		return nil, err
	}
	if out.CAR, err = eval(domain.FormulaCAR); err != nil {
		return nil, err
	}
	if out.Liquidity, err = eval(domain.FormulaLiquidityRisk); err != nil {
		return nil, err
	}

	var prior map[domain.SubScore]*float64
	if in.Prior != nil {
		prior = in.Prior.SubScoreValues()
	}
	carried := func(name domain.SubScore) domain.Measure {
		if prior == nil {
			return domain.Missing("no prior assessment")
		}
		return domain.FromNullable(string(name), prior[name])
	}

	out.Scores[domain.SubScoreInherent] = carried(domain.SubScoreInherent)

	market, err := o.registry.GetActive(ctx, domain.FormulaMarketRisk)
	switch {
	case err == nil:
		if out.Scores[domain.SubScoreMarket], err = o.registry.Evaluator().Evaluate(ctx, market, inputs); err != nil {
			return nil, err
		}
	case domain.IsNotFound(err):
		out.Scores[domain.SubScoreMarket] = carried(domain.SubScoreMarket)
	default:
		return nil, err
	}

	for name, m := range out.Scores {
		if m.State == domain.MeasureInvalid {
			return nil, eris.Wrapf(domain.ErrValidation, "scoring: %s sub-score is invalid: %s", name, m.Reason)
		}
	}
	if o.cfg.MissingPolicy == domain.MissingFail {
		if missing := missingNames(out.Scores); len(missing) > 0 {
			return nil, eris.Wrapf(domain.ErrValidation, "scoring: missing sub-scores %s", strings.Join(missing, ", "))
		}
	}
	return out, nil
}

// aggregate resolves the composite weights and aggregates scores.
func (o *Orchestrator) aggregate(ctx context.Context, scores map[domain.SubScore]domain.Measure, opts risk.Options) (*domain.Formula, *risk.Result, error) {
	composite, err := o.registry.ActiveOrDefault(ctx, domain.FormulaCompositeRisk)
	if err != nil {
		return nil, nil, err
	}

	weights := risk.DefaultWeights()
	if len(composite.Weights) > 0 {
		weights = risk.WeightsFromMap(composite.Weights)
	}
	agg, err := risk.NewAggregator(weights)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "scoring: composite formula %s", composite.ID)
	}

	res, err := agg.Aggregate(scores, opts)
	if err != nil {
		return nil, nil, err
	}
	return composite, res, nil
}

// classify stamps score and tier onto a. An unset status becomes
// COMPLETED; HIGH and CRITICAL tiers always require review.
func (o *Orchestrator) classify(a *domain.RiskAssessment, res *risk.Result) error {
	tier, err := risk.Classify(res.Score)
	if err != nil {
		return eris.Wrapf(domain.ErrInvariantViolation, "scoring: aggregate %v cannot be classified", res.Score)
	}
	a.OverallRiskScore = res.Score
	a.RiskTier = tier
	if a.Status == "" {
		a.Status = domain.AssessmentCompleted
	}
	if tier.AtLeast(domain.TierHigh) {
		a.Status = domain.AssessmentReviewRequired
	}
	return nil
}

func riskEntry(a *domain.RiskAssessment, composite *domain.Formula, res *risk.Result) breakdown.Entry {
	components := make([]domain.BreakdownComponent, 0, len(res.Contributions))
	for _, c := range res.Contributions {
		desc := fmt.Sprintf("%s score × weight", c.SubScore)
		if res.Reduced {
			desc += " (renormalized)"
		}
		components = append(components, domain.BreakdownComponent{
			Name:         string(c.SubScore),
			Value:        c.Value,
			Weight:       c.Weight,
			Contribution: c.Contribution,
			Description:  desc,
		})
	}
	reported := a.OverallRiskScore
	return breakdown.Entry{
		Type:        domain.CalcRiskScore,
		ReferenceID: a.ID,
		Formula:     composite,
		Components:  components,
		Reported:    &reported,
	}
}

func missingNames(scores map[domain.SubScore]domain.Measure) []string {
	var out []string
	for _, name := range domain.SubScores() {
		if m, ok := scores[name]; !ok || m.State == domain.MeasureMissing {
			out = append(out, string(name))
		}
	}
	return out
}
