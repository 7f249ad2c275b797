// Package compliance computes compliance indices from PRBS survey tallies
// or a stored baseline, then applies the post-inspection adjustment.
package compliance

import (
	"math"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// PRBSOffset is added to the normalized survey balance. It pushes almost
// every result towards the top of the range and is kept as configured by
// the regulator.
const PRBSOffset = 99

// Path names how the base score was derived.
type Path string

const (
	PathPRBS     Path = "prbs"
	PathBaseline Path = "baseline"
)

var (
	half    = decimal.NewFromFloat(0.5)
	hundred = decimal.NewFromInt(100)
	offset  = decimal.NewFromInt(PRBSOffset)
)

// Result is a computed index. Components sum exactly to the unrounded final.
type Result struct {
	Path  Path
	Raw   float64
	Base  float64
	Final float64
	// Exact is the unrounded final score.
	Exact      float64
	Components []domain.BreakdownComponent
}

// Calculate derives base and final scores for c. It does not mutate c.
// Calling it twice on the same input yields the same result.
func Calculate(c *domain.ComplianceIndex) (*Result, error) {
	if c == nil {
		return nil, eris.Wrap(domain.ErrValidation, "compliance: nil index")
	}
	if err := validate(c); err != nil {
		return nil, err
	}

	var res Result
	var base decimal.Decimal

	if c.HasSurvey() {
		res.Path = PathPRBS
		raw, components := prbs(c)
		base = clamp(raw)
		res.Raw, _ = raw.Float64()
		res.Components = components
		if !base.Equal(raw) {
			res.Components = append(res.Components, component(
				"prbs_clamp_correction", base.Sub(raw), decimal.NewFromInt(1),
				"Raw PRBS score clamped to [0,100]"))
		}
	} else {
		res.Path = PathBaseline
		base = decimal.NewFromFloat(c.OverallComplianceScore)
		res.Raw = c.OverallComplianceScore
		res.Components = []domain.BreakdownComponent{
			component("overall_compliance_score", base, decimal.NewFromInt(1), "Stored baseline compliance score"),
		}
	}

	adj := decimal.NewFromFloat(c.PostInspectionAdjustment)
	res.Components = append(res.Components, component(
		"post_inspection_adjustment", adj, decimal.NewFromInt(1), "Signed post-inspection adjustment"))

	unclamped := base.Add(adj)
	final := clamp(unclamped)
	if !final.Equal(unclamped) {
		res.Components = append(res.Components, component(
			"final_clamp_correction", final.Sub(unclamped), decimal.NewFromInt(1),
			"Final score clamped to [0,100]"))
	}

	res.Base, _ = base.Round(2).Float64()
	res.Final, _ = final.Round(2).Float64()
	res.Exact, _ = final.Float64()
	return &res, nil
}

// prbs returns ((Y×0.5×Pi) − (N×Bi)) / R + 99 and its components.
func prbs(c *domain.ComplianceIndex) (decimal.Decimal, []domain.BreakdownComponent) {
	r := decimal.NewFromInt(int64(c.TotalResponses))
	yesShare := decimal.NewFromInt(int64(c.TotalYes)).Div(r)
	noShare := decimal.NewFromInt(int64(c.TotalNo)).Div(r)
	posWeight := half.Mul(decimal.NewFromFloat(c.PositiveWeight))
	negWeight := decimal.NewFromFloat(c.NegativeWeight).Neg()

	positive := yesShare.Mul(posWeight)
	negative := noShare.Mul(negWeight)
	raw := positive.Add(negative).Add(offset)

	return raw, []domain.BreakdownComponent{
		component("prbs_offset", offset, decimal.NewFromInt(1), "PRBS baseline offset"),
		component("positive_responses", yesShare, posWeight, "Yes share × 0.5 × positive weight"),
		component("negative_responses", noShare, negWeight, "No share × negative weight"),
	}
}

func component(name string, value, weight decimal.Decimal, desc string) domain.BreakdownComponent {
	v, _ := value.Float64()
	w, _ := weight.Float64()
	c, _ := value.Mul(weight).Float64()
	return domain.BreakdownComponent{
		Name:         name,
		Value:        v,
		Weight:       w,
		Contribution: c,
		Description:  desc,
	}
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}

func validate(c *domain.ComplianceIndex) error {
	if c.TotalResponses < 0 || c.TotalYes < 0 || c.TotalNo < 0 || c.TotalBlank < 0 {
		return eris.Wrap(domain.ErrValidation, "compliance: survey tallies must be non-negative")
	}
	if c.TotalYes+c.TotalNo+c.TotalBlank > c.TotalResponses && c.TotalResponses > 0 {
		return eris.Wrapf(domain.ErrValidation, "compliance: %d yes, %d no and %d blank exceed %d responses",
			c.TotalYes, c.TotalNo, c.TotalBlank, c.TotalResponses)
	}
	if !finite(c.PositiveWeight) || !finite(c.NegativeWeight) || c.PositiveWeight < 0 || c.NegativeWeight < 0 {
		return eris.Wrap(domain.ErrValidation, "compliance: PRBS weights must be non-negative numbers")
	}
	if !finite(c.PostInspectionAdjustment) {
		return eris.Wrap(domain.ErrValidation, "compliance: post-inspection adjustment must be a number")
	}
	if !c.HasSurvey() && (!finite(c.OverallComplianceScore) || c.OverallComplianceScore < 0 || c.OverallComplianceScore > 100) {
		return eris.Wrapf(domain.ErrValidation, "compliance: overall score %v is outside [0,100]", c.OverallComplianceScore)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Apply writes r onto c.
func Apply(c *domain.ComplianceIndex, r *Result) {
	c.FinalComplianceScore = r.Final
}
