// Package risk aggregates the five risk sub-scores into an overall score
// and classifies it on the tier ladder.
package risk

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

var (
	hundred        = decimal.NewFromInt(100)
	one            = decimal.NewFromInt(1)
	weightEpsilon  = decimal.New(1, -6)
	scoreMinimum   = decimal.Zero
	scoreMaximum   = hundred
	scorePrecision = int32(2)
)

// Weights maps each sub-score to its share of the overall score.
type Weights map[domain.SubScore]float64

// DefaultWeights returns the fallback weighting.
func DefaultWeights() Weights {
	return Weights{
		domain.SubScoreFinancialStability: 0.25,
		domain.SubScoreInherent:           0.20,
		domain.SubScoreOperational:        0.20,
		domain.SubScoreMarket:             0.15,
		domain.SubScoreCredit:             0.20,
	}
}

// WeightsFromMap converts formula weights keyed by sub-score name.
func WeightsFromMap(m map[string]float64) Weights {
	w := make(Weights, len(m))
	for k, v := range m {
		w[domain.SubScore(k)] = v
	}
	return w
}

// Map returns w keyed by sub-score name.
func (w Weights) Map() map[string]float64 {
	m := make(map[string]float64, len(w))
	for k, v := range w {
		m[string(k)] = v
	}
	return m
}

// Validate requires exactly the five sub-scores, each in [0,1], summing to 1.
func (w Weights) Validate() error {
	if len(w) != len(domain.SubScores()) {
		return eris.Wrapf(domain.ErrValidation, "risk: expected %d weights, got %d", len(domain.SubScores()), len(w))
	}

	sum := decimal.Zero
	for _, name := range domain.SubScores() {
		v, ok := w[name]
		if !ok {
			return eris.Wrapf(domain.ErrValidation, "risk: weight for %s is missing", name)
		}
		d := decimal.NewFromFloat(v)
		if d.IsNegative() || d.GreaterThan(one) {
			return eris.Wrapf(domain.ErrValidation, "risk: weight for %s is %v, outside [0,1]", name, v)
		}
		sum = sum.Add(d)
	}

	if sum.Sub(one).Abs().GreaterThan(weightEpsilon) {
		return eris.Wrapf(domain.ErrValidation, "risk: weights sum to %s, not 1", sum.String())
	}
	return nil
}

// Contribution is one sub-score's part of an aggregate.
type Contribution struct {
	SubScore     domain.SubScore
	Value        float64
	Weight       float64
	Contribution float64
}

// Result is the outcome of an aggregation.
type Result struct {
	// Score is the weighted sum rounded to two decimal places.
	Score float64
	// Exact is the unrounded weighted sum; it equals the sum of contributions.
	Exact         float64
	Tier          domain.RiskTier
	Contributions []Contribution
	// Reduced is set when missing sub-scores were dropped and the remaining
	// weights renormalized.
	Reduced bool
	Missing []domain.SubScore
}

// Options tune a single aggregation.
type Options struct {
	// AllowReduced opts into renormalizing over the present sub-scores when
	// some are missing. Without it a missing sub-score is a validation error.
	AllowReduced bool
}

// Aggregator computes overall risk scores from sub-scores.
type Aggregator struct {
	weights Weights
}

// NewAggregator validates weights and returns an aggregator using them.
func NewAggregator(weights Weights) (*Aggregator, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	cp := make(Weights, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	return &Aggregator{weights: cp}, nil
}

// Weights returns a copy of the configured weights.
func (a *Aggregator) Weights() Weights {
	cp := make(Weights, len(a.weights))
	for k, v := range a.weights {
		cp[k] = v
	}
	return cp
}

// Aggregate computes Σ value×weight over the five sub-scores.
//
// Values outside [0,100] and Invalid measures are rejected, never clamped.
func (a *Aggregator) Aggregate(scores map[domain.SubScore]domain.Measure, opts Options) (*Result, error) {
	type present struct {
		name  domain.SubScore
		value decimal.Decimal
		raw   float64
	}

	var have []present
	var missing []domain.SubScore

	for _, name := range domain.SubScores() {
		m, ok := scores[name]
		if !ok {
			m = domain.Missing("not supplied")
		}
		switch m.State {
		case domain.MeasureInvalid:
			return nil, eris.Wrapf(domain.ErrValidation, "risk: %s is invalid: %s", name, m.Reason)
		case domain.MeasureMissing:
			missing = append(missing, name)
			continue
		}

		v := decimal.NewFromFloat(m.Value)
		if v.LessThan(scoreMinimum) || v.GreaterThan(scoreMaximum) {
			return nil, eris.Wrapf(domain.ErrValidation, "risk: %s score %v is outside [0,100]", name, m.Value)
		}
		have = append(have, present{name: name, value: v, raw: m.Value})
	}

	if len(missing) > 0 && !opts.AllowReduced {
		return nil, eris.Wrapf(domain.ErrValidation, "risk: missing sub-scores %v", missing)
	}
	if len(have) == 0 {
		return nil, eris.Wrap(domain.ErrValidation, "risk: no sub-scores present")
	}

	totalWeight := decimal.Zero
	for _, p := range have {
		totalWeight = totalWeight.Add(decimal.NewFromFloat(a.weights[p.name]))
	}
	if !totalWeight.IsPositive() {
		return nil, eris.Wrap(domain.ErrValidation, "risk: present sub-scores carry zero weight")
	}

	sum := decimal.Zero
	contributions := make([]Contribution, 0, len(have))
	for _, p := range have {
		w := decimal.NewFromFloat(a.weights[p.name])
		if len(missing) > 0 {
			w = w.Div(totalWeight)
		}
		c := p.value.Mul(w)
		sum = sum.Add(c)

		wf, _ := w.Float64()
		cf, _ := c.Float64()
		contributions = append(contributions, Contribution{
			SubScore:     p.name,
			Value:        p.raw,
			Weight:       wf,
			Contribution: cf,
		})
	}

	rounded := sum.Round(scorePrecision)
	score, _ := rounded.Float64()
	exact, _ := sum.Float64()

	tier, err := Classify(score)
	if err != nil {
		return nil, eris.Wrapf(domain.ErrInvariantViolation, "risk: aggregate %v left the score range", score)
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })

	return &Result{
		Score:         score,
		Exact:         exact,
		Tier:          tier,
		Contributions: contributions,
		Reduced:       len(missing) > 0,
		Missing:       missing,
	}, nil
}

type rung struct {
	upper float64
	tier  domain.RiskTier
}

var ladder = []rung{
	{20, domain.TierLow},
	{40, domain.TierMediumLow},
	{60, domain.TierMedium},
	{80, domain.TierMediumHigh},
	{90, domain.TierHigh},
	{100, domain.TierCritical},
}

// Classify maps a score in [0,100] onto the tier ladder. Bounds are inclusive.
func Classify(score float64) (domain.RiskTier, error) {
	if score < 0 || score > 100 || score != score {
		return "", eris.Wrapf(domain.ErrValidation, "risk: score %v is outside [0,100]", score)
	}
	for _, r := range ladder {
		if score <= r.upper {
			return r.tier, nil
		}
	}
	return domain.TierCritical, nil
}

// Describe renders contributions for logs.
func (r *Result) Describe() string {
	return fmt.Sprintf("score=%.2f tier=%s reduced=%t", r.Score, r.Tier, r.Reduced)
}
