package domain

import "time"

// RiskTier is an ordered classification bucket.
type RiskTier string

const (
	TierLow        RiskTier = "LOW"
	TierMediumLow  RiskTier = "MEDIUM_LOW"
	TierMedium     RiskTier = "MEDIUM"
	TierMediumHigh RiskTier = "MEDIUM_HIGH"
	TierHigh       RiskTier = "HIGH"
	TierCritical   RiskTier = "CRITICAL"
)

var tierOrder = map[RiskTier]int{
	TierLow:        0,
	TierMediumLow:  1,
	TierMedium:     2,
	TierMediumHigh: 3,
	TierHigh:       4,
	TierCritical:   5,
}

// Rank returns the position of t in the ladder, or -1 when unknown.
func (t RiskTier) Rank() int {
	if r, ok := tierOrder[t]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether t ranks at or above other.
func (t RiskTier) AtLeast(other RiskTier) bool {
	return t.Rank() >= other.Rank() && t.Rank() >= 0
}

// SubScore names one of the five risk sub-scores.
type SubScore string

const (
	SubScoreFinancialStability SubScore = "financial_stability"
	SubScoreInherent           SubScore = "inherent"
	SubScoreOperational        SubScore = "operational"
	SubScoreMarket             SubScore = "market"
	SubScoreCredit             SubScore = "credit"
)

// SubScores returns the five sub-score names in canonical order.
func SubScores() []SubScore {
	return []SubScore{
		SubScoreFinancialStability,
		SubScoreInherent,
		SubScoreOperational,
		SubScoreMarket,
		SubScoreCredit,
	}
}

// AssessmentStatus is the workflow state of a RiskAssessment.
type AssessmentStatus string

const (
	AssessmentPending        AssessmentStatus = "PENDING"
	AssessmentInProgress     AssessmentStatus = "IN_PROGRESS"
	AssessmentCompleted      AssessmentStatus = "COMPLETED"
	AssessmentReviewRequired AssessmentStatus = "REVIEW_REQUIRED"
)

// AssessmentPeriod is the cadence an assessment covers.
type AssessmentPeriod string

const (
	PeriodQuarterly AssessmentPeriod = "QUARTERLY"
	PeriodAnnual    AssessmentPeriod = "ANNUAL"
	PeriodAdHoc     AssessmentPeriod = "AD_HOC"
)

// RiskAssessment is unique per (entity, assessment date, period).
// OverallRiskScore and RiskTier must always agree with the sub-scores.
type RiskAssessment struct {
	ID             string           `json:"id"`
	EntityID       string           `json:"entity_id"`
	AssessmentDate time.Time        `json:"assessment_date"`
	Period         AssessmentPeriod `json:"assessment_period"`

	FinancialStabilityScore *float64 `json:"fsi_score"`
	InherentRiskScore       *float64 `json:"inherent_risk_score"`
	OperationalRiskScore    *float64 `json:"operational_risk_score"`
	MarketRiskScore         *float64 `json:"market_risk_score"`
	CreditRiskScore         *float64 `json:"credit_risk_score"`

	CapitalAdequacyRatio *float64 `json:"car"`
	LiquidityRatio       *float64 `json:"liquidity_ratio"`

	OverallRiskScore float64          `json:"overall_risk_score"`
	RiskTier         RiskTier         `json:"risk_level"`
	Status           AssessmentStatus `json:"status"`

	// AllowReduced records that the score was computed over the sub-scores
	// present with renormalized weights. Recalculation keeps that basis.
	AllowReduced bool `json:"allow_reduced"`

	Assessor  string    `json:"assessor,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubScoreValues maps each sub-score name to its stored value (nil if unset).
func (a *RiskAssessment) SubScoreValues() map[SubScore]*float64 {
	return map[SubScore]*float64{
		SubScoreFinancialStability: a.FinancialStabilityScore,
		SubScoreInherent:           a.InherentRiskScore,
		SubScoreOperational:        a.OperationalRiskScore,
		SubScoreMarket:             a.MarketRiskScore,
		SubScoreCredit:             a.CreditRiskScore,
	}
}

// SetSubScore stores v under name.
func (a *RiskAssessment) SetSubScore(name SubScore, v *float64) {
	switch name {
	case SubScoreFinancialStability:
		a.FinancialStabilityScore = v
	case SubScoreInherent:
		a.InherentRiskScore = v
	case SubScoreOperational:
		a.OperationalRiskScore = v
	case SubScoreMarket:
		a.MarketRiskScore = v
	case SubScoreCredit:
		a.CreditRiskScore = v
	}
}

// Trend compares two consecutive overall scores.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// RankingEntry is one row of the industry risk ranking.
type RankingEntry struct {
	Rank             int      `json:"rank"`
	EntityID         string   `json:"entity_id"`
	EntityName       string   `json:"entity_name"`
	AssessmentID     string   `json:"assessment_id"`
	OverallRiskScore float64  `json:"overall_risk_score"`
	RiskTier         RiskTier `json:"risk_level"`
	PreviousScore    *float64 `json:"previous_score,omitempty"`
	Trend            Trend    `json:"trend"`
}
