package domain

import "time"

// AnalysisPeriod is the cadence a compliance index covers.
type AnalysisPeriod string

const (
	AnalysisQuarterly AnalysisPeriod = "QUARTERLY"
	AnalysisAnnual    AnalysisPeriod = "ANNUAL"
)

// DefaultComplianceScore seeds the four compliance sub-scores of a new index.
const DefaultComplianceScore = 75.0

// ComplianceIndex is unique per (entity, period, analysis period).
// FinalComplianceScore = clamp(base + PostInspectionAdjustment, 0, 100).
type ComplianceIndex struct {
	ID             string         `json:"id"`
	EntityID       string         `json:"entity_id"`
	Period         string         `json:"period"`
	AnalysisPeriod AnalysisPeriod `json:"analysis_period"`

	OverallComplianceScore     float64 `json:"overall_compliance_score"`
	RegulatoryComplianceScore  float64 `json:"regulatory_compliance_score"`
	OperationalComplianceScore float64 `json:"operational_compliance_score"`
	FinancialComplianceScore   float64 `json:"financial_compliance_score"`

	RiskCalibrationScore     float64 `json:"risk_calibration_score"`
	RiskAdjustmentFactor     float64 `json:"risk_adjustment_factor"`
	PostInspectionAdjustment float64 `json:"post_inspection_adjustment"`
	FinalComplianceScore     float64 `json:"final_compliance_score"`

	// PRBS survey tallies.
	TotalResponses int     `json:"total_responses"`
	TotalYes       int     `json:"total_yes"`
	TotalNo        int     `json:"total_no"`
	TotalBlank     int     `json:"total_blank"`
	PositiveWeight float64 `json:"positive_weight"`
	NegativeWeight float64 `json:"negative_weight"`

	CalculatedAt *time.Time `json:"calculated_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewComplianceIndex returns an index with the documented defaults.
func NewComplianceIndex(entityID, period string, analysis AnalysisPeriod) *ComplianceIndex {
	return &ComplianceIndex{
		EntityID:                   entityID,
		Period:                     period,
		AnalysisPeriod:             analysis,
		OverallComplianceScore:     DefaultComplianceScore,
		RegulatoryComplianceScore:  DefaultComplianceScore,
		OperationalComplianceScore: DefaultComplianceScore,
		FinancialComplianceScore:   DefaultComplianceScore,
		RiskAdjustmentFactor:       1.0,
		PositiveWeight:             1.0,
		NegativeWeight:             1.0,
	}
}

// HasSurvey reports whether the PRBS path applies.
func (c *ComplianceIndex) HasSurvey() bool {
	return c.TotalResponses > 0
}
