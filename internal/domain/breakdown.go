package domain

import "time"

// CalculationType identifies what a breakdown explains.
type CalculationType string

const (
	CalcRiskScore       CalculationType = "RISK_SCORE"
	CalcComplianceIndex CalculationType = "COMPLIANCE_INDEX"
	CalcFSIScore        CalculationType = "FSI_SCORE"
)

// Valid reports whether c is a known calculation type.
func (c CalculationType) Valid() bool {
	switch c {
	case CalcRiskScore, CalcComplianceIndex, CalcFSIScore:
		return true
	}
	return false
}

// BreakdownComponent is one contributing factor of a computed value.
type BreakdownComponent struct {
	Name             string  `json:"name"`
	Value            float64 `json:"value"`
	Weight           float64 `json:"weight"`
	Contribution     float64 `json:"contribution"`
	ImpactPercentage float64 `json:"impact_percentage"`
	Description      string  `json:"description,omitempty"`
}

// CalculationBreakdown is an append-only audit record of how a value was derived.
type CalculationBreakdown struct {
	ID              string               `json:"id"`
	CalculationType CalculationType      `json:"calculation_type"`
	ReferenceID     string               `json:"reference_id"`
	FormulaID       string               `json:"formula_id,omitempty"`
	FormulaVersion  *int                 `json:"formula_version,omitempty"`
	FinalValue      float64              `json:"final_value"`
	FinalPercentage *float64             `json:"final_percentage,omitempty"`
	Components      []BreakdownComponent `json:"components"`
	CalculatedAt    time.Time            `json:"calculated_at"`
	CalculatedBy    string               `json:"calculated_by"`
}
