// Package domain defines the core types and interfaces for Prudence.
package domain

import (
	"sort"
	"time"
)

// FormulaType identifies what a formula computes. The set is closed.
type FormulaType string

const (
	FormulaFSIScore        FormulaType = "FSI_SCORE"
	FormulaCAR             FormulaType = "CAR"
	FormulaCreditRisk      FormulaType = "CREDIT_RISK"
	FormulaMarketRisk      FormulaType = "MARKET_RISK"
	FormulaLiquidityRisk   FormulaType = "LIQUIDITY_RISK"
	FormulaOperationalRisk FormulaType = "OPERATIONAL_RISK"
	FormulaLegalRisk       FormulaType = "LEGAL_RISK"
	FormulaComplianceRisk  FormulaType = "COMPLIANCE_RISK"
	FormulaStrategicRisk   FormulaType = "STRATEGIC_RISK"
	FormulaReputationRisk  FormulaType = "REPUTATION_RISK"
	FormulaCompositeRisk   FormulaType = "COMPOSITE_RISK"
	FormulaComplianceScore FormulaType = "COMPLIANCE_SCORE"
)

var formulaTypes = []FormulaType{
	FormulaFSIScore, FormulaCAR, FormulaCreditRisk, FormulaMarketRisk,
	FormulaLiquidityRisk, FormulaOperationalRisk, FormulaLegalRisk,
	FormulaComplianceRisk, FormulaStrategicRisk, FormulaReputationRisk,
	FormulaCompositeRisk, FormulaComplianceScore,
}

// FormulaTypes returns every known formula type in declaration order.
func FormulaTypes() []FormulaType {
	out := make([]FormulaType, len(formulaTypes))
	copy(out, formulaTypes)
	return out
}

// Valid reports whether t is a member of the closed enumeration.
func (t FormulaType) Valid() bool {
	for _, known := range formulaTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Formula is a named, versioned scoring formula.
// At most one formula per FormulaType is active at any time.
type Formula struct {
	ID          string             `json:"id"`
	FormulaType FormulaType        `json:"formula_type"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"formula_expression"`
	Variables   map[string]string  `json:"variables"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	Thresholds  map[string]float64 `json:"thresholds,omitempty"`
	Active      bool               `json:"is_active"`
	Version     int                `json:"version"`
	CreatedBy   string             `json:"created_by,omitempty"`
	UpdatedBy   string             `json:"updated_by,omitempty"`
	ChangeNotes string             `json:"change_notes,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`

	// Builtin marks a hard-coded default that was never persisted.
	Builtin bool `json:"builtin,omitempty"`
}

// VariableNames returns the declared variable names in sorted order.
func (f *Formula) VariableNames() []string {
	names := make([]string, 0, len(f.Variables))
	for name := range f.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Threshold returns thresholds[key] or fallback when absent.
func (f *Formula) Threshold(key string, fallback float64) float64 {
	if f == nil {
		return fallback
	}
	if v, ok := f.Thresholds[key]; ok {
		return v
	}
	return fallback
}

// Clone returns a deep copy.
func (f *Formula) Clone() *Formula {
	c := *f
	c.Variables = make(map[string]string, len(f.Variables))
	for k, v := range f.Variables {
		c.Variables[k] = v
	}
	c.Weights = cloneFloats(f.Weights)
	c.Thresholds = cloneFloats(f.Thresholds)
	return &c
}

func cloneFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FormulaVersion is an immutable snapshot written on every create, edit and
// duplicate. Breakdowns resolve (formula_id, version) against these rows.
type FormulaVersion struct {
	FormulaID  string    `json:"formula_id"`
	Version    int       `json:"version"`
	Snapshot   Formula   `json:"snapshot"`
	RecordedBy string    `json:"recorded_by"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FormulaChanges is a partial edit. Nil fields are left untouched.
type FormulaChanges struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Expression  *string            `json:"formula_expression,omitempty"`
	Variables   map[string]string  `json:"variables,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	Thresholds  map[string]float64 `json:"thresholds,omitempty"`
	ChangeNotes string             `json:"change_notes,omitempty"`
}

// Empty reports whether the edit changes nothing.
func (c FormulaChanges) Empty() bool {
	return c.Name == nil && c.Description == nil && c.Expression == nil &&
		c.Variables == nil && c.Weights == nil && c.Thresholds == nil
}
