package formula

import (
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/risk"
)

var statementVariables = map[string]string{
	"total_revenue":     "Total revenue for the period",
	"total_expenses":    "Total expenses for the period",
	"net_profit":        "Net profit for the period",
	"total_assets":      "Total assets at period end",
	"total_liabilities": "Total liabilities at period end",
	"total_equity":      "Total equity at period end",
	"gross_margin":      "Gross margin as a fraction",
	"profit_margin":     "Net profit margin as a fraction",
	"debt_to_equity":    "Debt to equity ratio",
}

func pick(names ...string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		if d, ok := statementVariables[n]; ok {
			out[n] = d
			continue
		}
		out[n] = n
	}
	return out
}

// Builtin returns the hard-coded default for t, or nil when t has none.
// Defaults carry version 0 and are never persisted.
func Builtin(t domain.FormulaType) *domain.Formula {
	f, ok := builtins()[t]
	if !ok {
		return nil
	}
	f.ID = "builtin-" + string(t)
	f.FormulaType = t
	f.Builtin = true
	f.Active = true
	f.Version = 0
	f.CreatedBy = string(domain.RoleSystem)
	return f
}

func builtins() map[domain.FormulaType]*domain.Formula {
	return map[domain.FormulaType]*domain.Formula{
		domain.FormulaFSIScore: {
			Name:       "Financial Stability Index",
			Expression: "clamp(profit_margin * 100.0, 0.0, 100.0) * 0.6 + clamp(gross_margin * 100.0, 0.0, 100.0) * 0.4",
			Variables:  pick("profit_margin", "gross_margin"),
		},
		domain.FormulaCAR: {
			Name:       "Capital Adequacy Ratio",
			Expression: "clamp(total_equity / total_assets * 100.0, 0.0, 100.0)",
			Variables:  pick("total_equity", "total_assets"),
		},
		domain.FormulaCreditRisk: {
			Name:       "Credit Risk",
			Expression: "clamp(debt_to_equity * 25.0, 0.0, 100.0)",
			Variables:  pick("debt_to_equity"),
		},
		domain.FormulaLiquidityRisk: {
			Name:       "Liquidity Ratio",
			Expression: "total_assets / total_liabilities",
			Variables:  pick("total_assets", "total_liabilities"),
		},
		domain.FormulaOperationalRisk: {
			Name:       "Operational Risk",
			Expression: "clamp(open_findings * 10.0 + critical_findings * 25.0, 0.0, 100.0)",
			Variables: map[string]string{
				"open_findings":     "Open findings from the latest inspection",
				"critical_findings": "Critical findings from the latest inspection",
			},
		},
		domain.FormulaCompositeRisk: {
			Name:    "Composite Risk Weights",
			Weights: risk.DefaultWeights().Map(),
		},
		domain.FormulaComplianceScore: {
			Name:    "Compliance Score Weights",
			Weights: map[string]float64{"positive": 1.0, "negative": 1.0},
		},
	}
}

// weightsOnly reports whether t is configured by weights and thresholds
// rather than an expression.
func weightsOnly(t domain.FormulaType) bool {
	return t == domain.FormulaCompositeRisk || t == domain.FormulaComplianceScore
}
