package compliance

import "github.com/opensource-finance/prudence/internal/domain"

const (
	baselineScore         = 75.0
	lowRiskBonus          = 15.0
	highRiskPenalty       = 20.0
	resolvedInspectionAdj = 10.0
	openInspectionPenalty = 15.0
)

// BaselineScore derives an overall compliance score from the latest risk
// tier and inspection status. Either may be absent.
func BaselineScore(tier domain.RiskTier, inspection *domain.Inspection) float64 {
	score := baselineScore

	switch tier {
	case domain.TierLow, domain.TierMediumLow:
		score += lowRiskBonus
	case domain.TierHigh, domain.TierCritical:
		score -= highRiskPenalty
	}

	if inspection != nil {
		switch inspection.Status {
		case domain.InspectionResolved:
			score += resolvedInspectionAdj
		case domain.InspectionOpen:
			score -= openInspectionPenalty
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// IsBreach reports whether a final score falls below threshold.
func IsBreach(final, threshold float64) bool {
	return final < threshold
}
