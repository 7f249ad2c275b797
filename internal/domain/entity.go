package domain

import "time"

// Entity is a supervised financial intermediary. Owned by the registry
// collaborator; the engine only reads it.
type Entity struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registration_number,omitempty"`
	Sector             string    `json:"sector,omitempty"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
}

// FinancialStatement holds reported figures. Unreported figures are nil.
type FinancialStatement struct {
	ID               string    `json:"id"`
	EntityID         string    `json:"entity_id"`
	PeriodEnd        time.Time `json:"period_end"`
	TotalRevenue     *float64  `json:"total_revenue"`
	TotalExpenses    *float64  `json:"total_expenses"`
	NetProfit        *float64  `json:"net_profit"`
	TotalAssets      *float64  `json:"total_assets"`
	TotalLiabilities *float64  `json:"total_liabilities"`
	TotalEquity      *float64  `json:"total_equity"`
	GrossMargin      *float64  `json:"gross_margin"`
	ProfitMargin     *float64  `json:"profit_margin"`
	DebtToEquity     *float64  `json:"debt_to_equity"`
}

// Measures exposes the statement as formula inputs.
func (s *FinancialStatement) Measures() map[string]Measure {
	return map[string]Measure{
		"total_revenue":     FromNullable("total_revenue", s.TotalRevenue),
		"total_expenses":    FromNullable("total_expenses", s.TotalExpenses),
		"net_profit":        FromNullable("net_profit", s.NetProfit),
		"total_assets":      FromNullable("total_assets", s.TotalAssets),
		"total_liabilities": FromNullable("total_liabilities", s.TotalLiabilities),
		"total_equity":      FromNullable("total_equity", s.TotalEquity),
		"gross_margin":      FromNullable("gross_margin", s.GrossMargin),
		"profit_margin":     FromNullable("profit_margin", s.ProfitMargin),
		"debt_to_equity":    FromNullable("debt_to_equity", s.DebtToEquity),
	}
}

// InspectionStatus is the outcome state of an inspection.
type InspectionStatus string

const (
	InspectionOpen     InspectionStatus = "OPEN"
	InspectionResolved InspectionStatus = "RESOLVED"
	InspectionClosed   InspectionStatus = "CLOSED"
)

// Inspection is the latest on-site inspection outcome for an entity.
type Inspection struct {
	ID               string           `json:"id"`
	EntityID         string           `json:"entity_id"`
	InspectionDate   time.Time        `json:"inspection_date"`
	Status           InspectionStatus `json:"status"`
	OpenFindings     int              `json:"open_findings"`
	CriticalFindings int              `json:"critical_findings"`
}

// Measures exposes the inspection as formula inputs.
func (i *Inspection) Measures() map[string]Measure {
	return map[string]Measure{
		"open_findings":     Present(float64(i.OpenFindings)),
		"critical_findings": Present(float64(i.CriticalFindings)),
	}
}
