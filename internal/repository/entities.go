package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

// SaveEntity upserts an entity record.
func (r *SQLRepository) SaveEntity(ctx context.Context, e *domain.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entities (id, name, registration_number, sector, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			registration_number = excluded.registration_number,
			sector = excluded.sector,
			active = excluded.active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.Name, nullString(e.RegistrationNumber), nullString(e.Sector),
		boolToInt(e.Active), e.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "repository: save entity %s", e.ID)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (r *SQLRepository) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	query := `SELECT id, name, registration_number, sector, active, created_at FROM entities WHERE id = ?`

	e, err := scanEntity(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "entity %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get entity %s", id)
	}
	return e, nil
}

// ListActiveEntities returns every active entity ordered by name.
func (r *SQLRepository) ListActiveEntities(ctx context.Context) ([]*domain.Entity, error) {
	query := `SELECT id, name, registration_number, sector, active, created_at
		FROM entities WHERE active = 1 ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "repository: list entities")
	}
	defer rows.Close()

	var out []*domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan entity")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveFinancialStatement inserts or replaces a statement.
func (r *SQLRepository) SaveFinancialStatement(ctx context.Context, s *domain.FinancialStatement) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.PeriodEnd.IsZero() {
		s.PeriodEnd = time.Now().UTC()
	}

	query := `
		INSERT INTO financial_statements (
			id, entity_id, period_end, total_revenue, total_expenses, net_profit,
			total_assets, total_liabilities, total_equity, gross_margin, profit_margin, debt_to_equity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			period_end = excluded.period_end,
			total_revenue = excluded.total_revenue,
			total_expenses = excluded.total_expenses,
			net_profit = excluded.net_profit,
			total_assets = excluded.total_assets,
			total_liabilities = excluded.total_liabilities,
			total_equity = excluded.total_equity,
			gross_margin = excluded.gross_margin,
			profit_margin = excluded.profit_margin,
			debt_to_equity = excluded.debt_to_equity
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.EntityID, s.PeriodEnd.UTC(),
		nullFloat(s.TotalRevenue), nullFloat(s.TotalExpenses), nullFloat(s.NetProfit),
		nullFloat(s.TotalAssets), nullFloat(s.TotalLiabilities), nullFloat(s.TotalEquity),
		nullFloat(s.GrossMargin), nullFloat(s.ProfitMargin), nullFloat(s.DebtToEquity),
	)
	if err != nil {
		return eris.Wrapf(err, "repository: save statement for %s", s.EntityID)
	}
	return nil
}

// LatestFinancialStatement returns the statement with the latest period end.
func (r *SQLRepository) LatestFinancialStatement(ctx context.Context, entityID string) (*domain.FinancialStatement, error) {
	query := `
		SELECT id, entity_id, period_end, total_revenue, total_expenses, net_profit,
			total_assets, total_liabilities, total_equity, gross_margin, profit_margin, debt_to_equity
		FROM financial_statements
		WHERE entity_id = ?
		ORDER BY period_end DESC
		LIMIT 1
	`

	var s domain.FinancialStatement
	var revenue, expenses, profit, assets, liabilities, equity, gross, margin, dte sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), entityID).Scan(
		&s.ID, &s.EntityID, &s.PeriodEnd,
		&revenue, &expenses, &profit, &assets, &liabilities, &equity, &gross, &margin, &dte,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "no financial statement for %s", entityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: latest statement for %s", entityID)
	}

	s.TotalRevenue = floatPtr(revenue)
	s.TotalExpenses = floatPtr(expenses)
	s.NetProfit = floatPtr(profit)
	s.TotalAssets = floatPtr(assets)
	s.TotalLiabilities = floatPtr(liabilities)
	s.TotalEquity = floatPtr(equity)
	s.GrossMargin = floatPtr(gross)
	s.ProfitMargin = floatPtr(margin)
	s.DebtToEquity = floatPtr(dte)
	return &s, nil
}

// SaveInspection inserts or replaces an inspection outcome.
func (r *SQLRepository) SaveInspection(ctx context.Context, i *domain.Inspection) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.InspectionDate.IsZero() {
		i.InspectionDate = time.Now().UTC()
	}

	query := `
		INSERT INTO inspections (id, entity_id, inspection_date, status, open_findings, critical_findings)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			inspection_date = excluded.inspection_date,
			status = excluded.status,
			open_findings = excluded.open_findings,
			critical_findings = excluded.critical_findings
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		i.ID, i.EntityID, i.InspectionDate.UTC(), string(i.Status), i.OpenFindings, i.CriticalFindings,
	)
	if err != nil {
		return eris.Wrapf(err, "repository: save inspection for %s", i.EntityID)
	}
	return nil
}

// LatestInspection returns the most recent inspection for an entity.
func (r *SQLRepository) LatestInspection(ctx context.Context, entityID string) (*domain.Inspection, error) {
	query := `
		SELECT id, entity_id, inspection_date, status, open_findings, critical_findings
		FROM inspections
		WHERE entity_id = ?
		ORDER BY inspection_date DESC
		LIMIT 1
	`

	var i domain.Inspection
	var status string
	err := r.db.QueryRowContext(ctx, r.rebind(query), entityID).Scan(
		&i.ID, &i.EntityID, &i.InspectionDate, &status, &i.OpenFindings, &i.CriticalFindings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "no inspection for %s", entityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: latest inspection for %s", entityID)
	}
	i.Status = domain.InspectionStatus(status)
	return &i, nil
}

func scanEntity(s rowScanner) (*domain.Entity, error) {
	var e domain.Entity
	var reg, sector sql.NullString
	var active int
	if err := s.Scan(&e.ID, &e.Name, &reg, &sector, &active, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.RegistrationNumber = reg.String
	e.Sector = sector.String
	e.Active = active == 1
	return &e, nil
}
