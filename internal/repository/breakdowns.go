package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

const breakdownColumns = `id, calculation_type, reference_id, formula_id, formula_version,
	final_value, final_percentage, components, calculated_at, calculated_by`

// SaveBreakdown appends a breakdown row. Rows are never updated.
func (r *SQLRepository) SaveBreakdown(ctx context.Context, b *domain.CalculationBreakdown) error {
	components, err := marshalJSON(b.Components)
	if err != nil {
		return err
	}

	var version any
	if b.FormulaVersion != nil {
		version = *b.FormulaVersion
	}

	query := `
		INSERT INTO calculation_breakdowns (` + breakdownColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		b.ID, string(b.CalculationType), b.ReferenceID, nullString(b.FormulaID), version,
		b.FinalValue, nullFloat(b.FinalPercentage), components, b.CalculatedAt, b.CalculatedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "repository: insert breakdown for %s", b.ReferenceID)
	}
	return nil
}

// LatestBreakdown returns the most recent breakdown for a reference.
func (r *SQLRepository) LatestBreakdown(ctx context.Context, referenceID string, calcType domain.CalculationType) (*domain.CalculationBreakdown, error) {
	query := `SELECT ` + breakdownColumns + ` FROM calculation_breakdowns WHERE reference_id = ?`
	args := []any{referenceID}
	if calcType != "" {
		query += ` AND calculation_type = ?`
		args = append(args, string(calcType))
	}
	query += ` ORDER BY calculated_at DESC, id DESC LIMIT 1`

	b, err := scanBreakdown(r.db.QueryRowContext(ctx, r.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "no breakdown for %s", referenceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: latest breakdown for %s", referenceID)
	}
	return b, nil
}

// ListBreakdownsByType returns breakdowns of a type, newest first.
func (r *SQLRepository) ListBreakdownsByType(ctx context.Context, calcType domain.CalculationType, limit int) ([]*domain.CalculationBreakdown, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + breakdownColumns + ` FROM calculation_breakdowns
		WHERE calculation_type = ?
		ORDER BY calculated_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(calcType), limit)
	if err != nil {
		return nil, eris.Wrapf(err, "repository: list %s breakdowns", calcType)
	}
	defer rows.Close()

	var out []*domain.CalculationBreakdown
	for rows.Next() {
		b, err := scanBreakdown(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan breakdown")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBreakdown(s rowScanner) (*domain.CalculationBreakdown, error) {
	var b domain.CalculationBreakdown
	var calcType string
	var formulaID, components sql.NullString
	var version sql.NullInt64
	var percentage sql.NullFloat64

	if err := s.Scan(
		&b.ID, &calcType, &b.ReferenceID, &formulaID, &version,
		&b.FinalValue, &percentage, &components, &b.CalculatedAt, &b.CalculatedBy,
	); err != nil {
		return nil, err
	}

	b.CalculationType = domain.CalculationType(calcType)
	b.FormulaID = formulaID.String
	if version.Valid {
		v := int(version.Int64)
		b.FormulaVersion = &v
	}
	b.FinalPercentage = floatPtr(percentage)
	if err := unmarshalJSON(components, &b.Components); err != nil {
		return nil, err
	}
	return &b, nil
}
