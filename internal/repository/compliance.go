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

const complianceColumns = `id, entity_id, period, analysis_period,
	overall_compliance_score, regulatory_compliance_score, operational_compliance_score,
	financial_compliance_score, risk_calibration_score, risk_adjustment_factor,
	post_inspection_adjustment, final_compliance_score,
	total_responses, total_yes, total_no, total_blank, positive_weight, negative_weight,
	calculated_at, created_at, updated_at`

// SaveComplianceIndex upserts by natural key (entity, period, analysis period).
func (r *SQLRepository) SaveComplianceIndex(ctx context.Context, c *domain.ComplianceIndex) error {
	if c.EntityID == "" || c.Period == "" {
		return eris.Wrap(domain.ErrValidation, "repository: compliance index entity_id and period are required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	var calculatedAt any
	if c.CalculatedAt != nil {
		calculatedAt = *c.CalculatedAt
	}

	query := `
		INSERT INTO compliance_indices (` + complianceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, period, analysis_period) DO UPDATE SET
			overall_compliance_score = excluded.overall_compliance_score,
			regulatory_compliance_score = excluded.regulatory_compliance_score,
			operational_compliance_score = excluded.operational_compliance_score,
			financial_compliance_score = excluded.financial_compliance_score,
			risk_calibration_score = excluded.risk_calibration_score,
			risk_adjustment_factor = excluded.risk_adjustment_factor,
			post_inspection_adjustment = excluded.post_inspection_adjustment,
			final_compliance_score = excluded.final_compliance_score,
			total_responses = excluded.total_responses,
			total_yes = excluded.total_yes,
			total_no = excluded.total_no,
			total_blank = excluded.total_blank,
			positive_weight = excluded.positive_weight,
			negative_weight = excluded.negative_weight,
			calculated_at = excluded.calculated_at,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, r.rebind(query),
		c.ID, c.EntityID, c.Period, string(c.AnalysisPeriod),
		c.OverallComplianceScore, c.RegulatoryComplianceScore, c.OperationalComplianceScore,
		c.FinancialComplianceScore, c.RiskCalibrationScore, c.RiskAdjustmentFactor,
		c.PostInspectionAdjustment, c.FinalComplianceScore,
		c.TotalResponses, c.TotalYes, c.TotalNo, c.TotalBlank, c.PositiveWeight, c.NegativeWeight,
		calculatedAt, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "repository: upsert compliance index for %s", c.EntityID)
	}
	return nil
}

// GetComplianceIndex retrieves a compliance index by ID.
func (r *SQLRepository) GetComplianceIndex(ctx context.Context, id string) (*domain.ComplianceIndex, error) {
	query := `SELECT ` + complianceColumns + ` FROM compliance_indices WHERE id = ?`

	c, err := scanCompliance(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "compliance index %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get compliance index %s", id)
	}
	return c, nil
}

// FindComplianceIndex looks an index up by its natural key.
func (r *SQLRepository) FindComplianceIndex(ctx context.Context, entityID, period string, analysis domain.AnalysisPeriod) (*domain.ComplianceIndex, error) {
	query := `SELECT ` + complianceColumns + ` FROM compliance_indices
		WHERE entity_id = ? AND period = ? AND analysis_period = ?`

	c, err := scanCompliance(r.db.QueryRowContext(ctx, r.rebind(query), entityID, period, string(analysis)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "compliance index %s/%s/%s", entityID, period, analysis)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: find compliance index for %s", entityID)
	}
	return c, nil
}

// LatestComplianceIndex returns the most recently updated index for an entity.
func (r *SQLRepository) LatestComplianceIndex(ctx context.Context, entityID string) (*domain.ComplianceIndex, error) {
	query := `SELECT ` + complianceColumns + ` FROM compliance_indices
		WHERE entity_id = ?
		ORDER BY updated_at DESC
		LIMIT 1`

	c, err := scanCompliance(r.db.QueryRowContext(ctx, r.rebind(query), entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "no compliance index for %s", entityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: latest compliance index for %s", entityID)
	}
	return c, nil
}

func scanCompliance(s rowScanner) (*domain.ComplianceIndex, error) {
	var c domain.ComplianceIndex
	var analysis string
	var calculatedAt sql.NullTime

	if err := s.Scan(
		&c.ID, &c.EntityID, &c.Period, &analysis,
		&c.OverallComplianceScore, &c.RegulatoryComplianceScore, &c.OperationalComplianceScore,
		&c.FinancialComplianceScore, &c.RiskCalibrationScore, &c.RiskAdjustmentFactor,
		&c.PostInspectionAdjustment, &c.FinalComplianceScore,
		&c.TotalResponses, &c.TotalYes, &c.TotalNo, &c.TotalBlank, &c.PositiveWeight, &c.NegativeWeight,
		&calculatedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.AnalysisPeriod = domain.AnalysisPeriod(analysis)
	if calculatedAt.Valid {
		t := calculatedAt.Time
		c.CalculatedAt = &t
	}
	return &c, nil
}
