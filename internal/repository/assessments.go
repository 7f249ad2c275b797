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

const assessmentColumns = `id, entity_id, assessment_date, assessment_period,
	fsi_score, inherent_risk_score, operational_risk_score, market_risk_score, credit_risk_score,
	car, liquidity_ratio, overall_risk_score, risk_level, status, allow_reduced, assessor, notes,
	created_at, updated_at`

// SaveRiskAssessment upserts by natural key (entity, date, period).
func (r *SQLRepository) SaveRiskAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	if a.EntityID == "" {
		return eris.Wrap(domain.ErrValidation, "repository: assessment entity_id is required")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.AssessmentDate = truncateDay(a.AssessmentDate)

	query := `
		INSERT INTO risk_assessments (` + assessmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, assessment_date, assessment_period) DO UPDATE SET
			fsi_score = excluded.fsi_score,
			inherent_risk_score = excluded.inherent_risk_score,
			operational_risk_score = excluded.operational_risk_score,
			market_risk_score = excluded.market_risk_score,
			credit_risk_score = excluded.credit_risk_score,
			car = excluded.car,
			liquidity_ratio = excluded.liquidity_ratio,
			overall_risk_score = excluded.overall_risk_score,
			risk_level = excluded.risk_level,
			status = excluded.status,
			allow_reduced = excluded.allow_reduced,
			assessor = excluded.assessor,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, r.rebind(query),
		a.ID, a.EntityID, a.AssessmentDate, string(a.Period),
		nullFloat(a.FinancialStabilityScore), nullFloat(a.InherentRiskScore),
		nullFloat(a.OperationalRiskScore), nullFloat(a.MarketRiskScore), nullFloat(a.CreditRiskScore),
		nullFloat(a.CapitalAdequacyRatio), nullFloat(a.LiquidityRatio),
		a.OverallRiskScore, string(a.RiskTier), string(a.Status), boolToInt(a.AllowReduced),
		nullString(a.Assessor), nullString(a.Notes), a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "repository: upsert risk assessment for %s", a.EntityID)
	}
	return nil
}

// GetRiskAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetRiskAssessment(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "risk assessment %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get risk assessment %s", id)
	}
	return a, nil
}

// ListRiskAssessments returns an entity's assessments, newest first.
func (r *SQLRepository) ListRiskAssessments(ctx context.Context, entityID string, limit int) ([]*domain.RiskAssessment, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments
		WHERE entity_id = ?
		ORDER BY assessment_date DESC, updated_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "repository: list assessments for %s", entityID)
	}
	defer rows.Close()

	var out []*domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan assessment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssessment(s rowScanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var period, tier, status string
	var fsi, inherent, operational, market, credit, car, liquidity sql.NullFloat64
	var assessor, notes sql.NullString
	var reduced int

	if err := s.Scan(
		&a.ID, &a.EntityID, &a.AssessmentDate, &period,
		&fsi, &inherent, &operational, &market, &credit,
		&car, &liquidity, &a.OverallRiskScore, &tier, &status, &reduced,
		&assessor, &notes, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Period = domain.AssessmentPeriod(period)
	a.RiskTier = domain.RiskTier(tier)
	a.Status = domain.AssessmentStatus(status)
	a.AllowReduced = reduced == 1
	a.FinancialStabilityScore = floatPtr(fsi)
	a.InherentRiskScore = floatPtr(inherent)
	a.OperationalRiskScore = floatPtr(operational)
	a.MarketRiskScore = floatPtr(market)
	a.CreditRiskScore = floatPtr(credit)
	a.CapitalAdequacyRatio = floatPtr(car)
	a.LiquidityRatio = floatPtr(liquidity)
	a.Assessor = assessor.String
	a.Notes = notes.String
	return &a, nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
