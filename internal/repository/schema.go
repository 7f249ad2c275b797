package repository

// Schema definitions for the Prudence database.
// Compatible with both SQLite and PostgreSQL.

const schemaEntities = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    registration_number TEXT,
    sector TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_active ON entities(active);
`

const schemaFinancialStatements = `
CREATE TABLE IF NOT EXISTS financial_statements (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    period_end TIMESTAMP NOT NULL,
    total_revenue DOUBLE PRECISION,
    total_expenses DOUBLE PRECISION,
    net_profit DOUBLE PRECISION,
    total_assets DOUBLE PRECISION,
    total_liabilities DOUBLE PRECISION,
    total_equity DOUBLE PRECISION,
    gross_margin DOUBLE PRECISION,
    profit_margin DOUBLE PRECISION,
    debt_to_equity DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_statements_entity ON financial_statements(entity_id, period_end);
`

const schemaInspections = `
CREATE TABLE IF NOT EXISTS inspections (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    inspection_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    open_findings INTEGER NOT NULL DEFAULT 0,
    critical_findings INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_inspections_entity ON inspections(entity_id, inspection_date);
`

const schemaFormulas = `
CREATE TABLE IF NOT EXISTS formulas (
    id TEXT PRIMARY KEY,
    formula_type TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    variables TEXT NOT NULL,
    weights TEXT,
    thresholds TEXT,
    active INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    created_by TEXT,
    updated_by TEXT,
    change_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_formulas_type ON formulas(formula_type);
CREATE UNIQUE INDEX IF NOT EXISTS uq_formulas_one_active ON formulas(formula_type) WHERE active = 1;
`

const schemaFormulaVersions = `
CREATE TABLE IF NOT EXISTS formula_versions (
    formula_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    snapshot TEXT NOT NULL,
    recorded_by TEXT,
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (formula_id, version)
);
`

// formula_heads serializes activation per formula type. Every activation
// bumps activation_seq guarded by the value it read.
const schemaFormulaHeads = `
CREATE TABLE IF NOT EXISTS formula_heads (
    formula_type TEXT PRIMARY KEY,
    active_formula_id TEXT,
    activation_seq INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaBreakdowns = `
CREATE TABLE IF NOT EXISTS calculation_breakdowns (
    id TEXT PRIMARY KEY,
    calculation_type TEXT NOT NULL,
    reference_id TEXT NOT NULL,
    formula_id TEXT,
    formula_version INTEGER,
    final_value DOUBLE PRECISION NOT NULL,
    final_percentage DOUBLE PRECISION,
    components TEXT NOT NULL,
    calculated_at TIMESTAMP NOT NULL,
    calculated_by TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_breakdowns_reference ON calculation_breakdowns(reference_id, calculated_at);
CREATE INDEX IF NOT EXISTS idx_breakdowns_type ON calculation_breakdowns(calculation_type, calculated_at);
`

const schemaRiskAssessments = `
CREATE TABLE IF NOT EXISTS risk_assessments (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    assessment_date TIMESTAMP NOT NULL,
    assessment_period TEXT NOT NULL,
    fsi_score DOUBLE PRECISION,
    inherent_risk_score DOUBLE PRECISION,
    operational_risk_score DOUBLE PRECISION,
    market_risk_score DOUBLE PRECISION,
    credit_risk_score DOUBLE PRECISION,
    car DOUBLE PRECISION,
    liquidity_ratio DOUBLE PRECISION,
    overall_risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL,
    status TEXT NOT NULL,
    allow_reduced INTEGER NOT NULL DEFAULT 0,
    assessor TEXT,
    notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (entity_id, assessment_date, assessment_period)
);

CREATE INDEX IF NOT EXISTS idx_assessments_entity ON risk_assessments(entity_id, assessment_date);
`

const schemaComplianceIndices = `
CREATE TABLE IF NOT EXISTS compliance_indices (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    period TEXT NOT NULL,
    analysis_period TEXT NOT NULL,
    overall_compliance_score DOUBLE PRECISION NOT NULL,
    regulatory_compliance_score DOUBLE PRECISION NOT NULL,
    operational_compliance_score DOUBLE PRECISION NOT NULL,
    financial_compliance_score DOUBLE PRECISION NOT NULL,
    risk_calibration_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    risk_adjustment_factor DOUBLE PRECISION NOT NULL DEFAULT 1,
    post_inspection_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
    final_compliance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_responses INTEGER NOT NULL DEFAULT 0,
    total_yes INTEGER NOT NULL DEFAULT 0,
    total_no INTEGER NOT NULL DEFAULT 0,
    total_blank INTEGER NOT NULL DEFAULT 0,
    positive_weight DOUBLE PRECISION NOT NULL DEFAULT 1,
    negative_weight DOUBLE PRECISION NOT NULL DEFAULT 1,
    calculated_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (entity_id, period, analysis_period)
);

CREATE INDEX IF NOT EXISTS idx_compliance_entity ON compliance_indices(entity_id, updated_at);
`

// AllSchemas returns all schema definitions in order.
func AllSchemas() []string {
	return []string{
		schemaEntities,
		schemaFinancialStatements,
		schemaInspections,
		schemaFormulas,
		schemaFormulaVersions,
		schemaFormulaHeads,
		schemaBreakdowns,
		schemaRiskAssessments,
		schemaComplianceIndices,
	}
}
