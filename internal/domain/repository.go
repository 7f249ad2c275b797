package domain

import (
	"context"
	"time"
)

// FormulaStore persists formulas and their immutable version snapshots.
type FormulaStore interface {
	// CreateFormula inserts a formula row and its first version snapshot.
	CreateFormula(ctx context.Context, f *Formula) error
	GetFormula(ctx context.Context, id string) (*Formula, error)
	GetActiveFormula(ctx context.Context, t FormulaType) (*Formula, error)
	ListFormulas(ctx context.Context, t FormulaType) ([]*Formula, error)

	// UpdateFormula writes f when the stored version equals expectedVersion
	// and appends a snapshot. A stale version yields ErrConcurrencyConflict.
	UpdateFormula(ctx context.Context, f *Formula, expectedVersion int) error

	// ActivateFormula atomically deactivates every sibling of the same type
	// and activates id.
	ActivateFormula(ctx context.Context, id string, actor string) (*Formula, error)

	ListFormulaVersions(ctx context.Context, id string) ([]*FormulaVersion, error)
	CountActiveFormulas(ctx context.Context, t FormulaType) (int, error)
}

// BreakdownStore persists append-only calculation breakdowns.
type BreakdownStore interface {
	SaveBreakdown(ctx context.Context, b *CalculationBreakdown) error

	// LatestBreakdown returns the newest breakdown for referenceID.
	// An empty calcType matches any type.
	LatestBreakdown(ctx context.Context, referenceID string, calcType CalculationType) (*CalculationBreakdown, error)
	ListBreakdownsByType(ctx context.Context, calcType CalculationType, limit int) ([]*CalculationBreakdown, error)
}

// AssessmentStore persists risk assessments.
type AssessmentStore interface {
	// SaveRiskAssessment upserts by (entity, assessment date, period) and
	// sets a.ID to the stored row's ID.
	SaveRiskAssessment(ctx context.Context, a *RiskAssessment) error
	GetRiskAssessment(ctx context.Context, id string) (*RiskAssessment, error)

	// ListRiskAssessments returns an entity's assessments, newest first.
	ListRiskAssessments(ctx context.Context, entityID string, limit int) ([]*RiskAssessment, error)
}

// ComplianceStore persists compliance indices.
type ComplianceStore interface {
	// SaveComplianceIndex upserts by (entity, period, analysis period) and
	// sets c.ID to the stored row's ID.
	SaveComplianceIndex(ctx context.Context, c *ComplianceIndex) error
	GetComplianceIndex(ctx context.Context, id string) (*ComplianceIndex, error)
	FindComplianceIndex(ctx context.Context, entityID, period string, analysis AnalysisPeriod) (*ComplianceIndex, error)
	LatestComplianceIndex(ctx context.Context, entityID string) (*ComplianceIndex, error)
}

// EntityDirectory fronts the collaborator records the engine reads.
type EntityDirectory interface {
	ListActiveEntities(ctx context.Context) ([]*Entity, error)
	GetEntity(ctx context.Context, id string) (*Entity, error)
	LatestFinancialStatement(ctx context.Context, entityID string) (*FinancialStatement, error)
	LatestInspection(ctx context.Context, entityID string) (*Inspection, error)

	// Seeding hooks used by the CLI and tests.
	SaveEntity(ctx context.Context, e *Entity) error
	SaveFinancialStatement(ctx context.Context, s *FinancialStatement) error
	SaveInspection(ctx context.Context, i *Inspection) error
}

// Repository is the full persistence surface.
type Repository interface {
	FormulaStore
	BreakdownStore
	AssessmentStore
	ComplianceStore
	EntityDirectory

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// PostgresURL, when set, is used as the DSN and the fields above are
	// ignored. Both URL and key=value forms are accepted.
	PostgresURL string `mapstructure:"postgres_url"`

	// PostgresSchema becomes the session search_path.
	PostgresSchema string `mapstructure:"postgres_schema"`

	// PostgresConnectTimeout bounds dialing and the startup ping.
	PostgresConnectTimeout time.Duration `mapstructure:"postgres_connect_timeout"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
