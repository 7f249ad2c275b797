package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "prudence-test.db"),
	}

	repo, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func carFormula(id string, version int) *domain.Formula {
	now := time.Now().UTC()
	return &domain.Formula{
		ID:          id,
		FormulaType: domain.FormulaCAR,
		Name:        "Capital Adequacy",
		Expression:  "total_equity / total_assets * 100.0",
		Variables:   map[string]string{"total_equity": "Total equity", "total_assets": "Total assets"},
		Thresholds:  map[string]float64{"breach": 10},
		Version:     version,
		CreatedBy:   "admin-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestFormulaLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	v1 := carFormula("car-v1", 1)
	require.NoError(t, repo.CreateFormula(ctx, v1))

	got, err := repo.GetFormula(ctx, "car-v1")
	require.NoError(t, err)
	assert.Equal(t, domain.FormulaCAR, got.FormulaType)
	assert.Equal(t, 10.0, got.Thresholds["breach"])
	assert.False(t, got.Active)

	_, err = repo.GetActiveFormula(ctx, domain.FormulaCAR)
	assert.True(t, domain.IsNotFound(err))

	_, err = repo.GetFormula(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))

	t.Run("optimistic update", func(t *testing.T) {
		edited := got.Clone()
		edited.Name = "Capital Adequacy (revised)"
		edited.Version = 2
		edited.UpdatedBy = "admin-2"
		require.NoError(t, repo.UpdateFormula(ctx, edited, 1))

		stale := got.Clone()
		stale.Version = 2
		err := repo.UpdateFormula(ctx, stale, 1)
		assert.True(t, domain.IsConcurrencyConflict(err), "got %v", err)

		versions, err := repo.ListFormulaVersions(ctx, "car-v1")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 2, versions[0].Version)
		assert.Equal(t, "Capital Adequacy (revised)", versions[0].Snapshot.Name)
		assert.Equal(t, "Capital Adequacy", versions[1].Snapshot.Name)
	})
}

func TestActivateFormulaLeavesExactlyOneActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateFormula(ctx, carFormula("car-v1", 1)))
	require.NoError(t, repo.CreateFormula(ctx, carFormula("car-v2", 2)))

	_, err := repo.ActivateFormula(ctx, "car-v1", "admin-1")
	require.NoError(t, err)

	activated, err := repo.ActivateFormula(ctx, "car-v2", "admin-1")
	require.NoError(t, err)
	assert.True(t, activated.Active)

	v1, err := repo.GetFormula(ctx, "car-v1")
	require.NoError(t, err)
	assert.False(t, v1.Active)

	n, err := repo.CountActiveFormulas(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := repo.GetActiveFormula(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, "car-v2", active.ID)

	t.Run("reactivating the active formula is a no-op", func(t *testing.T) {
		_, err := repo.ActivateFormula(ctx, "car-v2", "admin-1")
		require.NoError(t, err)

		n, err := repo.CountActiveFormulas(ctx, domain.FormulaCAR)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("unknown formula", func(t *testing.T) {
		_, err := repo.ActivateFormula(ctx, "nope", "admin-1")
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestConcurrentActivationKeepsOneActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ids := []string{"car-a", "car-b", "car-c", "car-d"}
	for i, id := range ids {
		require.NoError(t, repo.CreateFormula(ctx, carFormula(id, i+1)))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := repo.ActivateFormula(ctx, id, "admin-1")
			if err != nil {
				assert.True(t, domain.IsConcurrencyConflict(err) || !domain.IsClassified(err), "unexpected %v", err)
			}
		}(id)
	}
	wg.Wait()

	n, err := repo.CountActiveFormulas(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBreakdownsAreAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	version := 3
	first := &domain.CalculationBreakdown{
		ID:              "bd-1",
		CalculationType: domain.CalcRiskScore,
		ReferenceID:     "assessment-1",
		FormulaID:       "composite-1",
		FormulaVersion:  &version,
		FinalValue:      65,
		Components: []domain.BreakdownComponent{
			{Name: "financial_stability", Value: 75, Weight: 0.25, Contribution: 18.75, ImpactPercentage: 28.85},
		},
		CalculatedAt: time.Now().UTC().Add(-time.Minute),
		CalculatedBy: "system",
	}
	second := &domain.CalculationBreakdown{
		ID:              "bd-2",
		CalculationType: domain.CalcRiskScore,
		ReferenceID:     "assessment-1",
		FinalValue:      70,
		CalculatedAt:    time.Now().UTC(),
		CalculatedBy:    "system",
	}
	require.NoError(t, repo.SaveBreakdown(ctx, first))
	require.NoError(t, repo.SaveBreakdown(ctx, second))

	latest, err := repo.LatestBreakdown(ctx, "assessment-1", domain.CalcRiskScore)
	require.NoError(t, err)
	assert.Equal(t, "bd-2", latest.ID)
	assert.Nil(t, latest.FormulaVersion)

	all, err := repo.ListBreakdownsByType(ctx, domain.CalcRiskScore, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[1].FormulaVersion)
	assert.Equal(t, 3, *all[1].FormulaVersion)
	require.Len(t, all[1].Components, 1)
	assert.Equal(t, 18.75, all[1].Components[0].Contribution)

	_, err = repo.LatestBreakdown(ctx, "assessment-1", domain.CalcComplianceIndex)
	assert.True(t, domain.IsNotFound(err))

	assert.Error(t, repo.SaveBreakdown(ctx, first), "duplicate id must not overwrite")
}

func TestRiskAssessmentUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	fsi := 75.0
	day := time.Date(2026, 3, 31, 15, 4, 5, 0, time.UTC)

	a := &domain.RiskAssessment{
		EntityID:                "mfi-1",
		AssessmentDate:          day,
		Period:                  domain.PeriodQuarterly,
		FinancialStabilityScore: &fsi,
		OverallRiskScore:        65,
		RiskTier:                domain.TierMediumHigh,
		Status:                  domain.AssessmentCompleted,
	}
	require.NoError(t, repo.SaveRiskAssessment(ctx, a))
	firstID := a.ID

	again := &domain.RiskAssessment{
		EntityID:         "mfi-1",
		AssessmentDate:   day.Add(3 * time.Hour),
		Period:           domain.PeriodQuarterly,
		OverallRiskScore: 70,
		RiskTier:         domain.TierMediumHigh,
		Status:           domain.AssessmentCompleted,
		AllowReduced:     true,
	}
	require.NoError(t, repo.SaveRiskAssessment(ctx, again))
	assert.Equal(t, firstID, again.ID, "same entity, day and period must upsert")

	got, err := repo.GetRiskAssessment(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got.OverallRiskScore)
	assert.Nil(t, got.FinancialStabilityScore)
	assert.True(t, got.AllowReduced)

	later := &domain.RiskAssessment{
		EntityID:         "mfi-1",
		AssessmentDate:   day.AddDate(0, 3, 0),
		Period:           domain.PeriodQuarterly,
		OverallRiskScore: 50,
		RiskTier:         domain.TierMedium,
		Status:           domain.AssessmentCompleted,
	}
	require.NoError(t, repo.SaveRiskAssessment(ctx, later))

	list, err := repo.ListRiskAssessments(ctx, "mfi-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, later.ID, list[0].ID)
	assert.False(t, list[0].AllowReduced)

	_, err = repo.GetRiskAssessment(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestComplianceIndexUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := domain.NewComplianceIndex("mfi-1", "2026-Q1", domain.AnalysisQuarterly)
	c.TotalResponses, c.TotalYes = 10, 10
	require.NoError(t, repo.SaveComplianceIndex(ctx, c))

	found, err := repo.FindComplianceIndex(ctx, "mfi-1", "2026-Q1", domain.AnalysisQuarterly)
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)
	assert.Equal(t, domain.DefaultComplianceScore, found.OverallComplianceScore)
	assert.Nil(t, found.CalculatedAt)

	now := time.Now().UTC()
	found.FinalComplianceScore = 99.5
	found.CalculatedAt = &now
	require.NoError(t, repo.SaveComplianceIndex(ctx, found))

	latest, err := repo.LatestComplianceIndex(ctx, "mfi-1")
	require.NoError(t, err)
	assert.Equal(t, 99.5, latest.FinalComplianceScore)
	assert.NotNil(t, latest.CalculatedAt)

	_, err = repo.FindComplianceIndex(ctx, "mfi-1", "2026-Q2", domain.AnalysisQuarterly)
	assert.True(t, domain.IsNotFound(err))

	err = repo.SaveComplianceIndex(ctx, &domain.ComplianceIndex{})
	assert.True(t, domain.IsValidation(err))
}

func TestEntityDirectory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveEntity(ctx, &domain.Entity{ID: "mfi-1", Name: "Alpha", Active: true}))
	require.NoError(t, repo.SaveEntity(ctx, &domain.Entity{ID: "mfi-2", Name: "Beta", Active: false}))

	active, err := repo.ListActiveEntities(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "mfi-1", active[0].ID)

	assets, equity := 1000.0, 150.0
	old := &domain.FinancialStatement{EntityID: "mfi-1", PeriodEnd: time.Now().UTC().AddDate(-1, 0, 0)}
	cur := &domain.FinancialStatement{EntityID: "mfi-1", PeriodEnd: time.Now().UTC(), TotalAssets: &assets, TotalEquity: &equity}
	require.NoError(t, repo.SaveFinancialStatement(ctx, old))
	require.NoError(t, repo.SaveFinancialStatement(ctx, cur))

	stmt, err := repo.LatestFinancialStatement(ctx, "mfi-1")
	require.NoError(t, err)
	assert.Equal(t, cur.ID, stmt.ID)
	require.NotNil(t, stmt.TotalAssets)
	assert.Equal(t, 1000.0, *stmt.TotalAssets)
	assert.Nil(t, stmt.NetProfit)

	_, err = repo.LatestFinancialStatement(ctx, "mfi-2")
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, repo.SaveInspection(ctx, &domain.Inspection{
		EntityID: "mfi-1", Status: domain.InspectionOpen, OpenFindings: 3, CriticalFindings: 1,
	}))
	insp, err := repo.LatestInspection(ctx, "mfi-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionOpen, insp.Status)
	assert.Equal(t, 3, insp.OpenFindings)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM formulas WHERE id = ?", "SELECT * FROM formulas WHERE id = $1"},
		{"UPDATE formula_heads SET activation_seq = ? WHERE formula_type = ?", "UPDATE formula_heads SET activation_seq = $1 WHERE formula_type = $2"},
		{"SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, repo.rebind(tt.input))
	}
}
