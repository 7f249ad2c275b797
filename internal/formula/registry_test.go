package formula

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/prudence/internal/cache"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin   = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	officer = domain.Actor{ID: "officer-1", Role: domain.RoleComplianceOfficer}
)

func newRegistry(t *testing.T) (*Registry, *repository.SQLRepository, *cache.LRUCache) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "formulas.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	return NewRegistry(repo, c, 0), repo, c
}

func carDraft(name string) *domain.Formula {
	return &domain.Formula{
		FormulaType: domain.FormulaCAR,
		Name:        name,
		Expression:  "clamp(total_equity / total_assets * 100.0, 0.0, 100.0)",
		Variables:   map[string]string{"total_equity": "", "total_assets": ""},
		Thresholds:  map[string]float64{"breach": 8},
	}
}

func TestCreateActivatesFirstOfType(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	first, err := reg.Create(ctx, admin, carDraft("CAR v1"))
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, 1, first.Version)

	second, err := reg.Create(ctx, admin, carDraft("CAR alt"))
	require.NoError(t, err)
	assert.False(t, second.Active)

	_, err = reg.Create(ctx, officer, carDraft("denied"))
	assert.True(t, domain.IsForbidden(err))

	bad := carDraft("bad")
	bad.Expression = "total_equity +"
	_, err = reg.Create(ctx, admin, bad)
	assert.True(t, domain.IsValidation(err))
}

func TestActivateSwitchesActiveVersion(t *testing.T) {
	reg, repo, _ := newRegistry(t)
	ctx := context.Background()

	v1, err := reg.Create(ctx, admin, carDraft("CAR"))
	require.NoError(t, err)

	v2, err := reg.Duplicate(ctx, admin, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.False(t, v2.Active)
	assert.Equal(t, "CAR (Copy)", v2.Name)
	assert.Contains(t, v2.ChangeNotes, "version 1")
	assert.Equal(t, v1.Expression, v2.Expression)

	// Prime the cache with v1.
	active, err := reg.GetActive(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	activated, err := reg.Activate(ctx, admin, v2.ID)
	require.NoError(t, err)
	assert.True(t, activated.Active)

	active, err = reg.GetActive(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID, "activation must invalidate the cached formula")

	old, err := reg.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	n, err := repo.CountActiveFormulas(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = reg.Activate(ctx, officer, v1.ID)
	assert.True(t, domain.IsForbidden(err))
}

func TestRecordEdit(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	f, err := reg.Create(ctx, admin, carDraft("CAR"))
	require.NoError(t, err)

	expr := "clamp(total_equity / total_assets * 120.0, 0.0, 100.0)"
	edited, err := reg.RecordEdit(ctx, admin, f.ID, domain.FormulaChanges{
		Expression:  &expr,
		ChangeNotes: "tighten",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, edited.Version)
	assert.Equal(t, "tighten", edited.ChangeNotes)

	versions, err := reg.Versions(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, expr, versions[0].Snapshot.Expression)
	assert.Equal(t, f.Expression, versions[1].Snapshot.Expression)

	active, err := reg.GetActive(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, expr, active.Expression)

	_, err = reg.RecordEdit(ctx, admin, f.ID, domain.FormulaChanges{})
	assert.True(t, domain.IsValidation(err))

	broken := "total_equity / nope"
	_, err = reg.RecordEdit(ctx, admin, f.ID, domain.FormulaChanges{Expression: &broken})
	assert.True(t, domain.IsValidation(err))

	_, err = reg.RecordEdit(ctx, admin, "missing", domain.FormulaChanges{Expression: &expr})
	assert.True(t, domain.IsNotFound(err))
}

func TestActiveOrDefault(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.GetActive(ctx, domain.FormulaFSIScore)
	assert.True(t, domain.IsNotFound(err))

	f, err := reg.ActiveOrDefault(ctx, domain.FormulaFSIScore)
	require.NoError(t, err)
	assert.True(t, f.Builtin)
	assert.Equal(t, 0, f.Version)

	_, err = reg.ActiveOrDefault(ctx, domain.FormulaLegalRisk)
	assert.True(t, domain.IsNotFound(err))

	_, err = reg.GetActive(ctx, "BOGUS")
	assert.True(t, domain.IsValidation(err))
}

func TestCompositeWeightsValidated(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	composite := &domain.Formula{
		FormulaType: domain.FormulaCompositeRisk,
		Name:        "Composite",
		Weights: map[string]float64{
			"financial_stability": 0.3, "inherent": 0.2, "operational": 0.2, "market": 0.1, "credit": 0.2,
		},
	}
	_, err := reg.Create(ctx, admin, composite)
	require.NoError(t, err)

	composite.Weights["credit"] = 0.5
	_, err = reg.Create(ctx, admin, composite)
	assert.True(t, domain.IsValidation(err))
}

func TestEvaluateStoredFormula(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	f, err := reg.Create(ctx, admin, carDraft("CAR"))
	require.NoError(t, err)

	m, err := reg.Evaluate(ctx, f.ID, map[string]float64{"total_equity": 12, "total_assets": 100})
	require.NoError(t, err)
	assert.InDelta(t, 12, m.Value, 1e-9)
}

func TestRecordEditDropsCompiledPrograms(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	f, err := reg.Create(ctx, admin, carDraft("CAR"))
	require.NoError(t, err)
	_, err = reg.Evaluate(ctx, f.ID, map[string]float64{"total_equity": 12, "total_assets": 100})
	require.NoError(t, err)
	require.Contains(t, reg.evaluator.programs, f.ID+"@1")

	expr := "clamp(total_equity / total_assets * 50.0, 0.0, 100.0)"
	_, err = reg.RecordEdit(ctx, admin, f.ID, domain.FormulaChanges{Expression: &expr})
	require.NoError(t, err)
	assert.NotContains(t, reg.evaluator.programs, f.ID+"@1")

	m, err := reg.Evaluate(ctx, f.ID, map[string]float64{"total_equity": 12, "total_assets": 100})
	require.NoError(t, err)
	assert.InDelta(t, 6, m.Value, 1e-9)
}

func TestSeedBuiltins(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, admin, carDraft("CAR custom"))
	require.NoError(t, err)

	seeded, err := reg.SeedBuiltins(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, seeded, 6)
	for _, f := range seeded {
		assert.NotEqual(t, domain.FormulaCAR, f.FormulaType)
		assert.True(t, f.Active)
		assert.False(t, f.Builtin)
		assert.Equal(t, 1, f.Version)
	}

	active, err := reg.GetActive(ctx, domain.FormulaCAR)
	require.NoError(t, err)
	assert.Equal(t, "CAR custom", active.Name)

	again, err := reg.SeedBuiltins(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = reg.SeedBuiltins(ctx, officer)
	assert.True(t, domain.IsForbidden(err))
}
