package formula

import (
	"context"
	"strings"
	"testing"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func present(kv map[string]float64) map[string]domain.Measure {
	out := make(map[string]domain.Measure, len(kv))
	for k, v := range kv {
		out[k] = domain.Present(v)
	}
	return out
}

func TestEvaluateBuiltins(t *testing.T) {
	e := NewEvaluator()
	ctx := context.Background()

	tests := []struct {
		name   string
		t      domain.FormulaType
		inputs map[string]float64
		want   float64
	}{
		{"fsi", domain.FormulaFSIScore, map[string]float64{"profit_margin": 0.5, "gross_margin": 0.25}, 40},
		{"fsi clamps", domain.FormulaFSIScore, map[string]float64{"profit_margin": 3, "gross_margin": -1}, 60},
		{"car", domain.FormulaCAR, map[string]float64{"total_equity": 150, "total_assets": 1000}, 15},
		{"credit", domain.FormulaCreditRisk, map[string]float64{"debt_to_equity": 2}, 50},
		{"liquidity", domain.FormulaLiquidityRisk, map[string]float64{"total_assets": 300, "total_liabilities": 200}, 1.5},
		{"operational", domain.FormulaOperationalRisk, map[string]float64{"open_findings": 2, "critical_findings": 1}, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.Evaluate(ctx, Builtin(tt.t), present(tt.inputs))
			require.NoError(t, err)
			require.True(t, m.IsPresent(), m.String())
			assert.InDelta(t, tt.want, m.Value, 1e-9)
		})
	}
}

func TestEvaluateMeasureStates(t *testing.T) {
	e := NewEvaluator()
	ctx := context.Background()
	car := Builtin(domain.FormulaCAR)

	m, err := e.Evaluate(ctx, car, map[string]domain.Measure{
		"total_equity": domain.Present(100),
		"total_assets": domain.Missing("not reported"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MeasureMissing, m.State)

	m, err = e.Evaluate(ctx, car, map[string]domain.Measure{"total_equity": domain.Present(100)})
	require.NoError(t, err)
	assert.Equal(t, domain.MeasureMissing, m.State)

	// With several inputs absent the first in name order is reported.
	m, err = e.Evaluate(ctx, car, map[string]domain.Measure{})
	require.NoError(t, err)
	assert.Equal(t, "total_assets not supplied", m.Reason)

	m, err = e.Evaluate(ctx, car, map[string]domain.Measure{
		"total_equity": domain.Invalid("negative"),
		"total_assets": domain.Present(10),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MeasureInvalid, m.State)

	m, err = e.Evaluate(ctx, Builtin(domain.FormulaLiquidityRisk), present(map[string]float64{
		"total_assets": 100, "total_liabilities": 0,
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.MeasureInvalid, m.State, "zero denominator must not produce a value")
}

func TestValidateSandbox(t *testing.T) {
	e := NewEvaluator()
	vars := map[string]string{"a": "", "b": ""}

	assert.NoError(t, e.Validate("clamp(a * 2.0 - b, 0.0, 100.0)", vars))
	assert.NoError(t, e.Validate("weighted_sum([a, b], [0.5, 0.5])", vars))
	assert.NoError(t, e.Validate("math.greatest(a, b)", vars))

	rejected := map[string]string{
		"undeclared variable": "a + c",
		"string result":       `"x"`,
		"bool result":         "a > b",
		"comprehension":       "[a, b].all(x, x > 0.0)",
		"int literal mix":     "a * 2",
		"empty":               "",
		"too long":            strings.Repeat("a + ", 600) + "a",
	}
	for name, expr := range rejected {
		t.Run(name, func(t *testing.T) {
			assert.True(t, domain.IsValidation(e.Validate(expr, vars)))
		})
	}

	assert.True(t, domain.IsValidation(e.Validate("x", map[string]string{"X-1": ""})))
}

func TestWeightedSum(t *testing.T) {
	e := NewEvaluator()
	f := &domain.Formula{
		ID:          "ws",
		FormulaType: domain.FormulaMarketRisk,
		Expression:  "weighted_sum([fx, rate], [0.4, 0.6])",
		Variables:   map[string]string{"fx": "", "rate": ""},
		Version:     1,
	}

	m, err := e.Evaluate(context.Background(), f, present(map[string]float64{"fx": 50, "rate": 100}))
	require.NoError(t, err)
	assert.InDelta(t, 80, m.Value, 1e-9)

	f.ID, f.Expression = "ws-bad", "weighted_sum([fx], [0.4, 0.6])"
	m, err = e.Evaluate(context.Background(), f, present(map[string]float64{"fx": 50, "rate": 100}))
	require.NoError(t, err)
	assert.Equal(t, domain.MeasureInvalid, m.State)
}

func TestProgramCacheKeyedByVersion(t *testing.T) {
	e := NewEvaluator()
	ctx := context.Background()
	vars := map[string]string{"x": ""}

	v1 := &domain.Formula{ID: "f", FormulaType: domain.FormulaMarketRisk, Expression: "x * 1.0", Variables: vars, Version: 1}
	v2 := &domain.Formula{ID: "f", FormulaType: domain.FormulaMarketRisk, Expression: "x * 2.0", Variables: vars, Version: 2}

	m1, err := e.Evaluate(ctx, v1, present(map[string]float64{"x": 10}))
	require.NoError(t, err)
	m2, err := e.Evaluate(ctx, v2, present(map[string]float64{"x": 10}))
	require.NoError(t, err)

	assert.Equal(t, 10.0, m1.Value)
	assert.Equal(t, 20.0, m2.Value)

	e.Forget("f")
	assert.Empty(t, e.programs)
}
