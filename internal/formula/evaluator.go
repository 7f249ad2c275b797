// Package formula compiles, evaluates and manages versioned scoring formulas.
//
// Expressions are CEL programs restricted to arithmetic over declared double
// variables plus the clamp and weighted_sum helpers. Macros are removed, so
// no comprehension can loop, and every program runs under a cost limit.
package formula

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

const (
	maxExpressionLength = 2048
	maxVariables        = 64
	costLimit           = 10_000
)

var identifier = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Evaluator compiles formulas and caches programs by formula ID and version.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]cel.Program)}
}

// Validate compiles expression against variables without caching it.
func (e *Evaluator) Validate(expression string, variables map[string]string) error {
	_, err := compile(expression, variables)
	return err
}

// Evaluate runs f against inputs. Undeclared inputs are ignored.
//
// A Missing declared variable yields a Missing result and an Invalid one
// yields Invalid, without running the program. A non-finite result or a
// runtime error (integer division by zero, cost exhaustion) yields Invalid.
func (e *Evaluator) Evaluate(ctx context.Context, f *domain.Formula, inputs map[string]domain.Measure) (domain.Measure, error) {
	if f == nil {
		return domain.Measure{}, eris.Wrap(domain.ErrValidation, "formula: nil formula")
	}
	if f.Expression == "" {
		return domain.Measure{}, eris.Wrapf(domain.ErrValidation, "formula: %s has no expression", f.FormulaType)
	}

	activation := make(map[string]any, len(f.Variables))
	for _, name := range f.VariableNames() {
		m, ok := inputs[name]
		if !ok {
			return domain.Missing(fmt.Sprintf("%s not supplied", name)), nil
		}
		switch m.State {
		case domain.MeasureMissing:
			return domain.Missing(fmt.Sprintf("%s: %s", name, m.Reason)), nil
		case domain.MeasureInvalid:
			return domain.Invalid(fmt.Sprintf("%s: %s", name, m.Reason)), nil
		}
		activation[name] = m.Value
	}

	prg, err := e.program(f)
	if err != nil {
		return domain.Measure{}, err
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return domain.Invalid(err.Error()), nil
	}

	v, err := toFloat(out)
	if err != nil {
		return domain.Measure{}, eris.Wrapf(domain.ErrValidation, "formula: %s: %v", f.FormulaType, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.Invalid(fmt.Sprintf("%s evaluated to %v", f.FormulaType, v)), nil
	}
	return domain.Present(v), nil
}

// Forget drops cached programs for every version of id.
func (e *Evaluator) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := id + "@"
	for key := range e.programs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.programs, key)
		}
	}
}

func (e *Evaluator) program(f *domain.Formula) (cel.Program, error) {
	key := programKey(f)

	e.mu.RLock()
	prg, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := compile(f.Expression, f.Variables)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[key] = prg
	e.mu.Unlock()
	return prg, nil
}

func programKey(f *domain.Formula) string {
	id := f.ID
	if f.Builtin || id == "" {
		id = "builtin:" + string(f.FormulaType)
	}
	return id + "@" + strconv.Itoa(f.Version)
}

func compile(expression string, variables map[string]string) (cel.Program, error) {
	if expression == "" {
		return nil, eris.Wrap(domain.ErrValidation, "formula: expression is required")
	}
	if len(expression) > maxExpressionLength {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: expression exceeds %d characters", maxExpressionLength)
	}
	if len(variables) > maxVariables {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: more than %d variables", maxVariables)
	}

	opts := []cel.EnvOption{
		cel.ClearMacros(),
		ext.Math(),
		clampFunction,
		weightedSumFunction,
	}
	for name := range variables {
		if !identifier.MatchString(name) {
			return nil, eris.Wrapf(domain.ErrValidation, "formula: invalid variable name %q", name)
		}
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "formula: build environment")
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: compile: %v", issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.DoubleType) && !out.IsExactType(cel.IntType) {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: expression must return double or int, got %s", out)
	}

	prg, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, eris.Wrapf(domain.ErrValidation, "formula: program: %v", err)
	}
	return prg, nil
}

func toFloat(v ref.Val) (float64, error) {
	switch n := v.(type) {
	case types.Double:
		return float64(n), nil
	case types.Int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unexpected result type %s", v.Type().TypeName())
	}
}

var clampFunction = cel.Function("clamp",
	cel.Overload("clamp_double_double_double",
		[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType}, cel.DoubleType,
		cel.FunctionBinding(func(args ...ref.Val) ref.Val {
			x, lo, hi := args[0].(types.Double), args[1].(types.Double), args[2].(types.Double)
			if lo > hi {
				return types.NewErr("clamp: lower bound %v exceeds upper bound %v", lo, hi)
			}
			return types.Double(math.Max(float64(lo), math.Min(float64(hi), float64(x))))
		}),
	),
)

var weightedSumFunction = cel.Function("weighted_sum",
	cel.Overload("weighted_sum_list_list",
		[]*cel.Type{cel.ListType(cel.DoubleType), cel.ListType(cel.DoubleType)}, cel.DoubleType,
		cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
			values, ok := lhs.(traits.Lister)
			if !ok {
				return types.NewErr("weighted_sum: values must be a list")
			}
			weights, ok := rhs.(traits.Lister)
			if !ok {
				return types.NewErr("weighted_sum: weights must be a list")
			}
			n, ok := values.Size().(types.Int)
			if !ok || n != weights.Size() {
				return types.NewErr("weighted_sum: values and weights differ in length")
			}

			var sum float64
			for i := types.Int(0); i < n; i++ {
				v, vok := values.Get(i).(types.Double)
				w, wok := weights.Get(i).(types.Double)
				if !vok || !wok {
					return types.NewErr("weighted_sum: element %d is not a double", i)
				}
				sum += float64(v) * float64(w)
			}
			return types.Double(sum)
		}),
	),
)
