package reward

import (
	"context"
	"go/ast"
	"go/token"
	"math"
	"math/rand"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/rewardexec"
	"rewardcraft/internal/schema"
)

// checkSignalStatic requires every non-zero term of the total reward to sit
// behind a condition equivalent to the success predicate, and at least one
// such term to exist. A conjunction that contains the predicate only narrows
// the gate, so it is accepted only when conjunctions is set and the runtime
// probe confirms the reward is positive wherever the predicate holds.
func checkSignalStatic(f *flow, terms []term, pred model.SuccessPredicate, conjunctions bool) error {
	gated := 0
	for _, t := range terms {
		if isZero(t.expr) {
			continue
		}
		if !f.impliesSuccess(t.guard, pred, conjunctions) {
			return fault.NotSignal("term %s can be non-zero when %s does not hold", exprString(t.expr), pred)
		}
		gated++
	}
	if gated == 0 {
		return fault.NotSignal("no reward term is gated on %s", pred)
	}
	return nil
}

func (f *flow) impliesSuccess(guard []cond, pred model.SuccessPredicate, conjunctions bool) bool {
	for _, c := range guard {
		if f.condImplies(c.expr, c.negated, pred, conjunctions) {
			return true
		}
	}
	return false
}

func (f *flow) condImplies(e ast.Expr, negated bool, pred model.SuccessPredicate, conjunctions bool) bool {
	switch x := unparen(e).(type) {
	case *ast.UnaryExpr:
		if x.Op == token.NOT {
			return f.condImplies(x.X, !negated, pred, conjunctions)
		}
	case *ast.BinaryExpr:
		switch x.Op {
		case token.LAND:
			if conjunctions && !negated {
				return f.condImplies(x.X, false, pred, true) || f.condImplies(x.Y, false, pred, true)
			}
			return false
		case token.LOR:
			// !(a || b) is the conjunction !a && !b.
			if conjunctions && negated {
				return f.condImplies(x.X, true, pred, true) || f.condImplies(x.Y, true, pred, true)
			}
			return false
		}
		op, value, ok := f.comparison(x, pred.Variable)
		if !ok {
			return false
		}
		if negated {
			op = negate(op)
		}
		want := token.LSS
		if pred.Comparator == "<=" {
			want = token.LEQ
		}
		return op == want && sameThreshold(value, pred.Threshold)
	}
	return false
}

// comparison normalizes "variable op constant" and its mirrored form.
func (f *flow) comparison(x *ast.BinaryExpr, variable string) (token.Token, float64, bool) {
	if !isComparison(x.Op) {
		return 0, 0, false
	}
	if id, ok := unparen(x.X).(*ast.Ident); ok && id.Name == variable {
		if v, ok := f.constant(x.Y); ok {
			return x.Op, v, true
		}
	}
	if id, ok := unparen(x.Y).(*ast.Ident); ok && id.Name == variable {
		if v, ok := f.constant(x.X); ok {
			return mirror(x.Op), v, true
		}
	}
	return 0, 0, false
}

func (f *flow) constant(e ast.Expr) (float64, bool) {
	if v, ok := numericConstant(e); ok {
		return v, true
	}
	if id, ok := unparen(e).(*ast.Ident); ok {
		v, ok := f.weights[id.Name]
		return v, ok
	}
	return 0, false
}

func negate(op token.Token) token.Token {
	switch op {
	case token.LSS:
		return token.GEQ
	case token.LEQ:
		return token.GTR
	case token.GTR:
		return token.LEQ
	case token.GEQ:
		return token.LSS
	case token.EQL:
		return token.NEQ
	case token.NEQ:
		return token.EQL
	}
	return op
}

func mirror(op token.Token) token.Token {
	switch op {
	case token.LSS:
		return token.GTR
	case token.LEQ:
		return token.GEQ
	case token.GTR:
		return token.LSS
	case token.GEQ:
		return token.LEQ
	}
	return op
}

func sameThreshold(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// probeSignal evaluates the compiled function around the success threshold
// and on seeded random observations: the reward must be positive exactly
// when the success predicate holds.
func probeSignal(ctx context.Context, prog *rewardexec.Program, s model.EnvironmentSchema, samples int, seed int64) error {
	pred := s.Success
	successVar, _ := s.Observation(pred.Variable)
	delta := math.Max(1e-3, math.Abs(pred.Threshold)*0.01)
	lo, hi := sampleRange(successVar)
	if pred.Threshold*2 > hi {
		hi = pred.Threshold * 2
	}
	if hi <= lo {
		hi = lo + 1
	}

	rng := rand.New(rand.NewSource(seed))
	values := []float64{pred.Threshold - delta, pred.Threshold + delta, pred.Threshold}
	for i := 0; i < samples; i++ {
		if i%2 == 0 && pred.Threshold > lo {
			values = append(values, lo+rng.Float64()*(pred.Threshold-lo))
			continue
		}
		values = append(values, pred.Threshold+delta+rng.Float64()*(hi-pred.Threshold))
	}
	for i, v := range values {
		obs := schema.ZeroObservation(s)
		if i >= 3 {
			randomize(obs, s, rng)
		}
		obs[pred.Variable] = []float64{v}
		res, err := prog.Evaluate(ctx, obs)
		if err != nil {
			return err
		}
		if !res.Finite() {
			return fault.NotSignal("reward is not finite at %s=%g", pred.Variable, v)
		}
		holds := pred.Holds(v)
		if holds && res.Total <= 0 {
			return fault.NotSignal("reward is %g at %s=%g although %s holds", res.Total, pred.Variable, v, pred)
		}
		if !holds && res.Total != 0 {
			return fault.NotSignal("reward is %g at %s=%g although %s does not hold", res.Total, pred.Variable, v, pred)
		}
	}
	return nil
}

func randomize(obs model.Observation, s model.EnvironmentSchema, rng *rand.Rand) {
	for _, v := range s.Observations {
		if v.Kind == model.KindEnum {
			obs[v.Name] = []float64{float64(rng.Intn(len(v.EnumValues)))}
			continue
		}
		lo, hi := sampleRange(v)
		values := obs[v.Name]
		for i := range values {
			values[i] = lo + rng.Float64()*(hi-lo)
		}
	}
}

func sampleRange(v model.VariableSpec) (float64, float64) {
	if v.Bounds != nil && !math.IsInf(v.Bounds.Min, 0) && !math.IsInf(v.Bounds.Max, 0) && v.Bounds.Max > v.Bounds.Min {
		return v.Bounds.Min, v.Bounds.Max
	}
	return -1, 1
}
