package reward

import (
	"go/ast"
	"math"
	"sort"

	"rewardcraft/internal/fault"
)

// checkWeights enforces that every non-zero additive term of the total reward
// is scaled by its own named weight. It returns the weights in use.
func checkWeights(f *flow, terms []term, eps float64) (map[string]float64, error) {
	usage := make(map[string][]ast.Expr)
	for _, t := range terms {
		if isZero(t.expr) {
			continue
		}
		weighted := false
		literalOnly := true
		for _, factor := range t.factors() {
			if f.isWeight(factor) {
				weighted = true
				literalOnly = false
				name := unparen(factor).(*ast.Ident).Name
				if !containsExpr(usage[name], t.expr) {
					usage[name] = append(usage[name], t.expr)
				}
				continue
			}
			v, isLiteral := numericConstant(factor)
			if !isLiteral {
				literalOnly = false
				continue
			}
			if math.Abs(v) > eps && math.Abs(math.Abs(v)-1) > eps {
				return nil, fault.MissingWeight(exprString(factor), "term %s is scaled by the bare number %s; declare it as a named weight", exprString(t.expr), exprString(factor))
			}
		}
		if literalOnly {
			return nil, fault.MissingWeight(exprString(t.expr), "constant term %s has no named weight", exprString(t.expr))
		}
		if !weighted {
			return nil, fault.MissingWeight(exprString(t.expr), "term %s is not multiplied by a named weight", exprString(t.expr))
		}
	}

	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)
	used := make(map[string]float64, len(names))
	for _, name := range names {
		if n := len(usage[name]); n > 1 {
			return nil, fault.MissingWeight(name, "weight %s scales %d terms; give each term its own weight", name, n)
		}
		used[name] = f.weights[name]
	}
	return used, nil
}

// checkComponents returns the component names of every return statement.
// Keys must be string literals and each return must report at least one.
func checkComponents(f *flow) ([]string, error) {
	if len(f.returns) == 0 {
		return nil, fault.Malformed("function never returns (reward, components)")
	}
	seen := make(map[string]struct{})
	var names []string
	add := func(keys []ast.Expr) error {
		for _, k := range keys {
			name, ok := literalKey(k)
			if !ok {
				return fault.Malformed("component key %s must be a string literal", exprString(k))
			}
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
		return nil
	}
	for _, r := range f.returns {
		keys, err := f.componentKeys(r.components)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fault.Malformed("return %s reports no reward components", exprString(r.components))
		}
		if err := add(keys); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (f *flow) componentKeys(e ast.Expr) ([]ast.Expr, error) {
	switch x := unparen(e).(type) {
	case *ast.CompositeLit:
		return literalKeys(x)
	case *ast.Ident:
		if x.Name == "nil" {
			return nil, nil
		}
		var keys []ast.Expr
		for _, d := range f.defs[x.Name] {
			if lit, ok := unparen(d.rhs).(*ast.CompositeLit); ok {
				k, err := literalKeys(lit)
				if err != nil {
					return nil, err
				}
				keys = append(keys, k...)
			}
		}
		return append(keys, f.mapKeys[x.Name]...), nil
	default:
		return nil, fault.Malformed("components must be a map literal or a local map, got %s", exprString(e))
	}
}

func literalKeys(lit *ast.CompositeLit) ([]ast.Expr, error) {
	keys := make([]ast.Expr, 0, len(lit.Elts))
	inLiteral := make(map[string]struct{})
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			return nil, fault.Malformed("component map entries must be key: value pairs")
		}
		if name, ok := literalKey(kv.Key); ok {
			if _, dup := inLiteral[name]; dup {
				return nil, fault.Malformed("duplicate component %q", name)
			}
			inLiteral[name] = struct{}{}
		}
		keys = append(keys, kv.Key)
	}
	return keys, nil
}

func containsExpr(list []ast.Expr, e ast.Expr) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
