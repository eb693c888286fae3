package reward

import (
	"go/ast"
	"go/constant"
	"go/token"
	"strconv"
)

// cond is a branch condition known to hold (or, with negated set, known not
// to hold) where an assignment or return executes.
type cond struct {
	expr    ast.Expr
	negated bool
}

type defKind int

const (
	defSet defKind = iota
	defAdd
	defSub
	defScale
)

type def struct {
	kind  defKind
	rhs   ast.Expr
	guard []cond
}

type ret struct {
	total      ast.Expr
	components ast.Expr
	guard      []cond
}

// term is one additive summand of the total reward.
type term struct {
	expr  ast.Expr
	scale []ast.Expr
	guard []cond
}

// flow records, per local name, every assignment with the branch conditions
// in force, plus every return statement.
type flow struct {
	defs    map[string][]def
	decls   map[string]int
	returns []ret
	params  map[string]struct{}
	// weights maps named numeric constants to their values.
	weights map[string]float64
	// mapKeys collects keys written through index assignments, per map name.
	mapKeys map[string][]ast.Expr
}

func analyzeFlow(p *parsed) *flow {
	f := &flow{
		defs:    make(map[string][]def),
		decls:   make(map[string]int),
		params:  make(map[string]struct{}),
		weights: make(map[string]float64),
		mapKeys: make(map[string][]ast.Expr),
	}
	for _, name := range p.params {
		f.params[name] = struct{}{}
	}
	f.block(p.fn.Body.List, nil)
	f.resolveWeights()
	return f
}

func (f *flow) record(name string, d def) {
	if name == "_" {
		return
	}
	f.defs[name] = append(f.defs[name], d)
}

func (f *flow) valueSpecs(gd *ast.GenDecl, guard []cond) {
	for _, spec := range gd.Specs {
		vs := spec.(*ast.ValueSpec)
		for i, n := range vs.Names {
			f.decls[n.Name]++
			if i < len(vs.Values) && len(vs.Values) == len(vs.Names) {
				f.record(n.Name, def{kind: defSet, rhs: vs.Values[i], guard: guard})
			}
		}
	}
}

// block walks stmts in order. An if statement without else whose body always
// returns makes its negated condition hold for the rest of the block.
func (f *flow) block(stmts []ast.Stmt, guard []cond) {
	g := guard
	for _, st := range stmts {
		f.stmt(st, g)
		if is, ok := st.(*ast.IfStmt); ok && is.Else == nil && terminates(is.Body) {
			g = with(g, cond{expr: is.Cond, negated: true})
		}
	}
}

func (f *flow) stmt(st ast.Stmt, guard []cond) {
	switch s := st.(type) {
	case *ast.BlockStmt:
		f.block(s.List, guard)
	case *ast.AssignStmt:
		f.assign(s, guard)
	case *ast.DeclStmt:
		if gd, ok := s.Decl.(*ast.GenDecl); ok {
			f.valueSpecs(gd, guard)
		}
	case *ast.IncDecStmt:
		if id, ok := s.X.(*ast.Ident); ok {
			f.record(id.Name, def{kind: defAdd, rhs: &ast.BasicLit{Kind: token.INT, Value: "1"}, guard: guard})
		}
	case *ast.ReturnStmt:
		if len(s.Results) == 2 {
			f.returns = append(f.returns, ret{total: s.Results[0], components: s.Results[1], guard: guard})
		}
	case *ast.IfStmt:
		if s.Init != nil {
			f.stmt(s.Init, guard)
		}
		f.block(s.Body.List, with(guard, cond{expr: s.Cond}))
		if s.Else != nil {
			f.stmt(s.Else, with(guard, cond{expr: s.Cond, negated: true}))
		}
	case *ast.ForStmt:
		if s.Init != nil {
			f.stmt(s.Init, guard)
		}
		if s.Post != nil {
			f.stmt(s.Post, guard)
		}
		f.block(s.Body.List, guard)
	case *ast.RangeStmt:
		f.block(s.Body.List, guard)
	case *ast.SwitchStmt:
		if s.Init != nil {
			f.stmt(s.Init, guard)
		}
		for _, c := range s.Body.List {
			clause := c.(*ast.CaseClause)
			g := guard
			if s.Tag == nil && len(clause.List) == 1 {
				g = with(guard, cond{expr: clause.List[0]})
			}
			f.block(clause.Body, g)
		}
	}
}

func (f *flow) assign(s *ast.AssignStmt, guard []cond) {
	for _, lhs := range s.Lhs {
		if ix, ok := lhs.(*ast.IndexExpr); ok {
			if id, ok := unparen(ix.X).(*ast.Ident); ok {
				f.mapKeys[id.Name] = append(f.mapKeys[id.Name], ix.Index)
			}
		}
	}
	if len(s.Lhs) != len(s.Rhs) {
		return
	}
	for i, lhs := range s.Lhs {
		id, ok := lhs.(*ast.Ident)
		if !ok {
			continue
		}
		d := def{rhs: s.Rhs[i], guard: guard}
		switch s.Tok {
		case token.DEFINE:
			f.decls[id.Name]++
			d.kind = defSet
		case token.ASSIGN:
			d.kind = defSet
		case token.ADD_ASSIGN:
			d.kind = defAdd
		case token.SUB_ASSIGN:
			d.kind = defSub
		case token.MUL_ASSIGN, token.QUO_ASSIGN:
			d.kind = defScale
		default:
			d.kind = defScale
		}
		f.record(id.Name, d)
	}
}

// resolveWeights marks names declared once, bound to a numeric constant, and
// never reassigned.
func (f *flow) resolveWeights() {
	for name, defs := range f.defs {
		if _, isParam := f.params[name]; isParam {
			continue
		}
		if len(defs) != 1 || f.decls[name] != 1 || defs[0].kind != defSet {
			continue
		}
		if v, ok := numericConstant(defs[0].rhs); ok {
			f.weights[name] = v
		}
	}
}

func (f *flow) isWeight(e ast.Expr) bool {
	id, ok := unparen(e).(*ast.Ident)
	if !ok {
		return false
	}
	_, ok = f.weights[id.Name]
	return ok
}

// terms splits the total reward of every return statement into additive
// terms, following local variables back to their assignments.
func (f *flow) terms() []term {
	var out []term
	seen := make(map[ast.Expr]struct{})
	for _, r := range f.returns {
		for _, t := range f.expand(r.total, nil, r.guard, map[string]bool{}) {
			if _, dup := seen[t.expr]; dup {
				continue
			}
			seen[t.expr] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func (f *flow) expand(e ast.Expr, scale []ast.Expr, guard []cond, visiting map[string]bool) []term {
	switch x := e.(type) {
	case *ast.ParenExpr:
		return f.expand(x.X, scale, guard, visiting)
	case *ast.UnaryExpr:
		if x.Op == token.SUB || x.Op == token.ADD {
			return f.expand(x.X, scale, guard, visiting)
		}
	case *ast.BinaryExpr:
		if x.Op == token.ADD || x.Op == token.SUB {
			return append(f.expand(x.X, scale, guard, visiting), f.expand(x.Y, scale, guard, visiting)...)
		}
	case *ast.Ident:
		if visiting[x.Name] {
			return nil
		}
		defs, local := f.defs[x.Name]
		_, isParam := f.params[x.Name]
		_, isWeight := f.weights[x.Name]
		if !local || isParam || isWeight {
			break
		}
		visiting[x.Name] = true
		defer delete(visiting, x.Name)
		s := scale
		for _, d := range defs {
			if d.kind == defScale {
				s = append(append([]ast.Expr(nil), s...), d.rhs)
			}
		}
		var out []term
		for _, d := range defs {
			if d.kind == defScale {
				continue
			}
			out = append(out, f.expand(d.rhs, s, merge(guard, d.guard), visiting)...)
		}
		return out
	}
	return []term{{expr: e, scale: scale, guard: guard}}
}

// factors flattens a product into its multiplicative factors.
func factors(e ast.Expr) []ast.Expr {
	switch x := e.(type) {
	case *ast.ParenExpr:
		return factors(x.X)
	case *ast.UnaryExpr:
		if x.Op == token.SUB || x.Op == token.ADD {
			return factors(x.X)
		}
	case *ast.BinaryExpr:
		if x.Op == token.MUL || x.Op == token.QUO {
			return append(factors(x.X), factors(x.Y)...)
		}
	}
	return []ast.Expr{e}
}

func (t term) factors() []ast.Expr {
	out := factors(t.expr)
	for _, s := range t.scale {
		out = append(out, factors(s)...)
	}
	return out
}

// numericConstant evaluates literal arithmetic such as 0.5, -2, (1e-3) or float64(3).
func numericConstant(e ast.Expr) (float64, bool) {
	v, ok := constValue(e)
	if !ok {
		return 0, false
	}
	f, _ := constant.Float64Val(constant.ToFloat(v))
	return f, true
}

func constValue(e ast.Expr) (constant.Value, bool) {
	switch x := e.(type) {
	case *ast.BasicLit:
		if x.Kind != token.INT && x.Kind != token.FLOAT {
			return nil, false
		}
		v := constant.MakeFromLiteral(x.Value, x.Kind, 0)
		return v, v.Kind() != constant.Unknown
	case *ast.ParenExpr:
		return constValue(x.X)
	case *ast.UnaryExpr:
		if x.Op != token.SUB && x.Op != token.ADD {
			return nil, false
		}
		v, ok := constValue(x.X)
		if !ok {
			return nil, false
		}
		return constant.UnaryOp(x.Op, v, 0), true
	case *ast.CallExpr:
		if id, ok := x.Fun.(*ast.Ident); ok && id.Name == "float64" && len(x.Args) == 1 {
			return constValue(x.Args[0])
		}
	}
	return nil, false
}

func isZero(e ast.Expr) bool {
	v, ok := numericConstant(e)
	return ok && v == 0
}

func unparen(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

// terminates reports whether a block always ends in a return.
func terminates(b *ast.BlockStmt) bool {
	if b == nil || len(b.List) == 0 {
		return false
	}
	switch last := b.List[len(b.List)-1].(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.IfStmt:
		if last.Else == nil {
			return false
		}
		switch els := last.Else.(type) {
		case *ast.BlockStmt:
			return terminates(last.Body) && terminates(els)
		case *ast.IfStmt:
			return terminates(last.Body) && terminates(&ast.BlockStmt{List: []ast.Stmt{els}})
		}
	case *ast.BlockStmt:
		return terminates(last)
	}
	return false
}

func with(guard []cond, c cond) []cond {
	out := make([]cond, 0, len(guard)+1)
	out = append(out, guard...)
	return append(out, c)
}

func merge(a, b []cond) []cond {
	out := make([]cond, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func literalKey(e ast.Expr) (string, bool) {
	lit, ok := unparen(e).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	return s, err == nil
}
