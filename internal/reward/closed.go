package reward

import (
	"go/ast"
	"go/token"
	"strconv"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
)

// predeclared lists the universe identifiers a reward function may use.
var predeclared = map[string]struct{}{
	"float64": {}, "int": {}, "bool": {},
	"len": {}, "cap": {}, "min": {}, "max": {}, "make": {}, "append": {},
	"true": {}, "false": {}, "nil": {}, "_": {},
}

var allowedTypes = map[string]struct{}{
	"float64": {}, "int": {}, "bool": {},
	"[]float64": {}, "[]int": {}, "map[string]float64": {},
}

type scope struct {
	parent *scope
	names  map[string]struct{}
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]struct{})}
}

func (s *scope) declare(name string) {
	if name != "_" {
		s.names[name] = struct{}{}
	}
}

func (s *scope) lookup(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.names[name]; ok {
			return true
		}
	}
	return false
}

// closedWorld resolves every identifier in the function body. Names must be
// parameters, locals, allowed predeclared identifiers, the math package, or the
// configuration variable used directly as a comparison operand.
type closedWorld struct {
	config string
	used   map[string]struct{}
	params map[string]struct{}
}

func checkClosedWorld(p *parsed, s model.EnvironmentSchema) ([]string, error) {
	cw := &closedWorld{used: make(map[string]struct{}), params: make(map[string]struct{})}
	if cfg, ok := s.Threshold(); ok {
		cw.config = cfg.Name
	}
	root := newScope(nil)
	fnScope := newScope(root)
	for _, name := range p.params {
		fnScope.declare(name)
		cw.params[name] = struct{}{}
	}
	for _, name := range p.results {
		fnScope.declare(name)
	}
	if err := cw.block(fnScope, p.fn.Body.List); err != nil {
		return nil, err
	}
	inputs := make([]string, 0, len(p.params))
	for _, name := range p.params {
		if _, ok := cw.used[name]; ok {
			inputs = append(inputs, name)
		}
	}
	return inputs, nil
}

func (cw *closedWorld) block(parent *scope, stmts []ast.Stmt) error {
	sc := newScope(parent)
	for _, st := range stmts {
		if err := cw.stmt(sc, st); err != nil {
			return err
		}
	}
	return nil
}

func (cw *closedWorld) stmt(sc *scope, st ast.Stmt) error {
	switch s := st.(type) {
	case nil, *ast.EmptyStmt:
		return nil
	case *ast.BlockStmt:
		return cw.block(sc, s.List)
	case *ast.ExprStmt:
		return cw.expr(sc, s.X, false)
	case *ast.IncDecStmt:
		return cw.expr(sc, s.X, false)
	case *ast.AssignStmt:
		for _, rhs := range s.Rhs {
			if err := cw.expr(sc, rhs, false); err != nil {
				return err
			}
		}
		if s.Tok == token.DEFINE {
			for _, lhs := range s.Lhs {
				id, ok := lhs.(*ast.Ident)
				if !ok {
					return fault.Malformed("left side of := must be identifiers")
				}
				sc.declare(id.Name)
			}
			return nil
		}
		for _, lhs := range s.Lhs {
			if id, ok := lhs.(*ast.Ident); ok && id.Name == cw.config && !sc.lookup(id.Name) {
				return cw.configMisuse()
			}
			if err := cw.expr(sc, lhs, false); err != nil {
				return err
			}
		}
		return nil
	case *ast.DeclStmt:
		gd, ok := s.Decl.(*ast.GenDecl)
		if !ok || (gd.Tok != token.VAR && gd.Tok != token.CONST) {
			return fault.Malformed("only var and const declarations are allowed inside the function")
		}
		for _, spec := range gd.Specs {
			vs := spec.(*ast.ValueSpec)
			if vs.Type != nil {
				if _, ok := allowedTypes[exprString(vs.Type)]; !ok {
					return fault.Malformed("type %s is not allowed", exprString(vs.Type))
				}
			}
			for _, v := range vs.Values {
				if err := cw.expr(sc, v, false); err != nil {
					return err
				}
			}
			for _, n := range vs.Names {
				sc.declare(n.Name)
			}
		}
		return nil
	case *ast.ReturnStmt:
		for _, r := range s.Results {
			if err := cw.expr(sc, r, false); err != nil {
				return err
			}
		}
		return nil
	case *ast.IfStmt:
		inner := newScope(sc)
		if err := cw.stmt(inner, s.Init); err != nil {
			return err
		}
		if err := cw.expr(inner, s.Cond, false); err != nil {
			return err
		}
		if err := cw.block(inner, s.Body.List); err != nil {
			return err
		}
		return cw.stmt(inner, s.Else)
	case *ast.ForStmt:
		if err := checkBoundedFor(s); err != nil {
			return err
		}
		inner := newScope(sc)
		if err := cw.stmt(inner, s.Init); err != nil {
			return err
		}
		if s.Cond != nil {
			if err := cw.expr(inner, s.Cond, false); err != nil {
				return err
			}
		}
		if err := cw.stmt(inner, s.Post); err != nil {
			return err
		}
		return cw.block(inner, s.Body.List)
	case *ast.RangeStmt:
		if err := checkBoundedRange(s); err != nil {
			return err
		}
		if err := cw.expr(sc, s.X, false); err != nil {
			return err
		}
		inner := newScope(sc)
		if s.Tok == token.DEFINE {
			for _, e := range []ast.Expr{s.Key, s.Value} {
				if id, ok := e.(*ast.Ident); ok {
					inner.declare(id.Name)
				}
			}
		} else {
			for _, e := range []ast.Expr{s.Key, s.Value} {
				if e != nil {
					if err := cw.expr(sc, e, false); err != nil {
						return err
					}
				}
			}
		}
		return cw.block(inner, s.Body.List)
	case *ast.SwitchStmt:
		inner := newScope(sc)
		if err := cw.stmt(inner, s.Init); err != nil {
			return err
		}
		if s.Tag != nil {
			if err := cw.expr(inner, s.Tag, false); err != nil {
				return err
			}
		}
		for _, c := range s.Body.List {
			clause := c.(*ast.CaseClause)
			for _, e := range clause.List {
				if err := cw.expr(inner, e, false); err != nil {
					return err
				}
			}
			if err := cw.block(inner, clause.Body); err != nil {
				return err
			}
		}
		return nil
	case *ast.BranchStmt:
		if s.Tok == token.GOTO || s.Label != nil {
			return fault.Malformed("labels and goto are not allowed")
		}
		return nil
	default:
		return fault.Malformed("statement %T is not allowed in a reward function", st)
	}
}

func (cw *closedWorld) expr(sc *scope, e ast.Expr, comparisonOperand bool) error {
	switch x := e.(type) {
	case nil:
		return nil
	case *ast.Ident:
		return cw.ident(sc, x.Name, comparisonOperand)
	case *ast.BasicLit:
		if x.Kind == token.CHAR || x.Kind == token.IMAG {
			return fault.Malformed("literal %s is not allowed", x.Value)
		}
		return nil
	case *ast.ParenExpr:
		return cw.expr(sc, x.X, comparisonOperand)
	case *ast.UnaryExpr:
		if x.Op == token.AND || x.Op == token.ARROW {
			return fault.Malformed("operator %s is not allowed", x.Op)
		}
		return cw.expr(sc, x.X, false)
	case *ast.BinaryExpr:
		cmp := isComparison(x.Op)
		if err := cw.expr(sc, x.X, cmp); err != nil {
			return err
		}
		return cw.expr(sc, x.Y, cmp)
	case *ast.SelectorExpr:
		pkg, ok := x.X.(*ast.Ident)
		if !ok {
			return fault.Malformed("selector %s is not allowed", exprString(x))
		}
		if pkg.Name == "math" && !sc.lookup("math") {
			return nil
		}
		if !sc.lookup(pkg.Name) {
			return fault.UndeclaredVariable(pkg.Name)
		}
		return fault.Malformed("selector %s is not allowed", exprString(x))
	case *ast.CallExpr:
		if id, ok := x.Fun.(*ast.Ident); ok && id.Name == "make" && !sc.lookup("make") {
			if len(x.Args) == 0 {
				return fault.Malformed("make needs a type")
			}
			if _, ok := allowedTypes[exprString(x.Args[0])]; !ok {
				return fault.Malformed("make(%s) is not allowed", exprString(x.Args[0]))
			}
			for _, a := range x.Args[1:] {
				if err := cw.expr(sc, a, false); err != nil {
					return err
				}
			}
			return nil
		}
		if x.Ellipsis.IsValid() {
			return fault.Malformed("variadic calls are not allowed")
		}
		switch fn := x.Fun.(type) {
		case *ast.Ident, *ast.SelectorExpr:
			if err := cw.expr(sc, fn, false); err != nil {
				return err
			}
		case *ast.ArrayType:
			if _, ok := allowedTypes[exprString(fn)]; !ok {
				return fault.Malformed("conversion to %s is not allowed", exprString(fn))
			}
		default:
			return fault.Malformed("call of %s is not allowed", exprString(x.Fun))
		}
		for _, a := range x.Args {
			if err := cw.expr(sc, a, false); err != nil {
				return err
			}
		}
		return nil
	case *ast.IndexExpr:
		if err := cw.expr(sc, x.X, false); err != nil {
			return err
		}
		return cw.expr(sc, x.Index, false)
	case *ast.SliceExpr:
		for _, sub := range []ast.Expr{x.X, x.Low, x.High, x.Max} {
			if err := cw.expr(sc, sub, false); err != nil {
				return err
			}
		}
		return nil
	case *ast.CompositeLit:
		if x.Type == nil {
			return fault.Malformed("composite literals need an explicit type")
		}
		if _, ok := allowedTypes[exprString(x.Type)]; !ok {
			return fault.Malformed("composite literal of type %s is not allowed", exprString(x.Type))
		}
		for _, elt := range x.Elts {
			if kv, ok := elt.(*ast.KeyValueExpr); ok {
				if err := cw.expr(sc, kv.Key, false); err != nil {
					return err
				}
				if err := cw.expr(sc, kv.Value, false); err != nil {
					return err
				}
				continue
			}
			if err := cw.expr(sc, elt, false); err != nil {
				return err
			}
		}
		return nil
	default:
		return fault.Malformed("expression %s is not allowed in a reward function", exprString(e))
	}
}

func (cw *closedWorld) ident(sc *scope, name string, comparisonOperand bool) error {
	if sc.lookup(name) {
		if _, ok := cw.params[name]; ok {
			cw.used[name] = struct{}{}
		}
		return nil
	}
	if cw.config != "" && name == cw.config {
		if comparisonOperand {
			return nil
		}
		return cw.configMisuse()
	}
	if _, ok := predeclared[name]; ok {
		return nil
	}
	return fault.UndeclaredVariable(name)
}

func (cw *closedWorld) configMisuse() error {
	return fault.Newf(fault.KindUndeclaredVariable, "configuration variable %q may only appear as an operand of a comparison", cw.config).WithSubject(cw.config)
}

func isComparison(op token.Token) bool {
	switch op {
	case token.LSS, token.LEQ, token.GTR, token.GEQ, token.EQL, token.NEQ:
		return true
	default:
		return false
	}
}

// checkBoundedRange accepts ranging over a named parameter or local. The
// length is fixed when the loop starts.
func checkBoundedRange(s *ast.RangeStmt) error {
	if _, ok := s.X.(*ast.Ident); ok {
		return nil
	}
	return fault.Malformed("range over %s is not allowed; range over a parameter or local slice", exprString(s.X))
}

// checkBoundedFor accepts only counting loops of the form
// for i := a; i < N; i++ with a numeric literal bound N, a step that moves i
// towards N, and a body that never assigns i.
func checkBoundedFor(s *ast.ForStmt) error {
	unbounded := func(why string) error {
		return fault.Malformed("loop is not provably bounded (%s); use for i := 0; i < N; i++ with a literal N, or range over a slice", why)
	}
	if s.Init == nil || s.Cond == nil || s.Post == nil {
		return unbounded("init, condition and post statements are required")
	}
	init, ok := s.Init.(*ast.AssignStmt)
	if !ok || init.Tok != token.DEFINE || len(init.Lhs) != 1 || len(init.Rhs) != 1 {
		return unbounded("init must declare one counter with :=")
	}
	counter, ok := init.Lhs[0].(*ast.Ident)
	if !ok {
		return unbounded("init must declare one counter with :=")
	}
	cond, ok := s.Cond.(*ast.BinaryExpr)
	if !ok {
		return unbounded("condition must compare the counter with a literal")
	}
	if id, ok := cond.X.(*ast.Ident); !ok || id.Name != counter.Name || !isNumericLiteral(cond.Y) {
		return unbounded("condition must compare the counter with a literal")
	}
	var up bool
	switch cond.Op {
	case token.LSS, token.LEQ:
		up = true
	case token.GTR, token.GEQ:
	default:
		return unbounded("condition must use <, <=, > or >=")
	}
	if !stepsToward(s.Post, counter.Name, up) {
		return unbounded("post statement must move the counter towards the bound")
	}
	if assigns(s.Body, counter.Name) {
		return unbounded("loop body assigns the counter " + counter.Name)
	}
	return nil
}

func isNumericLiteral(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.ParenExpr:
		return isNumericLiteral(x.X)
	case *ast.UnaryExpr:
		return (x.Op == token.SUB || x.Op == token.ADD) && isNumericLiteral(x.X)
	case *ast.BasicLit:
		return x.Kind == token.INT || x.Kind == token.FLOAT
	}
	return false
}

func stepsToward(post ast.Stmt, counter string, up bool) bool {
	switch p := post.(type) {
	case *ast.IncDecStmt:
		id, ok := p.X.(*ast.Ident)
		if !ok || id.Name != counter {
			return false
		}
		return (p.Tok == token.INC) == up
	case *ast.AssignStmt:
		if len(p.Lhs) != 1 || len(p.Rhs) != 1 {
			return false
		}
		id, ok := p.Lhs[0].(*ast.Ident)
		if !ok || id.Name != counter {
			return false
		}
		lit, ok := p.Rhs[0].(*ast.BasicLit)
		if !ok || (lit.Kind != token.INT && lit.Kind != token.FLOAT) {
			return false
		}
		v, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil || v <= 0 {
			return false
		}
		switch p.Tok {
		case token.ADD_ASSIGN:
			return up
		case token.SUB_ASSIGN:
			return !up
		}
	}
	return false
}

// assigns reports whether any statement under n writes name, including a
// shadowing declaration.
func assigns(n ast.Node, name string) bool {
	found := false
	isName := func(e ast.Expr) bool {
		id, ok := e.(*ast.Ident)
		return ok && id.Name == name
	}
	ast.Inspect(n, func(n ast.Node) bool {
		switch s := n.(type) {
		case *ast.AssignStmt:
			for _, lhs := range s.Lhs {
				found = found || isName(lhs)
			}
		case *ast.IncDecStmt:
			found = found || isName(s.X)
		case *ast.RangeStmt:
			found = found || isName(s.Key) || isName(s.Value)
		case *ast.ValueSpec:
			for _, id := range s.Names {
				found = found || id.Name == name
			}
		}
		return !found
	})
	return found
}
