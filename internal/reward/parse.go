package reward

import (
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/printer"
	"go/token"
	"go/types"
	"strconv"
	"strings"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/fence"
	"rewardcraft/internal/model"
)

const packageName = "reward"

type parsed struct {
	fset   *token.FileSet
	file   *ast.File
	fn     *ast.FuncDecl
	params []string
	// results holds named result identifiers, if any.
	results []string
}

// parse extracts the Go source from raw model text and checks the function
// shape against the environment.
func parse(raw string, s model.EnvironmentSchema, functionName string) (*parsed, error) {
	src, err := fence.Single(raw, "go", "golang")
	if err != nil {
		return nil, fault.Malformed("expected one ```go block: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
		src = "package " + packageName + "\n\n" + src
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "reward.go", src, parser.ParseComments)
	if err != nil {
		return nil, fault.Malformed("source does not parse: %v", err)
	}
	p := &parsed{fset: fset, file: file}

	for _, imp := range file.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if path != "math" {
			return nil, fault.Malformed("import %q is not allowed; only \"math\" may be imported", path)
		}
		if imp.Name != nil && imp.Name.Name != "math" {
			return nil, fault.Malformed("import of math must not be renamed")
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if p.fn != nil {
				return nil, fault.Malformed("exactly one function is expected, found %s and %s", p.fn.Name.Name, d.Name.Name)
			}
			p.fn = d
		case *ast.GenDecl:
			switch d.Tok {
			case token.IMPORT:
			case token.CONST:
				return nil, fault.Malformed("top-level const declarations are not allowed; declare weights inside %s", functionName)
			default:
				return nil, fault.Malformed("top-level %s declarations are not allowed", d.Tok)
			}
		}
	}
	if p.fn == nil {
		return nil, fault.Malformed("no function found")
	}
	if err := p.checkSignature(s, functionName); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parsed) checkSignature(s model.EnvironmentSchema, functionName string) error {
	fn := p.fn
	if fn.Recv != nil {
		return fault.Malformed("%s must be a plain function, not a method", fn.Name.Name)
	}
	if fn.Name.Name != functionName {
		return fault.Malformed("function is named %s, want %s", fn.Name.Name, functionName)
	}
	if fn.Type.TypeParams != nil && len(fn.Type.TypeParams.List) > 0 {
		return fault.Malformed("%s must not have type parameters", functionName)
	}
	if fn.Body == nil {
		return fault.Malformed("%s has no body", functionName)
	}

	type param struct {
		name string
		typ  string
	}
	var params []param
	for _, field := range fn.Type.Params.List {
		typ := exprString(field.Type)
		if len(field.Names) == 0 {
			return fault.Malformed("parameters must be named after observation variables")
		}
		for _, n := range field.Names {
			params = append(params, param{name: n.Name, typ: typ})
		}
	}
	declared := make(map[string]struct{})
	for _, v := range s.Observations {
		declared[v.Name] = struct{}{}
	}
	for _, prm := range params {
		if _, ok := declared[prm.name]; !ok {
			return fault.UndeclaredVariable(prm.name)
		}
	}
	if len(params) != len(s.Observations) {
		return fault.Malformed("%s takes %d parameters, want %d: %s", functionName, len(params), len(s.Observations), s.Signature(functionName))
	}
	for i, v := range s.Observations {
		if params[i].name != v.Name {
			return fault.Malformed("parameter %d is %s, want %s: %s", i+1, params[i].name, v.Name, s.Signature(functionName))
		}
		if params[i].typ != v.GoType() {
			return fault.Malformed("parameter %s has type %s, want %s", v.Name, params[i].typ, v.GoType())
		}
		p.params = append(p.params, v.Name)
	}

	results := fn.Type.Results
	var resultTypes []string
	if results != nil {
		for _, field := range results.List {
			n := len(field.Names)
			if n == 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				resultTypes = append(resultTypes, exprString(field.Type))
			}
			for _, name := range field.Names {
				p.results = append(p.results, name.Name)
			}
		}
	}
	if len(resultTypes) != 2 || resultTypes[0] != "float64" || resultTypes[1] != "map[string]float64" {
		return fault.Malformed("%s must return (float64, map[string]float64)", functionName)
	}
	return nil
}

// source renders the accepted declarations without package clause or imports.
func (p *parsed) source() (string, error) {
	var parts []string
	for _, decl := range p.file.Decls {
		if gd, ok := decl.(*ast.GenDecl); ok && gd.Tok == token.IMPORT {
			continue
		}
		var buf bytes.Buffer
		if err := format.Node(&buf, p.fset, &printer.CommentedNode{Node: decl, Comments: p.file.Comments}); err != nil {
			return "", fault.Malformed("format source: %v", err)
		}
		parts = append(parts, buf.String())
	}
	return strings.Join(parts, "\n\n"), nil
}

func exprString(e ast.Expr) string {
	return types.ExprString(e)
}
