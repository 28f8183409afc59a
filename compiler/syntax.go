package compiler

import (
	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// scope maps the names bound by one lambda to their variables. A nil
// scope is the top level, where every name is global.
type scope struct {
	lambda *Lambda
	vars   map[string]*Variable
	parent *scope
}

func (s *scope) lookup(name string) *Variable {
	for ; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v
		}
	}
	return nil
}

func (s *scope) owner() *Lambda {
	if s == nil {
		return nil
	}
	return s.lambda
}

// newLambda creates a lambda nested in s together with the scope of its
// parameters.
func newLambda(s *scope, names []string, rest bool) (*Lambda, *scope) {
	l := &Lambda{Rest: rest, Parent: s.owner()}
	inner := &scope{lambda: l, vars: make(map[string]*Variable), parent: s}
	for i, name := range names {
		v := &Variable{Name: name, Owner: l, Index: i}
		l.Params = append(l.Params, v)
		if name != "" {
			inner.vars[name] = v
		}
	}
	return l, inner
}

// ---------------------------------------------------------------------------
// Form helpers
// ---------------------------------------------------------------------------

func syntaxError(format string, args ...interface{}) error {
	return vm.Errorf(vm.KindSyntax, format, args...)
}

// symbolName returns the name of x if it is a symbol.
func (c *Compiler) symbolName(x heap.Cell) (string, bool) {
	if !c.h.Is(x, heap.TSymbol) {
		return "", false
	}
	return c.h.StringValue(x), true
}

// elems returns the elements of the proper list x.
func (c *Compiler) elems(who string, x heap.Cell) ([]heap.Cell, error) {
	var out []heap.Cell
	for x != heap.Nil {
		if !c.h.IsPair(x) {
			return nil, syntaxError("%s: improper form", who)
		}
		out = append(out, c.h.Car(x))
		x = c.h.Cdr(x)
	}
	return out, nil
}

// special reports whether name is a special form that is not shadowed by
// a local variable.
func (c *Compiler) special(x heap.Cell, s *scope) (string, bool) {
	name, ok := c.symbolName(x)
	if !ok || s.lookup(name) != nil {
		return "", false
	}
	switch name {
	case "quote", "quasiquote", "if", "define", "set!", "lambda", "begin",
		"let", "let*", "letrec", "cond", "and", "or", "macro",
		"catch*", "throw*", "apply":
		return name, true
	}
	return "", false
}

// macroFor returns the expander bound to the head of form x, if the head
// is a symbol that is not shadowed.
func (c *Compiler) macroFor(x heap.Cell, s *scope) (heap.Cell, bool) {
	if !c.h.IsPair(x) {
		return heap.Nil, false
	}
	head := c.h.Car(x)
	name, ok := c.symbolName(head)
	if !ok || s.lookup(name) != nil {
		return heap.Nil, false
	}
	return c.m.Symbols.Macro(head)
}

// expand applies the expander fn to the arguments of x.
func (c *Compiler) expand(fn, x heap.Cell) (heap.Cell, error) {
	if c.depth >= c.m.MacroDepth() {
		return heap.Nil, vm.NewCondition(vm.KindControl, "macro expansion exceeds depth limit", c.h.Car(x))
	}
	args, err := c.elems("macro use", c.h.Cdr(x))
	if err != nil {
		return heap.Nil, err
	}
	v, err := c.m.Apply(fn, args...)
	if err != nil {
		return heap.Nil, err
	}
	c.push(v)
	return v, nil
}

// ---------------------------------------------------------------------------
// Syntax pass
// ---------------------------------------------------------------------------

// syntax translates form x in scope s into a core expression.
func (c *Compiler) syntax(x heap.Cell, s *scope) (Expr, error) {
	h := c.h
	if name, ok := c.symbolName(x); ok {
		return &VarRef{Sym: x, Var: s.lookup(name)}, nil
	}
	if !h.IsPair(x) {
		if h.Is(x, heap.TString) || h.Is(x, heap.TVector) {
			h.SetConst(x)
		}
		return &Const{Value: x}, nil
	}

	head := h.Car(x)
	if form, ok := c.special(head, s); ok {
		return c.specialForm(form, x, s)
	}
	if fn, ok := c.macroFor(x, s); ok {
		expanded, err := c.expand(fn, x)
		if err != nil {
			return nil, err
		}
		c.depth++
		defer func() { c.depth-- }()
		return c.syntax(expanded, s)
	}

	args, err := c.elems("application", h.Cdr(x))
	if err != nil {
		return nil, err
	}
	exprs, err := c.syntaxList(args, s)
	if err != nil {
		return nil, err
	}
	if name, ok := c.symbolName(head); ok && s.lookup(name) == nil {
		if p, ok := vm.PrimitiveByName(name); ok && inlinable(p, len(exprs)) {
			return &PrimCall{Prim: p, Args: exprs}, nil
		}
	}
	fn, err := c.syntax(head, s)
	if err != nil {
		return nil, err
	}
	return &Call{Fn: fn, Args: exprs}, nil
}

// inlinable reports whether a call with n arguments can use the opcode of
// p directly.
func inlinable(p *vm.Primitive, n int) bool {
	return n == p.Arity || (p.Optional && n == p.Arity-1)
}

func (c *Compiler) syntaxList(xs []heap.Cell, s *scope) ([]Expr, error) {
	out := make([]Expr, 0, len(xs))
	for _, x := range xs {
		e, err := c.syntax(x, s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// specialForm dispatches on the name of a special form.
func (c *Compiler) specialForm(form string, x heap.Cell, s *scope) (Expr, error) {
	args, err := c.elems(form, c.h.Cdr(x))
	if err != nil {
		return nil, err
	}
	switch form {
	case "quote":
		if len(args) != 1 {
			return nil, syntaxError("quote: expected one datum")
		}
		c.h.SetConst(args[0])
		return &Const{Value: args[0]}, nil
	case "quasiquote":
		if len(args) != 1 {
			return nil, syntaxError("quasiquote: expected one template")
		}
		return c.quasi(args[0], 1, s)
	case "if":
		return c.ifForm(args, s)
	case "define":
		return c.define(args, s)
	case "set!":
		return c.set(args, s)
	case "lambda":
		if len(args) < 2 {
			return nil, syntaxError("lambda: expected parameters and body")
		}
		return c.lambda(args[0], args[1:], s)
	case "begin":
		if len(args) == 0 {
			return &Const{Value: heap.Undef}, nil
		}
		body, err := c.syntaxList(args, s)
		if err != nil {
			return nil, err
		}
		return &Seq{Body: body}, nil
	case "let":
		return c.let(args, s)
	case "let*":
		return c.letStar(args, s)
	case "letrec":
		if len(args) < 2 {
			return nil, syntaxError("letrec: expected bindings and body")
		}
		return c.letrec(args[0], args[1:], s)
	case "cond":
		return c.cond(args, s)
	case "and", "or":
		exprs, err := c.syntaxList(args, s)
		if err != nil {
			return nil, err
		}
		switch {
		case len(exprs) == 0 && form == "and":
			return &Const{Value: heap.True}, nil
		case len(exprs) == 0:
			return &Const{Value: heap.Nil}, nil
		case len(exprs) == 1:
			return exprs[0], nil
		case form == "and":
			return &And{Exprs: exprs}, nil
		}
		return &Or{Exprs: exprs}, nil
	case "macro":
		if len(args) != 2 {
			return nil, syntaxError("macro: expected a name and an expander")
		}
		if _, ok := c.symbolName(args[0]); !ok {
			return nil, syntaxError("macro: name must be a symbol")
		}
		fn, err := c.syntax(args[1], s)
		if err != nil {
			return nil, err
		}
		return &MacroDef{Sym: args[0], Fn: fn}, nil
	case "catch*":
		if len(args) != 1 {
			return nil, syntaxError("catch*: expected one procedure")
		}
		fn, err := c.syntax(args[0], s)
		if err != nil {
			return nil, err
		}
		return &Catch{Fn: fn}, nil
	case "throw*":
		if len(args) != 2 {
			return nil, syntaxError("throw*: expected a tag and a value")
		}
		exprs, err := c.syntaxList(args, s)
		if err != nil {
			return nil, err
		}
		return &Throw{Tag: exprs[0], Value: exprs[1]}, nil
	case "apply":
		if len(args) < 2 {
			return nil, syntaxError("apply: expected a procedure and an argument list")
		}
		exprs, err := c.syntaxList(args, s)
		if err != nil {
			return nil, err
		}
		return &Apply{Fn: exprs[0], Args: exprs[1:]}, nil
	}
	return nil, syntaxError("%s: unknown special form", form)
}

func (c *Compiler) ifForm(args []heap.Cell, s *scope) (Expr, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, syntaxError("if: expected a test and one or two branches")
	}
	exprs, err := c.syntaxList(args, s)
	if err != nil {
		return nil, err
	}
	e := &If{Test: exprs[0], Then: exprs[1], Else: &Const{Value: heap.Undef}}
	if len(exprs) == 3 {
		e.Else = exprs[2]
	}
	return e, nil
}

// defineParts splits (define name value) and (define (name . params)
// body...) into a name and a value form builder.
func (c *Compiler) defineParts(args []heap.Cell, s *scope) (heap.Cell, Expr, error) {
	if len(args) == 0 {
		return heap.Nil, nil, syntaxError("define: expected a name")
	}
	target := args[0]
	if c.h.IsPair(target) {
		name := c.h.Car(target)
		if _, ok := c.symbolName(name); !ok {
			return heap.Nil, nil, syntaxError("define: procedure name must be a symbol")
		}
		if len(args) < 2 {
			return heap.Nil, nil, syntaxError("define: expected a body")
		}
		fn, err := c.lambda(c.h.Cdr(target), args[1:], s)
		return name, fn, err
	}
	if _, ok := c.symbolName(target); !ok {
		return heap.Nil, nil, syntaxError("define: name must be a symbol")
	}
	if len(args) != 2 {
		return heap.Nil, nil, syntaxError("define: expected one value")
	}
	value, err := c.syntax(args[1], s)
	return target, value, err
}

// define handles a global definition. Definitions inside a body are
// collected by body before they get here.
func (c *Compiler) define(args []heap.Cell, s *scope) (Expr, error) {
	if s != nil {
		return nil, syntaxError("define: only allowed at top level or at the start of a body")
	}
	name, value, err := c.defineParts(args, s)
	if err != nil {
		return nil, err
	}
	return &Define{Sym: name, Value: value}, nil
}

func (c *Compiler) set(args []heap.Cell, s *scope) (Expr, error) {
	if len(args) != 2 {
		return nil, syntaxError("set!: expected a variable and a value")
	}
	name, ok := c.symbolName(args[0])
	if !ok {
		return nil, syntaxError("set!: variable must be a symbol")
	}
	value, err := c.syntax(args[1], s)
	if err != nil {
		return nil, err
	}
	v := s.lookup(name)
	if v != nil {
		v.Mutated = true
	}
	return &SetVar{Sym: args[0], Var: v, Value: value}, nil
}

// params parses a parameter list: (a b), (a b . rest) or rest.
func (c *Compiler) params(x heap.Cell) ([]string, bool, error) {
	var names []string
	seen := make(map[string]bool)
	add := func(p heap.Cell) error {
		name, ok := c.symbolName(p)
		if !ok {
			return syntaxError("lambda: parameter must be a symbol")
		}
		if seen[name] {
			return syntaxError("lambda: duplicate parameter %s", name)
		}
		seen[name] = true
		names = append(names, name)
		return nil
	}
	for c.h.IsPair(x) {
		if err := add(c.h.Car(x)); err != nil {
			return nil, false, err
		}
		x = c.h.Cdr(x)
	}
	if x == heap.Nil {
		return names, false, nil
	}
	if err := add(x); err != nil {
		return nil, false, err
	}
	return names, true, nil
}

func (c *Compiler) lambda(params heap.Cell, body []heap.Cell, s *scope) (Expr, error) {
	names, rest, err := c.params(params)
	if err != nil {
		return nil, err
	}
	l, inner := newLambda(s, names, rest)
	l.Body, err = c.body(body, inner)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// body translates a lambda body. Internal definitions become variables of
// a nested frame that is entered with every variable undefined, so the
// definitions may refer to each other.
func (c *Compiler) body(forms []heap.Cell, s *scope) (Expr, error) {
	type def struct {
		index int
		args  []heap.Cell
	}
	var defs []def
	var names []string
	expanded := make([]heap.Cell, len(forms))
	for i, f := range forms {
		n := 0
		for {
			fn, ok := c.macroFor(f, s)
			if !ok {
				break
			}
			var err error
			f, err = c.expand(fn, f)
			if err != nil {
				c.depth -= n
				return nil, err
			}
			c.depth++
			n++
		}
		c.depth -= n
		expanded[i] = f
		if !c.h.IsPair(f) {
			continue
		}
		if form, ok := c.special(c.h.Car(f), s); !ok || form != "define" {
			continue
		}
		args, err := c.elems("define", c.h.Cdr(f))
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, syntaxError("define: expected a name")
		}
		target := args[0]
		if c.h.IsPair(target) {
			target = c.h.Car(target)
		}
		name, ok := c.symbolName(target)
		if !ok {
			return nil, syntaxError("define: name must be a symbol")
		}
		defs = append(defs, def{index: i, args: args})
		names = append(names, name)
	}

	if len(defs) == 0 {
		exprs, err := c.syntaxList(expanded, s)
		if err != nil {
			return nil, err
		}
		return seq(exprs), nil
	}

	l, inner := newLambda(s, names, false)
	exprs := make([]Expr, 0, len(expanded))
	next := 0
	for i, f := range expanded {
		if next < len(defs) && defs[next].index == i {
			name, value, err := c.defineParts(defs[next].args, inner)
			if err != nil {
				return nil, err
			}
			v := l.Params[next]
			v.Mutated = true
			exprs = append(exprs, &SetVar{Sym: name, Var: v, Value: value})
			next++
			continue
		}
		e, err := c.syntax(f, inner)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	l.Body = seq(exprs)
	return &Call{Fn: l, Args: undefs(len(names))}, nil
}

func seq(exprs []Expr) Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &Seq{Body: exprs}
}

func undefs(n int) []Expr {
	out := make([]Expr, n)
	for i := range out {
		out[i] = &Const{Value: heap.Undef}
	}
	return out
}

// ---------------------------------------------------------------------------
// Binding forms
// ---------------------------------------------------------------------------

// bindings parses ((name init) ...).
func (c *Compiler) bindings(who string, x heap.Cell) ([]string, []heap.Cell, error) {
	list, err := c.elems(who, x)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(list))
	inits := make([]heap.Cell, 0, len(list))
	for _, b := range list {
		parts, err := c.elems(who, b)
		if err != nil || len(parts) != 2 {
			return nil, nil, syntaxError("%s: binding must be (name value)", who)
		}
		name, ok := c.symbolName(parts[0])
		if !ok {
			return nil, nil, syntaxError("%s: binding name must be a symbol", who)
		}
		names = append(names, name)
		inits = append(inits, parts[1])
	}
	return names, inits, nil
}

// let handles (let ((v e) ...) body...) and the named form
// (let loop ((v e) ...) body...).
func (c *Compiler) let(args []heap.Cell, s *scope) (Expr, error) {
	if len(args) < 2 {
		return nil, syntaxError("let: expected bindings and body")
	}
	if name, ok := c.symbolName(args[0]); ok {
		return c.namedLet(name, args[1:], s)
	}
	names, inits, err := c.bindings("let", args[0])
	if err != nil {
		return nil, err
	}
	initExprs, err := c.syntaxList(inits, s)
	if err != nil {
		return nil, err
	}
	l, inner := newLambda(s, names, false)
	if l.Body, err = c.body(args[1:], inner); err != nil {
		return nil, err
	}
	return &Call{Fn: l, Args: initExprs}, nil
}

// namedLet binds name to the loop procedure in a frame of its own and
// calls it with the initial values.
func (c *Compiler) namedLet(name string, args []heap.Cell, s *scope) (Expr, error) {
	if len(args) < 2 {
		return nil, syntaxError("let: expected bindings and body")
	}
	names, inits, err := c.bindings("let", args[0])
	if err != nil {
		return nil, err
	}
	initExprs, err := c.syntaxList(inits, s)
	if err != nil {
		return nil, err
	}

	outer, outerScope := newLambda(s, []string{name}, false)
	loopVar := outer.Params[0]
	loopVar.Mutated = true

	loop, loopScope := newLambda(outerScope, names, false)
	if loop.Body, err = c.body(args[1:], loopScope); err != nil {
		return nil, err
	}

	// ((lambda (name) (set! name loop) name) undefined) yields the loop
	// procedure, which is then called with the initial values.
	outer.Body = &Seq{Body: []Expr{
		&SetVar{Var: loopVar, Value: loop},
		&VarRef{Var: loopVar},
	}}
	return &Call{Fn: &Call{Fn: outer, Args: undefs(1)}, Args: initExprs}, nil
}

func (c *Compiler) letStar(args []heap.Cell, s *scope) (Expr, error) {
	if len(args) < 2 {
		return nil, syntaxError("let*: expected bindings and body")
	}
	names, inits, err := c.bindings("let*", args[0])
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		l, inner := newLambda(s, nil, false)
		if l.Body, err = c.body(args[1:], inner); err != nil {
			return nil, err
		}
		return &Call{Fn: l}, nil
	}

	// Each binding opens a frame nested in the previous one.
	var outer *Call
	var last *Lambda
	cur := s
	for i, name := range names {
		init, err := c.syntax(inits[i], cur)
		if err != nil {
			return nil, err
		}
		l, inner := newLambda(cur, []string{name}, false)
		call := &Call{Fn: l, Args: []Expr{init}}
		if last == nil {
			outer = call
		} else {
			last.Body = call
		}
		last = l
		cur = inner
	}
	if last.Body, err = c.body(args[1:], cur); err != nil {
		return nil, err
	}
	return outer, nil
}

func (c *Compiler) letrec(bindings heap.Cell, body []heap.Cell, s *scope) (Expr, error) {
	names, inits, err := c.bindings("letrec", bindings)
	if err != nil {
		return nil, err
	}
	l, inner := newLambda(s, names, false)
	exprs := make([]Expr, 0, len(names)+1)
	for i, v := range l.Params {
		init, err := c.syntax(inits[i], inner)
		if err != nil {
			return nil, err
		}
		v.Mutated = true
		exprs = append(exprs, &SetVar{Var: v, Value: init})
	}
	rest, err := c.body(body, inner)
	if err != nil {
		return nil, err
	}
	l.Body = &Seq{Body: append(exprs, rest)}
	return &Call{Fn: l, Args: undefs(len(names))}, nil
}

// cond rewrites its clauses into nested conditionals. A clause (test)
// yields the value of test; (test => f) calls f with it.
func (c *Compiler) cond(clauses []heap.Cell, s *scope) (Expr, error) {
	if len(clauses) == 0 {
		return &Const{Value: heap.Undef}, nil
	}
	parts, err := c.elems("cond", clauses[0])
	if err != nil || len(parts) == 0 {
		return nil, syntaxError("cond: clause must be a non-empty list")
	}
	if name, ok := c.symbolName(parts[0]); ok && name == "else" && s.lookup(name) == nil {
		if len(clauses) != 1 {
			return nil, syntaxError("cond: else must be the last clause")
		}
		body, err := c.syntaxList(parts[1:], s)
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return &Const{Value: heap.Undef}, nil
		}
		return seq(body), nil
	}

	test, err := c.syntax(parts[0], s)
	if err != nil {
		return nil, err
	}
	if len(parts) == 1 {
		rest, err := c.cond(clauses[1:], s)
		if err != nil {
			return nil, err
		}
		return &Or{Exprs: []Expr{test, rest}}, nil
	}
	if name, ok := c.symbolName(parts[1]); ok && name == "=>" && s.lookup(name) == nil {
		if len(parts) != 3 {
			return nil, syntaxError("cond: => expects one receiver")
		}
		// ((lambda (t) (if t (f t) rest)) test), with t unnamed.
		l, inner := newLambda(s, []string{""}, false)
		tmp := &VarRef{Var: l.Params[0]}
		fn, err := c.syntax(parts[2], inner)
		if err != nil {
			return nil, err
		}
		rest, err := c.cond(clauses[1:], inner)
		if err != nil {
			return nil, err
		}
		l.Body = &If{Test: tmp, Then: &Call{Fn: fn, Args: []Expr{tmp}}, Else: rest}
		return &Call{Fn: l, Args: []Expr{test}}, nil
	}

	body, err := c.syntaxList(parts[1:], s)
	if err != nil {
		return nil, err
	}
	rest, err := c.cond(clauses[1:], s)
	if err != nil {
		return nil, err
	}
	return &If{Test: test, Then: seq(body), Else: rest}, nil
}
