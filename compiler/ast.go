package compiler

import (
	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

// ---------------------------------------------------------------------------
// AST: Core forms after macro expansion and desugaring
// ---------------------------------------------------------------------------

// Expr is the interface implemented by all core expression nodes. Derived
// forms (let, cond, quasiquote, ...) never reach the AST; they are
// rewritten into these nodes by the syntax pass.
type Expr interface {
	expr() // marker method
}

// Const is a literal value. Quoted data is flagged constant on the heap.
type Const struct {
	Value heap.Cell
}

func (*Const) expr() {}

// VarRef reads a variable. Var is nil for globals.
type VarRef struct {
	Sym heap.Cell
	Var *Variable
}

func (*VarRef) expr() {}

// SetVar assigns an existing variable. Var is nil for globals.
type SetVar struct {
	Sym   heap.Cell
	Var   *Variable
	Value Expr
}

func (*SetVar) expr() {}

// Define creates or replaces a global binding.
type Define struct {
	Sym   heap.Cell
	Value Expr
}

func (*Define) expr() {}

// MacroDef binds a macro expander to Sym.
type MacroDef struct {
	Sym heap.Cell
	Fn  Expr
}

func (*MacroDef) expr() {}

// If is a two-way conditional. A missing alternative is Undef.
type If struct {
	Test Expr
	Then Expr
	Else Expr
}

func (*If) expr() {}

// Seq evaluates Body in order; its value is the value of the last
// expression.
type Seq struct {
	Body []Expr
}

func (*Seq) expr() {}

// And and Or short-circuit on nil and non-nil respectively.
type And struct {
	Exprs []Expr
}

func (*And) expr() {}

type Or struct {
	Exprs []Expr
}

func (*Or) expr() {}

// Lambda creates a procedure.
type Lambda struct {
	Params []*Variable // required parameters, then the rest parameter
	Rest   bool        // last parameter collects extra arguments
	Body   Expr

	Parent *Lambda

	// Filled in by the semantic pass.
	Free []*Variable // variables of enclosing lambdas referenced inside
	Flat bool        // copy free variables instead of sharing frames
}

func (*Lambda) expr() {}

// Required returns the number of required parameters.
func (l *Lambda) Required() int {
	if l.Rest {
		return len(l.Params) - 1
	}
	return len(l.Params)
}

// Call applies Fn to Args.
type Call struct {
	Fn   Expr
	Args []Expr
}

func (*Call) expr() {}

// PrimCall is an inlined primitive. Optional trailing arguments that were
// omitted are padded with Undef by the code generator.
type PrimCall struct {
	Prim *vm.Primitive
	Args []Expr
}

func (*PrimCall) expr() {}

// Apply calls Fn with Args, spreading the last argument, which must be a
// list.
type Apply struct {
	Fn   Expr
	Args []Expr
}

func (*Apply) expr() {}

// Catch calls the one-argument procedure Fn with a fresh catch tag.
type Catch struct {
	Fn Expr
}

func (*Catch) expr() {}

// Throw transfers Value to the catch of Tag.
type Throw struct {
	Tag   Expr
	Value Expr
}

func (*Throw) expr() {}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Variable is a lexical variable bound by a lambda.
type Variable struct {
	Name    string
	Owner   *Lambda
	Index   int
	Mutated bool
}
