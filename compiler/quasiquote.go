package compiler

import (
	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

// ---------------------------------------------------------------------------
// Quasiquote
// ---------------------------------------------------------------------------

// quasi translates a quasiquote template at nesting level depth. Parts of
// the template without unquotes stay literal; the rest is rebuilt at run
// time with cons, append2 and list->vector.
func (c *Compiler) quasi(x heap.Cell, depth int, s *scope) (Expr, error) {
	h := c.h
	if !c.unquotes(x) {
		h.SetConst(x)
		return &Const{Value: x}, nil
	}
	if h.Is(x, heap.TVector) {
		elems := make([]heap.Cell, h.VectorLen(x))
		for i := range elems {
			elems[i] = h.VectorRef(x, i)
		}
		l, err := c.quasiList(elems, &Const{Value: heap.Nil}, depth, s)
		if err != nil {
			return nil, err
		}
		return primCall("list->vector", l), nil
	}

	if arg, ok := c.tagged(x, "unquote"); ok {
		if depth == 1 {
			return c.syntax(arg, s)
		}
		return c.quasiWrap(h.Car(x), arg, depth-1, s)
	}
	if arg, ok := c.tagged(x, "quasiquote"); ok {
		return c.quasiWrap(h.Car(x), arg, depth+1, s)
	}
	if _, ok := c.tagged(x, "unquote-splicing"); ok && depth == 1 {
		return nil, syntaxError("unquote-splicing: not inside a list")
	}

	var elems []heap.Cell
	for h.IsPair(x) {
		if _, ok := c.tagged(x, "unquote"); ok {
			break // (a . ,b)
		}
		elems = append(elems, h.Car(x))
		x = h.Cdr(x)
	}
	tail, err := c.quasi(x, depth, s)
	if err != nil {
		return nil, err
	}
	return c.quasiList(elems, tail, depth, s)
}

// quasiList builds the expression for elems followed by tail, splicing
// (unquote-splicing e) elements at level one.
func (c *Compiler) quasiList(elems []heap.Cell, tail Expr, depth int, s *scope) (Expr, error) {
	out := tail
	for i := len(elems) - 1; i >= 0; i-- {
		if arg, ok := c.tagged(elems[i], "unquote-splicing"); ok && depth == 1 {
			e, err := c.syntax(arg, s)
			if err != nil {
				return nil, err
			}
			out = primCall("append2", e, out)
			continue
		}
		e, err := c.quasi(elems[i], depth, s)
		if err != nil {
			return nil, err
		}
		out = primCall("cons", e, out)
	}
	return out, nil
}

// quasiWrap rebuilds (tag x) with x translated at the given level.
func (c *Compiler) quasiWrap(tag, x heap.Cell, depth int, s *scope) (Expr, error) {
	e, err := c.quasi(x, depth, s)
	if err != nil {
		return nil, err
	}
	return primCall("cons", &Const{Value: tag}, primCall("cons", e, &Const{Value: heap.Nil})), nil
}

// tagged reports whether x is the two-element list (name arg).
func (c *Compiler) tagged(x heap.Cell, name string) (heap.Cell, bool) {
	h := c.h
	if !h.IsPair(x) {
		return heap.Nil, false
	}
	if n, ok := c.symbolName(h.Car(x)); !ok || n != name {
		return heap.Nil, false
	}
	rest := h.Cdr(x)
	if !h.IsPair(rest) || h.Cdr(rest) != heap.Nil {
		return heap.Nil, false
	}
	return h.Car(rest), true
}

// unquotes reports whether x contains unquote or unquote-splicing
// anywhere. Lists are walked along the cdr without recursion.
func (c *Compiler) unquotes(x heap.Cell) bool {
	h := c.h
	if h.Is(x, heap.TVector) {
		for i, n := 0, h.VectorLen(x); i < n; i++ {
			if c.unquotes(h.VectorRef(x, i)) {
				return true
			}
		}
		return false
	}
	for ; h.IsPair(x); x = h.Cdr(x) {
		if name, ok := c.symbolName(h.Car(x)); ok && (name == "unquote" || name == "unquote-splicing") {
			return true
		}
		if c.unquotes(h.Car(x)) {
			return true
		}
	}
	return false
}

func primCall(name string, args ...Expr) Expr {
	p, ok := vm.PrimitiveByName(name)
	if !ok {
		panic("compiler: missing primitive " + name)
	}
	return &PrimCall{Prim: p, Args: args}
}
