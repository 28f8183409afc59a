package vm

import "github.com/chazu/ls9/heap"

// ---------------------------------------------------------------------------
// Pair and list primitives
// ---------------------------------------------------------------------------

var pairPrimitives = []Primitive{
	{Name: "car", Arity: 1, Fn: primCar},
	{Name: "cdr", Arity: 1, Fn: primCdr},
	{Name: "cons", Arity: 2, Fn: primCons},
	{Name: "set-car!", Arity: 2, Fn: primSetCar},
	{Name: "set-cdr!", Arity: 2, Fn: primSetCdr},
	{Name: "caar", Arity: 1, Fn: cxr("caar", "aa")},
	{Name: "cadr", Arity: 1, Fn: cxr("cadr", "da")},
	{Name: "cdar", Arity: 1, Fn: cxr("cdar", "ad")},
	{Name: "cddr", Arity: 1, Fn: cxr("cddr", "dd")},
	{Name: "caddr", Arity: 1, Fn: cxr("caddr", "dda")},
	{Name: "cdddr", Arity: 1, Fn: cxr("cdddr", "ddd")},
	{Name: "pair?", Arity: 1, Fn: primPairP},
	{Name: "null?", Arity: 1, Fn: primNullP},
	{Name: "atom?", Arity: 1, Fn: primAtomP},
	{Name: "eq?", Arity: 2, Fn: primEqP},
	{Name: "eqv?", Arity: 2, Fn: primEqvP},
	{Name: "not", Arity: 1, Fn: primNot},
	{Name: "list?", Arity: 1, Fn: primListP},
	{Name: "length", Arity: 1, Fn: primLength},
	{Name: "reverse", Arity: 1, Fn: primReverse},
	{Name: "append2", Arity: 2, Fn: primAppend2},
	{Name: "memq", Arity: 2, Fn: primMemq},
	{Name: "assq", Arity: 2, Fn: primAssq},
}

func primCar(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.pair("car", args[0]); err != nil {
		return heap.Nil, err
	}
	return m.Heap.Car(args[0]), nil
}

func primCdr(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.pair("cdr", args[0]); err != nil {
		return heap.Nil, err
	}
	return m.Heap.Cdr(args[0]), nil
}

func primCons(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return m.Heap.Cons(args[0], args[1]), nil
}

func primSetCar(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.pair("set-car!", args[0]); err != nil {
		return heap.Nil, err
	}
	if err := m.mutable("set-car!", args[0]); err != nil {
		return heap.Nil, err
	}
	m.Heap.SetCar(args[0], args[1])
	return heap.Undef, nil
}

func primSetCdr(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.pair("set-cdr!", args[0]); err != nil {
		return heap.Nil, err
	}
	if err := m.mutable("set-cdr!", args[0]); err != nil {
		return heap.Nil, err
	}
	m.Heap.SetCdr(args[0], args[1])
	return heap.Undef, nil
}

// cxr builds a composed accessor. path lists the operations in the order
// they are applied: "da" is cadr.
func cxr(name, path string) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		c := args[0]
		for i := 0; i < len(path); i++ {
			if err := m.pair(name, c); err != nil {
				return heap.Nil, err
			}
			if path[i] == 'a' {
				c = m.Heap.Car(c)
			} else {
				c = m.Heap.Cdr(c)
			}
		}
		return c, nil
	}
}

func primPairP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.IsPair(args[0])), nil
}

func primNullP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(args[0] == heap.Nil), nil
}

func primAtomP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(!m.Heap.IsPair(args[0])), nil
}

func primEqP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(args[0] == args[1]), nil
}

// eqv compares by identity, and by value for integers and characters.
func (m *Machine) eqv(a, b heap.Cell) bool {
	if a == b {
		return true
	}
	h := m.Heap
	if h.Is(a, heap.TFixnum) && h.Is(b, heap.TFixnum) {
		return h.Fixnum(a) == h.Fixnum(b)
	}
	if h.Is(a, heap.TChar) && h.Is(b, heap.TChar) {
		return h.Char(a) == h.Char(b)
	}
	return false
}

func primEqvP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.eqv(args[0], args[1])), nil
}

func primNot(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(args[0] == heap.Nil), nil
}

func primListP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	_, err := m.listElems("list?", args[0])
	return boolean(err == nil), nil
}

func primLength(m *Machine, args []heap.Cell) (heap.Cell, error) {
	xs, err := m.listElems("length", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkFixnum(int32(len(xs))), nil
}

func primReverse(m *Machine, args []heap.Cell) (heap.Cell, error) {
	xs, err := m.listElems("reverse", args[0])
	if err != nil {
		return heap.Nil, err
	}
	r := heap.Nil
	for _, x := range xs {
		r = m.Heap.Cons(x, r)
	}
	return r, nil
}

func primAppend2(m *Machine, args []heap.Cell) (heap.Cell, error) {
	xs, err := m.listElems("append", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return m.listOnto(xs, args[1]), nil
}

func primMemq(m *Machine, args []heap.Cell) (heap.Cell, error) {
	h := m.Heap
	for l := args[1]; h.IsPair(l); l = h.Cdr(l) {
		if h.Car(l) == args[0] {
			return l, nil
		}
	}
	return heap.Nil, nil
}

func primAssq(m *Machine, args []heap.Cell) (heap.Cell, error) {
	h := m.Heap
	for l := args[1]; h.IsPair(l); l = h.Cdr(l) {
		if e := h.Car(l); h.IsPair(e) && h.Car(e) == args[0] {
			return e, nil
		}
	}
	return heap.Nil, nil
}
