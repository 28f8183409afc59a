package vm

import "github.com/chazu/ls9/heap"

// ---------------------------------------------------------------------------
// Symbol and type predicates
// ---------------------------------------------------------------------------

var symbolPrimitives = []Primitive{
	{Name: "symbol?", Arity: 1, Fn: primSymbolP},
	{Name: "procedure?", Arity: 1, Fn: primProcedureP},
	{Name: "gensym", Arity: 0, Fn: primGensym},
	{Name: "constant?", Arity: 1, Fn: primConstantP},
	{Name: "catch-tag?", Arity: 1, Fn: primCatchTagP},
}

func primSymbolP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TSymbol)), nil
}

func primProcedureP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TClosure)), nil
}

func primGensym(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return m.Symbols.Gensym(), nil
}

// primConstantP reports whether an object is a literal that destructive
// primitives refuse to modify.
func primConstantP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.IsConst(args[0])), nil
}

func primCatchTagP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TCatchTag)), nil
}
