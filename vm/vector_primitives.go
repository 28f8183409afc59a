package vm

import "github.com/chazu/ls9/heap"

// ---------------------------------------------------------------------------
// Vector primitives
// ---------------------------------------------------------------------------

var vectorPrimitives = []Primitive{
	{Name: "vector?", Arity: 1, Fn: primVectorP},
	{Name: "make-vector", Arity: 2, Optional: true, Fn: primMakeVector},
	{Name: "vector-length", Arity: 1, Fn: primVectorLength},
	{Name: "vector-ref", Arity: 2, Fn: primVectorRef},
	{Name: "vector-set!", Arity: 3, Fn: primVectorSet},
	{Name: "vector->list", Arity: 1, Fn: primVectorToList},
	{Name: "list->vector", Arity: 1, Fn: primListToVector},
	{Name: "vector-fill!", Arity: 2, Fn: primVectorFill},
	{Name: "subvector", Arity: 3, Fn: primSubvector},
}

func primVectorP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TVector)), nil
}

func primMakeVector(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.fixnum("make-vector", args[0])
	if err != nil {
		return heap.Nil, err
	}
	if n < 0 {
		return heap.Nil, rangeError("make-vector", args[0])
	}
	fill := args[1]
	if fill == heap.Undef {
		fill = heap.Nil
	}
	return m.Heap.MkVector(int(n), fill), nil
}

func primVectorLength(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.vector("vector-length", args[0]); err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkFixnum(int32(m.Heap.VectorLen(args[0]))), nil
}

func primVectorRef(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.vector("vector-ref", args[0]); err != nil {
		return heap.Nil, err
	}
	i, err := m.index("vector-ref", args[1], m.Heap.VectorLen(args[0]))
	if err != nil {
		return heap.Nil, err
	}
	return m.Heap.VectorRef(args[0], i), nil
}

func primVectorSet(m *Machine, args []heap.Cell) (heap.Cell, error) {
	v := args[0]
	if err := m.vector("vector-set!", v); err != nil {
		return heap.Nil, err
	}
	if err := m.mutable("vector-set!", v); err != nil {
		return heap.Nil, err
	}
	i, err := m.index("vector-set!", args[1], m.Heap.VectorLen(v))
	if err != nil {
		return heap.Nil, err
	}
	m.Heap.VectorSet(v, i, args[2])
	return heap.Undef, nil
}

func primVectorToList(m *Machine, args []heap.Cell) (heap.Cell, error) {
	v := args[0]
	if err := m.vector("vector->list", v); err != nil {
		return heap.Nil, err
	}
	b := m.newList()
	for i := m.Heap.VectorLen(v) - 1; i >= 0; i-- {
		b.prepend(m.Heap.VectorRef(v, i))
	}
	return b.done(), nil
}

func primListToVector(m *Machine, args []heap.Cell) (heap.Cell, error) {
	xs, err := m.listElems("list->vector", args[0])
	if err != nil {
		return heap.Nil, err
	}
	v := m.Heap.MkVector(len(xs), heap.Nil)
	for i, x := range xs {
		m.Heap.VectorSet(v, i, x)
	}
	return v, nil
}

func primVectorFill(m *Machine, args []heap.Cell) (heap.Cell, error) {
	v := args[0]
	if err := m.vector("vector-fill!", v); err != nil {
		return heap.Nil, err
	}
	if err := m.mutable("vector-fill!", v); err != nil {
		return heap.Nil, err
	}
	for i, n := 0, m.Heap.VectorLen(v); i < n; i++ {
		m.Heap.VectorSet(v, i, args[1])
	}
	return heap.Undef, nil
}

func primSubvector(m *Machine, args []heap.Cell) (heap.Cell, error) {
	v := args[0]
	if err := m.vector("subvector", v); err != nil {
		return heap.Nil, err
	}
	start, end, err := m.bounds("subvector", args[1], args[2], m.Heap.VectorLen(v))
	if err != nil {
		return heap.Nil, err
	}
	out := m.Heap.MkVector(end-start, heap.Nil)
	for i := start; i < end; i++ {
		m.Heap.VectorSet(out, i-start, m.Heap.VectorRef(v, i))
	}
	return out, nil
}
