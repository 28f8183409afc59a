package vm

import (
	"fmt"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// Primitive table
// ---------------------------------------------------------------------------

// PrimitiveFunc implements a primitive. args holds exactly Arity cells and
// aliases the operand stack, so the arguments stay rooted while the
// primitive allocates.
type PrimitiveFunc func(m *Machine, args []heap.Cell) (heap.Cell, error)

// Primitive describes one inlined operation. The table is shared by the
// dispatcher, the compiler (inlining), the disassembler and the
// procedure wrappers created at boot.
type Primitive struct {
	Name  string
	Arity int
	// Optional marks the last argument as omittable. Omitted arguments
	// arrive as heap.Undef: ports then default to the current port.
	Optional bool
	Fn       PrimitiveFunc
	Op       Opcode
}

var (
	primitiveOps   [256]*Primitive
	primitiveNames map[string]*Primitive
	primitiveList  []*Primitive
)

// Opcodes are assigned in this order and are part of the image format.
func init() {
	groups := [][]Primitive{
		pairPrimitives,
		integerPrimitives,
		characterPrimitives,
		stringPrimitives,
		vectorPrimitives,
		symbolPrimitives,
		portPrimitives,
		systemPrimitives,
	}
	primitiveNames = make(map[string]*Primitive)
	op := int(OpPrimitiveBase)
	for _, g := range groups {
		for i := range g {
			if op > 0xFF {
				panic("vm: primitive table overflows the opcode space")
			}
			p := &g[i]
			p.Op = Opcode(op)
			primitiveOps[op] = p
			primitiveNames[p.Name] = p
			primitiveList = append(primitiveList, p)
			op++
		}
	}
}

// primitiveForOp returns the primitive dispatched by op, or nil.
func primitiveForOp(op Opcode) *Primitive {
	return primitiveOps[op]
}

// PrimitiveByName returns the primitive called name.
func PrimitiveByName(name string) (*Primitive, bool) {
	p, ok := primitiveNames[name]
	return p, ok
}

// Primitives returns every primitive in opcode order.
func Primitives() []*Primitive {
	return primitiveList
}

// ---------------------------------------------------------------------------
// Argument checking
// ---------------------------------------------------------------------------

func (m *Machine) fixnum(who string, c heap.Cell) (int32, error) {
	if !m.Heap.Is(c, heap.TFixnum) {
		return 0, typeError(who, "integer", c)
	}
	return m.Heap.Fixnum(c), nil
}

func (m *Machine) pair(who string, c heap.Cell) error {
	if !m.Heap.IsPair(c) {
		return typeError(who, "pair", c)
	}
	return nil
}

func (m *Machine) char(who string, c heap.Cell) (rune, error) {
	if !m.Heap.Is(c, heap.TChar) {
		return 0, typeError(who, "char", c)
	}
	return m.Heap.Char(c), nil
}

func (m *Machine) str(who string, c heap.Cell) error {
	if !m.Heap.Is(c, heap.TString) {
		return typeError(who, "string", c)
	}
	return nil
}

func (m *Machine) vector(who string, c heap.Cell) error {
	if !m.Heap.Is(c, heap.TVector) {
		return typeError(who, "vector", c)
	}
	return nil
}

func (m *Machine) symbol(who string, c heap.Cell) error {
	if !m.Heap.Is(c, heap.TSymbol) {
		return typeError(who, "symbol", c)
	}
	return nil
}

// mutable rejects literal (CONST) targets of destructive operations.
func (m *Machine) mutable(who string, c heap.Cell) error {
	if m.Heap.IsConst(c) {
		return constError(who, c)
	}
	return nil
}

// index checks that c is an integer in [0, limit).
func (m *Machine) index(who string, c heap.Cell, limit int) (int, error) {
	n, err := m.fixnum(who, c)
	if err != nil {
		return 0, err
	}
	if n < 0 || int(n) >= limit {
		return 0, rangeError(who, c)
	}
	return int(n), nil
}

// bounds checks a [start, end) range of integer cells against length.
func (m *Machine) bounds(who string, sc, ec heap.Cell, length int) (int, int, error) {
	s, err := m.fixnum(who, sc)
	if err != nil {
		return 0, 0, err
	}
	e, err := m.fixnum(who, ec)
	if err != nil {
		return 0, 0, err
	}
	if s < 0 || int(s) > length {
		return 0, 0, rangeError(who, sc)
	}
	if e < s || int(e) > length {
		return 0, 0, rangeError(who, ec)
	}
	return int(s), int(e), nil
}

// listElems returns the elements of a proper list.
func (m *Machine) listElems(who string, l heap.Cell) ([]heap.Cell, error) {
	h := m.Heap
	var out []heap.Cell
	slow := l
	for l != heap.Nil {
		if !h.IsPair(l) {
			return nil, typeError(who, "proper list", l)
		}
		out = append(out, h.Car(l))
		l = h.Cdr(l)
		if len(out)%2 == 0 {
			slow = h.Cdr(slow)
			if slow == l && l != heap.Nil {
				return nil, typeError(who, "proper list", slow)
			}
		}
	}
	return out, nil
}

// listOnto builds (xs... . tail). The elements must be rooted by the
// caller; the partial list is protected while it grows.
func (m *Machine) listOnto(xs []heap.Cell, tail heap.Cell) heap.Cell {
	m.Protect(tail)
	slot := len(m.protected) - 1
	for i := len(xs) - 1; i >= 0; i-- {
		m.protected[slot] = m.Heap.Cons(xs[i], m.protected[slot])
	}
	l := m.protected[slot]
	m.Unprotect(1)
	return l
}

// boolean converts a Go boolean to t or nil.
func boolean(b bool) heap.Cell {
	return heap.Bool(b)
}

// mkInt allocates an integer after checking that v fits.
func (m *Machine) mkInt(who string, v int64) (heap.Cell, error) {
	if v < -1<<31 || v > 1<<31-1 {
		return heap.Nil, Errorf(KindRange, "%s: integer overflow (%d)", who, v)
	}
	return m.Heap.MkFixnum(int32(v)), nil
}

// String returns a printable description of a primitive.
func (p *Primitive) String() string {
	return fmt.Sprintf("#<primitive %s/%d>", p.Name, p.Arity)
}
