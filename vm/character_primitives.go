package vm

import (
	"unicode"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// Character primitives
// ---------------------------------------------------------------------------

var characterPrimitives = []Primitive{
	{Name: "char?", Arity: 1, Fn: primCharP},
	{Name: "char->integer", Arity: 1, Fn: primCharToInteger},
	{Name: "integer->char", Arity: 1, Fn: primIntegerToChar},
	{Name: "char=?", Arity: 2, Fn: charCompare("char=?", false, func(a, b rune) bool { return a == b })},
	{Name: "char<?", Arity: 2, Fn: charCompare("char<?", false, func(a, b rune) bool { return a < b })},
	{Name: "char-ci=?", Arity: 2, Fn: charCompare("char-ci=?", true, func(a, b rune) bool { return a == b })},
	{Name: "char-upcase", Arity: 1, Fn: charMap("char-upcase", unicode.ToUpper)},
	{Name: "char-downcase", Arity: 1, Fn: charMap("char-downcase", unicode.ToLower)},
	{Name: "char-alphabetic?", Arity: 1, Fn: charTest("char-alphabetic?", unicode.IsLetter)},
	{Name: "char-numeric?", Arity: 1, Fn: charTest("char-numeric?", unicode.IsDigit)},
	{Name: "char-whitespace?", Arity: 1, Fn: charTest("char-whitespace?", unicode.IsSpace)},
}

// MaxChar is the largest character code.
const MaxChar = 0x10FFFF

func primCharP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TChar)), nil
}

func primCharToInteger(m *Machine, args []heap.Cell) (heap.Cell, error) {
	r, err := m.char("char->integer", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkFixnum(int32(r)), nil
}

func primIntegerToChar(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.fixnum("integer->char", args[0])
	if err != nil {
		return heap.Nil, err
	}
	if n < 0 || n > MaxChar {
		return heap.Nil, rangeError("integer->char", args[0])
	}
	return m.Heap.MkChar(rune(n)), nil
}

func charCompare(who string, fold bool, f func(a, b rune) bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		a, err := m.char(who, args[0])
		if err != nil {
			return heap.Nil, err
		}
		b, err := m.char(who, args[1])
		if err != nil {
			return heap.Nil, err
		}
		if fold {
			a, b = unicode.ToLower(a), unicode.ToLower(b)
		}
		return boolean(f(a, b)), nil
	}
}

func charMap(who string, f func(rune) rune) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		r, err := m.char(who, args[0])
		if err != nil {
			return heap.Nil, err
		}
		return m.Heap.MkChar(f(r)), nil
	}
}

func charTest(who string, f func(rune) bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		r, err := m.char(who, args[0])
		if err != nil {
			return heap.Nil, err
		}
		return boolean(f(r)), nil
	}
}
