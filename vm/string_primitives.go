package vm

import (
	"bytes"
	"strconv"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// String primitives
// ---------------------------------------------------------------------------

// Strings are byte strings: string-ref returns the character whose code is
// the byte, and only characters below 256 can be stored.

var stringPrimitives = []Primitive{
	{Name: "string?", Arity: 1, Fn: primStringP},
	{Name: "make-string", Arity: 2, Optional: true, Fn: primMakeString},
	{Name: "string-length", Arity: 1, Fn: primStringLength},
	{Name: "string-ref", Arity: 2, Fn: primStringRef},
	{Name: "string-set!", Arity: 3, Fn: primStringSet},
	{Name: "substring", Arity: 3, Optional: true, Fn: primSubstring},
	{Name: "string-append2", Arity: 2, Fn: primStringAppend2},
	{Name: "string-copy", Arity: 1, Fn: primStringCopy},
	{Name: "string=?", Arity: 2, Fn: stringCompare("string=?", false, func(c int) bool { return c == 0 })},
	{Name: "string<?", Arity: 2, Fn: stringCompare("string<?", false, func(c int) bool { return c < 0 })},
	{Name: "string-ci=?", Arity: 2, Fn: stringCompare("string-ci=?", true, func(c int) bool { return c == 0 })},
	{Name: "string->symbol", Arity: 1, Fn: primStringToSymbol},
	{Name: "symbol->string", Arity: 1, Fn: primSymbolToString},
	{Name: "string->list", Arity: 1, Fn: primStringToList},
	{Name: "list->string", Arity: 1, Fn: primListToString},
	{Name: "number->string", Arity: 2, Optional: true, Fn: primNumberToString},
	{Name: "string->number", Arity: 2, Optional: true, Fn: primStringToNumber},
	{Name: "string-fill!", Arity: 2, Fn: primStringFill},
}

// byteChar converts a character argument to a string byte.
func (m *Machine) byteChar(who string, c heap.Cell) (byte, error) {
	r, err := m.char(who, c)
	if err != nil {
		return 0, err
	}
	if r > 0xFF {
		return 0, NewCondition(KindRange, who+": character does not fit a byte string", c)
	}
	return byte(r), nil
}

// radix reads an optional base argument, defaulting to 10.
func (m *Machine) radix(who string, c heap.Cell) (int, error) {
	if c == heap.Undef {
		return 10, nil
	}
	n, err := m.fixnum(who, c)
	if err != nil {
		return 0, err
	}
	if n < 2 || n > 36 {
		return 0, NewCondition(KindRange, who+": radix must be between 2 and 36", c)
	}
	return int(n), nil
}

func primStringP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TString)), nil
}

func primMakeString(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.fixnum("make-string", args[0])
	if err != nil {
		return heap.Nil, err
	}
	if n < 0 {
		return heap.Nil, rangeError("make-string", args[0])
	}
	fill := byte(' ')
	if args[1] != heap.Undef {
		if fill, err = m.byteChar("make-string", args[1]); err != nil {
			return heap.Nil, err
		}
	}
	return m.Heap.MkBytes(heap.TString, bytes.Repeat([]byte{fill}, int(n))), nil
}

func primStringLength(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string-length", args[0]); err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkFixnum(int32(m.Heap.VectorLen(args[0]))), nil
}

func primStringRef(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string-ref", args[0]); err != nil {
		return heap.Nil, err
	}
	i, err := m.index("string-ref", args[1], m.Heap.VectorLen(args[0]))
	if err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkChar(rune(m.Heap.ByteAt(args[0], i))), nil
}

func primStringSet(m *Machine, args []heap.Cell) (heap.Cell, error) {
	s := args[0]
	if err := m.str("string-set!", s); err != nil {
		return heap.Nil, err
	}
	if err := m.mutable("string-set!", s); err != nil {
		return heap.Nil, err
	}
	i, err := m.index("string-set!", args[1], m.Heap.VectorLen(s))
	if err != nil {
		return heap.Nil, err
	}
	b, err := m.byteChar("string-set!", args[2])
	if err != nil {
		return heap.Nil, err
	}
	m.Heap.SetByteAt(s, i, b)
	return heap.Undef, nil
}

func primSubstring(m *Machine, args []heap.Cell) (heap.Cell, error) {
	s := args[0]
	if err := m.str("substring", s); err != nil {
		return heap.Nil, err
	}
	n := m.Heap.VectorLen(s)
	end := args[2]
	if end == heap.Undef {
		end = m.Heap.MkFixnum(int32(n))
	}
	start, stop, err := m.bounds("substring", args[1], end, n)
	if err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkBytes(heap.TString, m.Heap.Bytes(s)[start:stop]), nil
}

func primStringAppend2(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string-append", args[0]); err != nil {
		return heap.Nil, err
	}
	if err := m.str("string-append", args[1]); err != nil {
		return heap.Nil, err
	}
	b := append(m.Heap.Bytes(args[0]), m.Heap.Bytes(args[1])...)
	return m.Heap.MkBytes(heap.TString, b), nil
}

func primStringCopy(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string-copy", args[0]); err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkBytes(heap.TString, m.Heap.Bytes(args[0])), nil
}

func stringCompare(who string, fold bool, f func(c int) bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		if err := m.str(who, args[0]); err != nil {
			return heap.Nil, err
		}
		if err := m.str(who, args[1]); err != nil {
			return heap.Nil, err
		}
		a, b := m.Heap.Bytes(args[0]), m.Heap.Bytes(args[1])
		if fold {
			if bytes.EqualFold(a, b) {
				return boolean(f(0)), nil
			}
			a, b = bytes.ToLower(a), bytes.ToLower(b)
		}
		return boolean(f(bytes.Compare(a, b))), nil
	}
}

func primStringToSymbol(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string->symbol", args[0]); err != nil {
		return heap.Nil, err
	}
	if m.Heap.VectorLen(args[0]) == 0 {
		return heap.Nil, NewCondition(KindRange, "string->symbol: empty name", args[0])
	}
	return m.Intern(m.Heap.StringValue(args[0])), nil
}

func primSymbolToString(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.symbol("symbol->string", args[0]); err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkBytes(heap.TString, m.Heap.Bytes(args[0])), nil
}

func primStringToList(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string->list", args[0]); err != nil {
		return heap.Nil, err
	}
	s := m.Heap.Bytes(args[0])
	b := m.newList()
	for i := len(s) - 1; i >= 0; i-- {
		b.prepend(m.Heap.MkChar(rune(s[i])))
	}
	return b.done(), nil
}

func primListToString(m *Machine, args []heap.Cell) (heap.Cell, error) {
	xs, err := m.listElems("list->string", args[0])
	if err != nil {
		return heap.Nil, err
	}
	out := make([]byte, len(xs))
	for i, x := range xs {
		if out[i], err = m.byteChar("list->string", x); err != nil {
			return heap.Nil, err
		}
	}
	return m.Heap.MkBytes(heap.TString, out), nil
}

func primNumberToString(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.fixnum("number->string", args[0])
	if err != nil {
		return heap.Nil, err
	}
	base, err := m.radix("number->string", args[1])
	if err != nil {
		return heap.Nil, err
	}
	return m.Heap.MkString(strconv.FormatInt(int64(n), base)), nil
}

// primStringToNumber returns nil for text that is not an integer.
func primStringToNumber(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if err := m.str("string->number", args[0]); err != nil {
		return heap.Nil, err
	}
	base, err := m.radix("string->number", args[1])
	if err != nil {
		return heap.Nil, err
	}
	n, perr := strconv.ParseInt(m.Heap.StringValue(args[0]), base, 32)
	if perr != nil {
		return heap.Nil, nil
	}
	return m.Heap.MkFixnum(int32(n)), nil
}

func primStringFill(m *Machine, args []heap.Cell) (heap.Cell, error) {
	s := args[0]
	if err := m.str("string-fill!", s); err != nil {
		return heap.Nil, err
	}
	if err := m.mutable("string-fill!", s); err != nil {
		return heap.Nil, err
	}
	b, err := m.byteChar("string-fill!", args[1])
	if err != nil {
		return heap.Nil, err
	}
	for i, n := 0, m.Heap.VectorLen(s); i < n; i++ {
		m.Heap.SetByteAt(s, i, b)
	}
	return heap.Undef, nil
}
