package vm

import "github.com/chazu/ls9/heap"

// ---------------------------------------------------------------------------
// Integer primitives
// ---------------------------------------------------------------------------

// Integers are 32-bit. Results that do not fit raise a range condition
// instead of wrapping.

var integerPrimitives = []Primitive{
	{Name: "+", Arity: 2, Fn: arith("+", func(a, b int64) int64 { return a + b })},
	{Name: "-", Arity: 2, Fn: arith("-", func(a, b int64) int64 { return a - b })},
	{Name: "*", Arity: 2, Fn: arith("*", func(a, b int64) int64 { return a * b })},
	{Name: "quotient", Arity: 2, Fn: division("quotient", func(a, b int64) int64 { return a / b })},
	{Name: "remainder", Arity: 2, Fn: division("remainder", func(a, b int64) int64 { return a % b })},
	{Name: "modulo", Arity: 2, Fn: division("modulo", modulo)},
	{Name: "negate", Arity: 1, Fn: primNegate},
	{Name: "abs", Arity: 1, Fn: primAbs},
	{Name: "<", Arity: 2, Fn: compare("<", func(a, b int32) bool { return a < b })},
	{Name: "<=", Arity: 2, Fn: compare("<=", func(a, b int32) bool { return a <= b })},
	{Name: ">", Arity: 2, Fn: compare(">", func(a, b int32) bool { return a > b })},
	{Name: ">=", Arity: 2, Fn: compare(">=", func(a, b int32) bool { return a >= b })},
	{Name: "=", Arity: 2, Fn: compare("=", func(a, b int32) bool { return a == b })},
	{Name: "zero?", Arity: 1, Fn: predicate("zero?", func(n int32) bool { return n == 0 })},
	{Name: "number?", Arity: 1, Fn: primIntegerP},
	{Name: "integer?", Arity: 1, Fn: primIntegerP},
	{Name: "max", Arity: 2, Fn: pick("max", func(a, b int32) bool { return a >= b })},
	{Name: "min", Arity: 2, Fn: pick("min", func(a, b int32) bool { return a <= b })},
	{Name: "even?", Arity: 1, Fn: predicate("even?", func(n int32) bool { return n%2 == 0 })},
	{Name: "odd?", Arity: 1, Fn: predicate("odd?", func(n int32) bool { return n%2 != 0 })},
	{Name: "bitwise-and", Arity: 2, Fn: arith("bitwise-and", func(a, b int64) int64 { return a & b })},
	{Name: "bitwise-or", Arity: 2, Fn: arith("bitwise-or", func(a, b int64) int64 { return a | b })},
	{Name: "bitwise-xor", Arity: 2, Fn: arith("bitwise-xor", func(a, b int64) int64 { return a ^ b })},
	{Name: "arithmetic-shift", Arity: 2, Fn: primShift},
}

// operands extracts two integer arguments.
func (m *Machine) operands(who string, args []heap.Cell) (int64, int64, error) {
	a, err := m.fixnum(who, args[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := m.fixnum(who, args[1])
	if err != nil {
		return 0, 0, err
	}
	return int64(a), int64(b), nil
}

func arith(who string, f func(a, b int64) int64) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		a, b, err := m.operands(who, args)
		if err != nil {
			return heap.Nil, err
		}
		return m.mkInt(who, f(a, b))
	}
}

func division(who string, f func(a, b int64) int64) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		a, b, err := m.operands(who, args)
		if err != nil {
			return heap.Nil, err
		}
		if b == 0 {
			return heap.Nil, NewCondition(KindRange, who+": division by zero", args[0])
		}
		return m.mkInt(who, f(a, b))
	}
}

// modulo takes the sign of the divisor.
func modulo(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func compare(who string, f func(a, b int32) bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		a, b, err := m.operands(who, args)
		if err != nil {
			return heap.Nil, err
		}
		return boolean(f(int32(a), int32(b))), nil
	}
}

func pick(who string, first func(a, b int32) bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		a, b, err := m.operands(who, args)
		if err != nil {
			return heap.Nil, err
		}
		if first(int32(a), int32(b)) {
			return args[0], nil
		}
		return args[1], nil
	}
}

func predicate(who string, f func(n int32) bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		n, err := m.fixnum(who, args[0])
		if err != nil {
			return heap.Nil, err
		}
		return boolean(f(n)), nil
	}
}

func primIntegerP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TFixnum)), nil
}

func primNegate(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.fixnum("negate", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return m.mkInt("negate", -int64(n))
}

func primAbs(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.fixnum("abs", args[0])
	if err != nil {
		return heap.Nil, err
	}
	if n >= 0 {
		return args[0], nil
	}
	return m.mkInt("abs", -int64(n))
}

// primShift shifts left for positive counts and arithmetically right for
// negative ones.
func primShift(m *Machine, args []heap.Cell) (heap.Cell, error) {
	a, s, err := m.operands("arithmetic-shift", args)
	if err != nil {
		return heap.Nil, err
	}
	switch {
	case s >= 0:
		if s > 32 {
			if a == 0 {
				return m.mkInt("arithmetic-shift", 0)
			}
			return heap.Nil, Errorf(KindRange, "arithmetic-shift: integer overflow")
		}
		return m.mkInt("arithmetic-shift", a<<uint(s))
	case s < -31:
		if a < 0 {
			return m.mkInt("arithmetic-shift", -1)
		}
		return m.mkInt("arithmetic-shift", 0)
	default:
		return m.mkInt("arithmetic-shift", a>>uint(-s))
	}
}
