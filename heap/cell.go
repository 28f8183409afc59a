package heap

import "fmt"

// ---------------------------------------------------------------------------
// Cell: tagged 32-bit reference
// ---------------------------------------------------------------------------

// Cell is a reference into the heap. Non-negative values index the node
// pool. Negative values are singleton constants or the type discriminators
// stored in the car of typed atoms.
type Cell int32

// Singleton constants.
const (
	Nil     Cell = -1 // empty list, also false
	True    Cell = -2
	EOFMark Cell = -3
	Undef   Cell = -4
	RParen  Cell = -5 // reader marker
	Dot     Cell = -6 // reader marker
)

// Type discriminators held in the car of an atom.
const (
	TBytecode Cell = -10
	TCatchTag Cell = -11
	TChar     Cell = -12
	TClosure  Cell = -13
	TFixnum   Cell = -14
	TInPort   Cell = -15
	TOutPort  Cell = -16
	TString   Cell = -17
	TSymbol   Cell = -18
	TVector   Cell = -19
)

// IsSpecial reports whether c is a constant or discriminator rather than a
// node index.
func (c Cell) IsSpecial() bool {
	return c < 0
}

// IsNode reports whether c indexes the node pool.
func (c Cell) IsNode() bool {
	return c >= 0
}

// IsDiscriminator reports whether c is one of the atom type tags.
func (c Cell) IsDiscriminator() bool {
	return c <= TBytecode && c >= TVector
}

// Truthy reports whether c counts as true. Only Nil is false.
func (c Cell) Truthy() bool {
	return c != Nil
}

// Bool converts a Go boolean into True or Nil.
func Bool(b bool) Cell {
	if b {
		return True
	}
	return Nil
}

var specialNames = map[Cell]string{
	Nil:       "nil",
	True:      "t",
	EOFMark:   "#<eof>",
	Undef:     "#<undefined>",
	RParen:    "#<rparen>",
	Dot:       "#<dot>",
	TBytecode: "#<type:bytecode>",
	TCatchTag: "#<type:catch-tag>",
	TChar:     "#<type:char>",
	TClosure:  "#<type:closure>",
	TFixnum:   "#<type:fixnum>",
	TInPort:   "#<type:input-port>",
	TOutPort:  "#<type:output-port>",
	TString:   "#<type:string>",
	TSymbol:   "#<type:symbol>",
	TVector:   "#<type:vector>",
}

// String implements fmt.Stringer for diagnostics.
func (c Cell) String() string {
	if name, ok := specialNames[c]; ok {
		return name
	}
	if c < 0 {
		return fmt.Sprintf("#<special %d>", int32(c))
	}
	return fmt.Sprintf("#<node %d>", int32(c))
}

// TypeName returns the user-facing name of an atom discriminator.
func TypeName(t Cell) string {
	switch t {
	case TBytecode:
		return "bytecode"
	case TCatchTag:
		return "catch-tag"
	case TChar:
		return "char"
	case TClosure:
		return "procedure"
	case TFixnum:
		return "integer"
	case TInPort:
		return "input-port"
	case TOutPort:
		return "output-port"
	case TString:
		return "string"
	case TSymbol:
		return "symbol"
	case TVector:
		return "vector"
	}
	return "unknown"
}

// ---------------------------------------------------------------------------
// Node flags
// ---------------------------------------------------------------------------

// Flags is the per-node tag byte.
type Flags uint8

const (
	FlagAtom   Flags = 1 << iota // car holds a discriminator
	FlagMark                     // reached during the current mark phase
	FlagTrav                     // traversal state during marking
	FlagVector                   // payload is a vector pool run
	FlagPort                     // atom wraps an I/O port slot
	FlagUsed                     // allocated
	FlagLock                     // pinned against collection
	FlagConst                    // literal, immutable
)
