package vm

import (
	"sort"
	"strconv"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// SymbolTable: interned symbols, global bindings and macros
// ---------------------------------------------------------------------------

// SymbolTable interns symbols and owns the global and macro bindings.
// Everything lives on the heap so it survives an image round trip:
//
//   - list is a list of boxes (symbol . value); value is Undef while
//     the symbol is unbound.
//   - macros is an association list (symbol . expander).
//
// The Go maps are indexes over those lists and are rebuilt after a load.
type SymbolTable struct {
	h *heap.Heap

	list   heap.Cell
	macros heap.Cell
	gensym int

	boxes      map[string]heap.Cell
	macroIndex map[string]heap.Cell
}

// NewSymbolTable creates an empty table on h.
func NewSymbolTable(h *heap.Heap) *SymbolTable {
	return &SymbolTable{
		h:          h,
		list:       heap.Nil,
		macros:     heap.Nil,
		boxes:      make(map[string]heap.Cell),
		macroIndex: make(map[string]heap.Cell),
	}
}

// Roots implements heap.RootSet.
func (st *SymbolTable) Roots(mark func(heap.Cell)) {
	mark(st.list)
	mark(st.macros)
}

// Intern returns the unique symbol atom named name.
func (st *SymbolTable) Intern(name string) heap.Cell {
	if box, ok := st.boxes[name]; ok {
		return st.h.Car(box)
	}
	return st.h.Car(st.newBox(name))
}

func (st *SymbolTable) newBox(name string) heap.Cell {
	sym := st.h.MkBytes(heap.TSymbol, []byte(name))
	box := st.h.Cons(sym, heap.Undef)
	st.list = st.h.Cons(box, st.list)
	st.boxes[name] = box
	return box
}

// Box returns the global binding box of symbol sym, creating it if the
// symbol is not yet interned.
func (st *SymbolTable) Box(sym heap.Cell) heap.Cell {
	name := st.h.StringValue(sym)
	if box, ok := st.boxes[name]; ok {
		return box
	}
	return st.newBox(name)
}

// Lookup returns the box bound to name, if any.
func (st *SymbolTable) Lookup(name string) (heap.Cell, bool) {
	box, ok := st.boxes[name]
	return box, ok
}

// Value returns the global value of name, and whether it is bound.
func (st *SymbolTable) Value(name string) (heap.Cell, bool) {
	box, ok := st.boxes[name]
	if !ok || st.h.Cdr(box) == heap.Undef {
		return heap.Undef, false
	}
	return st.h.Cdr(box), true
}

// Define binds name globally.
func (st *SymbolTable) Define(name string, value heap.Cell) {
	box, ok := st.boxes[name]
	if !ok {
		st.h.Lock(value)
		box = st.newBox(name)
		st.h.Unlock(value)
	}
	st.h.SetCdr(box, value)
}

// Name returns the print name of a symbol atom.
func (st *SymbolTable) Name(sym heap.Cell) string {
	return st.h.StringValue(sym)
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	return len(st.boxes)
}

// Names returns the sorted names of the bound symbols and macros.
func (st *SymbolTable) Names() []string {
	names := make([]string, 0, len(st.boxes))
	for name, box := range st.boxes {
		if st.h.Cdr(box) != heap.Undef {
			names = append(names, name)
		}
	}
	for name := range st.macroIndex {
		if _, ok := st.boxes[name]; !ok || st.h.Cdr(st.boxes[name]) == heap.Undef {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Gensym returns a fresh uninterned symbol.
func (st *SymbolTable) Gensym() heap.Cell {
	st.gensym++
	return st.h.MkBytes(heap.TSymbol, []byte("G"+strconv.Itoa(st.gensym)))
}

// ---------------------------------------------------------------------------
// Macros
// ---------------------------------------------------------------------------

// DefineMacro binds sym to the expander procedure fn.
func (st *SymbolTable) DefineMacro(sym, fn heap.Cell) {
	name := st.h.StringValue(sym)
	if entry, ok := st.macroIndex[name]; ok {
		st.h.SetCdr(entry, fn)
		return
	}
	entry := st.h.Cons(sym, fn)
	st.macros = st.h.Cons(entry, st.macros)
	st.macroIndex[name] = entry
}

// Macro returns the expander bound to sym.
func (st *SymbolTable) Macro(sym heap.Cell) (heap.Cell, bool) {
	if !st.h.Is(sym, heap.TSymbol) {
		return heap.Nil, false
	}
	entry, ok := st.macroIndex[st.h.StringValue(sym)]
	if !ok {
		return heap.Nil, false
	}
	return st.h.Cdr(entry), true
}

// ---------------------------------------------------------------------------
// Image support
// ---------------------------------------------------------------------------

// state returns the heap roots and counter persisted in images.
func (st *SymbolTable) state() (list, macros heap.Cell, gensym int) {
	return st.list, st.macros, st.gensym
}

// restore adopts the lists of a loaded heap and rebuilds the indexes.
func (st *SymbolTable) restore(list, macros heap.Cell, gensym int) {
	st.list = list
	st.macros = macros
	st.gensym = gensym
	st.boxes = make(map[string]heap.Cell)
	st.macroIndex = make(map[string]heap.Cell)
	for c := list; c != heap.Nil; c = st.h.Cdr(c) {
		box := st.h.Car(c)
		st.boxes[st.h.StringValue(st.h.Car(box))] = box
	}
	for c := macros; c != heap.Nil; c = st.h.Cdr(c) {
		entry := st.h.Car(c)
		st.macroIndex[st.h.StringValue(st.h.Car(entry))] = entry
	}
}
