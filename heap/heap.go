package heap

import (
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ls9.heap")

// Default pool capacities.
const (
	DefaultNodes       = 262144
	DefaultVectorCells = 262144
)

// vecHeader is the number of header slots in front of every vector run:
// owner link (or next free run), run size, and payload length.
const vecHeader = 3

// minNodes and minVectorCells keep tiny configurations usable.
const (
	minNodes       = 64
	minVectorCells = 64
)

// RootSet supplies collection roots. Roots must call mark once for every
// cell it keeps alive.
type RootSet interface {
	Roots(mark func(Cell))
}

// RootFunc adapts a function to RootSet.
type RootFunc func(mark func(Cell))

// Roots implements RootSet.
func (f RootFunc) Roots(mark func(Cell)) { f(mark) }

// Finalizer is notified about unreachable port atoms before they are
// reclaimed.
type Finalizer interface {
	Finalize(c Cell)
}

// Exhausted is the panic value raised when a pool cannot satisfy a request
// even after a collection.
type Exhausted struct {
	Pool      string
	Requested int
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("heap exhausted: %s pool (requested %d)", e.Pool, e.Requested)
}

// ---------------------------------------------------------------------------
// Heap: node pool + vector pool
// ---------------------------------------------------------------------------

// Heap owns the node pool and the vector pool. Pool sizes are fixed at
// construction.
type Heap struct {
	car []Cell
	cdr []Cell
	tag []Flags
	vec []Cell

	free      Cell // head of the node free list, linked through cdr
	freeCount int
	vfree     int // base of the first free vector run, -1 if none

	live []uint64 // live vector runs, indexed by run base

	roots     []RootSet
	finalizer Finalizer

	// Arguments of an allocation in progress.
	tmpCar Cell
	tmpCdr Cell

	collecting bool
	stats      Stats
}

// New creates a heap with the given capacities.
func New(nodes, vectorCells int) *Heap {
	if nodes < minNodes {
		nodes = minNodes
	}
	if vectorCells < minVectorCells {
		vectorCells = minVectorCells
	}
	h := &Heap{
		car:    make([]Cell, nodes),
		cdr:    make([]Cell, nodes),
		tag:    make([]Flags, nodes),
		vec:    make([]Cell, vectorCells),
		live:   make([]uint64, (vectorCells+63)/64),
		tmpCar: Nil,
		tmpCdr: Nil,
	}
	h.reset()
	return h
}

// reset puts every node and the whole vector pool on the free lists.
func (h *Heap) reset() {
	h.free = Nil
	for i := len(h.car) - 1; i >= 0; i-- {
		h.car[i] = Nil
		h.tag[i] = 0
		h.cdr[i] = h.free
		h.free = Cell(i)
	}
	h.freeCount = len(h.car)
	for i := range h.vec {
		h.vec[i] = 0
	}
	h.vec[0] = Nil
	h.vec[1] = Cell(len(h.vec))
	h.vfree = 0
	for i := range h.live {
		h.live[i] = 0
	}
}

// Nodes returns the node pool capacity.
func (h *Heap) Nodes() int { return len(h.car) }

// VectorCells returns the vector pool capacity.
func (h *Heap) VectorCells() int { return len(h.vec) }

// FreeNodes returns the number of nodes currently on the free list.
func (h *Heap) FreeNodes() int { return h.freeCount }

// Collections returns the number of completed collections.
func (h *Heap) Collections() uint64 { return h.stats.Collections }

// AddRoots registers a root set consulted by every collection.
func (h *Heap) AddRoots(r RootSet) {
	h.roots = append(h.roots, r)
}

// SetFinalizer registers the port finalizer.
func (h *Heap) SetFinalizer(f Finalizer) {
	h.finalizer = f
}

// ---------------------------------------------------------------------------
// Raw node access
// ---------------------------------------------------------------------------

// Car returns the car field of node c.
func (h *Heap) Car(c Cell) Cell { return h.car[c] }

// Cdr returns the cdr field of node c.
func (h *Heap) Cdr(c Cell) Cell { return h.cdr[c] }

// SetCar replaces the car field of node c.
func (h *Heap) SetCar(c, v Cell) { h.car[c] = v }

// SetCdr replaces the cdr field of node c.
func (h *Heap) SetCdr(c, v Cell) { h.cdr[c] = v }

// Tag returns the flags of node c.
func (h *Heap) Tag(c Cell) Flags { return h.tag[c] }

// Valid reports whether c is a node index inside the pool.
func (h *Heap) Valid(c Cell) bool {
	return c >= 0 && int(c) < len(h.car)
}

// IsPair reports whether c is an ordinary pair.
func (h *Heap) IsPair(c Cell) bool {
	return c >= 0 && h.tag[c]&FlagAtom == 0
}

// IsAtom reports whether c is a typed atom.
func (h *Heap) IsAtom(c Cell) bool {
	return c >= 0 && h.tag[c]&FlagAtom != 0
}

// TypeOf returns the discriminator of an atom, or Nil for anything else.
func (h *Heap) TypeOf(c Cell) Cell {
	if !h.IsAtom(c) {
		return Nil
	}
	return h.car[c]
}

// Is reports whether c is an atom of type t.
func (h *Heap) Is(c, t Cell) bool {
	return c >= 0 && h.tag[c]&FlagAtom != 0 && h.car[c] == t
}

// Lock pins c against collection until Unlock.
func (h *Heap) Lock(c Cell) {
	if c >= 0 {
		h.tag[c] |= FlagLock
	}
}

// Unlock releases a pin set by Lock.
func (h *Heap) Unlock(c Cell) {
	if c >= 0 {
		h.tag[c] &^= FlagLock
	}
}

// IsLocked reports whether c is pinned.
func (h *Heap) IsLocked(c Cell) bool {
	return c >= 0 && h.tag[c]&FlagLock != 0
}

// IsConst reports whether c carries the CONST flag.
func (h *Heap) IsConst(c Cell) bool {
	return c >= 0 && h.tag[c]&FlagConst != 0
}

// SetConst flags c and everything reachable from it through pairs and
// vectors as immutable. The walk uses an explicit work list.
func (h *Heap) SetConst(c Cell) {
	work := []Cell{c}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		for n >= 0 && h.tag[n]&FlagConst == 0 {
			h.tag[n] |= FlagConst
			if h.tag[n]&FlagAtom != 0 {
				if h.car[n] == TVector {
					for i, k := 0, h.VectorLen(n); i < k; i++ {
						work = append(work, h.VectorRef(n, i))
					}
				}
				break
			}
			work = append(work, h.car[n])
			n = h.cdr[n]
		}
	}
}
