package heap

import (
	"errors"
	"fmt"
)

// ErrCapacityMismatch is returned when a snapshot does not fit this heap.
var ErrCapacityMismatch = errors.New("heap capacity mismatch")

// Snapshot is a view of the complete pool state, used by the image writer
// and reader. The slices alias the live heap when produced by Snapshot.
type Snapshot struct {
	Car        []Cell
	Cdr        []Cell
	Tag        []Flags
	Vec        []Cell
	FreeList   Cell
	VectorFree int
}

// Snapshot returns the current pool state. Callers must not mutate the
// returned slices and must not allocate while holding it.
func (h *Heap) Snapshot() Snapshot {
	return Snapshot{
		Car:        h.car,
		Cdr:        h.cdr,
		Tag:        h.tag,
		Vec:        h.vec,
		FreeList:   h.free,
		VectorFree: h.vfree,
	}
}

// Restore replaces the pool contents with s. The capacities must match.
// Transient collector bits and locks are cleared.
func (h *Heap) Restore(s Snapshot) error {
	if len(s.Car) != len(h.car) || len(s.Cdr) != len(h.car) || len(s.Tag) != len(h.car) {
		return fmt.Errorf("%w: image has %d nodes, heap has %d", ErrCapacityMismatch, len(s.Car), len(h.car))
	}
	if len(s.Vec) != len(h.vec) {
		return fmt.Errorf("%w: image has %d vector cells, heap has %d", ErrCapacityMismatch, len(s.Vec), len(h.vec))
	}
	copy(h.car, s.Car)
	copy(h.cdr, s.Cdr)
	copy(h.vec, s.Vec)
	h.freeCount = 0
	for i, t := range s.Tag {
		h.tag[i] = t &^ (FlagMark | FlagTrav | FlagLock)
		if t&FlagUsed == 0 {
			h.freeCount++
		}
	}
	h.free = s.FreeList
	h.vfree = s.VectorFree
	for i := range h.live {
		h.live[i] = 0
	}
	return nil
}

// Check verifies structural invariants of the pools: free-list cells are
// not in use, every used vector-backed atom owns a well-formed run, the
// vector free list links only unowned runs, and no transient collector
// bits are left set. It is meant for tests and for
// validating freshly loaded images.
func (h *Heap) Check() error {
	seen := make(map[Cell]bool)
	count := 0
	for n := h.free; n != Nil; n = h.cdr[n] {
		if !h.Valid(n) {
			return fmt.Errorf("free list: invalid cell %d", n)
		}
		if seen[n] {
			return fmt.Errorf("free list: cell %d linked twice", n)
		}
		seen[n] = true
		if h.tag[n]&FlagUsed != 0 {
			return fmt.Errorf("free list: cell %d is in use", n)
		}
		count++
	}
	if count != h.freeCount {
		return fmt.Errorf("free list: length %d, counter %d", count, h.freeCount)
	}
	boundary := make([]bool, len(h.vec))
	runs := 0
	for b := 0; b < len(h.vec); {
		if b+vecHeader > len(h.vec) {
			return fmt.Errorf("vector pool: truncated run at %d", b)
		}
		size := int(h.vec[b+1])
		if size < vecHeader || b+size > len(h.vec) {
			return fmt.Errorf("vector pool: run %d has bad size %d", b, size)
		}
		boundary[b] = true
		runs++
		b += size
	}
	owned := make([]bool, len(h.vec))
	for i, t := range h.tag {
		if t&(FlagMark|FlagTrav) != 0 {
			return fmt.Errorf("node %d: transient collector bits set", i)
		}
		if t&FlagUsed == 0 {
			continue
		}
		if t&FlagAtom == 0 {
			if !h.inRange(h.car[i]) || !h.inRange(h.cdr[i]) {
				return fmt.Errorf("node %d: field out of range", i)
			}
			continue
		}
		if !h.car[i].IsDiscriminator() {
			return fmt.Errorf("node %d: bad discriminator %d", i, h.car[i])
		}
		if h.car[i] == TClosure || h.car[i] == TCatchTag {
			if !h.inRange(h.cdr[i]) {
				return fmt.Errorf("node %d: payload out of range", i)
			}
		}
		if t&FlagVector == 0 {
			continue
		}
		b := int(h.cdr[i])
		if b < 0 || b >= len(h.vec) || !boundary[b] {
			return fmt.Errorf("node %d: vector run %d out of range", i, b)
		}
		if owned[b] {
			return fmt.Errorf("node %d: vector run %d shared", i, b)
		}
		owned[b] = true
		if h.vec[b] != Cell(i) {
			return fmt.Errorf("node %d: vector run %d owned by %d", i, b, h.vec[b])
		}
		size := int(h.vec[b+1])
		length := int(h.vec[b+2])
		if length < 0 || size < vecHeader+payloadSlots(h.car[i], length) || b+size > len(h.vec) {
			return fmt.Errorf("node %d: vector run %d too small", i, b)
		}
		if h.car[i] == TVector {
			for k := 0; k < length; k++ {
				if !h.inRange(h.vec[b+vecHeader+k]) {
					return fmt.Errorf("node %d: element %d out of range", i, k)
				}
			}
		}
	}
	return h.checkVectorFree(boundary, owned, runs)
}

// checkVectorFree walks the vector free list. Every entry must start a run
// that no atom owns, and the list must end within runs steps.
func (h *Heap) checkVectorFree(boundary, owned []bool, runs int) error {
	steps := 0
	for b := h.vfree; b >= 0; b = int(h.vec[b]) {
		if b >= len(h.vec) || !boundary[b] {
			return fmt.Errorf("vector free list: %d is not a run", b)
		}
		if owned[b] {
			return fmt.Errorf("vector free list: run %d is in use", b)
		}
		if steps++; steps > runs {
			return fmt.Errorf("vector free list: cycle at run %d", b)
		}
	}
	return nil
}

// inRange reports whether c is a special value or a node inside the pool.
func (h *Heap) inRange(c Cell) bool {
	return c < 0 || int(c) < len(h.car)
}

// FromSnapshot wraps s in a detached heap without copying, so a snapshot can
// be inspected with the regular accessors before it replaces a live heap.
// The result has no roots and must not be used for allocation.
func FromSnapshot(s Snapshot) (*Heap, error) {
	n := len(s.Car)
	if n == 0 || len(s.Cdr) != n || len(s.Tag) != n || len(s.Vec) < vecHeader {
		return nil, fmt.Errorf("%w: malformed snapshot", ErrCapacityMismatch)
	}
	h := &Heap{
		car:    s.Car,
		cdr:    s.Cdr,
		tag:    s.Tag,
		vec:    s.Vec,
		free:   s.FreeList,
		vfree:  s.VectorFree,
		live:   make([]uint64, (len(s.Vec)+63)/64),
		tmpCar: Nil,
		tmpCdr: Nil,
	}
	for _, t := range s.Tag {
		if t&FlagUsed == 0 {
			h.freeCount++
		}
	}
	return h, nil
}

// EachAtom calls fn for every allocated atom of type t, stopping at the
// first error.
func (h *Heap) EachAtom(t Cell, fn func(c Cell) error) error {
	for i, f := range h.tag {
		if f&(FlagUsed|FlagAtom) == FlagUsed|FlagAtom && h.car[i] == t {
			if err := fn(Cell(i)); err != nil {
				return err
			}
		}
	}
	return nil
}
