package heap

import "time"

// ---------------------------------------------------------------------------
// Collector: mark and sweep over both pools
// ---------------------------------------------------------------------------

// Stats holds allocator and collector counters.
type Stats struct {
	Collections       uint64
	Allocations       uint64
	VectorAllocations uint64

	// Results of the most recent collection.
	FreedNodes      int
	FreeNodes       int
	FreeVectorCells int
	LiveVectorRuns  int
	Duration        time.Duration
}

// Stats returns a copy of the current counters.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.FreeNodes = h.freeCount
	return s
}

// Collect runs one full collection and returns the resulting statistics.
// Nested calls (a root set allocating) are ignored.
func (h *Heap) Collect() Stats {
	if h.collecting {
		return h.stats
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	start := time.Now()
	h.markAll()
	freed := h.sweepNodes()
	freeCells, liveRuns := h.sweepVectors()

	h.stats.Collections++
	h.stats.FreedNodes = freed
	h.stats.FreeNodes = h.freeCount
	h.stats.FreeVectorCells = freeCells
	h.stats.LiveVectorRuns = liveRuns
	h.stats.Duration = time.Since(start)

	log.Debugf("collection %d: freed %d nodes, %d free nodes, %d free vector cells in %s",
		h.stats.Collections, freed, h.freeCount, freeCells, h.stats.Duration)
	return h.stats
}

// markAll marks from every registered root set, the allocation
// temporaries, and every locked node.
func (h *Heap) markAll() {
	for _, r := range h.roots {
		r.Roots(h.mark)
	}
	h.mark(h.tmpCar)
	h.mark(h.tmpCdr)
	for i, t := range h.tag {
		if t&FlagLock != 0 {
			h.mark(Cell(i))
		}
	}
}

// ---------------------------------------------------------------------------
// Mark phase: Deutsch-Schorr-Waite pointer reversal
// ---------------------------------------------------------------------------

// mark traces everything reachable from n without recursion and without an
// auxiliary stack. The path back to the root is threaded through the
// fields being visited:
//
//   - pair, TRAV set: exploring the car; car holds the parent.
//   - pair or node atom, TRAV clear: exploring the cdr; cdr holds the parent.
//   - vector atom, TRAV set: car holds the element index being explored and
//     that element slot holds the parent.
//
// Every field is restored on the way back.
func (h *Heap) mark(n Cell) {
	parent := Nil
	for {
		if n < 0 || int(n) >= len(h.tag) || h.tag[n]&FlagMark != 0 {
			if parent == Nil {
				return
			}
			p := parent
			t := h.tag[p]
			switch {
			case t&FlagVector != 0 && t&FlagTrav != 0:
				base := int(h.cdr[p])
				i := int(h.car[p])
				slot := base + vecHeader + i
				grand := h.vec[slot]
				h.vec[slot] = n
				if i+1 < int(h.vec[base+2]) {
					h.car[p] = Cell(i + 1)
					next := slot + 1
					n = h.vec[next]
					h.vec[next] = grand
				} else {
					h.car[p] = TVector
					h.tag[p] &^= FlagTrav
					n = p
					parent = grand
				}
			case t&FlagTrav != 0:
				next := h.cdr[p]
				h.cdr[p] = h.car[p]
				h.car[p] = n
				h.tag[p] &^= FlagTrav
				n = next
			default:
				parent = h.cdr[p]
				h.cdr[p] = n
				n = p
			}
			continue
		}

		t := h.tag[n]
		switch {
		case t&FlagAtom == 0:
			next := h.car[n]
			h.car[n] = parent
			h.tag[n] |= FlagMark | FlagTrav
			parent = n
			n = next
		case t&FlagVector != 0:
			h.tag[n] |= FlagMark
			base := int(h.cdr[n])
			if base < 0 {
				continue
			}
			h.setLive(base)
			if h.car[n] == TVector && h.vec[base+2] > 0 {
				h.tag[n] |= FlagTrav
				h.car[n] = 0
				slot := base + vecHeader
				next := h.vec[slot]
				h.vec[slot] = parent
				parent = n
				n = next
			}
		case h.car[n] == TClosure || h.car[n] == TCatchTag:
			next := h.cdr[n]
			h.cdr[n] = parent
			h.tag[n] |= FlagMark
			parent = n
			n = next
		default:
			h.tag[n] |= FlagMark
		}
	}
}

func (h *Heap) setLive(base int) {
	h.live[base/64] |= 1 << uint(base%64)
}

func (h *Heap) isLive(base int) bool {
	return h.live[base/64]&(1<<uint(base%64)) != 0
}

func (h *Heap) clearLive(base int) {
	h.live[base/64] &^= 1 << uint(base%64)
}

// ---------------------------------------------------------------------------
// Sweep phase
// ---------------------------------------------------------------------------

// sweepNodes rebuilds the node free list from every unmarked, unlocked
// node and clears the mark bits. It returns the number of allocated nodes
// that were reclaimed.
func (h *Heap) sweepNodes() int {
	freed := 0
	h.free = Nil
	h.freeCount = 0
	for i := len(h.tag) - 1; i >= 0; i-- {
		t := h.tag[i]
		if t&FlagMark != 0 {
			h.tag[i] = t &^ (FlagMark | FlagTrav)
			continue
		}
		if t&FlagLock != 0 {
			continue
		}
		if t&FlagUsed != 0 {
			if t&FlagPort != 0 && h.finalizer != nil {
				h.finalizer.Finalize(Cell(i))
			}
			freed++
		}
		h.car[i] = Nil
		h.tag[i] = 0
		h.cdr[i] = h.free
		h.free = Cell(i)
		h.freeCount++
	}
	return freed
}

// sweepVectors walks the vector pool run by run. Live runs keep their
// contents; dead runs are zeroed, coalesced with a preceding free run and
// linked into the free list in address order.
func (h *Heap) sweepVectors() (freeCells, liveRuns int) {
	h.vfree = -1
	lastFree := -1
	for b := 0; b < len(h.vec); {
		size := int(h.vec[b+1])
		if size < vecHeader || b+size > len(h.vec) {
			panic("heap: corrupt vector pool")
		}
		if h.isLive(b) {
			h.clearLive(b)
			liveRuns++
			b += size
			continue
		}
		for i := b; i < b+size; i++ {
			h.vec[i] = 0
		}
		freeCells += size
		if lastFree >= 0 && lastFree+int(h.vec[lastFree+1]) == b {
			h.vec[lastFree+1] += Cell(size)
		} else {
			h.vec[b] = Nil
			h.vec[b+1] = Cell(size)
			if lastFree >= 0 {
				h.vec[lastFree] = Cell(b)
			} else {
				h.vfree = b
			}
			lastFree = b
		}
		b += size
	}
	return freeCells, liveRuns
}
