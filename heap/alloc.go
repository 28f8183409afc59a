package heap

// ---------------------------------------------------------------------------
// Node allocation
// ---------------------------------------------------------------------------

// node takes a cell from the free list, collecting once if the list is
// empty. The arguments of the allocation in progress are parked in
// tmpCar/tmpCdr so the collector treats them as roots.
func (h *Heap) node() Cell {
	if h.free == Nil {
		h.Collect()
		if h.free == Nil {
			panic(&Exhausted{Pool: "node", Requested: 1})
		}
	}
	n := h.free
	h.free = h.cdr[n]
	h.freeCount--
	h.stats.Allocations++
	return n
}

// Cons allocates a pair.
func (h *Heap) Cons(car, cdr Cell) Cell {
	h.tmpCar, h.tmpCdr = car, cdr
	n := h.node()
	h.tmpCar, h.tmpCdr = Nil, Nil
	h.car[n] = car
	h.cdr[n] = cdr
	h.tag[n] = FlagUsed
	return n
}

// Atom allocates a typed atom with the given discriminator and payload.
// Node payloads are protected while the allocation runs.
func (h *Heap) Atom(typ, payload Cell) Cell {
	h.tmpCdr = payload
	n := h.node()
	h.tmpCdr = Nil
	h.car[n] = typ
	h.cdr[n] = payload
	h.tag[n] = FlagUsed | FlagAtom
	return n
}

// ---------------------------------------------------------------------------
// Vector pool allocation
// ---------------------------------------------------------------------------

// byteSlots returns the number of pool slots holding n packed bytes.
func byteSlots(n int) int {
	return (n + 3) / 4
}

// payloadSlots returns the number of data slots an atom of type t with
// the given length needs.
func payloadSlots(t Cell, length int) int {
	if t == TVector {
		return length
	}
	return byteSlots(length)
}

// allocRun reserves a contiguous run of slots data slots (plus header)
// using first fit. One collection is attempted before giving up.
func (h *Heap) allocRun(slots int) int {
	need := slots + vecHeader
	for attempt := 0; attempt < 2; attempt++ {
		prev := -1
		for b := h.vfree; b >= 0; b = int(h.vec[b]) {
			size := int(h.vec[b+1])
			if size < need {
				prev = b
				continue
			}
			next := int(h.vec[b])
			if size-need >= vecHeader {
				r := b + need
				h.vec[r] = Cell(next)
				h.vec[r+1] = Cell(size - need)
				h.vec[r+2] = 0
				next = r
				size = need
			}
			if prev < 0 {
				h.vfree = next
			} else {
				h.vec[prev] = Cell(next)
			}
			h.vec[b] = Nil
			h.vec[b+1] = Cell(size)
			h.vec[b+2] = 0
			for i := b + vecHeader; i < b+size; i++ {
				h.vec[i] = 0
			}
			h.stats.VectorAllocations++
			return b
		}
		if attempt == 0 {
			h.Collect()
		}
	}
	panic(&Exhausted{Pool: "vector", Requested: need})
}

// AllocVector allocates an atom of type t backed by a vector run of the
// given length (elements for vectors, bytes otherwise). Vector elements
// start out as fill; byte payloads start zeroed.
func (h *Heap) AllocVector(t Cell, length int, fill Cell) Cell {
	if length < 0 {
		length = 0
	}
	h.tmpCar = fill
	a := h.Atom(t, Nil)
	h.tag[a] |= FlagVector | FlagLock
	// An exhausted pool panics out of allocRun; the atom must not stay
	// pinned.
	defer func() {
		h.tag[a] &^= FlagLock
		h.tmpCar = Nil
	}()
	base := h.allocRun(payloadSlots(t, length))
	h.cdr[a] = Cell(base)
	h.vec[base] = a
	h.vec[base+2] = Cell(length)
	if t == TVector {
		for i := 0; i < length; i++ {
			h.vec[base+vecHeader+i] = fill
		}
	}
	return a
}

// ---------------------------------------------------------------------------
// Typed atom constructors
// ---------------------------------------------------------------------------

// MkFixnum allocates an integer atom.
func (h *Heap) MkFixnum(n int32) Cell {
	return h.Atom(TFixnum, Cell(n))
}

// MkChar allocates a character atom.
func (h *Heap) MkChar(r rune) Cell {
	return h.Atom(TChar, Cell(r))
}

// MkBytes allocates a byte-payload atom (string, symbol name, bytecode).
func (h *Heap) MkBytes(t Cell, b []byte) Cell {
	a := h.AllocVector(t, len(b), Nil)
	base := int(h.cdr[a])
	for i, c := range b {
		h.setByte(base, i, c)
	}
	return a
}

// MkString allocates a string atom.
func (h *Heap) MkString(s string) Cell {
	return h.MkBytes(TString, []byte(s))
}

// MkVector allocates a vector atom with every element set to fill.
func (h *Heap) MkVector(length int, fill Cell) Cell {
	return h.AllocVector(TVector, length, fill)
}

// MkPort allocates a port atom for slot n; t is TInPort or TOutPort.
func (h *Heap) MkPort(t Cell, n int) Cell {
	a := h.Atom(t, Cell(n))
	h.tag[a] |= FlagPort
	return a
}

// List builds a proper list from xs. Elements must already be reachable
// from a root or locked.
func (h *Heap) List(xs ...Cell) Cell {
	l := Nil
	for i := len(xs) - 1; i >= 0; i-- {
		l = h.Cons(xs[i], l)
	}
	return l
}

// ---------------------------------------------------------------------------
// Typed atom accessors
// ---------------------------------------------------------------------------

// Fixnum returns the value of an integer atom.
func (h *Heap) Fixnum(c Cell) int32 {
	return int32(h.cdr[c])
}

// Char returns the value of a character atom.
func (h *Heap) Char(c Cell) rune {
	return rune(h.cdr[c])
}

// PortNo returns the slot number of a port atom.
func (h *Heap) PortNo(c Cell) int {
	return int(h.cdr[c])
}

// runBase returns the vector run of a vector-backed atom.
func (h *Heap) runBase(c Cell) int {
	return int(h.cdr[c])
}

// VectorLen returns the payload length of a vector-backed atom.
func (h *Heap) VectorLen(c Cell) int {
	b := h.runBase(c)
	if b < 0 {
		return 0
	}
	return int(h.vec[b+2])
}

// VectorRef returns element i of a vector atom.
func (h *Heap) VectorRef(c Cell, i int) Cell {
	return h.vec[h.runBase(c)+vecHeader+i]
}

// VectorSet replaces element i of a vector atom.
func (h *Heap) VectorSet(c Cell, i int, v Cell) {
	h.vec[h.runBase(c)+vecHeader+i] = v
}

// Bytes returns a copy of the packed payload of a byte atom.
func (h *Heap) Bytes(c Cell) []byte {
	base := h.runBase(c)
	n := h.VectorLen(c)
	out := make([]byte, n)
	for i := range out {
		out[i] = h.byteAt(base, i)
	}
	return out
}

// StringValue returns the payload of a string or symbol atom as a Go string.
func (h *Heap) StringValue(c Cell) string {
	return string(h.Bytes(c))
}

// ByteAt returns byte i of a byte atom.
func (h *Heap) ByteAt(c Cell, i int) byte {
	return h.byteAt(h.runBase(c), i)
}

// SetByteAt replaces byte i of a byte atom.
func (h *Heap) SetByteAt(c Cell, i int, b byte) {
	h.setByte(h.runBase(c), i, b)
}

// Bytes are packed four to a slot, least significant byte first.
func (h *Heap) byteAt(base, i int) byte {
	slot := uint32(h.vec[base+vecHeader+i/4])
	return byte(slot >> (uint(i%4) * 8))
}

func (h *Heap) setByte(base, i int, b byte) {
	p := base + vecHeader + i/4
	shift := uint(i%4) * 8
	slot := uint32(h.vec[p])
	slot = slot&^(0xFF<<shift) | uint32(b)<<shift
	h.vec[p] = Cell(int32(slot))
}
