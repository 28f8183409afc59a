package heap

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Reachability
// ---------------------------------------------------------------------------

func TestCollectKeepsReachable(t *testing.T) {
	h, roots := newTestHeap(256, 256)
	keep := h.List(h.MkFixnum(1), h.MkString("two"), h.MkChar('3'))
	roots.cells = append(roots.cells, keep)
	for i := 0; i < 20; i++ {
		h.Cons(h.MkFixnum(int32(i)), Nil)
	}

	h.Collect()
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
	if h.Fixnum(h.Car(keep)) != 1 {
		t.Error("first element damaged")
	}
	if h.StringValue(h.Car(h.Cdr(keep))) != "two" {
		t.Error("string damaged")
	}
	if h.Char(h.Car(h.Cdr(h.Cdr(keep)))) != '3' {
		t.Error("char damaged")
	}
}

func TestCollectFreesUnreachableOnce(t *testing.T) {
	h, _ := newTestHeap(128, 64)
	before := h.FreeNodes()
	for i := 0; i < 10; i++ {
		h.Cons(Nil, Nil)
	}
	if h.FreeNodes() != before-10 {
		t.Fatalf("free = %d, want %d", h.FreeNodes(), before-10)
	}
	s := h.Collect()
	if s.FreedNodes != 10 {
		t.Errorf("freed %d, want 10", s.FreedNodes)
	}
	if h.FreeNodes() != before {
		t.Errorf("free = %d, want %d", h.FreeNodes(), before)
	}
	s = h.Collect()
	if s.FreedNodes != 0 {
		t.Errorf("second collection freed %d, want 0", s.FreedNodes)
	}
}

func TestNoLeakOverCycles(t *testing.T) {
	h, roots := newTestHeap(512, 1024)
	roots.cells = []Cell{h.List(True, True)}
	h.Collect()
	baseNodes := h.FreeNodes()
	baseCells := h.Stats().FreeVectorCells

	for cycle := 0; cycle < 50; cycle++ {
		for i := 0; i < 30; i++ {
			h.Cons(h.MkString("garbage"), h.MkVector(4, Nil))
		}
		s := h.Collect()
		if h.FreeNodes() != baseNodes {
			t.Fatalf("cycle %d: free nodes %d, want %d", cycle, h.FreeNodes(), baseNodes)
		}
		if s.FreeVectorCells != baseCells {
			t.Fatalf("cycle %d: free vector cells %d, want %d", cycle, s.FreeVectorCells, baseCells)
		}
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestCyclicStructuresCollected(t *testing.T) {
	h, roots := newTestHeap(64, 64)
	a := h.Cons(Nil, Nil)
	b := h.Cons(a, a)
	h.SetCar(a, b)
	h.SetCdr(a, b)
	roots.cells = []Cell{a}
	h.Collect()
	if h.Car(a) != b || h.Cdr(a) != b || h.Car(b) != a || h.Cdr(b) != a {
		t.Fatal("pointer reversal did not restore a cycle")
	}
	roots.cells = nil
	s := h.Collect()
	if s.FreedNodes != 2 {
		t.Errorf("freed %d, want 2", s.FreedNodes)
	}
}

func TestAllocationTriggersCollection(t *testing.T) {
	h, roots := newTestHeap(64, 64)
	keep := h.Cons(True, Nil)
	roots.cells = []Cell{keep}
	for i := 0; i < 1000; i++ {
		h.Cons(Nil, Nil)
	}
	if h.Stats().Collections == 0 {
		t.Error("expected automatic collections")
	}
	if h.Car(keep) != True {
		t.Error("root damaged by automatic collection")
	}
}

func TestConsArgumentsSurviveCollection(t *testing.T) {
	h, _ := newTestHeap(64, 64)
	// Fill the pool so the next Cons must collect.
	l := Nil
	for h.FreeNodes() > 1 {
		l = h.Cons(Nil, l)
	}
	x := h.MkFixnum(99)
	h.Lock(x)
	y := h.Cons(x, Nil)
	h.Unlock(x)
	h.Lock(y)
	z := h.Cons(y, x)
	if h.Car(z) != y || h.Cdr(z) != x || h.Fixnum(x) != 99 {
		t.Error("arguments of the pending allocation were lost")
	}
	h.Unlock(y)
}

// ---------------------------------------------------------------------------
// Depth
// ---------------------------------------------------------------------------

func TestDeepCdrChain(t *testing.T) {
	const n = 100000
	h, roots := newTestHeap(n+64, 64)
	l := Nil
	for i := 0; i < n; i++ {
		l = h.Cons(True, l)
		roots.cells = []Cell{l}
	}
	h.Collect()
	count := 0
	for c := l; c != Nil; c = h.Cdr(c) {
		count++
	}
	if count != n {
		t.Errorf("length %d, want %d", count, n)
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestDeepCarNesting(t *testing.T) {
	const n = 100000
	h, roots := newTestHeap(n+64, 64)
	l := Nil
	for i := 0; i < n; i++ {
		l = h.Cons(l, Nil)
		roots.cells = []Cell{l}
	}
	h.Collect()
	depth := 0
	for c := l; c != Nil; c = h.Car(c) {
		depth++
	}
	if depth != n {
		t.Errorf("depth %d, want %d", depth, n)
	}
}

func TestNestedVectors(t *testing.T) {
	const n = 2000
	h, roots := newTestHeap(n*2+64, n*5+64)
	v := h.MkVector(0, Nil)
	roots.cells = []Cell{v}
	for i := 0; i < n; i++ {
		outer := h.MkVector(2, Nil)
		h.VectorSet(outer, 0, v)
		h.VectorSet(outer, 1, h.MkFixnum(int32(i)))
		v = outer
		roots.cells = []Cell{v}
	}
	h.Collect()
	for i := n - 1; i >= 0; i-- {
		if h.Fixnum(h.VectorRef(v, 1)) != int32(i) {
			t.Fatalf("level %d damaged", i)
		}
		if h.Car(v) != TVector {
			t.Fatalf("level %d: discriminator not restored", i)
		}
		v = h.VectorRef(v, 0)
	}
	if h.VectorLen(v) != 0 {
		t.Error("innermost vector should be empty")
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestClosurePayloadTraced(t *testing.T) {
	h, roots := newTestHeap(64, 64)
	env := h.List(h.MkString("captured"))
	c := h.Atom(TClosure, env)
	roots.cells = []Cell{c}
	h.Collect()
	if h.Cdr(c) != env || h.StringValue(h.Car(env)) != "captured" {
		t.Error("closure payload not traced")
	}
}

// ---------------------------------------------------------------------------
// Vector pool
// ---------------------------------------------------------------------------

func TestVectorFreeAndCoalesce(t *testing.T) {
	h, roots := newTestHeap(64, 128)
	a := h.MkVector(20, Nil)
	b := h.MkVector(20, Nil)
	c := h.MkVector(20, Nil)
	roots.cells = []Cell{b}
	_ = a
	_ = c
	h.Collect()
	// a and c are gone; the only way to fit 60 elements is for the tail
	// after b to have been merged with c's run.
	big := h.MkVector(60, True)
	if h.VectorLen(big) != 60 {
		t.Fatal("large vector allocation failed")
	}
	if h.VectorLen(b) != 20 {
		t.Error("survivor damaged")
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestVectorCompaction(t *testing.T) {
	h, roots := newTestHeap(256, 256)
	var keep []Cell
	for i := 0; i < 10; i++ {
		v := h.MkVector(5, Nil)
		if i%2 == 0 {
			keep = append(keep, v)
		}
	}
	roots.cells = keep
	s := h.Collect()
	if s.LiveVectorRuns != 5 {
		t.Errorf("live runs = %d, want 5", s.LiveVectorRuns)
	}
	want := h.VectorCells() - 5*(5+vecHeader)
	if s.FreeVectorCells != want {
		t.Errorf("free cells = %d, want %d", s.FreeVectorCells, want)
	}
}

// ---------------------------------------------------------------------------
// Ports and exhaustion
// ---------------------------------------------------------------------------

type finalizeRecorder struct {
	seen []Cell
}

func (f *finalizeRecorder) Finalize(c Cell) { f.seen = append(f.seen, c) }

func TestPortFinalizer(t *testing.T) {
	h, roots := newTestHeap(64, 64)
	rec := &finalizeRecorder{}
	h.SetFinalizer(rec)
	live := h.MkPort(TOutPort, 4)
	dead := h.MkPort(TInPort, 5)
	roots.cells = []Cell{live}
	h.Collect()
	if len(rec.seen) != 1 || rec.seen[0] != dead {
		t.Fatalf("finalized %v, want [%v]", rec.seen, dead)
	}
	h.Collect()
	if len(rec.seen) != 1 {
		t.Error("port finalized twice")
	}
}

func TestNodeExhaustion(t *testing.T) {
	h, roots := newTestHeap(64, 64)
	defer func() {
		r := recover()
		var ex *Exhausted
		err, ok := r.(error)
		if !ok || !errors.As(err, &ex) || ex.Pool != "node" {
			t.Fatalf("recover = %v, want node exhaustion", r)
		}
	}()
	l := Nil
	for {
		l = h.Cons(Nil, l)
		roots.cells = []Cell{l}
	}
}

func TestVectorExhaustion(t *testing.T) {
	h, _ := newTestHeap(64, 64)
	defer func() {
		ex, ok := recover().(*Exhausted)
		if !ok || ex.Pool != "vector" {
			t.Fatal("want vector exhaustion")
		}
	}()
	h.MkVector(1000, Nil)
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestSnapshotRestore(t *testing.T) {
	h, roots := newTestHeap(128, 128)
	l := h.List(h.MkString("image"), h.MkVector(2, True))
	roots.cells = []Cell{l}
	h.Collect()

	snap := h.Snapshot()
	copied := Snapshot{
		Car:        append([]Cell(nil), snap.Car...),
		Cdr:        append([]Cell(nil), snap.Cdr...),
		Tag:        append([]Flags(nil), snap.Tag...),
		Vec:        append([]Cell(nil), snap.Vec...),
		FreeList:   snap.FreeList,
		VectorFree: snap.VectorFree,
	}

	h2 := New(128, 128)
	if err := h2.Restore(copied); err != nil {
		t.Fatal(err)
	}
	if h2.StringValue(h2.Car(l)) != "image" {
		t.Error("string not restored")
	}
	if h2.VectorRef(h2.Car(h2.Cdr(l)), 1) != True {
		t.Error("vector not restored")
	}
	if h2.FreeNodes() != h.FreeNodes() {
		t.Errorf("free nodes %d, want %d", h2.FreeNodes(), h.FreeNodes())
	}
	if err := h2.Check(); err != nil {
		t.Fatal(err)
	}

	small := New(64, 128)
	if err := small.Restore(copied); !errors.Is(err, ErrCapacityMismatch) {
		t.Errorf("err = %v, want capacity mismatch", err)
	}
}

func TestCheckRejectsBadVectorFreeList(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(h *Heap, live int)
	}{
		{"live run", func(h *Heap, live int) { h.vfree = live }},
		{"inside a run", func(h *Heap, live int) { h.vfree = live + 1 }},
		{"out of range", func(h *Heap, live int) { h.vfree = len(h.vec) }},
		{"cycle", func(h *Heap, live int) { h.vec[h.vfree] = Cell(h.vfree) }},
		{"link into live run", func(h *Heap, live int) { h.vec[h.vfree] = Cell(live) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, roots := newTestHeap(256, 256)
			s := h.MkString("hello world")
			roots.cells = append(roots.cells, s)
			h.Collect()
			if err := h.Check(); err != nil {
				t.Fatalf("clean heap: %v", err)
			}
			if h.vfree < 0 {
				t.Fatal("no free vector run")
			}
			tt.corrupt(h, int(h.cdr[s]))
			if err := h.Check(); err == nil {
				t.Error("Check accepted a corrupt vector free list")
			}
		})
	}
}
