package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/chazu/ls9/heap"
)

// DefaultPorts is the default size of the port table.
const DefaultPorts = 20

// Standard port slots.
const (
	StdinPort  = 0
	StdoutPort = 1
	StderrPort = 2
)

var (
	ErrPortTableFull = errors.New("port table full")
	ErrPortClosed    = errors.New("port closed")
	ErrPortDirection = errors.New("wrong port direction")
)

// ---------------------------------------------------------------------------
// PortTable: bounded table of open I/O handles
// ---------------------------------------------------------------------------

// portSlot is one entry in the port table.
type portSlot struct {
	open   bool
	input  bool
	name   string
	r      *bufio.Reader
	w      *bufio.Writer
	closer io.Closer
	owner  heap.Cell // atom wrapping this slot, Nil if not attached yet
}

// PortTable owns every open port. Slots 0, 1 and 2 hold the standard
// streams and are never closed. The current input and output selection is
// atomic so it can be read from signal handlers.
type PortTable struct {
	slots []portSlot
	in    atomic.Int32
	out   atomic.Int32
}

// NewPortTable creates a table with size slots and the standard streams
// installed.
func NewPortTable(size int, stdin io.Reader, stdout, stderr io.Writer) *PortTable {
	if size < 3 {
		size = 3
	}
	pt := &PortTable{slots: make([]portSlot, size)}
	for i := range pt.slots {
		pt.slots[i].owner = heap.Nil
	}
	pt.slots[StdinPort] = portSlot{open: true, input: true, name: "stdin", r: bufio.NewReader(stdin), owner: heap.Nil}
	pt.slots[StdoutPort] = portSlot{open: true, name: "stdout", w: bufio.NewWriter(stdout), owner: heap.Nil}
	pt.slots[StderrPort] = portSlot{open: true, name: "stderr", w: bufio.NewWriter(stderr), owner: heap.Nil}
	pt.in.Store(StdinPort)
	pt.out.Store(StdoutPort)
	return pt
}

// Size returns the number of slots.
func (pt *PortTable) Size() int {
	return len(pt.slots)
}

// Input returns the current input port slot.
func (pt *PortTable) Input() int {
	return int(pt.in.Load())
}

// Output returns the current output port slot.
func (pt *PortTable) Output() int {
	return int(pt.out.Load())
}

// SetInput selects the current input port.
func (pt *PortTable) SetInput(n int) {
	pt.in.Store(int32(n))
}

// SetOutput selects the current output port.
func (pt *PortTable) SetOutput(n int) {
	pt.out.Store(int32(n))
}

// alloc finds a free slot.
func (pt *PortTable) alloc() (int, error) {
	for i := 3; i < len(pt.slots); i++ {
		if !pt.slots[i].open {
			return i, nil
		}
	}
	return -1, ErrPortTableFull
}

// OpenInput opens path for reading.
func (pt *PortTable) OpenInput(path string) (int, error) {
	n, err := pt.alloc()
	if err != nil {
		return -1, err
	}
	f, err := os.Open(path)
	if err != nil {
		return -1, err
	}
	pt.slots[n] = portSlot{open: true, input: true, name: path, r: bufio.NewReader(f), closer: f, owner: heap.Nil}
	return n, nil
}

// OpenOutput opens path for writing, truncating unless appending.
func (pt *PortTable) OpenOutput(path string, appending bool) (int, error) {
	n, err := pt.alloc()
	if err != nil {
		return -1, err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appending {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return -1, err
	}
	pt.slots[n] = portSlot{open: true, name: path, w: bufio.NewWriter(f), closer: f, owner: heap.Nil}
	return n, nil
}

// OpenReader installs an arbitrary reader, used for string ports and
// tests.
func (pt *PortTable) OpenReader(name string, r io.Reader) (int, error) {
	n, err := pt.alloc()
	if err != nil {
		return -1, err
	}
	var closer io.Closer
	if c, ok := r.(io.Closer); ok {
		closer = c
	}
	pt.slots[n] = portSlot{open: true, input: true, name: name, r: bufio.NewReader(r), closer: closer, owner: heap.Nil}
	return n, nil
}

// Attach records the atom that wraps slot n.
func (pt *PortTable) Attach(n int, owner heap.Cell) {
	pt.slots[n].owner = owner
}

// Owner returns the atom wrapping slot n.
func (pt *PortTable) Owner(n int) heap.Cell {
	if n < 0 || n >= len(pt.slots) {
		return heap.Nil
	}
	return pt.slots[n].owner
}

// Owns reports whether atom is the live owner of an open slot n.
func (pt *PortTable) Owns(n int, atom heap.Cell) bool {
	return n >= 0 && n < len(pt.slots) && pt.slots[n].open && pt.slots[n].owner == atom
}

// IsOpen reports whether slot n is open.
func (pt *PortTable) IsOpen(n int) bool {
	return n >= 0 && n < len(pt.slots) && pt.slots[n].open
}

// Name returns the name the slot was opened with.
func (pt *PortTable) Name(n int) string {
	if n < 0 || n >= len(pt.slots) {
		return ""
	}
	return pt.slots[n].name
}

// Reader returns the buffered reader of input slot n.
func (pt *PortTable) Reader(n int) (*bufio.Reader, error) {
	if !pt.IsOpen(n) {
		return nil, fmt.Errorf("%w: %d", ErrPortClosed, n)
	}
	if !pt.slots[n].input {
		return nil, fmt.Errorf("%w: %d is an output port", ErrPortDirection, n)
	}
	return pt.slots[n].r, nil
}

// Writer returns the buffered writer of output slot n.
func (pt *PortTable) Writer(n int) (*bufio.Writer, error) {
	if !pt.IsOpen(n) {
		return nil, fmt.Errorf("%w: %d", ErrPortClosed, n)
	}
	if pt.slots[n].input {
		return nil, fmt.Errorf("%w: %d is an input port", ErrPortDirection, n)
	}
	return pt.slots[n].w, nil
}

// Flush flushes output slot n.
func (pt *PortTable) Flush(n int) error {
	w, err := pt.Writer(n)
	if err != nil {
		return err
	}
	return w.Flush()
}

// FlushAll flushes every open output port.
func (pt *PortTable) FlushAll() error {
	var first error
	for i := range pt.slots {
		s := &pt.slots[i]
		if s.open && !s.input {
			if err := s.w.Flush(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Close flushes and closes slot n and frees it. Closing a closed slot or a
// standard stream is a no-op. A closed current port reverts to the
// standard stream.
func (pt *PortTable) Close(n int) error {
	if n < 3 || n >= len(pt.slots) || !pt.slots[n].open {
		return nil
	}
	s := &pt.slots[n]
	var err error
	if s.w != nil {
		err = s.w.Flush()
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	*s = portSlot{owner: heap.Nil}
	pt.in.CompareAndSwap(int32(n), StdinPort)
	pt.out.CompareAndSwap(int32(n), StdoutPort)
	return err
}

// CloseAll closes every non-standard port and flushes the standard ones.
func (pt *PortTable) CloseAll() error {
	var first error
	for i := 3; i < len(pt.slots); i++ {
		if err := pt.Close(i); err != nil && first == nil {
			first = err
		}
	}
	if err := pt.FlushAll(); err != nil && first == nil {
		first = err
	}
	return first
}

// release closes slot n if atom still owns it. It is called by the
// collector for unreachable port atoms.
func (pt *PortTable) release(n int, atom heap.Cell) {
	if n < 3 || n >= len(pt.slots) || pt.slots[n].owner != atom {
		return
	}
	if err := pt.Close(n); err != nil {
		log.Warningf("closing unreachable port %d: %s", n, err)
	}
}

// Detach forgets every owner. Used after an image load, when the atoms of
// the previous heap are gone.
func (pt *PortTable) Detach() {
	for i := range pt.slots {
		pt.slots[i].owner = heap.Nil
	}
}
