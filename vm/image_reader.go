package vm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// ImageReader: Reads and validates a heap image
// ---------------------------------------------------------------------------

// ImageReader decodes an image into a detached snapshot. Nothing touches
// a live heap until the snapshot has been fully validated.
type ImageReader struct {
	header   *ImageHeader
	snapshot heap.Snapshot
}

// ReadImage decodes an image from r.
func ReadImage(r io.Reader) (*ImageReader, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}
	if magic != ImageMagic {
		return nil, ErrInvalidMagic
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrCorruptHeader, n)
	}
	meta := make([]byte, n)
	if _, err := io.ReadFull(br, meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	hdr, err := unmarshalHeader(meta)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(hdr); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	body := data
	if hdr.Flags&ImageFlagCompressed != 0 {
		if body, err = decompressBody(data, hdr.BodySize); err != nil {
			return nil, err
		}
	}
	if len(body) != hdr.BodySize {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorruptData, len(body), hdr.BodySize)
	}
	if sum := checksum(body); sum != hdr.Checksum {
		return nil, fmt.Errorf("%w: got %016x, want %016x", ErrChecksumMismatch, sum, hdr.Checksum)
	}
	s, err := decodeBody(body, hdr)
	if err != nil {
		return nil, err
	}
	ir := &ImageReader{header: hdr, snapshot: s}
	if err := ir.validate(); err != nil {
		return nil, err
	}
	return ir, nil
}

// Header returns the decoded header.
func (ir *ImageReader) Header() *ImageHeader {
	return ir.header
}

// validate checks pool structure, the symbol and macro lists, and every
// bytecode atom.
func (ir *ImageReader) validate() error {
	h, err := heap.FromSnapshot(ir.snapshot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if err := h.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if err := checkBindings(h, heap.Cell(ir.header.Symbols), "symbol"); err != nil {
		return err
	}
	if err := checkBindings(h, heap.Cell(ir.header.Macros), "macro"); err != nil {
		return err
	}
	return h.EachAtom(heap.TBytecode, func(c heap.Cell) error {
		if err := Validate(h.Bytes(c)); err != nil {
			return fmt.Errorf("bytecode atom %d: %w", c, err)
		}
		return nil
	})
}

// checkBindings verifies that l is a proper list of (symbol . value) pairs.
func checkBindings(h *heap.Heap, l heap.Cell, what string) error {
	seen := 0
	for ; l != heap.Nil; l = h.Cdr(l) {
		if !h.IsPair(l) {
			return fmt.Errorf("%w: %s list is not a proper list", ErrCorruptData, what)
		}
		b := h.Car(l)
		if !h.IsPair(b) || !h.Is(h.Car(b), heap.TSymbol) {
			return fmt.Errorf("%w: malformed %s binding at node %d", ErrCorruptData, what, b)
		}
		if seen++; seen > h.Nodes() {
			return fmt.Errorf("%w: %s list is circular", ErrCorruptData, what)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading into a machine
// ---------------------------------------------------------------------------

// Install replaces the heap of m with the image. It must not be called
// while a program is running. Open ports are closed; the standard streams
// get fresh port atoms.
func (ir *ImageReader) Install(m *Machine) error {
	if len(m.frames) > 0 {
		return errors.New("cannot load an image while a program is running")
	}
	hdr := ir.header
	if hdr.Nodes != m.Heap.Nodes() || hdr.VectorCells != m.Heap.VectorCells() {
		return fmt.Errorf("%w: image has %d nodes and %d vector cells, heap has %d and %d",
			ErrCapacityMismatch, hdr.Nodes, hdr.VectorCells, m.Heap.Nodes(), m.Heap.VectorCells())
	}
	if err := m.Heap.Restore(ir.snapshot); err != nil {
		return fmt.Errorf("%w: %v", ErrCapacityMismatch, err)
	}
	m.Symbols.restore(heap.Cell(hdr.Symbols), heap.Cell(hdr.Macros), hdr.Gensym)
	m.resetRegisters()
	if err := m.Ports.CloseAll(); err != nil {
		log.Warningf("closing ports before image load: %s", err)
	}
	m.Ports.Detach()
	m.attachStdPorts()
	return nil
}

// resetRegisters clears every register and cache that may refer to the
// previous heap.
func (m *Machine) resetRegisters() {
	m.acc = heap.Nil
	m.env = heap.Nil
	m.next = heap.Nil
	m.catches = heap.Nil
	m.prog = heap.Nil
	m.code = nil
	m.lits = heap.Nil
	m.codeAtom = heap.Nil
	m.cache = make(map[heap.Cell][]byte)
	m.ip = 0
	m.sp = 0
	m.protected = m.protected[:0]
	m.errTag = heap.Nil
	m.throwTag = heap.Nil
	m.throwVal = heap.Nil
	m.lastRef = heap.Nil
	m.result = heap.Nil
	for i := range m.trace {
		m.trace[i] = heap.Nil
	}
	m.tracePos = 0
}

// LoadImage replaces the heap of m with the image at path. A malformed
// image leaves the machine untouched and returns an error wrapping
// ErrFormat.
func (m *Machine) LoadImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ir, err := ReadImage(f)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	if err := ir.Install(m); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	log.Infof("loaded image %s from %s (%d nodes in use, %d symbols)",
		ir.header.ID, path, usedNodes(ir.snapshot), m.Symbols.Len())
	return nil
}
