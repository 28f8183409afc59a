package vm

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/chazu/ls9/heap"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ls9.vm")

// Default limits.
const (
	DefaultStackSize     = 65536
	DefaultMaxFrameDepth = 100000
	DefaultMacroDepth    = 2000
	DefaultTraceDepth    = 10
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Reader parses one datum from r. It returns heap.EOFMark at end of input.
type Reader interface {
	Read(r io.RuneScanner) (heap.Cell, error)
}

// Printer writes the external representation of c. display selects the
// human-readable style (strings and characters without quoting).
type Printer interface {
	Print(w io.Writer, c heap.Cell, display bool) error
}

// Compiler translates a form into a program, the pair
// (bytecode . literal-vector).
type Compiler interface {
	Compile(form heap.Cell) (heap.Cell, error)
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds the fixed capacities and limits of a machine.
type Config struct {
	Nodes         int
	VectorCells   int
	Ports         int
	StackSize     int
	MaxFrameDepth int
	MacroDepth    int
	TraceDepth    int

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Args is returned by the command-line primitive.
	Args []string

	// ImagePath is the default target of dump-image.
	ImagePath string

	// CompressImage selects a zstd-compressed image body.
	CompressImage bool
}

// DefaultConfig returns the standard capacities wired to the process
// streams.
func DefaultConfig() Config {
	return Config{
		Nodes:         heap.DefaultNodes,
		VectorCells:   heap.DefaultVectorCells,
		Ports:         DefaultPorts,
		StackSize:     DefaultStackSize,
		MaxFrameDepth: DefaultMaxFrameDepth,
		MacroDepth:    DefaultMacroDepth,
		TraceDepth:    DefaultTraceDepth,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		ImagePath:     "ls9.image",
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Nodes <= 0 {
		c.Nodes = d.Nodes
	}
	if c.VectorCells <= 0 {
		c.VectorCells = d.VectorCells
	}
	if c.Ports <= 0 {
		c.Ports = d.Ports
	}
	if c.StackSize <= 0 {
		c.StackSize = d.StackSize
	}
	if c.MaxFrameDepth <= 0 {
		c.MaxFrameDepth = d.MaxFrameDepth
	}
	if c.MacroDepth <= 0 {
		c.MacroDepth = d.MacroDepth
	}
	if c.TraceDepth <= 0 {
		c.TraceDepth = d.TraceDepth
	}
	if c.Stdin == nil {
		c.Stdin = d.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = d.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = d.Stderr
	}
	if c.ImagePath == "" {
		c.ImagePath = d.ImagePath
	}
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// frame is a saved return point. Halt frames mark the entry of a run
// started from Go; they also save the registers that the run clobbers.
type frame struct {
	ip    int
	prog  heap.Cell
	env   heap.Cell
	base  int
	catch bool // pops the catch chain on return
	halt  bool // returning through it ends the run

	acc     heap.Cell // halt frames only
	catches heap.Cell // halt frames only
	protect int       // halt frames only
}

// Machine is a single LS9 virtual machine owning its heap, symbol table
// and port table.
type Machine struct {
	Heap    *heap.Heap
	Symbols *SymbolTable
	Ports   *PortTable

	Reader   Reader
	Printer  Printer
	Compiler Compiler

	config Config

	// Registers.
	acc     heap.Cell // A
	env     heap.Cell // E
	next    heap.Cell // N, closure environment under construction
	catches heap.Cell // C
	prog    heap.Cell // (bytecode . literals)
	ip      int
	argc    int

	stack  []heap.Cell
	sp     int
	frames []frame

	runBase int       // halt frame of the innermost run
	result  heap.Cell // value of the run that just ended

	code     []byte // bytecode of prog
	lits     heap.Cell
	codeAtom heap.Cell
	codeGen  uint64
	cache    map[heap.Cell][]byte

	protected []heap.Cell

	errTag   heap.Cell
	throwTag heap.Cell
	throwVal heap.Cell

	stdPorts [3]heap.Cell

	trace    []heap.Cell // ring of applied global boxes
	tracePos int
	lastRef  heap.Cell

	interrupt atomic.Bool
}

// New creates a machine. Zero fields of cfg take their defaults.
func New(cfg Config) *Machine {
	cfg.fillDefaults()
	h := heap.New(cfg.Nodes, cfg.VectorCells)
	m := &Machine{
		Heap:     h,
		Symbols:  NewSymbolTable(h),
		Ports:    NewPortTable(cfg.Ports, cfg.Stdin, cfg.Stdout, cfg.Stderr),
		config:   cfg,
		acc:      heap.Nil,
		env:      heap.Nil,
		next:     heap.Nil,
		catches:  heap.Nil,
		prog:     heap.Nil,
		lits:     heap.Nil,
		codeAtom: heap.Nil,
		stack:    make([]heap.Cell, cfg.StackSize),
		frames:   make([]frame, 0, 64),
		cache:    make(map[heap.Cell][]byte),
		errTag:   heap.Nil,
		throwTag: heap.Nil,
		throwVal: heap.Nil,
		trace:    make([]heap.Cell, cfg.TraceDepth),
		lastRef:  heap.Nil,
		result:   heap.Nil,
	}
	for i := range m.trace {
		m.trace[i] = heap.Nil
	}
	h.AddRoots(m.Symbols)
	h.AddRoots(heap.RootFunc(m.roots))
	h.SetFinalizer(m)
	m.attachStdPorts()
	return m
}

// Config returns the configuration the machine was built with.
func (m *Machine) Config() Config {
	return m.config
}

// roots marks every register of the machine.
func (m *Machine) roots(mark func(heap.Cell)) {
	mark(m.acc)
	mark(m.env)
	mark(m.next)
	mark(m.catches)
	mark(m.prog)
	mark(m.errTag)
	mark(m.throwTag)
	mark(m.throwVal)
	mark(m.lastRef)
	for _, c := range m.stack[:m.sp] {
		mark(c)
	}
	for i := range m.frames {
		f := &m.frames[i]
		mark(f.prog)
		mark(f.env)
		if f.halt {
			mark(f.acc)
			mark(f.catches)
		}
	}
	for _, c := range m.protected {
		mark(c)
	}
	for _, c := range m.trace {
		mark(c)
	}
}

// Finalize implements heap.Finalizer by closing the slot of an unreachable
// port atom.
func (m *Machine) Finalize(c heap.Cell) {
	m.Ports.release(m.Heap.PortNo(c), c)
}

// attachStdPorts creates locked atoms for the standard streams.
func (m *Machine) attachStdPorts() {
	for n := StdinPort; n <= StderrPort; n++ {
		t := heap.TOutPort
		if n == StdinPort {
			t = heap.TInPort
		}
		a := m.Heap.MkPort(t, n)
		m.Heap.Lock(a)
		m.Ports.Attach(n, a)
		m.stdPorts[n] = a
	}
}

// Protect keeps c alive across allocations until the matching Unprotect.
func (m *Machine) Protect(c heap.Cell) {
	m.protected = append(m.protected, c)
}

// Unprotect releases the n most recent Protect calls.
func (m *Machine) Unprotect(n int) {
	m.protected = m.protected[:len(m.protected)-n]
}

// Intern returns the symbol named name.
func (m *Machine) Intern(name string) heap.Cell {
	return m.Symbols.Intern(name)
}

// Interrupt requests that the running program stop at the next
// instruction with a control condition. Safe to call from any goroutine.
func (m *Machine) Interrupt() {
	m.interrupt.Store(true)
}

// ErrorTag returns the active error catch tag, or Nil.
func (m *Machine) ErrorTag() heap.Cell {
	return m.errTag
}

// MacroDepth returns the macro expansion ceiling.
func (m *Machine) MacroDepth() int {
	return m.config.MacroDepth
}

// FrameDepth returns the number of active call frames.
func (m *Machine) FrameDepth() int {
	return len(m.frames)
}

// StackDepth returns the number of occupied operand stack slots.
func (m *Machine) StackDepth() int {
	return m.sp
}

// Flush flushes every output port.
func (m *Machine) Flush() error {
	return m.Ports.FlushAll()
}

// Close closes every port.
func (m *Machine) Close() error {
	return m.Ports.CloseAll()
}
