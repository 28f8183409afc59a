package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// Evaluation entry points
// ---------------------------------------------------------------------------

// guard runs f and converts a heap exhaustion panic raised outside the
// interpreter loop (reading or compiling) into ErrHeapExhausted.
func (m *Machine) guard(f func() error) (err error) {
	depth := len(m.protected)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(*heap.Exhausted)
		if !ok {
			panic(r)
		}
		log.Errorf("%s", e)
		m.protected = m.protected[:depth]
		err = fmt.Errorf("%w: %s pool", ErrHeapExhausted, e.Pool)
	}()
	return f()
}

// Compile translates form with the attached compiler.
func (m *Machine) Compile(form heap.Cell) (heap.Cell, error) {
	if m.Compiler == nil {
		return heap.Nil, ErrNoCompiler
	}
	prog := heap.Nil
	err := m.guard(func() error {
		m.Protect(form)
		defer m.Unprotect(1)
		var err error
		prog, err = m.Compiler.Compile(form)
		return err
	})
	return prog, m.settle(err)
}

// Eval compiles and runs form.
func (m *Machine) Eval(form heap.Cell) (heap.Cell, error) {
	prog, err := m.Compile(form)
	if err != nil {
		return heap.Nil, err
	}
	return m.Run(prog)
}

// ReadForm reads one datum with the attached reader. It returns
// heap.EOFMark at end of input.
func (m *Machine) ReadForm(r io.RuneScanner) (heap.Cell, error) {
	if m.Reader == nil {
		return heap.Nil, ErrNoReader
	}
	form := heap.Nil
	err := m.guard(func() error {
		var err error
		form, err = m.Reader.Read(r)
		return err
	})
	return form, m.settle(err)
}

// EvalReader evaluates every form read from r and returns the value of the
// last one. Evaluation stops at the first error.
func (m *Machine) EvalReader(r io.RuneScanner) (heap.Cell, error) {
	m.Protect(heap.Nil)
	slot := len(m.protected) - 1
	defer m.Unprotect(1)
	for {
		form, err := m.ReadForm(r)
		if err != nil {
			return heap.Nil, err
		}
		if form == heap.EOFMark {
			return m.protected[slot], nil
		}
		v, err := m.Eval(form)
		if err != nil {
			return heap.Nil, err
		}
		m.protected[slot] = v
	}
}

// EvalString evaluates every form in src.
func (m *Machine) EvalString(src string) (heap.Cell, error) {
	return m.EvalReader(strings.NewReader(src))
}

// Load evaluates the forms of a source file.
func (m *Machine) Load(path string) (heap.Cell, error) {
	f, err := os.Open(path)
	if err != nil {
		return heap.Nil, m.settle(Errorf(KindResource, "load: %s", err))
	}
	defer f.Close()
	log.Infof("loading %s", path)
	return m.EvalReader(bufio.NewReader(f))
}

// NewProgram assembles a program from bytecode and literals after
// validating the code. The literals must be rooted by the caller.
func (m *Machine) NewProgram(code []byte, literals []heap.Cell) (heap.Cell, error) {
	if err := Validate(code); err != nil {
		return heap.Nil, err
	}
	h := m.Heap
	lits := h.MkVector(len(literals), heap.Nil)
	for i, l := range literals {
		h.VectorSet(lits, i, l)
	}
	m.Protect(lits)
	defer m.Unprotect(1)
	bc := h.MkBytes(heap.TBytecode, code)
	return h.Cons(bc, lits), nil
}
