package vm

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// Port primitives
// ---------------------------------------------------------------------------

// Port arguments marked optional default to the current input or output
// port. A port atom whose slot has been closed or reused is stale: using
// it is a resource condition and closing it does nothing.

var portPrimitives = []Primitive{
	{Name: "input-port?", Arity: 1, Fn: primInputPortP},
	{Name: "output-port?", Arity: 1, Fn: primOutputPortP},
	{Name: "current-input-port", Arity: 0, Fn: primCurrentInputPort},
	{Name: "current-output-port", Arity: 0, Fn: primCurrentOutputPort},
	{Name: "set-input-port!", Arity: 1, Fn: primSetInputPort},
	{Name: "set-output-port!", Arity: 1, Fn: primSetOutputPort},
	{Name: "open-input-file", Arity: 1, Fn: primOpenInputFile},
	{Name: "open-output-file", Arity: 1, Fn: openOutput("open-output-file", false)},
	{Name: "open-append-file", Arity: 1, Fn: openOutput("open-append-file", true)},
	{Name: "close-port", Arity: 1, Fn: primClosePort},
	{Name: "read", Arity: 1, Optional: true, Fn: primRead},
	{Name: "read-char", Arity: 1, Optional: true, Fn: primReadChar},
	{Name: "peek-char", Arity: 1, Optional: true, Fn: primPeekChar},
	{Name: "write", Arity: 2, Optional: true, Fn: printer("write", false)},
	{Name: "display", Arity: 2, Optional: true, Fn: printer("display", true)},
	{Name: "write-char", Arity: 2, Optional: true, Fn: primWriteChar},
	{Name: "newline", Arity: 1, Optional: true, Fn: primNewline},
	{Name: "flush", Arity: 1, Optional: true, Fn: primFlush},
	{Name: "eof-object?", Arity: 1, Fn: primEOFObjectP},
	{Name: "file-exists?", Arity: 1, Fn: primFileExistsP},
	{Name: "delete-file", Arity: 1, Fn: primDeleteFile},
	{Name: "rename-file", Arity: 2, Fn: primRenameFile},
}

// portAtom returns the atom wrapping slot n, creating it on first use.
func (m *Machine) portAtom(n int) heap.Cell {
	if a := m.Ports.Owner(n); a != heap.Nil {
		return a
	}
	t := heap.TOutPort
	if _, err := m.Ports.Reader(n); err == nil {
		t = heap.TInPort
	}
	a := m.Heap.MkPort(t, n)
	m.Ports.Attach(n, a)
	return a
}

// portArg resolves a port argument of type t to its slot.
func (m *Machine) portArg(who string, c, t heap.Cell) (int, error) {
	if c == heap.Undef {
		if t == heap.TInPort {
			return m.Ports.Input(), nil
		}
		return m.Ports.Output(), nil
	}
	if !m.Heap.Is(c, t) {
		return 0, typeError(who, heap.TypeName(t), c)
	}
	n := m.Heap.PortNo(c)
	if !m.Ports.Owns(n, c) {
		return 0, NewCondition(KindResource, who+": port is closed", c)
	}
	return n, nil
}

func (m *Machine) inputPort(who string, c heap.Cell) (*bufio.Reader, error) {
	n, err := m.portArg(who, c, heap.TInPort)
	if err != nil {
		return nil, err
	}
	r, err := m.Ports.Reader(n)
	if err != nil {
		return nil, NewCondition(KindResource, who+": "+err.Error(), c)
	}
	return r, nil
}

// outputPort returns the writer for c and a function that finishes the
// write. The standard streams are flushed after every write.
func (m *Machine) outputPort(who string, c heap.Cell) (*bufio.Writer, func(error) error, error) {
	n, err := m.portArg(who, c, heap.TOutPort)
	if err != nil {
		return nil, nil, err
	}
	w, err := m.Ports.Writer(n)
	if err != nil {
		return nil, nil, NewCondition(KindResource, who+": "+err.Error(), c)
	}
	finish := func(err error) error {
		if err == nil && n <= StderrPort {
			err = w.Flush()
		}
		if err != nil {
			return Errorf(KindResource, "%s: %s", who, err)
		}
		return nil
	}
	return w, finish, nil
}

// path extracts a file name argument.
func (m *Machine) path(who string, c heap.Cell) (string, error) {
	if err := m.str(who, c); err != nil {
		return "", err
	}
	return m.Heap.StringValue(c), nil
}

// openPort runs open, collecting once when the table is full so slots of
// unreachable port atoms are released first.
func (m *Machine) openPort(open func() (int, error)) (int, error) {
	n, err := open()
	if !errors.Is(err, ErrPortTableFull) {
		return n, err
	}
	log.Debugf("port table full, collecting")
	m.Heap.Collect()
	return open()
}

func fileError(who string, err error, c heap.Cell) *Condition {
	var pe *os.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return NewCondition(KindResource, who+": "+err.Error(), c)
}

func primInputPortP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TInPort)), nil
}

func primOutputPortP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(m.Heap.Is(args[0], heap.TOutPort)), nil
}

func primCurrentInputPort(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return m.portAtom(m.Ports.Input()), nil
}

func primCurrentOutputPort(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return m.portAtom(m.Ports.Output()), nil
}

func primSetInputPort(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.portArg("set-input-port!", args[0], heap.TInPort)
	if err != nil {
		return heap.Nil, err
	}
	m.Ports.SetInput(n)
	return heap.Undef, nil
}

func primSetOutputPort(m *Machine, args []heap.Cell) (heap.Cell, error) {
	n, err := m.portArg("set-output-port!", args[0], heap.TOutPort)
	if err != nil {
		return heap.Nil, err
	}
	m.Ports.SetOutput(n)
	return heap.Undef, nil
}

func primOpenInputFile(m *Machine, args []heap.Cell) (heap.Cell, error) {
	p, err := m.path("open-input-file", args[0])
	if err != nil {
		return heap.Nil, err
	}
	n, err := m.openPort(func() (int, error) { return m.Ports.OpenInput(p) })
	if err != nil {
		return heap.Nil, fileError("open-input-file", err, args[0])
	}
	return m.portAtom(n), nil
}

func openOutput(who string, appending bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		p, err := m.path(who, args[0])
		if err != nil {
			return heap.Nil, err
		}
		n, err := m.openPort(func() (int, error) { return m.Ports.OpenOutput(p, appending) })
		if err != nil {
			return heap.Nil, fileError(who, err, args[0])
		}
		return m.portAtom(n), nil
	}
}

func primClosePort(m *Machine, args []heap.Cell) (heap.Cell, error) {
	c := args[0]
	if !m.Heap.Is(c, heap.TInPort) && !m.Heap.Is(c, heap.TOutPort) {
		return heap.Nil, typeError("close-port", "port", c)
	}
	n := m.Heap.PortNo(c)
	if m.Ports.Owns(n, c) {
		if err := m.Ports.Close(n); err != nil {
			return heap.Nil, fileError("close-port", err, c)
		}
	}
	return heap.Undef, nil
}

func primRead(m *Machine, args []heap.Cell) (heap.Cell, error) {
	if m.Reader == nil {
		return heap.Nil, ErrNoReader
	}
	r, err := m.inputPort("read", args[0])
	if err != nil {
		return heap.Nil, err
	}
	form, err := m.Reader.Read(r)
	if err != nil {
		var cond *Condition
		if errors.As(err, &cond) {
			return heap.Nil, cond
		}
		return heap.Nil, Errorf(KindSyntax, "read: %s", err)
	}
	return form, nil
}

func primReadChar(m *Machine, args []heap.Cell) (heap.Cell, error) {
	r, err := m.inputPort("read-char", args[0])
	if err != nil {
		return heap.Nil, err
	}
	ch, _, err := r.ReadRune()
	if err == io.EOF {
		return heap.EOFMark, nil
	}
	if err != nil {
		return heap.Nil, Errorf(KindResource, "read-char: %s", err)
	}
	return m.Heap.MkChar(ch), nil
}

func primPeekChar(m *Machine, args []heap.Cell) (heap.Cell, error) {
	r, err := m.inputPort("peek-char", args[0])
	if err != nil {
		return heap.Nil, err
	}
	ch, _, err := r.ReadRune()
	if err == io.EOF {
		return heap.EOFMark, nil
	}
	if err != nil {
		return heap.Nil, Errorf(KindResource, "peek-char: %s", err)
	}
	_ = r.UnreadRune()
	return m.Heap.MkChar(ch), nil
}

func printer(who string, display bool) PrimitiveFunc {
	return func(m *Machine, args []heap.Cell) (heap.Cell, error) {
		w, finish, err := m.outputPort(who, args[1])
		if err != nil {
			return heap.Nil, err
		}
		if m.Printer == nil {
			_, err = w.WriteString(args[0].String())
			return heap.Undef, finish(err)
		}
		if err := m.Printer.Print(w, args[0], display); err != nil {
			var cond *Condition
			if errors.As(err, &cond) {
				return heap.Nil, cond
			}
			return heap.Nil, NewCondition(KindRange, who+": "+err.Error(), args[0])
		}
		return heap.Undef, finish(nil)
	}
}

func primWriteChar(m *Machine, args []heap.Cell) (heap.Cell, error) {
	ch, err := m.char("write-char", args[0])
	if err != nil {
		return heap.Nil, err
	}
	w, finish, err := m.outputPort("write-char", args[1])
	if err != nil {
		return heap.Nil, err
	}
	_, err = w.WriteRune(ch)
	return heap.Undef, finish(err)
}

func primNewline(m *Machine, args []heap.Cell) (heap.Cell, error) {
	w, finish, err := m.outputPort("newline", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return heap.Undef, finish(w.WriteByte('\n'))
}

func primFlush(m *Machine, args []heap.Cell) (heap.Cell, error) {
	w, finish, err := m.outputPort("flush", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return heap.Undef, finish(w.Flush())
}

func primEOFObjectP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return boolean(args[0] == heap.EOFMark), nil
}

func primFileExistsP(m *Machine, args []heap.Cell) (heap.Cell, error) {
	p, err := m.path("file-exists?", args[0])
	if err != nil {
		return heap.Nil, err
	}
	_, err = os.Stat(p)
	return boolean(err == nil), nil
}

func primDeleteFile(m *Machine, args []heap.Cell) (heap.Cell, error) {
	p, err := m.path("delete-file", args[0])
	if err != nil {
		return heap.Nil, err
	}
	if err := os.Remove(p); err != nil {
		return heap.Nil, fileError("delete-file", err, args[0])
	}
	return heap.Undef, nil
}

func primRenameFile(m *Machine, args []heap.Cell) (heap.Cell, error) {
	from, err := m.path("rename-file", args[0])
	if err != nil {
		return heap.Nil, err
	}
	to, err := m.path("rename-file", args[1])
	if err != nil {
		return heap.Nil, err
	}
	if err := os.Rename(from, to); err != nil {
		return heap.Nil, fileError("rename-file", err, args[0])
	}
	return heap.Undef, nil
}
