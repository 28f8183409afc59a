package vm

import (
	"errors"
	"os/exec"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// System primitives
// ---------------------------------------------------------------------------

var systemPrimitives = []Primitive{
	{Name: "gc", Arity: 0, Fn: primGC},
	{Name: "dump-image", Arity: 1, Optional: true, Fn: primDumpImage},
	{Name: "system", Arity: 1, Fn: primSystem},
	{Name: "command-line", Arity: 0, Fn: primCommandLine},
	{Name: "exit", Arity: 1, Optional: true, Fn: primExit},
	{Name: "error", Arity: 2, Optional: true, Fn: primError},
	{Name: "errtag", Arity: 0, Fn: primErrtag},
	{Name: "seterrtag!", Arity: 1, Fn: primSetErrtag},
	{Name: "eval", Arity: 1, Fn: primEval},
	{Name: "load", Arity: 1, Fn: primLoad},
}

// primGC collects and returns (free-nodes free-vector-cells).
func primGC(m *Machine, args []heap.Cell) (heap.Cell, error) {
	st := m.Heap.Collect()
	b := m.newList()
	b.prepend(m.Heap.MkFixnum(int32(st.FreeVectorCells)))
	b.prepend(m.Heap.MkFixnum(int32(st.FreeNodes)))
	return b.done(), nil
}

func primDumpImage(m *Machine, args []heap.Cell) (heap.Cell, error) {
	p := m.config.ImagePath
	if args[0] != heap.Undef {
		var err error
		if p, err = m.path("dump-image", args[0]); err != nil {
			return heap.Nil, err
		}
	}
	if err := m.DumpImage(p); err != nil {
		return heap.Nil, Errorf(KindResource, "dump-image: %s", err)
	}
	return heap.True, nil
}

// primSystem runs a shell command with the standard streams of the
// machine and returns its exit status.
func primSystem(m *Machine, args []heap.Cell) (heap.Cell, error) {
	command, err := m.path("system", args[0])
	if err != nil {
		return heap.Nil, err
	}
	if err := m.Flush(); err != nil {
		log.Warningf("flushing before system: %s", err)
	}
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdin = m.config.Stdin
	cmd.Stdout = m.config.Stdout
	cmd.Stderr = m.config.Stderr
	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return m.Heap.MkFixnum(0), nil
	case errors.As(err, &exitErr):
		return m.Heap.MkFixnum(int32(exitErr.ExitCode())), nil
	default:
		return heap.Nil, NewCondition(KindResource, "system: "+err.Error(), args[0])
	}
}

func primCommandLine(m *Machine, args []heap.Cell) (heap.Cell, error) {
	b := m.newList()
	for i := len(m.config.Args) - 1; i >= 0; i-- {
		b.prepend(m.Heap.MkString(m.config.Args[i]))
	}
	return b.done(), nil
}

func primExit(m *Machine, args []heap.Cell) (heap.Cell, error) {
	code := 0
	if args[0] != heap.Undef {
		n, err := m.fixnum("exit", args[0])
		if err != nil {
			return heap.Nil, err
		}
		code = int(n)
	}
	return heap.Nil, &Exit{Code: code}
}

// primError raises a user condition. A string message is used as is;
// anything else is printed.
func primError(m *Machine, args []heap.Cell) (heap.Cell, error) {
	msg := m.format(args[0])
	if m.Heap.Is(args[0], heap.TString) {
		msg = m.Heap.StringValue(args[0])
	}
	if args[1] == heap.Undef {
		return heap.Nil, &Condition{Kind: KindUser, Message: msg}
	}
	return heap.Nil, NewCondition(KindUser, msg, args[1])
}

func primErrtag(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return m.errTag, nil
}

// primSetErrtag installs the catch tag that receives raised conditions.
// nil disables handling.
func primSetErrtag(m *Machine, args []heap.Cell) (heap.Cell, error) {
	tag := args[0]
	if tag != heap.Nil && !m.Heap.Is(tag, heap.TCatchTag) {
		return heap.Nil, typeError("seterrtag!", "catch tag", tag)
	}
	m.errTag = tag
	return heap.Undef, nil
}

func primEval(m *Machine, args []heap.Cell) (heap.Cell, error) {
	return m.Eval(args[0])
}

func primLoad(m *Machine, args []heap.Cell) (heap.Cell, error) {
	p, err := m.path("load", args[0])
	if err != nil {
		return heap.Nil, err
	}
	return m.Load(p)
}
