package printer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

func newPrinter(t *testing.T) (*vm.Machine, *Printer) {
	t.Helper()
	m := vm.New(vm.Config{Nodes: 4096, VectorCells: 16384})
	p := New(m)
	m.Printer = p
	return m, p
}

func render(t *testing.T, p *Printer, c heap.Cell, display bool) string {
	t.Helper()
	var buf bytes.Buffer
	if err := p.Print(&buf, c, display); err != nil {
		t.Fatalf("Print: %v", err)
	}
	return buf.String()
}

func TestPrintAtoms(t *testing.T) {
	m, p := newPrinter(t)
	h := m.Heap
	in, err := m.Ports.OpenReader("test", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cell heap.Cell
		want string
	}{
		{"nil", heap.Nil, "nil"},
		{"true", heap.True, "t"},
		{"eof", heap.EOFMark, "#<eof>"},
		{"undefined", heap.Undef, "#<undefined>"},
		{"fixnum", h.MkFixnum(-15), "-15"},
		{"symbol", m.Intern("hello"), "hello"},
		{"char", h.MkChar('a'), `#\a`},
		{"named char", h.MkChar(' '), `#\space`},
		{"control char", h.MkChar(1), `#\x1`},
		{"string", h.MkString("hi"), `"hi"`},
		{"input port", h.MkPort(heap.TInPort, in), "#<input-port 3>"},
		{"output port", h.MkPort(heap.TOutPort, 1), "#<output-port 1>"},
		{"bytecode", h.MkBytes(heap.TBytecode, []byte{0}), "#<bytecode>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, p, tt.cell, false); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPrintStringEscapes(t *testing.T) {
	m, p := newPrinter(t)
	s := m.Heap.MkString("a\"b\\c\nd\te\x01")
	want := `"a\"b\\c\nd\te\x01"`
	if got := render(t, p, s, false); got != want {
		t.Errorf("write: got %s, want %s", got, want)
	}
	if got := render(t, p, s, true); got != "a\"b\\c\nd\te\x01" {
		t.Errorf("display: got %q", got)
	}
}

func TestDisplayChar(t *testing.T) {
	m, p := newPrinter(t)
	if got := render(t, p, m.Heap.MkChar('x'), true); got != "x" {
		t.Errorf("got %q, want x", got)
	}
}

func TestPrintLists(t *testing.T) {
	m, p := newPrinter(t)
	h := m.Heap
	a, b, c := m.Intern("a"), m.Intern("b"), m.Intern("c")

	proper := h.List(a, b, c)
	m.Protect(proper)
	dotted := h.Cons(a, h.Cons(b, c))
	m.Protect(dotted)
	nested := h.List(proper, heap.Nil, dotted)
	m.Protect(nested)
	quoted := h.List(m.Intern("quote"), a)
	m.Protect(quoted)
	quoteLong := h.List(m.Intern("quote"), a, b)
	m.Protect(quoteLong)
	vec := h.MkVector(2, a)
	m.Protect(vec)
	defer m.Unprotect(6)

	tests := []struct {
		cell heap.Cell
		want string
	}{
		{proper, "(a b c)"},
		{dotted, "(a b . c)"},
		{nested, "((a b c) nil (a b . c))"},
		{quoted, "'a"},
		{quoteLong, "(quote a b)"},
		{vec, "#(a a)"},
	}
	for _, tt := range tests {
		if got := render(t, p, tt.cell, false); got != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
}

func TestPrintCircularList(t *testing.T) {
	m, p := newPrinter(t)
	h := m.Heap
	for _, n := range []int{1, 2, 3, 7} {
		xs := make([]heap.Cell, n)
		for i := range xs {
			xs[i] = h.MkFixnum(int32(i))
			m.Protect(xs[i])
		}
		l := h.List(xs...)
		m.Unprotect(n)
		last := l
		for h.Cdr(last) != heap.Nil {
			last = h.Cdr(last)
		}
		h.SetCdr(last, l)

		got := render(t, p, l, false)
		if len(got) < 5 || got[len(got)-5:] != " ...)" {
			t.Errorf("cycle of %d printed as %s", n, got)
		}
	}
}

func TestPrintDepthCeiling(t *testing.T) {
	m, p := newPrinter(t)
	p.MaxDepth = 50
	h := m.Heap

	l := heap.Nil
	for i := 0; i < 60; i++ {
		l = h.Cons(l, heap.Nil)
	}
	var buf bytes.Buffer
	err := p.Print(&buf, l, false)
	var cond *vm.Condition
	if !errors.As(err, &cond) {
		t.Fatalf("err = %v, want a condition", err)
	}
	if buf.Len() != 0 {
		t.Errorf("partial output written: %q", buf.String())
	}

	// A car cycle is caught by the same ceiling.
	c := h.Cons(heap.Nil, heap.Nil)
	h.SetCar(c, c)
	if err := p.Print(&buf, c, false); err == nil {
		t.Error("expected error for car cycle")
	}
}

func TestPrintClosureAndTag(t *testing.T) {
	m, p := newPrinter(t)
	b := vm.NewBytecodeBuilder()
	b.Emit(vm.OpMKENV, 0)
	b.Emit(vm.OpCLOSURE, 0)
	b.Emit(vm.OpHALT)
	prog, err := m.NewProgram(b.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	fn, err := m.Run(prog)
	if err != nil {
		t.Fatal(err)
	}
	if got := render(t, p, fn, false); got != "#<procedure>" {
		t.Errorf("got %s", got)
	}
	tag := m.Heap.Atom(heap.TCatchTag, heap.Nil)
	if got := render(t, p, tag, false); got != "#<catch-tag>" {
		t.Errorf("got %s", got)
	}
}

func TestSprint(t *testing.T) {
	m, p := newPrinter(t)
	s, err := p.Sprint(m.Heap.MkString("x"))
	if err != nil || s != `"x"` {
		t.Errorf("Sprint = %s, %v", s, err)
	}
}
