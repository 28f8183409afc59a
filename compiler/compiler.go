// Package compiler translates LS9 forms into bytecode programs for the
// virtual machine.
//
// Compilation runs in three passes:
//   - syntax: macro expansion and desugaring into core AST nodes
//   - semantic: free-variable analysis and closure conversion
//   - codegen: bytecode emission with lexical addressing
package compiler

import (
	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ls9.compiler")

// Compiler implements vm.Compiler.
//
// Forms and macro expansions are kept on a root stack registered with the
// heap while a compilation is in progress, so a collection triggered by a
// macro expander does not reclaim literals the AST still refers to.
type Compiler struct {
	m     *vm.Machine
	h     *heap.Heap
	roots []heap.Cell

	// depth counts nested macro expansions, including those of
	// re-entrant compilations started by an expander.
	depth int
}

var _ vm.Compiler = (*Compiler)(nil)

// New creates a compiler for m. It does not attach itself; set
// m.Compiler.
func New(m *vm.Machine) *Compiler {
	c := &Compiler{m: m, h: m.Heap}
	m.Heap.AddRoots(c)
	return c
}

// Roots implements heap.RootSet.
func (c *Compiler) Roots(mark func(heap.Cell)) {
	for _, r := range c.roots {
		mark(r)
	}
}

func (c *Compiler) push(x heap.Cell) {
	c.roots = append(c.roots, x)
}

// Compile translates form into a program (bytecode . literals).
func (c *Compiler) Compile(form heap.Cell) (heap.Cell, error) {
	mark := len(c.roots)
	defer func() {
		c.roots = c.roots[:mark]
	}()
	c.push(form)

	e, err := c.syntax(form, nil)
	if err != nil {
		return heap.Nil, err
	}
	analyze(e)

	g := newGenerator(c)
	if err := g.program(e); err != nil {
		return heap.Nil, err
	}
	if len(g.lits) > maxOperand {
		return heap.Nil, vm.Errorf(vm.KindResource, "compile: %d literals exceed the operand range", len(g.lits))
	}
	if g.b.Len() > maxOperand {
		return heap.Nil, vm.Errorf(vm.KindResource, "compile: program of %d bytes exceeds the jump range", g.b.Len())
	}
	log.Debugf("compiled %d bytes, %d literals", g.b.Len(), len(g.lits))
	return c.m.NewProgram(g.b.Bytes(), g.lits)
}
