package compiler

import (
	"fmt"

	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

// maxOperand is the largest value of a 16-bit instruction operand.
const maxOperand = 0xFFFF

// ---------------------------------------------------------------------------
// Codegen: Compile core expressions to bytecode
// ---------------------------------------------------------------------------

// generator emits the bytecode of one top-level form. Every lambda of the
// form is emitted inline, so all closures share the form's program.
type generator struct {
	c    *Compiler
	b    *vm.BytecodeBuilder
	lits []heap.Cell

	litIndex map[heap.Cell]int
}

func newGenerator(c *Compiler) *generator {
	return &generator{
		c:        c,
		b:        vm.NewBytecodeBuilder(),
		litIndex: make(map[heap.Cell]int),
	}
}

// literal returns the index of x in the literal vector, adding it if
// needed.
func (g *generator) literal(x heap.Cell) int {
	if i, ok := g.litIndex[x]; ok {
		return i
	}
	i := len(g.lits)
	g.lits = append(g.lits, x)
	g.litIndex[x] = i
	return i
}

// global returns the literal index of the binding box of sym.
func (g *generator) global(sym heap.Cell) int {
	return g.literal(g.c.m.Symbols.Box(sym))
}

// program emits a top-level form followed by HALT.
func (g *generator) program(e Expr) error {
	if err := g.gen(e, nil, false); err != nil {
		return err
	}
	g.b.Emit(vm.OpHALT)
	return nil
}

// gen emits e as code of fn (nil at top level). The value of e is left in
// the accumulator. In tail position calls reuse the current frame.
func (g *generator) gen(e Expr, fn *Lambda, tail bool) error {
	b := g.b
	switch n := e.(type) {
	case *Const:
		b.Emit(vm.OpQUOTE, g.literal(n.Value))

	case *VarRef:
		if n.Var == nil {
			b.Emit(vm.OpGREF, g.global(n.Sym))
			return nil
		}
		d, i, err := g.address(n.Var, fn)
		if err != nil {
			return err
		}
		if d == 0 {
			b.Emit(vm.OpARG, i)
		} else {
			b.Emit(vm.OpREF, d, i)
		}

	case *SetVar:
		if err := g.gen(n.Value, fn, false); err != nil {
			return err
		}
		if n.Var == nil {
			b.Emit(vm.OpGSET, g.global(n.Sym))
			return nil
		}
		d, i, err := g.address(n.Var, fn)
		if err != nil {
			return err
		}
		if d == 0 {
			b.Emit(vm.OpSETARG, i)
		} else {
			b.Emit(vm.OpSETREF, d, i)
		}

	case *Define:
		if err := g.gen(n.Value, fn, false); err != nil {
			return err
		}
		b.Emit(vm.OpDEF, g.global(n.Sym))

	case *MacroDef:
		if err := g.gen(n.Fn, fn, false); err != nil {
			return err
		}
		b.Emit(vm.OpMACRO, g.literal(n.Sym))

	case *If:
		elseLabel := b.NewLabel()
		endLabel := b.NewLabel()
		if err := g.gen(n.Test, fn, false); err != nil {
			return err
		}
		b.EmitJump(vm.OpBRF, elseLabel)
		if err := g.gen(n.Then, fn, tail); err != nil {
			return err
		}
		b.EmitJump(vm.OpJMP, endLabel)
		b.Mark(elseLabel)
		if err := g.gen(n.Else, fn, tail); err != nil {
			return err
		}
		b.Mark(endLabel)

	case *Seq:
		if len(n.Body) == 0 {
			b.Emit(vm.OpQUOTE, g.literal(heap.Undef))
			return nil
		}
		last := len(n.Body) - 1
		for i, x := range n.Body {
			if err := g.gen(x, fn, tail && i == last); err != nil {
				return err
			}
		}

	case *And:
		return g.shortCircuit(vm.OpBRF, n.Exprs, fn, tail)

	case *Or:
		return g.shortCircuit(vm.OpBRT, n.Exprs, fn, tail)

	case *Lambda:
		return g.lambda(n, fn)

	case *Call:
		if err := g.pushAll(n.Args, fn); err != nil {
			return err
		}
		if err := g.gen(n.Fn, fn, false); err != nil {
			return err
		}
		if tail && fn != nil {
			b.Emit(vm.OpTAILAPP, len(n.Args))
		} else {
			b.Emit(vm.OpAPPLY, len(n.Args))
		}

	case *PrimCall:
		return g.primCall(n, fn)

	case *Apply:
		if err := g.pushAll(n.Args, fn); err != nil {
			return err
		}
		if err := g.gen(n.Fn, fn, false); err != nil {
			return err
		}
		if tail && fn != nil {
			b.Emit(vm.OpAPPLIST, len(n.Args))
		} else {
			b.Emit(vm.OpAPPLIS, len(n.Args))
		}

	case *Catch:
		if err := g.gen(n.Fn, fn, false); err != nil {
			return err
		}
		b.Emit(vm.OpCATCHSTAR)

	case *Throw:
		if err := g.gen(n.Tag, fn, false); err != nil {
			return err
		}
		b.Emit(vm.OpPUSH)
		if err := g.gen(n.Value, fn, false); err != nil {
			return err
		}
		b.Emit(vm.OpTHROWSTAR)

	default:
		return fmt.Errorf("compiler: unknown expression %T", e)
	}
	return nil
}

// address resolves v inside the frames visible to fn.
func (g *generator) address(v *Variable, fn *Lambda) (int, int, error) {
	d, i, ok := resolve(v, layout(fn))
	if !ok {
		return 0, 0, fmt.Errorf("compiler: variable %s not visible", v.Name)
	}
	return d, i, nil
}

// pushAll evaluates es left to right onto the operand stack.
func (g *generator) pushAll(es []Expr, fn *Lambda) error {
	for _, e := range es {
		if err := g.gen(e, fn, false); err != nil {
			return err
		}
		g.b.Emit(vm.OpPUSH)
	}
	return nil
}

// shortCircuit emits and/or: each value but the last branches to the end
// when br fires, leaving that value in the accumulator.
func (g *generator) shortCircuit(br vm.Opcode, es []Expr, fn *Lambda, tail bool) error {
	end := g.b.NewLabel()
	last := len(es) - 1
	for i, e := range es {
		if err := g.gen(e, fn, tail && i == last); err != nil {
			return err
		}
		if i < last {
			g.b.EmitJump(br, end)
		}
	}
	g.b.Mark(end)
	return nil
}

// primCall emits an inlined primitive. Arguments are stacked in order
// with the last one left in the accumulator; an omitted optional
// argument is Undef.
func (g *generator) primCall(n *PrimCall, fn *Lambda) error {
	b := g.b
	arity := n.Prim.Arity
	for i, a := range n.Args {
		if err := g.gen(a, fn, false); err != nil {
			return err
		}
		if i < arity-1 {
			b.Emit(vm.OpPUSH)
		}
	}
	if len(n.Args) < arity {
		b.Emit(vm.OpQUOTE, g.literal(heap.Undef))
	}
	b.Emit(n.Prim.Op)
	return nil
}

// lambda emits the body of l out of line, then the code that builds its
// closure in the frames of fn.
func (g *generator) lambda(l *Lambda, fn *Lambda) error {
	b := g.b
	skip := b.NewLabel()
	b.EmitJump(vm.OpJMP, skip)

	entry := b.NewLabel()
	b.Mark(entry)
	if l.Rest {
		b.Emit(vm.OpENTCOL, l.Required())
	} else {
		b.Emit(vm.OpENTER, len(l.Params))
	}
	if err := g.gen(l.Body, l, true); err != nil {
		return err
	}
	b.Emit(vm.OpRETURN)
	b.Mark(skip)

	if l.Flat {
		b.Emit(vm.OpMKENV, len(l.Free))
		for j, v := range l.Free {
			d, i, err := g.address(v, fn)
			if err != nil {
				return err
			}
			if d == 0 {
				b.Emit(vm.OpCPARG, i, j)
			} else {
				b.Emit(vm.OpCPREF, d, i, j)
			}
		}
	} else {
		b.Emit(vm.OpPROPENV)
	}
	b.Emit(vm.OpCLOSURE, entry.Position())
	return nil
}
