package vm

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/chazu/ls9/heap"
)

// errStackUnderflow is raised by malformed programs popping an empty stack.
var errStackUnderflow = fmt.Errorf("%w: operand stack underflow", ErrFormat)

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (m *Machine) push(c heap.Cell) error {
	if m.sp >= len(m.stack) {
		return Errorf(KindResource, "operand stack overflow (%d slots)", len(m.stack))
	}
	m.stack[m.sp] = c
	m.sp++
	return nil
}

func (m *Machine) pop() heap.Cell {
	if m.sp <= 0 {
		panic(errStackUnderflow)
	}
	m.sp--
	return m.stack[m.sp]
}

// operand reads the next 16-bit operand.
func (m *Machine) operand() int {
	v := int(m.code[m.ip]) | int(m.code[m.ip+1])<<8
	m.ip += 2
	return v
}

// literal returns the literal named by the next operand.
func (m *Machine) literal() heap.Cell {
	return m.Heap.VectorRef(m.lits, m.operand())
}

// frameAt returns the argument vector d levels up the environment chain.
func (m *Machine) frameAt(d int) heap.Cell {
	e := m.env
	for ; d > 0; d-- {
		e = m.Heap.Cdr(e)
	}
	return m.Heap.Car(e)
}

// ---------------------------------------------------------------------------
// Program switching
// ---------------------------------------------------------------------------

// setProg makes prog current and loads its bytecode. Decoded bytecode is
// cached per atom; the cache is dropped after every collection because
// atom indices may be reused.
func (m *Machine) setProg(prog heap.Cell) {
	m.prog = prog
	if prog == heap.Nil {
		m.code = nil
		m.codeAtom = heap.Nil
		m.lits = heap.Nil
		return
	}
	h := m.Heap
	bc := h.Car(prog)
	m.lits = h.Cdr(prog)
	gen := h.Collections()
	if bc == m.codeAtom && gen == m.codeGen {
		return
	}
	if gen != m.codeGen {
		m.cache = make(map[heap.Cell][]byte)
		m.codeGen = gen
	}
	code, ok := m.cache[bc]
	if !ok {
		code = h.Bytes(bc)
		m.cache[bc] = code
	}
	m.code = code
	m.codeAtom = bc
}

// ---------------------------------------------------------------------------
// Frame management
// ---------------------------------------------------------------------------

func (m *Machine) pushFrame(f frame) error {
	if len(m.frames) >= m.config.MaxFrameDepth {
		return Errorf(KindResource, "call depth exceeds %d frames", m.config.MaxFrameDepth)
	}
	m.frames = append(m.frames, f)
	return nil
}

// begin pushes the halt frame of a new run and returns its index.
func (m *Machine) begin() (int, error) {
	base := len(m.frames)
	err := m.pushFrame(frame{
		ip:      m.ip,
		prog:    m.prog,
		env:     m.env,
		base:    m.sp,
		halt:    true,
		acc:     m.acc,
		catches: m.catches,
		protect: len(m.protected),
	})
	return base, err
}

// restore reinstates the registers saved in a halt frame.
func (m *Machine) restore(f *frame) {
	m.ip = f.ip
	m.setProg(f.prog)
	m.env = f.env
	m.sp = f.base
	m.acc = f.acc
	m.catches = f.catches
	m.next = heap.Nil
	if f.protect <= len(m.protected) {
		m.protected = m.protected[:f.protect]
	}
}

// abort discards everything above and including the halt frame at base.
func (m *Machine) abort(base int) {
	if len(m.frames) <= base {
		return
	}
	f := m.frames[base]
	m.frames = m.frames[:base]
	m.restore(&f)
}

// ret pops the current frame. It reports true when the popped frame ends
// the run; the run's result is then in m.result.
func (m *Machine) ret() (bool, error) {
	n := len(m.frames) - 1
	if n < 0 {
		return false, fmt.Errorf("%w: return without frame", ErrFormat)
	}
	f := m.frames[n]
	m.frames = m.frames[:n]
	if f.catch {
		m.catches = m.Heap.Cdr(m.catches)
	}
	if f.halt {
		m.result = m.acc
		m.restore(&f)
		return true, nil
	}
	m.sp = f.base
	m.ip = f.ip
	m.setProg(f.prog)
	m.env = f.env
	return false, nil
}

// ---------------------------------------------------------------------------
// Procedure application
// ---------------------------------------------------------------------------

// enter transfers control to closure fn with n arguments on the stack.
// A closure's payload is (program . (entry . environment)).
func (m *Machine) enter(fn heap.Cell, n int) {
	h := m.Heap
	p := h.Cdr(fn)
	m.setProg(h.Car(p))
	rest := h.Cdr(p)
	m.ip = int(h.Fixnum(h.Car(rest)))
	m.env = h.Cdr(rest)
	m.argc = n
}

// apply calls the closure in A with the top n stack entries as arguments.
func (m *Machine) apply(n int, tail bool) error {
	fn := m.acc
	if !m.Heap.Is(fn, heap.TClosure) {
		return typeError("apply", "procedure", fn)
	}
	m.recordTrace(fn)
	if tail {
		f := &m.frames[len(m.frames)-1]
		copy(m.stack[f.base:], m.stack[m.sp-n:m.sp])
		m.sp = f.base + n
	} else {
		err := m.pushFrame(frame{ip: m.ip, prog: m.prog, env: m.env, base: m.sp - n})
		if err != nil {
			return err
		}
	}
	m.enter(fn, n)
	return nil
}

// spread replaces the list on top of the stack with its elements and
// returns the new argument count.
func (m *Machine) spread(n int) (int, error) {
	h := m.Heap
	l := m.pop()
	n--
	for l != heap.Nil {
		if !h.IsPair(l) {
			return n, typeError("apply", "list", l)
		}
		if err := m.push(h.Car(l)); err != nil {
			return n, err
		}
		n++
		l = h.Cdr(l)
	}
	return n, nil
}

// enterFrame moves the arguments of the current call into a new argument
// vector and links it in front of E. With collect set, arguments beyond k
// are gathered into a list in slot k.
func (m *Machine) enterFrame(k int, collect bool) {
	h := m.Heap
	size := k
	if collect {
		size = k + 1
	}
	base := m.sp - m.argc
	vec := heap.Nil
	if size > 0 {
		vec = h.MkVector(size, heap.Nil)
		for i := 0; i < k; i++ {
			h.VectorSet(vec, i, m.stack[base+i])
		}
		if collect {
			m.Protect(vec)
			rest := heap.Nil
			for i := m.argc - 1; i >= k; i-- {
				rest = h.Cons(m.stack[base+i], rest)
			}
			m.Unprotect(1)
			h.VectorSet(vec, k, rest)
		}
	}
	m.sp = base
	m.env = h.Cons(vec, m.env)
}

// makeClosure builds a closure over the current program entering at
// entry, with N as its environment.
func (m *Machine) makeClosure(entry int) heap.Cell {
	h := m.Heap
	p := h.Cons(h.MkFixnum(int32(entry)), m.next)
	p = h.Cons(m.prog, p)
	c := h.Atom(heap.TClosure, p)
	m.next = heap.Nil
	return c
}

// recordTrace remembers the name of fn if it was just fetched from a
// global.
func (m *Machine) recordTrace(fn heap.Cell) {
	if m.lastRef != heap.Nil && m.Heap.Cdr(m.lastRef) == fn && len(m.trace) > 0 {
		m.trace[m.tracePos] = m.lastRef
		m.tracePos = (m.tracePos + 1) % len(m.trace)
	}
	m.lastRef = heap.Nil
}

// traceNames returns the recorded procedure names, newest first.
func (m *Machine) traceNames() []string {
	var names []string
	n := len(m.trace)
	for i := 1; i <= n; i++ {
		box := m.trace[(m.tracePos-i+n)%n]
		if box == heap.Nil {
			break
		}
		names = append(names, m.Symbols.Name(m.Heap.Car(box)))
	}
	return names
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// execute runs until the halt frame at base is popped.
func (m *Machine) execute(base int) (result heap.Cell, err error) {
	saved := m.runBase
	m.runBase = base
	defer func() {
		m.runBase = saved
	}()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch e := r.(type) {
		case *heap.Exhausted:
			log.Errorf("%s", e)
			err = fmt.Errorf("%w: %s pool", ErrHeapExhausted, e.Pool)
		case runtime.Error:
			err = fmt.Errorf("%w: corrupt program: %s", ErrFormat, e)
		case error:
			if !errors.Is(e, ErrFormat) {
				panic(r)
			}
			err = e
		default:
			panic(r)
		}
		m.abort(base)
		result = heap.Nil
	}()

	for {
		var done bool
		if m.interrupt.CompareAndSwap(true, false) {
			err = Errorf(KindControl, "interrupted")
		} else {
			done, err = m.step()
		}
		if err != nil {
			if err = m.handle(err); err != nil {
				m.abort(base)
				return heap.Nil, err
			}
			continue
		}
		if done {
			return m.result, nil
		}
	}
}

// step executes one instruction.
func (m *Machine) step() (bool, error) {
	if m.ip >= len(m.code) {
		return false, fmt.Errorf("%w: instruction pointer %d past end of program", ErrFormat, m.ip)
	}
	h := m.Heap
	op := Opcode(m.code[m.ip])
	m.ip++

	switch op {
	// --- Control ---
	case OpHALT:
		if n := len(m.frames); n == 0 || !m.frames[n-1].halt {
			return false, fmt.Errorf("%w: HALT inside a procedure", ErrFormat)
		}
		return m.ret()

	case OpJMP:
		m.ip = m.operand()

	case OpBRF:
		target := m.operand()
		if m.acc == heap.Nil {
			m.ip = target
		}

	case OpBRT:
		target := m.operand()
		if m.acc != heap.Nil {
			m.ip = target
		}

	// --- Literals, arguments and globals ---
	case OpQUOTE:
		m.acc = m.literal()

	case OpARG:
		m.acc = h.VectorRef(h.Car(m.env), m.operand())

	case OpREF:
		d := m.operand()
		i := m.operand()
		m.acc = h.VectorRef(m.frameAt(d), i)

	case OpGREF:
		box := m.literal()
		v := h.Cdr(box)
		if v == heap.Undef {
			return false, NewCondition(KindRange, "unbound variable", h.Car(box))
		}
		m.acc = v
		m.lastRef = box

	case OpGSET:
		box := m.literal()
		if h.Cdr(box) == heap.Undef {
			return false, NewCondition(KindRange, "set!: unbound variable", h.Car(box))
		}
		h.SetCdr(box, m.acc)

	case OpDEF:
		box := m.literal()
		h.SetCdr(box, m.acc)
		m.acc = h.Car(box)

	case OpPUSH:
		return false, m.push(m.acc)

	case OpPUSHTRUE:
		return false, m.push(heap.True)

	case OpPUSHVAL:
		return false, m.push(h.MkFixnum(int32(m.operand())))

	case OpPOP:
		m.acc = m.pop()

	case OpDROP:
		m.pop()

	// --- Application ---
	case OpAPPLY:
		return false, m.apply(m.operand(), false)

	case OpTAILAPP:
		return false, m.apply(m.operand(), true)

	case OpAPPLIS, OpAPPLIST:
		n, err := m.spread(m.operand())
		if err != nil {
			return false, err
		}
		return false, m.apply(n, op == OpAPPLIST)

	// --- Environments ---
	case OpMKENV:
		n := m.operand()
		if n == 0 {
			m.next = heap.Nil
		} else {
			m.next = h.Cons(h.MkVector(n, heap.Nil), heap.Nil)
		}

	case OpPROPENV:
		m.next = m.env

	case OpCPARG:
		i := m.operand()
		j := m.operand()
		h.VectorSet(h.Car(m.next), j, h.VectorRef(h.Car(m.env), i))

	case OpCPREF:
		d := m.operand()
		i := m.operand()
		j := m.operand()
		h.VectorSet(h.Car(m.next), j, h.VectorRef(m.frameAt(d), i))

	case OpENTER:
		k := m.operand()
		if m.argc != k {
			return false, m.arityError(k, false)
		}
		m.enterFrame(k, false)

	case OpENTCOL:
		k := m.operand()
		if m.argc < k {
			return false, m.arityError(k, true)
		}
		m.enterFrame(k, true)

	case OpSETARG:
		h.VectorSet(h.Car(m.env), m.operand(), m.acc)

	case OpSETREF:
		d := m.operand()
		i := m.operand()
		h.VectorSet(m.frameAt(d), i, m.acc)

	// --- Closures ---
	case OpCLOSURE:
		m.acc = m.makeClosure(m.operand())

	case OpRETURN:
		return m.ret()

	// --- Non-local exit ---
	case OpCATCHSTAR:
		return false, m.catchStar()

	case OpTHROWSTAR:
		tag := m.pop()
		if !h.Is(tag, heap.TCatchTag) {
			return false, typeError("throw*", "catch tag", tag)
		}
		return false, m.throw(tag, m.acc)

	// --- Macros ---
	case OpMACRO:
		sym := m.literal()
		if !h.Is(m.acc, heap.TClosure) {
			return false, typeError("macro", "procedure", m.acc)
		}
		m.Symbols.DefineMacro(sym, m.acc)
		m.acc = sym

	// --- Primitives ---
	default:
		p := primitiveForOp(op)
		if p == nil {
			return false, fmt.Errorf("%w 0x%02X at %d", ErrUnknownOpcode, byte(op), m.ip-1)
		}
		return false, m.callPrimitive(p)
	}
	return false, nil
}

// callPrimitive runs p with its arguments on the stack. The last argument
// arrives in A and is pushed first so every argument stays rooted while
// the primitive allocates.
func (m *Machine) callPrimitive(p *Primitive) error {
	k := p.Arity
	if k > 0 {
		if err := m.push(m.acc); err != nil {
			return err
		}
	}
	r, err := p.Fn(m, m.stack[m.sp-k:m.sp])
	m.sp -= k
	if err != nil {
		return err
	}
	m.acc = r
	return nil
}

func (m *Machine) arityError(k int, atLeast bool) *Condition {
	want := fmt.Sprintf("%d", k)
	if atLeast {
		want = "at least " + want
	}
	return Errorf(KindType, "wrong number of arguments: got %d, want %s", m.argc, want)
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Run executes a top-level program, the pair (bytecode . literals), with
// an empty environment and returns the value left by HALT. The result is
// not protected against collection.
func (m *Machine) Run(prog heap.Cell) (heap.Cell, error) {
	base, err := m.begin()
	if err != nil {
		return heap.Nil, m.settle(err)
	}
	m.setProg(prog)
	m.ip = 0
	m.env = heap.Nil
	v, err := m.execute(base)
	return v, m.settle(err)
}

// Apply calls procedure fn with args and returns its result. Apply may be
// used re-entrantly from primitives and from the compiler.
func (m *Machine) Apply(fn heap.Cell, args ...heap.Cell) (heap.Cell, error) {
	if !m.Heap.Is(fn, heap.TClosure) {
		return heap.Nil, m.settle(typeError("apply", "procedure", fn))
	}
	base, err := m.begin()
	if err != nil {
		return heap.Nil, m.settle(err)
	}
	m.acc = fn
	for _, a := range args {
		if err := m.push(a); err != nil {
			m.abort(base)
			return heap.Nil, m.settle(err)
		}
	}
	m.enter(fn, len(args))
	v, err := m.execute(base)
	return v, m.settle(err)
}

// settle turns a condition that escaped every run into an unhandled
// error. Inside a run the condition is returned as is so the enclosing
// loop can raise it.
func (m *Machine) settle(err error) error {
	if err == nil || len(m.frames) > 0 {
		return err
	}
	var cond *Condition
	if errors.As(err, &cond) {
		return m.unhandled(cond)
	}
	return err
}
