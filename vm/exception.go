package vm

import (
	"errors"
	"strings"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// Catch records
// ---------------------------------------------------------------------------

// A catch tag is an atom whose payload is the list
//
//	(env program sp frames ip)
//
// captured by CATCHSTAR. The catch chain C holds the tags of every active
// catch, innermost first. A tag is usable only while it is on C.

// catchStar calls the procedure in A with a fresh catch tag. The catch
// frame pops the tag from C when the procedure returns normally.
func (m *Machine) catchStar() error {
	h := m.Heap
	fn := m.acc
	if !h.Is(fn, heap.TClosure) {
		return typeError("catch*", "procedure", fn)
	}
	sp := m.sp

	b := m.newList()
	b.prepend(h.MkFixnum(int32(m.ip)))
	b.prepend(h.MkFixnum(int32(len(m.frames))))
	b.prepend(h.MkFixnum(int32(sp)))
	b.prepend(m.prog)
	b.prepend(m.env)
	tag := h.Atom(heap.TCatchTag, b.done())
	m.catches = h.Cons(tag, m.catches)

	if err := m.pushFrame(frame{ip: m.ip, prog: m.prog, env: m.env, base: sp, catch: true}); err != nil {
		m.catches = h.Cdr(m.catches)
		return err
	}
	if err := m.push(tag); err != nil {
		return err
	}
	m.enter(fn, 1)
	return nil
}

// findCatch returns the cell of C whose car is tag, or Nil.
func (m *Machine) findCatch(tag heap.Cell) heap.Cell {
	h := m.Heap
	for c := m.catches; c != heap.Nil; c = h.Cdr(c) {
		if h.Car(c) == tag {
			return c
		}
	}
	return heap.Nil
}

// throw unwinds to the catch record of tag, leaving val in A. A record
// that belongs to an enclosing run is handed over through errUnwind; a tag
// that is not on C is a control condition.
func (m *Machine) throw(tag, val heap.Cell) error {
	h := m.Heap
	c := m.findCatch(tag)
	if c == heap.Nil {
		return NewCondition(KindControl, "throw: no matching catch", tag)
	}
	p := h.Cdr(tag)
	env := h.Car(p)
	p = h.Cdr(p)
	prog := h.Car(p)
	p = h.Cdr(p)
	sp := int(h.Fixnum(h.Car(p)))
	p = h.Cdr(p)
	nframes := int(h.Fixnum(h.Car(p)))
	p = h.Cdr(p)
	ip := int(h.Fixnum(h.Car(p)))

	if nframes <= m.runBase {
		m.throwTag = tag
		m.throwVal = val
		return errUnwind
	}
	m.frames = m.frames[:nframes]
	m.sp = sp
	m.env = env
	m.setProg(prog)
	m.ip = ip
	m.catches = h.Cdr(c)
	m.acc = val
	m.next = heap.Nil
	m.throwTag = heap.Nil
	m.throwVal = heap.Nil
	return nil
}

// ---------------------------------------------------------------------------
// Raising conditions
// ---------------------------------------------------------------------------

// handle processes an error returned by an instruction. It returns nil if
// execution can continue in the current run.
func (m *Machine) handle(err error) error {
	if errors.Is(err, errUnwind) {
		err = m.throw(m.throwTag, m.throwVal)
	}
	var cond *Condition
	if errors.As(err, &cond) {
		err = m.raise(cond)
	}
	return err
}

// raise throws the list form of c to the error tag if that tag is active,
// and otherwise ends the run with an *Error.
func (m *Machine) raise(c *Condition) error {
	irritant := heap.Nil
	if c.HasIrritant {
		irritant = c.Irritant
	}
	m.Protect(irritant)
	defer m.Unprotect(1)

	if m.errTag == heap.Nil || m.findCatch(m.errTag) == heap.Nil {
		return m.unhandled(c)
	}
	return m.throw(m.errTag, m.conditionObject(c, irritant))
}

// conditionObject builds (error kind "message" irritant).
func (m *Machine) conditionObject(c *Condition, irritant heap.Cell) heap.Cell {
	h := m.Heap
	b := m.newList()
	if c.HasIrritant {
		b.prepend(irritant)
	}
	b.prepend(h.MkString(c.Message))
	b.prepend(m.Intern(string(c.Kind)))
	b.prepend(m.Intern("error"))
	return b.done()
}

// unhandled converts c into the terminal error of a run.
func (m *Machine) unhandled(c *Condition) *Error {
	e := &Error{
		Kind:    c.Kind,
		Message: c.Message,
		Trace:   m.traceNames(),
	}
	if c.HasIrritant {
		e.Irritant = m.format(c.Irritant)
	}
	log.Debugf("unhandled %s", e)
	return e
}

// format prints c for diagnostics.
func (m *Machine) format(c heap.Cell) string {
	if m.Printer == nil {
		return c.String()
	}
	var sb strings.Builder
	if err := m.Printer.Print(&sb, c, false); err != nil {
		return c.String()
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Exit
// ---------------------------------------------------------------------------

// Exit is returned when a program calls exit.
type Exit struct {
	Code int
}

func (e *Exit) Error() string {
	return "exit"
}

// ---------------------------------------------------------------------------
// List building under collection
// ---------------------------------------------------------------------------

// listBuilder grows a list from the back while keeping it protected.
type listBuilder struct {
	m    *Machine
	slot int
}

func (m *Machine) newList() listBuilder {
	m.Protect(heap.Nil)
	return listBuilder{m: m, slot: len(m.protected) - 1}
}

// prepend conses x onto the front of the list.
func (b listBuilder) prepend(x heap.Cell) {
	b.m.protected[b.slot] = b.m.Heap.Cons(x, b.m.protected[b.slot])
}

// done releases the list.
func (b listBuilder) done() heap.Cell {
	l := b.m.protected[b.slot]
	b.m.Unprotect(1)
	return l
}
