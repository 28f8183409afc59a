// Package reader parses LS9 source text into heap cells.
package reader

import (
	"io"
	"strconv"

	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

// ---------------------------------------------------------------------------
// Reader: Builds heap data from tokens
// ---------------------------------------------------------------------------

// Reader implements vm.Reader. Partially built lists are kept on a root
// stack registered with the heap, so a collection triggered while reading
// does not reclaim them.
type Reader struct {
	m     *vm.Machine
	roots []heap.Cell
}

var _ vm.Reader = (*Reader)(nil)

// New creates a reader for m. It does not attach itself; set m.Reader.
func New(m *vm.Machine) *Reader {
	r := &Reader{m: m}
	m.Heap.AddRoots(r)
	return r
}

// Roots implements heap.RootSet.
func (r *Reader) Roots(mark func(heap.Cell)) {
	for _, c := range r.roots {
		mark(c)
	}
}

func (r *Reader) push(c heap.Cell) int {
	r.roots = append(r.roots, c)
	return len(r.roots) - 1
}

func (r *Reader) pop() {
	r.roots = r.roots[:len(r.roots)-1]
}

// Read parses one datum from in. It returns heap.EOFMark when the input
// ends before a datum starts.
func (r *Reader) Read(in io.RuneScanner) (heap.Cell, error) {
	depth := len(r.roots)
	defer func() {
		r.roots = r.roots[:depth]
	}()
	lx := NewLexer(in)
	tok, err := lx.Next()
	if err != nil {
		return heap.Nil, err
	}
	switch tok.Type {
	case TokenEOF:
		return heap.EOFMark, nil
	case TokenRParen:
		return heap.Nil, lx.errorf("unexpected )")
	case TokenDot:
		return heap.Nil, lx.errorf("unexpected .")
	}
	return r.parse(lx, tok)
}

// datum reads the next complete datum, rejecting end of input and
// closing tokens.
func (r *Reader) datum(lx *Lexer) (heap.Cell, error) {
	tok, err := lx.Next()
	if err != nil {
		return heap.Nil, err
	}
	switch tok.Type {
	case TokenEOF:
		return heap.Nil, lx.errorf("unexpected end of input")
	case TokenRParen:
		return heap.Nil, lx.errorf("unexpected )")
	case TokenDot:
		return heap.Nil, lx.errorf("unexpected .")
	}
	return r.parse(lx, tok)
}

// parse builds the datum that starts with tok.
func (r *Reader) parse(lx *Lexer, tok Token) (heap.Cell, error) {
	h := r.m.Heap
	switch tok.Type {
	case TokenLParen:
		return r.list(lx)
	case TokenVector:
		return r.vector(lx)
	case TokenQuote:
		return r.quoted(lx, "quote")
	case TokenQuasiquote:
		return r.quoted(lx, "quasiquote")
	case TokenUnquote:
		return r.quoted(lx, "unquote")
	case TokenUnquoteSplicing:
		return r.quoted(lx, "unquote-splicing")
	case TokenString:
		return h.MkString(tok.Text), nil
	case TokenChar:
		return h.MkChar([]rune(tok.Text)[0]), nil
	case TokenTrue:
		return heap.True, nil
	case TokenFalse:
		return heap.Nil, nil
	case TokenInteger:
		n, err := strconv.ParseInt(tok.Text, 10, 32)
		if err != nil {
			return heap.Nil, lx.errorf("integer out of range: %s", tok.Text)
		}
		return h.MkFixnum(int32(n)), nil
	case TokenSymbol:
		if tok.Text == "nil" {
			return heap.Nil, nil
		}
		if tok.Text == "t" {
			return heap.True, nil
		}
		return r.m.Intern(tok.Text), nil
	}
	return heap.Nil, lx.errorf("unexpected %s", tok.Type)
}

// list reads the elements after an opening parenthesis. The list is
// accumulated in reverse in a root slot and turned around in place.
func (r *Reader) list(lx *Lexer) (heap.Cell, error) {
	h := r.m.Heap
	slot := r.push(heap.Nil)
	defer r.pop()
	for {
		tok, err := lx.Next()
		if err != nil {
			return heap.Nil, err
		}
		switch tok.Type {
		case TokenEOF:
			return heap.Nil, lx.errorf("unexpected end of input in list")
		case TokenRParen:
			return reverseOnto(h, r.roots[slot], heap.Nil), nil
		case TokenDot:
			if r.roots[slot] == heap.Nil {
				return heap.Nil, lx.errorf("unexpected . at start of list")
			}
			tail, err := r.datum(lx)
			if err != nil {
				return heap.Nil, err
			}
			r.push(tail)
			end, err := lx.Next()
			if err != nil {
				return heap.Nil, err
			}
			if end.Type != TokenRParen {
				return heap.Nil, lx.errorf("expected ) after dotted tail")
			}
			return reverseOnto(h, r.roots[slot], tail), nil
		}
		x, err := r.parse(lx, tok)
		if err != nil {
			return heap.Nil, err
		}
		r.roots[slot] = h.Cons(x, r.roots[slot])
	}
}

// vector reads the elements of #( ... ).
func (r *Reader) vector(lx *Lexer) (heap.Cell, error) {
	h := r.m.Heap
	l, err := r.list(lx)
	if err != nil {
		return heap.Nil, err
	}
	r.push(l)
	n := 0
	for c := l; h.IsPair(c); c = h.Cdr(c) {
		n++
	}
	v := h.MkVector(n, heap.Nil)
	for i, c := 0, l; i < n; i, c = i+1, h.Cdr(c) {
		h.VectorSet(v, i, h.Car(c))
	}
	return v, nil
}

// quoted reads a datum and wraps it as (name datum).
func (r *Reader) quoted(lx *Lexer, name string) (heap.Cell, error) {
	sym := r.m.Intern(name)
	x, err := r.datum(lx)
	if err != nil {
		return heap.Nil, err
	}
	h := r.m.Heap
	return h.Cons(sym, h.Cons(x, heap.Nil)), nil
}

// reverseOnto reverses l destructively, ending the result with tail.
func reverseOnto(h *heap.Heap, l, tail heap.Cell) heap.Cell {
	for l != heap.Nil {
		next := h.Cdr(l)
		h.SetCdr(l, tail)
		tail = l
		l = next
	}
	return tail
}
