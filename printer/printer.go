// Package printer writes the external representation of heap cells.
package printer

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/vm"
)

// DefaultMaxDepth is the nesting ceiling of a printed datum.
const DefaultMaxDepth = 1024

// charNames gives the written form of characters that have a name.
var charNames = map[rune]string{
	' ':  "space",
	'\n': "newline",
	'\t': "tab",
	'\r': "return",
	0:    "nul",
	'\b': "backspace",
	0x1B: "escape",
	0x7F: "delete",
}

// quoteForms are printed with their reader abbreviation.
var quoteForms = map[string]string{
	"quote":            "'",
	"quasiquote":       "`",
	"unquote":          ",",
	"unquote-splicing": ",@",
}

// Printer implements vm.Printer.
type Printer struct {
	h *heap.Heap

	// MaxDepth bounds the nesting of pairs and vectors. Deeper data is
	// an error rather than unbounded recursion.
	MaxDepth int
}

var _ vm.Printer = (*Printer)(nil)

// New creates a printer for the heap of m.
func New(m *vm.Machine) *Printer {
	return &Printer{h: m.Heap, MaxDepth: DefaultMaxDepth}
}

// Print writes c to w. display prints strings and characters without
// quoting.
func (p *Printer) Print(w io.Writer, c heap.Cell, display bool) error {
	var sb strings.Builder
	if err := p.print(&sb, c, display, 0); err != nil {
		return err
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Sprint returns the written form of c.
func (p *Printer) Sprint(c heap.Cell) (string, error) {
	var sb strings.Builder
	err := p.print(&sb, c, false, 0)
	return sb.String(), err
}

func (p *Printer) print(sb *strings.Builder, c heap.Cell, display bool, depth int) error {
	if depth > p.MaxDepth {
		return vm.Errorf(vm.KindResource, "print: nesting exceeds %d levels", p.MaxDepth)
	}
	h := p.h
	switch c {
	case heap.Nil:
		sb.WriteString("nil")
		return nil
	case heap.True:
		sb.WriteString("t")
		return nil
	case heap.EOFMark:
		sb.WriteString("#<eof>")
		return nil
	case heap.Undef:
		sb.WriteString("#<undefined>")
		return nil
	}
	if !h.Valid(c) {
		sb.WriteString(c.String())
		return nil
	}
	if h.IsPair(c) {
		return p.printList(sb, c, display, depth)
	}

	switch h.TypeOf(c) {
	case heap.TFixnum:
		sb.WriteString(strconv.Itoa(int(h.Fixnum(c))))
	case heap.TChar:
		writeChar(sb, h.Char(c), display)
	case heap.TString:
		if display {
			sb.WriteString(h.StringValue(c))
		} else {
			writeString(sb, h.StringValue(c))
		}
	case heap.TSymbol:
		sb.WriteString(h.StringValue(c))
	case heap.TVector:
		sb.WriteString("#(")
		for i, n := 0, h.VectorLen(c); i < n; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := p.print(sb, h.VectorRef(c, i), display, depth+1); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
	case heap.TClosure:
		sb.WriteString("#<procedure>")
	case heap.TCatchTag:
		sb.WriteString("#<catch-tag>")
	case heap.TBytecode:
		sb.WriteString("#<bytecode>")
	case heap.TInPort:
		fmt.Fprintf(sb, "#<input-port %d>", h.PortNo(c))
	case heap.TOutPort:
		fmt.Fprintf(sb, "#<output-port %d>", h.PortNo(c))
	default:
		fmt.Fprintf(sb, "#<%s>", heap.TypeName(h.TypeOf(c)))
	}
	return nil
}

// printList prints a pair chain. A cycle through the cdrs is detected with
// a second cursor moving at half speed and printed as "...".
func (p *Printer) printList(sb *strings.Builder, c heap.Cell, display bool, depth int) error {
	h := p.h
	if prefix, ok := p.quotePrefix(c); ok {
		sb.WriteString(prefix)
		return p.print(sb, h.Car(h.Cdr(c)), display, depth+1)
	}
	sb.WriteByte('(')
	slow := c
	for n := 0; ; n++ {
		if n > 0 {
			sb.WriteByte(' ')
		}
		if err := p.print(sb, h.Car(c), display, depth+1); err != nil {
			return err
		}
		c = h.Cdr(c)
		if c == heap.Nil {
			break
		}
		if !h.IsPair(c) {
			sb.WriteString(" . ")
			if err := p.print(sb, c, display, depth+1); err != nil {
				return err
			}
			break
		}
		if n%2 == 1 {
			slow = h.Cdr(slow)
		}
		if c == slow {
			sb.WriteString(" ...")
			break
		}
	}
	sb.WriteByte(')')
	return nil
}

// quotePrefix reports whether c is a two-element quote form.
func (p *Printer) quotePrefix(c heap.Cell) (string, bool) {
	h := p.h
	head := h.Car(c)
	if !h.Is(head, heap.TSymbol) {
		return "", false
	}
	rest := h.Cdr(c)
	if !h.IsPair(rest) || h.Cdr(rest) != heap.Nil {
		return "", false
	}
	prefix, ok := quoteForms[h.StringValue(head)]
	return prefix, ok
}

func writeChar(sb *strings.Builder, r rune, display bool) {
	if display {
		sb.WriteRune(r)
		return
	}
	sb.WriteString(`#\`)
	if name, ok := charNames[r]; ok {
		sb.WriteString(name)
		return
	}
	if r < ' ' {
		fmt.Fprintf(sb, "x%x", r)
		return
	}
	sb.WriteRune(r)
}

// writeString writes s in double quotes using the escapes the reader
// decodes.
func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch b {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if b < ' ' || b == 0x7F {
				fmt.Fprintf(sb, `\x%02x`, b)
			} else {
				sb.WriteByte(b)
			}
		}
	}
	sb.WriteByte('"')
}
