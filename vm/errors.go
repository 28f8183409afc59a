package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/ls9/heap"
)

// ---------------------------------------------------------------------------
// Fatal errors
// ---------------------------------------------------------------------------

var (
	// ErrHeapExhausted is returned when a pool cannot satisfy a request
	// after a collection. It terminates the run and cannot be caught.
	ErrHeapExhausted = errors.New("heap exhausted")

	// ErrFormat wraps every malformed bytecode or image failure.
	ErrFormat = errors.New("format error")

	ErrUnknownOpcode = fmt.Errorf("%w: unknown opcode", ErrFormat)
	ErrTruncatedCode = fmt.Errorf("%w: truncated instruction", ErrFormat)
	ErrBadJump       = fmt.Errorf("%w: jump target out of range", ErrFormat)

	// ErrNoCompiler and ErrNoReader are returned when evaluation is
	// requested before the collaborators are attached.
	ErrNoCompiler = errors.New("no compiler attached")
	ErrNoReader   = errors.New("no reader attached")

	// errUnwind signals a throw whose catch record belongs to an enclosing
	// run. The tag and value are parked in the machine.
	errUnwind = errors.New("unwind to enclosing run")
)

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// Kind classifies runtime conditions.
type Kind string

const (
	KindType     Kind = "type"
	KindRange    Kind = "range"
	KindResource Kind = "resource"
	KindControl  Kind = "control"
	KindFormat   Kind = "format"
	KindSyntax   Kind = "syntax"
	KindUser     Kind = "user"
)

// Condition is a recoverable runtime error. When raised inside the machine
// it becomes the list (error kind "message" irritant) and is thrown to the
// error tag, if one is active.
type Condition struct {
	Kind        Kind
	Message     string
	Irritant    heap.Cell
	HasIrritant bool
}

// NewCondition creates a condition carrying an irritant.
func NewCondition(kind Kind, message string, irritant heap.Cell) *Condition {
	return &Condition{Kind: kind, Message: message, Irritant: irritant, HasIrritant: true}
}

// Errorf creates a condition without an irritant.
func Errorf(kind Kind, format string, args ...interface{}) *Condition {
	return &Condition{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (c *Condition) Error() string {
	return fmt.Sprintf("%s error: %s", c.Kind, c.Message)
}

// ---------------------------------------------------------------------------
// Error: an unhandled condition
// ---------------------------------------------------------------------------

// Error is returned from a run terminated by an unhandled condition.
type Error struct {
	Kind     Kind
	Message  string
	Irritant string   // printed irritant, empty if none
	Trace    []string // most recently applied procedures, newest first
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s error: %s", e.Kind, e.Message)
	if e.Irritant != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Irritant)
	}
	return sb.String()
}

// TraceString formats the trace as "f <- g <- h".
func (e *Error) TraceString() string {
	return strings.Join(e.Trace, " <- ")
}

// ---------------------------------------------------------------------------
// Condition constructors used by primitives
// ---------------------------------------------------------------------------

func typeError(who, want string, got heap.Cell) *Condition {
	return NewCondition(KindType, fmt.Sprintf("%s: expected %s", who, want), got)
}

func rangeError(who string, got heap.Cell) *Condition {
	return NewCondition(KindRange, who+": index out of range", got)
}

func constError(who string, got heap.Cell) *Condition {
	return NewCondition(KindType, who+": immutable object", got)
}
