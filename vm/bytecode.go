package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Operands follow the
// opcode byte as unsigned 16-bit little-endian integers.
type Opcode byte

// Control
const (
	OpHALT Opcode = 0x00 // stop, result is A
	OpJMP  Opcode = 0x01 // jump to absolute target
	OpBRF  Opcode = 0x02 // jump if A is nil
	OpBRT  Opcode = 0x03 // jump if A is not nil
)

// Literals, arguments and globals
const (
	OpQUOTE    Opcode = 0x10 // A = literal i
	OpARG      Opcode = 0x11 // A = frame0[i]
	OpREF      Opcode = 0x12 // A = frame_d[i]
	OpGREF     Opcode = 0x13 // A = value of global box i
	OpGSET     Opcode = 0x14 // global box i = A
	OpDEF      Opcode = 0x15 // define global box i = A
	OpPUSH     Opcode = 0x16 // push A
	OpPUSHTRUE Opcode = 0x17 // push t
	OpPUSHVAL  Opcode = 0x18 // push integer n
	OpPOP      Opcode = 0x19 // A = pop
	OpDROP     Opcode = 0x1A // discard top of stack
)

// Application
const (
	OpAPPLY   Opcode = 0x20 // call A with n stacked arguments
	OpTAILAPP Opcode = 0x21 // call A with n stacked arguments, reusing the frame
	OpAPPLIS  Opcode = 0x22 // APPLY, last stacked argument is a list to spread
	OpAPPLIST Opcode = 0x23 // TAILAPP, last stacked argument is a list to spread
)

// Environments
const (
	OpMKENV   Opcode = 0x28 // N = (vector(n)), or nil for n = 0
	OpPROPENV Opcode = 0x29 // N = E
	OpCPARG   Opcode = 0x2A // N.frame0[j] = E.frame0[i]
	OpCPREF   Opcode = 0x2B // N.frame0[j] = E.frame_d[i]
	OpENTER   Opcode = 0x2C // require k arguments, E = (args . E)
	OpENTCOL  Opcode = 0x2D // require at least k arguments, rest collected in slot k
	OpSETARG  Opcode = 0x2E // frame0[i] = A
	OpSETREF  Opcode = 0x2F // frame_d[i] = A
)

// Closures
const (
	OpCLOSURE Opcode = 0x30 // A = closure(program, entry, N)
	OpRETURN  Opcode = 0x31 // resume caller, A preserved
)

// Non-local exit and macros
const (
	OpCATCHSTAR Opcode = 0x38 // call A with a fresh catch tag
	OpTHROWSTAR Opcode = 0x39 // throw A to the tag on top of the stack
	OpMACRO     Opcode = 0x3A // bind the macro named by literal i to A
)

// OpPrimitiveBase is the first primitive opcode. Primitive i in the
// primitive table uses OpPrimitiveBase+i.
const OpPrimitiveBase Opcode = 0x40

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // number of 16-bit operands
	Jump     bool   // first operand is a jump target
}

// OperandBytes returns the encoded size of the operands.
func (i OpcodeInfo) OperandBytes() int {
	return 2 * i.Operands
}

// opcodeTable maps core opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpHALT: {"HALT", 0, false},
	OpJMP:  {"JMP", 1, true},
	OpBRF:  {"BRF", 1, true},
	OpBRT:  {"BRT", 1, true},

	OpQUOTE:    {"QUOTE", 1, false},
	OpARG:      {"ARG", 1, false},
	OpREF:      {"REF", 2, false},
	OpGREF:     {"GREF", 1, false},
	OpGSET:     {"GSET", 1, false},
	OpDEF:      {"DEF", 1, false},
	OpPUSH:     {"PUSH", 0, false},
	OpPUSHTRUE: {"PUSHTRUE", 0, false},
	OpPUSHVAL:  {"PUSHVAL", 1, false},
	OpPOP:      {"POP", 0, false},
	OpDROP:     {"DROP", 0, false},

	OpAPPLY:   {"APPLY", 1, false},
	OpTAILAPP: {"TAILAPP", 1, false},
	OpAPPLIS:  {"APPLIS", 1, false},
	OpAPPLIST: {"APPLIST", 1, false},

	OpMKENV:   {"MKENV", 1, false},
	OpPROPENV: {"PROPENV", 0, false},
	OpCPARG:   {"CPARG", 2, false},
	OpCPREF:   {"CPREF", 3, false},
	OpENTER:   {"ENTER", 1, false},
	OpENTCOL:  {"ENTCOL", 1, false},
	OpSETARG:  {"SETARG", 1, false},
	OpSETREF:  {"SETREF", 2, false},

	OpCLOSURE: {"CLOSURE", 1, false},
	OpRETURN:  {"RETURN", 0, false},

	OpCATCHSTAR: {"CATCHSTAR", 0, false},
	OpTHROWSTAR: {"THROWSTAR", 0, false},
	OpMACRO:     {"MACRO", 1, false},
}

// lookup returns the metadata for op and whether op is defined.
func (op Opcode) lookup() (OpcodeInfo, bool) {
	if info, ok := opcodeTable[op]; ok {
		return info, true
	}
	if p := primitiveForOp(op); p != nil {
		return OpcodeInfo{Name: p.Name}, true
	}
	return OpcodeInfo{}, false
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := op.lookup(); ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// IsPrimitive reports whether op dispatches to the primitive table.
func (op Opcode) IsPrimitive() bool {
	return op >= OpPrimitiveBase
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that code consists only of known opcodes with complete
// operands and in-range jump targets.
func Validate(code []byte) error {
	for pos := 0; pos < len(code); {
		op := Opcode(code[pos])
		info, ok := op.lookup()
		if !ok {
			return fmt.Errorf("%w 0x%02X at %d", ErrUnknownOpcode, byte(op), pos)
		}
		end := pos + 1 + info.OperandBytes()
		if end > len(code) {
			return fmt.Errorf("%w: %s at %d", ErrTruncatedCode, info.Name, pos)
		}
		if info.Jump {
			if target := int(binary.LittleEndian.Uint16(code[pos+1:])); target >= len(code) {
				return fmt.Errorf("%w: %s at %d targets %d", ErrBadJump, info.Name, pos, target)
			}
		}
		pos = end
	}
	return nil
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the address of the next
// instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode followed by its 16-bit operands.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...int) {
	b.bytes = append(b.bytes, byte(op))
	for _, v := range operands {
		b.bytes = append(b.bytes, byte(v), byte(v>>8))
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be known yet.
type Label struct {
	resolved bool
	position int   // target, once resolved
	refs     []int // operand positions waiting for the target
}

// Position returns the target of a resolved label.
func (l *Label) Position() int {
	if !l.resolved {
		panic("label not resolved")
	}
	return l.position
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		b.bytes[ref] = byte(label.position)
		b.bytes[ref+1] = byte(label.position >> 8)
	}
	label.refs = nil
}

// EmitJump emits a jump instruction to label. Targets are absolute.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		b.bytes = append(b.bytes, byte(label.position), byte(label.position>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at pos and returns
// its text and the position of the next instruction.
func DisassembleInstruction(code []byte, pos int) (string, int) {
	op := Opcode(code[pos])
	info, ok := op.lookup()
	if !ok {
		return fmt.Sprintf("%04d  UNKNOWN_%02X", pos, byte(op)), pos + 1
	}
	if op.IsPrimitive() {
		return fmt.Sprintf("%04d  PRIM %s", pos, info.Name), pos + 1
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", pos, info.Name)
	next := pos + 1
	for i := 0; i < info.Operands; i++ {
		if next+2 > len(code) {
			sb.WriteString(" <truncated>")
			return sb.String(), len(code)
		}
		fmt.Fprintf(&sb, " %d", binary.LittleEndian.Uint16(code[next:]))
		next += 2
	}
	return sb.String(), next
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(code []byte) string {
	var lines []string
	for pos := 0; pos < len(code); {
		var line string
		line, pos = DisassembleInstruction(code, pos)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
