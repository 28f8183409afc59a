package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op           Opcode
		name         string
		operandBytes int
	}{
		{OpHALT, "HALT", 0},
		{OpJMP, "JMP", 2},
		{OpBRF, "BRF", 2},
		{OpQUOTE, "QUOTE", 2},
		{OpREF, "REF", 4},
		{OpPUSHVAL, "PUSHVAL", 2},
		{OpTAILAPP, "TAILAPP", 2},
		{OpCPREF, "CPREF", 6},
		{OpPROPENV, "PROPENV", 0},
		{OpCLOSURE, "CLOSURE", 2},
		{OpTHROWSTAR, "THROWSTAR", 0},
		{OpMACRO, "MACRO", 2},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.OperandBytes() != tt.operandBytes {
			t.Errorf("%s: OperandBytes = %d, want %d", tt.op, info.OperandBytes(), tt.operandBytes)
		}
	}
}

func TestJumpOpcodesFlagged(t *testing.T) {
	for _, op := range []Opcode{OpJMP, OpBRF, OpBRT} {
		if !op.Info().Jump {
			t.Errorf("%s is not marked as a jump", op)
		}
	}
	if OpCLOSURE.Info().Jump {
		t.Error("CLOSURE marked as a jump")
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0x3F)
	if got := op.Name(); got != "UNKNOWN_3F" {
		t.Errorf("Name = %q", got)
	}
}

func TestPrimitiveOpcodes(t *testing.T) {
	car, ok := PrimitiveByName("car")
	if !ok {
		t.Fatal("car missing from the primitive table")
	}
	if car.Op != OpPrimitiveBase {
		t.Errorf("car opcode = 0x%02X, want the first primitive opcode", byte(car.Op))
	}
	if !car.Op.IsPrimitive() || car.Op.Name() != "car" {
		t.Errorf("opcode of car reports %q", car.Op.Name())
	}

	seen := make(map[Opcode]string)
	for _, p := range Primitives() {
		if prev, dup := seen[p.Op]; dup {
			t.Errorf("%s and %s share opcode 0x%02X", prev, p.Name, byte(p.Op))
		}
		seen[p.Op] = p.Name
		if p.Op < OpPrimitiveBase {
			t.Errorf("%s has opcode 0x%02X below the primitive range", p.Name, byte(p.Op))
		}
	}
}

// ---------------------------------------------------------------------------
// Validation tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
	}{
		{"empty", nil, nil},
		{"halt", []byte{byte(OpHALT)}, nil},
		{"quote", []byte{byte(OpQUOTE), 0, 0, byte(OpHALT)}, nil},
		{"unknown core opcode", []byte{0x3F}, ErrUnknownOpcode},
		{"unassigned primitive opcode", []byte{0xFF}, ErrUnknownOpcode},
		{"truncated operand", []byte{byte(OpJMP), 0}, ErrTruncatedCode},
		{"truncated three operands", []byte{byte(OpCPREF), 0, 0, 1, 0}, ErrTruncatedCode},
		{"jump past end", []byte{byte(OpJMP), 9, 0}, ErrBadJump},
		{"jump to self", []byte{byte(OpJMP), 0, 0}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.code)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrFormat) {
				t.Errorf("%v does not wrap ErrFormat", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Builder tests
// ---------------------------------------------------------------------------

func TestBytecodeBuilderEmit(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpPUSHVAL, 0x1234)
	b.Emit(OpREF, 1, 2)
	b.Emit(OpHALT)

	want := []byte{byte(OpPUSHVAL), 0x34, 0x12, byte(OpREF), 1, 0, 2, 0, byte(OpHALT)}
	if got := b.Bytes(); string(got) != string(want) {
		t.Errorf("Bytes = %v, want %v", got, want)
	}
	if b.Len() != len(want) {
		t.Errorf("Len = %d", b.Len())
	}
}

func TestLabelsForward(t *testing.T) {
	b := NewBytecodeBuilder()
	end := b.NewLabel()
	b.EmitJump(OpBRF, end)
	b.Emit(OpQUOTE, 0)
	b.Mark(end)
	b.Emit(OpHALT)

	code := b.Bytes()
	if target := int(code[1]) | int(code[2])<<8; target != 6 {
		t.Errorf("forward target = %d, want 6", target)
	}
	if end.Position() != 6 {
		t.Errorf("Position = %d, want 6", end.Position())
	}
	if err := Validate(code); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLabelsBackward(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpQUOTE, 0)
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(OpDROP)
	b.EmitJump(OpJMP, top)

	code := b.Bytes()
	if target := int(code[5]) | int(code[6])<<8; target != 3 {
		t.Errorf("backward target = %d, want 3", target)
	}
}

func TestMarkTwicePanics(t *testing.T) {
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.Mark(l)
	defer func() {
		if recover() == nil {
			t.Error("marking a label twice did not panic")
		}
	}()
	b.Mark(l)
}

// ---------------------------------------------------------------------------
// Disassembly tests
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpQUOTE, 3)
	b.Emit(primOp(t, "car"))
	b.Emit(OpREF, 1, 2)
	b.Emit(OpHALT)

	got := Disassemble(b.Bytes())
	lines := strings.Split(got, "\n")
	want := []string{
		"0000  QUOTE 3",
		"0003  PRIM car",
		"0004  REF 1 2",
		"0009  HALT",
	}
	if len(lines) != len(want) {
		t.Fatalf("Disassemble =\n%s", got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestDisassembleTruncated(t *testing.T) {
	got := Disassemble([]byte{byte(OpREF), 1, 0, 2})
	if !strings.Contains(got, "<truncated>") {
		t.Errorf("Disassemble = %q", got)
	}
}
