package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/ls9/heap"
)

func dumpBytes(t *testing.T, m *Machine) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := NewImageWriter(m).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestReadImageBadMagic(t *testing.T) {
	data := dumpBytes(t, newTestMachine(t))
	copy(data, "XXXX")
	_, err := ReadImage(bytes.NewReader(data))
	if !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestReadImageTruncated(t *testing.T) {
	data := dumpBytes(t, newTestMachine(t))
	for _, n := range []int{0, 3, 6, 20, len(data) - 1} {
		_, err := ReadImage(bytes.NewReader(data[:n]))
		if !errors.Is(err, ErrFormat) {
			t.Errorf("truncated to %d: err = %v", n, err)
		}
	}
}

func TestReadImageChecksumMismatch(t *testing.T) {
	data := dumpBytes(t, newTestMachine(t))
	data[len(data)-1] ^= 0xFF
	_, err := ReadImage(bytes.NewReader(data))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestInstallCapacityMismatch(t *testing.T) {
	data := dumpBytes(t, newTestMachine(t))
	ir, err := ReadImage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	m := New(Config{Nodes: 2048, VectorCells: 16384})
	m.Symbols.Define("kept", heap.True)
	if err := ir.Install(m); !errors.Is(err, ErrCapacityMismatch) {
		t.Fatalf("err = %v, want ErrCapacityMismatch", err)
	}
	if v, ok := m.Symbols.Value("kept"); !ok || v != heap.True {
		t.Error("failed install modified the machine")
	}
}

func TestLoadImageRejectsBadBytecode(t *testing.T) {
	src := newTestMachine(t)
	src.Symbols.Define("bad", src.Heap.MkBytes(heap.TBytecode, []byte{0x3F}))
	path := filepath.Join(t.TempDir(), "bad.image")
	if err := src.DumpImage(path); err != nil {
		t.Fatalf("DumpImage: %v", err)
	}

	m := newTestMachine(t)
	m.Symbols.Define("kept", m.Heap.MkFixnum(7))
	err := m.LoadImage(path)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
	if !errors.Is(err, ErrFormat) {
		t.Errorf("%v does not wrap ErrFormat", err)
	}
	v, ok := m.Symbols.Value("kept")
	if !ok || fixnumOf(t, m, v) != 7 {
		t.Error("rejected image modified the live heap")
	}
	if _, ok := m.Symbols.Value("bad"); ok {
		t.Error("rejected image leaked a binding")
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	m := newTestMachine(t)
	err := m.LoadImage(filepath.Join(t.TempDir(), "none.image"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want a not-exist error", err)
	}
}

// withHeader re-encodes the header of an image after edit.
func withHeader(t *testing.T, data []byte, edit func(*ImageHeader)) []byte {
	t.Helper()
	n := binary.LittleEndian.Uint32(data[4:8])
	hdr, err := unmarshalHeader(data[8 : 8+n])
	if err != nil {
		t.Fatalf("unmarshalHeader: %v", err)
	}
	edit(hdr)
	meta, err := marshalHeader(hdr)
	if err != nil {
		t.Fatalf("marshalHeader: %v", err)
	}
	out := append([]byte{}, data[:4]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(meta)))
	out = append(out, meta...)
	return append(out, data[8+n:]...)
}

func TestReadImageRejectsBadVectorFreeList(t *testing.T) {
	m := newTestMachine(t)
	s := m.Heap.MkString("hello world")
	m.Symbols.Define("greeting", s)
	data := dumpBytes(t, m)
	live := int(m.Heap.Cdr(s))

	if _, err := ReadImage(bytes.NewReader(withHeader(t, data, func(*ImageHeader) {}))); err != nil {
		t.Fatalf("re-encoded image rejected: %v", err)
	}

	tests := []struct {
		name string
		free int
	}{
		{"live run", live},
		{"inside a run", live + 1},
		{"out of range", m.Heap.VectorCells() + 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := withHeader(t, data, func(h *ImageHeader) { h.VectorFree = tt.free })
			_, err := ReadImage(bytes.NewReader(bad))
			if !errors.Is(err, ErrCorruptData) {
				t.Errorf("err = %v, want ErrCorruptData", err)
			}
		})
	}
}
