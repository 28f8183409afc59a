package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/ls9/heap"
)

func TestHeaderRoundTrip(t *testing.T) {
	hdr := &ImageHeader{
		Version:     ImageVersion,
		Flags:       ImageFlagCompressed,
		Nodes:       16,
		VectorCells: 32,
		FreeList:    3,
		VectorFree:  -1,
		Symbols:     7,
		Macros:      -1,
		Gensym:      4,
		ID:          "id",
		Created:     1700000000,
		BodySize:    bodySize(16, 32),
		Checksum:    0xdeadbeef,
	}
	data, err := marshalHeader(hdr)
	if err != nil {
		t.Fatalf("marshalHeader: %v", err)
	}
	got, err := unmarshalHeader(data)
	if err != nil {
		t.Fatalf("unmarshalHeader: %v", err)
	}
	if *got != *hdr {
		t.Errorf("header = %+v, want %+v", got, hdr)
	}
	if err := validateHeader(got); err != nil {
		t.Errorf("validateHeader: %v", err)
	}
}

func TestHeaderEncodingIsCanonical(t *testing.T) {
	hdr := &ImageHeader{Version: ImageVersion, Nodes: 1, VectorCells: 1}
	a, _ := marshalHeader(hdr)
	b, _ := marshalHeader(hdr)
	if !bytes.Equal(a, b) {
		t.Error("header encoding is not deterministic")
	}
}

func TestValidateHeader(t *testing.T) {
	good := ImageHeader{Version: ImageVersion, Nodes: 8, VectorCells: 8, BodySize: bodySize(8, 8)}
	tests := []struct {
		name   string
		mutate func(h *ImageHeader)
		want   error
	}{
		{"version", func(h *ImageHeader) { h.Version = 99 }, ErrVersionMismatch},
		{"flags", func(h *ImageHeader) { h.Flags = 1 << 5 }, ErrCorruptHeader},
		{"empty pools", func(h *ImageHeader) { h.Nodes = 0 }, ErrCorruptHeader},
		{"oversized pools", func(h *ImageHeader) { h.VectorCells = MaxPoolCells + 1 }, ErrCorruptHeader},
		{"body size", func(h *ImageHeader) { h.BodySize++ }, ErrCorruptHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good
			tt.mutate(&h)
			if err := validateHeader(&h); !errors.Is(err, tt.want) {
				t.Errorf("validateHeader = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBodyRoundTrip(t *testing.T) {
	h := heap.New(8, 16)
	s1 := h.MkString("abc")
	h.Lock(s1)
	h.Lock(h.Cons(s1, heap.True))
	snap := h.Snapshot()

	// New raises tiny capacities to the pool minimums.
	nodes, cells := h.Nodes(), h.VectorCells()
	body := encodeBody(snap)
	if len(body) != bodySize(nodes, cells) {
		t.Fatalf("body is %d bytes, want %d", len(body), bodySize(nodes, cells))
	}
	hdr := &ImageHeader{Nodes: nodes, VectorCells: cells, FreeList: int32(snap.FreeList), VectorFree: snap.VectorFree}
	got, err := decodeBody(body, hdr)
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	for i := range snap.Car {
		if got.Car[i] != snap.Car[i] || got.Cdr[i] != snap.Cdr[i] || got.Tag[i] != snap.Tag[i] {
			t.Fatalf("node %d differs", i)
		}
	}
	for i := range snap.Vec {
		if got.Vec[i] != snap.Vec[i] {
			t.Fatalf("vector cell %d differs", i)
		}
	}
}

func TestCompressRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte{1, 2, 3, 0, 0, 0, 0, 0}, 4096)
	packed, err := compressBody(body)
	if err != nil {
		t.Fatalf("compressBody: %v", err)
	}
	if len(packed) >= len(body) {
		t.Errorf("compressed %d bytes to %d", len(body), len(packed))
	}
	got, err := decompressBody(packed, len(body))
	if err != nil {
		t.Fatalf("decompressBody: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("round trip changed the body")
	}
	if _, err := decompressBody([]byte("not zstd"), 64); !errors.Is(err, ErrCorruptData) {
		t.Errorf("decompress garbage = %v", err)
	}
}
