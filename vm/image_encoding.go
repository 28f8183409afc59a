package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/ls9/heap"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// Image Format Constants
// ---------------------------------------------------------------------------

// ImageMagic is the magic number identifying an LS9 image file.
var ImageMagic = [4]byte{'L', 'S', '9', 'I'}

// Image format version
// v1: initial format
const ImageVersion uint32 = 1

// Image flags
const (
	ImageFlagNone       uint32 = 0
	ImageFlagCompressed uint32 = 1 << 0 // body is zstd-compressed
)

// maxHeaderSize bounds the CBOR header of a well-formed image.
const maxHeaderSize = 1 << 16

// MaxPoolCells bounds each pool capacity an image may declare.
const MaxPoolCells = 1 << 24

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic     = fmt.Errorf("%w: invalid magic number, expected LS9I", ErrFormat)
	ErrVersionMismatch  = fmt.Errorf("%w: image version mismatch", ErrFormat)
	ErrCorruptHeader    = fmt.Errorf("%w: corrupt image header", ErrFormat)
	ErrCorruptData      = fmt.Errorf("%w: corrupt image data", ErrFormat)
	ErrChecksumMismatch = fmt.Errorf("%w: image checksum mismatch", ErrFormat)
	ErrCapacityMismatch = fmt.Errorf("%w: image capacity mismatch", ErrFormat)
)

// ---------------------------------------------------------------------------
// ImageHeader
// ---------------------------------------------------------------------------

// ImageHeader is the CBOR-encoded header that follows the magic number and
// describes the pool dump in the body.
type ImageHeader struct {
	Version     uint32 `cbor:"1,keyasint"`
	Flags       uint32 `cbor:"2,keyasint"`
	Nodes       int    `cbor:"3,keyasint"`
	VectorCells int    `cbor:"4,keyasint"`
	FreeList    int32  `cbor:"5,keyasint"`
	VectorFree  int    `cbor:"6,keyasint"`
	Symbols     int32  `cbor:"7,keyasint"`
	Macros      int32  `cbor:"8,keyasint"`
	Gensym      int    `cbor:"9,keyasint"`
	ID          string `cbor:"10,keyasint"`
	Created     int64  `cbor:"11,keyasint"`
	BodySize    int    `cbor:"12,keyasint"`
	Checksum    uint64 `cbor:"13,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

func marshalHeader(h *ImageHeader) ([]byte, error) {
	return cborEncMode.Marshal(h)
}

func unmarshalHeader(data []byte) (*ImageHeader, error) {
	var h ImageHeader
	if err := cbor.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	return &h, nil
}

// ---------------------------------------------------------------------------
// Body encoding
// ---------------------------------------------------------------------------

// The body holds the car, cdr, tag and vector arrays in that order. Cells
// are 32-bit little-endian, tags one byte each.

// bodySize returns the uncompressed body size for the given capacities.
func bodySize(nodes, vectorCells int) int {
	return nodes*9 + vectorCells*4
}

func encodeBody(s heap.Snapshot) []byte {
	n := len(s.Car)
	out := make([]byte, bodySize(n, len(s.Vec)))
	p := 0
	for _, c := range s.Car {
		binary.LittleEndian.PutUint32(out[p:], uint32(c))
		p += 4
	}
	for _, c := range s.Cdr {
		binary.LittleEndian.PutUint32(out[p:], uint32(c))
		p += 4
	}
	for _, t := range s.Tag {
		out[p] = byte(t)
		p++
	}
	for _, c := range s.Vec {
		binary.LittleEndian.PutUint32(out[p:], uint32(c))
		p += 4
	}
	return out
}

func decodeBody(body []byte, hdr *ImageHeader) (heap.Snapshot, error) {
	n, v := hdr.Nodes, hdr.VectorCells
	if len(body) != bodySize(n, v) {
		return heap.Snapshot{}, fmt.Errorf("%w: body is %d bytes, want %d", ErrCorruptData, len(body), bodySize(n, v))
	}
	s := heap.Snapshot{
		Car:        make([]heap.Cell, n),
		Cdr:        make([]heap.Cell, n),
		Tag:        make([]heap.Flags, n),
		Vec:        make([]heap.Cell, v),
		FreeList:   heap.Cell(hdr.FreeList),
		VectorFree: hdr.VectorFree,
	}
	p := 0
	for i := range s.Car {
		s.Car[i] = heap.Cell(binary.LittleEndian.Uint32(body[p:]))
		p += 4
	}
	for i := range s.Cdr {
		s.Cdr[i] = heap.Cell(binary.LittleEndian.Uint32(body[p:]))
		p += 4
	}
	for i := range s.Tag {
		s.Tag[i] = heap.Flags(body[p])
		p++
	}
	for i := range s.Vec {
		s.Vec[i] = heap.Cell(binary.LittleEndian.Uint32(body[p:]))
		p += 4
	}
	return s, nil
}

func checksum(body []byte) uint64 {
	return xxh3.Hash(body)
}

// ---------------------------------------------------------------------------
// Compression
// ---------------------------------------------------------------------------

func compressBody(body []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(body, make([]byte, 0, len(body)/4)), nil
}

func decompressBody(data []byte, size int) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(size)+1<<20))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	body, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return body, nil
}

// validateHeader checks the fields of hdr that do not depend on the body.
func validateHeader(hdr *ImageHeader) error {
	if hdr.Version != ImageVersion {
		return fmt.Errorf("%w: image is v%d, runtime reads v%d", ErrVersionMismatch, hdr.Version, ImageVersion)
	}
	if hdr.Flags&^ImageFlagCompressed != 0 {
		return fmt.Errorf("%w: unknown flags 0x%x", ErrCorruptHeader, hdr.Flags)
	}
	if hdr.Nodes <= 0 || hdr.VectorCells <= 0 {
		return fmt.Errorf("%w: empty pools", ErrCorruptHeader)
	}
	if hdr.Nodes > MaxPoolCells || hdr.VectorCells > MaxPoolCells {
		return fmt.Errorf("%w: pools of %d nodes and %d vector cells exceed the limit", ErrCorruptHeader, hdr.Nodes, hdr.VectorCells)
	}
	if hdr.BodySize != bodySize(hdr.Nodes, hdr.VectorCells) {
		return fmt.Errorf("%w: body size %d does not match capacities", ErrCorruptHeader, hdr.BodySize)
	}
	return nil
}
