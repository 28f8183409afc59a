package vm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/ls9/heap"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ImageWriter: Serializes the heap to a binary image
// ---------------------------------------------------------------------------

// An image is
//
//	magic "LS9I" | uint32 header length | CBOR ImageHeader | body
//
// where the body is the raw pool dump, zstd-compressed when the header
// carries ImageFlagCompressed. The checksum covers the uncompressed body.

// ImageWriter serializes the pools and symbol table of a machine.
type ImageWriter struct {
	m        *Machine
	compress bool
}

// NewImageWriter creates a writer for m.
func NewImageWriter(m *Machine) *ImageWriter {
	return &ImageWriter{m: m, compress: m.config.CompressImage}
}

// SetCompress selects a compressed body.
func (w *ImageWriter) SetCompress(on bool) {
	w.compress = on
}

// WriteTo collects garbage and writes the image to out. It returns the
// header that was written.
func (w *ImageWriter) WriteTo(out io.Writer) (*ImageHeader, error) {
	h := w.m.Heap
	h.Collect()
	s := h.Snapshot()
	list, macros, gensym := w.m.Symbols.state()

	raw := encodeBody(s)
	hdr := &ImageHeader{
		Version:     ImageVersion,
		Flags:       ImageFlagNone,
		Nodes:       h.Nodes(),
		VectorCells: h.VectorCells(),
		FreeList:    int32(s.FreeList),
		VectorFree:  s.VectorFree,
		Symbols:     int32(list),
		Macros:      int32(macros),
		Gensym:      gensym,
		ID:          uuid.New().String(),
		Created:     time.Now().Unix(),
		BodySize:    len(raw),
		Checksum:    checksum(raw),
	}
	body := raw
	if w.compress {
		var err error
		if body, err = compressBody(raw); err != nil {
			return nil, fmt.Errorf("compressing image: %w", err)
		}
		hdr.Flags |= ImageFlagCompressed
	}

	meta, err := marshalHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("encoding image header: %w", err)
	}
	bw := bufio.NewWriter(out)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(meta)))
	for _, part := range [][]byte{ImageMagic[:], lenBuf[:], meta, body} {
		if _, err := bw.Write(part); err != nil {
			return nil, err
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return hdr, nil
}

// WriteToFile writes the image to a temporary file and renames it over
// path.
func (w *ImageWriter) WriteToFile(path string) (*ImageHeader, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ls9-image-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	hdr, err := w.WriteTo(tmp)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}
	return hdr, nil
}

// DumpImage writes the heap to path.
func (m *Machine) DumpImage(path string) error {
	hdr, err := NewImageWriter(m).WriteToFile(path)
	if err != nil {
		return err
	}
	log.Infof("dumped image %s to %s (%d free nodes)", hdr.ID, path, m.Heap.FreeNodes())
	return nil
}

// usedNodes counts allocated nodes in a snapshot.
func usedNodes(s heap.Snapshot) int {
	n := 0
	for _, t := range s.Tag {
		if t&heap.FlagUsed != 0 {
			n++
		}
	}
	return n
}
