// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Writer accumulates chunks and produces a manifest/data file pair.
// Production stores are written only by the Steam client; this writer
// exists so tests and tools can build bit-exact fixtures through the
// same codecs the reader uses.
//
// Typical usage:
//
//	w := NewWriter(depot)
//	id, _ := w.AddChunk(data, CodecZstd)
//	// ... add more chunks ...
//	csm, csd, _ := w.Encode()
type Writer struct {
	depot   uint32
	entries []Entry
	data    bytes.Buffer
}

// NewWriter creates a writer for a new chunk store belonging to the
// given depot.
func NewWriter(depot uint32) *Writer {
	w := &Writer{depot: depot}
	// Reserve the data header's offset space so entry offsets are
	// absolute file offsets, matching what the reader expects.
	w.data.Write(make([]byte, DataHeaderSize))
	return w
}

// AddChunk compresses data with the named codec, appends it to the
// data stream, and records its manifest entry. Returns the chunk's
// content address.
func (w *Writer) AddChunk(data []byte, codec Codec) (ChunkID, error) {
	compressed, err := Compress(data, codec)
	if err != nil {
		return ChunkID{}, err
	}
	return w.AddCompressedChunk(HashChunk(data), compressed, uint32(len(data))), nil
}

// AddCompressedChunk records an already-compressed blob under an
// explicit chunk id. Tests use this to plant corrupt chunks.
func (w *Writer) AddCompressedChunk(id ChunkID, compressed []byte, uncompressedLength uint32) ChunkID {
	w.entries = append(w.entries, Entry{
		ID:                 id,
		Offset:             uint64(w.data.Len()),
		UncompressedLength: uncompressedLength,
		CompressedLength:   uint32(len(compressed)),
	})
	w.data.Write(compressed)
	return id
}

// ChunkCount returns the number of chunks added so far.
func (w *Writer) ChunkCount() int {
	return len(w.entries)
}

// Encode returns the encoded manifest (.csm) and data (.csd) bytes.
func (w *Writer) Encode() (csm, csd []byte, err error) {
	var manifestBuf bytes.Buffer
	manifest := &Manifest{Depot: w.depot, Entries: w.entries}
	if err := EncodeManifest(&manifestBuf, manifest); err != nil {
		return nil, nil, fmt.Errorf("encoding manifest: %w", err)
	}

	csd = append([]byte(nil), w.data.Bytes()...)
	var headerBuf bytes.Buffer
	if err := EncodeDataHeader(&headerBuf, &DataHeader{Depot: w.depot}); err != nil {
		return nil, nil, fmt.Errorf("encoding data header: %w", err)
	}
	copy(csd, headerBuf.Bytes())

	return manifestBuf.Bytes(), csd, nil
}

// WriteFiles encodes the pair and writes it into dir under the
// conventional names for the given store index.
func (w *Writer) WriteFiles(dir string, index uint32) error {
	csm, csd, err := w.Encode()
	if err != nil {
		return err
	}
	csmName, csdName := StoreFileNames(w.depot, index)
	if err := os.WriteFile(filepath.Join(dir, csmName), csm, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", csmName, err)
	}
	if err := os.WriteFile(filepath.Join(dir, csdName), csd, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", csdName, err)
	}
	return nil
}
