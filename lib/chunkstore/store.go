// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore reads Steam chunk stores: the .csm manifest and
// .csd data file pair holding all chunks for one depot. Chunks are
// content-addressed by the SHA-1 of their uncompressed bytes and
// individually compressed with one of several codecs.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/depotkit/depotkit/lib/wire"
)

// Chunk store data (.csd) header constants. The data file opens with
// a small fixed header; manifest offsets are absolute file offsets,
// so the header consumes the first DataHeaderSize bytes of the
// offset space.
const (
	csdMagic          = "SCFD"
	csdHeaderTag      = 0x14
	dataFlagEncrypted = 1 << 0

	// DataHeaderSize is the encoded size of the data file header.
	DataHeaderSize = 16
)

// DataHeader is the decoded .csd file header.
type DataHeader struct {
	Depot     uint32
	Encrypted bool
}

// DecodeDataHeader reads and validates a .csd header.
func DecodeDataHeader(r io.Reader) (*DataHeader, error) {
	var magic [4]byte
	if err := wire.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("chunk store data: reading magic: %w", err)
	}
	if string(magic[:]) != csdMagic {
		return nil, fmt.Errorf("chunk store data: %w: got %q", wire.ErrUnexpectedMagic, magic)
	}
	headerTag, err := wire.ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("chunk store data: reading header tag: %w", err)
	}
	if headerTag != csdHeaderTag {
		return nil, fmt.Errorf("chunk store data: %w: header tag %#x", wire.ErrUnsupportedVersion, headerTag)
	}
	header := &DataHeader{}
	if header.Depot, err = wire.ReadUint32(r); err != nil {
		return nil, fmt.Errorf("chunk store data: reading depot id: %w", err)
	}
	flags, err := wire.ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("chunk store data: reading flags: %w", err)
	}
	header.Encrypted = flags&dataFlagEncrypted != 0
	return header, nil
}

// EncodeDataHeader writes the exact inverse of DecodeDataHeader.
func EncodeDataHeader(w io.Writer, header *DataHeader) error {
	if _, err := w.Write([]byte(csdMagic)); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, csdHeaderTag); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, header.Depot); err != nil {
		return err
	}
	var flags uint32
	if header.Encrypted {
		flags |= dataFlagEncrypted
	}
	return wire.WriteUint32(w, flags)
}

// VerifyMode selects what ReadChunk does when a chunk's digest
// disagrees with the manifest.
type VerifyMode int

const (
	// VerifyStrict fails the read with an *IntegrityError.
	VerifyStrict VerifyMode = iota

	// VerifyLenient returns the decompressed bytes together with
	// the *IntegrityError, letting the caller decide whether to use
	// them.
	VerifyLenient
)

// Typed store errors.
var (
	// ErrChunkNotFound means the requested chunk id has no manifest
	// entry in this store.
	ErrChunkNotFound = errors.New("chunk not found in store")

	// ErrDepotMismatch means a store file declares a depot id other
	// than the one the caller expected.
	ErrDepotMismatch = errors.New("store belongs to a different depot")

	// ErrStoreEncrypted means the store is marked encrypted, which
	// never happens for offline backups.
	ErrStoreEncrypted = errors.New("chunk store is encrypted")
)

// IntegrityError reports a chunk whose decompressed bytes do not hash
// to the manifest's declared checksum.
type IntegrityError struct {
	// ID is the manifest's declared chunk id.
	ID ChunkID

	// Computed is the digest actually obtained from the data file.
	Computed ChunkID
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chunk %s: integrity check failed (computed %s)", e.ID, e.Computed)
}

// Store is one open depot chunk store session: the decoded manifest
// plus the data file handle. The store exclusively owns the handle
// until Close. ReadChunk is safe for concurrent use — reads go
// through ReadAt and share no cursor.
type Store struct {
	depot    uint32
	index    uint32
	manifest *Manifest
	data     io.ReaderAt
	closer   io.Closer
	entryFor map[ChunkID]int
	mode     VerifyMode

	// ManifestName and DataName are the file names the store was
	// opened from, kept for error messages and reports. Empty for
	// stores built from in-memory readers.
	ManifestName string
	DataName     string
}

// StoreFileNames returns the conventional file name pair for a
// depot's chunk store: "<depot>_depotcache_<index>.csm" / ".csd".
func StoreFileNames(depot, index uint32) (csm, csd string) {
	base := fmt.Sprintf("%d_depotcache_%d", depot, index)
	return base + ".csm", base + ".csd"
}

// New builds a store session from a manifest stream and a data file
// handle. Fails with ErrDepotMismatch if the manifest or data header
// declare a different depot, and ErrStoreEncrypted for encrypted
// stores. The data handle is retained for on-demand chunk reads; if
// it also implements io.Closer, Close closes it.
func New(depot uint32, manifestData io.Reader, data io.ReaderAt, mode VerifyMode) (*Store, error) {
	manifest, err := DecodeManifest(manifestData)
	if err != nil {
		return nil, err
	}
	if manifest.Depot != depot {
		return nil, fmt.Errorf("%w: manifest is for depot %d, expected %d",
			ErrDepotMismatch, manifest.Depot, depot)
	}
	if manifest.Encrypted {
		return nil, fmt.Errorf("%w: depot %d", ErrStoreEncrypted, depot)
	}

	header, err := DecodeDataHeader(io.NewSectionReader(data, 0, DataHeaderSize))
	if err != nil {
		return nil, err
	}
	if header.Depot != depot {
		return nil, fmt.Errorf("%w: data file is for depot %d, expected %d",
			ErrDepotMismatch, header.Depot, depot)
	}
	if header.Encrypted {
		return nil, fmt.Errorf("%w: depot %d data file", ErrStoreEncrypted, depot)
	}

	entryFor := make(map[ChunkID]int, len(manifest.Entries))
	for i, entry := range manifest.Entries {
		entryFor[entry.ID] = i
	}

	store := &Store{
		depot:    depot,
		manifest: manifest,
		data:     data,
		entryFor: entryFor,
		mode:     mode,
	}
	if closer, ok := data.(io.Closer); ok {
		store.closer = closer
	}
	return store, nil
}

// Open opens the chunk store for (depot, index) inside dir using the
// conventional file names.
func Open(dir string, depot, index uint32, mode VerifyMode) (*Store, error) {
	csmName, csdName := StoreFileNames(depot, index)

	manifestFile, err := os.Open(filepath.Join(dir, csmName))
	if err != nil {
		return nil, fmt.Errorf("opening chunk store manifest: %w", err)
	}
	defer manifestFile.Close()

	dataFile, err := os.Open(filepath.Join(dir, csdName))
	if err != nil {
		return nil, fmt.Errorf("opening chunk store data: %w", err)
	}

	store, err := New(depot, manifestFile, dataFile, mode)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("%s: %w", csmName, err)
	}
	store.index = index
	store.ManifestName = csmName
	store.DataName = csdName
	return store, nil
}

// Depot returns the depot id the store was opened for.
func (s *Store) Depot() uint32 { return s.depot }

// Index returns the chunk store index within the depot (1-based in
// backups written by the Steam client).
func (s *Store) Index() uint32 { return s.index }

// Manifest returns the decoded chunk directory. Callers must not
// mutate it.
func (s *Store) Manifest() *Manifest { return s.manifest }

// Contains reports whether the store holds the chunk.
func (s *Store) Contains(id ChunkID) bool {
	_, ok := s.entryFor[id]
	return ok
}

// Entry returns the manifest entry for a chunk id.
func (s *Store) Entry(id ChunkID) (Entry, bool) {
	i, ok := s.entryFor[id]
	if !ok {
		return Entry{}, false
	}
	return s.manifest.Entries[i], true
}

// ReadChunk reads, decompresses, and verifies one chunk. The result
// is a pure function of the on-disk bytes: repeated calls for the
// same id return bit-identical output.
//
// In VerifyLenient mode a digest mismatch returns the decompressed
// bytes together with the *IntegrityError; every other failure, and
// every strict-mode failure, returns nil bytes.
func (s *Store) ReadChunk(id ChunkID) ([]byte, error) {
	entry, ok := s.Entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}

	compressed := make([]byte, entry.CompressedLength)
	if _, err := s.data.ReadAt(compressed, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("chunk %s: reading %d bytes at offset %d: %w",
			id, entry.CompressedLength, entry.Offset, err)
	}

	data, err := Decompress(compressed, entry.UncompressedLength)
	if err != nil {
		return nil, fmt.Errorf("chunk %s at offset %d: %w", id, entry.Offset, err)
	}

	if computed := HashChunk(data); computed != id {
		integrityErr := &IntegrityError{ID: id, Computed: computed}
		if s.mode == VerifyLenient {
			return data, integrityErr
		}
		return nil, integrityErr
	}
	return data, nil
}

// Close releases the data file handle.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
