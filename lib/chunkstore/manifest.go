// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/depotkit/depotkit/lib/wire"
)

// Chunk store manifest (.csm) format constants.
const (
	// csmMagic opens every manifest: the four ASCII bytes "SCFS"
	// followed by the uint32 header tag 0x14.
	csmMagic     = "SCFS"
	csmHeaderTag = 0x14

	// Version field values. Version 3 marks an encrypted store;
	// Steam never writes encrypted stores into offline backups, but
	// the field must still be decoded to reject them cleanly.
	csmVersionPlain     = 2
	csmVersionEncrypted = 3

	// csmEntrySize is the fixed width of one manifest entry:
	// 20-byte chunk id + 8-byte offset + 4-byte uncompressed length
	// + 4-byte compressed length.
	csmEntrySize = 36
)

// crc32cTable is the CRC32C (Castagnoli) polynomial table used for
// the manifest trailer checksum.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Entry locates one chunk inside the paired data file.
type Entry struct {
	// ID is the chunk's content address (SHA-1 of the uncompressed
	// bytes), which doubles as its declared checksum.
	ID ChunkID

	// Offset is the absolute byte offset of the compressed blob
	// within the data file.
	Offset uint64

	// UncompressedLength and CompressedLength are the blob's sizes
	// before and after compression.
	UncompressedLength uint32
	CompressedLength   uint32
}

// Manifest is a decoded .csm file: the ordered chunk directory for
// one depot's chunk store. Read once per depot session; immutable
// afterwards.
type Manifest struct {
	// Depot is the depot id this store belongs to.
	Depot uint32

	// Encrypted reports whether the store's chunks are encrypted
	// (version 3). Backup stores are always plain.
	Encrypted bool

	// Entries holds the chunk directory in file order.
	Entries []Entry
}

// DecodeManifest reads a chunk store manifest as a forward scan over
// r. Manifests for large depots carry tens of thousands of entries,
// so decoding never buffers the whole file: each entry is read, added
// to the running trailer checksum, and appended. The trailing CRC32C
// covers every byte before it; a mismatch fails with
// wire.ErrTrailerChecksum.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	sum := crc32.New(crc32cTable)
	tr := io.TeeReader(r, sum)

	var magic [4]byte
	if err := wire.ReadFull(tr, magic[:]); err != nil {
		return nil, fmt.Errorf("chunk store manifest: reading magic: %w", err)
	}
	if string(magic[:]) != csmMagic {
		return nil, fmt.Errorf("chunk store manifest: %w: got %q", wire.ErrUnexpectedMagic, magic)
	}
	headerTag, err := wire.ReadUint32(tr)
	if err != nil {
		return nil, fmt.Errorf("chunk store manifest: reading header tag: %w", err)
	}
	if headerTag != csmHeaderTag {
		return nil, fmt.Errorf("chunk store manifest: %w: header tag %#x", wire.ErrUnsupportedVersion, headerTag)
	}

	version, err := wire.ReadUint32(tr)
	if err != nil {
		return nil, fmt.Errorf("chunk store manifest: reading version: %w", err)
	}
	manifest := &Manifest{}
	switch version {
	case csmVersionPlain:
	case csmVersionEncrypted:
		manifest.Encrypted = true
	default:
		return nil, fmt.Errorf("chunk store manifest: %w: version %d", wire.ErrUnsupportedVersion, version)
	}

	if manifest.Depot, err = wire.ReadUint32(tr); err != nil {
		return nil, fmt.Errorf("chunk store manifest: reading depot id: %w", err)
	}

	count, err := wire.ReadUint32(tr)
	if err != nil {
		return nil, fmt.Errorf("chunk store manifest: reading entry count: %w", err)
	}

	manifest.Entries = make([]Entry, 0, count)
	var buf [csmEntrySize]byte
	for i := uint32(0); i < count; i++ {
		if err := wire.ReadFull(tr, buf[:]); err != nil {
			return nil, fmt.Errorf("chunk store manifest: entry %d: %w", i, err)
		}
		manifest.Entries = append(manifest.Entries, decodeEntry(buf))
	}

	if err := checkTrailer(r, sum); err != nil {
		return nil, fmt.Errorf("chunk store manifest: %w", err)
	}
	return manifest, nil
}

func decodeEntry(buf [csmEntrySize]byte) Entry {
	var entry Entry
	copy(entry.ID[:], buf[:20])
	entry.Offset = leUint64(buf[20:28])
	entry.UncompressedLength = leUint32(buf[28:32])
	entry.CompressedLength = leUint32(buf[32:36])
	return entry
}

// checkTrailer reads the trailing CRC32C directly from r (not through
// the tee) and compares it against the running sum of everything
// decoded so far.
func checkTrailer(r io.Reader, sum hash.Hash32) error {
	declared, err := wire.ReadUint32(r)
	if err != nil {
		return fmt.Errorf("reading trailer checksum: %w", err)
	}
	if declared != sum.Sum32() {
		return fmt.Errorf("%w: declared %#08x, computed %#08x",
			wire.ErrTrailerChecksum, declared, sum.Sum32())
	}
	return nil
}

// EncodeManifest writes the exact inverse of DecodeManifest,
// including the trailer checksum. Fixture builders in tests depend
// on the round trip being bit-exact.
func EncodeManifest(w io.Writer, manifest *Manifest) error {
	sum := crc32.New(crc32cTable)
	tw := io.MultiWriter(w, sum)

	if _, err := tw.Write([]byte(csmMagic)); err != nil {
		return fmt.Errorf("writing magic: %w", err)
	}
	if err := wire.WriteUint32(tw, csmHeaderTag); err != nil {
		return fmt.Errorf("writing header tag: %w", err)
	}
	version := uint32(csmVersionPlain)
	if manifest.Encrypted {
		version = csmVersionEncrypted
	}
	if err := wire.WriteUint32(tw, version); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	if err := wire.WriteUint32(tw, manifest.Depot); err != nil {
		return fmt.Errorf("writing depot id: %w", err)
	}
	if err := wire.WriteUint32(tw, uint32(len(manifest.Entries))); err != nil {
		return fmt.Errorf("writing entry count: %w", err)
	}

	for i, entry := range manifest.Entries {
		if _, err := tw.Write(entry.ID[:]); err != nil {
			return fmt.Errorf("writing entry %d id: %w", i, err)
		}
		if err := wire.WriteUint64(tw, entry.Offset); err != nil {
			return fmt.Errorf("writing entry %d offset: %w", i, err)
		}
		if err := wire.WriteUint32(tw, entry.UncompressedLength); err != nil {
			return fmt.Errorf("writing entry %d uncompressed length: %w", i, err)
		}
		if err := wire.WriteUint32(tw, entry.CompressedLength); err != nil {
			return fmt.Errorf("writing entry %d compressed length: %w", i, err)
		}
	}

	// Trailer goes to w only; it is not part of its own coverage.
	if err := wire.WriteUint32(w, sum.Sum32()); err != nil {
		return fmt.Errorf("writing trailer checksum: %w", err)
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}
