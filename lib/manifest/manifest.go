// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest decodes Steam depot content manifests: the
// .manifest files that map a depot's logical file tree onto the
// chunks held in its chunk store. A manifest is a sequence of framed
// sections (payload, metadata, signature) closed by a terminator
// magic; the payload may be encrypted with the depot's key.
package manifest

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/depotkit/depotkit/lib/chunkstore"
	"github.com/depotkit/depotkit/lib/wire"
)

// Section magics. Each section is framed as LE u32 magic + LE u32
// body length + body; the terminator is a bare magic with no length.
const (
	payloadMagic    = 0x71F617D0
	metadataMagic   = 0x1F4812BE
	signatureMagic  = 0x1B81B817
	terminatorMagic = 0x32C415AB
)

// Metadata flag bits.
const (
	// metadataFlagEncrypted marks the payload section as encrypted
	// with the depot key.
	metadataFlagEncrypted = 1 << 0
)

// FileFlags carries per-file attribute bits from the payload.
type FileFlags uint32

const (
	// FlagDirectory marks a directory entry. Directory entries have
	// zero size and no chunk refs.
	FlagDirectory FileFlags = 1 << 6

	// FlagExecutable marks a file that should be mapped with the
	// execute bit set.
	FlagExecutable FileFlags = 1 << 8
)

// IsDirectory reports whether the entry is a directory.
func (f FileFlags) IsDirectory() bool { return f&FlagDirectory != 0 }

// IsExecutable reports whether the entry carries the execute bit.
func (f FileFlags) IsExecutable() bool { return f&FlagExecutable != 0 }

// ChunkRef maps one contiguous region of a file onto a stored chunk.
type ChunkRef struct {
	// ID is the chunk's content address in the depot's chunk store.
	ID chunkstore.ChunkID

	// Offset is the region's starting byte offset within the file.
	Offset uint64

	// Length is the region's size: the chunk's uncompressed length.
	Length uint32
}

// FileEntry is one file or directory in the manifest payload. Chunk
// refs are ordered by offset, contiguous, and cover exactly
// [0, Size); directories and empty files have none.
type FileEntry struct {
	Path       string
	Flags      FileFlags
	Size       uint64
	LinkTarget string
	Chunks     []ChunkRef
}

// IsSymlink reports whether the entry is a symbolic link. Links are
// identified by a non-empty target, not a flag bit.
func (e *FileEntry) IsSymlink() bool { return e.LinkTarget != "" }

// Manifest is one decoded content manifest.
type Manifest struct {
	// Depot and GID identify the manifest: the depot it describes
	// and the manifest generation id recorded in sku.sis.
	Depot uint32
	GID   uint64

	// CreationTime is when the Steam backend generated the manifest.
	CreationTime time.Time

	// OriginalSize and CompressedSize total the depot's content
	// before and after chunk compression.
	OriginalSize   uint64
	CompressedSize uint64

	// UniqueChunks counts distinct chunk ids across all files.
	UniqueChunks uint32

	// Files holds the payload entries in manifest order.
	Files []FileEntry

	// Signature is the backend signature section, preserved verbatim
	// but not validated.
	Signature []byte
}

// ManifestFileName returns the conventional on-disk name for a
// manifest: "<depot>_<gid>.manifest".
func ManifestFileName(depot uint32, gid uint64) string {
	return fmt.Sprintf("%d_%d.manifest", depot, gid)
}

// KeyFunc supplies the 32-byte depot key for encrypted payloads.
// Returning an error means no key is available for that depot.
type KeyFunc func(depot uint32) ([]byte, error)

// Decode reads a content manifest. Sections may appear in any order;
// the metadata section must be present, and its flags decide whether
// the payload is decrypted (via keys) before parsing. A missing or
// wrong key surfaces as *wire.CredentialError; format damage as the
// wire error classes.
func Decode(r io.Reader, keys KeyFunc) (*Manifest, error) {
	var (
		payloadBody  []byte
		metadataBody []byte
		signature    []byte
	)

	// First pass: collect section bodies. The payload cannot be
	// parsed until metadata says whether it is encrypted.
	for {
		magic, err := wire.ReadUint32(r)
		if err != nil {
			return nil, fmt.Errorf("content manifest: reading section magic: %w", err)
		}
		if magic == terminatorMagic {
			break
		}

		length, err := wire.ReadUint32(r)
		if err != nil {
			return nil, fmt.Errorf("content manifest: reading section length: %w", err)
		}
		body := make([]byte, length)
		if err := wire.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("content manifest: reading section %#x body: %w", magic, err)
		}

		switch magic {
		case payloadMagic:
			payloadBody = body
		case metadataMagic:
			metadataBody = body
		case signatureMagic:
			signature = body
		default:
			return nil, fmt.Errorf("content manifest: %w: section magic %#x", wire.ErrUnexpectedMagic, magic)
		}
	}

	if metadataBody == nil {
		return nil, fmt.Errorf("content manifest: %w: no metadata section", wire.ErrTruncated)
	}
	if payloadBody == nil {
		return nil, fmt.Errorf("content manifest: %w: no payload section", wire.ErrTruncated)
	}

	manifest := &Manifest{Signature: signature}
	encrypted, crcStored, crcClear, err := decodeMetadata(metadataBody, manifest)
	if err != nil {
		return nil, err
	}

	// The stored CRC covers the payload bytes as written (encrypted
	// or not); a mismatch here is file damage, never a key problem.
	if crc32.ChecksumIEEE(payloadBody) != crcStored {
		return nil, fmt.Errorf("content manifest: %w: stored payload CRC", wire.ErrTrailerChecksum)
	}

	if encrypted {
		if keys == nil {
			return nil, &wire.CredentialError{Depot: manifest.Depot, Reason: "manifest payload is encrypted and no key source was provided"}
		}
		key, err := keys(manifest.Depot)
		if err != nil {
			return nil, &wire.CredentialError{Depot: manifest.Depot, Reason: fmt.Sprintf("obtaining depot key: %v", err)}
		}
		payloadBody, err = decryptPayload(manifest.Depot, key, payloadBody)
		if err != nil {
			return nil, err
		}
		// A well-formed decryption that fails the clear CRC means
		// the key was wrong: CBC with a valid-looking pad can still
		// produce garbage.
		if crc32.ChecksumIEEE(payloadBody) != crcClear {
			return nil, &wire.CredentialError{Depot: manifest.Depot, Reason: "payload checksum mismatch after decryption (wrong depot key)"}
		}
	}

	if manifest.Files, err = decodePayload(payloadBody); err != nil {
		return nil, err
	}
	return manifest, nil
}

// metadataSize is the fixed encoded size of the metadata body.
const metadataSize = 52

func decodeMetadata(body []byte, manifest *Manifest) (encrypted bool, crcStored, crcClear uint32, err error) {
	if len(body) != metadataSize {
		return false, 0, 0, fmt.Errorf("content manifest: %w: metadata body is %d bytes, want %d",
			wire.ErrTruncated, len(body), metadataSize)
	}
	r := bytes.NewReader(body)
	manifest.Depot, _ = wire.ReadUint32(r)
	manifest.GID, _ = wire.ReadUint64(r)
	creation, _ := wire.ReadUint64(r)
	manifest.CreationTime = time.Unix(int64(creation), 0).UTC()
	manifest.OriginalSize, _ = wire.ReadUint64(r)
	manifest.CompressedSize, _ = wire.ReadUint64(r)
	manifest.UniqueChunks, _ = wire.ReadUint32(r)
	flags, _ := wire.ReadUint32(r)
	crcStored, _ = wire.ReadUint32(r)
	crcClear, _ = wire.ReadUint32(r)
	return flags&metadataFlagEncrypted != 0, crcStored, crcClear, nil
}

func decodePayload(body []byte) ([]FileEntry, error) {
	r := bytes.NewReader(body)
	count, err := wire.ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("content manifest payload: reading file count: %w", err)
	}

	files := make([]FileEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, err := decodeFileEntry(r)
		if err != nil {
			return nil, fmt.Errorf("content manifest payload: file %d: %w", i, err)
		}
		files = append(files, entry)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("content manifest payload: %d trailing bytes after last file", r.Len())
	}
	return files, nil
}

func decodeFileEntry(r *bytes.Reader) (FileEntry, error) {
	var entry FileEntry

	path, err := readString(r)
	if err != nil {
		return entry, fmt.Errorf("reading path: %w", err)
	}
	entry.Path = path

	flags, err := wire.ReadUint32(r)
	if err != nil {
		return entry, fmt.Errorf("reading flags: %w", err)
	}
	entry.Flags = FileFlags(flags)

	if entry.Size, err = wire.ReadUint64(r); err != nil {
		return entry, fmt.Errorf("reading size: %w", err)
	}
	if entry.LinkTarget, err = readString(r); err != nil {
		return entry, fmt.Errorf("reading link target: %w", err)
	}

	chunkCount, err := wire.ReadUint32(r)
	if err != nil {
		return entry, fmt.Errorf("reading chunk count: %w", err)
	}
	if chunkCount > 0 {
		entry.Chunks = make([]ChunkRef, 0, chunkCount)
	}
	for i := uint32(0); i < chunkCount; i++ {
		ref, err := decodeChunkRef(r)
		if err != nil {
			return entry, fmt.Errorf("chunk ref %d: %w", i, err)
		}
		entry.Chunks = append(entry.Chunks, ref)
	}

	if err := validateChunkLayout(&entry); err != nil {
		return entry, err
	}
	return entry, nil
}

func decodeChunkRef(r *bytes.Reader) (ChunkRef, error) {
	var ref ChunkRef
	if err := wire.ReadFull(r, ref.ID[:]); err != nil {
		return ref, fmt.Errorf("reading chunk id: %w", err)
	}
	var err error
	if ref.Offset, err = wire.ReadUint64(r); err != nil {
		return ref, fmt.Errorf("reading offset: %w", err)
	}
	if ref.Length, err = wire.ReadUint32(r); err != nil {
		return ref, fmt.Errorf("reading length: %w", err)
	}
	return ref, nil
}

// validateChunkLayout checks the payload invariant: chunk refs are
// offset-ordered, contiguous, and cover exactly [0, Size).
func validateChunkLayout(entry *FileEntry) error {
	if entry.Flags.IsDirectory() {
		if len(entry.Chunks) != 0 || entry.Size != 0 {
			return fmt.Errorf("directory %q has size %d and %d chunk refs",
				entry.Path, entry.Size, len(entry.Chunks))
		}
		return nil
	}

	var next uint64
	for i, ref := range entry.Chunks {
		if ref.Offset != next {
			return fmt.Errorf("file %q: chunk ref %d starts at %d, expected %d",
				entry.Path, i, ref.Offset, next)
		}
		next += uint64(ref.Length)
	}
	if next != entry.Size {
		return fmt.Errorf("file %q: chunk refs cover %d bytes, size is %d",
			entry.Path, next, entry.Size)
	}
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	length, err := wire.ReadUint16(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if err := wire.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Encode writes the manifest with a plain (unencrypted) payload. The
// output decodes back to an equal manifest; fixture builders and the
// divergence tests depend on that.
func Encode(w io.Writer, manifest *Manifest) error {
	return encode(w, manifest, nil)
}

// EncodeEncrypted writes the manifest with the payload encrypted
// under the 32-byte depot key.
func EncodeEncrypted(w io.Writer, manifest *Manifest, key []byte) error {
	if len(key) != depotKeySize {
		return fmt.Errorf("depot key is %d bytes, want %d", len(key), depotKeySize)
	}
	return encode(w, manifest, key)
}

func encode(w io.Writer, manifest *Manifest, key []byte) error {
	payload := encodePayload(manifest.Files)
	crcClear := crc32.ChecksumIEEE(payload)

	var flags uint32
	if key != nil {
		encrypted, err := encryptPayload(key, payload)
		if err != nil {
			return fmt.Errorf("encrypting payload: %w", err)
		}
		payload = encrypted
		flags |= metadataFlagEncrypted
	}
	crcStored := crc32.ChecksumIEEE(payload)

	if err := writeSection(w, payloadMagic, payload); err != nil {
		return fmt.Errorf("writing payload section: %w", err)
	}
	if err := writeSection(w, metadataMagic, encodeMetadata(manifest, flags, crcStored, crcClear)); err != nil {
		return fmt.Errorf("writing metadata section: %w", err)
	}
	if len(manifest.Signature) > 0 {
		if err := writeSection(w, signatureMagic, manifest.Signature); err != nil {
			return fmt.Errorf("writing signature section: %w", err)
		}
	}
	if err := wire.WriteUint32(w, terminatorMagic); err != nil {
		return fmt.Errorf("writing terminator: %w", err)
	}
	return nil
}

func writeSection(w io.Writer, magic uint32, body []byte) error {
	if err := wire.WriteUint32(w, magic); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, uint32(len(body))); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func encodeMetadata(manifest *Manifest, flags, crcStored, crcClear uint32) []byte {
	var buf bytes.Buffer
	buf.Grow(metadataSize)
	_ = wire.WriteUint32(&buf, manifest.Depot)
	_ = wire.WriteUint64(&buf, manifest.GID)
	_ = wire.WriteUint64(&buf, uint64(manifest.CreationTime.Unix()))
	_ = wire.WriteUint64(&buf, manifest.OriginalSize)
	_ = wire.WriteUint64(&buf, manifest.CompressedSize)
	_ = wire.WriteUint32(&buf, manifest.UniqueChunks)
	_ = wire.WriteUint32(&buf, flags)
	_ = wire.WriteUint32(&buf, crcStored)
	_ = wire.WriteUint32(&buf, crcClear)
	return buf.Bytes()
}

func encodePayload(files []FileEntry) []byte {
	var buf bytes.Buffer
	_ = wire.WriteUint32(&buf, uint32(len(files)))
	for _, entry := range files {
		writeString(&buf, entry.Path)
		_ = wire.WriteUint32(&buf, uint32(entry.Flags))
		_ = wire.WriteUint64(&buf, entry.Size)
		writeString(&buf, entry.LinkTarget)
		_ = wire.WriteUint32(&buf, uint32(len(entry.Chunks)))
		for _, ref := range entry.Chunks {
			buf.Write(ref.ID[:])
			_ = wire.WriteUint64(&buf, ref.Offset)
			_ = wire.WriteUint32(&buf, ref.Length)
		}
	}
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	_ = wire.WriteUint16(buf, uint16(len(s)))
	buf.WriteString(s)
}
