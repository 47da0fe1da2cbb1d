// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire holds the little-endian read/write helpers and the
// error classes shared by the binary backup-file codecs (chunk store
// manifests, chunk store data headers, content manifests). All Steam
// backup integers are little-endian and fixed-width.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decode failure classes. Codecs wrap these with file- and
// field-specific context; callers match with errors.Is.
var (
	// ErrUnexpectedMagic means the leading magic constant did not
	// identify the expected file kind.
	ErrUnexpectedMagic = errors.New("unexpected magic")

	// ErrTruncated means the input ended inside a fixed-width field
	// or declared-length region.
	ErrTruncated = errors.New("truncated input")

	// ErrUnsupportedVersion means the magic matched but the version
	// field named a format revision this code does not understand.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrTrailerChecksum means the checksum embedded in the file
	// itself (distinct from per-chunk digests) did not match the
	// decoded content.
	ErrTrailerChecksum = errors.New("trailer checksum mismatch")
)

// CredentialError reports a missing or incorrect depot decryption
// key. It is deliberately distinct from the format error classes: a
// well-formed encrypted payload with the wrong key is not a malformed
// file.
type CredentialError struct {
	Depot  uint32
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("depot %d: %s", e.Depot, e.Reason)
}

// ReadUint32 reads a little-endian uint32 from r. A short read is
// reported as ErrTruncated.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncated(err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadUint64 reads a little-endian uint64 from r.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncated(err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadUint16 reads a little-endian uint16 from r.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncated(err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// ReadFull fills buf from r, mapping short reads to ErrTruncated.
func ReadFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return truncated(err)
	}
	return nil
}

// truncated maps io EOF conditions onto ErrTruncated while keeping
// genuine IO errors (permission, device) intact.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}

// WriteUint32 writes a little-endian uint32 to w.
func WriteUint32(w io.Writer, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

// WriteUint64 writes a little-endian uint64 to w.
func WriteUint64(w io.Writer, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

// WriteUint16 writes a little-endian uint16 to w.
func WriteUint16(w io.Writer, value uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}
