// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"

	"github.com/depotkit/depotkit/lib/wire"
)

// Codec identifies the compression scheme of a stored chunk. The
// codec is not a depot-wide property: every compressed blob begins
// with its own tag, and one store may mix codecs across backup
// generations.
type Codec uint8

const (
	// CodecUnknown is returned for blobs whose leading bytes match
	// no known tag.
	CodecUnknown Codec = iota

	// CodecZip is the "PK" codec: the blob is a single-member zip
	// archive, deflate-compressed. Written by older Steam clients.
	CodecZip

	// CodecLZMA is the "VZ" codec: LZMA with Valve's VZ framing
	// (version byte, timestamp, CRC/length footer).
	CodecLZMA

	// CodecZstd is the "VSZa" codec: a zstd frame behind a 4-byte
	// tag. Written by current Steam clients.
	CodecZstd
)

// String returns the codec's tag name for diagnostics.
func (c Codec) String() string {
	switch c {
	case CodecZip:
		return "zip"
	case CodecLZMA:
		return "lzma"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ErrDecompress is the failure class for corrupt, short, or
// unrecognized compressed chunk data. Wrapped errors carry the
// specifics; match with errors.Is.
var ErrDecompress = errors.New("chunk decompression failed")

// DetectCodec inspects the leading bytes of a compressed blob and
// returns its codec.
func DetectCodec(blob []byte) Codec {
	switch {
	case len(blob) >= 2 && blob[0] == 'P' && blob[1] == 'K':
		return CodecZip
	case len(blob) >= 4 && blob[0] == 'V' && blob[1] == 'S' && blob[2] == 'Z' && blob[3] == 'a':
		return CodecZstd
	case len(blob) >= 2 && blob[0] == 'V' && blob[1] == 'Z':
		return CodecLZMA
	default:
		return CodecUnknown
	}
}

// Decompress inflates a compressed chunk blob to exactly
// uncompressedLength bytes. The codec is selected from the blob's own
// tag. Short or corrupt output fails with ErrDecompress.
func Decompress(blob []byte, uncompressedLength uint32) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch codec := DetectCodec(blob); codec {
	case CodecZip:
		data, err = decompressZip(blob)
	case CodecLZMA:
		data, err = decompressVZ(blob)
	case CodecZstd:
		data, err = decompressVSZ(blob)
	default:
		var tag []byte
		if len(blob) > 2 {
			tag = blob[:2]
		} else {
			tag = blob
		}
		return nil, fmt.Errorf("%w: unknown codec tag %x", ErrDecompress, tag)
	}
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) != uncompressedLength {
		return nil, fmt.Errorf("%w: got %d bytes, manifest declares %d",
			ErrDecompress, len(data), uncompressedLength)
	}
	return data, nil
}

// Zip ("PK") codec: the compressed blob is a complete single-member
// zip archive.

func decompressZip(blob []byte) ([]byte, error) {
	archive, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening zip chunk: %v", ErrDecompress, err)
	}
	if len(archive.File) == 0 {
		return nil, fmt.Errorf("%w: zip chunk has no members", ErrDecompress)
	}
	member, err := archive.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening zip member: %v", ErrDecompress, err)
	}
	defer member.Close()
	data, err := io.ReadAll(member)
	if err != nil {
		return nil, fmt.Errorf("%w: inflating zip member: %v", ErrDecompress, err)
	}
	return data, nil
}

// compressZip builds a PK chunk: a zip archive with one deflated
// member. Used by fixture builders and store encoders.
func compressZip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)
	member, err := archive.CreateHeader(&zip.FileHeader{Name: "z", Method: zip.Deflate})
	if err != nil {
		return nil, fmt.Errorf("creating zip member: %w", err)
	}
	if _, err := member.Write(data); err != nil {
		return nil, fmt.Errorf("deflating chunk: %w", err)
	}
	if err := archive.Close(); err != nil {
		return nil, fmt.Errorf("finishing zip chunk: %w", err)
	}
	return buf.Bytes(), nil
}

// VZ codec: "VZ" + version byte 'a' + uint32 timestamp, then the
// first five bytes of an LZMA header (properties byte + dictionary
// capacity) and the raw LZMA stream, then a footer of uint32 CRC32
// (IEEE, over the uncompressed bytes), uint32 uncompressed length,
// and the closing tag "zv".

const (
	vzHeaderSize = 7  // 'V' 'Z' 'a' + timestamp
	vzFooterSize = 10 // crc + length + 'z' 'v'
	vzPropsSize  = 5  // LZMA properties byte + dictionary capacity
)

func decompressVZ(blob []byte) ([]byte, error) {
	if len(blob) < vzHeaderSize+vzPropsSize+vzFooterSize {
		return nil, fmt.Errorf("%w: VZ chunk too short (%d bytes)", ErrDecompress, len(blob))
	}
	if blob[2] != 'a' {
		return nil, fmt.Errorf("%w: VZ version %q", ErrDecompress, blob[2])
	}
	footer := blob[len(blob)-vzFooterSize:]
	if footer[8] != 'z' || footer[9] != 'v' {
		return nil, fmt.Errorf("%w: VZ footer tag missing", ErrDecompress)
	}
	declaredCRC := leUint32(footer[:4])
	declaredLength := leUint32(footer[4:8])
	body := blob[vzHeaderSize : len(blob)-vzFooterSize]

	// Rebuild the 13-byte classic LZMA header that the decoder
	// expects: the stored 5 property bytes plus an "unknown size"
	// field, so the end-of-stream marker terminates decoding.
	header := make([]byte, 13)
	copy(header, body[:vzPropsSize])
	for i := 5; i < 13; i++ {
		header[i] = 0xFF
	}

	reader, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(body[vzPropsSize:])))
	if err != nil {
		return nil, fmt.Errorf("%w: initializing LZMA reader: %v", ErrDecompress, err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: LZMA stream: %v", ErrDecompress, err)
	}

	if uint32(len(data)) != declaredLength {
		return nil, fmt.Errorf("%w: VZ footer declares %d bytes, got %d",
			ErrDecompress, declaredLength, len(data))
	}
	if crc := crc32.ChecksumIEEE(data); crc != declaredCRC {
		return nil, fmt.Errorf("%w: VZ footer CRC %#08x, computed %#08x",
			ErrDecompress, declaredCRC, crc)
	}
	return data, nil
}

func compressVZ(data []byte) ([]byte, error) {
	var stream bytes.Buffer
	writer, err := lzma.NewWriter(&stream)
	if err != nil {
		return nil, fmt.Errorf("initializing LZMA writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compressing VZ chunk: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing VZ chunk: %w", err)
	}

	// The writer emits a classic 13-byte header. VZ keeps only the
	// first five bytes (properties + dictionary capacity) and drops
	// the size field.
	encoded := stream.Bytes()
	var out bytes.Buffer
	out.WriteString("VZa")
	_ = wire.WriteUint32(&out, 0) // timestamp, unused by readers
	out.Write(encoded[:vzPropsSize])
	out.Write(encoded[13:])
	_ = wire.WriteUint32(&out, crc32.ChecksumIEEE(data))
	_ = wire.WriteUint32(&out, uint32(len(data)))
	out.WriteString("zv")
	return out.Bytes(), nil
}

// VSZa codec: the 4-byte tag followed by one zstd frame. The frame
// is self-delimiting, so no footer is needed.

// Shared zstd coder pair, reused across calls. Both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("chunkstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunkstore: zstd decoder initialization failed: " + err.Error())
	}
}

func decompressVSZ(blob []byte) ([]byte, error) {
	data, err := zstdDecoder.DecodeAll(blob[4:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd frame: %v", ErrDecompress, err)
	}
	return data, nil
}

func compressVSZ(data []byte) []byte {
	out := make([]byte, 4, 4+len(data)/2+64)
	copy(out, "VSZa")
	return zstdEncoder.EncodeAll(data, out)
}

// Compress produces a compressed blob in the named codec. Exposed for
// fixture construction: production stores are read-only.
func Compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecZip:
		return compressZip(data)
	case CodecLZMA:
		return compressVZ(data)
	case CodecZstd:
		return compressVSZ(data), nil
	default:
		return nil, fmt.Errorf("cannot compress with codec %s", codec)
	}
}
