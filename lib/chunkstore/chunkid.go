// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// ChunkID is the content address of a chunk: the SHA-1 digest of its
// uncompressed bytes. The digest algorithm is fixed by the on-disk
// format — manifests written by the Steam client declare SHA-1
// checksums and nothing else.
type ChunkID [20]byte

// HashChunk computes the content address of uncompressed chunk data.
func HashChunk(data []byte) ChunkID {
	return sha1.Sum(data)
}

// String returns the canonical lower-case hex form used in logs,
// reports, and CLI output.
func (id ChunkID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseChunkID parses a 40-character hex string into a ChunkID.
func ParseChunkID(hexString string) (ChunkID, error) {
	var id ChunkID
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("parsing chunk id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("chunk id is %d bytes, want %d", len(decoded), len(id))
	}
	copy(id[:], decoded)
	return id, nil
}
