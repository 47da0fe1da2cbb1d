// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint is a 32-byte BLAKE3 digest over a manifest's canonical
// encoded file list. Two manifests with the same fingerprint describe
// the same tree: same paths, flags, sizes, and chunk refs. Used as a
// fast pre-check before structural divergence comparison, and printed
// by inspect.
type Fingerprint [32]byte

// fingerprintDomainKey keys the BLAKE3 hash for domain separation:
// the ASCII domain name zero-padded to 32 bytes. Fixed constant —
// changing it changes every fingerprint.
var fingerprintDomainKey = [32]byte{
	'd', 'e', 'p', 'o', 't', 'k', 'i', 't', '.', 'm', 'a', 'n', 'i', 'f', 'e', 's',
	't', '.', 'f', 'i', 'l', 'e', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint computes the manifest's file-list fingerprint.
func (m *Manifest) Fingerprint() Fingerprint {
	hasher, err := blake3.NewKeyed(fingerprintDomainKey[:])
	if err != nil {
		panic("manifest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encodePayload(m.Files))
	var fp Fingerprint
	copy(fp[:], hasher.Sum(nil))
	return fp
}

// String returns the fingerprint in lower-case hex.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}
