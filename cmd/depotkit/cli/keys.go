// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/depotkit/depotkit/lib/manifest"
)

// keyFile is the on-disk depot key format: a YAML mapping from depot
// ID to the depot's AES-256 key as 64 hex characters.
//
//	731: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08..."
//	732: "..."
type keyFile map[uint32]string

// LoadKeys reads a depot key file and returns a key lookup for
// manifest decryption. Keys are validated eagerly so a malformed
// file fails at startup rather than mid-operation.
func LoadKeys(path string) (manifest.KeyFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var file keyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}

	keys := make(map[uint32][]byte, len(file))
	for depot, hexKey := range file {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("key file %s: depot %d: %w", path, depot, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key file %s: depot %d: key is %d bytes, want 32", path, depot, len(key))
		}
		keys[depot] = key
	}

	return func(depot uint32) ([]byte, error) {
		key, ok := keys[depot]
		if !ok {
			return nil, fmt.Errorf("no key for depot %d in %s", depot, path)
		}
		return key, nil
	}, nil
}
