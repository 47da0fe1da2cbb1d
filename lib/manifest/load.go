// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// LoadFile decodes the manifest at path.
func LoadFile(path string, keys KeyFunc) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	m, err := Decode(bufio.NewReader(f), keys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Load decodes the manifest for (depot, gid) from dir using the
// conventional "<depot>_<gid>.manifest" name.
func Load(dir string, depot uint32, gid uint64, keys KeyFunc) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, ManifestFileName(depot, gid)), keys)
}
