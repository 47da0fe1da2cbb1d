// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeys(t *testing.T) {
	path := writeKeyFile(t, `
731: "`+strings.Repeat("ab", 32)+`"
732: "`+strings.Repeat("0f", 32)+`"
`)

	keys, err := LoadKeys(path)
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}

	key, err := keys(731)
	if err != nil {
		t.Fatalf("keys(731): %v", err)
	}
	if len(key) != 32 || !bytes.Equal(key, bytes.Repeat([]byte{0xAB}, 32)) {
		t.Errorf("keys(731) = %x", key)
	}

	if _, err := keys(999); err == nil {
		t.Error("keys(999) should fail for an unlisted depot")
	}
}

func TestLoadKeysRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", ":\n  - ["},
		{"not hex", `731: "zz"`},
		{"wrong length", `731: "abcd"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeKeyFile(t, test.content)
			if _, err := LoadKeys(path); err == nil {
				t.Error("LoadKeys should fail")
			}
		})
	}
}

func TestLoadKeysMissingFile(t *testing.T) {
	if _, err := LoadKeys(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadKeys should fail for a missing file")
	}
}
