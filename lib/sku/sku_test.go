// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package sku

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testSKU() *SKU {
	return &SKU{
		Name:        "Half-Life",
		Disks:       1,
		Disk:        1,
		Backup:      0,
		ContentType: 3,
		Apps:        []uint32{70},
		Depots:      []uint32{1, 2},
		Manifests: map[uint32]uint64{
			1: 1118841566456973742,
			2: 889215818974143,
		},
		ChunkStores: map[uint32]map[uint32]uint64{
			1: {1: 4096, 2: 8192},
			2: {1: 1024},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := testSKU()

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestDecodeRejectsWrongTopKey(t *testing.T) {
	if _, err := Decode([]byte(`"AppState" { "name" "x" }`)); err == nil {
		t.Error("Decode should reject a non-SKU document")
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no name", `"SKU" { "disks" "1" }`},
		{"no manifests", `"SKU" { "name" "x" "disks" "1" "disk" "1" "backup" "0" "contenttype" "3" "apps" { "0" "70" } "depots" { "0" "1" } }`},
		{"non-numeric depot", `"SKU" { "name" "x" "disks" "1" "disk" "1" "backup" "0" "contenttype" "3" "apps" { "0" "70" } "depots" { "0" "abc" } "manifests" { } "chunkstores" { } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.doc)); err == nil {
				t.Errorf("Decode should fail for %s", tt.name)
			}
		})
	}
}

func TestStoreIndicesSorted(t *testing.T) {
	s := &SKU{ChunkStores: map[uint32]map[uint32]uint64{
		7: {3: 1, 1: 1, 2: 1},
	}}
	got := s.StoreIndices(7)
	want := []uint32{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StoreIndices = %v, want %v", got, want)
	}
	if s.StoreIndices(99) != nil {
		t.Error("StoreIndices for unknown depot should be nil")
	}
}

func TestDepotSize(t *testing.T) {
	s := testSKU()
	if got := s.DepotSize(1); got != 12288 {
		t.Errorf("DepotSize(1) = %d, want 12288", got)
	}
	if got := s.DepotSize(99); got != 0 {
		t.Errorf("DepotSize(99) = %d, want 0", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), testSKU().Encode(), 0o644); err != nil {
		t.Fatal(err)
	}

	parsed, base, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir): %v", err)
	}
	if base != dir {
		t.Errorf("base = %q, want %q", base, dir)
	}
	if parsed.Name != "Half-Life" {
		t.Errorf("name = %q", parsed.Name)
	}

	// Pointing at a file within the backup resolves to its parent.
	parsed, base, err = Load(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("Load(file): %v", err)
	}
	if base != dir {
		t.Errorf("base from file = %q, want %q", base, dir)
	}
	if parsed.Disks != 1 {
		t.Errorf("disks = %d", parsed.Disks)
	}
}

func TestLoadMissingDescriptor(t *testing.T) {
	if _, _, err := Load(t.TempDir()); err == nil {
		t.Error("Load should fail when sku.sis is absent")
	}
}
