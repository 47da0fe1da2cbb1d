// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/depotkit/depotkit/cmd/depotkit/cli"
	"github.com/depotkit/depotkit/lib/chunkstore"
	"github.com/depotkit/depotkit/lib/codec"
	"github.com/depotkit/depotkit/lib/manifest"
	"github.com/depotkit/depotkit/lib/sku"
)

const (
	fixtureDepot uint32 = 100
	fixtureGID   uint64 = 42
)

// writeFixtureBackup builds a one-depot backup in dir: a.txt split
// across two chunks plus a directory entry, one chunk store, and the
// matching descriptor and manifest.
func writeFixtureBackup(t *testing.T, dir string) {
	t.Helper()
	content := []byte("abcdefgh")

	w := chunkstore.NewWriter(fixtureDepot)
	firstID, err := w.AddChunk(content[:4], chunkstore.CodecZstd)
	if err != nil {
		t.Fatal(err)
	}
	secondID, err := w.AddChunk(content[4:], chunkstore.CodecZip)
	if err != nil {
		t.Fatal(err)
	}
	csm, csd, err := w.Encode()
	if err != nil {
		t.Fatal(err)
	}
	csmName, csdName := chunkstore.StoreFileNames(fixtureDepot, 1)
	mustWriteFile(t, filepath.Join(dir, csmName), csm)
	mustWriteFile(t, filepath.Join(dir, csdName), csd)

	m := &manifest.Manifest{
		Depot:        fixtureDepot,
		GID:          fixtureGID,
		OriginalSize: uint64(len(content)),
		UniqueChunks: 2,
		Files: []manifest.FileEntry{
			{Path: "docs", Flags: manifest.FlagDirectory},
			{
				Path: "a.txt",
				Size: uint64(len(content)),
				Chunks: []manifest.ChunkRef{
					{ID: firstID, Offset: 0, Length: 4},
					{ID: secondID, Offset: 4, Length: 4},
				},
			},
		},
	}
	var manifestBuf bytes.Buffer
	if err := manifest.Encode(&manifestBuf, m); err != nil {
		t.Fatal(err)
	}
	mustWriteFile(t, filepath.Join(dir, manifest.ManifestFileName(fixtureDepot, fixtureGID)), manifestBuf.Bytes())

	descriptor := &sku.SKU{
		Name:        "Fixture Game",
		Disks:       1,
		Disk:        1,
		ContentType: 3,
		Apps:        []uint32{10},
		Depots:      []uint32{fixtureDepot},
		Manifests:   map[uint32]uint64{fixtureDepot: fixtureGID},
		ChunkStores: map[uint32]map[uint32]uint64{
			fixtureDepot: {1: uint64(len(csd))},
		},
	}
	mustWriteFile(t, filepath.Join(dir, sku.FileName), descriptor.Encode())
}

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// corruptStoreData flips one byte inside the fixture's chunk data,
// past the data file header.
func corruptStoreData(t *testing.T, dir string) {
	t.Helper()
	_, csdName := chunkstore.StoreFileNames(fixtureDepot, 1)
	path := filepath.Join(dir, csdName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[chunkstore.DataHeaderSize+2] ^= 0xFF
	mustWriteFile(t, path, data)
}

// captureStdout runs fn with os.Stdout redirected into a pipe and
// returns everything written alongside fn's error.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	orig := os.Stdout
	read, write, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = write
	defer func() { os.Stdout = orig }()

	runErr := fn()
	write.Close()
	os.Stdout = orig

	out, err := io.ReadAll(read)
	if err != nil {
		t.Fatal(err)
	}
	return string(out), runErr
}

func TestRunVerifyCleanBackup(t *testing.T) {
	dir := t.TempDir()
	writeFixtureBackup(t, dir)

	var p verifyParams
	out, err := captureStdout(t, func() error {
		return runVerify(dir, &p)
	})
	if err != nil {
		t.Fatalf("verify on a clean backup: %v", err)
	}
	if !strings.Contains(out, "depot 100 (manifest 42): ok") {
		t.Errorf("report does not mark depot 100 ok:\n%s", out)
	}
	if !strings.Contains(out, "0 failed") {
		t.Errorf("report counts failures on a clean backup:\n%s", out)
	}
}

func TestRunVerifyDamagedBackup(t *testing.T) {
	dir := t.TempDir()
	writeFixtureBackup(t, dir)
	corruptStoreData(t, dir)

	var p verifyParams
	out, err := captureStdout(t, func() error {
		return runVerify(dir, &p)
	})
	if err == nil {
		t.Fatal("verify on a damaged backup returned nil")
	}

	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("verify returned %T (%v), want *cli.ExitError", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1", exitErr.ExitCode())
	}
	if !strings.Contains(out, "DAMAGED") {
		t.Errorf("report does not mark the depot damaged:\n%s", out)
	}
}

func TestRunVerifyWritesReport(t *testing.T) {
	dir := t.TempDir()
	writeFixtureBackup(t, dir)
	corruptStoreData(t, dir)

	p := verifyParams{reportPath: filepath.Join(t.TempDir(), "verify.cbor")}
	if _, err := captureStdout(t, func() error {
		return runVerify(dir, &p)
	}); err == nil {
		t.Fatal("verify on a damaged backup returned nil")
	}

	data, err := os.ReadFile(p.reportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var decoded struct {
		Backup string `cbor:"backup"`
		Ok     bool   `cbor:"ok"`
	}
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if decoded.Ok {
		t.Error("report claims the damaged backup is ok")
	}
}
