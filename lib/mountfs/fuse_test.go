// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package mountfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	_, err := os.Stat("/dev/fuse")
	if err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount builds the fixture projection, mounts it, and returns
// the mountpoint. The mount is torn down when the test ends.
func testMount(t *testing.T) string {
	t.Helper()
	fuseAvailable(t)

	projection, _ := testProjection(t, Options{})
	mountpoint := filepath.Join(t.TempDir(), "mount")

	server, err := Mount(projection, mountpoint, MountOptions{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Serve did not return after cancellation")
		}
	})

	return mountpoint
}

func TestMountReadFile(t *testing.T) {
	mountpoint := testMount(t)

	data, err := os.ReadFile(filepath.Join(mountpoint, "readme.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Errorf("readme.txt = %q", data)
	}

	data, err = os.ReadFile(filepath.Join(mountpoint, "bin", "game"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "GAMEDATA" {
		t.Errorf("bin/game = %q", data)
	}
}

func TestMountListing(t *testing.T) {
	mountpoint := testMount(t)

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	for _, want := range []string{"bin", "extra", "link.txt", "readme.txt", "shared.cfg"} {
		if !names[want] {
			t.Errorf("missing root entry %q", want)
		}
	}
}

func TestMountAttributes(t *testing.T) {
	mountpoint := testMount(t)

	info, err := os.Stat(filepath.Join(mountpoint, "bin", "game"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 8 {
		t.Errorf("bin/game size = %d, want 8", info.Size())
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Error("bin/game should be executable")
	}

	info, err = os.Stat(filepath.Join(mountpoint, "readme.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Error("readme.txt should not be writable")
	}

	target, err := os.Readlink(filepath.Join(mountpoint, "link.txt"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "readme.txt" {
		t.Errorf("link target = %q, want readme.txt", target)
	}
}

func TestMountRejectsWrites(t *testing.T) {
	mountpoint := testMount(t)

	err := os.WriteFile(filepath.Join(mountpoint, "new.txt"), []byte("x"), 0o644)
	if !errors.Is(err, syscall.EROFS) {
		t.Errorf("creating a file = %v, want EROFS", err)
	}

	err = os.Mkdir(filepath.Join(mountpoint, "newdir"), 0o755)
	if !errors.Is(err, syscall.EROFS) {
		t.Errorf("mkdir = %v, want EROFS", err)
	}

	err = os.Remove(filepath.Join(mountpoint, "readme.txt"))
	if !errors.Is(err, syscall.EROFS) {
		t.Errorf("unlink = %v, want EROFS", err)
	}

	_, err = os.OpenFile(filepath.Join(mountpoint, "readme.txt"), os.O_WRONLY, 0)
	if !errors.Is(err, syscall.EROFS) {
		t.Errorf("opening for write = %v, want EROFS", err)
	}
}
