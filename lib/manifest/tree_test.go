// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"reflect"
	"testing"
)

func buildTree(t *testing.T, files []FileEntry) *Tree {
	t.Helper()
	tree, err := (&Manifest{Files: files}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func TestTreeResolve(t *testing.T) {
	tree := buildTree(t, sampleManifest().Files)

	tests := []struct {
		path  string
		isDir bool
		size  uint64
	}{
		{"", true, 0},
		{"/", true, 0},
		{"bin", true, 0},
		{"bin/game", false, 1024},
		{"data", true, 0}, // implicit, created by data\config.txt
		{"data/config.txt", false, 512},
		{`data\config.txt`, false, 512},
		{"empty.dat", false, 0},
	}
	for _, tt := range tests {
		node, err := tree.Resolve(tt.path)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.path, err)
			continue
		}
		if node.IsDir() != tt.isDir || node.Size() != tt.size {
			t.Errorf("Resolve(%q): dir=%v size=%d, want dir=%v size=%d",
				tt.path, node.IsDir(), node.Size(), tt.isDir, tt.size)
		}
	}

	if _, err := tree.Resolve("bin/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: err = %v, want ErrNotFound", err)
	}
	if _, err := tree.Resolve("bin/game/sub"); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("walk through file: err = %v, want ErrNotDirectory", err)
	}

	if got := tree.FileCount(); got != 4 {
		t.Errorf("FileCount = %d, want 4", got)
	}
}

func TestTreeListChildren(t *testing.T) {
	tree := buildTree(t, sampleManifest().Files)

	children, err := tree.ListChildren("")
	if err != nil {
		t.Fatalf("ListChildren(root): %v", err)
	}
	var names []string
	for _, child := range children {
		names = append(names, child.Name())
	}
	want := []string{"bin", "data", "empty.dat"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("root children = %v, want %v", names, want)
	}

	if _, err := tree.ListChildren("bin/game"); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("ListChildren(file): err = %v, want ErrNotDirectory", err)
	}
	if _, err := tree.ListChildren("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListChildren(missing): err = %v, want ErrNotFound", err)
	}
}

func TestTreeBuildFailures(t *testing.T) {
	tests := []struct {
		name  string
		files []FileEntry
		want  error
	}{
		{"empty path", []FileEntry{{Path: ""}}, ErrEmptyPath},
		{"separator-only path", []FileEntry{{Path: "///"}}, ErrEmptyPath},
		{"duplicate file", []FileEntry{{Path: "a/b"}, {Path: `a\b`}}, ErrDuplicatePath},
		{"duplicate directory", []FileEntry{
			{Path: "d", Flags: FlagDirectory},
			{Path: "d/", Flags: FlagDirectory},
		}, ErrDuplicatePath},
		{"file under file", []FileEntry{{Path: "f"}, {Path: "f/child"}}, ErrPathConflict},
		{"file shadowing directory", []FileEntry{
			{Path: "d", Flags: FlagDirectory},
			{Path: "d"},
		}, ErrPathConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Manifest{Files: tt.files}).Build()
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTreeExplicitDirectoryClaimsImplicit(t *testing.T) {
	// The directory entry may arrive after a child already implied
	// the directory.
	tree := buildTree(t, []FileEntry{
		{Path: "d/inner"},
		{Path: "d", Flags: FlagDirectory},
	})
	node, err := tree.Resolve("d")
	if err != nil {
		t.Fatal(err)
	}
	if node.Entry() == nil || !node.Entry().Flags.IsDirectory() {
		t.Error("explicit directory entry should attach to the implicit node")
	}
}

func TestTreeWalk(t *testing.T) {
	tree := buildTree(t, sampleManifest().Files)

	var paths []string
	err := tree.Walk(func(path string, node *Node) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"bin", "bin/game", "bin/game.sh",
		"data", "data/config.txt",
		"empty.dat",
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Walk order = %v, want %v", paths, want)
	}
}

func TestChunkRefsOverlapping(t *testing.T) {
	entry := &FileEntry{
		Path: "f",
		Size: 300,
		Chunks: []ChunkRef{
			{ID: chunkID(1), Offset: 0, Length: 100},
			{ID: chunkID(2), Offset: 100, Length: 100},
			{ID: chunkID(3), Offset: 200, Length: 100},
		},
	}

	tests := []struct {
		name   string
		offset uint64
		length uint32
		want   []byte // chunk id seeds
	}{
		{"whole file", 0, 300, []byte{1, 2, 3}},
		{"first chunk exactly", 0, 100, []byte{1}},
		{"straddles two", 50, 100, []byte{1, 2}},
		{"interior of middle", 120, 10, []byte{2}},
		{"tail past end", 250, 500, []byte{3}},
		{"zero length", 50, 0, nil},
		{"offset past end", 300, 10, nil},
		{"boundary start", 200, 1, []byte{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := entry.ChunkRefsOverlapping(tt.offset, tt.length)
			if len(refs) != len(tt.want) {
				t.Fatalf("got %d refs, want %d", len(refs), len(tt.want))
			}
			for i, ref := range refs {
				if ref.ID != chunkID(tt.want[i]) {
					t.Errorf("ref %d = chunk %x, want seed %d", i, ref.ID[0], tt.want[i])
				}
			}
		})
	}
}
