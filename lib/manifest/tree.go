// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tree build and lookup errors.
var (
	// ErrEmptyPath means a manifest entry's path normalized to
	// nothing.
	ErrEmptyPath = errors.New("empty path")

	// ErrDuplicatePath means two manifest entries normalized to the
	// same path.
	ErrDuplicatePath = errors.New("duplicate path")

	// ErrPathConflict means a path component is declared as a file
	// but used as a directory, or the reverse.
	ErrPathConflict = errors.New("path conflict")

	// ErrNotFound means the path does not exist in the tree.
	ErrNotFound = errors.New("path not found")

	// ErrNotDirectory means children were requested of a file node.
	ErrNotDirectory = errors.New("not a directory")
)

// Node is one file or directory in the built tree. Immutable after
// Build.
type Node struct {
	name     string
	entry    *FileEntry
	children map[string]*Node
	ordered  []*Node
}

// Name returns the node's final path component; empty for the root.
func (n *Node) Name() string { return n.name }

// IsDir reports whether the node is a directory. Directories are
// either explicit manifest entries or implied by a descendant's path.
func (n *Node) IsDir() bool { return n.children != nil }

// Size returns the file's byte size; zero for directories.
func (n *Node) Size() uint64 {
	if n.entry == nil {
		return 0
	}
	return n.entry.Size
}

// Entry returns the manifest entry behind the node. Nil for the root
// and for directories that exist only because a descendant names
// them.
func (n *Node) Entry() *FileEntry { return n.entry }

// Children returns the node's children ordered by name. Nil for
// files.
func (n *Node) Children() []*Node { return n.ordered }

// Child looks up a direct child by name.
func (n *Node) Child(name string) (*Node, bool) {
	child, ok := n.children[name]
	return child, ok
}

// Tree is the path-indexed view of a manifest's file list.
type Tree struct {
	root  *Node
	files int
}

// NormalizePath rewrites a manifest path to the tree's canonical
// form: forward slashes, no leading or trailing separator. Manifests
// written on Windows reference the same tree with backslashes.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.Trim(path, "/")
}

// Build indexes the manifest's files into a tree. Intermediate
// directories not named by any entry are created implicitly. Fails
// with ErrEmptyPath, ErrDuplicatePath, or ErrPathConflict.
func (m *Manifest) Build() (*Tree, error) {
	tree := &Tree{root: &Node{children: map[string]*Node{}}}
	for i := range m.Files {
		if err := tree.insert(&m.Files[i]); err != nil {
			return nil, err
		}
	}
	tree.sortChildren(tree.root)
	return tree, nil
}

func (t *Tree) insert(entry *FileEntry) error {
	path := NormalizePath(entry.Path)
	if path == "" {
		return fmt.Errorf("%w: %q", ErrEmptyPath, entry.Path)
	}

	parts := strings.Split(path, "/")
	node := t.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := node.children[part]
		if !ok {
			child = &Node{name: part, children: map[string]*Node{}}
			node.children[part] = child
		} else if !child.IsDir() {
			return fmt.Errorf("%w: %q passes through file %q", ErrPathConflict, path, part)
		}
		node = child
	}

	name := parts[len(parts)-1]
	existing, ok := node.children[name]
	if !ok {
		leaf := &Node{name: name, entry: entry}
		if entry.Flags.IsDirectory() {
			leaf.children = map[string]*Node{}
		}
		node.children[name] = leaf
		if !entry.Flags.IsDirectory() {
			t.files++
		}
		return nil
	}

	// An implicit directory may be claimed by its explicit entry;
	// anything else is a duplicate or a file/dir conflict.
	if entry.Flags.IsDirectory() && existing.IsDir() && existing.entry == nil {
		existing.entry = entry
		return nil
	}
	if entry.Flags.IsDirectory() != existing.IsDir() {
		return fmt.Errorf("%w: %q is both a file and a directory", ErrPathConflict, path)
	}
	return fmt.Errorf("%w: %q", ErrDuplicatePath, path)
}

func (t *Tree) sortChildren(node *Node) {
	if node.children == nil {
		return
	}
	node.ordered = make([]*Node, 0, len(node.children))
	for _, child := range node.children {
		node.ordered = append(node.ordered, child)
		t.sortChildren(child)
	}
	sort.Slice(node.ordered, func(i, j int) bool {
		return node.ordered[i].name < node.ordered[j].name
	})
}

// Root returns the tree's root directory node.
func (t *Tree) Root() *Node { return t.root }

// FileCount returns the number of file (non-directory) nodes.
func (t *Tree) FileCount() int { return t.files }

// Resolve walks the tree to the node at path. The empty path and "/"
// resolve to the root. Fails with ErrNotFound, or ErrNotDirectory if
// the walk passes through a file.
func (t *Tree) Resolve(path string) (*Node, error) {
	path = NormalizePath(path)
	if path == "" {
		return t.root, nil
	}

	node := t.root
	for _, part := range strings.Split(path, "/") {
		if !node.IsDir() {
			return nil, fmt.Errorf("%w: %q", ErrNotDirectory, node.name)
		}
		child, ok := node.children[part]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		node = child
	}
	return node, nil
}

// ListChildren returns the ordered children of the directory at
// path.
func (t *Tree) ListChildren(path string) ([]*Node, error) {
	node, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrNotDirectory, path)
	}
	return node.ordered, nil
}

// Walk visits every node depth-first in name order, calling fn with
// the node's normalized path. The root itself is not visited.
func (t *Tree) Walk(fn func(path string, node *Node) error) error {
	return walk(t.root, "", fn)
}

func walk(node *Node, prefix string, fn func(string, *Node) error) error {
	for _, child := range node.ordered {
		path := child.name
		if prefix != "" {
			path = prefix + "/" + child.name
		}
		if err := fn(path, child); err != nil {
			return err
		}
		if err := walk(child, path, fn); err != nil {
			return err
		}
	}
	return nil
}

// ChunkRefsOverlapping returns the entry's chunk refs intersecting
// the byte window [offset, offset+length). Refs are contiguous and
// offset-ordered, so the span is located by binary search.
func (e *FileEntry) ChunkRefsOverlapping(offset uint64, length uint32) []ChunkRef {
	if length == 0 || offset >= e.Size || len(e.Chunks) == 0 {
		return nil
	}
	end := offset + uint64(length)
	if end > e.Size {
		end = e.Size
	}

	// First ref whose region extends past offset.
	first := sort.Search(len(e.Chunks), func(i int) bool {
		return e.Chunks[i].Offset+uint64(e.Chunks[i].Length) > offset
	})
	// First ref at or past the window's end.
	last := sort.Search(len(e.Chunks), func(i int) bool {
		return e.Chunks[i].Offset >= end
	})
	if first >= last {
		return nil
	}
	return e.Chunks[first:last]
}
