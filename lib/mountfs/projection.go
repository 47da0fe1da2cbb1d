// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountfs projects an opened backup as a read-only
// filesystem. The projection core (Lookup, Readdir, Read) is
// OS-agnostic; thin driver adapters serve it through FUSE on Linux
// and macOS and through WinFsp on Windows. No file data is
// materialized — reads decode chunks on demand through a bounded
// cache.
package mountfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/depotkit/depotkit/lib/backup"
	"github.com/depotkit/depotkit/lib/manifest"
)

// Projection errors. The drivers translate these into their errno
// contracts; other callers match with errors.Is.
var (
	// ErrNotFound means the path does not exist in any depot tree.
	ErrNotFound = errors.New("path not found")

	// ErrNotDirectory means a directory operation was applied to a
	// file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory means a file operation was applied to a
	// directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrReadOnly is returned for every mutating operation.
	ErrReadOnly = errors.New("read-only filesystem")
)

// Metadata describes one projected node.
type Metadata struct {
	// Dir marks directories; Size is the manifest-declared file
	// size, zero for directories.
	Dir  bool
	Size uint64

	// Executable and LinkTarget carry the manifest's attribute bits
	// through to the drivers.
	Executable bool
	LinkTarget string
}

// DirEntry is one Readdir result.
type DirEntry struct {
	Name string
	Meta Metadata
}

// Options configures a projection.
type Options struct {
	// CacheChunks bounds the decoded-chunk LRU. Zero means
	// DefaultCacheChunks.
	CacheChunks int

	// Logger receives driver diagnostics. Nil means an error-level
	// stderr logger.
	Logger *slog.Logger
}

// MountOptions configures the native driver mount.
type MountOptions struct {
	// AllowOther permits other users to access the mount. On Linux
	// it requires user_allow_other in /etc/fuse.conf; the Windows
	// driver ignores it.
	AllowOther bool
}

// Projection serves a backup session's depot trees as one merged
// read-only hierarchy, the way an installed game lays its depots
// over each other. All methods are safe for concurrent use.
type Projection struct {
	depots []*backup.Depot
	cache  *chunkCache
	logger *slog.Logger
}

// NewProjection builds the projection over every depot in the
// session that has a loaded manifest. Fails when no depot does.
func NewProjection(session *backup.Session, options Options) (*Projection, error) {
	var depots []*backup.Depot
	for _, depot := range session.Depots {
		if depot.Tree != nil {
			depots = append(depots, depot)
		}
	}
	if len(depots) == 0 {
		return nil, fmt.Errorf("no depot in backup %q has a loaded manifest", session.SKU.Name)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	return &Projection{
		depots: depots,
		cache:  newChunkCache(options.CacheChunks),
		logger: logger,
	}, nil
}

// resolve finds the node for path together with the depot owning it.
// Depots are consulted in descriptor order; the first hit wins.
func (p *Projection) resolve(path string) (*backup.Depot, *manifest.Node, error) {
	sawFile := false
	for _, depot := range p.depots {
		node, err := depot.Tree.Resolve(path)
		switch {
		case err == nil:
			return depot, node, nil
		case errors.Is(err, manifest.ErrNotDirectory):
			sawFile = true
		}
	}
	if sawFile {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

func nodeMetadata(node *manifest.Node) Metadata {
	meta := Metadata{Dir: node.IsDir(), Size: node.Size()}
	if entry := node.Entry(); entry != nil {
		meta.Executable = entry.Flags.IsExecutable()
		meta.LinkTarget = entry.LinkTarget
	}
	return meta
}

// Lookup resolves a path to its metadata.
func (p *Projection) Lookup(path string) (Metadata, error) {
	_, node, err := p.resolve(path)
	if err != nil {
		return Metadata{}, err
	}
	return nodeMetadata(node), nil
}

// Readdir lists a directory, merged across depots and ordered by
// name. When multiple depots carry the same name, the first depot's
// node is the one listed.
func (p *Projection) Readdir(path string) ([]DirEntry, error) {
	var (
		merged map[string]Metadata
		found  bool
	)
	for _, depot := range p.depots {
		node, err := depot.Tree.Resolve(path)
		if err != nil {
			continue
		}
		if !node.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, path)
		}
		found = true
		if merged == nil {
			merged = make(map[string]Metadata, len(node.Children()))
		}
		for _, child := range node.Children() {
			if _, ok := merged[child.Name()]; !ok {
				merged[child.Name()] = nodeMetadata(child)
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	entries := make([]DirEntry, 0, len(merged))
	for name, meta := range merged {
		entries = append(entries, DirEntry{Name: name, Meta: meta})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read returns exactly min(length, size-offset) bytes of the file at
// path, assembled from the decoded chunks overlapping the window.
func (p *Projection) Read(path string, offset uint64, length uint32) ([]byte, error) {
	depot, node, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	if node.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}
	entry := node.Entry()
	if entry == nil || offset >= entry.Size || length == 0 {
		return nil, nil
	}

	end := offset + uint64(length)
	if end > entry.Size {
		end = entry.Size
	}

	out := make([]byte, 0, end-offset)
	for _, ref := range entry.ChunkRefsOverlapping(offset, length) {
		data, err := p.cache.get(ref.ID, depot)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		// Slice the window's intersection with this ref out of the
		// decoded chunk.
		from := uint64(0)
		if offset > ref.Offset {
			from = offset - ref.Offset
		}
		to := uint64(ref.Length)
		if refEnd := ref.Offset + uint64(ref.Length); refEnd > end {
			to = uint64(ref.Length) - (refEnd - end)
		}
		if from > uint64(len(data)) || to > uint64(len(data)) || from > to {
			return nil, fmt.Errorf("reading %s: chunk %s is %d bytes, ref window is [%d, %d)",
				path, ref.ID, len(data), from, to)
		}
		out = append(out, data[from:to]...)
	}

	if uint64(len(out)) != end-offset {
		return nil, fmt.Errorf("reading %s: assembled %d bytes, want %d", path, len(out), end-offset)
	}
	return out, nil
}

// CacheLen reports how many decoded chunks the cache currently
// holds.
func (p *Projection) CacheLen() int {
	return p.cache.len()
}
