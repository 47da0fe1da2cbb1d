// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package mountfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Server is a live mount. Serve blocks until the context is
// cancelled, then unmounts and returns.
type Server struct {
	projection *Projection
	server     *fuse.Server
	mountpoint string
}

// Mount mounts the projection at mountpoint. The mountpoint
// directory is created if it does not exist.
func Mount(projection *Projection, mountpoint string, options MountOptions) (*Server, error) {
	if mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", mountpoint, err)
	}

	root := &dirNode{projection: projection, path: ""}

	// Everything served is immutable, so generous kernel caching is
	// always valid.
	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "depotkit",
			Name:       "depotkit",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", mountpoint, err)
	}

	projection.logger.Info("backup mounted", "mountpoint", mountpoint)
	return &Server{projection: projection, server: server, mountpoint: mountpoint}, nil
}

// Serve blocks until the mount is externally unmounted or the
// context is cancelled. Cancellation lets in-flight requests drain,
// unmounts, and releases driver resources.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	if err := s.server.Unmount(); err != nil {
		s.projection.logger.Error("unmount failed", "mountpoint", s.mountpoint, "error", err)
		return fmt.Errorf("unmounting %s: %w", s.mountpoint, err)
	}
	<-done
	return nil
}

// errnoFor translates projection errors into the kernel contract.
func errnoFor(err error) syscall.Errno {
	switch {
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func fileMode(meta Metadata) uint32 {
	switch {
	case meta.Dir:
		return syscall.S_IFDIR | 0o555
	case meta.LinkTarget != "":
		return syscall.S_IFLNK | 0o555
	case meta.Executable:
		return syscall.S_IFREG | 0o555
	default:
		return syscall.S_IFREG | 0o444
	}
}

// dirNode serves one projected directory.
type dirNode struct {
	gofuse.Inode
	projection *Projection
	path       string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)
var _ gofuse.NodeMkdirer = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)
var _ gofuse.NodeRmdirer = (*dirNode)(nil)
var _ gofuse.NodeRenamer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	path := childPath(d.path, name)
	meta, err := d.projection.Lookup(path)
	if err != nil {
		return nil, errnoFor(err)
	}

	mode := fileMode(meta)
	out.Mode = mode
	out.Size = meta.Size

	var node gofuse.InodeEmbedder
	switch {
	case meta.Dir:
		node = &dirNode{projection: d.projection, path: path}
	case meta.LinkTarget != "":
		node = &linkNode{target: meta.LinkTarget}
	default:
		node = &fileNode{projection: d.projection, path: path, meta: meta}
	}

	child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: mode & syscall.S_IFMT})
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := d.projection.Readdir(d.path)
	if err != nil {
		return nil, errnoFor(err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, fuse.DirEntry{
			Name: child.Name,
			Mode: fileMode(child.Meta) & syscall.S_IFMT,
		})
	}
	return &sliceDirStream{entries: entries}, 0
}

// Mutations are rejected wholesale: the projection is read-only.

func (d *dirNode) Create(context.Context, string, uint32, uint32, *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (d *dirNode) Mkdir(context.Context, string, uint32, *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (d *dirNode) Unlink(context.Context, string) syscall.Errno {
	return syscall.EROFS
}

func (d *dirNode) Rmdir(context.Context, string) syscall.Errno {
	return syscall.EROFS
}

func (d *dirNode) Rename(context.Context, string, gofuse.InodeEmbedder, string, uint32) syscall.Errno {
	return syscall.EROFS
}

// fileNode serves one projected file.
type fileNode struct {
	gofuse.Inode
	projection *Projection
	path       string
	meta       Metadata
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fileMode(f.meta)
	out.Size = f.meta.Size
	out.Blocks = (out.Size + 511) / 512
	return 0
}

func (f *fileNode) Setattr(context.Context, gofuse.FileHandle, *fuse.SetAttrIn, *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// Content is immutable; the kernel page cache stays valid.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, _ gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 {
		return nil, syscall.EINVAL
	}
	data, err := f.projection.Read(f.path, uint64(off), uint32(len(dest)))
	if err != nil {
		f.projection.logger.Error("read failed", "path", f.path, "offset", off, "error", err)
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(data), 0
}

// linkNode serves a manifest symlink entry.
type linkNode struct {
	gofuse.Inode
	target string
}

var _ gofuse.InodeEmbedder = (*linkNode)(nil)
var _ gofuse.NodeReadlinker = (*linkNode)(nil)

func (l *linkNode) Readlink(context.Context) ([]byte, syscall.Errno) {
	return []byte(l.target), 0
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
