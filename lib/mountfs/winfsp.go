// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package mountfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/winfsp/cgofuse/fuse"
)

// Server is a live WinFsp mount. Serve blocks until the context is
// cancelled, then unmounts and returns.
type Server struct {
	projection *Projection
	host       *fuse.FileSystemHost
	mountpoint string
}

// Mount prepares a WinFsp mount of the projection at mountpoint
// (a drive letter like "X:" or an empty directory). The filesystem
// goes live when Serve runs.
func Mount(projection *Projection, mountpoint string, _ MountOptions) (*Server, error) {
	if mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	host := fuse.NewFileSystemHost(&winFS{projection: projection})
	host.SetCapReaddirPlus(true)
	return &Server{projection: projection, host: host, mountpoint: mountpoint}, nil
}

// Serve mounts and blocks until the mount is externally removed or
// the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan bool, 1)
	go func() {
		done <- s.host.Mount(s.mountpoint, []string{"-o", "ro"})
	}()
	s.projection.logger.Info("backup mounted", "mountpoint", s.mountpoint)

	select {
	case ok := <-done:
		if !ok {
			return fmt.Errorf("mounting WinFsp filesystem at %s failed", s.mountpoint)
		}
		return nil
	case <-ctx.Done():
	}

	if !s.host.Unmount() {
		return fmt.Errorf("unmounting %s failed", s.mountpoint)
	}
	<-done
	return nil
}

// winFS adapts the projection to cgofuse's callback surface. The
// base type answers everything unimplemented with ENOSYS; mutations
// are overridden to report a read-only filesystem.
type winFS struct {
	fuse.FileSystemBase
	projection *Projection
}

// trimPath converts cgofuse's slash-prefixed paths to projection
// paths.
func trimPath(path string) string {
	return strings.TrimPrefix(path, "/")
}

func errcFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return -fuse.ENOENT
	case errors.Is(err, ErrNotDirectory):
		return -fuse.ENOTDIR
	case errors.Is(err, ErrIsDirectory):
		return -fuse.EISDIR
	case errors.Is(err, ErrReadOnly):
		return -fuse.EROFS
	default:
		return -fuse.EIO
	}
}

func fillStat(meta Metadata, stat *fuse.Stat_t) {
	switch {
	case meta.Dir:
		stat.Mode = fuse.S_IFDIR | 0o555
	case meta.LinkTarget != "":
		stat.Mode = fuse.S_IFLNK | 0o555
	case meta.Executable:
		stat.Mode = fuse.S_IFREG | 0o555
	default:
		stat.Mode = fuse.S_IFREG | 0o444
	}
	stat.Size = int64(meta.Size)
	stat.Nlink = 1
}

func (f *winFS) Getattr(path string, stat *fuse.Stat_t, _ uint64) int {
	meta, err := f.projection.Lookup(trimPath(path))
	if err != nil {
		return errcFor(err)
	}
	fillStat(meta, stat)
	return 0
}

func (f *winFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, _ int64, _ uint64) int {
	entries, err := f.projection.Readdir(trimPath(path))
	if err != nil {
		return errcFor(err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, entry := range entries {
		var stat fuse.Stat_t
		fillStat(entry.Meta, &stat)
		if !fill(entry.Name, &stat, 0) {
			break
		}
	}
	return 0
}

func (f *winFS) Open(path string, flags int) (int, uint64) {
	if flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0 {
		return -fuse.EROFS, ^uint64(0)
	}
	if _, err := f.projection.Lookup(trimPath(path)); err != nil {
		return errcFor(err), ^uint64(0)
	}
	return 0, 0
}

func (f *winFS) Read(path string, buff []byte, ofst int64, _ uint64) int {
	if ofst < 0 {
		return -fuse.EINVAL
	}
	data, err := f.projection.Read(trimPath(path), uint64(ofst), uint32(len(buff)))
	if err != nil {
		f.projection.logger.Error("read failed", "path", path, "offset", ofst, "error", err)
		return errcFor(err)
	}
	return copy(buff, data)
}

func (f *winFS) Readlink(path string) (int, string) {
	meta, err := f.projection.Lookup(trimPath(path))
	if err != nil {
		return errcFor(err), ""
	}
	if meta.LinkTarget == "" {
		return -fuse.EINVAL, ""
	}
	return 0, meta.LinkTarget
}

// Mutations are rejected wholesale: the projection is read-only.

func (f *winFS) Mknod(string, uint32, uint64) int         { return -fuse.EROFS }
func (f *winFS) Mkdir(string, uint32) int                 { return -fuse.EROFS }
func (f *winFS) Unlink(string) int                        { return -fuse.EROFS }
func (f *winFS) Rmdir(string) int                         { return -fuse.EROFS }
func (f *winFS) Rename(string, string) int                { return -fuse.EROFS }
func (f *winFS) Truncate(string, int64, uint64) int       { return -fuse.EROFS }
func (f *winFS) Write(string, []byte, int64, uint64) int  { return -fuse.EROFS }
func (f *winFS) Create(string, int, uint32) (int, uint64) { return -fuse.EROFS, ^uint64(0) }
func (f *winFS) Chmod(string, uint32) int                 { return -fuse.EROFS }
func (f *winFS) Utimens(string, []fuse.Timespec) int      { return -fuse.EROFS }
