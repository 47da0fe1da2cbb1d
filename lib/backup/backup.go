// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package backup opens a Steam offline backup directory as one
// session: the sku.sis descriptor, every chunk store it declares,
// and the content manifest for each depot. The session hands ready
// components to the verifier, the filesystem projection, and the
// CLI.
package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/depotkit/depotkit/lib/chunkstore"
	"github.com/depotkit/depotkit/lib/manifest"
	"github.com/depotkit/depotkit/lib/sku"
)

// Options configures Open.
type Options struct {
	// ManifestDir is where content manifests live. Steam does not
	// copy manifests into the backup itself; they come from the
	// client's depotcache. Empty means the backup directory.
	ManifestDir string

	// Keys supplies depot keys for encrypted manifests. Nil means
	// no keys are available.
	Keys manifest.KeyFunc

	// VerifyMode is passed through to every chunk store.
	VerifyMode chunkstore.VerifyMode

	// Logger receives per-depot open warnings. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Depot is one depot's opened state within a session. Opening is
// fail-soft: a depot whose manifest or stores cannot be opened is
// still listed, with the failures recorded in Errs, so the verifier
// can report them instead of aborting the whole backup.
type Depot struct {
	// ID is the depot id from the descriptor.
	ID uint32

	// ManifestGID is the content-manifest generation the descriptor
	// declares, zero if the descriptor has none for this depot.
	ManifestGID uint64

	// Manifest and Tree are nil when the manifest failed to load.
	Manifest *manifest.Manifest
	Tree     *manifest.Tree

	// Stores holds the successfully opened chunk stores in index
	// order.
	Stores []*chunkstore.Store

	// Errs records everything that went wrong opening this depot.
	Errs []error
}

// Session is an open backup directory.
type Session struct {
	// Dir is the backup directory (the one holding sku.sis).
	Dir string

	// SKU is the decoded descriptor.
	SKU *sku.SKU

	// Depots follows the descriptor's depot order.
	Depots []*Depot
}

// Open reads the backup at dir. It fails only when the descriptor
// itself cannot be read; per-depot problems are recorded on the
// Depot and logged. Callers that need every depot healthy check
// Err() after opening.
func Open(dir string, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	descriptor, resolvedDir, err := sku.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("opening backup: %w", err)
	}

	manifestDir := opts.ManifestDir
	if manifestDir == "" {
		manifestDir = resolvedDir
	}

	session := &Session{Dir: resolvedDir, SKU: descriptor}
	for _, depotID := range descriptor.Depots {
		depot := &Depot{ID: depotID, ManifestGID: descriptor.Manifests[depotID]}
		session.Depots = append(session.Depots, depot)

		openDepotManifest(depot, manifestDir, opts.Keys)
		openDepotStores(depot, resolvedDir, descriptor, opts.VerifyMode)

		for _, err := range depot.Errs {
			logger.Warn("depot open problem", "depot", depotID, "error", err)
		}
	}
	return session, nil
}

func openDepotManifest(depot *Depot, manifestDir string, keys manifest.KeyFunc) {
	if depot.ManifestGID == 0 {
		depot.Errs = append(depot.Errs, fmt.Errorf("depot %d: descriptor declares no manifest gid", depot.ID))
		return
	}

	m, err := manifest.Load(manifestDir, depot.ID, depot.ManifestGID, keys)
	if err != nil {
		depot.Errs = append(depot.Errs, err)
		return
	}
	if m.Depot != depot.ID {
		depot.Errs = append(depot.Errs, fmt.Errorf(
			"manifest %s: declares depot %d", manifest.ManifestFileName(depot.ID, depot.ManifestGID), m.Depot))
		return
	}

	tree, err := m.Build()
	if err != nil {
		depot.Errs = append(depot.Errs, fmt.Errorf("building depot %d tree: %w", depot.ID, err))
		return
	}
	depot.Manifest = m
	depot.Tree = tree
}

func openDepotStores(depot *Depot, dir string, descriptor *sku.SKU, mode chunkstore.VerifyMode) {
	for _, index := range descriptor.StoreIndices(depot.ID) {
		store, err := chunkstore.Open(dir, depot.ID, index, mode)
		if err != nil {
			depot.Errs = append(depot.Errs, err)
			continue
		}
		depot.Stores = append(depot.Stores, store)
	}
}

// Depot returns the session's depot by id.
func (s *Session) Depot(id uint32) (*Depot, bool) {
	for _, depot := range s.Depots {
		if depot.ID == id {
			return depot, true
		}
	}
	return nil, false
}

// Err aggregates every depot's open problems. Nil means the whole
// backup opened cleanly.
func (s *Session) Err() error {
	var errs []error
	for _, depot := range s.Depots {
		errs = append(errs, depot.Errs...)
	}
	return errors.Join(errs...)
}

// Close releases every chunk store handle.
func (s *Session) Close() error {
	var errs []error
	for _, depot := range s.Depots {
		for _, store := range depot.Stores {
			if err := store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// FindStore locates the chunk store holding the given chunk.
func (d *Depot) FindStore(id chunkstore.ChunkID) (*chunkstore.Store, bool) {
	for _, store := range d.Stores {
		if store.Contains(id) {
			return store, true
		}
	}
	return nil, false
}

// ReadChunk reads a chunk from whichever of the depot's stores holds
// it. Fails with chunkstore.ErrChunkNotFound when no store does.
func (d *Depot) ReadChunk(id chunkstore.ChunkID) ([]byte, error) {
	store, ok := d.FindStore(id)
	if !ok {
		return nil, fmt.Errorf("depot %d: %w: %s", d.ID, chunkstore.ErrChunkNotFound, id)
	}
	return store.ReadChunk(id)
}

// StoreSizeOnDisk returns the actual byte size of an opened store's
// data file, for comparison against the descriptor's declared
// length.
func (s *Session) StoreSizeOnDisk(store *chunkstore.Store) (int64, error) {
	info, err := os.Stat(filepath.Join(s.Dir, store.DataName))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
