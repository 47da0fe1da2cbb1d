// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify cross-checks a backup's three sources of truth: the
// sku.sis descriptor, the chunk stores, and the content manifests.
// Verification is fail-soft: damage is recorded per file and per
// depot, and a complete report is produced even for badly corrupt
// backups.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/depotkit/depotkit/lib/backup"
	"github.com/depotkit/depotkit/lib/chunkstore"
	"github.com/depotkit/depotkit/lib/manifest"
)

// Options configures a verification pass.
type Options struct {
	// Jobs bounds the per-depot worker pool. Zero or negative means
	// GOMAXPROCS.
	Jobs int

	// Cached maps depot id to a previously cached manifest for
	// structural divergence comparison. Depots without an entry are
	// not divergence-checked.
	Cached map[uint32]*manifest.Manifest

	// Logger receives progress; nil means slog.Default().
	Logger *slog.Logger
}

// Backup verifies every depot the session's descriptor declares.
// The returned report is deterministic: files appear in manifest
// order regardless of worker scheduling. The error return is only
// for context cancellation — verification findings live in the
// report.
func Backup(ctx context.Context, session *backup.Session, opts Options) (*Report, error) {
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := &Report{Backup: session.SKU.Name}
	for _, depot := range session.Depots {
		depotReport := &DepotReport{Depot: depot.ID, ManifestGID: depot.ManifestGID}
		report.Depots = append(report.Depots, depotReport)

		for _, err := range depot.Errs {
			depotReport.Findings = append(depotReport.Findings, err.Error())
		}
		checkStoreSizes(session, depot, depotReport)
		checkStoreCoverage(session, depot, depotReport)

		if depot.Manifest == nil {
			continue
		}
		logger.Info("verifying depot", "depot", depot.ID, "files", len(depot.Manifest.Files), "jobs", jobs)
		if err := verifyFiles(ctx, depot, depotReport, jobs); err != nil {
			return nil, err
		}
		if cached, ok := opts.Cached[depot.ID]; ok {
			compareCached(depot.Manifest, cached, depotReport)
		}
	}
	return report, nil
}

// checkStoreSizes compares each opened store's data file size
// against the length the descriptor declares for it.
func checkStoreSizes(session *backup.Session, depot *backup.Depot, report *DepotReport) {
	declared := session.SKU.ChunkStores[depot.ID]
	for _, store := range depot.Stores {
		want, ok := declared[store.Index()]
		if !ok {
			continue
		}
		size, err := session.StoreSizeOnDisk(store)
		if err != nil {
			report.Findings = append(report.Findings, fmt.Sprintf("%s: %v", store.DataName, err))
			continue
		}
		if uint64(size) != want {
			report.Findings = append(report.Findings, fmt.Sprintf(
				"%s: data file is %d bytes, descriptor declares %d", store.DataName, size, want))
		}
	}
}

// checkStoreCoverage flags bytes in a store's data file that no
// manifest entry accounts for. Gaps usually mean a truncated copy of
// the manifest rather than damage to the data file itself.
func checkStoreCoverage(session *backup.Session, depot *backup.Depot, report *DepotReport) {
	for _, store := range depot.Stores {
		size, err := session.StoreSizeOnDisk(store)
		if err != nil {
			continue // already reported by checkStoreSizes
		}

		entries := append([]chunkstore.Entry(nil), store.Manifest().Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

		var uncovered uint64
		next := uint64(chunkstore.DataHeaderSize)
		for _, entry := range entries {
			if entry.Offset > next {
				uncovered += entry.Offset - next
			}
			if end := entry.Offset + uint64(entry.CompressedLength); end > next {
				next = end
			}
		}
		if uint64(size) > next {
			uncovered += uint64(size) - next
		}
		if uncovered > 0 {
			report.Findings = append(report.Findings, fmt.Sprintf(
				"%s: %d bytes not covered by any chunk entry", store.DataName, uncovered))
		}
	}
}

// chunkOutcome is the memoized result of decoding one chunk: its
// actual uncompressed length and the failure, if any. The bytes
// themselves are not retained.
type chunkOutcome struct {
	length int
	err    error
}

// chunkMemo decodes each distinct chunk at most once per pass, even
// under concurrent requests from the worker pool.
type chunkMemo struct {
	depot *backup.Depot

	mu    sync.Mutex
	known map[chunkstore.ChunkID]chunkOutcome
	group singleflight.Group
}

func (m *chunkMemo) read(id chunkstore.ChunkID) chunkOutcome {
	m.mu.Lock()
	outcome, ok := m.known[id]
	m.mu.Unlock()
	if ok {
		return outcome
	}

	result, _, _ := m.group.Do(id.String(), func() (any, error) {
		data, err := m.depot.ReadChunk(id)
		outcome := chunkOutcome{length: len(data), err: err}
		m.mu.Lock()
		m.known[id] = outcome
		m.mu.Unlock()
		return outcome, nil
	})
	return result.(chunkOutcome)
}

func verifyFiles(ctx context.Context, depot *backup.Depot, report *DepotReport, jobs int) error {
	files := depot.Manifest.Files
	results := make([]FileResult, len(files))
	memo := &chunkMemo{depot: depot, known: make(map[chunkstore.ChunkID]chunkOutcome)}

	indices := make(chan int)
	var wg sync.WaitGroup
	for worker := 0; worker < jobs; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = verifyFile(&files[i], memo)
			}
		}()
	}

feed:
	for i := range files {
		select {
		case indices <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	report.Files = results
	return nil
}

// verifyFile checks one manifest entry against the chunk stores.
// The first failing chunk decides the file's status.
func verifyFile(entry *manifest.FileEntry, memo *chunkMemo) FileResult {
	result := FileResult{Path: manifest.NormalizePath(entry.Path), Status: StatusOk}
	if entry.Flags.IsDirectory() || entry.IsSymlink() {
		return result
	}

	var total uint64
	for i := range entry.Chunks {
		ref := &entry.Chunks[i]
		outcome := memo.read(ref.ID)

		switch {
		case outcome.err == nil:
		case errors.Is(outcome.err, chunkstore.ErrChunkNotFound):
			result.Status = StatusMissingChunk
			result.Chunk = &ref.ID
			return result
		default:
			// Integrity failures and undecodable blobs both mean the
			// stored chunk does not match its declared digest.
			result.Status = StatusChunkHashMismatch
			result.Chunk = &ref.ID
			result.Detail = outcome.err.Error()
			return result
		}

		if uint32(outcome.length) != ref.Length {
			result.Status = StatusSizeMismatch
			result.Chunk = &ref.ID
			result.Detail = fmt.Sprintf("chunk is %d bytes, manifest ref declares %d", outcome.length, ref.Length)
			return result
		}
		total += uint64(outcome.length)
	}

	if total != entry.Size {
		result.Status = StatusSizeMismatch
		result.Detail = fmt.Sprintf("chunks total %d bytes, manifest declares %d", total, entry.Size)
	}
	return result
}

// compareCached marks files whose shape differs between the live and
// the cached manifest. A file already failing verification keeps its
// damage status; divergence only overrides Ok.
func compareCached(live, cached *manifest.Manifest, report *DepotReport) {
	if live.Fingerprint() == cached.Fingerprint() {
		return
	}

	cachedByPath := make(map[string]*manifest.FileEntry, len(cached.Files))
	for i := range cached.Files {
		entry := &cached.Files[i]
		cachedByPath[manifest.NormalizePath(entry.Path)] = entry
	}

	seen := make(map[string]bool, len(report.Files))
	for i := range report.Files {
		result := &report.Files[i]
		seen[result.Path] = true
		if result.Status != StatusOk {
			continue
		}
		cachedEntry, ok := cachedByPath[result.Path]
		if !ok || !sameShape(findEntry(live, result.Path), cachedEntry) {
			result.Status = StatusDivergent
		}
	}

	var missing []string
	for path := range cachedByPath {
		if !seen[path] {
			missing = append(missing, path)
		}
	}
	sort.Strings(missing)
	for _, path := range missing {
		report.Findings = append(report.Findings, fmt.Sprintf(
			"cached manifest lists %q, live manifest does not", path))
	}
}

func findEntry(m *manifest.Manifest, path string) *manifest.FileEntry {
	for i := range m.Files {
		if manifest.NormalizePath(m.Files[i].Path) == path {
			return &m.Files[i]
		}
	}
	return nil
}

// sameShape reports whether two manifest entries describe the same
// file: size, flags, link target, and chunk refs all equal.
func sameShape(a, b *manifest.FileEntry) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Size != b.Size || a.Flags != b.Flags || a.LinkTarget != b.LinkTarget {
		return false
	}
	if len(a.Chunks) != len(b.Chunks) {
		return false
	}
	for i := range a.Chunks {
		if a.Chunks[i] != b.Chunks[i] {
			return false
		}
	}
	return true
}
