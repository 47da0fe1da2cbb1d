// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"fmt"
	"io"

	"github.com/depotkit/depotkit/lib/chunkstore"
	"github.com/depotkit/depotkit/lib/codec"
)

// Status is a per-file verification outcome.
type Status int

const (
	// StatusOk means every chunk of the file decoded and matched
	// its declared digest, and the sizes agree.
	StatusOk Status = iota

	// StatusSizeMismatch means a chunk's decoded length disagrees
	// with the manifest's ref, or the refs do not total the file
	// size.
	StatusSizeMismatch

	// StatusChunkHashMismatch means a chunk decoded to bytes whose
	// digest is not the declared chunk id, or could not be decoded
	// at all.
	StatusChunkHashMismatch

	// StatusMissingChunk means no chunk store in the depot holds a
	// referenced chunk.
	StatusMissingChunk

	// StatusDivergent means the file verifies against the live
	// manifest but its shape differs from the cached manifest.
	StatusDivergent
)

// String returns the status's report token.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusSizeMismatch:
		return "size-mismatch"
	case StatusChunkHashMismatch:
		return "chunk-hash-mismatch"
	case StatusMissingChunk:
		return "missing-chunk"
	case StatusDivergent:
		return "divergent"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FileResult is one file's verification outcome.
type FileResult struct {
	// Path is the file's normalized manifest path.
	Path string

	// Status is the outcome; Chunk names the offending chunk for
	// chunk-related failures, and Detail carries the specifics.
	Status Status
	Chunk  *chunkstore.ChunkID
	Detail string
}

// DepotReport aggregates one depot's results.
type DepotReport struct {
	Depot       uint32
	ManifestGID uint64

	// Findings are depot-level problems not tied to a single file:
	// open failures, declared-size mismatches, uncovered store
	// bytes, cached-manifest structure differences.
	Findings []string

	// Files holds per-file results in manifest order. Empty when
	// the depot's manifest could not be loaded.
	Files []FileResult
}

// Ok reports whether the depot verified cleanly.
func (d *DepotReport) Ok() bool {
	if len(d.Findings) > 0 {
		return false
	}
	for i := range d.Files {
		if d.Files[i].Status != StatusOk {
			return false
		}
	}
	return true
}

// Report is a whole verification pass.
type Report struct {
	// Backup is the game name from the descriptor.
	Backup string

	// Depots follows descriptor depot order.
	Depots []*DepotReport
}

// Ok reports whether every depot verified cleanly.
func (r *Report) Ok() bool {
	for _, depot := range r.Depots {
		if !depot.Ok() {
			return false
		}
	}
	return true
}

// Counts totals the files checked and the files that failed, across
// all depots.
func (r *Report) Counts() (checked, failed int) {
	for _, depot := range r.Depots {
		for i := range depot.Files {
			checked++
			if depot.Files[i].Status != StatusOk {
				failed++
			}
		}
	}
	return checked, failed
}

// Wire shapes for the CBOR report. Statuses and chunk ids are
// rendered as strings so the report is self-describing without this
// package's constants.
type reportWire struct {
	Backup string      `cbor:"backup"`
	Depots []depotWire `cbor:"depots"`
	Ok     bool        `cbor:"ok"`
}

type depotWire struct {
	Depot       uint32     `cbor:"depot"`
	ManifestGID uint64     `cbor:"manifest_gid,omitempty"`
	Findings    []string   `cbor:"findings,omitempty"`
	Files       []fileWire `cbor:"files,omitempty"`
}

type fileWire struct {
	Path   string `cbor:"path"`
	Status string `cbor:"status"`
	Chunk  string `cbor:"chunk,omitempty"`
	Detail string `cbor:"detail,omitempty"`
}

// EncodeCBOR writes the report as deterministic CBOR.
func (r *Report) EncodeCBOR(w io.Writer) error {
	wire := reportWire{Backup: r.Backup, Ok: r.Ok()}
	for _, depot := range r.Depots {
		dw := depotWire{
			Depot:       depot.Depot,
			ManifestGID: depot.ManifestGID,
			Findings:    depot.Findings,
		}
		for i := range depot.Files {
			file := &depot.Files[i]
			fw := fileWire{
				Path:   file.Path,
				Status: file.Status.String(),
				Detail: file.Detail,
			}
			if file.Chunk != nil {
				fw.Chunk = file.Chunk.String()
			}
			dw.Files = append(dw.Files, fw)
		}
		wire.Depots = append(wire.Depots, dw)
	}
	return codec.NewEncoder(w).Encode(wire)
}
