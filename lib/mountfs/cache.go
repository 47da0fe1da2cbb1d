// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package mountfs

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/depotkit/depotkit/lib/backup"
	"github.com/depotkit/depotkit/lib/chunkstore"
)

// DefaultCacheChunks is the decoded-chunk cache capacity when the
// caller does not set one. Steam chunks are at most 1 MiB
// uncompressed, so this bounds cache memory near 256 MiB worst case.
const DefaultCacheChunks = 256

// chunkCache is the shared decoded-chunk store for one mount:
// a bounded LRU in front of the depot chunk stores, with
// single-flight semantics per chunk id so concurrent readers of the
// same chunk trigger at most one decode.
type chunkCache struct {
	entries *lru.Cache[chunkstore.ChunkID, []byte]
	group   singleflight.Group
}

func newChunkCache(capacity int) *chunkCache {
	if capacity <= 0 {
		capacity = DefaultCacheChunks
	}
	// NewCache only fails for a non-positive size.
	entries, err := lru.New[chunkstore.ChunkID, []byte](capacity)
	if err != nil {
		panic("mountfs: chunk cache initialization failed: " + err.Error())
	}
	return &chunkCache{entries: entries}
}

// get returns the decoded chunk, from cache or by decoding it
// through the depot. Callers must not mutate the returned slice —
// it is shared with every other cache hit for the same id.
func (c *chunkCache) get(id chunkstore.ChunkID, depot *backup.Depot) ([]byte, error) {
	if data, ok := c.entries.Get(id); ok {
		return data, nil
	}

	data, err, _ := c.group.Do(id.String(), func() (any, error) {
		// Re-check under the flight: another caller may have
		// populated the entry while this one queued.
		if data, ok := c.entries.Get(id); ok {
			return data, nil
		}
		data, err := depot.ReadChunk(id)
		if err != nil {
			return nil, err
		}
		c.entries.Add(id, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

func (c *chunkCache) len() int {
	return c.entries.Len()
}
