// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package sku decodes Steam backup descriptors (sku.sis files). The
// descriptor is a KeyValues document naming the apps and depots held
// by the backup, the content-manifest gid for each depot, and the
// declared byte length of every chunk store file.
package sku

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/depotkit/depotkit/lib/keyvalues"
)

// FileName is the descriptor's fixed name within a backup directory.
const FileName = "sku.sis"

// SKU is a parsed backup descriptor. Immutable once decoded.
type SKU struct {
	// Name is the game title as written by the Steam client.
	Name string

	// Disks is the total number of disks in this backup set; Disk
	// is this file's 1-based position within it.
	Disks uint32
	Disk  uint32

	// Backup is the backup index and ContentType the Steam content
	// type tag.
	Backup      uint32
	ContentType uint32

	// Apps and Depots list the app and depot ids in descriptor
	// order.
	Apps   []uint32
	Depots []uint32

	// Manifests maps each depot id to its content-manifest gid.
	Manifests map[uint32]uint64

	// ChunkStores maps depot id -> chunk store index -> declared
	// byte length of that store's data file.
	ChunkStores map[uint32]map[uint32]uint64
}

// Decode parses a sku.sis document.
func Decode(data []byte) (*SKU, error) {
	top, err := keyvalues.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing sku descriptor: %w", err)
	}
	if top.Name != "SKU" && top.Name != "sku" {
		return nil, fmt.Errorf("sku descriptor: top-level key is %q, want \"SKU\"", top.Name)
	}

	result := &SKU{
		Manifests:   make(map[uint32]uint64),
		ChunkStores: make(map[uint32]map[uint32]uint64),
	}

	if result.Name, err = top.String("name"); err != nil {
		return nil, fmt.Errorf("sku descriptor: %w", err)
	}
	for _, field := range []struct {
		key  string
		dest *uint32
	}{
		{"disks", &result.Disks},
		{"disk", &result.Disk},
		{"backup", &result.Backup},
		{"contenttype", &result.ContentType},
	} {
		if *field.dest, err = top.Uint32(field.key); err != nil {
			return nil, fmt.Errorf("sku descriptor: %w", err)
		}
	}

	if result.Apps, err = idList(top, "apps"); err != nil {
		return nil, err
	}
	if result.Depots, err = idList(top, "depots"); err != nil {
		return nil, err
	}

	manifests := top.Child("manifests")
	if manifests == nil {
		return nil, fmt.Errorf("sku descriptor: missing \"manifests\"")
	}
	for _, entry := range manifests.Children {
		depot, err := parseUint32(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("sku descriptor: manifest key %q: %w", entry.Name, err)
		}
		gid, err := manifests.Uint64(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("sku descriptor: %w", err)
		}
		result.Manifests[depot] = gid
	}

	chunkstores := top.Child("chunkstores")
	if chunkstores == nil {
		return nil, fmt.Errorf("sku descriptor: missing \"chunkstores\"")
	}
	for _, depotEntry := range chunkstores.Children {
		depot, err := parseUint32(depotEntry.Name)
		if err != nil {
			return nil, fmt.Errorf("sku descriptor: chunkstore key %q: %w", depotEntry.Name, err)
		}
		if !depotEntry.IsObject() {
			return nil, fmt.Errorf("sku descriptor: chunkstore entry for depot %d is not an object", depot)
		}
		stores := make(map[uint32]uint64, len(depotEntry.Children))
		for _, storeEntry := range depotEntry.Children {
			index, err := parseUint32(storeEntry.Name)
			if err != nil {
				return nil, fmt.Errorf("sku descriptor: depot %d store key %q: %w", depot, storeEntry.Name, err)
			}
			length, err := depotEntry.Uint64(storeEntry.Name)
			if err != nil {
				return nil, fmt.Errorf("sku descriptor: %w", err)
			}
			stores[index] = length
		}
		result.ChunkStores[depot] = stores
	}

	return result, nil
}

// Load reads and decodes the sku.sis inside dir. If dir itself names
// a file, its parent directory is searched instead, matching how the
// Steam client lets the user point at any file within a backup.
func Load(dir string) (*SKU, string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, "", fmt.Errorf("locating backup: %w", err)
	}
	if !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	parsed, err := Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return parsed, dir, nil
}

// StoreIndices returns the chunk store indices declared for a depot,
// sorted ascending. Returns nil if the depot has no stores.
func (s *SKU) StoreIndices(depot uint32) []uint32 {
	stores, ok := s.ChunkStores[depot]
	if !ok {
		return nil
	}
	indices := make([]uint32, 0, len(stores))
	for index := range stores {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// DepotSize returns the summed declared length of a depot's chunk
// store data files.
func (s *SKU) DepotSize(depot uint32) uint64 {
	var total uint64
	for _, length := range s.ChunkStores[depot] {
		total += length
	}
	return total
}

// Encode renders the SKU back to KeyValues text. Decode(Encode(s))
// yields an equal SKU; tests build fixture descriptors this way.
func (s *SKU) Encode() []byte {
	top := &keyvalues.Node{Name: "SKU", Children: []*keyvalues.Node{
		{Name: "name", Value: s.Name},
		{Name: "disks", Value: formatUint(uint64(s.Disks))},
		{Name: "disk", Value: formatUint(uint64(s.Disk))},
		{Name: "backup", Value: formatUint(uint64(s.Backup))},
		{Name: "contenttype", Value: formatUint(uint64(s.ContentType))},
		indexedList("apps", s.Apps),
		indexedList("depots", s.Depots),
	}}

	manifests := &keyvalues.Node{Name: "manifests", Children: []*keyvalues.Node{}}
	for _, depot := range sortedKeys(s.Manifests) {
		manifests.Children = append(manifests.Children, &keyvalues.Node{
			Name:  formatUint(uint64(depot)),
			Value: formatUint(s.Manifests[depot]),
		})
	}
	top.Children = append(top.Children, manifests)

	chunkstores := &keyvalues.Node{Name: "chunkstores", Children: []*keyvalues.Node{}}
	for _, depot := range sortedKeys(s.ChunkStores) {
		depotNode := &keyvalues.Node{Name: formatUint(uint64(depot)), Children: []*keyvalues.Node{}}
		for _, index := range s.StoreIndices(depot) {
			depotNode.Children = append(depotNode.Children, &keyvalues.Node{
				Name:  formatUint(uint64(index)),
				Value: formatUint(s.ChunkStores[depot][index]),
			})
		}
		chunkstores.Children = append(chunkstores.Children, depotNode)
	}
	top.Children = append(top.Children, chunkstores)

	return top.Encode()
}

func idList(top *keyvalues.Node, key string) ([]uint32, error) {
	texts, err := top.IndexedStrings(key)
	if err != nil {
		return nil, fmt.Errorf("sku descriptor: %w", err)
	}
	ids := make([]uint32, len(texts))
	for i, text := range texts {
		if ids[i], err = parseUint32(text); err != nil {
			return nil, fmt.Errorf("sku descriptor: %s[%d]: %w", key, i, err)
		}
	}
	return ids, nil
}

func indexedList(name string, ids []uint32) *keyvalues.Node {
	node := &keyvalues.Node{Name: name, Children: []*keyvalues.Node{}}
	for i, id := range ids {
		node.Children = append(node.Children, &keyvalues.Node{
			Name:  strconv.Itoa(i),
			Value: formatUint(uint64(id)),
		})
	}
	return node
}

func parseUint32(text string) (uint32, error) {
	value, err := strconv.ParseUint(text, 10, 32)
	return uint32(value), err
}

func formatUint(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
