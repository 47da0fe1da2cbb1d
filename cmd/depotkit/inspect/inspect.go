// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package inspect implements "depotkit inspect": one-screen summaries
// of the individual files that make up a Steam offline backup.
package inspect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/depotkit/depotkit/cmd/depotkit/cli"
	"github.com/depotkit/depotkit/lib/chunkstore"
	"github.com/depotkit/depotkit/lib/manifest"
	"github.com/depotkit/depotkit/lib/sku"
)

type params struct {
	keyFile string
}

// Command returns the "inspect" command.
func Command() *cli.Command {
	var p params

	return &cli.Command{
		Name:    "inspect",
		Summary: "Summarize backup files",
		Description: `Print a summary of one or more backup files.

The file kind is determined by name: sku.sis (backup descriptor),
*.csm (chunk store manifest), *.csd (chunk store data), *.manifest
(depot content manifest). Encrypted content manifests need --keys.`,
		Usage: "depotkit inspect <file>... [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.StringVar(&p.keyFile, "keys", "", "YAML depot key file for encrypted manifests")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Summarize a backup descriptor",
				Command:     "depotkit inspect /backups/disk_1/sku.sis",
			},
			{
				Description: "Summarize a chunk store",
				Command:     "depotkit inspect 731_depotcache_1.csm",
			},
			{
				Description: "Summarize an encrypted content manifest",
				Command:     "depotkit inspect 731_8514218433050358769.manifest --keys depot-keys.yaml",
			},
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one file argument is required")
			}

			var keys manifest.KeyFunc
			if p.keyFile != "" {
				var err error
				keys, err = cli.LoadKeys(p.keyFile)
				if err != nil {
					return err
				}
			}

			for i, path := range args {
				if i > 0 {
					fmt.Println()
				}
				if err := inspectFile(path, keys); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		},
	}
}

func inspectFile(path string, keys manifest.KeyFunc) error {
	base := filepath.Base(path)
	switch {
	case base == sku.FileName:
		return inspectSKU(path)
	case strings.HasSuffix(base, ".csm"):
		return inspectStoreManifest(path)
	case strings.HasSuffix(base, ".csd"):
		return inspectStoreData(path)
	case strings.HasSuffix(base, ".manifest"):
		return inspectManifest(path, keys)
	default:
		return fmt.Errorf("unrecognized backup file (expected sku.sis, *.csm, *.csd, or *.manifest)")
	}
}

func inspectSKU(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	descriptor, err := sku.Decode(data)
	if err != nil {
		return err
	}

	fmt.Printf("%s: backup descriptor\n", path)
	fmt.Printf("  name:          %s\n", descriptor.Name)
	fmt.Printf("  disk:          %d of %d\n", descriptor.Disk, descriptor.Disks)
	fmt.Printf("  apps:          %s\n", idList(descriptor.Apps))
	fmt.Printf("  depots:        %s\n", idList(descriptor.Depots))
	for _, depot := range descriptor.Depots {
		gid := descriptor.Manifests[depot]
		fmt.Printf("  depot %d: manifest %d, %d chunk stores, %s\n",
			depot, gid, len(descriptor.ChunkStores[depot]),
			humanize.IBytes(descriptor.DepotSize(depot)))
	}
	return nil
}

func inspectStoreManifest(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	m, err := chunkstore.DecodeManifest(file)
	if err != nil {
		return err
	}

	var compressed, uncompressed uint64
	for _, entry := range m.Entries {
		compressed += uint64(entry.CompressedLength)
		uncompressed += uint64(entry.UncompressedLength)
	}

	fmt.Printf("%s: chunk store manifest\n", path)
	fmt.Printf("  depot:         %d\n", m.Depot)
	fmt.Printf("  encrypted:     %t\n", m.Encrypted)
	fmt.Printf("  chunks:        %d\n", len(m.Entries))
	fmt.Printf("  compressed:    %s\n", humanize.IBytes(compressed))
	fmt.Printf("  uncompressed:  %s\n", humanize.IBytes(uncompressed))
	return nil
}

func inspectStoreData(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	header, err := chunkstore.DecodeDataHeader(file)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("%s: chunk store data\n", path)
	fmt.Printf("  depot:         %d\n", header.Depot)
	fmt.Printf("  encrypted:     %t\n", header.Encrypted)
	fmt.Printf("  size on disk:  %s\n", humanize.IBytes(uint64(info.Size())))
	return nil
}

func inspectManifest(path string, keys manifest.KeyFunc) error {
	m, err := manifest.LoadFile(path, keys)
	if err != nil {
		return err
	}

	var files, dirs, symlinks int
	for i := range m.Files {
		switch {
		case m.Files[i].Flags.IsDirectory():
			dirs++
		case m.Files[i].IsSymlink():
			symlinks++
		default:
			files++
		}
	}

	fmt.Printf("%s: content manifest\n", path)
	fmt.Printf("  depot:         %d\n", m.Depot)
	fmt.Printf("  manifest gid:  %d\n", m.GID)
	fmt.Printf("  created:       %s\n", m.CreationTime.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  files:         %d (%d directories, %d symlinks)\n", files, dirs, symlinks)
	fmt.Printf("  unique chunks: %d\n", m.UniqueChunks)
	fmt.Printf("  original:      %s\n", humanize.IBytes(m.OriginalSize))
	fmt.Printf("  compressed:    %s\n", humanize.IBytes(m.CompressedSize))
	fmt.Printf("  fingerprint:   %s\n", m.Fingerprint())
	return nil
}

func idList(ids []uint32) string {
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
