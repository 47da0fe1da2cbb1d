// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/depotkit/depotkit/cmd/depotkit/cli"
	"github.com/depotkit/depotkit/lib/mountfs"
)

type mountParams struct {
	session     sessionParams
	cacheChunks int
	allowOther  bool
}

func mountCommand() *cli.Command {
	var p mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a backup as a read-only filesystem",
		Description: `Mount the backup's depots at a mountpoint as one merged
read-only directory tree, laid out the way the installed game would
be. File data is decoded from the chunk stores on demand; nothing is
extracted to disk.

The mount stays up until interrupted (Ctrl-C) or externally
unmounted.`,
		Usage: "depotkit backup mount <dir> <mountpoint> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			p.session.addFlags(flagSet)
			flagSet.IntVar(&p.cacheChunks, "cache-chunks", mountfs.DefaultCacheChunks, "decoded chunks to keep in memory")
			flagSet.BoolVar(&p.allowOther, "allow-other", false, "allow other users to access the mount")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Mount a backup and browse it",
				Command:     "depotkit backup mount /backups/disk_1 /mnt/backup",
			},
			{
				Description: "Mount with manifests from the client's depotcache",
				Command:     "depotkit backup mount /backups/disk_1 /mnt/backup --manifest-dir ~/.steam/depotcache",
			},
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("backup directory and mountpoint arguments are required")
			}
			return runMount(args[0], args[1], &p)
		},
	}
}

func runMount(dir, mountpoint string, p *mountParams) error {
	logger := cli.NewCommandLogger().With("command", "backup/mount")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := p.session.openSession(dir, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Err(); err != nil {
		// Mount what loaded; the projection skips broken depots.
		logger.Warn("mounting with depot problems", "error", err)
	}

	projection, err := mountfs.NewProjection(session, mountfs.Options{
		CacheChunks: p.cacheChunks,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server, err := mountfs.Mount(projection, mountpoint, mountfs.MountOptions{
		AllowOther: p.allowOther,
	})
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}
