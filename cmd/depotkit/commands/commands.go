// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete depotkit CLI command tree.
package commands

import (
	"fmt"

	backupcmd "github.com/depotkit/depotkit/cmd/depotkit/backup"
	"github.com/depotkit/depotkit/cmd/depotkit/cli"
	inspectcmd "github.com/depotkit/depotkit/cmd/depotkit/inspect"
	"github.com/depotkit/depotkit/lib/version"
)

// Root builds and returns the complete depotkit CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "depotkit",
		Description: `depotkit: read, verify, and mount Steam offline backups.

Works directly with the backup's native formats — the sku.sis
descriptor, chunk store (.csm/.csd) pairs, and depot content
manifests — without extracting anything.`,
		Subcommands: []*cli.Command{
			inspectcmd.Command(),
			backupcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("depotkit %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Summarize a backup descriptor",
				Command:     "depotkit inspect /backups/disk_1/sku.sis",
			},
			{
				Description: "Verify a backup set end to end",
				Command:     "depotkit backup verify /backups/disk_1",
			},
			{
				Description: "Mount a backup for browsing",
				Command:     "depotkit backup mount /backups/disk_1 /mnt/backup",
			},
		},
	}
}
