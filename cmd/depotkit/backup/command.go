// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package backup implements the "depotkit backup" command group:
// verifying backup sets against their manifests and mounting them as
// read-only filesystems.
package backup

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/depotkit/depotkit/cmd/depotkit/cli"
	backuplib "github.com/depotkit/depotkit/lib/backup"
	"github.com/depotkit/depotkit/lib/manifest"
)

// Command returns the "backup" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "backup",
		Summary: "Verify and mount backup sets",
		Description: `Operate on a Steam offline backup directory: the sku.sis
descriptor plus its chunk store (.csm/.csd) pairs, with content
manifests either alongside or in a separate depotcache directory.`,
		Subcommands: []*cli.Command{
			verifyCommand(),
			mountCommand(),
		},
	}
}

// sessionParams are the flags shared by every subcommand that opens
// a backup directory.
type sessionParams struct {
	manifestDir string
	keyFile     string
}

func (p *sessionParams) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&p.manifestDir, "manifest-dir", "", "directory holding content manifests (default: the backup directory)")
	flagSet.StringVar(&p.keyFile, "keys", "", "YAML depot key file for encrypted manifests")
}

// openSession opens the backup at dir with the shared flags applied.
func (p *sessionParams) openSession(dir string, logger *slog.Logger) (*backuplib.Session, error) {
	var keys manifest.KeyFunc
	if p.keyFile != "" {
		var err error
		keys, err = cli.LoadKeys(p.keyFile)
		if err != nil {
			return nil, err
		}
	}
	session, err := backuplib.Open(dir, backuplib.Options{
		ManifestDir: p.manifestDir,
		Keys:        keys,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening backup %s: %w", dir, err)
	}
	return session, nil
}
