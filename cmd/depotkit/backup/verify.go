// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/depotkit/depotkit/cmd/depotkit/cli"
	backuplib "github.com/depotkit/depotkit/lib/backup"
	"github.com/depotkit/depotkit/lib/manifest"
	"github.com/depotkit/depotkit/lib/verify"
)

type verifyParams struct {
	session    sessionParams
	depotcache string
	reportPath string
	jobs       int
}

func verifyCommand() *cli.Command {
	var p verifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Check a backup set against its manifests",
		Description: `Verify every file of every depot in a backup: chunk presence,
chunk digests, file sizes, declared chunk store sizes, and store
coverage. With --depotcache, the backup's manifests are also compared
against the client's cached manifests to detect divergence.

Exit status is 0 only when every depot verifies clean.`,
		Usage: "depotkit backup verify <dir> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			p.session.addFlags(flagSet)
			flagSet.StringVar(&p.depotcache, "depotcache", "", "client depotcache directory to cross-check manifests against")
			flagSet.StringVar(&p.reportPath, "report", "", "write a CBOR verification report to this file")
			flagSet.IntVar(&p.jobs, "jobs", 0, "verification workers (default: GOMAXPROCS)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Verify a backup set",
				Command:     "depotkit backup verify /backups/disk_1",
			},
			{
				Description: "Verify and write a machine-readable report",
				Command:     "depotkit backup verify /backups/disk_1 --report verify.cbor",
			},
			{
				Description: "Cross-check against the client's cached manifests",
				Command:     "depotkit backup verify /backups/disk_1 --depotcache ~/.steam/depotcache",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one backup directory argument is required")
			}
			return runVerify(args[0], &p)
		},
	}
}

func runVerify(dir string, p *verifyParams) error {
	logger := cli.NewCommandLogger().With("command", "backup/verify")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := p.session.openSession(dir, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	var cached map[uint32]*manifest.Manifest
	if p.depotcache != "" {
		var keys manifest.KeyFunc
		if p.session.keyFile != "" {
			if keys, err = cli.LoadKeys(p.session.keyFile); err != nil {
				return err
			}
		}
		cached = loadCachedManifests(session, p.depotcache, keys, logger)
	}

	report, err := verify.Backup(ctx, session, verify.Options{
		Jobs:   p.jobs,
		Cached: cached,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	printReport(report)

	if p.reportPath != "" {
		if err := writeReport(report, p.reportPath); err != nil {
			return err
		}
	}

	if !report.Ok() {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// loadCachedManifests loads each depot's cached manifest from the
// depotcache directory for divergence comparison. Depots without a
// cached manifest are skipped; that is the normal case for a backup
// moved to another machine.
func loadCachedManifests(session *backuplib.Session, dir string, keys manifest.KeyFunc, logger *slog.Logger) map[uint32]*manifest.Manifest {
	cached := make(map[uint32]*manifest.Manifest)
	for _, depot := range session.Depots {
		if depot.ManifestGID == 0 {
			continue
		}
		m, err := manifest.Load(dir, depot.ID, depot.ManifestGID, keys)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("cached manifest unreadable", "depot", depot.ID, "error", err)
			}
			continue
		}
		cached[depot.ID] = m
	}
	return cached
}

func printReport(report *verify.Report) {
	checked, failed := report.Counts()
	for _, depot := range report.Depots {
		status := "ok"
		if !depot.Ok() {
			status = "DAMAGED"
		}
		fmt.Printf("depot %d (manifest %d): %s\n", depot.Depot, depot.ManifestGID, status)
		for _, finding := range depot.Findings {
			fmt.Printf("  finding: %s\n", finding)
		}
		for _, file := range depot.Files {
			if file.Status == verify.StatusOk {
				continue
			}
			line := fmt.Sprintf("  %s: %s", file.Path, file.Status)
			if file.Chunk != nil {
				line += fmt.Sprintf(" (chunk %s)", file.Chunk)
			}
			if file.Detail != "" {
				line += ": " + file.Detail
			}
			fmt.Println(line)
		}
	}
	fmt.Printf("%d files checked, %d failed\n", checked, failed)
}

func writeReport(report *verify.Report, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := report.EncodeCBOR(file); err != nil {
		file.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return file.Close()
}
