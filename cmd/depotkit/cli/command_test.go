// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "depotkit",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "inspect",
				Run: func(args []string) error {
					called = "inspect"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"inspect"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "inspect" {
		t.Errorf("dispatched to %q, want %q", called, "inspect")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "depotkit",
		Subcommands: []*Command{
			{
				Name: "backup",
				Subcommands: []*Command{
					{
						Name: "verify",
						Run: func(args []string) error {
							called = "backup verify"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"backup", "verify", "/backups/disk_1"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "backup verify" {
		t.Errorf("dispatched to %q, want %q", called, "backup verify")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "/backups/disk_1" {
		t.Errorf("args = %v, want [/backups/disk_1]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var keyPath string
	var target string

	command := &Command{
		Name: "verify",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&keyPath, "keys", "", "depot key file")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--keys", "/etc/depot-keys.yaml", "/backups/disk_1"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if keyPath != "/etc/depot-keys.yaml" {
		t.Errorf("keyPath = %q, want %q", keyPath, "/etc/depot-keys.yaml")
	}
	if target != "/backups/disk_1" {
		t.Errorf("target = %q, want %q", target, "/backups/disk_1")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "verify",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.Int("jobs", 0, "worker count")
			flagSet.String("report", "", "report output path")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--reprot"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --report") {
		t.Errorf("error = %q, want suggestion for '--report'", errStr)
	}
	// Suggestion should be on the same line as the error, not buried.
	if !strings.Contains(errStr, "reprot") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	// Should include a pointer to --help.
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "verify",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.Int("jobs", 0, "worker count")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "depotkit",
		Subcommands: []*Command{
			{Name: "inspect"},
			{Name: "backup"},
			{Name: "version"},
		},
	}

	err := root.Execute([]string{"bakcup"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"backup\"") {
		t.Errorf("error = %q, want suggestion for 'backup'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "depotkit",
		Subcommands: []*Command{
			{Name: "inspect"},
			{Name: "backup"},
		},
	}

	err := root.Execute([]string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "depotkit",
				Summary: "Steam backup tooling",
				Subcommands: []*Command{
					{Name: "backup", Summary: "Backup operations"},
				},
			}

			err := root.Execute([]string{helpArg})
			if err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "depotkit",
		Subcommands: []*Command{
			{Name: "backup", Summary: "Backup operations"},
		},
	}

	err := root.Execute([]string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "depotkit",
		Description: "Read and verify Steam offline backups.",
		Subcommands: []*Command{
			{Name: "inspect", Summary: "Summarize a backup file"},
			{Name: "backup", Summary: "Verify and mount backup sets"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Inspect a chunk store manifest",
				Command:     "depotkit inspect 731_depotcache_1.csm",
			},
			{
				Description: "Verify a backup set",
				Command:     "depotkit backup verify /backups/disk_1",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	// Verify structural elements are present.
	for _, want := range []string{
		"Read and verify Steam offline backups.",
		"Usage:",
		"depotkit <command> [flags]",
		"Commands:",
		"inspect",
		"Summarize a backup file",
		"backup",
		"Verify and mount backup sets",
		"Examples:",
		"depotkit inspect 731_depotcache_1.csm",
		"depotkit backup verify /backups/disk_1",
		"Run 'depotkit <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "verify",
		Summary: "Verify a backup set",
		Usage:   "depotkit backup verify <dir> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.String("report", "", "write a CBOR report here")
			flagSet.Int("jobs", 0, "verification workers")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"depotkit backup verify <dir> [flags]",
		"Flags:",
		"report",
		"jobs",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "depotkit"}
	backup := &Command{Name: "backup", parent: root}
	verify := &Command{Name: "verify", parent: backup}

	if got := root.fullName(); got != "depotkit" {
		t.Errorf("root.fullName() = %q, want %q", got, "depotkit")
	}
	if got := backup.fullName(); got != "depotkit backup" {
		t.Errorf("backup.fullName() = %q, want %q", got, "depotkit backup")
	}
	if got := verify.fullName(); got != "depotkit backup verify" {
		t.Errorf("verify.fullName() = %q, want %q", got, "depotkit backup verify")
	}
}
