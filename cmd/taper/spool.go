// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taper-io/taper/client"
)

// spoolFlags is the slim flag set for spool management, which never
// touches the network.
type spoolFlags struct {
	configFile string
	dataDir    string
}

func (f *spoolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configFile, "config", "f", "", "configuration file (TOML format)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "state directory for the transfer spool")
}

func (f *spoolFlags) open() (*client.Client, error) {
	cf := &commonFlags{
		configFile: f.configFile,
		dataDir:    f.dataDir,
		logLevel:   defaultLogLevel,
	}
	cfg, err := cf.buildConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg)
}

// newSpoolCommand creates the spool subcommand
func newSpoolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Inspect and manage the transfer spool",
		Long: `Inspect and manage the local transfer spool.

Inbound transfers are staged in the spool until they complete and
verify, so an interrupted transfer leaves a partial entry behind that a
later session under the same code phrase resumes.  These commands list
the staged entries, the journal of completed transfers, and let stale
entries be removed.`,
	}

	cmd.AddCommand(newSpoolStatusCommand())
	cmd.AddCommand(newSpoolDropCommand())
	cmd.AddCommand(newSpoolCleanCommand())

	return cmd
}

func newSpoolStatusCommand() *cobra.Command {
	var flags spoolFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List staged transfers and the completion journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpoolStatus(&flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runSpoolStatus(flags *spoolFlags) error {
	c, err := flags.open()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	entries, err := c.SpoolStatus()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Spool is empty.")
	} else {
		fmt.Printf("%-32s  %-7s  %5s  %10s  %s\n", "ID", "STATE", "FILES", "SIZE", "CHUNKS")
		for _, e := range entries {
			state := "partial"
			if e.Sealed {
				state = "sealed"
			}
			fmt.Printf("%-32x  %-7s  %5d  %10s  %d/%d\n", e.TransferID, state, e.Files, formatSize(e.TotalSize), e.StagedChunks, e.TotalChunks)
		}
	}

	journal, err := c.SpoolJournal()
	if err != nil {
		return err
	}
	if len(journal) != 0 {
		fmt.Printf("\nCompleted transfers:\n")
		for _, j := range journal {
			fmt.Printf("  %x  %x  %s\n", j.TransferID, j.Hash[:8], time.Unix(j.CompletedAt, 0).UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func newSpoolDropCommand() *cobra.Command {
	var flags spoolFlags

	cmd := &cobra.Command{
		Use:   "drop <transfer-id>",
		Short: "Remove one staged transfer",
		Long: `Remove a staged transfer and its chunks from the spool.

The transfer id is the hex id shown by 'taper spool status'; an
unambiguous prefix is enough.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpoolDrop(&flags, args[0])
		},
	}

	flags.register(cmd)
	return cmd
}

func runSpoolDrop(flags *spoolFlags, arg string) error {
	c, err := flags.open()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	entries, err := c.SpoolStatus()
	if err != nil {
		return err
	}
	prefix := strings.ToLower(arg)
	var match []byte
	for _, e := range entries {
		if strings.HasPrefix(fmt.Sprintf("%x", e.TransferID), prefix) {
			if match != nil {
				return fmt.Errorf("transfer id prefix '%v' is ambiguous", arg)
			}
			match = e.TransferID
		}
	}
	if match == nil {
		return fmt.Errorf("no staged transfer matches '%v'", arg)
	}

	if err = c.SpoolDrop(match); err != nil {
		return err
	}
	fmt.Printf("Dropped %x.\n", match)
	return nil
}

func newSpoolCleanCommand() *cobra.Command {
	var flags spoolFlags

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove all staged transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpoolClean(&flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runSpoolClean(flags *spoolFlags) error {
	c, err := flags.open()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	entries, err := c.SpoolStatus()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err = c.SpoolDrop(e.TransferID); err != nil {
			return err
		}
	}
	fmt.Printf("Dropped %d staged transfer(s).\n", len(entries))
	return nil
}
