// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taper-io/taper/client"
	"github.com/taper-io/taper/handshake"
)

// offerListLimit bounds how many file names an offer listing prints.
const offerListLimit = 16

// newReceiveCommand creates the receive subcommand
func newReceiveCommand() *cobra.Command {
	var flags commonFlags
	var outputDir string
	var autoAccept bool

	cmd := &cobra.Command{
		Use:   "receive [<code-phrase>]",
		Short: "Receive files from a peer",
		Long: `Receive files from a peer under a shared code phrase.

The code phrase is the one printed by 'taper send' on the other machine;
it can also come from the TAPER_CODE environment variable.  The offer is
shown before anything is written, and received files land in the output
directory after the whole transfer verifies.

If a previous attempt under the same code phrase was interrupted, the
staged chunks are reused and the transfer resumes where it left off.`,
		Example: `  # Receive with a code phrase
  taper receive 7-guitar-castle

  # Accept without prompting and write into a specific directory
  taper receive -y -o ~/Downloads 7-guitar-castle`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase := os.Getenv("TAPER_CODE")
			if len(args) == 1 {
				phrase = args[0]
			}
			if phrase == "" {
				return fmt.Errorf("no code phrase given and TAPER_CODE is not set")
			}
			return runReceive(&flags, phrase, outputDir, autoAccept)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for received files")
	cmd.Flags().BoolVarP(&autoAccept, "yes", "y", false, "accept the transfer without prompting")

	return cmd
}

func runReceive(flags *commonFlags, phrase, outputDir string, autoAccept bool) error {
	cfg, err := flags.buildConfig()
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.DownloadDir = outputDir
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-haltCh
		c.Shutdown()
	}()

	if err = c.Start(phrase, handshake.RoleReceiver, flags.sessionOptions()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Connecting...\n")

	// note prints a line without corrupting an in place progress line.
	progress := false
	note := func(format string, args ...interface{}) {
		if progress {
			fmt.Fprintf(os.Stderr, "\n")
			progress = false
		}
		fmt.Fprintf(os.Stderr, format, args...)
	}

	for ev := range c.Events() {
		switch ev := ev.(type) {
		case *client.HandshakeCompletedEvent:
			note("Connected, waiting for the offer...\n")
		case *client.HandshakeFailedEvent:
			return fmt.Errorf("handshake failed: %s", ev.Reason)
		case *client.FileOfferEvent:
			note("Incoming transfer: %d file(s), %s\n", len(ev.Manifest.Files), formatSize(ev.Manifest.TotalSize))
			for i, entry := range ev.Manifest.Files {
				if i == offerListLimit {
					note("  ... and %d more\n", len(ev.Manifest.Files)-offerListLimit)
					break
				}
				note("  %s (%s)\n", entry.Name, formatSize(entry.Size))
			}
			if ev.Resuming {
				note("A previous attempt is staged; accepting resumes it.\n")
			}
			if ev.Warn {
				note("Warning: the offer is larger than the configured warning size.\n")
			}
			accepted := autoAccept
			if !accepted {
				fmt.Fprintf(os.Stderr, "Accept %d file(s) (%s)? [y/N]: ", len(ev.Manifest.Files), formatSize(ev.Manifest.TotalSize))
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				switch strings.ToLower(strings.TrimSpace(line)) {
				case "y", "yes":
					accepted = true
				}
			}
			if !accepted {
				if err = c.Reject(ev.TransferID, "declined"); err != nil {
					return err
				}
				note("Rejected.\n")
				return nil
			}
			if err = c.Accept(ev.TransferID); err != nil {
				return err
			}
		case *client.TransferProgressEvent:
			fmt.Fprintf(os.Stderr, "\rRecv(%d/%d)", ev.Done, ev.Total)
			progress = true
		case *client.TransferCompleteEvent:
			note("Transfer complete.\n")
			// Paths go to stdout so scripts can consume them.
			for _, p := range ev.Paths {
				fmt.Println(p)
			}
			return nil
		case *client.TransferFailedEvent:
			note("")
			return fmt.Errorf("transfer failed: %v", ev.Err)
		case *client.TransferCancelledEvent:
			note("")
			if ev.Local {
				return fmt.Errorf("transfer cancelled")
			}
			return fmt.Errorf("transfer cancelled by the peer: %s", ev.Reason)
		case *client.ChatMessageEvent:
			note("peer> %s\n", ev.Text)
		case *client.ConnectionStatusEvent:
			if !ev.IsConnected {
				note("Connection lost, reconnecting...\n")
			}
		case *client.FailureEvent:
			return ev.Err
		}
	}
	return nil
}
