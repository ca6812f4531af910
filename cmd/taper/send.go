// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"

	"github.com/taper-io/taper/client"
	"github.com/taper-io/taper/core/codephrase"
	"github.com/taper-io/taper/handshake"
)

// newSendCommand creates the send subcommand
func newSendCommand() *cobra.Command {
	var flags commonFlags
	var customCode string
	var words int
	var showQR bool

	cmd := &cobra.Command{
		Use:   "send <file> [<file> ...]",
		Short: "Send files to a peer",
		Long: `Send files or directories to a peer.

A fresh code phrase is generated and printed; the receiving side types
it into 'taper receive' and both machines meet at the relay.  The files
are offered first, streamed only after the receiver accepts, and
verified against a content hash on completion.`,
		Example: `  # Send a file
  taper send report.pdf

  # Send a directory and show a QR code for the receiver to scan
  taper send --qr ./photos

  # Send with a pre-agreed code phrase instead of a generated one
  taper send -c "9-ocean-stone-guitar" backup.tar`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(&flags, customCode, words, showQR, args)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&customCode, "code", "c", "", "use a custom code phrase instead of generating one")
	cmd.Flags().IntVar(&words, "words", codephrase.DefaultWords, "number of words in the generated code phrase")
	cmd.Flags().BoolVar(&showQR, "qr", false, "display a QR code of the receive command")

	return cmd
}

func runSend(flags *commonFlags, customCode string, words int, showQR bool, paths []string) error {
	var phrase string
	if customCode != "" {
		phrase = codephrase.Normalize(customCode)
		if len(phrase) < 4 {
			return fmt.Errorf("custom code must be at least 4 characters")
		}
		if len(phrase) < 8 {
			fmt.Fprintf(os.Stderr, "Warning: short custom code, security depends on code phrase entropy.\n")
		}
	} else {
		phrase = codephrase.Generate(words)
	}

	fmt.Println("Code phrase:")
	fmt.Printf("  %s\n\n", phrase)
	fmt.Println("On the receiving end, run:")
	fmt.Printf("  taper receive %s\n\n", phrase)
	if showQR {
		// The QR code carries the full receive command so a phone can
		// scan it directly.
		qrterminal.GenerateWithConfig("taper receive "+phrase, qrterminal.Config{
			Level:      qrterminal.L,
			Writer:     os.Stdout,
			HalfBlocks: true,
			QuietZone:  1,
		})
		fmt.Println()
	}

	cfg, err := flags.buildConfig()
	if err != nil {
		return err
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

	if err = c.Start(phrase, handshake.RoleSender, flags.sessionOptions()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Waiting for the receiver...\n")

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
			note("Peer connected, sending the offer...\n")
			if err = c.SendFiles(paths); err != nil {
				return err
			}
		case *client.HandshakeFailedEvent:
			return fmt.Errorf("handshake failed: %s", ev.Reason)
		case *client.TransferRejectedEvent:
			return fmt.Errorf("peer declined the transfer: %s", ev.Reason)
		case *client.TransferProgressEvent:
			fmt.Fprintf(os.Stderr, "\rSend(%d/%d)", ev.Done, ev.Total)
			progress = true
		case *client.TransferCompleteEvent:
			note("Transfer complete.\n")
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
