// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bufio"
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

// newChatCommand creates the chat subcommand
func newChatCommand() *cobra.Command {
	var flags commonFlags
	var initiator bool
	var words int
	var showQR bool

	cmd := &cobra.Command{
		Use:   "chat [<code-phrase>]",
		Short: "Start an encrypted chat session",
		Long: `Start an interactive end to end encrypted chat session.

Run without arguments to generate a fresh code phrase and wait; the
other side joins with 'taper chat <code-phrase>'.  When both sides use a
pre-agreed phrase, exactly one of them must pass --initiator.

Typed lines go to the peer, incoming lines are printed with a 'peer>'
prefix, and /quit (or end of input) leaves the session.`,
		Example: `  # Start a chat and print the code phrase for the other side
  taper chat

  # Join a chat started elsewhere
  taper chat 7-guitar-castle

  # Chat over a pre-agreed phrase, this side initiating
  taper chat --initiator "9-ocean-stone-guitar"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase := ""
			if len(args) == 1 {
				phrase = args[0]
			}
			return runChat(&flags, phrase, initiator, words, showQR)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&initiator, "initiator", false, "initiate the handshake (exactly one side must)")
	cmd.Flags().IntVar(&words, "words", codephrase.DefaultWords, "number of words in the generated code phrase")
	cmd.Flags().BoolVar(&showQR, "qr", false, "display a QR code of the join command")

	return cmd
}

func runChat(flags *commonFlags, phrase string, initiator bool, words int, showQR bool) error {
	role := handshake.RoleReceiver
	if phrase == "" {
		// No phrase means this side opens the room, so it also opens the
		// handshake once the peer arrives.
		phrase = codephrase.Generate(words)
		role = handshake.RoleSender

		fmt.Println("Code phrase:")
		fmt.Printf("  %s\n\n", phrase)
		fmt.Println("On the other machine, run:")
		fmt.Printf("  taper chat %s\n\n", phrase)
		if showQR {
			qrterminal.GenerateWithConfig("taper chat "+phrase, qrterminal.Config{
				Level:      qrterminal.L,
				Writer:     os.Stdout,
				HalfBlocks: true,
				QuietZone:  1,
			})
			fmt.Println()
		}
	} else if initiator {
		role = handshake.RoleSender
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

	if err = c.Start(phrase, role, flags.sessionOptions()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Waiting for your peer...\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(os.Stdin)
		for s.Scan() {
			lines <- s.Text()
		}
	}()

	// The typing notice is rewritten in place, so it needs erasing before
	// any real line lands.
	typing := false
	clearTyping := func() {
		if typing {
			fmt.Fprintf(os.Stderr, "\r                   \r")
			typing = false
		}
	}

	established := false
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *client.HandshakeCompletedEvent:
				established = true
				fmt.Fprintf(os.Stderr, "Connected.  Type to chat, /quit to leave.\n")
			case *client.HandshakeFailedEvent:
				return fmt.Errorf("handshake failed: %s", ev.Reason)
			case *client.ChatMessageEvent:
				clearTyping()
				fmt.Printf("peer> %s\n", ev.Text)
			case *client.TypingEvent:
				clearTyping()
				if ev.Typing {
					fmt.Fprintf(os.Stderr, "\rpeer is typing...")
					typing = true
				}
			case *client.FileOfferEvent:
				// Chat sessions do not take deliveries.
				clearTyping()
				fmt.Fprintf(os.Stderr, "Peer offered %d file(s); declining, use 'taper receive' for transfers.\n", len(ev.Manifest.Files))
				if err = c.Reject(ev.TransferID, "chat only"); err != nil {
					return err
				}
			case *client.ConnectionStatusEvent:
				if !ev.IsConnected {
					clearTyping()
					fmt.Fprintf(os.Stderr, "Connection lost, reconnecting...\n")
				}
			case *client.FailureEvent:
				return ev.Err
			}
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				clearTyping()
				c.Shutdown()
				for range c.Events() {
				}
				return nil
			}
			if line == "" {
				continue
			}
			if !established {
				fmt.Fprintf(os.Stderr, "Not connected yet.\n")
				continue
			}
			if err = c.SendChat(line); err != nil {
				fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			}
		}
	}
}
