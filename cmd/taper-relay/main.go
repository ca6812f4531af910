// main.go - Taper relay binary.
// Copyright (C) 2026  The taper authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taper-io/taper/common"
	"github.com/taper-io/taper/relay"
	"github.com/taper-io/taper/relay/config"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "taper-relay",
		Short: "Taper rendezvous relay",
		Long: `The taper relay pairs up peers that hold the same code phrase and blindly
forwards traffic between them.  Rooms are identified by a hash derived
from the code phrase; the relay never learns the phrase itself, and every
payload that crosses it is end to end encrypted, so a relay operator
observes only room ids, message sizes and timing.

The relay keeps no state across restarts.  Rooms exist only while at
least one member is connected, and nothing is written to disk beyond the
optional log file.

Key features:
• Two peer rooms with rejoin support, so an interrupted transfer can
  resume over a fresh connection.
• Multi peer rooms with relay-assigned peer ids and presence broadcasts.
• WebSocket, TCP and QUIC listeners, individually configurable.
• Optional relay password to keep strangers out of a private deployment.
• Prometheus metrics for connections, rooms and routed traffic.

The relay is designed to run as a long-lived daemon process.  A single
instance serves many concurrent rooms; the MaxRooms limit bounds the
total across both room flavors.`,
		Example: `  # Start the relay with the default configuration file
  taper-relay

  # Start the relay with a custom configuration file
  taper-relay --config /etc/taper/relay.toml

  # Start the relay with a specific config file (short form)
  taper-relay -f /path/to/relay.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cfg)
		},
	}

	// Configuration flags
	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "relay.toml",
		"path to the relay configuration file (TOML format)")

	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func runRelay(cfg Config) error {
	// Let the runtime use every core, unless the user has overridden
	// GOMAXPROCS themselves.
	if os.Getenv("GOMAXPROCS") == "" {
		nProcs := runtime.GOMAXPROCS(0)
		nCPU := runtime.NumCPU()
		if nProcs < nCPU {
			runtime.GOMAXPROCS(nCPU)
		}
	}

	relayCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load relay config file '%v': %v", cfg.ConfigFile, err)
	}

	// Wire up the signal handling before anything can fail.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	// Start up the relay.
	svr, err := relay.New(relayCfg)
	if err != nil {
		return fmt.Errorf("failed to spawn relay instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the relay gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Rotate relay logs upon SIGHUP.
	go func() {
		<-rotateCh
		svr.RotateLog()
	}()

	// Wait for the relay to explode or be terminated.
	svr.Wait()
	return nil
}
