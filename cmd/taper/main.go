// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

// taper - end to end encrypted file transfer and chat over an untrusted
// relay.
//
// The peers find each other by sharing a short code phrase out of band.
// Everything that crosses the relay is end to end encrypted; the relay
// sees room ids, sizes and timing, never content.
package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/taper-io/taper/client"
	"github.com/taper-io/taper/client/config"
	"github.com/taper-io/taper/common"
	"github.com/taper-io/taper/wire"
)

const (
	// defaultRelay is used when neither the command line, the config file
	// nor TAPER_RELAY name a relay.
	defaultRelay = "wss://relay.taper.io"

	defaultLogLevel = "NOTICE"
)

func main() {
	rootCmd := newRootCommand()
	common.ExecuteWithFang(rootCmd)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taper",
		Short: "End to end encrypted file transfer and chat",
		Long: `Taper moves files and chat between two machines through an untrusted
relay.  The peers find each other by sharing a short code phrase out of
band; everything that crosses the relay is end to end encrypted with a
hybrid post quantum handshake, and the code phrase itself never leaves
the two machines.

Transfers survive interruptions: partially received files are staged in
a local spool and resume where they left off when both sides reconnect
under the same code phrase.`,
	}

	cmd.AddCommand(newSendCommand())
	cmd.AddCommand(newReceiveCommand())
	cmd.AddCommand(newChatCommand())
	cmd.AddCommand(newSpoolCommand())

	return cmd
}

// commonFlags holds the flags shared by the session subcommands.
type commonFlags struct {
	configFile string
	relay      string
	relayPass  string
	proxy      string
	dataDir    string
	logFile    string
	logLevel   string
	multi      bool
	capacity   uint8
	maxBytes   uint64
	warnBytes  uint64
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configFile, "config", "f", "", "configuration file (TOML format)")
	cmd.Flags().StringVar(&f.relay, "relay", "", "relay URL (ws://, wss://, tcp:// or quic://, also reads TAPER_RELAY)")
	cmd.Flags().StringVar(&f.relayPass, "relay-pass", "", "relay password (also reads TAPER_RELAY_PASS)")
	cmd.Flags().StringVar(&f.proxy, "proxy", "", "upstream SOCKS5 proxy (e.g. socks5://127.0.0.1:9050)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "state directory for the transfer spool")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "log file (logging is off without one)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", defaultLogLevel, "log level (ERROR, WARNING, NOTICE, INFO, DEBUG)")
	cmd.Flags().BoolVar(&f.multi, "multi", false, "use a multi peer room instead of the two peer default")
	cmd.Flags().Uint8Var(&f.capacity, "capacity", 0, "requested multi peer room capacity (0 asks for the maximum)")
	cmd.Flags().Uint64Var(&f.maxBytes, "max-bytes", 0, "largest inbound transfer to accept, in bytes")
	cmd.Flags().Uint64Var(&f.warnBytes, "warn-bytes", 0, "inbound offer size that triggers a warning, in bytes")
}

// buildConfig assembles the client configuration from the optional config
// file and the command line, with flags winning over file entries.
func (f *commonFlags) buildConfig() (*config.Config, error) {
	cfg := new(config.Config)
	if f.configFile != "" {
		b, err := os.ReadFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", f.configFile, err)
		}
		md, err := toml.Decode(string(b), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", f.configFile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("failed to load config file '%v': undecoded keys: %v", f.configFile, undecoded)
		}
	}

	if f.relay != "" {
		cfg.Relay = f.relay
	}
	if cfg.Relay == "" {
		if env := os.Getenv("TAPER_RELAY"); env != "" {
			cfg.Relay = env
		} else {
			cfg.Relay = defaultRelay
		}
	}
	if f.dataDir != "" {
		d, err := filepath.Abs(f.dataDir)
		if err != nil {
			return nil, fmt.Errorf("invalid data dir '%v': %v", f.dataDir, err)
		}
		cfg.DataDir = d
	}
	if f.proxy != "" {
		p, err := parseProxy(f.proxy)
		if err != nil {
			return nil, err
		}
		cfg.UpstreamProxy = p
	}

	// Logging is off by default so the terminal belongs to the transfer
	// output; a log file or an explicit level turns it on.
	if f.logFile != "" || f.logLevel != defaultLogLevel {
		cfg.Logging = &config.Logging{File: f.logFile, Level: f.logLevel}
	} else if cfg.Logging == nil {
		cfg.Logging = &config.Logging{Disable: true}
	}

	if f.maxBytes != 0 || f.warnBytes != 0 {
		if cfg.Transfer == nil {
			cfg.Transfer = &config.Transfer{}
		}
		if f.maxBytes != 0 {
			cfg.Transfer.MaxBytes = f.maxBytes
		}
		if f.warnBytes != 0 {
			cfg.Transfer.WarnBytes = f.warnBytes
		}
	}

	return cfg, nil
}

// sessionOptions converts the room related flags, pulling the relay
// password from the environment when the flag is absent.
func (f *commonFlags) sessionOptions() *client.SessionOptions {
	pass := f.relayPass
	if pass == "" {
		pass = os.Getenv("TAPER_RELAY_PASS")
	}
	capacity := f.capacity
	if f.multi && capacity == 0 {
		capacity = wire.MaxRoomCapacity
	}
	return &client.SessionOptions{
		Multi:    f.multi,
		Capacity: capacity,
		Password: pass,
	}
}

func parseProxy(s string) (*config.UpstreamProxy, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy '%v': %v", s, err)
	}
	if u.Scheme != "socks5" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy '%v': expected socks5://host:port", s)
	}
	p := &config.UpstreamProxy{
		Type:    "socks5",
		Network: "tcp",
		Address: u.Host,
	}
	if u.User != nil {
		p.User = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// formatSize renders a byte count for humans.
func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
