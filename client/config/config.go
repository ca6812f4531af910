// config.go - Client configuration.
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

// Package config implements the configuration for the taper client.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/taper-io/taper/internal/proxy"
	"github.com/taper-io/taper/transfer"
)

const defaultLogLevel = "NOTICE"

var defaultLogging = Logging{Level: defaultLogLevel}

// Logging is the logging configuration.
type Logging struct {
	// Disable turns off all log output.
	Disable bool

	// File is the log file path.  Leave empty to log to stdout.
	File string

	// Level is one of ERROR, WARNING, NOTICE, INFO or DEBUG.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// UpstreamProxy is the outgoing connection proxy configuration.
type UpstreamProxy struct {
	// Type selects the proxy flavor: "none", "socks5" or "tor+socks5".
	Type string

	// Network is the network the proxy listens on ("tcp" or "unix").
	Network string

	// Address is the proxy's address, an IP:port or a socket path.
	Address string

	// User is the optional SOCKS5 username.
	User string

	// Password is the optional SOCKS5 password.
	Password string
}

// toProxyConfig lowers the section into the dialer package's Config,
// validating it along the way.
func (uCfg *UpstreamProxy) toProxyConfig() (*proxy.Config, error) {
	cfg := &proxy.Config{
		Type:     uCfg.Type,
		Network:  uCfg.Network,
		Address:  uCfg.Address,
		User:     uCfg.User,
		Password: uCfg.Password,
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Transfer is the transfer policy configuration.
type Transfer struct {
	// MaxBytes is the largest inbound transfer that will be accepted,
	// in bytes.  It can only lower the protocol ceiling, never raise it.
	MaxBytes uint64

	// WarnBytes is the size above which an inbound offer is flagged for
	// confirmation, in bytes.
	WarnBytes uint64
}

func (tCfg *Transfer) fixup() error {
	if tCfg.MaxBytes == 0 {
		tCfg.MaxBytes = transfer.MaxTransferSize
	}
	if tCfg.WarnBytes == 0 {
		tCfg.WarnBytes = transfer.WarnTransferSize
	}
	if tCfg.MaxBytes > transfer.MaxTransferSize {
		return fmt.Errorf("config: Transfer: MaxBytes %d above the protocol ceiling %d", tCfg.MaxBytes, uint64(transfer.MaxTransferSize))
	}
	if tCfg.WarnBytes > tCfg.MaxBytes {
		return fmt.Errorf("config: Transfer: WarnBytes %d above MaxBytes %d", tCfg.WarnBytes, tCfg.MaxBytes)
	}
	return nil
}

// Config is the top level client configuration.
type Config struct {
	// Relay is the relay URL (ws://, wss://, tcp:// or quic://).
	Relay string

	// DataDir is where the client keeps its state, notably the inbound
	// transfer spool.  If omitted a per-user default is chosen.
	DataDir string

	// DownloadDir is where received files land.  If omitted the current
	// directory is used.
	DownloadDir string

	Logging       *Logging
	UpstreamProxy *UpstreamProxy
	Transfer      *Transfer

	upstreamProxy *proxy.Config
}

// UpstreamProxyConfig returns the validated upstream proxy configuration,
// for use by the connection layer.
func (c *Config) UpstreamProxyConfig() *proxy.Config {
	return c.upstreamProxy
}

// SpoolFile returns the path of the inbound transfer spool database.
func (c *Config) SpoolFile() string {
	return filepath.Join(c.DataDir, "spool.db")
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	// Handle missing sections if possible.
	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	if c.UpstreamProxy == nil {
		c.UpstreamProxy = &UpstreamProxy{Type: "none"}
	}
	if c.Transfer == nil {
		c.Transfer = &Transfer{}
	}

	if c.Relay == "" {
		return fmt.Errorf("config: Relay is missing")
	}
	u, err := url.Parse(c.Relay)
	if err != nil {
		return fmt.Errorf("config: Relay '%v' is invalid: %v", c.Relay, err)
	}
	switch u.Scheme {
	case "ws", "wss", "tcp", "quic":
	default:
		return fmt.Errorf("config: Relay scheme '%v' is invalid", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: Relay '%v' has no host", c.Relay)
	}

	if c.DataDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("config: DataDir not set and no user cache dir: %v", err)
		}
		c.DataDir = filepath.Join(base, "taper")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", c.DataDir)
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "."
	}

	// Validate/fixup the various sections.
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Transfer.fixup(); err != nil {
		return err
	}
	uCfg, err := c.UpstreamProxy.toProxyConfig()
	if err != nil {
		return err
	}
	c.upstreamProxy = uCfg

	return nil
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads, parses and validates the TOML file at f and returns
// the Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
