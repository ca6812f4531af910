// config.go - Relay configuration.
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

// Package config implements the configuration for the taper relay.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress  = "ws://:8080"
	defaultLogLevel = "NOTICE"
	defaultMaxRooms = 10000

	// Timeouts are in milliseconds.
	defaultHandshakeTimeout = 10 * 1000 // 10 sec.
	defaultPingInterval     = 30 * 1000 // 30 sec.
	defaultIdleTimeout      = 90 * 1000 // 90 sec.
)

var defaultLogging = Logging{Level: defaultLogLevel}

// Relay is the top level relay section.
type Relay struct {
	// Addresses are the listener URLs (ws://, wss://, tcp:// or
	// quic://) that the relay will bind to for incoming connections.
	Addresses []string

	// MetricsAddress is the address/port to bind the prometheus
	// metrics endpoint to.  If omitted metrics are not exposed.
	MetricsAddress string

	// Password is the relay access password.  If set, clients must
	// present its hash when joining a room; if omitted the relay is
	// open.
	Password string

	// CertFile and KeyFile are the TLS certificate and private key
	// used by wss:// listeners.  The quic:// listener always uses an
	// ephemeral self-signed certificate as the relay is untrusted.
	CertFile string
	KeyFile  string
}

func (rCfg *Relay) validate() error {
	if rCfg.Addresses == nil {
		rCfg.Addresses = []string{defaultAddress}
	}
	needsTLS := false
	for _, v := range rCfg.Addresses {
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("config: Relay: Address '%v' is invalid: %v", v, err)
		}
		switch u.Scheme {
		case "ws", "tcp", "quic":
		case "wss":
			needsTLS = true
		default:
			return fmt.Errorf("config: Relay: Address scheme '%v' is invalid", u.Scheme)
		}
		if u.Port() == "" {
			return fmt.Errorf("config: Relay: Address '%v' is invalid: Must contain Port", v)
		}
	}
	if needsTLS && (rCfg.CertFile == "" || rCfg.KeyFile == "") {
		return fmt.Errorf("config: Relay: wss listeners require CertFile and KeyFile")
	}
	return nil
}

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

// Limits is the resource limit configuration.
type Limits struct {
	// MaxRooms is the maximum number of concurrent rooms, legacy and
	// multi-peer combined.
	MaxRooms int

	// HandshakeTimeout is the maximum time a fresh connection has to
	// send its room join, in milliseconds.
	HandshakeTimeout int

	// PingInterval is the keepalive ping interval, in milliseconds.
	PingInterval int

	// IdleTimeout is the time after which a connection that has sent
	// nothing, not even a ping response, is reaped, in milliseconds.
	// It must exceed PingInterval.
	IdleTimeout int
}

func (lCfg *Limits) applyDefaults() {
	if lCfg.MaxRooms <= 0 {
		lCfg.MaxRooms = defaultMaxRooms
	}
	if lCfg.HandshakeTimeout <= 0 {
		lCfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if lCfg.PingInterval <= 0 {
		lCfg.PingInterval = defaultPingInterval
	}
	if lCfg.IdleTimeout <= 0 {
		lCfg.IdleTimeout = defaultIdleTimeout
	}
}

func (lCfg *Limits) validate() error {
	if lCfg.IdleTimeout <= lCfg.PingInterval {
		return fmt.Errorf("config: Limits: IdleTimeout %d must exceed PingInterval %d", lCfg.IdleTimeout, lCfg.PingInterval)
	}
	return nil
}

// Config is the top level relay configuration.
type Config struct {
	Relay   *Relay
	Logging *Logging
	Limits  *Limits
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	// Handle missing sections if possible.
	if c.Relay == nil {
		c.Relay = &Relay{}
	}
	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	if c.Limits == nil {
		c.Limits = &Limits{}
	}
	c.Limits.applyDefaults()

	// Validate the various sections.
	if err := c.Relay.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Limits.validate(); err != nil {
		return err
	}

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
