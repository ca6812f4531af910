// proxy.go - Upstream (outgoing) proxy support.
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

// Package proxy dials relay connections through an optional upstream
// SOCKS5 or Tor SOCKS proxy.
package proxy

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

const (
	typeNone      = "none"
	typeSOCKS5    = "socks5"
	typeTorSOCKS5 = "tor+socks5"

	// RFC 1929 encodes the auth field lengths in a single octet.
	maxAuthLen = 255
)

// Config is the upstream proxy configuration.
type Config struct {
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

// DialContextFn matches net.Dialer.DialContext.
type DialContextFn func(ctx context.Context, network, address string) (net.Conn, error)

// FixupAndValidate normalizes the configuration and rejects anything
// that cannot be dialed.
func (cfg *Config) FixupAndValidate() error {
	cfg.Type = strings.ToLower(cfg.Type)
	cfg.Network = strings.ToLower(cfg.Network)
	switch cfg.Type {
	case "":
		cfg.Type = typeNone
		return nil
	case typeNone:
		return nil
	case typeSOCKS5, typeTorSOCKS5:
		return cfg.validateSOCKS5()
	default:
		return fmt.Errorf("proxy: unsupported type '%v'", cfg.Type)
	}
}

func (cfg *Config) validateSOCKS5() error {
	switch {
	case len(cfg.User) > maxAuthLen || len(cfg.Password) > maxAuthLen:
		return fmt.Errorf("proxy: User/Password exceed the SOCKS5 length limit")
	case (cfg.User == "") != (cfg.Password == ""):
		return fmt.Errorf("proxy: User and Password must be set together")
	case cfg.User != "" && cfg.Type == typeTorSOCKS5:
		return fmt.Errorf("proxy: tor+socks5 repurposes User/Password for stream isolation")
	}

	switch cfg.Network {
	case "tcp":
		if err := validateAddrPort(cfg.Address); err != nil {
			return fmt.Errorf("proxy: Address '%v': %v", cfg.Address, err)
		}
	case "unix":
		fi, err := os.Lstat(cfg.Address)
		if err != nil {
			return fmt.Errorf("proxy: Address '%v': %v", cfg.Address, err)
		}
		if fi.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("proxy: Address '%v' is not a socket", cfg.Address)
		}
	default:
		return fmt.Errorf("proxy: unsupported network '%v'", cfg.Network)
	}
	return nil
}

func validateAddrPort(a string) error {
	ap, err := netip.ParseAddrPort(a)
	if err != nil {
		return err
	}
	if ap.Port() == 0 {
		return fmt.Errorf("port must be nonzero")
	}
	return nil
}

// ToDialContext returns a DialContextFn that tunnels through the
// configured proxy, or nil iff no proxy is configured.  The tag
// partitions Tor circuits between unrelated uses within the process.
// Callers must have validated the Config first.
func (cfg *Config) ToDialContext(tag string) DialContextFn {
	switch cfg.Type {
	case typeNone:
		return nil
	case typeSOCKS5, typeTorSOCKS5:
		return cfg.socks5DialContext(tag)
	default:
		panic("proxy: ToDialContext() on unvalidated config: " + cfg.Type)
	}
}

func (cfg *Config) socks5DialContext(tag string) DialContextFn {
	auth := cfg.socksAuth(tag)
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		d, err := proxy.SOCKS5(cfg.Network, cfg.Address, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, address)
		}
		return d.Dial(network, address)
	}
}

func (cfg *Config) socksAuth(tag string) *proxy.Auth {
	switch {
	case cfg.Type == typeTorSOCKS5:
		// Tor treats the SOCKS5 auth fields as a stream isolation
		// token (IsolateSOCKSAuth), so circuits are shared within a
		// tag and never across tags.
		sum := sha512.Sum512_256([]byte(tag))
		return &proxy.Auth{
			User:     isolationPrefix() + hex.EncodeToString(sum[:16]),
			Password: "\x00",
		}
	case cfg.User != "":
		return &proxy.Auth{User: cfg.User, Password: cfg.Password}
	default:
		return nil
	}
}

// isolationPrefix is derived once per process so that a restarted
// client always lands on fresh Tor circuits.
var isolationPrefix = sync.OnceValue(func() string {
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(seed[8:], uint64(time.Now().Unix()))
	sum := sha512.Sum512_256(seed[:])
	return "taper:" + hex.EncodeToString(sum[:8]) + ":"
})
