// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/transfer"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	dataDir := t.TempDir()
	basicConfig := fmt.Sprintf(`# A basic client configuration.
Relay = "wss://relay.example.com"
DataDir = "%s"

[Logging]
Level = "debug"
`, dataDir)

	cfg, err := Load([]byte(basicConfig))
	require.NoError(err, "Load() with basic config")
	require.Equal("DEBUG", cfg.Logging.Level, "Level is forced to uppercase")
	require.Equal(".", cfg.DownloadDir, "DownloadDir defaults to the current directory")
	require.Equal(filepath.Join(dataDir, "spool.db"), cfg.SpoolFile())
	require.Equal(uint64(transfer.MaxTransferSize), cfg.Transfer.MaxBytes)
	require.Equal(uint64(transfer.WarnTransferSize), cfg.Transfer.WarnBytes)

	// No proxy section means a direct dialer.
	require.NotNil(cfg.UpstreamProxyConfig())
	require.Nil(cfg.UpstreamProxyConfig().ToDialContext("relay"))
}

func TestConfigUpstreamProxy(t *testing.T) {
	require := require.New(t)

	const socksConfig = `Relay = "wss://relay.example.com"
DataDir = "/var/lib/taper"

[UpstreamProxy]
Type = "socks5"
Network = "tcp"
Address = "127.0.0.1:9050"
`

	cfg, err := Load([]byte(socksConfig))
	require.NoError(err, "Load() with a SOCKS5 proxy")
	require.NotNil(cfg.UpstreamProxyConfig().ToDialContext("relay"))

	const torConfig = `Relay = "wss://relay.example.com"
DataDir = "/var/lib/taper"

[UpstreamProxy]
Type = "tor+socks5"
Network = "tcp"
Address = "127.0.0.1:9050"
User = "nsa"
Password = "hunter2"
`

	_, err = Load([]byte(torConfig))
	require.Error(err, "Load() with tor+socks5 and explicit credentials")
	require.EqualError(err, "proxy: tor+socks5 repurposes User/Password for stream isolation")

	const bogusConfig = `Relay = "wss://relay.example.com"
DataDir = "/var/lib/taper"

[UpstreamProxy]
Type = "carrier-pigeon"
`

	_, err = Load([]byte(bogusConfig))
	require.Error(err, "Load() with an unknown proxy type")
	require.EqualError(err, "proxy: unsupported type 'carrier-pigeon'")
}

func TestInvalidConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load(nil)
	require.Error(err, "Load() with an empty config")
	require.EqualError(err, "config: Relay is missing")

	_, err = Load([]byte(`Relay = "http://relay.example.com"
DataDir = "/var/lib/taper"
`))
	require.Error(err, "Load() with an unsupported relay scheme")
	require.EqualError(err, "config: Relay scheme 'http' is invalid")

	_, err = Load([]byte(`Relay = "wss://relay.example.com"
DataDir = "stuff/things"
`))
	require.Error(err, "Load() with a relative data dir")
	require.EqualError(err, "config: DataDir 'stuff/things' is not an absolute path")

	_, err = Load([]byte(`Relay = "wss://relay.example.com"
DataDir = "/var/lib/taper"

[Transfer]
MaxBytes = 1024
WarnBytes = 2048
`))
	require.Error(err, "Load() with a warn threshold above the cap")
	require.EqualError(err, "config: Transfer: WarnBytes 2048 above MaxBytes 1024")

	_, err = Load([]byte(`Relay = "wss://relay.example.com"
DataDir = "/var/lib/taper"

[Logging]
Level = "chatty"
`))
	require.Error(err, "Load() with a bogus log level")
	require.EqualError(err, "config: Logging: Level 'chatty' is invalid")
}
