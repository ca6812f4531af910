//go:build pyroscope
// +build pyroscope

// pyroscope.go - Continuous profiling hookup.
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

// Package profiling optionally ships profiles to a Pyroscope server.
package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start ships continuous profiles to the Pyroscope server named by
// PYROSCOPE_SERVER_ADDRESS.  The returned stop function flushes any
// buffered profiles and halts the collectors.
func Start(log *logging.Logger) (func(), error) {
	addr := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if addr == "" {
		return nil, errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}
	app := envOr("PYROSCOPE_APP_NAME", "taper-relay")
	service := envOr("PYROSCOPE_SERVICE_TAG", "relay")

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   addr,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": service,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Noticef("Pyroscope profiling to %s, app name: %s, service tag: %s", addr, app, service)

	return func() {
		if err := p.Stop(); err != nil {
			log.Warningf("Pyroscope stop: %v", err)
		}
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
