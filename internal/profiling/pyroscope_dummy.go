//go:build !pyroscope
// +build !pyroscope

// pyroscope_dummy.go - Continuous profiling hookup.
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

import "gopkg.in/op/go-logging.v1"

// Start is a no-op unless built with the pyroscope tag.
func Start(log *logging.Logger) (func(), error) {
	log.Debug("Pyroscope profiling not built in")
	return func() {}, nil
}
