// kem.go - Hybrid KEM scheme registry.
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

package crypto

import (
	"fmt"

	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/schemes"
)

// KEMID identifies a hybrid KEM scheme on the wire.  Identifiers are
// stable protocol constants; new schemes get new identifiers and old
// identifiers are never reassigned.
type KEMID uint8

const (
	// KEMMLKEM768X25519 is ML-KEM-768 paired with X25519, the default.
	KEMMLKEM768X25519 KEMID = 0x01

	// KEMXWing is the X-Wing hybrid KEM.
	KEMXWing KEMID = 0x02

	// KEMMLKEM768X448 is ML-KEM-768 paired with X448.
	KEMMLKEM768X448 KEMID = 0x03
)

// kemNames maps wire identifiers to registry names.  Every name here
// must resolve at init time; Scheme panics otherwise, which is the
// desired failure mode for a corrupt build.
var kemNames = map[KEMID]string{
	KEMMLKEM768X25519: "MLKEM768-X25519",
	KEMXWing:          "XWING",
	KEMMLKEM768X448:   "MLKEM768-X448",
}

// Scheme returns the KEM scheme registered under id.
func (id KEMID) Scheme() (kem.Scheme, error) {
	name, ok := kemNames[id]
	if !ok {
		return nil, fmt.Errorf("crypto: unknown KEM scheme id 0x%02x", uint8(id))
	}
	s := schemes.ByName(name)
	if s == nil {
		panic(fmt.Sprintf("crypto: KEM scheme %s not registered", name))
	}
	return s, nil
}

// String returns the registry name for id, or a hex placeholder for
// identifiers this build does not know.
func (id KEMID) String() string {
	if name, ok := kemNames[id]; ok {
		return name
	}
	return fmt.Sprintf("KEM(0x%02x)", uint8(id))
}

// KEMByName resolves a configuration string to a wire identifier,
// case-insensitively.  An empty name selects the default scheme.
func KEMByName(name string) (KEMID, error) {
	if name == "" {
		return KEMMLKEM768X25519, nil
	}
	s := schemes.ByName(name)
	if s == nil {
		return 0, fmt.Errorf("crypto: unknown KEM scheme %q", name)
	}
	for id, n := range kemNames {
		if schemes.ByName(n) == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("crypto: KEM scheme %q has no wire id", name)
}

// DefaultKEMs is the capability list offered by a peer with no explicit
// configuration, in preference order.
func DefaultKEMs() []KEMID {
	return []KEMID{KEMMLKEM768X25519, KEMXWing, KEMMLKEM768X448}
}

// SelectKEM picks the negotiated scheme: the first entry of ours that
// the remote peer also offers.  Preference order is the offering
// peer's, so both sides converge on the same choice from either
// direction of the comparison.
func SelectKEM(ours, theirs []KEMID) (KEMID, kem.Scheme, error) {
	remote := make(map[KEMID]bool, len(theirs))
	for _, id := range theirs {
		remote[id] = true
	}
	for _, id := range ours {
		if !remote[id] {
			continue
		}
		s, err := id.Scheme()
		if err != nil {
			continue
		}
		return id, s, nil
	}
	return 0, nil, fmt.Errorf("crypto: no mutually supported KEM scheme")
}
