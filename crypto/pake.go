// pake.go - Code-phrase PAKE (CPace over ristretto255).
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
	"io"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/blake2b"

	"github.com/katzenpost/hpqc/rand"

	"github.com/taper-io/taper/core/codephrase"
)

const (
	// PAKEShareSize is the size of an encoded PAKE share in bytes.
	PAKEShareSize = 32

	// PAKESharedSize is the size of the PAKE shared secret in bytes.
	PAKESharedSize = 32

	// pakeContext separates the phrase-bound generator from every other
	// use of the hash.
	pakeContext = "taper.cpace.v1"
)

// ErrPAKEMissing is returned when the remote peer sent the all-zero
// placeholder instead of a PAKE share.  Earlier drafts of the protocol
// allowed skipping the PAKE; this implementation does not, and refuses
// to fall back to an unauthenticated exchange.
var ErrPAKEMissing = fmt.Errorf("crypto: peer did not contribute a PAKE share")

// PAKE holds one side's ephemeral state for a CPace exchange over
// ristretto255.  The generator is derived from the code phrase and the
// room id, so a passive observer of both shares learns nothing about
// the phrase, and an active man in the middle gets exactly one online
// guess which the confirmation tags then catch.
type PAKE struct {
	scalar *ristretto255.Scalar
	share  []byte
}

// NewPAKE derives the phrase-bound generator, samples an ephemeral
// scalar, and computes this side's share.
func NewPAKE(phrase string, roomID [RoomIDSize]byte) (*PAKE, error) {
	gen := pakeGenerator(phrase, roomID)

	var seed [64]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, err
	}
	s := ristretto255.NewScalar().FromUniformBytes(seed[:])
	Wipe(seed[:])

	share := ristretto255.NewElement().ScalarMult(s, gen)
	return &PAKE{
		scalar: s,
		share:  share.Encode(nil),
	}, nil
}

// pakeGenerator maps the normalized phrase and the room id to a group
// element.  Both peers must derive the identical element, so the inputs
// are length-delimited and the map-to-group is the uniform 64 byte
// variant rather than a bare point decoding.
func pakeGenerator(phrase string, roomID [RoomIDSize]byte) *ristretto255.Element {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte(pakeContext))
	h.Write([]byte{0x00})
	h.Write([]byte(codephrase.Normalize(phrase)))
	h.Write([]byte{0x00})
	h.Write(roomID[:])
	return ristretto255.NewElement().FromUniformBytes(h.Sum(nil))
}

// Share returns this side's encoded share for transmission.
func (p *PAKE) Share() []byte {
	return p.share
}

// Finish combines the remote share with the local scalar and returns
// the 32 byte shared secret.  The all-zero placeholder, malformed
// encodings, and the identity element are all rejected before any
// secret is derived.
func (p *PAKE) Finish(peerShare []byte) ([]byte, error) {
	if len(peerShare) != PAKEShareSize {
		return nil, fmt.Errorf("crypto: PAKE share is %d bytes, expected %d", len(peerShare), PAKEShareSize)
	}
	isZero := true
	for _, b := range peerShare {
		if b != 0 {
			isZero = false
			break
		}
	}
	if isZero {
		return nil, ErrPAKEMissing
	}
	e := ristretto255.NewElement()
	if err := e.Decode(peerShare); err != nil {
		return nil, fmt.Errorf("crypto: malformed PAKE share: %v", err)
	}
	identity := ristretto255.NewElement()
	if e.Equal(identity) == 1 {
		return nil, fmt.Errorf("crypto: PAKE share is the identity element")
	}
	shared := ristretto255.NewElement().ScalarMult(p.scalar, e)
	if shared.Equal(identity) == 1 {
		return nil, fmt.Errorf("crypto: PAKE produced the identity element")
	}
	return shared.Encode(nil), nil
}

// Wipe discards the ephemeral scalar and share.  The scalar's field
// representation is unexported, so the reference is dropped rather than
// zeroed in place.
func (p *PAKE) Wipe() {
	p.scalar = nil
	Wipe(p.share)
	p.share = nil
}
