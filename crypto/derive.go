// derive.go - Session key schedule and confirmation tags.
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
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const (
	// sessionKeyInfo is the HKDF info string for the session key.  The
	// suffix names the two secrets bound into the key so a future
	// schedule change cannot silently produce colliding keys.
	sessionKeyInfo = "taper.session_key.kem_pake.v1"

	confirmSenderContext   = "taper.key_confirm.sender.v1"
	confirmReceiverContext = "taper.key_confirm.receiver.v1"
)

// Secrets is the output of the handshake key schedule: the AEAD session
// key and the two role-bound confirmation tags.  Each side transmits
// the tag for its own role and verifies the peer's tag in constant
// time; a tag mismatch is the only evidence of a wrong code phrase the
// protocol ever emits.
type Secrets struct {
	SessionKey  [SessionKeySize]byte
	SenderTag   [ConfirmationSize]byte
	ReceiverTag [ConfirmationSize]byte
}

// DeriveSecrets runs the key schedule over the concatenated KEM and
// PAKE shared secrets.  Both inputs are fixed length, so plain
// concatenation is unambiguous.  The caller retains ownership of the
// inputs and should wipe them once this returns.
func DeriveSecrets(kemShared, pakeShared []byte) (*Secrets, error) {
	if len(kemShared) != SessionKeySize {
		return nil, fmt.Errorf("crypto: KEM shared secret is %d bytes, expected %d", len(kemShared), SessionKeySize)
	}
	if len(pakeShared) != PAKESharedSize {
		return nil, fmt.Errorf("crypto: PAKE shared secret is %d bytes, expected %d", len(pakeShared), PAKESharedSize)
	}

	ikm := make([]byte, 0, len(kemShared)+len(pakeShared))
	ikm = append(ikm, kemShared...)
	ikm = append(ikm, pakeShared...)
	defer Wipe(ikm)

	s := new(Secrets)
	r := hkdf.New(sha256.New, ikm, nil, []byte(sessionKeyInfo))
	if _, err := io.ReadFull(r, s.SessionKey[:]); err != nil {
		return nil, err
	}

	var err error
	if s.SenderTag, err = confirmationTag(ikm, confirmSenderContext); err != nil {
		return nil, err
	}
	if s.ReceiverTag, err = confirmationTag(ikm, confirmReceiverContext); err != nil {
		return nil, err
	}
	return s, nil
}

// confirmationTag computes a keyed BLAKE2b-256 over the role context.
// Keying with the raw input material rather than the session key keeps
// key confirmation and bulk encryption in disjoint domains.
func confirmationTag(ikm []byte, context string) ([ConfirmationSize]byte, error) {
	var tag [ConfirmationSize]byte
	h, err := blake2b.New256(ikm)
	if err != nil {
		return tag, err
	}
	h.Write([]byte(context))
	copy(tag[:], h.Sum(nil))
	return tag, nil
}

// VerifyConfirmation compares two confirmation tags in constant time.
func VerifyConfirmation(expected, received [ConfirmationSize]byte) bool {
	return subtle.ConstantTimeCompare(expected[:], received[:]) == 1
}

// Wipe zeroizes all derived secrets.
func (s *Secrets) Wipe() {
	Wipe(s.SessionKey[:])
	Wipe(s.SenderTag[:])
	Wipe(s.ReceiverTag[:])
}
