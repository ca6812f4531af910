// crypto.go - Session crypto primitive bindings.
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

// Package crypto binds the primitive layer of the session protocol: room
// id derivation, the hybrid KEM scheme registry, the code-phrase PAKE,
// session key derivation with mutual confirmation, and the two AEAD
// channels (chunked transfer and duplex chat) with their nonce and
// associated-data discipline.
//
// Everything in this package is wire contract: peers must agree bit for
// bit on room id derivation, key derivation context strings, and
// nonce/AAD construction.
package crypto

import (
	"io"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"

	"github.com/taper-io/taper/core/codephrase"
)

const (
	// RoomIDSize is the size of a relay room identifier in bytes.
	RoomIDSize = hash.HashSize

	// SessionKeySize is the size of a derived session key in bytes.
	SessionKeySize = 32

	// ConfirmationSize is the size of a handshake confirmation tag in bytes.
	ConfirmationSize = 32

	// TransferIDSize is the size of a transfer identifier in bytes.
	TransferIDSize = 16

	// MessageIDSize is the size of a chat message identifier in bytes.
	MessageIDSize = 16

	// HandshakeNonceSize is the size of the freshness nonce carried by the
	// first two handshake messages, in bytes.
	HandshakeNonceSize = 16
)

// RoomID derives the 32 byte relay routing key from a code phrase.  The
// phrase is normalized first so that visually identical input yields the
// same room on every platform.  The room id is deliberately independent
// of all key material: knowing it grants routing, never decryption.
func RoomID(phrase string) [RoomIDSize]byte {
	return hash.Sum256([]byte(codephrase.Normalize(phrase)))
}

// PasswordHash derives the optional room password hash sent alongside a
// room join.  The relay compares it verbatim; it never sees the password.
func PasswordHash(password string) []byte {
	h := hash.Sum256([]byte(password))
	return h[:]
}

// NewTransferID returns a fresh random transfer identifier.
func NewTransferID() ([TransferIDSize]byte, error) {
	var id [TransferIDSize]byte
	_, err := io.ReadFull(rand.Reader, id[:])
	return id, err
}

// NewMessageID returns a fresh random chat message identifier.
func NewMessageID() ([MessageIDSize]byte, error) {
	var id [MessageIDSize]byte
	_, err := io.ReadFull(rand.Reader, id[:])
	return id, err
}

// NewHandshakeNonce returns a fresh random handshake freshness nonce.
func NewHandshakeNonce() ([HandshakeNonceSize]byte, error) {
	var n [HandshakeNonceSize]byte
	_, err := io.ReadFull(rand.Reader, n[:])
	return n, err
}

// Wipe overwrites b with zeros.  Ephemeral handshake secrets are wiped
// as soon as the values derived from them exist.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
