// seal.go - AEAD channels for file chunks and chat.
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
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ChunkSize is the maximum plaintext size of one file chunk.  Only
	// the final chunk of a transfer may be shorter.
	ChunkSize = 64 * 1024

	// MaxChatSize is the maximum plaintext size of one chat payload.
	MaxChatSize = 64 * 1024

	// AEADOverhead is the ciphertext expansion of the AEAD.
	AEADOverhead = chacha20poly1305.Overhead

	// chatContext is the fixed associated data for chat payloads, keeping
	// chat ciphertexts unmixable with transfer chunks under the same key.
	chatContext = "taper.chat.v1"
)

// SessionCipher binds the session key to the two AEAD channels of an
// established session.  Chunk nonces are derived from the chunk index
// and chat nonces from the direction-striped message counter, so the
// pair (key, nonce) is unique for every encryption the session ever
// performs and neither channel can replay the other's ciphertexts.
type SessionCipher struct {
	aead cipher.AEAD
}

// NewSessionCipher wraps key for sealing and opening.  The cipher keeps
// its own copy; the caller may wipe key afterwards.
func NewSessionCipher(key *[SessionKeySize]byte) (*SessionCipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &SessionCipher{aead: aead}, nil
}

// SealChunk encrypts one file chunk under its index.  The transfer id
// and index ride in the associated data, so a relay that reorders or
// cross-splices chunks between transfers produces only authentication
// failures.
func (c *SessionCipher) SealChunk(transferID [TransferIDSize]byte, index uint64, plaintext []byte) ([]byte, error) {
	if len(plaintext) > ChunkSize {
		return nil, fmt.Errorf("crypto: chunk plaintext is %d bytes, maximum is %d", len(plaintext), ChunkSize)
	}
	return c.aead.Seal(nil, counterNonce(index), plaintext, chunkAD(transferID, index)), nil
}

// OpenChunk authenticates and decrypts one file chunk.
func (c *SessionCipher) OpenChunk(transferID [TransferIDSize]byte, index uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < AEADOverhead {
		return nil, fmt.Errorf("crypto: chunk ciphertext is %d bytes, shorter than the AEAD tag", len(ciphertext))
	}
	if len(ciphertext) > ChunkSize+AEADOverhead {
		return nil, fmt.Errorf("crypto: chunk ciphertext is %d bytes, maximum is %d", len(ciphertext), ChunkSize+AEADOverhead)
	}
	plaintext, err := c.aead.Open(nil, counterNonce(index), ciphertext, chunkAD(transferID, index))
	if err != nil {
		return nil, fmt.Errorf("crypto: chunk %d failed authentication", index)
	}
	return plaintext, nil
}

// SealChat encrypts one chat payload under the given message counter.
// Counter discipline (even for one direction, odd for the other, each
// advancing by two) is the caller's responsibility.
func (c *SessionCipher) SealChat(counter uint64, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxChatSize {
		return nil, fmt.Errorf("crypto: chat plaintext is %d bytes, maximum is %d", len(plaintext), MaxChatSize)
	}
	return c.aead.Seal(nil, counterNonce(counter), plaintext, []byte(chatContext)), nil
}

// OpenChat authenticates and decrypts one chat payload under the
// counter carried explicitly by the message.  Parity and replay checks
// happen above this layer; a wrong counter simply fails to
// authenticate.
func (c *SessionCipher) OpenChat(counter uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < AEADOverhead {
		return nil, fmt.Errorf("crypto: chat ciphertext is %d bytes, shorter than the AEAD tag", len(ciphertext))
	}
	if len(ciphertext) > MaxChatSize+AEADOverhead {
		return nil, fmt.Errorf("crypto: chat ciphertext is %d bytes, maximum is %d", len(ciphertext), MaxChatSize+AEADOverhead)
	}
	plaintext, err := c.aead.Open(nil, counterNonce(counter), ciphertext, []byte(chatContext))
	if err != nil {
		return nil, fmt.Errorf("crypto: chat message %d failed authentication", counter)
	}
	return plaintext, nil
}

// OpenChatNonce authenticates and decrypts one chat payload under a
// nonce taken verbatim from the wire, for peers that transmit theirs
// explicitly.  The counter a conforming peer would have used is
// recoverable as the trailing eight bytes; the caller is expected to
// cross-check it against the message's sequence field.
func (c *SessionCipher) OpenChatNonce(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("crypto: chat nonce is %d bytes, expected %d", len(nonce), chacha20poly1305.NonceSize)
	}
	if len(ciphertext) < AEADOverhead {
		return nil, fmt.Errorf("crypto: chat ciphertext is %d bytes, shorter than the AEAD tag", len(ciphertext))
	}
	if len(ciphertext) > MaxChatSize+AEADOverhead {
		return nil, fmt.Errorf("crypto: chat ciphertext is %d bytes, maximum is %d", len(ciphertext), MaxChatSize+AEADOverhead)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(chatContext))
	if err != nil {
		return nil, fmt.Errorf("crypto: chat message failed authentication")
	}
	return plaintext, nil
}

// ChatNonce returns the wire form of the nonce for a chat counter.
func ChatNonce(counter uint64) []byte {
	return counterNonce(counter)
}

// counterNonce builds the 12 byte nonce: four zero bytes then the
// 64 bit counter, big endian.
func counterNonce(v uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], v)
	return nonce
}

// chunkAD builds the chunk associated data: the transfer id followed by
// the 64 bit chunk index, big endian.
func chunkAD(transferID [TransferIDSize]byte, index uint64) []byte {
	ad := make([]byte, TransferIDSize+8)
	copy(ad, transferID[:])
	binary.BigEndian.PutUint64(ad[TransferIDSize:], index)
	return ad
}
