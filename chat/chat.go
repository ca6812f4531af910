// chat.go - Duplex encrypted chat channel.
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

// Package chat implements the bidirectional text channel that runs over
// an established session.  The two directions stripe the shared nonce
// space by parity: the handshake initiator seals under even counters,
// the responder under odd ones, and each side advances its own counter
// by two per message.  Counter monotonicity plus a message id filter
// keep a replaying relay from getting a message accepted twice.
package chat

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

// maxSessionMessages sizes the duplicate suppression filter.  A session
// that outlives it has bigger problems than chat dedup.
const maxSessionMessages = 1 << 20

var (
	// ErrReplayed is returned for a message bearing a counter at or below
	// one already accepted from the peer.
	ErrReplayed = errors.New("chat: replayed or out of order counter")

	// ErrDuplicate is returned for a message whose id was already
	// accepted, even though its counter passed.
	ErrDuplicate = errors.New("chat: duplicate message id")
)

// Session is one side of the chat channel.  Safe for concurrent use;
// sealing and opening serialize on the internal lock.
type Session struct {
	sync.Mutex

	cipher *crypto.SessionCipher
	seen   *bloom.Filter

	send uint64
	recv uint64
}

// New builds a chat session over an established cipher.  initiator
// selects the even counter stripe; the peer must be constructed with the
// opposite value.
func New(cipher *crypto.SessionCipher, initiator bool) (*Session, error) {
	seen, err := bloom.New(rand.Reader, bloom.DeriveSize(maxSessionMessages, 0.001), 0.001)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cipher: cipher,
		seen:   seen,
	}
	if initiator {
		s.send, s.recv = 0, 1
	} else {
		s.send, s.recv = 1, 0
	}
	return s, nil
}

// Counters returns the next outbound counter and the lowest acceptable
// inbound counter.
func (s *Session) Counters() (send, recv uint64) {
	s.Lock()
	defer s.Unlock()
	return s.send, s.recv
}

// Seal encrypts one text message.  The nonce rides along explicitly and
// the sequence advances by two.
func (s *Session) Seal(text string) (*wire.ChatText, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("chat: message is not valid UTF-8")
	}

	s.Lock()
	defer s.Unlock()

	id, err := crypto.NewMessageID()
	if err != nil {
		return nil, err
	}
	counter := s.send
	ciphertext, err := s.cipher.SealChat(counter, []byte(text))
	if err != nil {
		return nil, err
	}
	s.send += 2
	return &wire.ChatText{
		MessageID:  id,
		Sequence:   counter,
		Ciphertext: ciphertext,
		Nonce:      crypto.ChatNonce(counter),
	}, nil
}

// Open authenticates and decrypts one inbound message.  ErrReplayed and
// ErrDuplicate mark messages to drop; any other error is a protocol
// violation or tampering and should end the session.
func (s *Session) Open(m *wire.ChatText) (string, error) {
	s.Lock()
	defer s.Unlock()

	if m.Sequence%2 != s.recv%2 {
		return "", fmt.Errorf("chat: counter %d is on the wrong stripe", m.Sequence)
	}
	if m.Sequence < s.recv {
		return "", ErrReplayed
	}
	if !bytes.Equal(m.Nonce, crypto.ChatNonce(m.Sequence)) {
		return "", fmt.Errorf("chat: nonce does not match sequence %d", m.Sequence)
	}

	plaintext, err := s.cipher.OpenChatNonce(m.Nonce, m.Ciphertext)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("chat: message is not valid UTF-8")
	}

	// The counter already proved freshness; the id filter is the second
	// line against a peer that reuses a fresh counter for an old message.
	if s.seen.Entries() >= s.seen.MaxEntries() {
		return "", fmt.Errorf("chat: duplicate suppression filter saturated")
	}
	if s.seen.TestAndSet(m.MessageID[:]) {
		return "", ErrDuplicate
	}

	s.recv = m.Sequence + 2
	return string(plaintext), nil
}
