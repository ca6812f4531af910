// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors.
// SPDX-License-Identifier: AGPL-3.0-only

package chat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

func newTestPair(t *testing.T) (*Session, *Session) {
	var key [crypto.SessionKeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	ca, err := crypto.NewSessionCipher(&key)
	require.NoError(t, err)
	cb, err := crypto.NewSessionCipher(&key)
	require.NoError(t, err)

	a, err := New(ca, true)
	require.NoError(t, err)
	b, err := New(cb, false)
	require.NoError(t, err)
	return a, b
}

func TestChatRoundTrip(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	texts := []string{"hello", "world", "third message with spaces"}
	for i, text := range texts {
		m, err := a.Seal(text)
		require.NoError(err)
		require.Equal(uint64(2*i), m.Sequence)
		require.Equal(crypto.ChatNonce(m.Sequence), m.Nonce)

		got, err := b.Open(m)
		require.NoError(err)
		require.Equal(text, got)
	}

	for i, text := range texts {
		m, err := b.Seal(text)
		require.NoError(err)
		require.Equal(uint64(2*i+1), m.Sequence)

		got, err := a.Open(m)
		require.NoError(err)
		require.Equal(text, got)
	}

	send, recv := a.Counters()
	require.Equal(uint64(6), send)
	require.Equal(uint64(7), recv)
	send, recv = b.Counters()
	require.Equal(uint64(7), send)
	require.Equal(uint64(6), recv)
}

func TestChatRejectsWrongStripe(t *testing.T) {
	require := require.New(t)
	a, _ := newTestPair(t)

	// A message reflected back at its sender lands on the sender's own
	// counter stripe.
	m, err := a.Seal("echo")
	require.NoError(err)
	_, err = a.Open(m)
	require.Error(err)
	require.Contains(err.Error(), "wrong stripe")
}

func TestChatRejectsReplay(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	m, err := a.Seal("once only")
	require.NoError(err)
	_, err = b.Open(m)
	require.NoError(err)

	_, err = b.Open(m)
	require.ErrorIs(err, ErrReplayed)
}

func TestChatToleratesLoss(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	m0, err := a.Seal("lost in transit")
	require.NoError(err)
	m1, err := a.Seal("also lost")
	require.NoError(err)
	m2, err := a.Seal("survivor")
	require.NoError(err)

	// Only the last message arrives; the counter gap is accepted.
	got, err := b.Open(m2)
	require.NoError(err)
	require.Equal("survivor", got)

	// The stragglers are now behind the watermark.
	_, err = b.Open(m0)
	require.ErrorIs(err, ErrReplayed)
	_, err = b.Open(m1)
	require.ErrorIs(err, ErrReplayed)
}

func TestChatRejectsDuplicateID(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	m0, err := a.Seal("first")
	require.NoError(err)
	m1, err := a.Seal("second")
	require.NoError(err)

	_, err = b.Open(m0)
	require.NoError(err)

	// A fresh counter does not launder an id that was already accepted.
	forged := *m1
	forged.MessageID = m0.MessageID
	_, err = b.Open(&forged)
	require.ErrorIs(err, ErrDuplicate)
}

func TestChatRejectsNonceMismatch(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	m, err := a.Seal("pinned nonce")
	require.NoError(err)

	wrong := *m
	wrong.Nonce = crypto.ChatNonce(m.Sequence + 2)
	_, err = b.Open(&wrong)
	require.Error(err)
	require.Contains(err.Error(), "nonce does not match sequence")

	short := *m
	short.Nonce = m.Nonce[:4]
	_, err = b.Open(&short)
	require.Error(err)
}

func TestChatRejectsTampering(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	m, err := a.Seal("integrity protected")
	require.NoError(err)
	m.Ciphertext[0] ^= 0x01
	_, err = b.Open(m)
	require.Error(err)
	require.NotErrorIs(err, ErrReplayed)
	require.NotErrorIs(err, ErrDuplicate)
}

func TestChatRejectsInvalidUTF8(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	_, err := a.Seal(string([]byte{0xff, 0xfe}))
	require.Error(err)
	require.Contains(err.Error(), "not valid UTF-8")

	// A peer that seals raw bytes directly gets caught on open.
	var key [crypto.SessionKeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	c, err := crypto.NewSessionCipher(&key)
	require.NoError(err)
	ct, err := c.SealChat(0, []byte{0xff, 0xfe, 0xfd})
	require.NoError(err)
	id, err := crypto.NewMessageID()
	require.NoError(err)
	_, err = b.Open(&wire.ChatText{
		MessageID:  id,
		Sequence:   0,
		Ciphertext: ct,
		Nonce:      crypto.ChatNonce(0),
	})
	require.Error(err)
	require.Contains(err.Error(), "not valid UTF-8")
}

func TestChatSequenceAuthenticated(t *testing.T) {
	require := require.New(t)
	a, b := newTestPair(t)

	// Bumping the sequence moves the nonce, so the AEAD open fails even
	// when the nonce and sequence agree with each other.
	m, err := a.Seal("bound to its counter")
	require.NoError(err)
	m.Sequence += 2
	m.Nonce = crypto.ChatNonce(m.Sequence)
	_, err = b.Open(m)
	require.Error(err)
}
