// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/schwarmco/go-cartesian-product"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *SessionCipher {
	key := new([SessionKeySize]byte)
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	c, err := NewSessionCipher(key)
	require.NoError(t, err)
	return c
}

func TestChunkSealSweep(t *testing.T) {
	require := require.New(t)
	c := testCipher(t)

	tid, err := NewTransferID()
	require.NoError(err)

	sizes := []interface{}{0, 1, 333, ChunkSize - 1, ChunkSize}
	indices := []interface{}{uint64(0), uint64(1), uint64(63), uint64(1 << 40)}

	for product := range cartesian.Iter(sizes, indices) {
		size := product[0].(int)
		index := product[1].(uint64)

		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(err)

		ct, err := c.SealChunk(tid, index, plaintext)
		require.NoError(err)
		require.Len(ct, size+AEADOverhead)

		pt, err := c.OpenChunk(tid, index, ct)
		require.NoError(err)
		require.Equal(plaintext, pt)
	}
}

func TestChunkAuthenticationBinding(t *testing.T) {
	require := require.New(t)
	c := testCipher(t)

	tid, err := NewTransferID()
	require.NoError(err)

	plaintext := []byte("chunk payload")
	ct, err := c.SealChunk(tid, 7, plaintext)
	require.NoError(err)

	// Bit flip anywhere in the ciphertext.
	tampered := append([]byte{}, ct...)
	tampered[3] ^= 0x80
	_, err = c.OpenChunk(tid, 7, tampered)
	require.Error(err)

	// A reordered chunk fails under its claimed index.
	_, err = c.OpenChunk(tid, 8, ct)
	require.Error(err)

	// A chunk spliced in from another transfer fails too.
	otherTID, err := NewTransferID()
	require.NoError(err)
	_, err = c.OpenChunk(otherTID, 7, ct)
	require.Error(err)

	// And a second cipher under a different key opens nothing.
	other := testCipher(t)
	_, err = other.OpenChunk(tid, 7, ct)
	require.Error(err)
}

func TestChunkSizeLimits(t *testing.T) {
	require := require.New(t)
	c := testCipher(t)

	tid, err := NewTransferID()
	require.NoError(err)

	_, err = c.SealChunk(tid, 0, make([]byte, ChunkSize+1))
	require.Error(err)

	_, err = c.OpenChunk(tid, 0, make([]byte, AEADOverhead-1))
	require.Error(err)

	_, err = c.OpenChunk(tid, 0, make([]byte, ChunkSize+AEADOverhead+1))
	require.Error(err)
}

func TestChatRoundTrip(t *testing.T) {
	require := require.New(t)
	c := testCipher(t)

	// One side seals on even counters, the other on odd; openers use
	// the counter carried by the wire message.
	for _, counter := range []uint64{0, 1, 2, 3, 4, 101} {
		msg := []byte("hello from counter")
		ct, err := c.SealChat(counter, msg)
		require.NoError(err)

		pt, err := c.OpenChat(counter, ct)
		require.NoError(err)
		require.Equal(msg, pt)

		// The wrong counter is indistinguishable from tampering.
		_, err = c.OpenChat(counter+1, ct)
		require.Error(err)
	}

	_, err := c.SealChat(0, make([]byte, MaxChatSize+1))
	require.Error(err)
}

func TestChatExplicitNonce(t *testing.T) {
	require := require.New(t)
	c := testCipher(t)

	msg := []byte("nonce on the wire")
	ct, err := c.SealChat(42, msg)
	require.NoError(err)

	// The explicit-nonce entry point agrees with the counter form.
	pt, err := c.OpenChatNonce(ChatNonce(42), ct)
	require.NoError(err)
	require.Equal(msg, pt)

	_, err = c.OpenChatNonce(ChatNonce(43), ct)
	require.Error(err)
	_, err = c.OpenChatNonce([]byte{1, 2, 3}, ct)
	require.Error(err)
}

func TestChannelsDoNotCross(t *testing.T) {
	require := require.New(t)
	c := testCipher(t)

	tid, err := NewTransferID()
	require.NoError(err)

	chunkCT, err := c.SealChunk(tid, 0, []byte("file bytes"))
	require.NoError(err)
	chatCT, err := c.SealChat(0, []byte("chat bytes"))
	require.NoError(err)

	// Same key, same counter, disjoint associated data.
	_, err = c.OpenChat(0, chunkCT)
	require.Error(err)
	_, err = c.OpenChunk(tid, 0, chatCT)
	require.Error(err)
}
