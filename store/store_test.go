// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
)

func newTransferID(t *testing.T) []byte {
	id, err := crypto.NewTransferID()
	require.NoError(t, err)
	return id[:]
}

func TestSpoolPersistence(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "spool.db")
	s, err := New(f)
	require.NoError(err)

	id := newTransferID(t)
	manifest := []byte("serialized manifest")

	require.NoError(s.CreateTransfer(id, manifest))
	require.NoError(s.PutChunk(id, 0, []byte("alpha")))
	require.NoError(s.PutChunk(id, 1, []byte("bravo")))
	s.Close()

	// Reopen and verify everything survived the restart.
	s, err = New(f)
	require.NoError(err)
	defer s.Close()

	m, err := s.Manifest(id)
	require.NoError(err)
	require.Equal(manifest, m)

	require.True(s.HasChunk(id, 0))
	require.True(s.HasChunk(id, 1))
	require.False(s.HasChunk(id, 2))

	n, err := s.ChunkCount(id)
	require.NoError(err)
	require.Equal(uint64(2), n)

	p, err := s.Chunk(id, 1)
	require.NoError(err)
	require.Equal([]byte("bravo"), p)

	state, err := s.State(id)
	require.NoError(err)
	require.Equal(StateReceiving, state)
}

func TestSpoolChunkOrdering(t *testing.T) {
	require := require.New(t)

	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(err)
	defer s.Close()

	id := newTransferID(t)
	require.NoError(s.CreateTransfer(id, []byte("m")))

	// Chunks arrive out of order, iteration must not.
	payloads := map[uint64][]byte{
		5: []byte("five"),
		0: []byte("zero"),
		3: []byte("three"),
		1: []byte("one"),
		2: []byte("two"),
		4: []byte("four"),
	}
	for _, idx := range []uint64{5, 0, 3, 1, 2, 4} {
		require.NoError(s.PutChunk(id, idx, payloads[idx]))
	}

	var next uint64
	require.NoError(s.ForEachChunk(id, func(index uint64, payload []byte) error {
		require.Equal(next, index)
		require.Equal(payloads[index], payload)
		next++
		return nil
	}))
	require.Equal(uint64(6), next)
}

func TestSpoolContiguousChunks(t *testing.T) {
	require := require.New(t)

	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(err)
	defer s.Close()

	id := newTransferID(t)
	require.NoError(s.CreateTransfer(id, []byte("m")))

	n, err := s.ContiguousChunks(id)
	require.NoError(err)
	require.Equal(uint64(0), n)

	for _, idx := range []uint64{0, 1, 2, 5} {
		require.NoError(s.PutChunk(id, idx, []byte("x")))
	}

	// The run stops at the gap, not at the highest spooled index.
	n, err = s.ContiguousChunks(id)
	require.NoError(err)
	require.Equal(uint64(3), n)

	require.NoError(s.PutChunk(id, 3, []byte("x")))
	require.NoError(s.PutChunk(id, 4, []byte("x")))

	n, err = s.ContiguousChunks(id)
	require.NoError(err)
	require.Equal(uint64(6), n)
}

func TestSpoolDuplicateCreate(t *testing.T) {
	require := require.New(t)

	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(err)
	defer s.Close()

	id := newTransferID(t)
	require.NoError(s.CreateTransfer(id, []byte("m")))
	require.ErrorIs(s.CreateTransfer(id, []byte("m")), ErrTransferExists)
}

func TestSpoolUnknownTransfer(t *testing.T) {
	require := require.New(t)

	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(err)
	defer s.Close()

	id := newTransferID(t)

	_, err = s.Manifest(id)
	require.ErrorIs(err, ErrNoSuchTransfer)
	require.ErrorIs(s.PutChunk(id, 0, []byte("x")), ErrNoSuchTransfer)
	require.False(s.HasChunk(id, 0))
	_, err = s.ChunkCount(id)
	require.ErrorIs(err, ErrNoSuchTransfer)
	require.ErrorIs(s.SealTransfer(id), ErrNoSuchTransfer)
	require.ErrorIs(s.RemoveTransfer(id), ErrNoSuchTransfer)

	// A malformed id is rejected before the database is consulted.
	require.Error(s.CreateTransfer([]byte("short"), nil))
}

func TestSpoolSealAndRemove(t *testing.T) {
	require := require.New(t)

	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(err)
	defer s.Close()

	idA := newTransferID(t)
	idB := newTransferID(t)
	require.NoError(s.CreateTransfer(idA, []byte("a")))
	require.NoError(s.CreateTransfer(idB, []byte("b")))

	ids, err := s.Transfers()
	require.NoError(err)
	require.Len(ids, 2)
	require.ElementsMatch([][]byte{idA, idB}, ids)

	require.NoError(s.SealTransfer(idA))
	state, err := s.State(idA)
	require.NoError(err)
	require.Equal(StateSealed, state)
	state, err = s.State(idB)
	require.NoError(err)
	require.Equal(StateReceiving, state)

	require.NoError(s.RemoveTransfer(idA))
	ids, err = s.Transfers()
	require.NoError(err)
	require.Len(ids, 1)
	require.Equal(idB, ids[0])

	_, err = s.Manifest(idA)
	require.ErrorIs(err, ErrNoSuchTransfer)
}

func TestSpoolJournal(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "spool.db")
	s, err := New(f)
	require.NoError(err)

	entries, err := s.Journal()
	require.NoError(err)
	require.Empty(entries)

	id := newTransferID(t)
	var contentHash [32]byte
	for i := range contentHash {
		contentHash[i] = byte(i)
	}
	completedAt := time.Unix(1756000000, 0)

	require.NoError(s.CreateTransfer(id, []byte("m")))
	require.NoError(s.RecordCompletion(id, contentHash, completedAt))

	// The journal outlives the spooled transfer itself.
	require.NoError(s.RemoveTransfer(id))
	s.Close()

	s, err = New(f)
	require.NoError(err)
	defer s.Close()

	entries, err = s.Journal()
	require.NoError(err)
	require.Len(entries, 1)
	require.Equal(id, entries[0].TransferID)
	require.Equal(contentHash, entries[0].Hash)
	require.Equal(completedAt.Unix(), entries[0].CompletedAt)
}

func TestSpoolJournalEviction(t *testing.T) {
	require := require.New(t)

	s, err := New(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(err)
	defer s.Close()

	var oldest []byte
	for i := 0; i < journalMaxEntries+3; i++ {
		id := newTransferID(t)
		if i == 0 {
			oldest = id
		}
		var h [32]byte
		h[0] = byte(i)
		require.NoError(s.RecordCompletion(id, h, time.Unix(int64(1756000000+i), 0)))
	}

	entries, err := s.Journal()
	require.NoError(err)
	require.Len(entries, journalMaxEntries)
	for _, e := range entries {
		require.NotEqual(oldest, e.TransferID)
	}
}
