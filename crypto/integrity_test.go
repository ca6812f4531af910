// integrity_test.go - Tests.
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
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestContentHashMatchesFlatDigest(t *testing.T) {
	require := require.New(t)

	// 150000 bytes chunk as 65536 + 65536 + 18928.
	payload := make([]byte, 150000)
	_, err := rand.Read(payload)
	require.NoError(err)

	h := NewContentHasher()
	for off := 0; off < len(payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		h.WriteChunk(payload[off:end])
	}

	require.Equal(uint64(3), h.Chunks())
	require.Equal(blake2b.Sum256(payload), h.Sum())
}

func TestContentHashEmpty(t *testing.T) {
	h := NewContentHasher()
	require.Equal(t, uint64(0), h.Chunks())
	require.Equal(t, blake2b.Sum256(nil), h.Sum())
	require.Equal(t, blake2b.Sum256(nil), h.Root())
}

func testLeaf(chunk []byte) [ContentHashSize]byte {
	return blake2b.Sum256(append([]byte{leafPrefix}, chunk...))
}

func testInterior(l, r [ContentHashSize]byte) [ContentHashSize]byte {
	buf := []byte{nodePrefix}
	buf = append(buf, l[:]...)
	buf = append(buf, r[:]...)
	return blake2b.Sum256(buf)
}

func TestChunkTreeRoot(t *testing.T) {
	require := require.New(t)

	c0 := []byte("first chunk")
	c1 := []byte("second chunk")
	c2 := []byte("third chunk")

	// One chunk: the root is its leaf.
	h := NewContentHasher()
	h.WriteChunk(c0)
	require.Equal(testLeaf(c0), h.Root())

	// Two chunks: one interior node.
	h = NewContentHasher()
	h.WriteChunk(c0)
	h.WriteChunk(c1)
	require.Equal(testInterior(testLeaf(c0), testLeaf(c1)), h.Root())

	// Three chunks: the odd leaf is promoted, then paired at the top.
	h = NewContentHasher()
	h.WriteChunk(c0)
	h.WriteChunk(c1)
	h.WriteChunk(c2)
	want := testInterior(testInterior(testLeaf(c0), testLeaf(c1)), testLeaf(c2))
	require.Equal(want, h.Root())
}

func TestChunkTreeOrderMatters(t *testing.T) {
	require := require.New(t)

	a := NewContentHasher()
	a.WriteChunk([]byte("alpha"))
	a.WriteChunk([]byte("beta"))

	b := NewContentHasher()
	b.WriteChunk([]byte("beta"))
	b.WriteChunk([]byte("alpha"))

	require.NotEqual(a.Root(), b.Root())
	require.NotEqual(a.Sum(), b.Sum())
}

func TestChunkBoundariesMatter(t *testing.T) {
	require := require.New(t)

	// Same bytes, different chunking: flat hash agrees, tree differs.
	a := NewContentHasher()
	a.WriteChunk([]byte("splitpoint"))

	b := NewContentHasher()
	b.WriteChunk([]byte("split"))
	b.WriteChunk([]byte("point"))

	require.Equal(a.Sum(), b.Sum())
	require.NotEqual(a.Root(), b.Root())
}
