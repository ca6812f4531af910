// integrity.go - Transfer content hashing.
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
	"hash"

	"golang.org/x/crypto/blake2b"
)

// ContentHashSize is the size of the whole-file content hash and of the
// chunk tree root, in bytes.
const ContentHashSize = blake2b.Size256

// Leaf and interior nodes of the chunk tree are domain separated so a
// single-chunk file cannot be confused with a file whose one chunk is
// another file's root.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// ContentHasher accumulates transfer integrity state as chunks stream
// through in index order: the flat BLAKE2b-256 over all plaintext bytes
// that the transfer completion message carries, and the per-chunk leaf
// hashes from which Root derives the chunk tree root.  Feeding chunks
// out of order or more than once is the caller's bug; the hasher has no
// way to detect it.
type ContentHasher struct {
	whole  hash.Hash
	leaves [][ContentHashSize]byte
}

// NewContentHasher returns an empty hasher.
func NewContentHasher() *ContentHasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	return &ContentHasher{whole: h}
}

// WriteChunk absorbs the next chunk's plaintext.
func (c *ContentHasher) WriteChunk(chunk []byte) {
	c.whole.Write(chunk)

	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte{leafPrefix})
	h.Write(chunk)
	var leaf [ContentHashSize]byte
	copy(leaf[:], h.Sum(nil))
	c.leaves = append(c.leaves, leaf)
}

// Chunks returns the number of chunks absorbed so far.
func (c *ContentHasher) Chunks() uint64 {
	return uint64(len(c.leaves))
}

// Sum returns the whole-file content hash over everything absorbed so
// far.  The hasher remains usable; the final call after the last chunk
// yields the value carried by the completion message.
func (c *ContentHasher) Sum() [ContentHashSize]byte {
	var out [ContentHashSize]byte
	copy(out[:], c.whole.Sum(nil))
	return out
}

// Root returns the chunk tree root over the absorbed chunks.  Levels
// reduce pairwise with an unpaired rightmost node promoted unchanged,
// and an empty transfer's root is the digest of the empty string, which
// matches Sum over zero chunks by construction of BLAKE2b.
func (c *ContentHasher) Root() [ContentHashSize]byte {
	if len(c.leaves) == 0 {
		return blake2b.Sum256(nil)
	}
	level := c.leaves
	for len(level) > 1 {
		next := make([][ContentHashSize]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, interiorHash(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func interiorHash(left, right [ContentHashSize]byte) [ContentHashSize]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [ContentHashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
