// store.go - BoltDB backed inbound transfer spool.
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

// Package store implements the receiver side transfer spool with a simple
// boltdb based backend.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/taper-io/taper/crypto"
)

const (
	metadataBucket  = "metadata"
	versionKey      = "version"
	transfersBucket = "transfers"
	chunksBucket    = "chunks"
	manifestKey     = "manifest"
	stateKey        = "state"
	journalBucket   = "journal"

	// journalMaxEntries bounds the completion journal; the oldest entry
	// is evicted once the cap is hit.
	journalMaxEntries = 512
)

const (
	// StateReceiving marks a transfer that is still accumulating chunks.
	StateReceiving = byte(iota)

	// StateSealed marks a transfer whose content hash has been verified
	// and is awaiting extraction to its destination.
	StateSealed
)

var (
	// ErrNoSuchTransfer is the error returned when an operation references
	// a transfer id that is not present in the spool.
	ErrNoSuchTransfer = errors.New("store: no such transfer")

	// ErrTransferExists is the error returned when CreateTransfer is called
	// with a transfer id that is already present in the spool.
	ErrTransferExists = errors.New("store: transfer already exists")
)

// Spool is a crash safe staging area for inbound transfers.  Chunk
// plaintexts are written to disk as they are decrypted and survive process
// restarts, so an interrupted transfer resumes from the last chunk that
// made it to disk rather than from the beginning.
type Spool struct {
	db *bolt.DB
}

// Close closes the Spool instance, flushing outstanding writes to disk.
func (s *Spool) Close() {
	s.db.Sync()
	s.db.Close()
}

// CreateTransfer creates the on disk state for a new inbound transfer,
// storing the serialized manifest alongside the initially empty chunk
// bucket.
func (s *Spool) CreateTransfer(id, manifest []byte) error {
	if err := transferOk(id); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		tBkt := tx.Bucket([]byte(transfersBucket))
		bkt, err := tBkt.CreateBucket(id)
		if err != nil {
			if errors.Is(err, bolt.ErrBucketExists) {
				return ErrTransferExists
			}
			return err
		}
		if _, err = bkt.CreateBucket([]byte(chunksBucket)); err != nil {
			return err
		}
		if err = bkt.Put([]byte(manifestKey), manifest); err != nil {
			return err
		}
		return bkt.Put([]byte(stateKey), []byte{StateReceiving})
	})
}

// Manifest returns the serialized manifest recorded for the given transfer.
func (s *Spool) Manifest(id []byte) ([]byte, error) {
	if err := transferOk(id); err != nil {
		return nil, err
	}

	var manifest []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		m := bkt.Get([]byte(manifestKey))
		manifest = make([]byte, 0, len(m))
		manifest = append(manifest, m...)
		return nil
	}); err != nil {
		return nil, err
	}
	return manifest, nil
}

// PutChunk records the plaintext of chunk index for the given transfer.
// Duplicate deliveries overwrite in place, the payload is identical by
// construction since the cipher binds each chunk to its index.
func (s *Spool) PutChunk(id []byte, index uint64, payload []byte) error {
	if err := transferOk(id); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], index)
		return bkt.Bucket([]byte(chunksBucket)).Put(key[:], payload)
	})
}

// HasChunk returns true iff chunk index has already been spooled for the
// given transfer.
func (s *Spool) HasChunk(id []byte, index uint64) bool {
	if transferOk(id) != nil {
		return false
	}

	has := false
	s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return nil
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], index)
		has = bkt.Bucket([]byte(chunksBucket)).Get(key[:]) != nil
		return nil
	})
	return has
}

// Chunk returns the spooled plaintext of chunk index for the given
// transfer.
func (s *Spool) Chunk(id []byte, index uint64) ([]byte, error) {
	if err := transferOk(id); err != nil {
		return nil, err
	}

	var payload []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], index)
		p := bkt.Bucket([]byte(chunksBucket)).Get(key[:])
		if p == nil {
			return fmt.Errorf("store: no such chunk: %d", index)
		}
		payload = make([]byte, 0, len(p))
		payload = append(payload, p...)
		return nil
	}); err != nil {
		return nil, err
	}
	return payload, nil
}

// ChunkCount returns the number of chunks spooled so far for the given
// transfer.
func (s *Spool) ChunkCount(id []byte) (uint64, error) {
	if err := transferOk(id); err != nil {
		return 0, err
	}

	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		n = uint64(bkt.Bucket([]byte(chunksBucket)).Stats().KeyN)
		return nil
	})
	return n, err
}

// ContiguousChunks returns the length of the unbroken run of chunks
// starting at index zero, which is the resume point a sender needs after a
// reconnection.
func (s *Spool) ContiguousChunks(id []byte) (uint64, error) {
	if err := transferOk(id); err != nil {
		return 0, err
	}

	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		c := bkt.Bucket([]byte(chunksBucket)).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) != n {
				break
			}
			n++
		}
		return nil
	})
	return n, err
}

// ForEachChunk invokes fn for every spooled chunk of the given transfer in
// ascending index order.  The payload slice is only valid for the duration
// of the call.
func (s *Spool) ForEachChunk(id []byte, fn func(index uint64, payload []byte) error) error {
	if err := transferOk(id); err != nil {
		return err
	}

	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		c := bkt.Bucket([]byte(chunksBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(binary.BigEndian.Uint64(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// SealTransfer marks the given transfer as fully received and verified.
func (s *Spool) SealTransfer(id []byte) error {
	if err := transferOk(id); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		return bkt.Put([]byte(stateKey), []byte{StateSealed})
	})
}

// State returns the recorded lifecycle state of the given transfer.
func (s *Spool) State(id []byte) (byte, error) {
	if err := transferOk(id); err != nil {
		return 0, err
	}

	state := StateReceiving
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(transfersBucket)).Bucket(id)
		if bkt == nil {
			return ErrNoSuchTransfer
		}
		if b := bkt.Get([]byte(stateKey)); len(b) == 1 {
			state = b[0]
		}
		return nil
	})
	return state, err
}

// JournalEntry records one completed inbound transfer.
type JournalEntry struct {
	// TransferID is the transfer's identifier.
	TransferID []byte

	// Hash is the verified whole transfer content hash.
	Hash [32]byte

	// CompletedAt is the completion time in Unix seconds.
	CompletedAt int64
}

// RecordCompletion appends the given transfer to the completion journal.
// Journal entries outlive RemoveTransfer, so completed transfers stay
// inspectable after the spooled chunks are gone.
func (s *Spool) RecordCompletion(id []byte, contentHash [32]byte, when time.Time) error {
	if err := transferOk(id); err != nil {
		return err
	}

	var value [40]byte
	copy(value[0:32], contentHash[:])
	binary.BigEndian.PutUint64(value[32:40], uint64(when.Unix()))

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(journalBucket))
		for {
			// Evict the oldest entry once the cap is hit.  Keys are random
			// ids, so this is a scan, but the journal is small by
			// construction.
			var oldestKey []byte
			oldestAt := uint64(math.MaxUint64)
			entries := 0
			c := bkt.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				entries++
				if len(v) != 40 {
					continue
				}
				if at := binary.BigEndian.Uint64(v[32:40]); at < oldestAt {
					oldestAt = at
					oldestKey = k
				}
			}
			if entries < journalMaxEntries || oldestKey == nil {
				break
			}
			if err := bkt.Delete(oldestKey); err != nil {
				return err
			}
		}
		return bkt.Put(id, value[:])
	})
}

// Journal returns the completion journal, in no particular order.
func (s *Spool) Journal() ([]JournalEntry, error) {
	var entries []JournalEntry
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(journalBucket)).ForEach(func(k, v []byte) error {
			if len(v) != 40 {
				return fmt.Errorf("store: corrupt journal entry for %x", k)
			}
			e := JournalEntry{
				TransferID:  append([]byte{}, k...),
				CompletedAt: int64(binary.BigEndian.Uint64(v[32:40])),
			}
			copy(e.Hash[:], v[0:32])
			entries = append(entries, e)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return entries, nil
}

// RemoveTransfer removes all spooled state for the given transfer.
func (s *Spool) RemoveTransfer(id []byte) error {
	if err := transferOk(id); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		tBkt := tx.Bucket([]byte(transfersBucket))
		if tBkt.Bucket(id) == nil {
			return ErrNoSuchTransfer
		}
		return tBkt.DeleteBucket(id)
	})
}

// Transfers returns the ids of every transfer currently present in the
// spool, in no particular order.
func (s *Spool) Transfers() ([][]byte, error) {
	var ids [][]byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transfersBucket)).ForEach(func(k, v []byte) error {
			if v != nil {
				// Not a bucket, skip.
				return nil
			}
			id := make([]byte, 0, len(k))
			id = append(id, k...)
			ids = append(ids, id)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return ids, nil
}

// New creates (or loads) a transfer spool with the given file name f.
func New(f string) (*Spool, error) {
	var err error

	s := new(Spool)
	s.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exist, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(transfersBucket)); err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(journalBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("store: incompatible version: %d", uint(b[0]))
			}
			return nil
		}

		// We created a new database, so populate the new `metadata` bucket.
		bkt.Put([]byte(versionKey), []byte{0})

		return nil
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		s.db.Close()
		return nil, err
	}

	return s, nil
}

func transferOk(id []byte) error {
	if len(id) != crypto.TransferIDSize {
		return fmt.Errorf("store: invalid transfer id size: %d", len(id))
	}
	return nil
}
