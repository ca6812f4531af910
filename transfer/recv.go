// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/store"
	"github.com/taper-io/taper/wire"
)

// ReceiverState is the lifecycle state of a Receiver.
type ReceiverState int

const (
	// ReceiverOffered: the offer is spooled but unanswered.
	ReceiverOffered ReceiverState = iota

	// ReceiverReceiving: chunks are flowing.
	ReceiverReceiving

	// ReceiverSealed: every chunk arrived and the content hash verified.
	ReceiverSealed

	// ReceiverExtracted: the files were written out and the spool entry
	// released.
	ReceiverExtracted

	// ReceiverRejected: the local side declined the offer.
	ReceiverRejected

	// ReceiverCancelled: either side cancelled mid flight.
	ReceiverCancelled

	// ReceiverFailed is terminal; the error that caused it was returned
	// to the caller.
	ReceiverFailed
)

// String returns the state name for logging.
func (s ReceiverState) String() string {
	switch s {
	case ReceiverOffered:
		return "Offered"
	case ReceiverReceiving:
		return "Receiving"
	case ReceiverSealed:
		return "Sealed"
	case ReceiverExtracted:
		return "Extracted"
	case ReceiverRejected:
		return "Rejected"
	case ReceiverCancelled:
		return "Cancelled"
	case ReceiverFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ReceiverState(%d)", int(s))
	}
}

// Receiver drives the receiving half of one transfer.  Decrypted chunks
// go straight to the spool, so memory stays flat no matter how large the
// transfer is, and the content hash accumulates incrementally as chunks
// arrive in order.  It is not safe for concurrent use; the orchestrator
// owns it and feeds it inbound messages one at a time.
type Receiver struct {
	cipher   *crypto.SessionCipher
	spool    *store.Spool
	id       [crypto.TransferIDSize]byte
	manifest *wire.Manifest
	hasher   *crypto.ContentHasher

	state    ReceiverState
	expected uint64
	reason   string
}

// NewReceiver validates an offer and spools its manifest.  If the spool
// already holds this transfer id with an identical manifest, the
// receiver resumes where the spool left off, which is what lets a
// re-offered transfer pick up after a crash instead of starting over.
func NewReceiver(cipher *crypto.SessionCipher, offer *wire.FileOffer, spool *store.Spool) (*Receiver, error) {
	if err := offer.Manifest.Validate(); err != nil {
		return nil, err
	}
	if offer.Manifest.TotalSize > MaxTransferSize {
		return nil, ErrTooLarge
	}

	manifest := offer.Manifest
	blob, err := cbor.Marshal(&manifest)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		cipher:   cipher,
		spool:    spool,
		id:       offer.TransferID,
		manifest: &manifest,
		hasher:   crypto.NewContentHasher(),
		state:    ReceiverOffered,
	}

	switch err = spool.CreateTransfer(r.id[:], blob); {
	case err == nil:
	case errors.Is(err, store.ErrTransferExists):
		prev, err := spool.Manifest(r.id[:])
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(prev, blob) {
			return nil, ErrIDReuse
		}
		if err = r.replaySpool(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return r, nil
}

// replaySpool rebuilds the hash state from the chunks already on disk.
func (r *Receiver) replaySpool() error {
	n, err := r.spool.ContiguousChunks(r.id[:])
	if err != nil {
		return err
	}
	return r.spool.ForEachChunk(r.id[:], func(index uint64, payload []byte) error {
		if index >= n {
			return nil
		}
		if index != r.expected {
			return fmt.Errorf("transfer: spool gap at chunk %d", index)
		}
		r.hasher.WriteChunk(payload)
		r.expected++
		return nil
	})
}

// TransferID returns the transfer's identifier.
func (r *Receiver) TransferID() [crypto.TransferIDSize]byte {
	return r.id
}

// Manifest returns the offered manifest.
func (r *Receiver) Manifest() *wire.Manifest {
	return r.manifest
}

// State returns the current state.
func (r *Receiver) State() ReceiverState {
	return r.state
}

// CancelReason returns the reason recorded when the transfer was
// rejected or cancelled.
func (r *Receiver) CancelReason() string {
	return r.reason
}

// Progress returns received and total chunk counts.
func (r *Receiver) Progress() (received, total uint64) {
	return r.expected, r.manifest.TotalChunks
}

// Accept produces the acceptance message and opens the chunk flow.
func (r *Receiver) Accept() (*wire.FileAccept, error) {
	if r.state != ReceiverOffered {
		return nil, fmt.Errorf("transfer: Accept in state %v", r.state)
	}
	r.state = ReceiverReceiving
	return &wire.FileAccept{TransferID: r.id}, nil
}

// Reject declines the offer and releases the spool entry.
func (r *Receiver) Reject(reason string) (*wire.FileReject, error) {
	if r.state != ReceiverOffered {
		return nil, fmt.Errorf("transfer: Reject in state %v", r.state)
	}
	r.state = ReceiverRejected
	r.reason = reason
	if err := r.spool.RemoveTransfer(r.id[:]); err != nil {
		return nil, err
	}
	return &wire.FileReject{TransferID: r.id, Reason: reason}, nil
}

// HandleChunk authenticates, spools, and acknowledges one chunk.  Chunks
// arrive in index order; after a reconnect the sender replays from its
// lowest unacknowledged index, so already spooled chunks are simply
// re-acknowledged.
func (r *Receiver) HandleChunk(m *wire.Chunk) (*wire.Ack, error) {
	if r.state != ReceiverReceiving {
		return nil, fmt.Errorf("transfer: Chunk in state %v", r.state)
	}
	if m.TransferID != r.id {
		return nil, fmt.Errorf("transfer: Chunk for unknown transfer")
	}
	if m.Index >= r.manifest.TotalChunks {
		return nil, r.fail(fmt.Errorf("transfer: chunk index %d outside manifest's %d chunks", m.Index, r.manifest.TotalChunks))
	}

	if m.Index < r.expected {
		// Retransmission.  Acknowledging asserts possession, so verify
		// the spool actually holds the chunk before doing so.
		if !r.spool.HasChunk(r.id[:], m.Index) {
			return nil, r.fail(fmt.Errorf("transfer: spool lost chunk %d", m.Index))
		}
		return &wire.Ack{TransferID: r.id, Index: m.Index}, nil
	}
	if m.Index > r.expected {
		return nil, r.fail(fmt.Errorf("transfer: chunk %d arrived before chunk %d", m.Index, r.expected))
	}

	final := m.Index == r.manifest.TotalChunks-1
	if m.Total != nil && (!final || *m.Total != r.manifest.TotalChunks) {
		return nil, r.fail(fmt.Errorf("transfer: stray total declaration on chunk %d", m.Index))
	}
	if final && m.Total == nil {
		return nil, r.fail(fmt.Errorf("transfer: final chunk is missing its total declaration"))
	}

	plaintext, err := r.cipher.OpenChunk(r.id, m.Index, m.Ciphertext)
	if err != nil {
		return nil, r.fail(err)
	}
	if want := r.chunkLen(m.Index); uint64(len(plaintext)) != want {
		return nil, r.fail(fmt.Errorf("transfer: chunk %d is %d bytes, manifest says %d", m.Index, len(plaintext), want))
	}

	if err = r.spool.PutChunk(r.id[:], m.Index, plaintext); err != nil {
		return nil, r.fail(err)
	}
	r.hasher.WriteChunk(plaintext)
	r.expected++
	return &wire.Ack{TransferID: r.id, Index: m.Index}, nil
}

// chunkLen returns the manifest mandated plaintext length of the chunk
// at the given global index.
func (r *Receiver) chunkLen(index uint64) uint64 {
	var base uint64
	for _, f := range r.manifest.Files {
		if index < base+f.ChunkCount {
			pos := index - base
			if pos == f.ChunkCount-1 {
				return f.Size - pos*uint64(r.manifest.ChunkSize)
			}
			return uint64(r.manifest.ChunkSize)
		}
		base += f.ChunkCount
	}
	return 0
}

// HandleComplete verifies the whole transfer against the sender's
// content hash and, when present, the chunk tree root.
func (r *Receiver) HandleComplete(m *wire.TransferComplete) error {
	if r.state != ReceiverReceiving {
		return fmt.Errorf("transfer: TransferComplete in state %v", r.state)
	}
	if m.TransferID != r.id {
		return fmt.Errorf("transfer: TransferComplete for unknown transfer")
	}
	if r.expected != r.manifest.TotalChunks {
		return r.fail(fmt.Errorf("transfer: completion with %d of %d chunks received", r.expected, r.manifest.TotalChunks))
	}
	if r.hasher.Sum() != m.Hash {
		return r.fail(fmt.Errorf("transfer: content hash mismatch"))
	}
	if m.MerkleRoot != nil && r.hasher.Root() != *m.MerkleRoot {
		return r.fail(fmt.Errorf("transfer: chunk tree root mismatch"))
	}
	if err := r.spool.SealTransfer(r.id[:]); err != nil {
		return r.fail(err)
	}
	// The journal is advisory; a write failure doesn't poison a transfer
	// whose content already verified.
	_ = r.spool.RecordCompletion(r.id[:], m.Hash, time.Now())
	r.state = ReceiverSealed
	return nil
}

// Extract writes the received files under destDir, creating directories
// as needed and refusing to overwrite existing files.  On success the
// spool entry is released; on failure it is kept so extraction can be
// retried.
func (r *Receiver) Extract(destDir string) ([]string, error) {
	if r.state != ReceiverSealed {
		return nil, fmt.Errorf("transfer: Extract in state %v", r.state)
	}

	var written []string
	var index uint64
	for _, f := range r.manifest.Files {
		dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
			return nil, err
		}
		fd, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return nil, err
		}
		var n uint64
		for i := uint64(0); i < f.ChunkCount; i++ {
			payload, err := r.spool.Chunk(r.id[:], index)
			if err != nil {
				fd.Close()
				return nil, err
			}
			if _, err = fd.Write(payload); err != nil {
				fd.Close()
				return nil, err
			}
			n += uint64(len(payload))
			index++
		}
		if err = fd.Close(); err != nil {
			return nil, err
		}
		if n != f.Size {
			return nil, fmt.Errorf("transfer: wrote %d bytes of %q, manifest says %d", n, f.Name, f.Size)
		}
		written = append(written, dest)
	}

	if err := r.spool.RemoveTransfer(r.id[:]); err != nil {
		return nil, err
	}
	r.state = ReceiverExtracted
	return written, nil
}

// Cancel aborts the transfer locally, releases the spool entry, and
// produces the cancel message for the peer.
func (r *Receiver) Cancel(reason string) (*wire.TransferCancel, error) {
	switch r.state {
	case ReceiverOffered, ReceiverReceiving:
	default:
		return nil, fmt.Errorf("transfer: Cancel in state %v", r.state)
	}
	r.state = ReceiverCancelled
	r.reason = reason
	if err := r.spool.RemoveTransfer(r.id[:]); err != nil {
		return nil, err
	}
	return &wire.TransferCancel{TransferID: r.id, Reason: reason}, nil
}

// HandleCancel records the peer's abort and releases the spool entry.
func (r *Receiver) HandleCancel(m *wire.TransferCancel) error {
	if m.TransferID != r.id {
		return fmt.Errorf("transfer: TransferCancel for unknown transfer")
	}
	switch r.state {
	case ReceiverOffered, ReceiverReceiving:
	default:
		return fmt.Errorf("transfer: TransferCancel in state %v", r.state)
	}
	r.state = ReceiverCancelled
	r.reason = m.Reason
	return r.spool.RemoveTransfer(r.id[:])
}

func (r *Receiver) fail(err error) error {
	r.state = ReceiverFailed
	return err
}
