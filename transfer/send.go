// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package transfer

import (
	"fmt"
	"io"

	"gitlab.com/yawning/avl.git"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

// SenderState is the lifecycle state of a Sender.
type SenderState int

const (
	// SenderOffering: the offer is outstanding.
	SenderOffering SenderState = iota

	// SenderSending: the peer accepted and chunks are flowing.
	SenderSending

	// SenderCompleted: every chunk was acknowledged and the completion
	// message was produced.
	SenderCompleted

	// SenderRejected: the peer declined the offer.
	SenderRejected

	// SenderCancelled: either side cancelled mid flight.
	SenderCancelled

	// SenderFailed is terminal; the error that caused it was returned to
	// the caller.
	SenderFailed
)

// String returns the state name for logging.
func (s SenderState) String() string {
	switch s {
	case SenderOffering:
		return "Offering"
	case SenderSending:
		return "Sending"
	case SenderCompleted:
		return "Completed"
	case SenderRejected:
		return "Rejected"
	case SenderCancelled:
		return "Cancelled"
	case SenderFailed:
		return "Failed"
	default:
		return fmt.Sprintf("SenderState(%d)", int(s))
	}
}

// SenderOption adjusts sender construction.
type SenderOption func(*Sender)

// WithWindow overrides the default acknowledgement window.
func WithWindow(n int) SenderOption {
	return func(s *Sender) {
		if n > 0 {
			s.window = n
		}
	}
}

// inflightChunk is one sealed but unacknowledged chunk, held for
// retransmission after a reconnect.
type inflightChunk struct {
	index uint64
	msg   *wire.Chunk
}

// Sender drives the sending half of one transfer.  It reads the
// plaintext stream lazily, keeps every sealed but unacknowledged chunk
// in an index ordered tree for retransmission, and refuses to run ahead
// of the acknowledgement window.  It is not safe for concurrent use; the
// orchestrator owns it and feeds it inbound messages one at a time.
type Sender struct {
	cipher   *crypto.SessionCipher
	id       [crypto.TransferIDSize]byte
	manifest *wire.Manifest
	content  io.Reader
	hasher   *crypto.ContentHasher

	state  SenderState
	window int
	reason string

	nextIndex uint64
	inflight  *avl.Tree

	fileIndex  int
	fileRemain uint64
}

// NewSender builds a sender for the given manifest.  content must yield
// exactly the manifest's TotalSize bytes, file contents concatenated in
// declaration order; BuildManifest returns a matching source.
func NewSender(cipher *crypto.SessionCipher, manifest *wire.Manifest, content io.Reader, opts ...SenderOption) (*Sender, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	if manifest.TotalSize > MaxTransferSize {
		return nil, ErrTooLarge
	}
	id, err := crypto.NewTransferID()
	if err != nil {
		return nil, err
	}
	s := &Sender{
		cipher:   cipher,
		id:       id,
		manifest: manifest,
		content:  content,
		hasher:   crypto.NewContentHasher(),
		state:    SenderOffering,
		window:   DefaultWindow,
		inflight: avl.New(func(a, b interface{}) int {
			ca, cb := a.(*inflightChunk), b.(*inflightChunk)
			switch {
			case ca.index < cb.index:
				return -1
			case ca.index > cb.index:
				return 1
			default:
				return 0
			}
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TransferID returns the transfer's identifier.
func (s *Sender) TransferID() [crypto.TransferIDSize]byte {
	return s.id
}

// State returns the current state.
func (s *Sender) State() SenderState {
	return s.state
}

// CancelReason returns the reason recorded when the transfer was
// rejected or cancelled.
func (s *Sender) CancelReason() string {
	return s.reason
}

// Progress returns acknowledged and total chunk counts.
func (s *Sender) Progress() (acked, total uint64) {
	return s.nextIndex - uint64(s.inflight.Len()), s.manifest.TotalChunks
}

// Offer produces the offer message.  It may be called again to repeat an
// unanswered offer after a reconnect.
func (s *Sender) Offer() (*wire.FileOffer, error) {
	if s.state != SenderOffering {
		return nil, fmt.Errorf("transfer: Offer in state %v", s.state)
	}
	return &wire.FileOffer{TransferID: s.id, Manifest: *s.manifest}, nil
}

// HandleAccept opens the chunk flow.
func (s *Sender) HandleAccept(m *wire.FileAccept) error {
	if s.state != SenderOffering {
		return fmt.Errorf("transfer: FileAccept in state %v", s.state)
	}
	if m.TransferID != s.id {
		return fmt.Errorf("transfer: FileAccept for unknown transfer")
	}
	s.state = SenderSending
	return nil
}

// HandleReject records the peer's refusal.
func (s *Sender) HandleReject(m *wire.FileReject) error {
	if s.state != SenderOffering {
		return fmt.Errorf("transfer: FileReject in state %v", s.state)
	}
	if m.TransferID != s.id {
		return fmt.Errorf("transfer: FileReject for unknown transfer")
	}
	s.state = SenderRejected
	s.reason = m.Reason
	return nil
}

// Next seals and returns the next chunk to put on the wire, or nil when
// the window is full or every chunk has been sent.  The final chunk
// declares the transfer's total chunk count.
func (s *Sender) Next() (*wire.Chunk, error) {
	if s.state != SenderSending {
		return nil, fmt.Errorf("transfer: Next in state %v", s.state)
	}
	if s.nextIndex >= s.manifest.TotalChunks || s.inflight.Len() >= s.window {
		return nil, nil
	}

	plaintext, err := s.readNext()
	if err != nil {
		return nil, s.fail(err)
	}
	s.hasher.WriteChunk(plaintext)

	ciphertext, err := s.cipher.SealChunk(s.id, s.nextIndex, plaintext)
	if err != nil {
		return nil, s.fail(err)
	}
	c := &wire.Chunk{
		TransferID: s.id,
		Index:      s.nextIndex,
		Ciphertext: ciphertext,
	}
	if s.nextIndex == s.manifest.TotalChunks-1 {
		total := s.manifest.TotalChunks
		c.Total = &total
	}

	ic := &inflightChunk{index: s.nextIndex, msg: c}
	if node := s.inflight.Insert(ic); node.Value.(*inflightChunk) != ic {
		panic("transfer: duplicate in flight chunk index")
	}
	s.nextIndex++
	return c, nil
}

// readNext returns the plaintext of the next chunk, respecting file
// boundaries: a file's final chunk is short, the next file starts a
// fresh chunk.
func (s *Sender) readNext() ([]byte, error) {
	for s.fileRemain == 0 {
		if s.fileIndex >= len(s.manifest.Files) {
			return nil, fmt.Errorf("transfer: read past manifest end")
		}
		s.fileRemain = s.manifest.Files[s.fileIndex].Size
		s.fileIndex++
	}
	n := uint64(s.manifest.ChunkSize)
	if s.fileRemain < n {
		n = s.fileRemain
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.content, buf); err != nil {
		return nil, fmt.Errorf("transfer: content stream ended before manifest size: %v", err)
	}
	s.fileRemain -= n
	return buf, nil
}

// HandleAck retires an in flight chunk.  Duplicate acknowledgements are
// normal after a reconnect and are ignored.
func (s *Sender) HandleAck(m *wire.Ack) error {
	if s.state != SenderSending {
		return fmt.Errorf("transfer: Ack in state %v", s.state)
	}
	if m.TransferID != s.id {
		return fmt.Errorf("transfer: Ack for unknown transfer")
	}
	if m.Index >= s.nextIndex {
		return fmt.Errorf("transfer: peer acknowledged unsent chunk %d", m.Index)
	}
	node := s.inflight.Find(&inflightChunk{index: m.Index})
	if node == nil {
		// Already acknowledged.
		return nil
	}
	s.inflight.Remove(node)
	return nil
}

// Drained reports whether every chunk has been sent and acknowledged.
func (s *Sender) Drained() bool {
	return s.nextIndex == s.manifest.TotalChunks && s.inflight.Len() == 0
}

// Complete produces the completion message carrying the whole content
// hash and the chunk tree root.  Only legal once Drained.
func (s *Sender) Complete() (*wire.TransferComplete, error) {
	if s.state != SenderSending {
		return nil, fmt.Errorf("transfer: Complete in state %v", s.state)
	}
	if !s.Drained() {
		acked, total := s.Progress()
		return nil, fmt.Errorf("transfer: Complete with %d of %d chunks acknowledged", acked, total)
	}
	root := s.hasher.Root()
	s.state = SenderCompleted
	return &wire.TransferComplete{
		TransferID: s.id,
		Hash:       s.hasher.Sum(),
		MerkleRoot: &root,
	}, nil
}

// Unacked returns the in flight chunks in index order, for
// retransmission after a reconnect.  Chunk encryption is deterministic
// in the index, so retransmitted bytes are identical to the originals.
func (s *Sender) Unacked() []*wire.Chunk {
	out := make([]*wire.Chunk, 0, s.inflight.Len())
	iter := s.inflight.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		out = append(out, node.Value.(*inflightChunk).msg)
	}
	return out
}

// Cancel aborts the transfer locally and produces the cancel message for
// the peer.
func (s *Sender) Cancel(reason string) (*wire.TransferCancel, error) {
	switch s.state {
	case SenderOffering, SenderSending:
	default:
		return nil, fmt.Errorf("transfer: Cancel in state %v", s.state)
	}
	s.state = SenderCancelled
	s.reason = reason
	return &wire.TransferCancel{TransferID: s.id, Reason: reason}, nil
}

// HandleCancel records the peer's abort.
func (s *Sender) HandleCancel(m *wire.TransferCancel) error {
	if m.TransferID != s.id {
		return fmt.Errorf("transfer: TransferCancel for unknown transfer")
	}
	switch s.state {
	case SenderOffering, SenderSending:
	default:
		return fmt.Errorf("transfer: TransferCancel in state %v", s.state)
	}
	s.state = SenderCancelled
	s.reason = m.Reason
	return nil
}

func (s *Sender) fail(err error) error {
	s.state = SenderFailed
	return err
}
