// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors.
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

// Phase is a coarse position in the session lifecycle.  The dial, the
// room wait and the handshake are deliberately reported as a single
// connecting phase.
type Phase int

const (
	// PhaseLanding is the idle state before a code phrase exists.
	PhaseLanding Phase = iota

	// PhaseCodeEntry means a code phrase has been captured.
	PhaseCodeEntry

	// PhaseConnecting covers dialing, waiting for the peer and the
	// handshake.
	PhaseConnecting

	// PhaseDashboard is an established session with no transfer running.
	PhaseDashboard

	// PhaseTransferring is an established session moving a file.
	PhaseTransferring

	// PhaseComplete means the session finished its work.
	PhaseComplete

	// PhaseFailed is terminal.
	PhaseFailed
)

// String returns a short phase name.
func (p Phase) String() string {
	switch p {
	case PhaseLanding:
		return "landing"
	case PhaseCodeEntry:
		return "code-entry"
	case PhaseConnecting:
		return "connecting"
	case PhaseDashboard:
		return "dashboard"
	case PhaseTransferring:
		return "transferring"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Event is the generic event delivered over the client's event channel.
// Room presence events from the rendezvous package ride the same
// channel.
type Event interface {
	// String returns a string representation of the Event.
	String() string
}

// ConnectionStatusEvent is emitted when the relay connection comes up or
// goes down.
type ConnectionStatusEvent struct {
	// IsConnected is true iff the client is connected to the relay.
	IsConnected bool

	// Err is the error that tore the connection down, if any.
	Err error
}

// String returns a string representation of the ConnectionStatusEvent.
func (e *ConnectionStatusEvent) String() string {
	if !e.IsConnected {
		return fmt.Sprintf("ConnectionStatus: %v (%v)", e.IsConnected, e.Err)
	}
	return fmt.Sprintf("ConnectionStatus: %v", e.IsConnected)
}

// PhaseEvent is emitted on every lifecycle transition.
type PhaseEvent struct {
	Phase Phase
}

// String returns a string representation of the PhaseEvent.
func (e *PhaseEvent) String() string {
	return fmt.Sprintf("Phase: %v", e.Phase)
}

// HandshakeCompletedEvent is emitted when the peers hold a confirmed
// session key.
type HandshakeCompletedEvent struct{}

// String returns a string representation of the HandshakeCompletedEvent.
func (e *HandshakeCompletedEvent) String() string {
	return "HandshakeCompleted"
}

// HandshakeFailedEvent is emitted when the handshake ends without a key.
// Authentication failures mean the peer does not know the code phrase.
type HandshakeFailedEvent struct {
	Reason string
}

// String returns a string representation of the HandshakeFailedEvent.
func (e *HandshakeFailedEvent) String() string {
	return fmt.Sprintf("HandshakeFailed: %s", e.Reason)
}

// FileOfferEvent is emitted when the peer offers a transfer.  The
// caller answers with Accept or Reject.
type FileOfferEvent struct {
	TransferID [crypto.TransferIDSize]byte

	// Manifest declares what the peer wants to send.
	Manifest wire.Manifest

	// Resuming is true when a matching partial transfer exists in the
	// spool and accepting will continue it.
	Resuming bool

	// Warn is true when the offer exceeds the configured warn threshold.
	Warn bool
}

// String returns a string representation of the FileOfferEvent.
func (e *FileOfferEvent) String() string {
	return fmt.Sprintf("FileOffer: %x (%d files, %d bytes)", e.TransferID[:4], len(e.Manifest.Files), e.Manifest.TotalSize)
}

// TransferProgressEvent reports transfer progress, counted in chunks.
// Outbound progress counts acknowledged chunks, inbound counts spooled
// ones.
type TransferProgressEvent struct {
	TransferID [crypto.TransferIDSize]byte
	Outbound   bool
	Done       uint64
	Total      uint64
}

// String returns a string representation of the TransferProgressEvent.
func (e *TransferProgressEvent) String() string {
	return fmt.Sprintf("TransferProgress: %x %d/%d", e.TransferID[:4], e.Done, e.Total)
}

// TransferCompleteEvent is emitted when a transfer finishes and
// verifies.  Paths lists the written files on the receiving side and is
// nil on the sending side.
type TransferCompleteEvent struct {
	TransferID [crypto.TransferIDSize]byte
	Paths      []string
}

// String returns a string representation of the TransferCompleteEvent.
func (e *TransferCompleteEvent) String() string {
	return fmt.Sprintf("TransferComplete: %x", e.TransferID[:4])
}

// TransferFailedEvent is emitted when a transfer dies: tampering, an
// index gap, a hash mismatch or a local I/O failure.
type TransferFailedEvent struct {
	TransferID [crypto.TransferIDSize]byte
	Err        error
}

// String returns a string representation of the TransferFailedEvent.
func (e *TransferFailedEvent) String() string {
	return fmt.Sprintf("TransferFailed: %x: %v", e.TransferID[:4], e.Err)
}

// TransferCancelledEvent is emitted when either side cancels a transfer.
type TransferCancelledEvent struct {
	TransferID [crypto.TransferIDSize]byte
	Reason     string

	// Local is true when this side initiated the cancel.
	Local bool
}

// String returns a string representation of the TransferCancelledEvent.
func (e *TransferCancelledEvent) String() string {
	return fmt.Sprintf("TransferCancelled: %x: %s", e.TransferID[:4], e.Reason)
}

// TransferRejectedEvent is emitted on the sending side when the peer
// declines an offer.
type TransferRejectedEvent struct {
	TransferID [crypto.TransferIDSize]byte
	Reason     string
}

// String returns a string representation of the TransferRejectedEvent.
func (e *TransferRejectedEvent) String() string {
	return fmt.Sprintf("TransferRejected: %x: %s", e.TransferID[:4], e.Reason)
}

// ChatMessageEvent delivers one decrypted chat message.
type ChatMessageEvent struct {
	Text string
}

// String returns a string representation of the ChatMessageEvent.
func (e *ChatMessageEvent) String() string {
	return fmt.Sprintf("ChatMessage: %d bytes", len(e.Text))
}

// TypingEvent reports the peer's typing state.
type TypingEvent struct {
	Typing bool
}

// String returns a string representation of the TypingEvent.
func (e *TypingEvent) String() string {
	return fmt.Sprintf("Typing: %v", e.Typing)
}

// FailureEvent is the terminal orchestration failure.
type FailureEvent struct {
	Err error
}

// String returns a string representation of the FailureEvent.
func (e *FailureEvent) String() string {
	return fmt.Sprintf("Failure: %v", e.Err)
}
