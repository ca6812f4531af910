// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors.
// SPDX-License-Identifier: AGPL-3.0-only

package rendezvous

import (
	"fmt"

	"github.com/taper-io/taper/wire"
)

// Event is a typed room presence change.
type Event interface {
	// String returns a string representation of the Event.
	String() string
}

// JoinedEvent reports admission to a two peer room.
type JoinedEvent struct {
	// PeerPresent is true iff the other side was already waiting.
	PeerPresent bool
}

// String returns a string representation of the JoinedEvent.
func (e *JoinedEvent) String() string {
	return fmt.Sprintf("Joined: peer present %v", e.PeerPresent)
}

// JoinedMultiEvent reports admission to a multi peer room.
type JoinedMultiEvent struct {
	// SelfID is the peer id the relay assigned the joiner.
	SelfID uint8

	// Peers lists the occupants that were already present.
	Peers []uint8
}

// String returns a string representation of the JoinedMultiEvent.
func (e *JoinedMultiEvent) String() string {
	return fmt.Sprintf("JoinedMulti: self %d, %d peers present", e.SelfID, len(e.Peers))
}

// PeerArrivedEvent reports the second occupant of a two peer room.
type PeerArrivedEvent struct{}

// String returns a string representation of the PeerArrivedEvent.
func (e *PeerArrivedEvent) String() string {
	return "PeerArrived"
}

// PeerJoinedEvent reports a new occupant of a multi peer room.
type PeerJoinedEvent struct {
	PeerID uint8
}

// String returns a string representation of the PeerJoinedEvent.
func (e *PeerJoinedEvent) String() string {
	return fmt.Sprintf("PeerJoined: %d", e.PeerID)
}

// PeerLeftEvent reports a departure.
type PeerLeftEvent struct {
	PeerID uint8
}

// String returns a string representation of the PeerLeftEvent.
func (e *PeerLeftEvent) String() string {
	return fmt.Sprintf("PeerLeft: %d", e.PeerID)
}

// JoinDeniedEvent reports a relay that refused the join outright, for
// example on a password mismatch or a full room.
type JoinDeniedEvent struct {
	Reason string
}

// String returns a string representation of the JoinDeniedEvent.
func (e *JoinDeniedEvent) String() string {
	return fmt.Sprintf("JoinDenied: %s", e.Reason)
}

// IgnoredEvent reports a message type this build does not know.  It is
// informational; newer peers and relays may emit types we skip.
type IgnoredEvent struct {
	ID wire.Type
}

// String returns a string representation of the IgnoredEvent.
func (e *IgnoredEvent) String() string {
	return fmt.Sprintf("Ignored: unrecognized message type 0x%02x", byte(e.ID))
}
