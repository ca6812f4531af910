// rendezvous.go - Relay room membership client.
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

// Package rendezvous handles the room management slice of the protocol:
// building join requests from a code phrase and turning the relay's
// presence traffic into typed events.
//
// Presence is advisory.  The relay is untrusted, so nothing derived
// here guards any security property; the tracker only tells the caller
// when it is worth starting a handshake.
package rendezvous

import (
	"fmt"
	"sort"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

// Join builds the join request for a fixed two peer room.  An empty
// password omits the hash entirely.
func Join(phrase, password string) *wire.RoomJoin {
	m := &wire.RoomJoin{
		RoomID: crypto.RoomID(phrase),
	}
	if password != "" {
		m.PasswordHash = crypto.PasswordHash(password)
	}
	return m
}

// JoinMulti builds the join request for a multi peer room.
func JoinMulti(phrase, password string, capacity uint8) (*wire.RoomJoinMulti, error) {
	if capacity < wire.MinRoomCapacity || capacity > wire.MaxRoomCapacity {
		return nil, fmt.Errorf("rendezvous: room capacity %d outside [%d, %d]", capacity, wire.MinRoomCapacity, wire.MaxRoomCapacity)
	}
	m := &wire.RoomJoinMulti{
		RoomID:   crypto.RoomID(phrase),
		Capacity: capacity,
	}
	if password != "" {
		m.PasswordHash = crypto.PasswordHash(password)
	}
	return m, nil
}

// Tracker mirrors the relay's view of room occupancy for one
// connection.  It is not safe for concurrent use; drive it from the
// connection's read loop.
type Tracker struct {
	joined    bool
	multi     bool
	selfID    uint8
	peer      bool
	occupants map[uint8]struct{}
}

// NewTracker returns a tracker in the pre-join state.
func NewTracker() *Tracker {
	return &Tracker{
		occupants: make(map[uint8]struct{}),
	}
}

// Joined returns true once the relay has admitted us.
func (t *Tracker) Joined() bool {
	return t.joined
}

// SelfID returns the peer id the relay assigned, valid only for multi
// peer rooms after admission.
func (t *Tracker) SelfID() (uint8, bool) {
	if !t.joined || !t.multi {
		return 0, false
	}
	return t.selfID, true
}

// PeerPresent returns true when at least one other occupant is in the
// room.  The sender side starts its handshake on the transition to
// true.
func (t *Tracker) PeerPresent() bool {
	if t.multi {
		return len(t.occupants) > 0
	}
	return t.peer
}

// Peers returns the occupant ids of a multi peer room in ascending
// order.
func (t *Tracker) Peers() []uint8 {
	ids := make([]uint8, 0, len(t.occupants))
	for id := range t.occupants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Handle consumes one inbound message.  Room management traffic updates
// the tracker and yields an event; for anything else ok is false and
// the caller routes the message to its own layer.  A HandshakeFailed
// seen before admission is the relay refusing the join; after admission
// it belongs to the handshake layer.
func (t *Tracker) Handle(m wire.Message) (Event, bool) {
	switch m := m.(type) {
	case *wire.RoomJoined:
		t.joined = true
		t.multi = false
		t.peer = m.PeerPresent
		return &JoinedEvent{PeerPresent: m.PeerPresent}, true
	case *wire.RoomJoinedMulti:
		t.joined = true
		t.multi = true
		t.selfID = m.SelfID
		t.occupants = make(map[uint8]struct{}, len(m.Peers))
		for _, id := range m.Peers {
			t.occupants[id] = struct{}{}
		}
		return &JoinedMultiEvent{SelfID: m.SelfID, Peers: t.Peers()}, true
	case *wire.PeerArrived:
		t.peer = true
		return &PeerArrivedEvent{}, true
	case *wire.PeerJoinedRoom:
		t.occupants[m.PeerID] = struct{}{}
		return &PeerJoinedEvent{PeerID: m.PeerID}, true
	case *wire.PeerLeftRoom:
		delete(t.occupants, m.PeerID)
		t.peer = false
		return &PeerLeftEvent{PeerID: m.PeerID}, true
	case *wire.HandshakeFailed:
		if !t.joined {
			return &JoinDeniedEvent{Reason: m.Reason}, true
		}
		return nil, false
	case *wire.Unrecognized:
		return &IgnoredEvent{ID: m.ID}, true
	default:
		return nil, false
	}
}
