// room.go - Relay room state.
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

package relay

import (
	"math"
	"sort"
	"sync"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

const (
	reasonAuthFailed = "authentication failed"
	reasonRoomFull   = "room is full"
	reasonAtCapacity = "server at room capacity"
)

// room is a fixed 2-peer rendezvous room.  A vacated seat may be taken
// again, which is what lets a peer rejoin mid-session after a transport
// drop.
type room struct {
	members []*incomingConn
}

// multiRoom is an N-peer room.  Peer ids are assigned monotonically and
// never reused for the lifetime of the room, so a departed peer cannot
// be confused with a later arrival.
type multiRoom struct {
	capacity int
	nextID   uint8
	members  map[uint8]*incomingConn
}

func (r *multiRoom) peerIDs() []uint8 {
	ids := make([]uint8, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// roomSet tracks every active room on the relay.  Legacy and multi-peer
// rooms live in separate namespaces, both counted against the room
// limit.  All membership state, including the per-connection room
// fields, is guarded by the roomSet lock.
type roomSet struct {
	sync.Mutex

	rooms      map[[crypto.RoomIDSize]byte]*room
	multiRooms map[[crypto.RoomIDSize]byte]*multiRoom
	maxRooms   int
}

func newRoomSet(maxRooms int) *roomSet {
	return &roomSet{
		rooms:      make(map[[crypto.RoomIDSize]byte]*room),
		multiRooms: make(map[[crypto.RoomIDSize]byte]*multiRoom),
		maxRooms:   maxRooms,
	}
}

func (s *roomSet) atCapacity(roomExists bool) bool {
	return !roomExists && len(s.rooms)+len(s.multiRooms) >= s.maxRooms
}

// join seats c in the 2-peer room roomID, creating the room as needed,
// and returns the reply to send to the joiner.  On denial the reply is
// a HandshakeFailed and c is left detached.
func (s *roomSet) join(c *incomingConn, roomID [crypto.RoomIDSize]byte) wire.Message {
	s.Lock()
	defer s.Unlock()

	r, ok := s.rooms[roomID]
	if s.atCapacity(ok) {
		return &wire.HandshakeFailed{Reason: reasonAtCapacity}
	}
	if !ok {
		r = &room{members: make([]*incomingConn, 0, 2)}
		s.rooms[roomID] = r
		activeRooms.Inc()
	}
	if len(r.members) >= 2 {
		return &wire.HandshakeFailed{Reason: reasonRoomFull}
	}

	peerPresent := len(r.members) > 0
	for _, p := range r.members {
		p.enqueue(&wire.PeerArrived{})
	}
	r.members = append(r.members, c)

	c.joined = true
	c.multi = false
	c.roomID = roomID
	return &wire.RoomJoined{PeerPresent: peerPresent}
}

// joinMulti seats c in the multi-peer room roomID.  The first joiner
// fixes the room capacity; the requested capacity of later joiners is
// ignored.
func (s *roomSet) joinMulti(c *incomingConn, roomID [crypto.RoomIDSize]byte, requestedCapacity uint8) wire.Message {
	s.Lock()
	defer s.Unlock()

	r, ok := s.multiRooms[roomID]
	if s.atCapacity(ok) {
		return &wire.HandshakeFailed{Reason: reasonAtCapacity}
	}
	if !ok {
		capacity := int(requestedCapacity)
		switch {
		case capacity == 0:
			capacity = wire.MaxRoomCapacity
		case capacity < wire.MinRoomCapacity:
			capacity = wire.MinRoomCapacity
		case capacity > wire.MaxRoomCapacity:
			capacity = wire.MaxRoomCapacity
		}
		r = &multiRoom{
			capacity: capacity,
			members:  make(map[uint8]*incomingConn),
		}
		s.multiRooms[roomID] = r
		activeRooms.Inc()
	}
	if len(r.members) >= r.capacity || r.nextID == math.MaxUint8 {
		return &wire.HandshakeFailed{Reason: reasonRoomFull}
	}

	existing := r.peerIDs()
	id := r.nextID
	r.nextID++
	for _, p := range r.members {
		p.enqueue(&wire.PeerJoinedRoom{PeerID: id})
	}
	r.members[id] = c

	c.joined = true
	c.multi = true
	c.roomID = roomID
	c.peerID = id
	return &wire.RoomJoinedMulti{SelfID: id, Peers: existing}
}

// leave detaches c from its room, if any.  Multi-peer departures are
// broadcast; an emptied room evaporates.
func (s *roomSet) leave(c *incomingConn) {
	s.Lock()
	defer s.Unlock()

	if !c.joined {
		return
	}
	c.joined = false

	if c.multi {
		r, ok := s.multiRooms[c.roomID]
		if !ok {
			return
		}
		delete(r.members, c.peerID)
		for _, p := range r.members {
			p.enqueue(&wire.PeerLeftRoom{PeerID: c.peerID})
		}
		if len(r.members) == 0 {
			delete(s.multiRooms, c.roomID)
			activeRooms.Dec()
		}
		return
	}

	r, ok := s.rooms[c.roomID]
	if !ok {
		return
	}
	for i, p := range r.members {
		if p == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 {
		delete(s.rooms, c.roomID)
		activeRooms.Dec()
	}
}

// forward relays m to every other member of c's room.  The relay never
// interprets forwarded payloads.
func (s *roomSet) forward(c *incomingConn, m wire.Message) {
	s.Lock()
	defer s.Unlock()

	if !c.joined {
		return
	}

	var peers []*incomingConn
	if c.multi {
		if r, ok := s.multiRooms[c.roomID]; ok {
			for _, p := range r.members {
				if p != c {
					peers = append(peers, p)
				}
			}
		}
	} else {
		if r, ok := s.rooms[c.roomID]; ok {
			for _, p := range r.members {
				if p != c {
					peers = append(peers, p)
				}
			}
		}
	}
	if len(peers) == 0 {
		return
	}

	for _, p := range peers {
		p.enqueue(m)
	}
	routedMessages.Add(float64(len(peers)))
	if b, err := wire.ToBytes(m); err == nil {
		routedBytes.Add(float64(len(b) * len(peers)))
	}
}
