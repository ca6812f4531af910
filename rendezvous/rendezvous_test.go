// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors.
// SPDX-License-Identifier: AGPL-3.0-only

package rendezvous

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

func TestJoinBuilders(t *testing.T) {
	require := require.New(t)

	m := Join("7-guitar-castle", "")
	require.Equal(crypto.RoomID("7-guitar-castle"), m.RoomID)
	require.Nil(m.PasswordHash)

	m = Join("7-guitar-castle", "hunter2")
	require.Equal(crypto.PasswordHash("hunter2"), m.PasswordHash)

	// Normalization happens below the builder, so case variants land in
	// the same room.
	require.Equal(Join("7-Guitar-CASTLE", "").RoomID, m.RoomID)
}

func TestJoinMultiCapacity(t *testing.T) {
	require := require.New(t)

	for _, capacity := range []uint8{0, 1, 17, 255} {
		_, err := JoinMulti("7-guitar-castle", "", capacity)
		require.Error(err, "capacity %d", capacity)
	}

	m, err := JoinMulti("7-guitar-castle", "hunter2", 2)
	require.NoError(err)
	require.Equal(uint8(2), m.Capacity)
	require.Equal(crypto.PasswordHash("hunter2"), m.PasswordHash)

	m, err = JoinMulti("7-guitar-castle", "", 16)
	require.NoError(err)
	require.Equal(uint8(16), m.Capacity)
	require.Nil(m.PasswordHash)
}

func TestTrackerTwoPeerFlow(t *testing.T) {
	require := require.New(t)
	tr := NewTracker()

	require.False(tr.Joined())
	require.False(tr.PeerPresent())

	ev, ok := tr.Handle(&wire.RoomJoined{PeerPresent: false})
	require.True(ok)
	joined, isJoined := ev.(*JoinedEvent)
	require.True(isJoined)
	require.False(joined.PeerPresent)
	require.True(tr.Joined())
	require.False(tr.PeerPresent())

	ev, ok = tr.Handle(&wire.PeerArrived{})
	require.True(ok)
	require.IsType(&PeerArrivedEvent{}, ev)
	require.True(tr.PeerPresent())

	ev, ok = tr.Handle(&wire.PeerLeftRoom{})
	require.True(ok)
	require.IsType(&PeerLeftEvent{}, ev)
	require.False(tr.PeerPresent())

	_, hasID := tr.SelfID()
	require.False(hasID)
}

func TestTrackerMultiFlow(t *testing.T) {
	require := require.New(t)
	tr := NewTracker()

	ev, ok := tr.Handle(&wire.RoomJoinedMulti{SelfID: 4, Peers: []uint8{3, 1}})
	require.True(ok)
	joined, isJoined := ev.(*JoinedMultiEvent)
	require.True(isJoined)
	require.Equal(uint8(4), joined.SelfID)
	require.Equal([]uint8{1, 3}, joined.Peers)
	require.True(tr.PeerPresent())

	id, hasID := tr.SelfID()
	require.True(hasID)
	require.Equal(uint8(4), id)

	_, ok = tr.Handle(&wire.PeerJoinedRoom{PeerID: 5})
	require.True(ok)
	require.Equal([]uint8{1, 3, 5}, tr.Peers())

	_, ok = tr.Handle(&wire.PeerLeftRoom{PeerID: 3})
	require.True(ok)
	require.Equal([]uint8{1, 5}, tr.Peers())

	_, ok = tr.Handle(&wire.PeerLeftRoom{PeerID: 1})
	require.True(ok)
	_, ok = tr.Handle(&wire.PeerLeftRoom{PeerID: 5})
	require.True(ok)
	require.False(tr.PeerPresent())
}

func TestTrackerJoinDenied(t *testing.T) {
	require := require.New(t)
	tr := NewTracker()

	ev, ok := tr.Handle(&wire.HandshakeFailed{Reason: "authentication failed"})
	require.True(ok)
	denied, isDenied := ev.(*JoinDeniedEvent)
	require.True(isDenied)
	require.Equal("authentication failed", denied.Reason)

	// After admission the same message belongs to the handshake layer.
	_, ok = tr.Handle(&wire.RoomJoined{PeerPresent: true})
	require.True(ok)
	_, ok = tr.Handle(&wire.HandshakeFailed{Reason: "confirmation mismatch"})
	require.False(ok)
}

func TestTrackerRoutesOnlyRoomTraffic(t *testing.T) {
	require := require.New(t)
	tr := NewTracker()

	for _, m := range []wire.Message{
		&wire.Ping{},
		&wire.Pong{},
		&wire.ChatText{},
		&wire.FileAccept{},
		&wire.HandshakeInit{},
	} {
		_, ok := tr.Handle(m)
		require.False(ok, "message %v", m.Type())
	}

	ev, ok := tr.Handle(&wire.Unrecognized{ID: wire.Type(0x7f), Payload: []byte{1}})
	require.True(ok)
	ignored, isIgnored := ev.(*IgnoredEvent)
	require.True(isIgnored)
	require.Equal(wire.Type(0x7f), ignored.ID)
	require.Contains(ignored.String(), "0x7f")
}
