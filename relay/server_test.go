// server_test.go - Tests.
// Copyright (C) 2026  The taper authors.
//
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/relay/config"
	"github.com/taper-io/taper/rendezvous"
	"github.com/taper-io/taper/transport"
	"github.com/taper-io/taper/wire"
)

const recvTimeout = 15 * time.Second

func startRelay(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	cfg := &config.Config{
		Relay:   &config.Relay{Addresses: []string{"tcp://127.0.0.1:0"}},
		Logging: &config.Logging{Disable: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	return s, s.listeners[0].l.Addr().String()
}

func dialRelay(t *testing.T, addr string) transport.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), recvTimeout)
	defer cancel()

	conn, err := transport.Dial(ctx, "tcp://"+addr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func recvMsg(t *testing.T, conn transport.Conn) wire.Message {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	m, err := conn.Recv()
	require.NoError(t, err)
	return m
}

func chatText(seq uint64, body string) *wire.ChatText {
	var mid [crypto.MessageIDSize]byte
	mid[0] = byte(seq)
	return &wire.ChatText{
		MessageID:  mid,
		Sequence:   seq,
		Ciphertext: []byte(body),
		Nonce:      crypto.ChatNonce(seq),
	}
}

func TestRelayLegacyPairing(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, nil)

	phrase := "7-relay-pairing"

	a := dialRelay(t, addr)
	require.NoError(a.Send(rendezvous.Join(phrase, "")))
	joined := recvMsg(t, a).(*wire.RoomJoined)
	require.False(joined.PeerPresent)

	b := dialRelay(t, addr)
	require.NoError(b.Send(rendezvous.Join(phrase, "")))
	joined = recvMsg(t, b).(*wire.RoomJoined)
	require.True(joined.PeerPresent)

	// The waiting peer learns of the arrival.
	require.IsType(&wire.PeerArrived{}, recvMsg(t, a))

	// Traffic is forwarded verbatim, both ways.
	require.NoError(b.Send(chatText(1, "from b")))
	ct := recvMsg(t, a).(*wire.ChatText)
	require.Equal([]byte("from b"), ct.Ciphertext)

	require.NoError(a.Send(chatText(2, "from a")))
	ct = recvMsg(t, b).(*wire.ChatText)
	require.Equal([]byte("from a"), ct.Ciphertext)

	// The room only seats two.
	c := dialRelay(t, addr)
	require.NoError(c.Send(rendezvous.Join(phrase, "")))
	denied := recvMsg(t, c).(*wire.HandshakeFailed)
	require.Equal("room is full", denied.Reason)
}

func TestRelayUnknownTypePassThrough(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, nil)

	phrase := "7-relay-passthrough"

	a := dialRelay(t, addr)
	require.NoError(a.Send(rendezvous.Join(phrase, "")))
	recvMsg(t, a)

	b := dialRelay(t, addr)
	require.NoError(b.Send(rendezvous.Join(phrase, "")))
	recvMsg(t, b)
	recvMsg(t, a) // PeerArrived

	// A message type this relay build has never heard of is forwarded
	// byte for byte, which is what lets old relays carry new clients.
	require.NoError(b.Send(&wire.Unrecognized{ID: 0x70, Payload: []byte("from the future")}))
	u := recvMsg(t, a).(*wire.Unrecognized)
	require.Equal(wire.Type(0x70), u.ID)
	require.Equal([]byte("from the future"), u.Payload)
}

func TestRelayPassword(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, func(cfg *config.Config) {
		cfg.Relay.Password = "sekrit"
	})

	phrase := "7-relay-password"

	// No password is a denial, and the connection is closed.
	a := dialRelay(t, addr)
	require.NoError(a.Send(rendezvous.Join(phrase, "")))
	denied := recvMsg(t, a).(*wire.HandshakeFailed)
	require.Equal("authentication failed", denied.Reason)
	require.NoError(a.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, err := a.Recv()
	require.Error(err)

	// So is the wrong password.
	b := dialRelay(t, addr)
	require.NoError(b.Send(rendezvous.Join(phrase, "sekr1t")))
	denied = recvMsg(t, b).(*wire.HandshakeFailed)
	require.Equal("authentication failed", denied.Reason)

	// The right password seats the peer.
	c := dialRelay(t, addr)
	require.NoError(c.Send(rendezvous.Join(phrase, "sekrit")))
	joined := recvMsg(t, c).(*wire.RoomJoined)
	require.False(joined.PeerPresent)
}

func TestRelayMultiRoom(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, nil)

	phrase := "7-relay-multi"
	join := func() *wire.RoomJoinMulti {
		m, err := rendezvous.JoinMulti(phrase, "", 3)
		require.NoError(err)
		return m
	}

	p0 := dialRelay(t, addr)
	require.NoError(p0.Send(join()))
	j0 := recvMsg(t, p0).(*wire.RoomJoinedMulti)
	require.Equal(uint8(0), j0.SelfID)
	require.Empty(j0.Peers)

	p1 := dialRelay(t, addr)
	require.NoError(p1.Send(join()))
	j1 := recvMsg(t, p1).(*wire.RoomJoinedMulti)
	require.Equal(uint8(1), j1.SelfID)
	require.Equal([]uint8{0}, j1.Peers)
	require.Equal(uint8(1), recvMsg(t, p0).(*wire.PeerJoinedRoom).PeerID)

	p2 := dialRelay(t, addr)
	require.NoError(p2.Send(join()))
	j2 := recvMsg(t, p2).(*wire.RoomJoinedMulti)
	require.Equal(uint8(2), j2.SelfID)
	require.Equal([]uint8{0, 1}, j2.Peers)
	require.Equal(uint8(2), recvMsg(t, p0).(*wire.PeerJoinedRoom).PeerID)
	require.Equal(uint8(2), recvMsg(t, p1).(*wire.PeerJoinedRoom).PeerID)

	// The first joiner fixed the capacity at 3.
	p3 := dialRelay(t, addr)
	require.NoError(p3.Send(join()))
	denied := recvMsg(t, p3).(*wire.HandshakeFailed)
	require.Equal("room is full", denied.Reason)

	// Traffic fans out to everyone else.
	require.NoError(p2.Send(chatText(1, "hello room")))
	require.Equal([]byte("hello room"), recvMsg(t, p0).(*wire.ChatText).Ciphertext)
	require.Equal([]byte("hello room"), recvMsg(t, p1).(*wire.ChatText).Ciphertext)

	// Departures are broadcast, and the seat frees up for a new id.
	p1.Close()
	require.Equal(uint8(1), recvMsg(t, p0).(*wire.PeerLeftRoom).PeerID)
	require.Equal(uint8(1), recvMsg(t, p2).(*wire.PeerLeftRoom).PeerID)

	p4 := dialRelay(t, addr)
	require.NoError(p4.Send(join()))
	j4 := recvMsg(t, p4).(*wire.RoomJoinedMulti)
	require.Equal(uint8(3), j4.SelfID)
	require.Equal([]uint8{0, 2}, j4.Peers)
	require.Equal(uint8(3), recvMsg(t, p0).(*wire.PeerJoinedRoom).PeerID)
	require.Equal(uint8(3), recvMsg(t, p2).(*wire.PeerJoinedRoom).PeerID)
}

func TestRelayRejoinAfterDrop(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, nil)

	phrase := "7-relay-rejoin"

	a := dialRelay(t, addr)
	require.NoError(a.Send(rendezvous.Join(phrase, "")))
	recvMsg(t, a)

	b := dialRelay(t, addr)
	require.NoError(b.Send(rendezvous.Join(phrase, "")))
	recvMsg(t, b)
	require.IsType(&wire.PeerArrived{}, recvMsg(t, a))

	// B drops, then comes back.  The survivor sees a fresh arrival and
	// the returning peer finds the room still occupied.
	b.Close()

	b2 := dialRelay(t, addr)
	require.NoError(b2.Send(rendezvous.Join(phrase, "")))
	joined := recvMsg(t, b2).(*wire.RoomJoined)
	require.True(joined.PeerPresent)
	require.IsType(&wire.PeerArrived{}, recvMsg(t, a))

	require.NoError(b2.Send(chatText(9, "still here")))
	require.Equal([]byte("still here"), recvMsg(t, a).(*wire.ChatText).Ciphertext)
}

func TestRelayRoomLimit(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, func(cfg *config.Config) {
		cfg.Limits = &config.Limits{MaxRooms: 1}
	})

	a := dialRelay(t, addr)
	require.NoError(a.Send(rendezvous.Join("7-first-room", "")))
	require.IsType(&wire.RoomJoined{}, recvMsg(t, a))

	b := dialRelay(t, addr)
	require.NoError(b.Send(rendezvous.Join("7-second-room", "")))
	denied := recvMsg(t, b).(*wire.HandshakeFailed)
	require.Equal("server at room capacity", denied.Reason)

	// Joining the existing room is still fine.
	c := dialRelay(t, addr)
	require.NoError(c.Send(rendezvous.Join("7-first-room", "")))
	joined := recvMsg(t, c).(*wire.RoomJoined)
	require.True(joined.PeerPresent)
}

func TestRelayJoinComesFirst(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, nil)

	// A connection that talks before joining a room is discarded
	// without a reply.
	conn := dialRelay(t, addr)
	require.NoError(conn.Send(chatText(1, "barge in")))
	require.NoError(conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, err := conn.Recv()
	require.Error(err)
}

func TestRelayPingPong(t *testing.T) {
	require := require.New(t)
	_, addr := startRelay(t, nil)

	conn := dialRelay(t, addr)
	require.NoError(conn.Send(rendezvous.Join("7-relay-ping", "")))
	require.IsType(&wire.RoomJoined{}, recvMsg(t, conn))

	require.NoError(conn.Send(&wire.Ping{}))
	require.IsType(&wire.Pong{}, recvMsg(t, conn))
}

func TestRelayShutdown(t *testing.T) {
	require := require.New(t)
	s, addr := startRelay(t, nil)

	conn := dialRelay(t, addr)
	require.NoError(conn.Send(rendezvous.Join("7-relay-shutdown", "")))
	require.IsType(&wire.RoomJoined{}, recvMsg(t, conn))

	doneCh := make(chan interface{})
	go func() {
		s.Wait()
		close(doneCh)
	}()
	s.Shutdown()
	select {
	case <-doneCh:
	case <-time.After(recvTimeout):
		t.Fatal("timed out waiting for shutdown")
	}

	require.NoError(conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, err := conn.Recv()
	require.Error(err)
}
