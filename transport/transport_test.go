// transport_test.go - Tests.
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

package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/wire"
)

func TestStreamConnRoundTrip(t *testing.T) {
	require := require.New(t)

	clientSide, serverSide := net.Pipe()
	client := NewStreamConn(clientSide)
	server := NewStreamConn(serverSide)

	go func() {
		_ = client.Send(&wire.RoomJoined{PeerPresent: true})
		_ = client.Send(&wire.PeerArrived{})
	}()

	m1, err := server.Recv()
	require.NoError(err)
	require.True(m1.(*wire.RoomJoined).PeerPresent)

	m2, err := server.Recv()
	require.NoError(err)
	require.Equal(wire.TypePeerArrived, m2.Type())

	require.NoError(client.Close())
	_, err = server.Recv()
	require.Error(err, "closed pipe must unblock the reader")
}

func TestStreamConnConcurrentSenders(t *testing.T) {
	require := require.New(t)

	clientSide, serverSide := net.Pipe()
	client := NewStreamConn(clientSide)
	server := NewStreamConn(serverSide)

	const perSender = 10
	var wg sync.WaitGroup
	for s := 0; s < 2; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := client.Send(&wire.Ping{}); err != nil {
					return
				}
			}
		}()
	}

	// Interleaved senders must never corrupt framing.
	for i := 0; i < 2*perSender; i++ {
		m, err := server.Recv()
		require.NoError(err)
		require.Equal(wire.TypePing, m.Type())
	}
	wg.Wait()
	client.Close()
	server.Close()
}

func TestStreamConnReadDeadline(t *testing.T) {
	require := require.New(t)

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	server := NewStreamConn(serverSide)
	defer server.Close()

	require.NoError(server.SetReadDeadline(time.Now().Add(25 * time.Millisecond)))
	_, err := server.Recv()
	require.Error(err)
	nerr, ok := err.(net.Error)
	require.True(ok)
	require.True(nerr.Timeout())
}

// pingPongServer accepts one connection, expects a ping, answers with
// a pong.
func pingPongServer(l net.Listener) error {
	raw, err := l.Accept()
	if err != nil {
		return err
	}
	server := NewStreamConn(raw)
	defer server.Close()
	m, err := server.Recv()
	if err != nil {
		return err
	}
	if m.Type() != wire.TypePing {
		return fmt.Errorf("expected ping, got %v", m.Type())
	}
	return server.Send(&wire.Pong{})
}

func TestDialTCP(t *testing.T) {
	require := require.New(t)

	u, err := url.Parse("tcp://127.0.0.1:0")
	require.NoError(err)
	l, err := Listen(u)
	require.NoError(err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		done <- pingPongServer(l)
	}()

	conn, err := Dial(context.Background(), "tcp://"+l.Addr().String(), nil)
	require.NoError(err)
	defer conn.Close()

	require.NoError(conn.Send(&wire.Ping{}))
	m, err := conn.Recv()
	require.NoError(err)
	require.Equal(wire.TypePong, m.Type())
	require.NoError(<-done)
}

func TestDialWebSocket(t *testing.T) {
	require := require.New(t)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// A stray text frame must be skipped by the reader.
		_ = ws.WriteMessage(websocket.TextMessage, []byte("not a protocol message"))
		server := NewWebSocketConn(ws)
		defer server.Close()
		m, err := server.Recv()
		if err != nil || m.Type() != wire.TypeRoomJoin {
			return
		}
		_ = server.Send(&wire.RoomJoined{PeerPresent: false})
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), wsURL, nil)
	require.NoError(err)
	defer conn.Close()

	var room wire.RoomJoin
	require.NoError(conn.Send(&room))
	m, err := conn.Recv()
	require.NoError(err)
	require.Equal(wire.TypeRoomJoined, m.Type())
	require.False(m.(*wire.RoomJoined).PeerPresent)
}

func TestDialQUIC(t *testing.T) {
	require := require.New(t)

	u, err := url.Parse("quic://127.0.0.1:0")
	require.NoError(err)
	l, err := Listen(u)
	require.NoError(err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		done <- pingPongServer(l)
	}()

	conn, err := Dial(context.Background(), "quic://"+l.Addr().String(), nil)
	require.NoError(err)
	defer conn.Close()

	require.NoError(conn.Send(&wire.Ping{}))
	m, err := conn.Recv()
	require.NoError(err)
	require.Equal(wire.TypePong, m.Type())
	require.NoError(<-done)
}

func TestDialUnsupportedScheme(t *testing.T) {
	require := require.New(t)
	_, err := Dial(context.Background(), "gopher://relay.example:70", nil)
	require.Error(err)
	_, err = Dial(context.Background(), "://", nil)
	require.Error(err)
}
