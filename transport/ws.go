// ws.go - WebSocket message channel.
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
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taper-io/taper/wire"
)

// wsConn carries one serialized message per binary frame.  WebSocket
// frames are already length delimited, so the stream prefix is not
// used on this channel.
type wsConn struct {
	sendLock sync.Mutex
	conn     *websocket.Conn
}

// NewWebSocketConn wraps a dialed or upgraded WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn) Conn {
	conn.SetReadLimit(wire.MaxMessageSize)
	return &wsConn{conn: conn}
}

func (w *wsConn) Send(m wire.Message) error {
	blob, err := wire.ToBytes(m)
	if err != nil {
		return err
	}
	w.sendLock.Lock()
	defer w.sendLock.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, blob)
}

func (w *wsConn) Recv() (wire.Message, error) {
	for {
		kind, blob, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Text and control frames are not protocol messages.
		if kind != websocket.BinaryMessage {
			continue
		}
		return wire.FromBytes(blob)
	}
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsConn) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func dialWebSocket(ctx context.Context, u *url.URL, dialFn DialContextFn) (Conn, error) {
	dialer := &websocket.Dialer{
		NetDialContext:   dialFn,
		HandshakeTimeout: 45 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(conn), nil
}
