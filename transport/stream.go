// stream.go - Length-prefixed framing over stream connections.
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
	"net"
	"sync"
	"time"

	"github.com/taper-io/taper/wire"
)

// streamConn frames messages over any net.Conn: TCP directly, or a
// QUIC stream through the QuicConn adapter.
type streamConn struct {
	sendLock sync.Mutex
	conn     net.Conn
}

// NewStreamConn wraps a stream connection in message framing.
func NewStreamConn(conn net.Conn) Conn {
	return &streamConn{conn: conn}
}

func (s *streamConn) Send(m wire.Message) error {
	blob, err := wire.ToBytes(m)
	if err != nil {
		return err
	}
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	return wire.WriteFrame(s.conn, blob)
}

func (s *streamConn) Recv() (wire.Message, error) {
	return wire.ReadMessage(s.conn)
}

func (s *streamConn) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *streamConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *streamConn) Close() error {
	return s.conn.Close()
}
