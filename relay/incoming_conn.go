// incoming_conn.go - Relay incoming connection handler.
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
	"container/list"
	"fmt"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/transport"
	"github.com/taper-io/taper/wire"
)

// connSendQueueSize bounds the per-connection outbound queue.  It is
// comfortably above a full transfer window so a healthy peer never
// trips it.
const connSendQueueSize = 128

var incomingConnID uint64

type incomingConn struct {
	l   *listener
	c   transport.Conn
	e   *list.Element
	id  uint64
	log *logging.Logger

	sendCh            chan wire.Message
	closeConnectionCh chan bool

	// Room membership, guarded by the roomSet lock.
	roomID [crypto.RoomIDSize]byte
	peerID uint8
	multi  bool
	joined bool
}

// Close signals the connection worker to tear the connection down.  It
// never blocks, so it is safe to call from another connection's
// goroutine.
func (c *incomingConn) Close() {
	select {
	case c.closeConnectionCh <- true:
	default:
	}
}

// enqueue queues m for delivery without blocking.  A connection too
// slow to drain its queue is dropped; its session layer treats that
// like any other transport failure.
func (c *incomingConn) enqueue(m wire.Message) {
	select {
	case c.sendCh <- m:
	default:
		c.log.Warningf("Send queue overflow, dropping connection.")
		c.Close()
	}
}

func (c *incomingConn) worker() {
	defer func() {
		c.log.Debugf("Closing.")
		c.c.Close()
		c.l.s.rooms.leave(c)
		c.l.onClosedConn(c)
	}()

	limits := c.l.s.cfg.Limits
	handshakeTimeout := time.Duration(limits.HandshakeTimeout) * time.Millisecond
	idleTimeout := time.Duration(limits.IdleTimeout) * time.Millisecond
	pingInterval := time.Duration(limits.PingInterval) * time.Millisecond

	// The first message picks the room.  A connection that sends
	// anything else, or nothing at all, is discarded.
	if err := c.c.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	m, err := c.c.Recv()
	if err != nil {
		c.log.Debugf("Failed to receive room join: %v", err)
		return
	}
	var reply wire.Message
	switch jm := m.(type) {
	case *wire.RoomJoin:
		if !c.l.s.checkPassword(jm.PasswordHash) {
			reply = &wire.HandshakeFailed{Reason: reasonAuthFailed}
		} else {
			reply = c.l.s.rooms.join(c, jm.RoomID)
		}
	case *wire.RoomJoinMulti:
		if !c.l.s.checkPassword(jm.PasswordHash) {
			reply = &wire.HandshakeFailed{Reason: reasonAuthFailed}
		} else {
			reply = c.l.s.rooms.joinMulti(c, jm.RoomID, jm.Capacity)
		}
	default:
		c.log.Debugf("Peer sent %v before joining a room.", m.Type())
		return
	}

	// The join reply goes out before the writer starts, so it precedes
	// anything a roommate may already have queued for us.
	if err = c.c.Send(reply); err != nil {
		c.log.Debugf("Failed to send room join reply: %v", err)
		return
	}
	if fail, ok := reply.(*wire.HandshakeFailed); ok {
		c.log.Debugf("Join denied: %v", fail.Reason)
		return
	}

	doneCh := make(chan interface{})
	defer close(doneCh)
	go c.writerWorker(doneCh)

	// Start the read worker.  The idle deadline is refreshed before
	// every receive; a peer that answers keepalive pings never hits it.
	msgCh := make(chan wire.Message)
	go func() {
		defer close(msgCh)
		for {
			if err := c.c.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return
			}
			m, err := c.c.Recv()
			if err != nil {
				c.log.Debugf("Failed to receive message: %v", err)
				return
			}
			select {
			case msgCh <- m:
			case <-doneCh:
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.l.closeAllCh:
			return
		case <-c.closeConnectionCh:
			return
		case <-ticker.C:
			c.enqueue(&wire.Ping{})
		case m, ok := <-msgCh:
			if !ok {
				return
			}
			if !c.onMessage(m) {
				return
			}
		}
	}
}

func (c *incomingConn) writerWorker(doneCh <-chan interface{}) {
	for {
		select {
		case <-doneCh:
			return
		case m := <-c.sendCh:
			if err := c.c.Send(m); err != nil {
				c.log.Debugf("Failed to send %v: %v", m.Type(), err)
				c.Close()
				return
			}
		}
	}
}

func (c *incomingConn) onMessage(m wire.Message) bool {
	switch m.(type) {
	case *wire.RoomJoin, *wire.RoomJoinMulti:
		// One room per connection.
		c.log.Debugf("Peer attempted a second room join.")
		return false
	case *wire.Ping:
		c.enqueue(&wire.Pong{})
	case *wire.Pong:
		// Keepalive response, the read deadline did its job.
	default:
		c.l.s.rooms.forward(c, m)
	}
	return true
}

func newIncomingConn(l *listener, conn transport.Conn) *incomingConn {
	c := &incomingConn{
		l:                 l,
		c:                 conn,
		id:                atomic.AddUint64(&incomingConnID, 1), // Diagnostic only, wrapping is fine.
		sendCh:            make(chan wire.Message, connSendQueueSize),
		closeConnectionCh: make(chan bool, 1),
	}
	c.log = l.s.logBackend.GetLogger(fmt.Sprintf("incoming:%d", c.id))

	c.log.Debugf("New incoming connection: %v", conn.RemoteAddr())

	return c
}
