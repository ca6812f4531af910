// transport.go - Relay channel abstraction and dialing.
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

// Package transport carries wire messages over the supported relay
// channels: WebSocket, bare TCP, and QUIC.  Stream channels frame each
// message behind a 4 byte length prefix; WebSocket uses one binary
// frame per message.  Nothing here is security relevant: the relay is
// untrusted by design, and every secret byte that crosses a Conn is
// already sealed by the session layer.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/taper-io/taper/wire"
)

// Conn is a message-oriented channel to the relay.  Send is safe for
// concurrent use; Recv is not, and belongs to a single reader loop.
type Conn interface {
	// Send serializes and writes one message.
	Send(m wire.Message) error

	// Recv blocks until the next message arrives.
	Recv() (wire.Message, error)

	// SetReadDeadline bounds subsequent Recv calls.
	SetReadDeadline(t time.Time) error

	// RemoteAddr names the far end for logging.
	RemoteAddr() net.Addr

	// Close tears the channel down, unblocking any pending Recv.
	Close() error
}

// DialContextFn matches net.Dialer.DialContext and lets callers route
// TCP and WebSocket connections through an upstream proxy.
type DialContextFn func(ctx context.Context, network, address string) (net.Conn, error)

var defaultDialer = net.Dialer{
	KeepAlive: 3 * time.Minute,
	Timeout:   1 * time.Minute,
}

// Dial connects to a relay URL.  Supported schemes are ws, wss, tcp,
// and quic.  A nil dialFn uses the default dialer; QUIC runs over UDP
// and always dials directly, proxy or not.
func Dial(ctx context.Context, rawURL string, dialFn DialContextFn) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid relay URL %q: %v", rawURL, err)
	}
	if dialFn == nil {
		dialFn = defaultDialer.DialContext
	}
	switch u.Scheme {
	case "ws", "wss":
		return dialWebSocket(ctx, u, dialFn)
	case "tcp":
		conn, err := dialFn(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return NewStreamConn(conn), nil
	case "quic":
		return dialQUIC(ctx, u)
	default:
		return nil, fmt.Errorf("transport: unsupported relay URL scheme %q", u.Scheme)
	}
}
