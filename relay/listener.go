// listener.go - Relay listener.
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
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/taper-io/taper/core/worker"
	"github.com/taper-io/taper/transport"
)

const keepAliveInterval = 3 * time.Minute

type listener struct {
	sync.Mutex
	worker.Worker

	s   *Server
	log *logging.Logger

	l        net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	certFile string
	keyFile  string

	conns *list.List

	closeAllCh chan interface{}
	closeAllWg sync.WaitGroup
}

func (l *listener) Halt() {
	// Stop accepting and wait for the accept worker to return.
	if l.httpSrv != nil {
		// This does not touch upgraded WebSocket connections, those
		// are hijacked and get reaped with everything else below.
		l.httpSrv.Close()
	}
	l.l.Close()
	l.Worker.Halt()

	// Close all connections belonging to the listener.
	close(l.closeAllCh)
	l.closeAllWg.Wait()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close() // Usually closed by Halt already.
	}()
	for {
		select {
		case <-l.closeAllCh:
			return
		default:
		}
		conn, err := l.l.Accept()
		if err != nil {
			if e, ok := err.(net.Error); ok && !e.Temporary() {
				l.log.Errorf("Unrecoverable accept failure: %v", err)
				return
			}
			continue
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(keepAliveInterval)
		}

		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		l.onNewConn(transport.NewStreamConn(conn))
	}

	// NOTREACHED
}

func (l *listener) httpWorker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer l.log.Noticef("Stopping listening on: %v", addr)

	var err error
	if l.certFile != "" {
		err = l.httpSrv.ServeTLS(l.l, l.certFile, l.keyFile)
	} else {
		err = l.httpSrv.Serve(l.l)
	}
	if err != nil && err != http.ErrServerClosed {
		l.log.Errorf("Critical HTTP server failure: %v", err)
	}
}

func (l *listener) onHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		w.WriteHeader(http.StatusOK)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Debugf("WebSocket upgrade failed: %v", err)
		return
	}

	l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

	l.onNewConn(transport.NewWebSocketConn(conn))
}

func (l *listener) onNewConn(conn transport.Conn) {
	c := newIncomingConn(l, conn)

	l.closeAllWg.Add(1)
	l.Lock()
	defer func() {
		l.Unlock()
		go c.worker()
	}()
	c.e = l.conns.PushFront(c)
	activeConnections.Inc()
}

func (l *listener) onClosedConn(c *incomingConn) {
	l.Lock()
	defer func() {
		l.Unlock()
		l.closeAllWg.Done()
	}()
	l.conns.Remove(c.e)
	activeConnections.Dec()
}

// newListener creates a new listener bound to the provided address URL.
func newListener(s *Server, id int, addr string) (*listener, error) {
	l := &listener{
		s:          s,
		log:        s.logBackend.GetLogger(fmt.Sprintf("listener:%d", id)),
		conns:      list.New(),
		closeAllCh: make(chan interface{}),
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("relay: listener address '%v' is invalid: %v", addr, err)
	}
	switch u.Scheme {
	case "tcp", "quic":
		l.l, err = transport.Listen(u)
		if err != nil {
			return nil, err
		}
		l.Go(l.worker)
	case "ws", "wss":
		l.l, err = net.Listen("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "wss" {
			l.certFile = s.cfg.Relay.CertFile
			l.keyFile = s.cfg.Relay.KeyFile
		}
		l.upgrader = websocket.Upgrader{
			// Security comes from the end to end encryption, not from
			// origin checks, and the browser client may be served from
			// anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		}
		l.httpSrv = &http.Server{
			Handler:  http.HandlerFunc(l.onHTTP),
			ErrorLog: s.logBackend.GetGoLogger(fmt.Sprintf("listener:%d_http", id), "debug"),
		}
		l.Go(l.httpWorker)
	default:
		return nil, fmt.Errorf("relay: unsupported listener scheme '%v'", u.Scheme)
	}
	return l, nil
}
