// connection.go - Client to relay connection.
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

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/taper-io/taper/chat"
	"github.com/taper-io/taper/core/worker"
	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/handshake"
	"github.com/taper-io/taper/rendezvous"
	"github.com/taper-io/taper/transfer"
	"github.com/taper-io/taper/transport"
	"github.com/taper-io/taper/wire"
)

var (
	// ErrNotConnected is the error returned when an operation fails due to
	// the client not currently being connected to the relay.
	ErrNotConnected = errors.New("client/conn: not connected to the relay")

	// ErrShutdown is the error returned when the connection is closed due
	// to a call to Shutdown().
	ErrShutdown = errors.New("shutdown requested")

	// ErrSessionNotReady is the error returned when an operation needs an
	// established session and there is none.
	ErrSessionNotReady = errors.New("client/conn: session not established")

	// ErrTransferBusy is the error returned when a transfer is started
	// while another one is in progress.
	ErrTransferBusy = errors.New("client/conn: a transfer is already in progress")
)

const (
	connectTimeout = 1 * time.Minute

	// Reconnection is attempted only while a transfer is in flight.
	retryInitialDelay = 1 * time.Second
	retryMaxDelay     = 30 * time.Second
	retryMaxAttempts  = 6
)

// ConnectError is the error used to indicate that a connect attempt has
// failed.
type ConnectError struct {
	// Err is the original error that caused the connect attempt to fail.
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("client/conn: connect error: %v", e.Err)
}

func newConnectError(f string, a ...interface{}) error {
	return &ConnectError{Err: fmt.Errorf(f, a...)}
}

// ProtocolError is the error used to indicate that the connection was
// closed due to wire protocol related reasons.
type ProtocolError struct {
	// Err is the original error that triggered connection termination.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client/conn: protocol error: %v", e.Err)
}

func newProtocolError(f string, a ...interface{}) error {
	return &ProtocolError{Err: fmt.Errorf(f, a...)}
}

type opSendFiles struct {
	paths  []string
	doneFn func(error)
}

type opAccept struct {
	id     [crypto.TransferIDSize]byte
	doneFn func(error)
}

type opReject struct {
	id     [crypto.TransferIDSize]byte
	reason string
	doneFn func(error)
}

type opCancel struct {
	id     [crypto.TransferIDSize]byte
	reason string
	doneFn func(error)
}

type opChat struct {
	text   string
	doneFn func(error)
}

type opTyping struct {
	typing bool
	doneFn func(error)
}

// connection owns the relay link and every piece of per session state:
// the handshake engine, the session cipher, the chat counters and the
// transfer machines.  All of it is confined to the connect worker's go
// routine; the public surface funnels through opCh.
type connection struct {
	sync.Mutex
	worker.Worker

	c   *Client
	log *logging.Logger

	opCh chan interface{}

	isConnected bool

	// Everything below is owned by the connect worker.
	phase      Phase
	connJoined bool
	tracker    *rendezvous.Tracker
	engine     *handshake.Engine
	cipher     *crypto.SessionCipher
	chat       *chat.Session
	sender     *transfer.Sender
	source     *transfer.FileSource
	receiver   *transfer.Receiver
}

func newConnection(c *Client) *connection {
	k := new(connection)
	k.c = c
	k.log = c.logBackend.GetLogger("client/conn")
	k.opCh = make(chan interface{})
	k.tracker = rendezvous.NewTracker()
	k.phase = PhaseLanding
	return k
}

func (c *connection) start() {
	c.Go(c.connectWorker)
}

func (c *connection) emit(e Event) {
	select {
	case c.c.eventCh <- e:
	case <-c.HaltCh():
	}
}

func (c *connection) setPhase(p Phase) {
	if c.phase == p {
		return
	}
	c.phase = p
	c.emit(&PhaseEvent{Phase: p})
}

// fail moves the machine to its terminal failure state.
func (c *connection) fail(err error) {
	c.log.Errorf("Session failed: %v", err)
	if c.phase == PhaseFailed {
		return
	}
	c.setPhase(PhaseFailed)
	c.emit(&FailureEvent{Err: err})
}

func (c *connection) onConnStatusChange(err error) {
	c.Lock()
	c.isConnected = err == nil
	c.Unlock()

	if err == nil {
		c.emit(&ConnectionStatusEvent{IsConnected: true})
	} else {
		c.emit(&ConnectionStatusEvent{IsConnected: false, Err: err})
	}
}

func (c *connection) connectWorker() {
	defer func() {
		c.teardownSession()
		c.log.Debugf("Terminating connect worker.")
	}()

	dialCtx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()
	go func() {
		select {
		case <-c.HaltCh():
			cancelFn()
		case <-dialCtx.Done():
		}
	}()

	c.setPhase(PhaseCodeEntry)
	c.setPhase(PhaseConnecting)

	attempts := 0
	delay := retryInitialDelay
	for {
		c.connJoined = false
		err := c.runConn(dialCtx)
		if err == ErrShutdown {
			return
		}
		c.onConnStatusChange(err)
		select {
		case <-c.HaltCh():
			return
		default:
		}
		if c.connJoined {
			attempts = 0
			delay = retryInitialDelay
		}

		switch c.phase {
		case PhaseConnecting:
			// Never got a session; there is nothing to retry into.
			c.fail(err)
			return
		case PhaseTransferring:
		default:
			// An idle session that loses its connection just reports the
			// drop; the caller decides what happens next.
			return
		}

		attempts++
		if attempts > retryMaxAttempts {
			c.fail(fmt.Errorf("client/conn: reconnect attempts exhausted: %v", err))
			return
		}
		c.log.Noticef("Connection lost mid transfer, reconnecting in %v (attempt %d/%d).", delay, attempts, retryMaxAttempts)
		select {
		case <-time.After(delay):
		case <-c.HaltCh():
			return
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

func (c *connection) runConn(dialCtx context.Context) error {
	var dialFn transport.DialContextFn
	if pd := c.c.cfg.UpstreamProxyConfig().ToDialContext("relay"); pd != nil {
		dialFn = transport.DialContextFn(pd)
	}

	ctx, cancel := context.WithTimeout(dialCtx, connectTimeout)
	conn, err := transport.Dial(ctx, c.c.cfg.Relay, dialFn)
	cancel()
	if err != nil {
		select {
		case <-c.HaltCh():
			return ErrShutdown
		default:
		}
		return newConnectError("%v", err)
	}
	defer conn.Close()
	c.log.Debugf("Relay connection established: %v", conn.RemoteAddr())
	c.onConnStatusChange(nil)

	// Join the room before anything else flows.
	var join wire.Message
	if c.c.opts.Multi {
		m, err := rendezvous.JoinMulti(c.c.phrase, c.c.opts.Password, c.c.opts.Capacity)
		if err != nil {
			return err
		}
		join = m
	} else {
		join = rendezvous.Join(c.c.phrase, c.c.opts.Password)
	}
	if err := conn.Send(join); err != nil {
		return newConnectError("join: %v", err)
	}

	return c.session(conn)
}

// session runs the select loop for one live connection.  It returns the
// error that ended the connection.
func (c *connection) session(conn transport.Conn) error {
	recvCh := make(chan interface{})
	recvCloseCh := make(chan interface{})
	defer close(recvCloseCh)
	go func() {
		defer close(recvCh)
		for {
			m, err := conn.Recv()
			if err != nil {
				select {
				case recvCh <- err:
				case <-recvCloseCh:
				}
				return
			}
			select {
			case recvCh <- m:
			case <-recvCloseCh:
				return
			}
		}
	}()

	for {
		pushed, err := c.pumpSender(conn)
		if err != nil {
			return err
		}
		if pushed {
			// Poll without blocking so inbound traffic and caller ops
			// interleave with chunk production.
			select {
			case tmp, ok := <-recvCh:
				if !ok {
					return newProtocolError("receive worker terminated")
				}
				if err := c.onInbound(conn, tmp); err != nil {
					return err
				}
			case op := <-c.opCh:
				c.handleOp(conn, op)
			case <-c.HaltCh():
				return ErrShutdown
			default:
			}
			continue
		}

		select {
		case tmp, ok := <-recvCh:
			if !ok {
				return newProtocolError("receive worker terminated")
			}
			if err := c.onInbound(conn, tmp); err != nil {
				return err
			}
		case op := <-c.opCh:
			c.handleOp(conn, op)
		case <-c.HaltCh():
			return ErrShutdown
		}
	}
}

// pumpSender pushes at most one chunk, or the completion message once
// the window drains.  It reports whether it sent a chunk, so the caller
// knows to keep pumping.
func (c *connection) pumpSender(conn transport.Conn) (bool, error) {
	s := c.sender
	if s == nil || s.State() != transfer.SenderSending {
		return false, nil
	}

	chunk, err := s.Next()
	if err != nil {
		// The source died under us.  The session outlives the transfer.
		id := s.TransferID()
		cancel := &wire.TransferCancel{TransferID: id, Reason: err.Error()}
		if serr := conn.Send(cancel); serr != nil {
			return false, serr
		}
		c.emit(&TransferFailedEvent{TransferID: id, Err: err})
		c.clearSender()
		c.setPhase(PhaseDashboard)
		return false, nil
	}
	if chunk != nil {
		if err := conn.Send(chunk); err != nil {
			return false, err
		}
		return true, nil
	}

	if s.Drained() {
		tc, err := s.Complete()
		if err != nil {
			return false, newProtocolError("transfer completion: %v", err)
		}
		if err := conn.Send(tc); err != nil {
			return false, err
		}
		c.emit(&TransferCompleteEvent{TransferID: s.TransferID()})
		c.clearSender()
		c.setPhase(PhaseComplete)
	}
	return false, nil
}

func (c *connection) onInbound(conn transport.Conn, tmp interface{}) error {
	switch v := tmp.(type) {
	case error:
		return v
	case wire.Message:
		return c.dispatch(conn, v)
	default:
		panic("BUG: invalid value from receive worker")
	}
}

func (c *connection) dispatch(conn transport.Conn, m wire.Message) error {
	if ev, ok := c.tracker.Handle(m); ok {
		return c.onRoomEvent(conn, ev)
	}

	switch m := m.(type) {
	case *wire.HandshakeInit:
		if c.c.role != handshake.RoleReceiver {
			c.log.Warningf("Dropping HandshakeInit: not the responder.")
			return nil
		}
		if c.engine == nil {
			e, err := handshake.New(handshake.RoleReceiver, c.c.phrase, crypto.RoomID(c.c.phrase), crypto.DefaultKEMs())
			if err != nil {
				return err
			}
			c.engine = e
		}
		resp, err := c.engine.HandleInit(m)
		if err != nil {
			return c.handshakeFailed(conn, err)
		}
		return conn.Send(resp)
	case *wire.HandshakeResponse:
		if c.engine == nil || c.c.role != handshake.RoleSender {
			c.log.Warningf("Dropping HandshakeResponse: no handshake in progress.")
			return nil
		}
		kemMsg, err := c.engine.HandleResponse(m)
		if err != nil {
			return c.handshakeFailed(conn, err)
		}
		return conn.Send(kemMsg)
	case *wire.HandshakeKem:
		if c.engine == nil || c.c.role != handshake.RoleReceiver {
			c.log.Warningf("Dropping HandshakeKem: no handshake in progress.")
			return nil
		}
		comp, err := c.engine.HandleKem(m)
		if err != nil {
			return c.handshakeFailed(conn, err)
		}
		if err := conn.Send(comp); err != nil {
			return err
		}
		return c.onEstablished()
	case *wire.HandshakeComplete:
		if c.engine == nil || c.c.role != handshake.RoleSender {
			c.log.Warningf("Dropping HandshakeComplete: no handshake in progress.")
			return nil
		}
		if err := c.engine.HandleComplete(m); err != nil {
			return c.handshakeFailed(conn, err)
		}
		return c.onEstablished()
	case *wire.HandshakeFailed:
		// The tracker already claimed the pre-join variant; this one is
		// the peer aborting.
		c.emit(&HandshakeFailedEvent{Reason: m.Reason})
		c.fail(fmt.Errorf("peer aborted handshake: %s", m.Reason))
		return newProtocolError("peer aborted handshake: %s", m.Reason)
	case *wire.FileOffer:
		return c.onFileOffer(conn, m)
	case *wire.FileAccept:
		if c.sender == nil {
			c.log.Warningf("Dropping FileAccept: no outbound transfer.")
			return nil
		}
		if err := c.sender.HandleAccept(m); err != nil {
			c.log.Warningf("Dropping FileAccept: %v", err)
			return nil
		}
		c.setPhase(PhaseTransferring)
		return nil
	case *wire.FileReject:
		if c.sender == nil {
			c.log.Warningf("Dropping FileReject: no outbound transfer.")
			return nil
		}
		if err := c.sender.HandleReject(m); err != nil {
			c.log.Warningf("Dropping FileReject: %v", err)
			return nil
		}
		c.emit(&TransferRejectedEvent{TransferID: m.TransferID, Reason: m.Reason})
		c.clearSender()
		c.setPhase(PhaseDashboard)
		return nil
	case *wire.Chunk:
		return c.onChunk(conn, m)
	case *wire.Ack:
		if c.sender == nil {
			c.log.Debugf("Dropping Ack: no outbound transfer.")
			return nil
		}
		if err := c.sender.HandleAck(m); err != nil {
			c.log.Warningf("Ignoring bogus Ack: %v", err)
			return nil
		}
		acked, total := c.sender.Progress()
		c.emit(&TransferProgressEvent{TransferID: c.sender.TransferID(), Outbound: true, Done: acked, Total: total})
		return nil
	case *wire.TransferComplete:
		return c.onTransferComplete(m)
	case *wire.TransferCancel:
		return c.onTransferCancel(m)
	case *wire.ChatText:
		return c.onChatText(m)
	case *wire.TypingIndicator:
		c.emit(&TypingEvent{Typing: m.Typing})
		return nil
	case *wire.Ping:
		return conn.Send(&wire.Pong{})
	case *wire.Pong:
		c.log.Debugf("Received Pong.")
		return nil
	default:
		c.log.Warningf("Dropping unexpected message: %v", m.Type())
		return nil
	}
}

func (c *connection) onRoomEvent(conn transport.Conn, ev rendezvous.Event) error {
	switch ev := ev.(type) {
	case *rendezvous.JoinedEvent:
		c.connJoined = true
		c.emit(ev)
		if ev.PeerPresent {
			return c.onPeerPresent(conn)
		}
	case *rendezvous.JoinedMultiEvent:
		c.connJoined = true
		c.emit(ev)
		if len(ev.Peers) > 0 {
			return c.onPeerPresent(conn)
		}
	case *rendezvous.PeerArrivedEvent:
		c.emit(ev)
		return c.onPeerPresent(conn)
	case *rendezvous.PeerJoinedEvent:
		c.emit(ev)
		return c.onPeerPresent(conn)
	case *rendezvous.PeerLeftEvent:
		c.emit(ev)
	case *rendezvous.JoinDeniedEvent:
		c.emit(ev)
		c.fail(fmt.Errorf("relay denied join: %s", ev.Reason))
		return newProtocolError("join denied: %s", ev.Reason)
	case *rendezvous.IgnoredEvent:
		c.log.Debugf("%s", ev)
		c.emit(ev)
	}
	return nil
}

// onPeerPresent fires when the far side shows up: the sender starts the
// handshake, and a mid transfer reconnect replays the unacked window.
func (c *connection) onPeerPresent(conn transport.Conn) error {
	switch {
	case c.phase == PhaseConnecting && c.c.role == handshake.RoleSender && c.engine == nil:
		return c.startHandshake(conn)
	case c.phase == PhaseTransferring && c.sender != nil:
		c.log.Noticef("Peer is back, replaying %d unacked chunks.", len(c.sender.Unacked()))
		return c.replayOutbound(conn)
	}
	return nil
}

func (c *connection) startHandshake(conn transport.Conn) error {
	e, err := handshake.New(handshake.RoleSender, c.c.phrase, crypto.RoomID(c.c.phrase), crypto.DefaultKEMs())
	if err != nil {
		return err
	}
	init, err := e.Start()
	if err != nil {
		return err
	}
	c.engine = e
	c.log.Debugf("Initiating handshake.")
	return conn.Send(init)
}

func (c *connection) replayOutbound(conn transport.Conn) error {
	for _, chunk := range c.sender.Unacked() {
		if err := conn.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) handshakeFailed(conn transport.Conn, err error) error {
	reason := "handshake failed"
	if c.engine != nil && c.engine.FailureReason() != "" {
		reason = c.engine.FailureReason()
	}
	if serr := conn.Send(&wire.HandshakeFailed{Reason: reason}); serr != nil {
		c.log.Debugf("Failed to send handshake abort: %v", serr)
	}
	c.emit(&HandshakeFailedEvent{Reason: reason})
	c.fail(err)
	return newProtocolError("handshake failed: %v", err)
}

func (c *connection) onEstablished() error {
	cipher, err := c.engine.Cipher()
	if err != nil {
		return newProtocolError("session cipher: %v", err)
	}
	cs, err := chat.New(cipher, c.c.role == handshake.RoleSender)
	if err != nil {
		return err
	}
	c.cipher = cipher
	c.chat = cs
	c.engine.Wipe()
	c.engine = nil
	c.log.Noticef("Session established.")
	c.emit(&HandshakeCompletedEvent{})
	c.setPhase(PhaseDashboard)
	return nil
}

func (c *connection) onFileOffer(conn transport.Conn, m *wire.FileOffer) error {
	if c.cipher == nil {
		c.log.Warningf("Dropping FileOffer: no session.")
		return nil
	}
	if c.sender != nil || c.receiver != nil {
		return conn.Send(&wire.FileReject{TransferID: m.TransferID, Reason: "busy"})
	}
	if m.Manifest.TotalSize > c.c.cfg.Transfer.MaxBytes {
		c.log.Noticef("Refusing offer of %d bytes, limit is %d.", m.Manifest.TotalSize, c.c.cfg.Transfer.MaxBytes)
		return conn.Send(&wire.FileReject{TransferID: m.TransferID, Reason: "transfer too large"})
	}

	r, err := transfer.NewReceiver(c.cipher, m, c.c.spool)
	if err != nil {
		reason := "offer refused"
		switch {
		case errors.Is(err, transfer.ErrTooLarge):
			reason = "transfer too large"
		case errors.Is(err, transfer.ErrIDReuse):
			reason = "transfer id reused"
		}
		c.log.Warningf("Refusing offer: %v", err)
		return conn.Send(&wire.FileReject{TransferID: m.TransferID, Reason: reason})
	}

	c.receiver = r
	received, _ := r.Progress()
	c.emit(&FileOfferEvent{
		TransferID: m.TransferID,
		Manifest:   m.Manifest,
		Resuming:   received > 0,
		Warn:       m.Manifest.TotalSize > c.c.cfg.Transfer.WarnBytes,
	})
	return nil
}

func (c *connection) onChunk(conn transport.Conn, m *wire.Chunk) error {
	r := c.receiver
	if r == nil {
		c.log.Debugf("Dropping chunk %d: no inbound transfer.", m.Index)
		return nil
	}
	ack, err := r.HandleChunk(m)
	if err != nil {
		if r.State() == transfer.ReceiverFailed {
			// Tampering, an index gap or a size lie.  Kill the transfer
			// loudly; the session survives.
			id := r.TransferID()
			if serr := conn.Send(&wire.TransferCancel{TransferID: id, Reason: err.Error()}); serr != nil {
				return serr
			}
			c.emit(&TransferFailedEvent{TransferID: id, Err: err})
			c.clearReceiver()
			c.setPhase(PhaseDashboard)
			return nil
		}
		c.log.Warningf("Dropping chunk %d: %v", m.Index, err)
		return nil
	}
	if err := conn.Send(ack); err != nil {
		return err
	}
	received, total := r.Progress()
	c.emit(&TransferProgressEvent{TransferID: r.TransferID(), Done: received, Total: total})
	return nil
}

func (c *connection) onTransferComplete(m *wire.TransferComplete) error {
	r := c.receiver
	if r == nil || r.TransferID() != m.TransferID {
		c.log.Warningf("Dropping TransferComplete: no matching inbound transfer.")
		return nil
	}
	if err := r.HandleComplete(m); err != nil {
		c.emit(&TransferFailedEvent{TransferID: m.TransferID, Err: err})
		c.clearReceiver()
		c.setPhase(PhaseDashboard)
		return nil
	}
	paths, err := r.Extract(c.c.cfg.DownloadDir)
	if err != nil {
		c.emit(&TransferFailedEvent{TransferID: m.TransferID, Err: err})
		c.clearReceiver()
		c.setPhase(PhaseDashboard)
		return nil
	}
	c.emit(&TransferCompleteEvent{TransferID: m.TransferID, Paths: paths})
	c.clearReceiver()
	c.setPhase(PhaseComplete)
	return nil
}

func (c *connection) onTransferCancel(m *wire.TransferCancel) error {
	switch {
	case c.sender != nil && c.sender.TransferID() == m.TransferID:
		if err := c.sender.HandleCancel(m); err != nil {
			c.log.Warningf("Dropping TransferCancel: %v", err)
			return nil
		}
		c.emit(&TransferCancelledEvent{TransferID: m.TransferID, Reason: m.Reason})
		c.clearSender()
		c.setPhase(PhaseDashboard)
	case c.receiver != nil && c.receiver.TransferID() == m.TransferID:
		if err := c.receiver.HandleCancel(m); err != nil {
			c.log.Warningf("Dropping TransferCancel: %v", err)
			return nil
		}
		c.emit(&TransferCancelledEvent{TransferID: m.TransferID, Reason: m.Reason})
		c.clearReceiver()
		c.setPhase(PhaseDashboard)
	default:
		c.log.Warningf("Dropping TransferCancel: no matching transfer.")
	}
	return nil
}

func (c *connection) onChatText(m *wire.ChatText) error {
	if c.chat == nil {
		c.log.Warningf("Dropping ChatText: no session.")
		return nil
	}
	text, err := c.chat.Open(m)
	if err != nil {
		if errors.Is(err, chat.ErrReplayed) || errors.Is(err, chat.ErrDuplicate) {
			c.log.Debugf("Dropping chat message: %v", err)
			return nil
		}
		// Tampered or malformed chat is a session killer.
		c.fail(err)
		return newProtocolError("chat: %v", err)
	}
	c.emit(&ChatMessageEvent{Text: text})
	return nil
}

func (c *connection) handleOp(conn transport.Conn, op interface{}) {
	switch op := op.(type) {
	case *opSendFiles:
		op.doneFn(c.doSendFiles(conn, op.paths))
	case *opAccept:
		op.doneFn(c.doAccept(conn, op.id))
	case *opReject:
		op.doneFn(c.doReject(conn, op.id, op.reason))
	case *opCancel:
		op.doneFn(c.doCancel(conn, op.id, op.reason))
	case *opChat:
		op.doneFn(c.doChat(conn, op.text))
	case *opTyping:
		op.doneFn(c.doTyping(conn, op.typing))
	default:
		panic("BUG: invalid op type")
	}
}

func (c *connection) doSendFiles(conn transport.Conn, paths []string) error {
	if c.cipher == nil || (c.phase != PhaseDashboard && c.phase != PhaseComplete) {
		return ErrSessionNotReady
	}
	if c.sender != nil || c.receiver != nil {
		return ErrTransferBusy
	}

	manifest, src, err := transfer.BuildManifest(paths)
	if err != nil {
		return err
	}
	if manifest.TotalSize > c.c.cfg.Transfer.MaxBytes {
		src.Close()
		return fmt.Errorf("client: transfer of %d bytes above the configured limit %d", manifest.TotalSize, c.c.cfg.Transfer.MaxBytes)
	}
	s, err := transfer.NewSender(c.cipher, manifest, src)
	if err != nil {
		src.Close()
		return err
	}
	offer, err := s.Offer()
	if err != nil {
		src.Close()
		return err
	}
	if err := conn.Send(offer); err != nil {
		src.Close()
		return err
	}
	c.sender = s
	c.source = src
	return nil
}

func (c *connection) doAccept(conn transport.Conn, id [crypto.TransferIDSize]byte) error {
	r := c.receiver
	if r == nil || r.TransferID() != id {
		return fmt.Errorf("client: no pending transfer %x", id[:4])
	}
	acc, err := r.Accept()
	if err != nil {
		return err
	}
	if err := conn.Send(acc); err != nil {
		return err
	}
	c.setPhase(PhaseTransferring)
	return nil
}

func (c *connection) doReject(conn transport.Conn, id [crypto.TransferIDSize]byte, reason string) error {
	r := c.receiver
	if r == nil || r.TransferID() != id {
		return fmt.Errorf("client: no pending transfer %x", id[:4])
	}
	rej, err := r.Reject(reason)
	if err != nil {
		return err
	}
	if err := conn.Send(rej); err != nil {
		return err
	}
	c.clearReceiver()
	return nil
}

func (c *connection) doCancel(conn transport.Conn, id [crypto.TransferIDSize]byte, reason string) error {
	switch {
	case c.sender != nil && c.sender.TransferID() == id:
		m, err := c.sender.Cancel(reason)
		if err != nil {
			return err
		}
		if err := conn.Send(m); err != nil {
			return err
		}
		c.emit(&TransferCancelledEvent{TransferID: id, Reason: reason, Local: true})
		c.clearSender()
		c.setPhase(PhaseDashboard)
		return nil
	case c.receiver != nil && c.receiver.TransferID() == id:
		m, err := c.receiver.Cancel(reason)
		if err != nil {
			return err
		}
		if err := conn.Send(m); err != nil {
			return err
		}
		c.emit(&TransferCancelledEvent{TransferID: id, Reason: reason, Local: true})
		c.clearReceiver()
		c.setPhase(PhaseDashboard)
		return nil
	default:
		return fmt.Errorf("client: no transfer %x", id[:4])
	}
}

func (c *connection) doChat(conn transport.Conn, text string) error {
	if c.chat == nil {
		return ErrSessionNotReady
	}
	m, err := c.chat.Seal(text)
	if err != nil {
		return err
	}
	return conn.Send(m)
}

func (c *connection) doTyping(conn transport.Conn, typing bool) error {
	if c.cipher == nil {
		return ErrSessionNotReady
	}
	return conn.Send(&wire.TypingIndicator{Typing: typing})
}

func (c *connection) clearSender() {
	if c.source != nil {
		c.source.Close()
		c.source = nil
	}
	c.sender = nil
}

func (c *connection) clearReceiver() {
	c.receiver = nil
}

// teardownSession drops every secret the session held.
func (c *connection) teardownSession() {
	if c.engine != nil {
		c.engine.Wipe()
		c.engine = nil
	}
	c.clearSender()
	c.receiver = nil
	c.cipher = nil
	c.chat = nil
}

// doOp posts one op to the connect worker and waits for its outcome.
func (c *connection) doOp(build func(done func(error)) interface{}) error {
	c.Lock()
	connected := c.isConnected
	c.Unlock()
	if !connected {
		return ErrNotConnected
	}

	errCh := make(chan error, 1)
	op := build(func(err error) { errCh <- err })
	select {
	case c.opCh <- op:
	case <-c.HaltCh():
		return ErrShutdown
	}
	select {
	case err := <-errCh:
		return err
	case <-c.HaltCh():
		return ErrShutdown
	}
}

func (c *connection) sendFiles(paths []string) error {
	return c.doOp(func(done func(error)) interface{} {
		return &opSendFiles{paths: paths, doneFn: done}
	})
}

func (c *connection) accept(id [crypto.TransferIDSize]byte) error {
	return c.doOp(func(done func(error)) interface{} {
		return &opAccept{id: id, doneFn: done}
	})
}

func (c *connection) reject(id [crypto.TransferIDSize]byte, reason string) error {
	return c.doOp(func(done func(error)) interface{} {
		return &opReject{id: id, reason: reason, doneFn: done}
	})
}

func (c *connection) cancel(id [crypto.TransferIDSize]byte, reason string) error {
	return c.doOp(func(done func(error)) interface{} {
		return &opCancel{id: id, reason: reason, doneFn: done}
	})
}

func (c *connection) sendChat(text string) error {
	return c.doOp(func(done func(error)) interface{} {
		return &opChat{text: text, doneFn: done}
	})
}

func (c *connection) setTyping(typing bool) error {
	return c.doOp(func(done func(error)) interface{} {
		return &opTyping{typing: typing, doneFn: done}
	})
}
