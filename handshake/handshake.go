// handshake.go - Four message KEM+PAKE handshake engine.
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

// Package handshake drives the four message mutual handshake: init and
// response carry the PAKE shares and negotiate the KEM, the third
// message carries the encapsulated secret and the initiator's
// confirmation tag, the fourth the responder's tag.  Both sides derive
// the session key from the KEM and PAKE secrets together, so neither a
// quantum capable observer nor a peer who only guessed the room id can
// complete it.
package handshake

import (
	"fmt"

	"github.com/katzenpost/hpqc/kem"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

// State tracks handshake progress.
type State int

const (
	// StateIdle is the initial state.
	StateIdle State = iota

	// StateInitiated: the initiator has sent its init.
	StateInitiated

	// StateResponseSent: the responder has answered an init.
	StateResponseSent

	// StateResponseReceived: the initiator is processing the response.
	StateResponseReceived

	// StateKemExchanged: the initiator has sent the encapsulated secret.
	StateKemExchanged

	// StateConfirmed: both confirmation tags verified.
	StateConfirmed

	// StateFailed is terminal; FailureReason explains why.
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitiated:
		return "Initiated"
	case StateResponseSent:
		return "ResponseSent"
	case StateResponseReceived:
		return "ResponseReceived"
	case StateKemExchanged:
		return "KemExchanged"
	case StateConfirmed:
		return "Confirmed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role selects which half of the handshake this engine drives.  The
// peer in the transfer's sender role always initiates.
type Role int

const (
	// RoleSender initiates.
	RoleSender Role = iota

	// RoleReceiver responds.
	RoleReceiver
)

// String returns the role label.
func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// AuthenticationError reports that the peer could not be verified: a
// confirmation tag mismatch or a refused code phrase binding.  It is a
// distinct type so callers can tell "wrong phrase or active attacker"
// apart from transport failures and ordinary peer rejections.
type AuthenticationError struct {
	Reason string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return "handshake: authentication failed: " + e.Reason
}

// Engine is one side's handshake state.  It is not safe for concurrent
// use; the orchestrator owns it and feeds it inbound messages one at a
// time.
type Engine struct {
	role  Role
	state State

	kems   []crypto.KEMID
	pake   *crypto.PAKE
	reason string

	// Responder only, alive between HandleInit and HandleKem.
	scheme     kem.Scheme
	privKey    kem.PrivateKey
	pakeShared []byte

	secrets *crypto.Secrets
}

// New builds an engine for one handshake attempt.  The phrase and room
// id seed the PAKE; kems is the local capability list in preference
// order, nil for the defaults.
func New(role Role, phrase string, roomID [crypto.RoomIDSize]byte, kems []crypto.KEMID) (*Engine, error) {
	if len(kems) == 0 {
		kems = crypto.DefaultKEMs()
	}
	pake, err := crypto.NewPAKE(phrase, roomID)
	if err != nil {
		return nil, err
	}
	return &Engine{
		role:  role,
		state: StateIdle,
		kems:  kems,
		pake:  pake,
	}, nil
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// FailureReason returns the reason recorded when the engine failed,
// suitable for a HandshakeFailed message.
func (e *Engine) FailureReason() string {
	return e.reason
}

// Cipher returns the session cipher once the handshake is confirmed.
func (e *Engine) Cipher() (*crypto.SessionCipher, error) {
	if e.state != StateConfirmed {
		return nil, fmt.Errorf("handshake: no session key in state %v", e.state)
	}
	return crypto.NewSessionCipher(&e.secrets.SessionKey)
}

// Wipe discards all handshake secrets.  Safe to call in any state and
// more than once.
func (e *Engine) Wipe() {
	if e.pake != nil {
		e.pake.Wipe()
		e.pake = nil
	}
	crypto.Wipe(e.pakeShared)
	e.pakeShared = nil
	e.privKey = nil
	if e.secrets != nil {
		e.secrets.Wipe()
		e.secrets = nil
	}
}

// fail moves to the terminal failed state, wipes secrets, and returns
// the error for the caller to surface.
func (e *Engine) fail(reason string, err error) error {
	e.state = StateFailed
	e.reason = reason
	e.Wipe()
	if err == nil {
		err = fmt.Errorf("handshake: %s", reason)
	}
	return err
}

// Start produces the opening message.  Sender role only.
func (e *Engine) Start() (*wire.HandshakeInit, error) {
	if e.role != RoleSender {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: %v role cannot initiate", e.role))
	}
	if e.state != StateIdle {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: Start in state %v", e.state))
	}
	nonce, err := crypto.NewHandshakeNonce()
	if err != nil {
		return nil, e.fail("internal error", err)
	}
	e.state = StateInitiated
	return &wire.HandshakeInit{
		ProtocolVersion: wire.ProtocolVersion,
		KEMCapabilities: e.kems,
		PAKEPublic:      e.pake.Share(),
		Nonce:           nonce,
	}, nil
}

// HandleInit processes the opening message and produces the response.
// Receiver role only.
func (e *Engine) HandleInit(m *wire.HandshakeInit) (*wire.HandshakeResponse, error) {
	if e.role != RoleReceiver {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: %v role cannot respond", e.role))
	}
	if e.state != StateIdle {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: HandshakeInit in state %v", e.state))
	}
	if m.ProtocolVersion != wire.ProtocolVersion {
		return nil, e.fail("protocol version mismatch",
			fmt.Errorf("handshake: peer speaks version %d, this build speaks %d", m.ProtocolVersion, wire.ProtocolVersion))
	}

	kemID, scheme, err := crypto.SelectKEM(e.kems, m.KEMCapabilities)
	if err != nil {
		return nil, e.fail("no mutual KEM scheme", err)
	}

	pakeShared, err := e.pake.Finish(m.PAKEPublic)
	if err != nil {
		if err == crypto.ErrPAKEMissing {
			return nil, e.fail("peer did not bind the code phrase", &AuthenticationError{Reason: "missing code phrase binding"})
		}
		return nil, e.fail("malformed code phrase binding", err)
	}

	pubKey, privKey, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, e.fail("internal error", err)
	}
	pubBlob, err := pubKey.MarshalBinary()
	if err != nil {
		return nil, e.fail("internal error", err)
	}
	nonce, err := crypto.NewHandshakeNonce()
	if err != nil {
		return nil, e.fail("internal error", err)
	}

	e.scheme = scheme
	e.privKey = privKey
	e.pakeShared = pakeShared
	e.state = StateResponseSent
	return &wire.HandshakeResponse{
		SelectedKEM:  kemID,
		PAKEPublic:   e.pake.Share(),
		KEMPublicKey: pubBlob,
		Nonce:        nonce,
	}, nil
}

// HandleResponse processes the response, encapsulates, and produces
// the third message carrying the initiator's confirmation tag.  Sender
// role only.
func (e *Engine) HandleResponse(m *wire.HandshakeResponse) (*wire.HandshakeKem, error) {
	if e.role != RoleSender {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: %v role received a response", e.role))
	}
	if e.state != StateInitiated {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: HandshakeResponse in state %v", e.state))
	}
	e.state = StateResponseReceived

	offered := false
	for _, id := range e.kems {
		if id == m.SelectedKEM {
			offered = true
			break
		}
	}
	if !offered {
		return nil, e.fail("peer selected an unoffered KEM scheme",
			fmt.Errorf("handshake: peer selected %v which we did not offer", m.SelectedKEM))
	}
	scheme, err := m.SelectedKEM.Scheme()
	if err != nil {
		return nil, e.fail("unknown KEM scheme", err)
	}

	pakeShared, err := e.pake.Finish(m.PAKEPublic)
	if err != nil {
		if err == crypto.ErrPAKEMissing {
			return nil, e.fail("peer did not bind the code phrase", &AuthenticationError{Reason: "missing code phrase binding"})
		}
		return nil, e.fail("malformed code phrase binding", err)
	}
	defer crypto.Wipe(pakeShared)

	pubKey, err := scheme.UnmarshalBinaryPublicKey(m.KEMPublicKey)
	if err != nil {
		return nil, e.fail("malformed KEM public key", err)
	}
	ciphertext, kemShared, err := scheme.Encapsulate(pubKey)
	if err != nil {
		return nil, e.fail("internal error", err)
	}
	defer crypto.Wipe(kemShared)

	secrets, err := crypto.DeriveSecrets(kemShared, pakeShared)
	if err != nil {
		return nil, e.fail("internal error", err)
	}
	e.secrets = secrets
	e.pake.Wipe()
	e.pake = nil

	e.state = StateKemExchanged
	return &wire.HandshakeKem{
		KEMCiphertext: ciphertext,
		Confirmation:  secrets.SenderTag,
	}, nil
}

// HandleKem processes the encapsulated secret, verifies the
// initiator's tag, and produces the final message.  Receiver role
// only; on success the engine is confirmed.
func (e *Engine) HandleKem(m *wire.HandshakeKem) (*wire.HandshakeComplete, error) {
	if e.role != RoleReceiver {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: %v role received a kem message", e.role))
	}
	if e.state != StateResponseSent {
		return nil, e.fail("protocol violation", fmt.Errorf("handshake: HandshakeKem in state %v", e.state))
	}

	kemShared, err := e.scheme.Decapsulate(e.privKey, m.KEMCiphertext)
	if err != nil {
		return nil, e.fail("malformed KEM ciphertext", err)
	}
	defer crypto.Wipe(kemShared)

	secrets, err := crypto.DeriveSecrets(kemShared, e.pakeShared)
	if err != nil {
		return nil, e.fail("internal error", err)
	}
	crypto.Wipe(e.pakeShared)
	e.pakeShared = nil
	e.privKey = nil
	e.pake.Wipe()
	e.pake = nil

	if !crypto.VerifyConfirmation(secrets.SenderTag, m.Confirmation) {
		secrets.Wipe()
		return nil, e.fail("authentication failed", &AuthenticationError{Reason: "confirmation tag mismatch"})
	}

	e.secrets = secrets
	e.state = StateConfirmed
	return &wire.HandshakeComplete{Confirmation: secrets.ReceiverTag}, nil
}

// HandleComplete verifies the responder's tag.  Sender role only; on
// success the engine is confirmed.
func (e *Engine) HandleComplete(m *wire.HandshakeComplete) error {
	if e.role != RoleSender {
		return e.fail("protocol violation", fmt.Errorf("handshake: %v role received a complete message", e.role))
	}
	if e.state != StateKemExchanged {
		return e.fail("protocol violation", fmt.Errorf("handshake: HandshakeComplete in state %v", e.state))
	}
	if !crypto.VerifyConfirmation(e.secrets.ReceiverTag, m.Confirmation) {
		return e.fail("authentication failed", &AuthenticationError{Reason: "confirmation tag mismatch"})
	}
	e.state = StateConfirmed
	return nil
}
