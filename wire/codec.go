// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

const (
	// MaxMessageSize bounds one serialized message, type byte included.
	// It leaves generous headroom over the largest legitimate message,
	// an encrypted chunk, while keeping a hostile length prefix from
	// driving allocation.
	MaxMessageSize = 1024 * 1024

	framePrefixLen = 4
)

// ErrMessageTooLarge is returned for messages exceeding MaxMessageSize
// in either direction.
var ErrMessageTooLarge = errors.New("wire: message exceeds maximum size")

// ToBytes serializes a message: the type identifier byte followed by
// the CBOR body.  An Unrecognized value round-trips byte for byte, so a
// relay can pass messages it does not understand through unaltered.
func ToBytes(m Message) ([]byte, error) {
	if u, ok := m.(*Unrecognized); ok {
		out := make([]byte, 0, 1+len(u.Payload))
		out = append(out, byte(u.ID))
		out = append(out, u.Payload...)
		if len(out) > MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		return out, nil
	}
	body, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %v: %v", m.Type(), err)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(m.Type()))
	out = append(out, body...)
	if len(out) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return out, nil
}

// FromBytes deserializes one message.  An unknown type identifier
// yields an Unrecognized value rather than an error, so new message
// types degrade gracefully on old peers; a known identifier with a
// malformed body is an error.
func FromBytes(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, errors.New("wire: empty message")
	}
	if len(b) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	id := Type(b[0])
	body := b[1:]

	var m Message
	switch id {
	case TypeRoomJoin:
		m = new(RoomJoin)
	case TypeRoomJoinMulti:
		m = new(RoomJoinMulti)
	case TypeRoomJoined:
		m = new(RoomJoined)
	case TypeRoomJoinedMulti:
		m = new(RoomJoinedMulti)
	case TypePeerArrived:
		m = new(PeerArrived)
	case TypePeerJoinedRoom:
		m = new(PeerJoinedRoom)
	case TypePeerLeftRoom:
		m = new(PeerLeftRoom)
	case TypeHandshakeInit:
		m = new(HandshakeInit)
	case TypeHandshakeResponse:
		m = new(HandshakeResponse)
	case TypeHandshakeKem:
		m = new(HandshakeKem)
	case TypeHandshakeComplete:
		m = new(HandshakeComplete)
	case TypeHandshakeFailed:
		m = new(HandshakeFailed)
	case TypeFileOffer:
		m = new(FileOffer)
	case TypeFileAccept:
		m = new(FileAccept)
	case TypeFileReject:
		m = new(FileReject)
	case TypeChunk:
		m = new(Chunk)
	case TypeAck:
		m = new(Ack)
	case TypeTransferComplete:
		m = new(TransferComplete)
	case TypeTransferCancel:
		m = new(TransferCancel)
	case TypeChatText:
		m = new(ChatText)
	case TypeTypingIndicator:
		m = new(TypingIndicator)
	case TypePing:
		m = new(Ping)
	case TypePong:
		m = new(Pong)
	default:
		payload := make([]byte, len(body))
		copy(payload, body)
		return &Unrecognized{ID: id, Payload: payload}, nil
	}

	// Empty-body messages may arrive with a zero length body instead of
	// an empty CBOR map.
	if len(body) == 0 {
		return m, nil
	}
	if err := cbor.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("wire: malformed %v: %v", id, err)
	}
	return m, nil
}

// WriteFrame writes one message blob to w behind a 4 byte big endian
// length prefix.  The prefix and blob go out in a single Write so
// concurrent framed writers on the same connection cannot interleave
// partial frames.
func WriteFrame(w io.Writer, blob []byte) error {
	if len(blob) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	toSend := make([]byte, framePrefixLen, framePrefixLen+len(blob))
	binary.BigEndian.PutUint32(toSend, uint32(len(blob)))
	toSend = append(toSend, blob...)
	count, err := w.Write(toSend)
	if err != nil {
		return err
	}
	if count != len(toSend) {
		return fmt.Errorf("wire: short write: %d != %d", count, len(toSend))
	}
	return nil
}

// ReadFrame reads one length-prefixed message blob from r, enforcing
// the size bound before allocating.
func ReadFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, framePrefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	blob := make([]byte, n)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// WriteMessage serializes and frames m onto w.
func WriteMessage(w io.Writer, m Message) error {
	blob, err := ToBytes(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, blob)
}

// ReadMessage reads and deserializes one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	blob, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return FromBytes(blob)
}
