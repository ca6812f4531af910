// codec_test.go - Tests.
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

package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
)

// everyMessage returns one populated instance of each member of the
// union, which keeps the dispatch table in FromBytes honest.
func everyMessage() []Message {
	roomID := crypto.RoomID("7-guitar-castle")
	var tid [crypto.TransferIDSize]byte
	copy(tid[:], "transfer-id-16by")
	var mid [crypto.MessageIDSize]byte
	copy(mid[:], "message-id-16byt")
	var nonce [crypto.HandshakeNonceSize]byte
	copy(nonce[:], "fresh-nonce-16by")
	var tag [crypto.ConfirmationSize]byte
	copy(tag[:], "confirmation-tag-32-bytes-wide..")
	var hash [crypto.ContentHashSize]byte
	copy(hash[:], "content-hash-32-bytes-wide......")
	total := uint64(3)

	return []Message{
		&RoomJoin{RoomID: roomID, PasswordHash: []byte("pwhash")},
		&RoomJoinMulti{RoomID: roomID, Capacity: 4},
		&RoomJoined{PeerPresent: true},
		&RoomJoinedMulti{SelfID: 2, Peers: []uint8{0, 1}},
		&PeerArrived{},
		&PeerJoinedRoom{PeerID: 3},
		&PeerLeftRoom{PeerID: 3},
		&HandshakeInit{
			ProtocolVersion: 1,
			KEMCapabilities: crypto.DefaultKEMs(),
			PAKEPublic:      bytes.Repeat([]byte{0x11}, crypto.PAKEShareSize),
			Nonce:           nonce,
		},
		&HandshakeResponse{
			SelectedKEM:  crypto.KEMMLKEM768X25519,
			PAKEPublic:   bytes.Repeat([]byte{0x22}, crypto.PAKEShareSize),
			KEMPublicKey: []byte("kem public key bytes"),
			Nonce:        nonce,
		},
		&HandshakeKem{KEMCiphertext: []byte("kem ciphertext bytes"), Confirmation: tag},
		&HandshakeComplete{Confirmation: tag},
		&HandshakeFailed{Reason: "authentication failed"},
		&FileOffer{TransferID: tid, Manifest: *validManifest()},
		&FileAccept{TransferID: tid},
		&FileReject{TransferID: tid, Reason: "too large"},
		&Chunk{TransferID: tid, Index: 2, Total: &total, Ciphertext: []byte("sealed chunk")},
		&Ack{TransferID: tid, Index: 2},
		&TransferComplete{TransferID: tid, Hash: hash, MerkleRoot: &hash},
		&TransferCancel{TransferID: tid, Reason: "user aborted"},
		&ChatText{MessageID: mid, Sequence: 4, Ciphertext: []byte("sealed chat"), Nonce: crypto.ChatNonce(4)},
		&TypingIndicator{Typing: true},
		&Ping{},
		&Pong{},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, msg := range everyMessage() {
		blob, err := ToBytes(msg)
		require.NoError(err, msg.Type().String())
		require.Equal(byte(msg.Type()), blob[0])

		decoded, err := FromBytes(blob)
		require.NoError(err, msg.Type().String())
		require.Equal(msg.Type(), decoded.Type())
		require.Equal(msg, decoded, msg.Type().String())
	}
}

func TestChunkTotalOnlyOnFinal(t *testing.T) {
	require := require.New(t)

	var tid [crypto.TransferIDSize]byte
	mid := &Chunk{TransferID: tid, Index: 1, Ciphertext: []byte("x")}
	blob, err := ToBytes(mid)
	require.NoError(err)
	decoded, err := FromBytes(blob)
	require.NoError(err)
	require.Nil(decoded.(*Chunk).Total)

	total := uint64(3)
	last := &Chunk{TransferID: tid, Index: 2, Total: &total, Ciphertext: []byte("x")}
	blob, err = ToBytes(last)
	require.NoError(err)
	decoded, err = FromBytes(blob)
	require.NoError(err)
	require.NotNil(decoded.(*Chunk).Total)
	require.Equal(uint64(3), *decoded.(*Chunk).Total)
}

func TestUnknownTypePreserved(t *testing.T) {
	require := require.New(t)

	// A future message type must decode into Unrecognized, never fail.
	blob := append([]byte{0x7f}, []byte("future message body")...)
	decoded, err := FromBytes(blob)
	require.NoError(err)
	u, ok := decoded.(*Unrecognized)
	require.True(ok)
	require.Equal(Type(0x7f), u.ID)
	require.Equal([]byte("future message body"), u.Payload)

	// And re-encoding reproduces the original bytes, so a relay that
	// decodes and forwards alters nothing.
	reblob, err := ToBytes(u)
	require.NoError(err)
	require.Equal(blob, reblob)
}

func TestMalformedBody(t *testing.T) {
	require := require.New(t)

	_, err := FromBytes(nil)
	require.Error(err)

	// A known type with a garbage body is an error, not an
	// Unrecognized.
	blob := append([]byte{byte(TypeFileOffer)}, 0xff, 0xff, 0xff)
	_, err = FromBytes(blob)
	require.Error(err)
}

func TestMessageSizeBound(t *testing.T) {
	require := require.New(t)

	var tid [crypto.TransferIDSize]byte
	huge := &Chunk{TransferID: tid, Ciphertext: make([]byte, MaxMessageSize)}
	_, err := ToBytes(huge)
	require.ErrorIs(err, ErrMessageTooLarge)

	// The largest legitimate message fits with room to spare.
	sized := &Chunk{TransferID: tid, Ciphertext: make([]byte, crypto.ChunkSize+crypto.AEADOverhead)}
	blob, err := ToBytes(sized)
	require.NoError(err)
	require.Less(len(blob), MaxMessageSize)
}

func TestFraming(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(WriteMessage(&buf, &Ping{}))
	require.NoError(WriteMessage(&buf, &RoomJoined{PeerPresent: true}))
	require.NoError(WriteMessage(&buf, &PeerArrived{}))

	m1, err := ReadMessage(&buf)
	require.NoError(err)
	require.Equal(TypePing, m1.Type())
	m2, err := ReadMessage(&buf)
	require.NoError(err)
	require.True(m2.(*RoomJoined).PeerPresent)
	m3, err := ReadMessage(&buf)
	require.NoError(err)
	require.Equal(TypePeerArrived, m3.Type())

	_, err = ReadMessage(&buf)
	require.Error(err, "drained stream must not yield messages")
}

func TestFramingHostileLength(t *testing.T) {
	require := require.New(t)

	// A length prefix past the bound fails before any allocation.
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, 0xffffffff)
	_, err := ReadFrame(bytes.NewReader(prefix))
	require.ErrorIs(err, ErrMessageTooLarge)

	// A truncated frame is an io error.
	var buf bytes.Buffer
	require.NoError(WriteMessage(&buf, &HandshakeFailed{Reason: "x"}))
	trunc := buf.Bytes()[:buf.Len()-2]
	_, err = ReadMessage(bytes.NewReader(trunc))
	require.Error(err)
}
