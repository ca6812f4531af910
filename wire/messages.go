// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire defines the protocol message set: a closed tagged union
// carried as a one byte type identifier followed by a CBOR body.  The
// relay parses only the identifier; everything beyond room management
// is routed opaquely between peers.
package wire

import (
	"fmt"
	"path"

	"github.com/taper-io/taper/crypto"
)

// ProtocolVersion is carried by HandshakeInit.  Peers refuse to
// handshake across versions.
const ProtocolVersion = 1

// Type is the wire type identifier of a message.
type Type byte

const (
	// Room management, exchanged with the relay.
	TypeRoomJoin        Type = 0x01
	TypeRoomJoinMulti   Type = 0x02
	TypeRoomJoined      Type = 0x03
	TypeRoomJoinedMulti Type = 0x04
	TypePeerArrived     Type = 0x05
	TypePeerJoinedRoom  Type = 0x06
	TypePeerLeftRoom    Type = 0x07

	// Handshake, relayed peer to peer.
	TypeHandshakeInit     Type = 0x10
	TypeHandshakeResponse Type = 0x11
	TypeHandshakeKem      Type = 0x12
	TypeHandshakeComplete Type = 0x13
	TypeHandshakeFailed   Type = 0x14

	// Transfer.
	TypeFileOffer        Type = 0x20
	TypeFileAccept       Type = 0x21
	TypeFileReject       Type = 0x22
	TypeChunk            Type = 0x23
	TypeAck              Type = 0x24
	TypeTransferComplete Type = 0x25
	TypeTransferCancel   Type = 0x26

	// Chat.
	TypeChatText        Type = 0x30
	TypeTypingIndicator Type = 0x31

	// Liveness.
	TypePing Type = 0x40
	TypePong Type = 0x41
)

// String returns a short name for logging.
func (t Type) String() string {
	switch t {
	case TypeRoomJoin:
		return "RoomJoin"
	case TypeRoomJoinMulti:
		return "RoomJoinMulti"
	case TypeRoomJoined:
		return "RoomJoined"
	case TypeRoomJoinedMulti:
		return "RoomJoinedMulti"
	case TypePeerArrived:
		return "PeerArrived"
	case TypePeerJoinedRoom:
		return "PeerJoinedRoom"
	case TypePeerLeftRoom:
		return "PeerLeftRoom"
	case TypeHandshakeInit:
		return "HandshakeInit"
	case TypeHandshakeResponse:
		return "HandshakeResponse"
	case TypeHandshakeKem:
		return "HandshakeKem"
	case TypeHandshakeComplete:
		return "HandshakeComplete"
	case TypeHandshakeFailed:
		return "HandshakeFailed"
	case TypeFileOffer:
		return "FileOffer"
	case TypeFileAccept:
		return "FileAccept"
	case TypeFileReject:
		return "FileReject"
	case TypeChunk:
		return "Chunk"
	case TypeAck:
		return "Ack"
	case TypeTransferComplete:
		return "TransferComplete"
	case TypeTransferCancel:
		return "TransferCancel"
	case TypeChatText:
		return "ChatText"
	case TypeTypingIndicator:
		return "TypingIndicator"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	default:
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
}

// Message is the common interface implemented by every wire message.
type Message interface {
	// Type returns the wire type identifier.
	Type() Type
}

// RoomJoin requests membership in a fixed two peer room.  The relay
// sees only the room id, never the phrase it was derived from.
type RoomJoin struct {
	RoomID       [crypto.RoomIDSize]byte `cbor:"room_id"`
	PasswordHash []byte                  `cbor:"password_hash,omitempty"`
}

// Type returns the wire type identifier.
func (m *RoomJoin) Type() Type { return TypeRoomJoin }

const (
	// MinRoomCapacity is the smallest multi peer room a relay will open.
	MinRoomCapacity = 2

	// MaxRoomCapacity is the largest multi peer room a relay will open.
	MaxRoomCapacity = 16
)

// RoomJoinMulti requests membership in a multi peer room with a
// requested capacity.
type RoomJoinMulti struct {
	RoomID       [crypto.RoomIDSize]byte `cbor:"room_id"`
	PasswordHash []byte                  `cbor:"password_hash,omitempty"`
	Capacity     uint8                   `cbor:"capacity"`
}

// Type returns the wire type identifier.
func (m *RoomJoinMulti) Type() Type { return TypeRoomJoinMulti }

// RoomJoined confirms a two peer room join.  PeerPresent reports
// whether the other side is already waiting.
type RoomJoined struct {
	PeerPresent bool `cbor:"peer_present"`
}

// Type returns the wire type identifier.
func (m *RoomJoined) Type() Type { return TypeRoomJoined }

// RoomJoinedMulti confirms a multi peer room join, assigning the
// joiner its peer id and listing the occupants already present.
type RoomJoinedMulti struct {
	SelfID uint8   `cbor:"self_id"`
	Peers  []uint8 `cbor:"peers"`
}

// Type returns the wire type identifier.
func (m *RoomJoinedMulti) Type() Type { return TypeRoomJoinedMulti }

// PeerArrived announces the second occupant of a two peer room to the
// first.
type PeerArrived struct{}

// Type returns the wire type identifier.
func (m *PeerArrived) Type() Type { return TypePeerArrived }

// PeerJoinedRoom announces a new occupant of a multi peer room.
type PeerJoinedRoom struct {
	PeerID uint8 `cbor:"peer_id"`
}

// Type returns the wire type identifier.
func (m *PeerJoinedRoom) Type() Type { return TypePeerJoinedRoom }

// PeerLeftRoom announces a departure from a multi peer room.
type PeerLeftRoom struct {
	PeerID uint8 `cbor:"peer_id"`
}

// Type returns the wire type identifier.
func (m *PeerLeftRoom) Type() Type { return TypePeerLeftRoom }

// HandshakeInit opens the handshake.  The sender role always
// initiates.  The message deliberately carries no KEM public key: the
// initiator encapsulates later, against the responder's key, so the
// two public values on the wire before any secret is derived are the
// PAKE shares alone.
type HandshakeInit struct {
	ProtocolVersion uint8                           `cbor:"protocol_version"`
	KEMCapabilities []crypto.KEMID                  `cbor:"kem_capabilities"`
	PAKEPublic      []byte                          `cbor:"pake_public"`
	Nonce           [crypto.HandshakeNonceSize]byte `cbor:"nonce"`
}

// Type returns the wire type identifier.
func (m *HandshakeInit) Type() Type { return TypeHandshakeInit }

// HandshakeResponse answers an init with the selected scheme and the
// responder's ephemeral KEM public key.
type HandshakeResponse struct {
	SelectedKEM  crypto.KEMID                    `cbor:"selected_kem"`
	PAKEPublic   []byte                          `cbor:"pake_public"`
	KEMPublicKey []byte                          `cbor:"kem_public_key"`
	Nonce        [crypto.HandshakeNonceSize]byte `cbor:"nonce"`
}

// Type returns the wire type identifier.
func (m *HandshakeResponse) Type() Type { return TypeHandshakeResponse }

// HandshakeKem carries the encapsulated secret and the initiator's
// confirmation tag.
type HandshakeKem struct {
	KEMCiphertext []byte                        `cbor:"kem_ciphertext"`
	Confirmation  [crypto.ConfirmationSize]byte `cbor:"confirmation"`
}

// Type returns the wire type identifier.
func (m *HandshakeKem) Type() Type { return TypeHandshakeKem }

// HandshakeComplete carries the responder's confirmation tag.
type HandshakeComplete struct {
	Confirmation [crypto.ConfirmationSize]byte `cbor:"confirmation"`
}

// Type returns the wire type identifier.
func (m *HandshakeComplete) Type() Type { return TypeHandshakeComplete }

// HandshakeFailed aborts the handshake with a human readable reason.
// The relay also uses it to refuse a join outright.
type HandshakeFailed struct {
	Reason string `cbor:"reason"`
}

// Type returns the wire type identifier.
func (m *HandshakeFailed) Type() Type { return TypeHandshakeFailed }

// FileEntry describes one file within a manifest.  Names use forward
// slashes and are relative; Validate rejects anything else.
type FileEntry struct {
	Name       string `cbor:"name"`
	Size       uint64 `cbor:"size"`
	ChunkCount uint64 `cbor:"chunk_count"`
}

// Manifest declares the full contents of a transfer before any chunk
// flows.  Chunk indices are global across all files in declaration
// order, and the manifest is immutable once offered.
type Manifest struct {
	Files       []FileEntry `cbor:"files"`
	TotalSize   uint64      `cbor:"total_size"`
	TotalChunks uint64      `cbor:"total_chunks"`
	ChunkSize   uint32      `cbor:"chunk_size"`
}

// Validate checks internal consistency: the chunk arithmetic must hold
// for every file and for the totals, and names must be clean relative
// paths.  Policy decisions such as size ceilings live with the
// receiver, not here.
func (m *Manifest) Validate() error {
	if len(m.Files) == 0 {
		return fmt.Errorf("wire: manifest declares no files")
	}
	if m.ChunkSize == 0 || m.ChunkSize > crypto.ChunkSize {
		return fmt.Errorf("wire: manifest chunk size %d outside (0, %d]", m.ChunkSize, crypto.ChunkSize)
	}
	var totalSize, totalChunks uint64
	for i, f := range m.Files {
		if err := validateEntryName(f.Name); err != nil {
			return fmt.Errorf("wire: manifest file %d: %v", i, err)
		}
		want := chunksFor(f.Size, uint64(m.ChunkSize))
		if f.ChunkCount != want {
			return fmt.Errorf("wire: manifest file %q declares %d chunks, %d bytes need %d", f.Name, f.ChunkCount, f.Size, want)
		}
		totalSize += f.Size
		totalChunks += f.ChunkCount
	}
	if m.TotalSize != totalSize {
		return fmt.Errorf("wire: manifest total size %d, files sum to %d", m.TotalSize, totalSize)
	}
	if m.TotalChunks != totalChunks {
		return fmt.Errorf("wire: manifest total chunks %d, files sum to %d", m.TotalChunks, totalChunks)
	}
	return nil
}

func validateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if path.IsAbs(name) {
		return fmt.Errorf("absolute name %q", name)
	}
	clean := path.Clean(name)
	if clean != name || clean == ".." || len(clean) >= 3 && clean[:3] == "../" {
		return fmt.Errorf("unclean name %q", name)
	}
	return nil
}

func chunksFor(size, chunkSize uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// FileOffer proposes a transfer.  No chunk may be sent before the
// matching accept is observed.
type FileOffer struct {
	TransferID [crypto.TransferIDSize]byte `cbor:"transfer_id"`
	Manifest   Manifest                    `cbor:"manifest"`
}

// Type returns the wire type identifier.
func (m *FileOffer) Type() Type { return TypeFileOffer }

// FileAccept accepts an offered transfer.
type FileAccept struct {
	TransferID [crypto.TransferIDSize]byte `cbor:"transfer_id"`
}

// Type returns the wire type identifier.
func (m *FileAccept) Type() Type { return TypeFileAccept }

// FileReject declines an offered transfer.
type FileReject struct {
	TransferID [crypto.TransferIDSize]byte `cbor:"transfer_id"`
	Reason     string                      `cbor:"reason"`
}

// Type returns the wire type identifier.
func (m *FileReject) Type() Type { return TypeFileReject }

// Chunk carries one encrypted file chunk.  Total is set on the final
// chunk of the transfer and absent on all others.
type Chunk struct {
	TransferID [crypto.TransferIDSize]byte `cbor:"transfer_id"`
	Index      uint64                      `cbor:"index"`
	Total      *uint64                     `cbor:"total,omitempty"`
	Ciphertext []byte                      `cbor:"ciphertext"`
}

// Type returns the wire type identifier.
func (m *Chunk) Type() Type { return TypeChunk }

// Ack acknowledges receipt of one chunk.  Acks drive both progress
// reporting and the sender's flow control window.
type Ack struct {
	TransferID [crypto.TransferIDSize]byte `cbor:"transfer_id"`
	Index      uint64                      `cbor:"index"`
}

// Type returns the wire type identifier.
func (m *Ack) Type() Type { return TypeAck }

// TransferComplete closes a transfer with the hash of the full
// plaintext content.  The optional chunk tree root allows per chunk
// verification.
type TransferComplete struct {
	TransferID [crypto.TransferIDSize]byte   `cbor:"transfer_id"`
	Hash       [crypto.ContentHashSize]byte  `cbor:"hash"`
	MerkleRoot *[crypto.ContentHashSize]byte `cbor:"merkle_root,omitempty"`
}

// Type returns the wire type identifier.
func (m *TransferComplete) Type() Type { return TypeTransferComplete }

// TransferCancel aborts an in-flight transfer from either side.
type TransferCancel struct {
	TransferID [crypto.TransferIDSize]byte `cbor:"transfer_id"`
	Reason     string                      `cbor:"reason"`
}

// Type returns the wire type identifier.
func (m *TransferCancel) Type() Type { return TypeTransferCancel }

// ChatText carries one encrypted chat message.  The nonce rides along
// explicitly; a conforming sender builds it from Sequence, and the
// receiver cross-checks the two before decrypting.
type ChatText struct {
	MessageID  [crypto.MessageIDSize]byte `cbor:"message_id"`
	Sequence   uint64                     `cbor:"sequence"`
	Ciphertext []byte                     `cbor:"ciphertext"`
	Nonce      []byte                     `cbor:"nonce"`
}

// Type returns the wire type identifier.
func (m *ChatText) Type() Type { return TypeChatText }

// TypingIndicator signals typing activity.  It is deliberately sent in
// the clear.
type TypingIndicator struct {
	Typing bool `cbor:"typing"`
}

// Type returns the wire type identifier.
func (m *TypingIndicator) Type() Type { return TypeTypingIndicator }

// Ping is the liveness probe.
type Ping struct{}

// Type returns the wire type identifier.
func (m *Ping) Type() Type { return TypePing }

// Pong answers a ping.
type Pong struct{}

// Type returns the wire type identifier.
func (m *Pong) Type() Type { return TypePong }

// Unrecognized preserves a message whose type identifier this build
// does not know.  Decoding one is never an error; dispatchers log and
// skip it, which is what lets older peers coexist with newer ones.
type Unrecognized struct {
	ID      Type
	Payload []byte
}

// Type returns the wire type identifier.
func (m *Unrecognized) Type() Type { return m.ID }
