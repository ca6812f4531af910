// client.go - Taper client library.
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

// Package client provides the session side of taper: it dials the relay,
// runs the rendezvous and the handshake, and drives file transfers and
// chat over the resulting session, reporting everything that happens on
// an event channel.
package client

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/taper-io/taper/client/config"
	"github.com/taper-io/taper/core/codephrase"
	"github.com/taper-io/taper/core/log"
	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/handshake"
	"github.com/taper-io/taper/rendezvous"
	"github.com/taper-io/taper/store"
	"github.com/taper-io/taper/wire"
)

const eventChanSize = 256

// SessionOptions selects the room flavor for a session.
type SessionOptions struct {
	// Multi requests a multi peer room instead of the two peer default.
	Multi bool

	// Capacity is the requested room capacity when Multi is set.
	Capacity uint8

	// Password is the optional room password.  The relay only ever sees
	// a hash of it.
	Password string
}

// Client handles the relay connection and room rendezvous, the
// handshake, and the active session.
type Client struct {
	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	spool   *store.Spool
	eventCh chan Event

	phrase string
	role   handshake.Role
	opts   SessionOptions

	conn *connection

	haltedCh chan interface{}
	haltOnce sync.Once
}

// New constructs a new Client from the provided configuration, which is
// validated in place.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: no configuration provided")
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	c := new(Client)
	c.cfg = cfg
	c.eventCh = make(chan Event, eventChanSize)
	c.haltedCh = make(chan interface{})

	var err error
	c.logBackend, err = log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	c.log = c.logBackend.GetLogger("client")

	if err = os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("client: failed to create data directory: %v", err)
	}
	c.spool, err = store.New(cfg.SpoolFile())
	if err != nil {
		return nil, err
	}

	return c, nil
}

// LogBackend returns the client's logging backend, for use by callers
// that want their logging in the same place.
func (c *Client) LogBackend() *log.Backend {
	return c.logBackend
}

// Events returns the channel the client reports progress on.  It is
// closed on shutdown.
func (c *Client) Events() <-chan Event {
	return c.eventCh
}

// Start begins a session under the given code phrase.  The sender
// initiates the handshake once the peer shows up; the receiver responds.
// Progress is reported via Events.
func (c *Client) Start(phrase string, role handshake.Role, opts *SessionOptions) error {
	if c.conn != nil {
		return errors.New("client: session already started")
	}
	phrase = codephrase.Normalize(phrase)
	if phrase == "" {
		return errors.New("client: empty code phrase")
	}
	if opts == nil {
		opts = &SessionOptions{}
	}
	if opts.Multi {
		// Validate the capacity up front rather than in the worker.
		if _, err := rendezvous.JoinMulti(phrase, opts.Password, opts.Capacity); err != nil {
			return err
		}
	}

	c.phrase = phrase
	c.role = role
	c.opts = *opts

	roomID := crypto.RoomID(phrase)
	c.log.Noticef("Starting session, room %x...", roomID[:8])
	c.conn = newConnection(c)
	c.conn.start()
	return nil
}

// SendFiles offers the given files and directories to the peer and, once
// accepted, streams them.  It returns after the offer is on the wire.
func (c *Client) SendFiles(paths []string) error {
	if c.conn == nil {
		return ErrSessionNotReady
	}
	if len(paths) == 0 {
		return errors.New("client: no paths provided")
	}
	return c.conn.sendFiles(paths)
}

// Accept accepts a pending inbound transfer.
func (c *Client) Accept(id [crypto.TransferIDSize]byte) error {
	if c.conn == nil {
		return ErrSessionNotReady
	}
	return c.conn.accept(id)
}

// Reject declines a pending inbound transfer.
func (c *Client) Reject(id [crypto.TransferIDSize]byte, reason string) error {
	if c.conn == nil {
		return ErrSessionNotReady
	}
	return c.conn.reject(id, reason)
}

// CancelTransfer cancels an in flight transfer in either direction.
func (c *Client) CancelTransfer(id [crypto.TransferIDSize]byte, reason string) error {
	if c.conn == nil {
		return ErrSessionNotReady
	}
	return c.conn.cancel(id, reason)
}

// SendChat sends a chat message to the peer.
func (c *Client) SendChat(text string) error {
	if c.conn == nil {
		return ErrSessionNotReady
	}
	return c.conn.sendChat(text)
}

// SetTyping reports the local typing state to the peer.
func (c *Client) SetTyping(typing bool) error {
	if c.conn == nil {
		return ErrSessionNotReady
	}
	return c.conn.setTyping(typing)
}

// SpoolEntry summarizes one staged inbound transfer.
type SpoolEntry struct {
	// TransferID is the transfer's identifier.
	TransferID []byte

	// Sealed is true once every chunk landed and the transfer is ready
	// for extraction.
	Sealed bool

	// Files is the number of files in the manifest.
	Files int

	// TotalSize is the manifest's total plaintext size in bytes.
	TotalSize uint64

	// StagedChunks and TotalChunks report chunk level progress.
	StagedChunks uint64
	TotalChunks  uint64
}

// SpoolStatus lists the transfers staged in the on disk spool, including
// partial ones left behind by interrupted sessions.
func (c *Client) SpoolStatus() ([]SpoolEntry, error) {
	ids, err := c.spool.Transfers()
	if err != nil {
		return nil, err
	}
	entries := make([]SpoolEntry, 0, len(ids))
	for _, id := range ids {
		blob, err := c.spool.Manifest(id)
		if err != nil {
			return nil, err
		}
		var manifest wire.Manifest
		if err = cbor.Unmarshal(blob, &manifest); err != nil {
			return nil, fmt.Errorf("client: corrupt manifest for %x: %v", id, err)
		}
		state, err := c.spool.State(id)
		if err != nil {
			return nil, err
		}
		staged, err := c.spool.ChunkCount(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, SpoolEntry{
			TransferID:   id,
			Sealed:       state == store.StateSealed,
			Files:        len(manifest.Files),
			TotalSize:    manifest.TotalSize,
			StagedChunks: staged,
			TotalChunks:  manifest.TotalChunks,
		})
	}
	return entries, nil
}

// SpoolDrop removes a staged transfer and its chunks from the spool.
func (c *Client) SpoolDrop(id []byte) error {
	return c.spool.RemoveTransfer(id)
}

// SpoolJournal returns the completion journal: the ids and verified
// content hashes of past inbound transfers.
func (c *Client) SpoolJournal() ([]store.JournalEntry, error) {
	return c.spool.Journal()
}

// Shutdown cleanly shuts down a given Client instance.
func (c *Client) Shutdown() {
	c.haltOnce.Do(func() { c.halt() })
}

// Wait waits till the Client is fully shutdown.
func (c *Client) Wait() {
	<-c.haltedCh
}

func (c *Client) halt() {
	c.log.Noticef("Starting graceful shutdown.")

	if c.conn != nil {
		c.conn.Halt()
	}
	c.spool.Close()

	close(c.eventCh)
	c.log.Noticef("Shutdown complete.")
	close(c.haltedCh)
}
