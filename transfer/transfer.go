// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transfer implements both halves of the chunked file transfer
// protocol: manifest construction, the sending side with its bounded
// acknowledgement window and reconnect retransmission, and the receiving
// side with disk spooled chunks and end to end integrity verification.
//
// Senders and receivers are synchronous state machines.  The caller owns
// the connection, feeds inbound messages in, and puts the returned
// messages on the wire; nothing in this package blocks or spawns
// goroutines.
package transfer

import (
	"errors"
)

const (
	// DefaultWindow is the number of unacknowledged chunks a sender keeps
	// in flight before pausing.  At the maximum chunk size this bounds
	// sender retransmission memory to four megabytes.
	DefaultWindow = 64

	// MaxTransferSize is the hard ceiling on the total plaintext size of
	// one transfer.  Offers above it are refused outright.
	MaxTransferSize = 4 * 1024 * 1024 * 1024

	// WarnTransferSize is the advisory ceiling above which clients are
	// expected to prompt before proceeding.
	WarnTransferSize = 512 * 1024 * 1024
)

var (
	// ErrTooLarge is returned when a manifest's total size exceeds
	// MaxTransferSize.
	ErrTooLarge = errors.New("transfer: total size exceeds the maximum transfer size")

	// ErrIDReuse is returned when an offer arrives bearing the transfer id
	// of a spooled transfer with a different manifest.
	ErrIDReuse = errors.New("transfer: transfer id reuse with a different manifest")
)

// ExceedsSoftLimit reports whether a transfer of total bytes should
// trigger an advisory warning before being offered or accepted.
func ExceedsSoftLimit(total uint64) bool {
	return total > WarnTransferSize
}
