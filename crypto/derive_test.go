// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveSecrets(t *testing.T) {
	require := require.New(t)

	kemShared := bytes.Repeat([]byte{0x01}, SessionKeySize)
	pakeShared := bytes.Repeat([]byte{0x02}, PAKESharedSize)

	s1, err := DeriveSecrets(kemShared, pakeShared)
	require.NoError(err)
	s2, err := DeriveSecrets(kemShared, pakeShared)
	require.NoError(err)

	// The schedule is deterministic in its inputs.
	require.Equal(s1.SessionKey, s2.SessionKey)
	require.Equal(s1.SenderTag, s2.SenderTag)
	require.Equal(s1.ReceiverTag, s2.ReceiverTag)

	// Role separation: the two tags never coincide, and neither leaks
	// the session key.
	require.NotEqual(s1.SenderTag, s1.ReceiverTag)
	require.NotEqual(s1.SessionKey[:], s1.SenderTag[:])
	require.NotEqual(s1.SessionKey[:], s1.ReceiverTag[:])
}

func TestDeriveSecretsBindsBothInputs(t *testing.T) {
	require := require.New(t)

	kemShared := bytes.Repeat([]byte{0x01}, SessionKeySize)
	pakeShared := bytes.Repeat([]byte{0x02}, PAKESharedSize)

	base, err := DeriveSecrets(kemShared, pakeShared)
	require.NoError(err)

	otherKEM, err := DeriveSecrets(bytes.Repeat([]byte{0x03}, SessionKeySize), pakeShared)
	require.NoError(err)
	require.NotEqual(base.SessionKey, otherKEM.SessionKey)
	require.NotEqual(base.SenderTag, otherKEM.SenderTag)

	otherPAKE, err := DeriveSecrets(kemShared, bytes.Repeat([]byte{0x04}, PAKESharedSize))
	require.NoError(err)
	require.NotEqual(base.SessionKey, otherPAKE.SessionKey)
	require.NotEqual(base.ReceiverTag, otherPAKE.ReceiverTag)
}

func TestDeriveSecretsSizes(t *testing.T) {
	require := require.New(t)

	good := bytes.Repeat([]byte{0x01}, SessionKeySize)

	_, err := DeriveSecrets(good[:16], good)
	require.Error(err)
	_, err = DeriveSecrets(good, good[:16])
	require.Error(err)
	_, err = DeriveSecrets(nil, good)
	require.Error(err)
}

func TestVerifyConfirmation(t *testing.T) {
	require := require.New(t)

	s, err := DeriveSecrets(
		bytes.Repeat([]byte{0x01}, SessionKeySize),
		bytes.Repeat([]byte{0x02}, PAKESharedSize))
	require.NoError(err)

	require.True(VerifyConfirmation(s.SenderTag, s.SenderTag))

	flipped := s.SenderTag
	flipped[0] ^= 0x01
	require.False(VerifyConfirmation(s.SenderTag, flipped))
	require.False(VerifyConfirmation(s.SenderTag, s.ReceiverTag))
}

func TestSecretsWipe(t *testing.T) {
	require := require.New(t)

	s, err := DeriveSecrets(
		bytes.Repeat([]byte{0x01}, SessionKeySize),
		bytes.Repeat([]byte{0x02}, PAKESharedSize))
	require.NoError(err)

	s.Wipe()
	require.Equal([SessionKeySize]byte{}, s.SessionKey)
	require.Equal([ConfirmationSize]byte{}, s.SenderTag)
	require.Equal([ConfirmationSize]byte{}, s.ReceiverTag)
}
