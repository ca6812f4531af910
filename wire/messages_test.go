// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
)

func validManifest() *Manifest {
	return &Manifest{
		Files: []FileEntry{
			{Name: "photo.jpg", Size: 150000, ChunkCount: 3},
		},
		TotalSize:   150000,
		TotalChunks: 3,
		ChunkSize:   crypto.ChunkSize,
	}
}

func TestManifestValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(validManifest().Validate())

	// 150000 bytes at 64 KiB chunks is exactly three chunks.
	m := validManifest()
	m.Files[0].ChunkCount = 2
	m.TotalChunks = 2
	require.Error(m.Validate())

	m = validManifest()
	m.TotalSize = 150001
	require.Error(m.Validate())

	m = validManifest()
	m.TotalChunks = 4
	require.Error(m.Validate())

	m = validManifest()
	m.Files = nil
	require.Error(m.Validate())

	m = validManifest()
	m.ChunkSize = 0
	require.Error(m.Validate())

	m = validManifest()
	m.ChunkSize = crypto.ChunkSize + 1
	require.Error(m.Validate())
}

func TestManifestValidateNames(t *testing.T) {
	require := require.New(t)

	for _, bad := range []string{"", "/etc/passwd", "../escape", "a/../../b", "dir/./file"} {
		m := validManifest()
		m.Files[0].Name = bad
		require.Error(m.Validate(), "name %q must be rejected", bad)
	}

	for _, good := range []string{"photo.jpg", "dir/photo.jpg", "deep/er/tree.bin"} {
		m := validManifest()
		m.Files[0].Name = good
		require.NoError(m.Validate(), "name %q must be accepted", good)
	}
}

func TestManifestValidateMultiFile(t *testing.T) {
	require := require.New(t)

	m := &Manifest{
		Files: []FileEntry{
			{Name: "a.bin", Size: crypto.ChunkSize, ChunkCount: 1},
			{Name: "empty.txt", Size: 0, ChunkCount: 0},
			{Name: "b.bin", Size: crypto.ChunkSize + 1, ChunkCount: 2},
		},
		TotalSize:   2*crypto.ChunkSize + 1,
		TotalChunks: 3,
		ChunkSize:   crypto.ChunkSize,
	}
	require.NoError(m.Validate())

	// A zero byte file contributes no chunks but must still declare
	// that honestly.
	m.Files[1].ChunkCount = 1
	m.TotalChunks = 4
	require.Error(m.Validate())
}

func TestTypeString(t *testing.T) {
	require := require.New(t)
	require.Equal("Chunk", TypeChunk.String())
	require.Equal("HandshakeInit", TypeHandshakeInit.String())
	require.Equal("Type(0x7f)", Type(0x7f).String())
}
