// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package transfer

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taper-io/taper/crypto"
)

func writeFile(t *testing.T, path string, content []byte) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, content, 0600))
}

func TestBuildManifestTree(t *testing.T) {
	require := require.New(t)

	base := t.TempDir()
	aContent := testContent(100)
	xContent := testContent(crypto.ChunkSize + 5)
	writeFile(t, filepath.Join(base, "a.txt"), aContent)
	writeFile(t, filepath.Join(base, "photos", "sub", "y.bin"), nil)
	writeFile(t, filepath.Join(base, "photos", "x.bin"), xContent)

	m, src, err := BuildManifest([]string{
		filepath.Join(base, "a.txt"),
		filepath.Join(base, "photos"),
	})
	require.NoError(err)
	defer src.Close()

	// Directory entries walk in lexical order under the argument's base
	// name; the bare file keeps its base name.
	require.Len(m.Files, 3)
	require.Equal("a.txt", m.Files[0].Name)
	require.Equal("photos/sub/y.bin", m.Files[1].Name)
	require.Equal("photos/x.bin", m.Files[2].Name)

	require.Equal(uint64(1), m.Files[0].ChunkCount)
	require.Equal(uint64(0), m.Files[1].ChunkCount)
	require.Equal(uint64(2), m.Files[2].ChunkCount)
	require.Equal(uint64(100+crypto.ChunkSize+5), m.TotalSize)
	require.Equal(uint64(3), m.TotalChunks)
	require.Equal(uint32(crypto.ChunkSize), m.ChunkSize)
	require.NoError(m.Validate())

	// The source yields the files' bytes concatenated in declaration
	// order.
	all, err := io.ReadAll(src)
	require.NoError(err)
	require.Equal(append(append([]byte(nil), aContent...), xContent...), all)
}

func TestBuildManifestDuplicateNames(t *testing.T) {
	require := require.New(t)

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "one", "a.txt"), []byte("x"))
	writeFile(t, filepath.Join(base, "two", "a.txt"), []byte("y"))

	_, _, err := BuildManifest([]string{
		filepath.Join(base, "one", "a.txt"),
		filepath.Join(base, "two", "a.txt"),
	})
	require.Error(err)
	require.Contains(err.Error(), "duplicate entry name")
}

func TestBuildManifestErrors(t *testing.T) {
	require := require.New(t)

	_, _, err := BuildManifest(nil)
	require.Error(err)

	_, _, err = BuildManifest([]string{filepath.Join(t.TempDir(), "missing.bin")})
	require.Error(err)
}

func TestFileSourcePinsSizes(t *testing.T) {
	require := require.New(t)

	base := t.TempDir()
	path := filepath.Join(base, "grow.bin")
	content := testContent(100)
	writeFile(t, path, content)

	m, src, err := BuildManifest([]string{path})
	require.NoError(err)
	defer src.Close()

	// Bytes appended after the manifest was built must not leak into the
	// stream; the manifest's sizes are the contract.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(err)
	_, err = f.Write(testContent(50))
	require.NoError(err)
	require.NoError(f.Close())

	all, err := io.ReadAll(src)
	require.NoError(err)
	require.Equal(content, all)
	require.Equal(uint64(100), m.TotalSize)
}

func TestSenderCatchesTruncatedSource(t *testing.T) {
	require := require.New(t)

	base := t.TempDir()
	path := filepath.Join(base, "shrink.bin")
	writeFile(t, path, testContent(100))

	m, src, err := BuildManifest([]string{path})
	require.NoError(err)
	defer src.Close()
	require.NoError(os.Truncate(path, 40))

	cipher := newTestCipher(t)
	snd, err := NewSender(cipher, m, src)
	require.NoError(err)
	offer, err := snd.Offer()
	require.NoError(err)
	rcv, err := NewReceiver(cipher, offer, newSpool(t))
	require.NoError(err)
	accept, err := rcv.Accept()
	require.NoError(err)
	require.NoError(snd.HandleAccept(accept))

	_, err = snd.Next()
	require.Error(err)
	require.Contains(err.Error(), "content stream ended")
	require.Equal(SenderFailed, snd.State())
}
