// SPDX-FileCopyrightText: Copyright (C) 2026 The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package transfer

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/wire"
)

// BuildManifest scans the named files and directories and produces the
// transfer manifest together with a FileSource yielding the matching
// plaintext stream.  Directories are walked recursively in lexical
// order; entry names are slash separated and relative, rooted at the
// argument's base name.
func BuildManifest(paths []string) (*wire.Manifest, *FileSource, error) {
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("transfer: nothing to send")
	}

	m := &wire.Manifest{ChunkSize: crypto.ChunkSize}
	src := new(FileSource)
	seen := make(map[string]bool)

	add := func(name, fsPath string, size int64) error {
		if seen[name] {
			return fmt.Errorf("transfer: duplicate entry name %q", name)
		}
		seen[name] = true
		chunks := chunkCount(uint64(size), crypto.ChunkSize)
		m.Files = append(m.Files, wire.FileEntry{
			Name:       name,
			Size:       uint64(size),
			ChunkCount: chunks,
		})
		m.TotalSize += uint64(size)
		m.TotalChunks += chunks
		src.files = append(src.files, sourceFile{path: fsPath, size: size})
		return nil
	}

	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case fi.Mode().IsRegular():
			if err = add(filepath.Base(p), p, fi.Size()); err != nil {
				return nil, nil, err
			}
		case fi.IsDir():
			root := filepath.Clean(p)
			err = filepath.WalkDir(root, func(fsPath string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.Type().IsRegular() {
					// Directories are implied by their contents; sockets,
					// devices and symlinks are not sent.
					return nil
				}
				rel, err := filepath.Rel(filepath.Dir(root), fsPath)
				if err != nil {
					return err
				}
				info, err := d.Info()
				if err != nil {
					return err
				}
				return add(filepath.ToSlash(rel), fsPath, info.Size())
			})
			if err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fmt.Errorf("transfer: %q is neither a regular file nor a directory", p)
		}
	}

	if m.TotalSize > MaxTransferSize {
		return nil, nil, ErrTooLarge
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return m, src, nil
}

func chunkCount(size, chunkSize uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// sourceFile pins the size observed at manifest build time so the stream
// matches the manifest even if the underlying file changes afterwards.
type sourceFile struct {
	path string
	size int64
}

// FileSource yields the concatenated plaintext of a manifest's files in
// declaration order.  Files are opened lazily, one at a time.
type FileSource struct {
	files []sourceFile
	idx   int
	cur   *os.File
	curR  io.Reader
}

// Read implements io.Reader.
func (s *FileSource) Read(p []byte) (int, error) {
	for {
		if s.curR == nil {
			if s.idx >= len(s.files) {
				return 0, io.EOF
			}
			f := s.files[s.idx]
			s.idx++
			fd, err := os.Open(f.path)
			if err != nil {
				return 0, err
			}
			s.cur = fd
			s.curR = io.LimitReader(fd, f.size)
		}
		n, err := s.curR.Read(p)
		if err == io.EOF {
			s.cur.Close()
			s.cur, s.curR = nil, nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close releases the currently open file, if any.
func (s *FileSource) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur, s.curR = nil, nil
	return err
}
