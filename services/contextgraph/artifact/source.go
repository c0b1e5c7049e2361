// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxBytes is the default per-artifact read limit (decompressed).
const DefaultMaxBytes int64 = 512 << 20

// Format describes how an artifact is encoded.
type Format string

const (
	// FormatMissing means no backing data exists.
	FormatMissing Format = "missing"

	// FormatJSON is a single JSON document.
	FormatJSON Format = "json"

	// FormatJSONL is one JSON document per line.
	FormatJSONL Format = "jsonl"
)

// Presence describes where and how an artifact is stored.
type Presence struct {
	// Name is the artifact name.
	Name string

	// Format is the encoding, FormatMissing when absent.
	Format Format

	// Compressed is true when the payload is gzip-compressed.
	Compressed bool

	// Location is the file path or snapshot key.
	Location string

	// Size is the stored (possibly compressed) size in bytes.
	Size int64
}

// Exists reports whether the artifact is present.
func (p Presence) Exists() bool {
	return p.Format != "" && p.Format != FormatMissing
}

// Source provides raw artifact bytes by name.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Source interface {
	// Presence reports whether and how the artifact is stored.
	Presence(name string) Presence

	// Open returns a reader over the decompressed artifact payload.
	// The caller must close the reader. Returns ErrArtifactMissing when the
	// artifact is absent.
	Open(ctx context.Context, name string) (io.ReadCloser, Presence, error)
}

// DirSource reads artifacts from an index directory.
//
// Description:
//
//	Resolves <name>.json, <name>.json.gz, <name>.jsonl and <name>.jsonl.gz
//	in that order. Reads are capped at MaxBytes after decompression.
//
// Thread Safety: Safe for concurrent use.
type DirSource struct {
	dir      string
	maxBytes int64
}

// NewDirSource creates a directory-backed source.
//
// Inputs:
//   - dir: Index directory. Must not be empty.
//   - maxBytes: Per-artifact read limit. <= 0 uses DefaultMaxBytes.
//
// Outputs:
//   - *DirSource: The source.
//   - error: ErrDirRequired if dir is empty.
func NewDirSource(dir string, maxBytes int64) (*DirSource, error) {
	if dir == "" {
		return nil, ErrDirRequired
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &DirSource{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the index directory.
func (s *DirSource) Dir() string {
	return s.dir
}

type candidateFile struct {
	suffix     string
	format     Format
	compressed bool
}

var candidateFiles = []candidateFile{
	{".json", FormatJSON, false},
	{".json.gz", FormatJSON, true},
	{".jsonl", FormatJSONL, false},
	{".jsonl.gz", FormatJSONL, true},
}

// FileNames returns every file name that can back the named artifact.
func FileNames(name string) []string {
	out := make([]string, 0, len(candidateFiles))
	for _, c := range candidateFiles {
		out = append(out, name+c.suffix)
	}
	return out
}

// Presence implements Source.
func (s *DirSource) Presence(name string) Presence {
	for _, c := range candidateFiles {
		path := filepath.Join(s.dir, name+c.suffix)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		return Presence{
			Name:       name,
			Format:     c.format,
			Compressed: c.compressed,
			Location:   path,
			Size:       info.Size(),
		}
	}
	return Presence{Name: name, Format: FormatMissing}
}

// Open implements Source.
func (s *DirSource) Open(ctx context.Context, name string) (io.ReadCloser, Presence, error) {
	if err := ctx.Err(); err != nil {
		return nil, Presence{}, err
	}
	p := s.Presence(name)
	if !p.Exists() {
		return nil, p, fmt.Errorf("%s in %s: %w", name, s.dir, ErrArtifactMissing)
	}
	f, err := os.Open(p.Location)
	if err != nil {
		return nil, p, fmt.Errorf("open %s: %w", p.Location, err)
	}
	rc, err := wrapReader(f, p.Compressed, s.maxBytes)
	if err != nil {
		f.Close()
		return nil, p, fmt.Errorf("open %s: %w", p.Location, err)
	}
	return rc, p, nil
}

// wrapReader layers optional gzip decoding and the byte limit over r.
// Closing the result closes r.
func wrapReader(r io.ReadCloser, compressed bool, maxBytes int64) (io.ReadCloser, error) {
	var src io.Reader = r
	var gz *gzip.Reader
	if compressed {
		var err error
		gz, err = gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		src = gz
	}
	return &limitedReadCloser{
		r:         src,
		remaining: maxBytes,
		close: func() error {
			if gz != nil {
				gz.Close()
			}
			return r.Close()
		},
	}, nil
}

// WrapReader exposes the decompression and limit layering for other sources.
func WrapReader(r io.ReadCloser, compressed bool, maxBytes int64) (io.ReadCloser, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return wrapReader(r, compressed, maxBytes)
}

// limitedReadCloser fails with ErrArtifactTooLarge once more than remaining
// bytes have been read.
type limitedReadCloser struct {
	r         io.Reader
	remaining int64
	close     func() error
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrArtifactTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrArtifactTooLarge
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.close()
}
