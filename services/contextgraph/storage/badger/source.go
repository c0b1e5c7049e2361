// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

const (
	metaPrefix = "artifact/meta/"
	dataPrefix = "artifact/data/"
)

// entryMeta is stored next to each artifact payload.
type entryMeta struct {
	Format     artifact.Format `json:"format"`
	Size       int64           `json:"size"`
	ImportedAt time.Time       `json:"importedAt"`
	Origin     string          `json:"origin,omitempty"`
}

// ArtifactSource is an artifact.Source backed by a snapshot database.
//
// Payloads are stored decompressed; BadgerDB compresses its tables.
//
// Thread Safety: Safe for concurrent use.
type ArtifactSource struct {
	db       *DB
	maxBytes int64
	logger   *slog.Logger
}

// NewArtifactSource wraps db. maxBytes <= 0 uses artifact.DefaultMaxBytes.
func NewArtifactSource(db *DB, maxBytes int64, logger *slog.Logger) *ArtifactSource {
	if maxBytes <= 0 {
		maxBytes = artifact.DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactSource{db: db, maxBytes: maxBytes, logger: logger}
}

func metaKey(name string) []byte { return []byte(metaPrefix + name) }
func dataKey(name string) []byte { return []byte(dataPrefix + name) }

func readMeta(txn *badger.Txn, name string) (entryMeta, bool, error) {
	item, err := txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return entryMeta{}, false, nil
	}
	if err != nil {
		return entryMeta{}, false, err
	}
	var meta entryMeta
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	if err != nil {
		return entryMeta{}, false, fmt.Errorf("decode meta for %s: %w", name, err)
	}
	return meta, true, nil
}

// Presence implements artifact.Source.
func (s *ArtifactSource) Presence(name string) artifact.Presence {
	missing := artifact.Presence{Name: name, Format: artifact.FormatMissing}
	var meta entryMeta
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, ok, err = readMeta(txn, name)
		return err
	})
	if err != nil {
		s.logger.Warn("snapshot presence lookup failed", "artifact", name, "error", err)
		return missing
	}
	if !ok {
		return missing
	}
	return artifact.Presence{
		Name:     name,
		Format:   meta.Format,
		Location: "badger:" + dataPrefix + name,
		Size:     meta.Size,
	}
}

// Open implements artifact.Source.
func (s *ArtifactSource) Open(ctx context.Context, name string) (io.ReadCloser, artifact.Presence, error) {
	var data []byte
	var meta entryMeta
	var ok bool
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		meta, ok, err = readMeta(txn, name)
		if err != nil || !ok {
			return err
		}
		item, err := txn.Get(dataKey(name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, artifact.Presence{}, err
	}
	if !ok {
		return nil, artifact.Presence{Name: name, Format: artifact.FormatMissing},
			fmt.Errorf("%s: %w", name, artifact.ErrArtifactMissing)
	}

	p := artifact.Presence{
		Name:     name,
		Format:   meta.Format,
		Location: "badger:" + dataPrefix + name,
		Size:     meta.Size,
	}
	rc, err := artifact.WrapReader(io.NopCloser(bytes.NewReader(data)), false, s.maxBytes)
	if err != nil {
		return nil, p, err
	}
	return rc, p, nil
}

// Put stores an artifact payload.
func (s *ArtifactSource) Put(ctx context.Context, name string, format artifact.Format, data []byte, origin string) error {
	meta, err := json.Marshal(entryMeta{
		Format:     format,
		Size:       int64(len(data)),
		ImportedAt: time.Now().UTC(),
		Origin:     origin,
	})
	if err != nil {
		return fmt.Errorf("encode meta for %s: %w", name, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(name), data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return txn.Set(metaKey(name), meta)
	})
}

// Delete removes an artifact. Deleting a missing artifact is not an error.
func (s *ArtifactSource) Delete(ctx context.Context, name string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(name)); err != nil {
			return err
		}
		return txn.Delete(dataKey(name))
	})
}

// Names returns the stored artifact names in key order.
func (s *ArtifactSource) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(metaPrefix):]))
		}
		return nil
	})
	return names, err
}

// ImportResult reports what Import did per artifact.
type ImportResult struct {
	Imported []string `json:"imported"`
	Removed  []string `json:"removed"`
	Bytes    int64    `json:"bytes"`
}

// Import snapshots the named artifacts from another source.
//
// Description:
//
//	Copies each present artifact's decompressed payload into the
//	database. Artifacts absent from the source are removed from the
//	snapshot so it mirrors the source exactly.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - from: The source to copy from, typically an artifact.DirSource.
//   - names: Artifact names to import.
//
// Outputs:
//   - ImportResult: Imported and removed names.
//   - error: The first read or write failure.
func (s *ArtifactSource) Import(ctx context.Context, from artifact.Source, names ...string) (ImportResult, error) {
	var res ImportResult
	for _, name := range names {
		p := from.Presence(name)
		if !p.Exists() {
			if err := s.Delete(ctx, name); err != nil {
				return res, fmt.Errorf("remove %s: %w", name, err)
			}
			res.Removed = append(res.Removed, name)
			continue
		}

		rc, p, err := from.Open(ctx, name)
		if err != nil {
			return res, fmt.Errorf("open %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return res, fmt.Errorf("read %s: %w", name, err)
		}
		if err := s.Put(ctx, name, p.Format, data, p.Location); err != nil {
			return res, err
		}
		res.Imported = append(res.Imported, name)
		res.Bytes += int64(len(data))
		s.logger.Debug("artifact imported", "artifact", name, "bytes", len(data), "origin", p.Location)
	}
	return res, nil
}
