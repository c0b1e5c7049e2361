// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store loads graph artifacts from an index directory and caches
// both the decoded artifacts and the graph indexes built from them.
//
// Two independently bounded LRU caches are owned by each Store: one for
// decoded artifacts keyed by artifact name, one for built indexes keyed by
// (index signature, repo root, graphs, CSR flag). Stores never share cache
// state, so tests can construct isolated stores and assert eviction
// behaviour deterministically.
package store

import "errors"

var (
	// ErrIndexDirRequired is returned by New when neither an index directory
	// nor an artifact source is configured.
	ErrIndexDirRequired = errors.New("graph store requires an index directory")

	// ErrWatchUnsupported is returned by Watch when the store does not read
	// from a directory.
	ErrWatchUnsupported = errors.New("watch requires a directory-backed store")
)
