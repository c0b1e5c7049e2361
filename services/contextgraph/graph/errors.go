// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds the immutable lookup index used by neighborhood
// traversal and defines the ordering every result is sorted by.
//
// An Index fuses four differently shaped graphs under one node identity:
//
//	callGraph    chunk -> chunk
//	usageGraph   chunk -> chunk
//	importGraph  file  -> file
//	symbolEdges  chunk -> symbol reference
//
// Nodes are addressed by NodeRef, a closed tagged union of chunk, file and
// symbol references. NodeRef.Key is the only identity used for dedup.
//
// # Thread Safety
//
// An Index is immutable once BuildIndex returns and is safe for concurrent
// use. Its only mutable state is the bounded traversal cache, which carries
// its own lock.
package graph

import "errors"

// Sentinel errors for index operations.
var (
	// ErrBuildCancelled is returned when BuildIndex observes a cancelled
	// context between graphs.
	ErrBuildCancelled = errors.New("index build cancelled")

	// ErrCsrIncompatible is recorded when a CSR artifact was produced from
	// different graph_relations than the ones being indexed.
	ErrCsrIncompatible = errors.New("csr artifact incompatible with graph relations")

	// ErrCsrMalformed is recorded when a CSR artifact fails structural
	// validation (node order, offsets or edge ranges).
	ErrCsrMalformed = errors.New("csr artifact malformed")
)
