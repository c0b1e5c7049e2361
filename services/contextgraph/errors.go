// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextgraph

import "errors"

// Sentinel errors for the contextgraph service.
var (
	// ErrStoreRequired is returned when a service is built without a store.
	ErrStoreRequired = errors.New("graph store is required")

	// ErrTooManySeeds is returned when a request exceeds MaxSeedsPerRequest.
	ErrTooManySeeds = errors.New("too many seeds")

	// ErrRepoRootMismatch is returned when a request names a repo root the
	// service's index was not built for.
	ErrRepoRootMismatch = errors.New("repo root does not match the graph index")
)
