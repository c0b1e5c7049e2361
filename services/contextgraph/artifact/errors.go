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

import "errors"

// Sentinel errors for artifact loading.
var (
	// ErrArtifactMissing is returned when a named artifact has no backing file
	// or snapshot entry.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrArtifactTooLarge is returned when an artifact exceeds the configured
	// byte limit while being read.
	ErrArtifactTooLarge = errors.New("artifact exceeds byte limit")

	// ErrUnsupportedFormat is returned when an artifact is stored in a format
	// its decoder does not accept (for example a JSONL CSR payload).
	ErrUnsupportedFormat = errors.New("unsupported artifact format")

	// ErrMalformedArtifact is returned when an artifact decodes but its
	// structure is unusable (unknown graph name in a JSONL row, etc.).
	ErrMalformedArtifact = errors.New("malformed artifact")

	// ErrDirRequired is returned when a directory source is created without
	// a directory.
	ErrDirRequired = errors.New("artifact directory is required")
)
