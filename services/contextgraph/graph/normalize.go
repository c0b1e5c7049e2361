// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"path/filepath"
	"strings"
)

// NormalizeImportPath maps an import-graph id onto a repo-relative POSIX
// path.
//
// Absolute paths under repoRoot are made relative to it. Backslashes become
// forward slashes and a leading "./" is dropped. Paths outside repoRoot are
// kept as given apart from slash normalisation.
func NormalizeImportPath(value, repoRoot string) string {
	if value == "" {
		return ""
	}
	normalized := value
	if repoRoot != "" && filepath.IsAbs(value) {
		if rel, err := filepath.Rel(repoRoot, value); err == nil &&
			rel != "" && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel) {
			normalized = rel
		}
	}
	normalized = strings.ReplaceAll(normalized, `\`, "/")
	normalized = strings.TrimPrefix(normalized, "./")
	return normalized
}

// NormalizeFileRef applies NormalizeImportPath to file refs. Other refs are
// returned unchanged.
func NormalizeFileRef(r NodeRef, repoRoot string) NodeRef {
	if r.Type != RefFile {
		return r
	}
	if p := NormalizeImportPath(r.Path, repoRoot); p != "" {
		r.Path = p
	}
	return r
}

func trimLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
