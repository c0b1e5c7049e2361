// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// patternSet matches repo-relative POSIX paths against gitignore-style
// globs. A nil set matches nothing.
type patternSet struct {
	gi *ignore.GitIgnore
}

func compilePatterns(patterns []string) *patternSet {
	lines := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return &patternSet{gi: ignore.CompileIgnoreLines(lines...)}
}

func (p *patternSet) matches(path string) bool {
	return p != nil && p.gi.MatchesPath(path)
}

// PathSelector selects paths by glob. An empty selector matches any
// non-empty path.
type PathSelector struct {
	AnyOf  []string `json:"anyOf,omitempty" yaml:"anyOf,omitempty"`
	NoneOf []string `json:"noneOf,omitempty" yaml:"noneOf,omitempty"`
}

type selector struct {
	any  *patternSet
	none *patternSet
}

func (s PathSelector) compile() selector {
	return selector{any: compilePatterns(s.AnyOf), none: compilePatterns(s.NoneOf)}
}

func (s selector) matches(path string) bool {
	if path == "" {
		return false
	}
	if s.any != nil && !s.any.matches(path) {
		return false
	}
	return !s.none.matches(path)
}
