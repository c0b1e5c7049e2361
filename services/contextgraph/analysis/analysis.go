// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis derives reports from the raw graph relations: test
// suggestions for a change set and architecture rule violations.
//
// Both reports are bounded by caps and never fail on data problems; they
// surface warnings and truncation records like the neighborhood package.
package analysis

import (
	"errors"

	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
)

// Warning codes.
const (
	WarnNoTestsFound          = "NO_TESTS_FOUND"
	WarnGraphRelationsMissing = "GRAPH_RELATIONS_MISSING"
	WarnGraphNoMatches        = "GRAPH_NO_MATCHES"
	WarnInvalidRule           = "INVALID_RULE"
	WarnUnknownRuleType       = "UNKNOWN_RULE_TYPE"
)

var (
	// ErrRepoRootRequired is returned by SuggestTests when no test list was
	// supplied and there is no repo root to discover tests under.
	ErrRepoRootRequired = errors.New("repo root required to discover tests")

	// ErrInvalidRules is returned when an architecture rules document is
	// malformed.
	ErrInvalidRules = errors.New("invalid architecture rules")
)

// recorder keeps the first breach of each cap within one scope.
type recorder struct {
	scope string
	seen  map[string]bool
	list  []neighborhood.TruncationRecord
}

func newRecorder(scope string) *recorder {
	return &recorder{scope: scope, seen: make(map[string]bool)}
}

// record adds a record unless one exists for capName. omitted < 0 is left
// out.
func (r *recorder) record(capName string, limit, observed, omitted int) {
	if r.seen[capName] {
		return
	}
	r.seen[capName] = true
	rec := neighborhood.TruncationRecord{Scope: r.scope, Cap: capName, Limit: limit, Observed: observed}
	if omitted >= 0 {
		rec.Omitted = &omitted
	}
	r.list = append(r.list, rec)
}

func (r *recorder) result() []neighborhood.TruncationRecord {
	if len(r.list) == 0 {
		return nil
	}
	return r.list
}

func clamp(v *int) *int {
	if v == nil || *v >= 0 {
		return v
	}
	zero := 0
	return &zero
}
