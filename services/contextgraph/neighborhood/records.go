// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package neighborhood

// truncationRecorder keeps the first breach of each cap.
type truncationRecorder struct {
	seen map[string]bool
	list []TruncationRecord
}

func newTruncationRecorder() *truncationRecorder {
	return &truncationRecorder{seen: make(map[string]bool)}
}

// record adds a record for capName unless one exists. omitted < 0 and an
// empty at are left out of the record.
func (r *truncationRecorder) record(capName string, limit, observed, omitted int, at string) {
	if r.seen[capName] {
		return
	}
	r.seen[capName] = true
	rec := TruncationRecord{Scope: TruncationScope, Cap: capName, Limit: limit, Observed: observed}
	if omitted >= 0 {
		rec.Omitted = &omitted
	}
	if at != "" {
		rec.At = &TruncationAt{Node: at}
	}
	r.list = append(r.list, rec)
}

func (r *truncationRecorder) result() []TruncationRecord {
	if len(r.list) == 0 {
		return nil
	}
	return r.list
}

// warningSink collects warnings, dropping repeats of the same code and key.
type warningSink struct {
	seen         map[string]bool
	list         []Warning
	importMisses int
}

func newWarningSink() *warningSink {
	return &warningSink{seen: make(map[string]bool)}
}

func (w *warningSink) add(code, key, message string, data map[string]any) {
	id := code + "\x00" + key
	if w.seen[id] {
		return
	}
	w.seen[id] = true
	w.list = append(w.list, Warning{Code: code, Message: message, Data: data})
}

// importMiss warns about an import-graph lookup miss for at most
// maxImportMissWarnings distinct paths.
func (w *warningSink) importMiss(path string) {
	if path == "" || w.seen[WarnImportGraphMissingFile+"\x00"+path] {
		return
	}
	if w.importMisses >= maxImportMissWarnings {
		return
	}
	w.importMisses++
	w.add(WarnImportGraphMissingFile, path,
		"Import graph has no node for a normalized path; import expansion may be incomplete.",
		map[string]any{"path": path})
}

func (w *warningSink) has(code string) bool {
	for _, x := range w.list {
		if x.Code == code {
			return true
		}
	}
	return false
}

func (w *warningSink) result() []Warning {
	if len(w.list) == 0 {
		return nil
	}
	return w.list
}
