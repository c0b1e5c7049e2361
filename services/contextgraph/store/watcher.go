// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

// DefaultWatchDebounce is the quiet period before a batch of artifact
// changes invalidates the caches.
const DefaultWatchDebounce = 250 * time.Millisecond

// watchedArtifacts are the artifact names a watcher reacts to.
var watchedArtifacts = artifact.Names

// ChangeHandler receives the debounced, deduplicated names of artifacts
// whose files changed.
type ChangeHandler func(names []string)

// Watcher invalidates store caches when artifact files change.
//
// # Description
//
// Watches the index directory (not recursively) and maps file events onto
// artifact names. Events are batched with a debounce window so that an
// indexer rewriting several artifacts triggers one invalidation.
//
// # Thread Safety
//
// Safe for concurrent use. Invalidation runs on a single goroutine.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange ChangeHandler
	logger   *slog.Logger
	byFile   map[string]string

	mu      sync.Mutex
	dirty   map[string]bool
	changed chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Watch starts watching the store's index directory.
//
// Inputs:
//   - ctx: Watching stops when ctx is cancelled or Stop is called.
//   - debounce: Quiet period. <= 0 uses DefaultWatchDebounce.
//   - onChange: Optional callback invoked after each invalidation.
//
// Outputs:
//   - *Watcher: The running watcher.
//   - error: ErrWatchUnsupported for stores without a directory, or an
//     fsnotify error.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, onChange ChangeHandler) (*Watcher, error) {
	if s.dir == "" {
		return nil, ErrWatchUnsupported
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(s.dir); err != nil {
		fw.Close()
		return nil, err
	}

	byFile := make(map[string]string)
	for _, name := range watchedArtifacts {
		for _, file := range artifact.FileNames(name) {
			byFile[file] = name
		}
	}

	w := &Watcher{
		store:    s,
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		logger:   s.logger.With("watch_dir", s.dir),
		byFile:   byFile,
		dirty:    make(map[string]bool),
		changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return w, nil
}

// Stop stops the watcher and waits for its goroutines.
func (w *Watcher) Stop() {
	w.close()
	w.wg.Wait()
}

// close releases the fsnotify watcher. Both Stop and ctx cancellation end
// here.
func (w *Watcher) close() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("closing artifact watcher", "error", err)
		}
	})
}

// markDirty records name for the next flush and wakes the debounce loop.
func (w *Watcher) markDirty(name string) {
	w.mu.Lock()
	w.dirty[name] = true
	w.mu.Unlock()
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// takeDirty returns and clears the names recorded since the last flush.
func (w *Watcher) takeDirty() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.dirty))
	for name := range w.dirty {
		names = append(names, name)
	}
	clear(w.dirty)
	slices.Sort(names)
	return names
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name, known := w.byFile[filepath.Base(event.Name)]
			if !known || event.Op == fsnotify.Chmod {
				continue
			}
			w.markDirty(name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		names := w.takeDirty()
		if len(names) == 0 {
			return
		}
		w.store.Invalidate(names...)
		w.logger.Info("artifacts changed, caches invalidated", "artifacts", names)
		if w.onChange != nil {
			w.onChange(names)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.changed:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}
