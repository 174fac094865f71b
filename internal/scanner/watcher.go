// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned when watching on a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// RemovedFunc is called with the path of an extension directory that was
// removed or renamed away from a scan dir.
type RemovedFunc func(ctx context.Context, path string)

// Watcher reports removals of extension directories directly under the
// watched scan dirs.
type Watcher struct {
	fsw       *fsnotify.Watcher
	onRemoved RemovedFunc

	mu     sync.Mutex
	closed bool
	dirs   map[string]struct{}
	wg     sync.WaitGroup
	stop   chan struct{}
}

// NewWatcher creates a watcher and starts its event loop. Events are
// delivered with ctx.
func NewWatcher(ctx context.Context, onRemoved RemovedFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:       fsw,
		onRemoved: onRemoved,
		dirs:      make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

// Watch adds a scan dir. Missing dirs are skipped.
func (w *Watcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, ok := w.dirs[abs]; ok {
		return nil
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.dirs[abs] = struct{}{}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(ev.Name)
			slog.InfoContext(ctx, "extension directory removed", "path", path)
			if w.onRemoved != nil {
				w.onRemoved(ctx, path)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "extension watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stop)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
