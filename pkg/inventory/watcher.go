package inventory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/orchis-io/orchis/pkg/telemetry"
)

// Watcher keeps the current inventory snapshot fresh by reloading the
// inventory file when it changes on disk. Readers always get a complete,
// immutable snapshot; a reload swaps the pointer atomically.
type Watcher struct {
	path    string
	log     *telemetry.Logger
	watcher *fsnotify.Watcher
	current atomic.Pointer[Snapshot]
}

// NewWatcher loads the initial snapshot and starts watching the file's
// directory. Watching the directory instead of the file survives the
// rename-and-replace pattern editors and config pushers use.
func NewWatcher(path string, log *telemetry.Logger) (*Watcher, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating inventory watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching inventory directory: %w", err)
	}

	if log == nil {
		log = telemetry.NewNopLogger()
	}

	w := &Watcher{
		path:    path,
		log:     log.NewComponentLogger("inventory"),
		watcher: fsw,
	}
	w.current.Store(snap)
	return w, nil
}

// Current returns the latest snapshot.
func (w *Watcher) Current() *Snapshot {
	return w.current.Load()
}

// Run processes file events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			snap, err := Load(w.path)
			if err != nil {
				// Keep serving the previous snapshot on a bad reload.
				w.log.Warnf("inventory reload failed, keeping previous snapshot: %v", err)
				continue
			}
			w.current.Store(snap)
			w.log.Infof("inventory reloaded: %d targets", len(snap.Targets))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("inventory watcher error: %v", err)
		}
	}
}
