package reactor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"crashd/internal/logging"
)

// DirWatch delivers subdirectory creations under one root into the loop.
type DirWatch struct {
	watcher *fsnotify.Watcher
	root    string
}

// WatchDir watches root and calls onCreate with the base name of every new
// subdirectory. Watch errors are logged and the pass is skipped.
func WatchDir(r *Reactor, root string, onCreate func(name string)) (*DirWatch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	err = Watch[fsnotify.Event](r, "fs-events", w.Events, func(ev fsnotify.Event, ok bool) {
		if !ok || !ev.Has(fsnotify.Create) {
			return
		}
		if filepath.Dir(ev.Name) != filepath.Clean(root) {
			return
		}
		info, err := os.Lstat(ev.Name)
		if err != nil || !info.IsDir() {
			return
		}
		onCreate(filepath.Base(ev.Name))
	})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := Watch[error](r, "fs-errors", w.Errors, func(err error, ok bool) {
		if !ok {
			return
		}
		r.logger.Warn("fs watch error",
			logging.Error(err),
			logging.String(logging.FieldEventType, "fs_watch_error"),
			logging.String(logging.FieldImpact, "events from this pass may be missed"),
		)
	}); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &DirWatch{watcher: w, root: root}, nil
}

// Root returns the watched directory.
func (d *DirWatch) Root() string { return d.root }

// Close stops the watcher. Its channels close and the loop drops them.
func (d *DirWatch) Close() error {
	if d == nil || d.watcher == nil {
		return nil
	}
	return d.watcher.Close()
}
