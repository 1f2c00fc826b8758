package initd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher watches the inittab for changes and emits a ReloadTable for each
// change. The parent directory is watched so that editors replacing the file
// are noticed as well.
type Watcher struct {
	Events chan ReloadTable

	w    *fsnotify.Watcher
	j    Journaler
	path string
}

// TryWatch attempts to watch the given inittab asynchronously, but it will log
// into the journaler if, for some reason, it fails to watch it.
func TryWatch(ctx context.Context, path string, j Journaler) *Watcher {
	w := newWatcher(path, j)

	go func() {
		if err := w.init(); err != nil {
			j.Write(&EventWarning{
				Component: "watcher",
				Error:     fmt.Sprintf("not watching inittab because: %v", err),
			})
			return
		}

		w.watch(ctx)
	}()

	return w
}

// NewWatcher watches the given inittab and logs events into the journaler.
// The watcher is stopped once the given context is canceled.
func NewWatcher(ctx context.Context, path string, j Journaler) (*Watcher, error) {
	w := newWatcher(path, j)
	if err := w.init(); err != nil {
		return nil, err
	}

	go w.watch(ctx)
	return w, nil
}

func newWatcher(path string, j Journaler) *Watcher {
	return &Watcher{
		Events: make(chan ReloadTable),
		w:      nil,
		j:      j,
		path:   filepath.Clean(path),
	}
}

func (w *Watcher) init() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "failed to watch dir")
	}

	w.w = watcher
	return nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}

			w.j.Write(&EventWarning{
				Component: "watcher",
				Error:     "inotify error: " + err.Error(),
			})

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}

			if !changesInittab(evt, w.path) {
				continue
			}

			select {
			case w.Events <- ReloadTable{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// changesInittab returns true if the fsnotify event leaves new contents at the
// inittab path.
func changesInittab(evt fsnotify.Event, path string) bool {
	if filepath.Clean(evt.Name) != path {
		return false
	}

	// A rename or removal leaves nothing to read; the following create is
	// what matters.
	return evt.Op&(fsnotify.Write|fsnotify.Create) != 0
}
