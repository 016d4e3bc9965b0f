package discover

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies callers whenever a target's command socket appears or
// disappears in socketDir, so a detached client's completion candidates
// (which targets exist to `attach` to) can stay fresh without polling.
type Watcher struct {
	fsw    *fsnotify.Watcher
	Events chan struct{}
	Errors chan error
}

// NewWatcher starts watching socketDir for socket creation/removal.
// Callers must call Close when done.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("discover: new watcher: %w", err)
	}
	if err := fsw.Add(socketDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("discover: watch %s: %w", socketDir, err)
	}

	w := &Watcher{
		fsw:    fsw,
		Events: make(chan struct{}, 1),
		Errors: make(chan error, 1),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !matchesCmdSocket(ev.Name) {
				continue
			}
			select {
			case w.Events <- struct{}{}:
			default:
				// a refresh is already pending; coalesce
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}
		}
	}
}

func matchesCmdSocket(path string) bool {
	return strings.HasPrefix(filepath.Base(path), cmdSocketPrefix)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
