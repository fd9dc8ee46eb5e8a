package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes the configuration file's directory and invokes onReload
// whenever a write or create event lands on the exact config path. It does
// not wait for a close-after-write: one save can produce several write
// events and so several reloads. Watching the directory rather than the file itself tolerates
// editors that replace-on-write, which would otherwise orphan a direct
// file-descriptor watch.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	logger *zap.Logger
	done   chan struct{}
}

// NewWatcher starts watching the directory containing path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, path: filepath.Clean(path), logger: logger, done: make(chan struct{})}, nil
}

// Run blocks, invoking onReload(path) for every write/create event on the
// watched config file, until Close is called. Intended to run in its own
// goroutine.
func (w *Watcher) Run(onReload func(path string)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("config file change detected", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			onReload(w.path)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
