package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration on file change by nudging the same trigger
// channel SIGHUP uses. The trigger is buffered and sends are non-blocking,
// so editor save storms coalesce into one reload.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	trigger chan<- struct{}
	logger  *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatchFile watches the config file at path and nudges trigger on change.
// The directory is watched rather than the file itself: editors and
// provisioning tools replace config files instead of writing in place,
// which would silently detach a file watch.
func WatchFile(path string, trigger chan<- struct{}, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:    absPath,
		watcher: fsw,
		trigger: trigger,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.eventLoop()

	return w, nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	select {
	case w.trigger <- struct{}{}:
		w.logger.Info("config file changed, reload scheduled", "path", w.path, "op", event.Op.String())
	default:
		// A reload is already pending.
	}
}
