package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"sidecar/internal/logging"
	"sidecar/plugin"
)

// debounceWindow coalesces bursts of filesystem events (editors write
// manifests in several syscalls) into a single change notification.
const debounceWindow = 500 * time.Millisecond

// Watcher monitors the workspace plugin directory and reports manifest
// changes after a debounce window. fsnotify does not recurse, so the
// watcher adds each plugin subdirectory explicitly and picks up new
// ones as they appear.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	onChange func(path string)
	log      logrus.FieldLogger

	mu       sync.Mutex
	debounce map[string]*time.Timer
	stopped  bool

	stopChan chan struct{}
}

// NewWatcher creates a watcher over the workspace's plugin directory
func NewWatcher(workspaceDir string, onChange func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		dir:      filepath.Join(workspaceDir, plugin.WorkspacePluginDir),
		onChange: onChange,
		log:      logging.Subsystem("watcher"),
		debounce: make(map[string]*time.Timer),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching. It fails when the plugin directory does not
// exist; callers should treat that as "nothing to watch".
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.watcher.Close()
		return err
	}

	// Watch existing plugin subdirectories as well
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			sub := filepath.Join(w.dir, entry.Name())
			if err := w.watcher.Add(sub); err != nil {
				w.log.WithFields(logrus.Fields{
					"dir":   sub,
					"error": err,
				}).Warn("failed to watch plugin directory")
			}
		}
	}

	go w.watchLoop(ctx)
	w.log.WithField("dir", w.dir).Info("watching plugin directory")
	return nil
}

// Stop ends watching and cancels pending debounce timers
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, timer := range w.debounce {
		timer.Stop()
		delete(w.debounce, path)
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.watcher.Close()
	w.log.Info("stopped plugin directory watcher")
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
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
			w.log.WithField("error", err).Warn("file watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A new plugin directory needs its own watch before its manifest
	// event can be seen
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.WithFields(logrus.Fields{
					"dir":   event.Name,
					"error": err,
				}).Warn("failed to watch new plugin directory")
			}
		}
	}

	if !w.relevant(event) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	// Debounce per path
	if timer, exists := w.debounce[event.Name]; exists {
		timer.Stop()
	}

	path := event.Name
	w.debounce[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		stopped := w.stopped
		w.mu.Unlock()

		if stopped || w.onChange == nil {
			return
		}
		w.onChange(path)
	})
}

// relevant reports whether an event should trigger a change
// notification: manifest edits, and plugin directories appearing or
// disappearing.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) == plugin.ManifestName {
		return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
			event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	}

	// Directory-level create/remove directly under the plugin root
	if filepath.Dir(event.Name) == w.dir {
		return event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	}

	return false
}
