package storage

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval coalesces the burst of filesystem events a single
// index replacement produces (temp create, write, rename) into one
// notification.
const DebounceInterval = 100 * time.Millisecond

// ChangeHandler is called after the history index changed on disk.
type ChangeHandler func()

// Watcher notifies the caller when another process rewrites the history
// index. The cache root is always a local filesystem, so inotify-style
// watching applies; lock files, temp files and the oversize backup are
// ignored.
type Watcher struct {
	store    *Store
	onChange ChangeHandler
	log      *slog.Logger

	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the store's index document.
func NewWatcher(store *Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:    store,
		log:      logger,
		stopChan: make(chan struct{}),
	}
}

// OnChange sets the handler invoked after index changes.
func (w *Watcher) OnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = handler
}

// Start begins watching. The cache root is created if it does not exist
// yet, because a directory watch needs the directory to be there.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.store.ensureRoot(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: index replacement is a rename,
	// which invalidates a watch placed on the file itself.
	if err := fsw.Add(w.store.Root()); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.running = true
	w.stopChan = make(chan struct{})

	go w.run(fsw, w.stopChan)
	return nil
}

// Stop stops the watcher. Safe to call when not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopChan)
	w.fsw.Close()
	w.fsw = nil
}

// IsRunning returns true if the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) run(fsw *fsnotify.Watcher, stop <-chan struct{}) {
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.isIndexEvent(event) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(DebounceInterval)
				debounceC = debounce.C
			} else {
				debounce.Reset(DebounceInterval)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.notify()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("history watch error", "error", err)

		case <-stop:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// isIndexEvent reports whether the event concerns the index document
// itself rather than temp, lock, blob or backup files.
func (w *Watcher) isIndexEvent(event fsnotify.Event) bool {
	// Base-name match alone filters temp files, the lock file, blob
	// hashes and the "~" backup.
	if filepath.Base(event.Name) != IndexFileName {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

func (w *Watcher) notify() {
	w.mu.Lock()
	handler := w.onChange
	w.mu.Unlock()
	if handler != nil {
		handler()
	}
}
