package settings

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

// Watcher reloads settings when the file changes on disk and publishes the
// result to an Observers list.
type Watcher struct {
	path            string
	watcher         *fsnotify.Watcher
	observers       *Observers
	mu              sync.Mutex
	debounceTimer   *time.Timer
	debouncePeriod  time.Duration
	isOwnWrite      bool // Flag to prevent reload loops
	isOwnWriteMutex sync.Mutex
	started         bool
	done            chan struct{}
}

// globalWatcher lets Save mark its own writes
var (
	globalWatcher   *Watcher
	globalWatcherMu sync.Mutex
)

// NewWatcher watches the directory holding path. Watching the directory
// rather than the file survives editors that replace files on save.
func NewWatcher(path string, observers *Observers) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch settings directory for %s", path)
	}

	return &Watcher{
		path:           path,
		watcher:        watcher,
		observers:      observers,
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// MarkOwnWrite marks the next write as coming from us (prevents reload loops)
func (w *Watcher) MarkOwnWrite() {
	w.isOwnWriteMutex.Lock()
	defer w.isOwnWriteMutex.Unlock()
	w.isOwnWrite = true
}

// checkOwnWrite checks and clears the own-write flag
func (w *Watcher) checkOwnWrite() bool {
	w.isOwnWriteMutex.Lock()
	defer w.isOwnWriteMutex.Unlock()

	if w.isOwnWrite {
		w.isOwnWrite = false
		return true
	}
	return false
}

// Start begins watching for settings file changes
func (w *Watcher) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			if w.checkOwnWrite() {
				logger.Debugw("Settings watcher ignoring own write", logger.FieldPath, event.Name)
				continue
			}

			logger.Infow("Settings watcher detected change",
				logger.FieldPath, event.Name,
				"op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Settings watcher error", logger.FieldError, err)
		}
	}
}

// relevant filters to writes of the settings file or its device override.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Clean(event.Name)
	if isBackupFile(name) {
		return false
	}
	return name == filepath.Clean(w.path) || name == filepath.Clean(DevicePath(w.path))
}

// scheduleReload debounces rapid file changes and triggers reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.reload(); err != nil {
			logger.Errorw("Settings reload failed", logger.FieldError, err)
		}
	})
}

func (w *Watcher) reload() error {
	s, err := LoadFromFile(w.path)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "reloaded settings are invalid")
	}

	logger.Infow("Settings reloaded", logger.FieldPath, w.path)
	w.observers.Notify(s)
	return nil
}

// Stop stops watching for settings changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}

// isBackupFile checks if the file is a backup file (.back1, .back2, .back3)
func isBackupFile(path string) bool {
	ext := filepath.Ext(path)
	return strings.HasPrefix(ext, ".back")
}

// SetGlobalWatcher sets the global watcher instance (used to prevent reload loops)
func SetGlobalWatcher(w *Watcher) {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	globalWatcher = w
}

// GetGlobalWatcher returns the global watcher instance
func GetGlobalWatcher() *Watcher {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	return globalWatcher
}
