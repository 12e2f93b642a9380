// Package watch keeps the metadata index in step with metadata files that
// appear on disk outside of the server's own upload path.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDelay is how long the watcher waits for a burst of changes to settle
const DefaultDelay = 100 * time.Millisecond

// MetadataWatcher monitors a metadata directory and calls onChange with the
// packet files that were created or written
type MetadataWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	dir       string
	logger    *zap.Logger
	onChange  func(files []string) error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewMetadataWatcher creates a watcher for dir. Changes are batched over delay.
func NewMetadataWatcher(dir string, delay time.Duration, logger *zap.Logger, onChange func([]string) error) (*MetadataWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mw := &MetadataWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(delay),
		dir:       dir,
		logger:    logger,
		onChange:  onChange,
		stopChan:  make(chan struct{}),
	}

	mw.debouncer.SetCallback(func(files []string) {
		if err := mw.onChange(files); err != nil {
			mw.logger.Warn("error handling metadata changes", zap.Strings("files", files), zap.Error(err))
		}
	})

	return mw, nil
}

// Start begins watching in the background
func (mw *MetadataWatcher) Start() error {
	if err := mw.watcher.Add(mw.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", mw.dir, err)
	}
	mw.logger.Info("watching metadata directory", zap.String("dir", mw.dir))

	mw.wg.Add(1)
	go mw.watch()

	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (mw *MetadataWatcher) Stop() error {
	select {
	case <-mw.stopChan:
		return nil
	default:
		close(mw.stopChan)
	}

	mw.wg.Wait()
	mw.debouncer.Stop()
	return mw.watcher.Close()
}

func (mw *MetadataWatcher) watch() {
	defer mw.wg.Done()

	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}

			// uploads land via a hidden temp file and a rename
			if shouldIgnore(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				mw.logger.Debug("metadata changed", zap.String("file", event.Name))
				mw.debouncer.Add(event.Name)
			}

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.Warn("watch error", zap.Error(err))

		case <-mw.stopChan:
			return
		}
	}
}

func shouldIgnore(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// Debouncer collects changes and triggers a callback once they stop arriving
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	files    map[string]struct{}
	mutex    sync.Mutex
	callback func([]string)
	stopped  bool
}

// NewDebouncer creates a debouncer that waits duration after the last change
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		files:    make(map[string]struct{}),
	}
}

// Add records a changed file and restarts the timer
func (d *Debouncer) Add(file string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}

	d.files[file] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.files) == 0 || d.stopped {
		d.mutex.Unlock()
		return
	}

	files := make([]string, 0, len(d.files))
	for file := range d.files {
		files = append(files, file)
	}
	d.files = make(map[string]struct{})
	callback := d.callback
	d.mutex.Unlock()

	if callback != nil {
		callback(files)
	}
}

// SetCallback sets the function called with each batch of files
func (d *Debouncer) SetCallback(callback func([]string)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.callback = callback
}

// Stop cancels any pending flush
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.stopped = true
}
