// Package watch starts sync passes when the library source changes.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paulschiretz/pgl-booksync/pkg/bookmeta"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/syncstatus"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 5 * time.Second

// Triggerer starts a background sync pass.
type Triggerer interface {
	Trigger(dryRun bool) (syncstatus.TriggerResult, error)
}

// Watcher watches a library tree and triggers a pass once changes have
// settled for the debounce period. Changes seen while a pass is running
// trigger another pass after it.
type Watcher struct {
	root            string
	debounce        time.Duration
	trigger         Triggerer
	onLibraryChange func()

	watcher *fsnotify.Watcher
	kick    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLibraryChangeHook calls fn whenever the library database changes,
// before the debounced trigger.
func WithLibraryChangeHook(fn func()) Option {
	return func(w *Watcher) { w.onLibraryChange = fn }
}

// New creates a Watcher for root. It must be started with Start.
func New(root string, debounce time.Duration, trigger Triggerer, opts ...Option) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		debounce: debounce,
		trigger:  trigger,
		watcher:  fw,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Start adds the library tree to the watch list and begins processing
// events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("watcher already running")
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	plog.Info("Watching library for changes", "source", w.root, "debounce", w.debounce)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// addTree watches dir and every non-hidden directory below it. fsnotify
// does not recurse on its own.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			plog.Debug("Skipping unreadable directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && util.IsHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			plog.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			plog.Warn("File watcher error", "error", err)

		case <-w.kick:
			timer.Reset(w.debounce)

		case <-timer.C:
			w.fire()
		}
	}
}

// handle reacts to one event and reports whether it should (re)arm the
// debounce timer.
func (w *Watcher) handle(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if event.Op == fsnotify.Chmod || util.IsHidden(name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				plog.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	if name == bookmeta.LibraryDBName && w.onLibraryChange != nil {
		w.onLibraryChange()
	}
	plog.Debug("Library change", "path", event.Name, "op", event.Op.String())
	return true
}

func (w *Watcher) fire() {
	res, err := w.trigger.Trigger(false)
	switch {
	case err != nil:
		plog.Warn("Failed to trigger sync after library change", "error", err)
	case res == syncstatus.TriggerAlreadyRunning:
		plog.Debug("Sync already running, retrying after debounce")
		select {
		case w.kick <- struct{}{}:
		default:
		}
	default:
		plog.Info("Library changed, sync triggered")
	}
}
