package vault

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a vault for markdown changes using fsnotify and delivers
// debounced event batches. New subdirectories are added to the watch set as
// they appear.
type Watcher struct {
	root      string
	opts      WatchOptions
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []NoteEvent

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for the vault root. Call Start to begin
// watching.
func NewWatcher(root string, opts WatchOptions) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", abs)
	}

	opts = opts.WithDefaults()
	events := make(chan []NoteEvent, opts.EventBufferSize)
	return &Watcher{
		root:      abs,
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, events),
		events:    events,
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the vault tree.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.addRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.started = true
	w.wg.Add(1)
	go w.run()
	return nil
}

// Events returns the channel of debounced event batches.
func (w *Watcher) Events() <-chan []NoteEvent {
	return w.events
}

// Stop stops watching and flushes pending events. The events channel is
// closed after the flush.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.done)
	err := w.fsw.Close()
	w.mu.Unlock()

	w.wg.Wait()
	w.debouncer.Stop()
	close(w.events)
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("vault watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// Watch directories as they are created so nested notes are seen.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignoredPath(event.Name) {
				if err := w.addRecursive(w.fsw, event.Name); err != nil {
					slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
	}

	if !isMarkdown(event.Name) || w.ignoredPath(event.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	op, ok := mapOp(event.Op)
	if !ok {
		return
	}
	w.debouncer.Add(NoteEvent{
		Path:      filepath.ToSlash(rel),
		Op:        op,
		Timestamp: time.Now(),
	})
}

func mapOp(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	case op.Has(fsnotify.Remove):
		return OpDelete, true
	case op.Has(fsnotify.Rename):
		// The old path disappears; a Create follows for the new path.
		return OpDelete, true
	default:
		return 0, false
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignoredName(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignoredName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return slices.Contains(w.opts.IgnoreDirs, name)
}

// ignoredPath reports whether any path segment under the root is ignored.
func (w *Watcher) ignoredPath(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "." && part != ".." && w.ignoredName(part) {
			return true
		}
	}
	return false
}
