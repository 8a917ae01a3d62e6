// Package watcher turns file system activity in a folder into debounced
// ingestion events.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a burst of writes to one file
// is reported as a single event.
const DefaultDebounce = 500 * time.Millisecond

// Op is the kind of change reported for a file.
type Op int

const (
	Created Op = iota
	Modified
	Removed
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one debounced change to a watched file.
type Event struct {
	Path string
	Op   Op
}

// Watcher reports changes to files with watched extensions in one folder.
type Watcher struct {
	fs         *fsnotify.Watcher
	extensions map[string]bool
	debounce   time.Duration
}

// New creates a watcher for the given extensions (".txt", "pdf", ...).
// A negative debounce disables batching; zero uses DefaultDebounce.
func New(extensions []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if len(extensions) == 0 {
		extensions = []string{".txt", ".md", ".pdf"}
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{fs: fw, extensions: exts, debounce: debounce}, nil
}

// Watch starts monitoring dir. The returned channel is closed when ctx is
// done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.fs.Add(dir); err != nil {
		return nil, fmt.Errorf("watcher: adding %s: %w", dir, err)
	}

	events := make(chan Event, 100)
	go w.loop(ctx, events)
	return events, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context, out chan<- Event) {
	defer close(out)

	pending := make(map[string]Op)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	flush := func() bool {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if !emit(Event{Path: p, Op: pending[p]}) {
				return false
			}
			delete(pending, p)
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				flush()
				return
			}
			if !w.watched(ev.Name) {
				continue
			}
			op, ok := translate(ev.Op)
			if !ok {
				continue
			}
			if w.debounce < 0 {
				if !emit(Event{Path: ev.Name, Op: op}) {
					return
				}
				continue
			}
			pending[ev.Name] = coalesce(pending, ev.Name, op)
			timer.Reset(w.debounce)
		case <-timer.C:
			if !flush() {
				return
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) watched(path string) bool {
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

func translate(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Removed, true
	default:
		return 0, false
	}
}

// coalesce folds a new op into the pending one for path. A file created and
// then written within one window is still reported as created.
func coalesce(pending map[string]Op, path string, op Op) Op {
	prev, ok := pending[path]
	if !ok {
		return op
	}
	switch {
	case op == Removed:
		return Removed
	case prev == Created && op == Modified:
		return Created
	case prev == Removed:
		return Created
	default:
		return op
	}
}
