// Package filewatch observes a directory tree and collapses bursts of
// filesystem events into single change notifications. Editor atomic
// saves (delete+create+rename) therefore trigger one reload, not three.
package filewatch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oklog/ulid/v2"
)

// DefaultQuietWindow is the debounce window: a change signal fires only
// after this much time passes with no further qualifying events.
const DefaultQuietWindow = 100 * time.Millisecond

// ChangeType describes the kind of file change observed. Granularity
// is platform-dependent; renames may surface as create+delete pairs.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// Event is a debounced change notification. When a burst collapses,
// only the last raw event's metadata survives.
type Event struct {
	Path string
	Type ChangeType
	Time time.Time
}

// Handler receives debounced change notifications.
type Handler func(Event)

// Watcher observes a root directory tree recursively. fsnotify watches
// are per-directory, so recursion is polyfilled by walking the tree at
// start and adding directories as they appear.
type Watcher struct {
	root  string
	quiet time.Duration
	fsw   *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending Event
	subs    map[string]Handler
	started bool
	stopped bool

	done chan struct{}
}

// New creates a watcher for the directory tree rooted at root. The
// root must exist and be a directory. quiet <= 0 selects the default
// 100 ms window.
func New(root string, quiet time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filewatch: resolving %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("filewatch: root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filewatch: root %q is not a directory", abs)
	}
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatch: creating watcher: %w", err)
	}

	w := &Watcher{
		root:  abs,
		quiet: quiet,
		fsw:   fsw,
		subs:  make(map[string]Handler),
		done:  make(chan struct{}),
	}

	if err := w.watchTree(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the watched root directory.
func (w *Watcher) Root() string {
	return w.root
}

// Subscribe registers a handler for debounced change events and
// returns its subscription ID.
func (w *Watcher) Subscribe(handler Handler) string {
	if handler == nil {
		return ""
	}
	id := ulid.Make().String()
	w.mu.Lock()
	w.subs[id] = handler
	w.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are a no-op.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

// Start begins delivering events. It returns immediately; delivery
// happens on a background goroutine until Stop is called. Calling
// Start again is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.loop()
}

// Stop cancels any pending debounce timer, releases the filesystem
// watch handle, and drops all subscriptions. Calling it again is a
// no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.subs = make(map[string]Handler)
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are transient (queue overflow, races with
			// deleted directories); the next event still debounces.
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	// New directories must be watched before anything inside them
	// changes, ignored or not.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.watchTree(ev.Name)
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	if Ignored(rel) {
		return
	}

	// Chmod-only events carry no content change.
	change, ok := classify(ev.Op)
	if !ok {
		return
	}

	w.observe(Event{Path: ev.Name, Type: change, Time: time.Now()})
}

// observe applies single-timer-replacement debouncing: each qualifying
// event cancels the pending timer and starts a fresh quiet window, so
// at most one timer is outstanding and only the newest metadata fires.
// The generation counter fences expiry callbacks that lost the race
// with a replacement: a timer may expire while observe holds the lock,
// in which case Stop comes too late and the stale callback still runs.
func (w *Watcher) observe(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending = ev
	w.gen++
	gen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.quiet, func() { w.fire(gen) })
}

// fire delivers the pending event to subscribers unless the quiet
// window was restarted after this timer was armed.
func (w *Watcher) fire(gen uint64) {
	w.mu.Lock()
	if w.stopped || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	ev := w.pending
	handlers := make([]Handler, 0, len(w.subs))
	for _, h := range w.subs {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, relErr := filepath.Rel(w.root, path)
			if relErr == nil && Ignored(rel) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("filewatch: watching %q: %w", path, err)
		}
		return nil
	})
}

func classify(op fsnotify.Op) (ChangeType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return ChangeCreated, true
	case op.Has(fsnotify.Write):
		return ChangeModified, true
	case op.Has(fsnotify.Rename):
		return ChangeRenamed, true
	case op.Has(fsnotify.Remove):
		return ChangeDeleted, true
	default:
		return "", false
	}
}

// dependency directory segments that never trigger reloads.
// Version-control directories are covered by the hidden-segment rule.
var ignoredSegments = map[string]struct{}{
	"node_modules":     {},
	"bower_components": {},
	"vendor":           {},
}

// OS metadata and editor artifacts ignored by base name.
var ignoredNames = map[string]struct{}{
	".DS_Store":   {},
	"Thumbs.db":   {},
	"desktop.ini": {},
	"4913":        {}, // vim write-check probe
}

// Ignored reports whether a path is filtered out of change detection:
// hidden files, backup/temporary/log files, dependency and VCS
// directories, OS metadata, and editor swap files.
func Ignored(path string) bool {
	base := filepath.Base(path)

	if _, ok := ignoredNames[base]; ok {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".tmp", ".log", ".swp", ".swo", ".swx":
		return true
	}

	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := ignoredSegments[seg]; ok {
			return true
		}
		// Hidden segments cover VCS directories (.git, .hg, .svn) and
		// anything else inside dot-directories.
		if len(seg) > 1 && strings.HasPrefix(seg, ".") && seg != ".." {
			return true
		}
	}
	return false
}
