// Package watch turns raw filesystem notifications into the
// higher-level create/remove/move/modify events the sender drives the
// sync protocol with.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Raqibreyaz/synclet/pkg/log"
)

// EventKind classifies one emitted event after rename pairing.
type EventKind int

const (
	EventCreate EventKind = iota
	EventRemove
	EventModify
	EventMove
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "CREATE"
	case EventRemove:
		return "REMOVE"
	case EventModify:
		return "MODIFY"
	case EventMove:
		return "MOVE"
	default:
		return "UNKNOWN"
	}
}

// Event is one adapted filesystem change, relative to the watched
// root. OldPath is only set for EventMove.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
	IsDir   bool
}

// pairWindow is the bounded delay the adapter waits for a rename's
// partner half before giving up and emitting a lone create/delete.
const pairWindow = 200 * time.Millisecond

// Adapter watches root recursively and emits Events on Out. fsnotify
// has no rename cookies (unlike inotify, which the original design was
// built against), so moves are paired heuristically: a Remove or Rename
// followed within pairWindow by a Create with the same base name, in any
// directory, is treated as a move.
type Adapter struct {
	root    string
	watcher *fsnotify.Watcher
	Out     chan Event

	mu      sync.Mutex
	pending map[string]pendingRemoval
	dirs    map[string]bool // rel path -> is a known directory, tracked since a removed path can no longer be stat'd
}

type pendingRemoval struct {
	path    string
	isDir   bool
	timer   *time.Timer
	created bool
}

func New(root string) (*Adapter, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		root:    root,
		watcher: w,
		Out:     make(chan Event, 64),
		pending: make(map[string]pendingRemoval),
		dirs:    make(map[string]bool),
	}

	if err := a.addTree(root); err != nil {
		w.Close()
		return nil, err
	}

	return a, nil
}

// addTree registers every directory under root with fsnotify, which
// (unlike inotify with IN_ONLYDIR recursion helpers) only watches one
// level at a time.
func (a *Adapter) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			a.dirs[rel] = true
		}
		return a.watcher.Add(path)
	})
}

// AddDir registers a newly created subdirectory (e.g. after a local
// DIR_CREATE from the peer) so creations inside it are also observed.
func (a *Adapter) AddDir(path string) error {
	return a.watcher.Add(path)
}

// Close releases the underlying fsnotify watcher.
func (a *Adapter) Close() error {
	return a.watcher.Close()
}

// Run drains fsnotify events until ctx is cancelled, emitting adapted
// Events on Out. Blocks; intended to run in its own goroutine, separate
// from whatever goroutine drives the Messenger.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.Out)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-a.watcher.Events:
			if !ok {
				return nil
			}
			a.handle(ev)

		case err, ok := <-a.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch: fsnotify error: %v", err)
		}
	}
}

func (a *Adapter) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(a.root, ev.Name)
	if err != nil {
		log.Warn("watch: event outside root %s: %v", ev.Name, err)
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		a.handleCreate(rel)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		a.handleRemove(rel)
	case ev.Has(fsnotify.Write):
		a.Out <- Event{Kind: EventModify, Path: rel}
	}
}

// handleRemove buffers the removal for pairWindow; if a Create for the
// same base name arrives before the timer fires, emit a Move instead.
func (a *Adapter) handleRemove(rel string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	isDir := a.dirs[rel]
	delete(a.dirs, rel)

	base := filepath.Base(rel)
	timer := time.AfterFunc(pairWindow, func() {
		a.mu.Lock()
		pr, ok := a.pending[base]
		a.mu.Unlock()
		if ok && !pr.created {
			a.Out <- Event{Kind: EventRemove, Path: pr.path, IsDir: pr.isDir}
		}
		a.mu.Lock()
		delete(a.pending, base)
		a.mu.Unlock()
	})

	a.pending[base] = pendingRemoval{path: rel, isDir: isDir, timer: timer}
}

// handleCreate checks whether it completes a pending removal's move
// pair before falling back to a lone Create.
func (a *Adapter) handleCreate(rel string) {
	base := filepath.Base(rel)

	isDir := false
	if info, err := os.Stat(filepath.Join(a.root, rel)); err == nil && info.IsDir() {
		isDir = true
	}

	a.mu.Lock()
	pr, ok := a.pending[base]
	if ok {
		pr.created = true
		a.pending[base] = pr
		pr.timer.Stop()
		delete(a.pending, base)
	}
	if isDir {
		a.dirs[rel] = true
	}
	a.mu.Unlock()

	if isDir {
		if err := a.AddDir(filepath.Join(a.root, rel)); err != nil {
			log.Warn("watch: could not add new directory %s: %v", rel, err)
		}
	}

	if ok {
		a.Out <- Event{Kind: EventMove, OldPath: pr.path, Path: rel, IsDir: pr.isDir || isDir}
		return
	}

	a.Out <- Event{Kind: EventCreate, Path: rel, IsDir: isDir}
}

// RewritePrefix maps a snapshot key that was under oldPrefix to live
// under newPrefix, used after a directory-level EventMove to re-key
// every affected file's snapshot entry in one pass.
func RewritePrefix(key, oldPrefix, newPrefix string) (string, bool) {
	if key == oldPrefix {
		return newPrefix, true
	}
	prefix := oldPrefix + string(filepath.Separator)
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return newPrefix + string(filepath.Separator) + key[len(prefix):], true
	}
	return key, false
}
