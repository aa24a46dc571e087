// Package watcher subscribes to filesystem change events under one
// directory tree and forwards surviving paths to a caller-supplied sink.
// It never blocks the caller: events are read on their own goroutine and
// forwarded over a buffered channel.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher recursively watches Root, dropping any event whose path matches
// Filter, and forwarding the rest on Paths(). Newly created subdirectories
// are added to the underlying fsnotify watch automatically, matching the
// corpus's recursive-watch convention (addRecursive over filepath.WalkDir).
type Watcher struct {
	root   string
	filter *regexp.Regexp
	log    *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	enabled bool
	paths   chan string
	done    chan struct{}
}

// New creates a Watcher over root. Events are not delivered until Start is
// called. filter matches paths that should be *dropped*.
func New(root string, filter *regexp.Regexp, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		root:    root,
		filter:  filter,
		log:     log,
		enabled: true,
		paths:   make(chan string, 256),
	}
}

// Paths returns the channel of surviving event paths. Callers must drain
// it; the channel is never closed while the Watcher is running.
func (w *Watcher) Paths() <-chan string {
	return w.paths
}

// Start subscribes to the filesystem and begins forwarding events. It is
// safe to call again after Close to resubscribe (the noop gate and the
// cron trigger both recreate a dropped subscription this way). When a
// subscription already exists, Start does nothing; a Disabled watcher is
// resumed with Enable, not Start.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}
	if err := addRecursive(fsw, w.root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watcher: subscribing to %s: %w", w.root, err)
	}

	w.fsw = fsw
	w.enabled = true
	w.done = make(chan struct{})
	go w.loop(fsw, w.done)
	return nil
}

// Close tears down the current subscription. Start may be called again
// afterward to resubscribe.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	w.done = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	if done != nil {
		<-done
	}
	return err
}

// Disable stops delivering events without tearing down the WalkDir-built
// subscription state; used by the noop gate (spec.md §4.2) to pause a
// syncer without losing the recursive watch list. Idempotent.
func (w *Watcher) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = false
}

// Enable resumes delivering events after Disable. Idempotent.
func (w *Watcher) Enable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = true
}

// Active reports whether a live fsnotify subscription exists.
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fsw != nil
}

func (w *Watcher) isEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.isEnabled() {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := addRecursive(fsw, ev.Name); err != nil {
						w.log.Warn("watcher: failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if w.filter != nil && w.filter.MatchString(ev.Name) {
				continue
			}
			select {
			case w.paths <- ev.Name:
			default:
				w.log.Warn("watcher: paths channel full, dropping event", "path", ev.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			// Transient event-source errors are logged; the subscription is
			// recreated on the next trigger (noop transition, cron tick, or
			// bootstrap), per spec.md §4.1 — the watcher does not attempt to
			// reconstruct missed events itself.
			w.log.Error("watcher: fsnotify error", "error", err)
		}
	}
}

// addRecursive adds root and every directory beneath it to fsw.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
}
