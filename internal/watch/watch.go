// Package watch observes script files on disk and reports debounced
// change events. The binder in cmd maps events to cache invalidation
// scopes; the watcher itself knows nothing about configurations.
package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher errors.
var (
	ErrClosed = errors.New("watcher is closed")
)

// Op classifies a change event. Rapid operations on the same path
// within the debounce window are merged.
type Op uint8

// Operations.
const (
	OpModify Op = 1 << iota
	OpCreate
	OpRemove
	OpRename
)

// Has reports whether op contains the given operation.
func (o Op) Has(op Op) bool {
	return o&op != 0
}

// Event is one debounced file change.
type Event struct {
	Path string
	Op   Op
}

type pending struct {
	op    Op
	timer *time.Timer
}

// Watcher wraps fsnotify with per-path debouncing.
type Watcher struct {
	fsw   *fsnotify.Watcher
	delay time.Duration
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool

	events chan Event
	errs   chan error
	done   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// New creates a watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		delay:   100 * time.Millisecond,
		log:     zerolog.Nop(),
		pending: make(map[string]*pending),
		events:  make(chan Event, 128),
		errs:    make(chan error, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w, nil
}

// Watch starts watching a file or directory (non-recursive).
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return w.fsw.Add(path)
}

// WatchRecursive watches a directory and all subdirectories.
func (w *Watcher) WatchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Watch(path)
		}
		return nil
	})
}

// Events returns the debounced event channel.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher and flushes pending events.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	close(w.events)
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
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// handle merges the raw event into the pending set and (re)arms the
// debounce timer for its path.
func (w *Watcher) handle(ev fsnotify.Event) {
	op := mapOp(ev.Op)
	if op == 0 {
		return
	}

	// New directories must be added for recursive coverage.
	if op.Has(OpCreate) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.log.Debug().Err(err).Str("path", ev.Name).Msg("watch new directory")
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if p, ok := w.pending[ev.Name]; ok {
		p.op |= op
		p.timer.Reset(w.delay)
		return
	}
	p := &pending{op: op}
	path := ev.Name
	p.timer = time.AfterFunc(w.delay, func() { w.fire(path) })
	w.pending[path] = p
}

// fire emits the coalesced event for path.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	closed := w.closed
	w.mu.Unlock()
	if !ok || closed {
		return
	}

	select {
	case w.events <- Event{Path: path, Op: p.op}:
	default:
		w.log.Warn().Str("path", path).Msg("event channel full, change dropped")
	}
}

func mapOp(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Write) {
		out |= OpModify
	}
	if op.Has(fsnotify.Create) {
		out |= OpCreate
	}
	if op.Has(fsnotify.Remove) {
		out |= OpRemove
	}
	if op.Has(fsnotify.Rename) {
		out |= OpRename
	}
	return out
}
