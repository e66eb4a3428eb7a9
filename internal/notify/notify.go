// Package notify delivers configuration-change side effects to the UI
// layer: highlighting restarts, diagnostic refreshes, and reload
// suggestions.
//
// Deliveries are fire-and-forget posts onto a single-worker queue with
// UI affinity; callers never await them. Liveness is checked at
// execution time, not at enqueue time, so posts enqueued before a
// teardown are silently discarded when they finally run.
package notify

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

// UI is the collaborator the queue posts to. Implementations run on the
// queue's single worker and must not block indefinitely.
type UI interface {
	// RestartHighlighting re-runs highlighting for one script.
	RestartHighlighting(h script.Handle)

	// ShowDiagnostics refreshes the diagnostics display for one script.
	ShowDiagnostics(h script.Handle, diags []snapshot.Diagnostic)

	// SuggestReload surfaces a "configuration changed, reload?" prompt.
	SuggestReload(h script.Handle)
}

// Queue is the single-worker delivery queue.
type Queue struct {
	ui    UI
	alive func() bool
	log   zerolog.Logger

	tasks   chan func(ui UI)
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64

	// reported remembers the last diagnostic set delivered per file so
	// unchanged sets are not re-reported.
	repMu    sync.Mutex
	reported map[script.FileID][]snapshot.Diagnostic
}

// Option configures a Queue.
type Option func(*Queue)

// WithLiveness sets the liveness check consulted when a post executes.
// A false result discards the post.
func WithLiveness(alive func() bool) Option {
	return func(q *Queue) {
		q.alive = alive
	}
}

// WithQueueSize sets the buffered task capacity.
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.tasks = make(chan func(ui UI), n)
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) {
		q.log = log
	}
}

// NewQueue creates a queue delivering to ui and starts its worker.
func NewQueue(ui UI, opts ...Option) *Queue {
	q := &Queue{
		ui:       ui,
		alive:    func() bool { return true },
		log:      zerolog.Nop(),
		tasks:    make(chan func(ui UI), 256),
		done:     make(chan struct{}),
		reported: make(map[script.FileID][]snapshot.Diagnostic),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for task := range q.tasks {
		q.execute(task)
	}
}

// execute runs one task with panic recovery; a misbehaving UI must not
// kill the worker.
func (q *Queue) execute(task func(ui UI)) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("ui notification panicked")
		}
	}()
	task(q.ui)
}

// post enqueues a task without blocking; a full or closed queue drops
// the post and reports false.
func (q *Queue) post(task func(ui UI)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// RestartHighlighting posts highlighting restarts for the given files.
func (q *Queue) RestartHighlighting(files []script.Handle) {
	for _, h := range files {
		h := h
		q.deliver(func(ui UI) { ui.RestartHighlighting(h) })
	}
}

// deliver posts a UI task guarded by the liveness check; the check runs
// when the task executes, not when it is enqueued.
func (q *Queue) deliver(task func(ui UI)) {
	q.post(func(ui UI) {
		if !q.alive() {
			return
		}
		task(ui)
	})
}

// RefreshDiagnostics posts a diagnostics refresh for one file, unless
// the set equals (by value) the set most recently reported for it.
func (q *Queue) RefreshDiagnostics(h script.Handle, diags []snapshot.Diagnostic) {
	q.repMu.Lock()
	prev, seen := q.reported[h.ID]
	if seen && snapshot.EqualDiagnostics(prev, diags) {
		q.repMu.Unlock()
		return
	}
	stored := make([]snapshot.Diagnostic, len(diags))
	copy(stored, diags)
	q.reported[h.ID] = stored
	q.repMu.Unlock()

	q.deliver(func(ui UI) { ui.ShowDiagnostics(h, stored) })
}

// SuggestReload posts a reload suggestion for one file.
func (q *Queue) SuggestReload(h script.Handle) {
	q.deliver(func(ui UI) { ui.SuggestReload(h) })
}

// ForgetReported clears the dedup memory so the next refresh for every
// file is delivered even when its set is unchanged. Used when caches
// are cleared wholesale.
func (q *Queue) ForgetReported() {
	q.repMu.Lock()
	q.reported = make(map[script.FileID][]snapshot.Diagnostic)
	q.repMu.Unlock()
}

// Dropped returns the number of posts discarded due to a full queue.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Flush blocks until every post enqueued so far has executed. Test and
// shutdown aid.
func (q *Queue) Flush() {
	var wg sync.WaitGroup
	wg.Add(1)
	if !q.post(func(UI) { wg.Done() }) {
		return
	}
	wg.Wait()
}

// Close stops the worker after draining queued posts.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}
