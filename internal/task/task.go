// Package task defines the unit of deferred work posted into a Connection's
// FIFO — a closure over the engine handle plus an eventual-value the task
// resolves or rejects. Tasks own their own error plumbing: a panic or
// returned error from the body never escapes into the worker goroutine that
// drives them (spec.md §4.1, §7).
package task

import (
	"context"

	"github.com/quicksqlite/corepool/internal/engine"
)

// Body is the work a Task performs against the engine handle, returning the
// Result to fulfil the Task's Future with, or an error to reject it with.
type Body func(ctx context.Context, h *engine.Handle) (engine.Result, error)

// Task is one unit of deferred work posted into a Connection.
type Task struct {
	Body   Body
	future *Future
}

// New creates a Task with a fresh, unresolved Future.
func New(body Body) *Task {
	return &Task{
		Body:   body,
		future: newFuture(),
	}
}

// Future returns the Task's eventual-value.
func (t *Task) Future() *Future { return t.future }

// Run executes the task body and resolves or rejects its Future. It never
// panics back into the caller: a panicking body is recovered and turned
// into a rejection, matching spec.md §4.1's requirement that a task
// exception never kill the worker thread.
func (t *Task) Run(ctx context.Context, h *engine.Handle) {
	defer func() {
		if r := recover(); r != nil {
			t.future.reject(panicError{r})
		}
	}()
	res, err := t.Body(ctx, h)
	if err != nil {
		t.future.reject(err)
		return
	}
	t.future.resolve(res)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	if err, ok := p.v.(error); ok {
		return "task panicked: " + err.Error()
	}
	return "task panicked"
}

// Future is a single-assignment eventual-value. It is deliberately minimal:
// no cancellation, no combinators — the host's own promise plumbing (out of
// scope per spec.md §1) builds on top of this by calling Wait(), which
// returns the Result and error once Done() fires.
type Future struct {
	done   chan struct{}
	result engine.Result
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(r engine.Result) {
	f.result = r
	close(f.done)
}

func (f *Future) reject(err error) {
	f.err = err
	close(f.done)
}

// Done returns a channel closed once the Future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the Future settles, honoring ctx cancellation.
func (f *Future) Wait(ctx context.Context) (engine.Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}
