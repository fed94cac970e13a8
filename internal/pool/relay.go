package pool

// Dispatcher posts fn onto the host's single-threaded dispatch queue for
// later, asynchronous execution. The host supplies this at Pool-open time;
// a typical implementation enqueues fn onto a runloop or channel drained by
// exactly one goroutine.
//
// This is the Hook Relay component of spec.md §4.4: engine hooks fire on
// the engine's own thread while it holds internal locks, so it is unsafe to
// call back into the engine from inside one. The relay captures the
// notification by value and posts it through Dispatcher so the host-side
// handler runs later, free to re-enter the engine through the normal
// lock/queue paths.
type Dispatcher func(fn func())

// inlineDispatcher runs fn synchronously. It exists for tests and for hosts
// that have no dispatch queue of their own (e.g. a single-goroutine batch
// tool) — using it from inside an actual engine hook would violate the
// no-reentrancy rule, so production wiring must supply a real asynchronous
// Dispatcher.
func inlineDispatcher(fn func()) { fn() }
