// Package conn implements the Connection component of spec.md §4.1: one
// engine handle paired with a dedicated worker goroutine that drains a FIFO
// of tasks strictly in submission order. It is the sole multithreaded
// synchronization primitive in the coordinator core — Pool-level admission
// is serialized by the host onto one thread and never locks internally
// (spec.md §5).
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quicksqlite/corepool/internal/engine"
	"github.com/quicksqlite/corepool/internal/task"
)

// EmptyLockID is the sentinel tenant value meaning "no tenant" (spec.md §3).
const EmptyLockID = ""

// ErrConnectionClosed is returned by QueueWork once Close has been called.
var ErrConnectionClosed = errors.New("connection closed")

// Connection owns one engine handle and a dedicated worker thread that
// serializes tasks posted to it. See spec.md §4.1 for the full contract.
type Connection struct {
	mu   sync.Mutex
	cond *sync.Cond

	handle *engine.Handle
	name   string

	tenant string
	fifo   []*task.Task
	busy   bool
	done   bool
	closed bool

	workerDone chan struct{}
	log        *slog.Logger
}

// Open opens an engine handle for this Connection and configures it before
// returning, per spec.md §4.1. flags.Writable selects the write-connection
// pragmas (WAL, journal size limit); read connections omit them.
func Open(ctx context.Context, name, path string, flags engine.OpenFlags, log *slog.Logger) (*Connection, error) {
	h, err := engine.Open(ctx, path, flags)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Connection{
		handle:     h,
		name:       name,
		tenant:     EmptyLockID,
		workerDone: make(chan struct{}),
		log:        log,
	}
	c.cond = sync.NewCond(&c.mu)

	go c.runWorker()
	return c, nil
}

// Handle returns the underlying engine handle — used by the Pool for hook
// registration at open and for ATTACH/DETACH fan-out, which requires every
// Connection to be untenanted first (spec.md §4.2).
func (c *Connection) Handle() *engine.Handle { return c.handle }

// QueueWork appends t to the FIFO and wakes the worker. Fails with
// ErrConnectionClosed if Close has been called; the closed check and the
// enqueue happen atomically under the Connection mutex.
func (c *Connection) QueueWork(t *task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.fifo = append(c.fifo, t)
	c.cond.Broadcast()
	return nil
}

// ActivateLock binds id as this Connection's tenant.
func (c *Connection) ActivateLock(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenant = id
}

// ClearLock waits for the FIFO to empty and no task to be running, then
// resets the tenant to the sentinel. This drain-before-clear rule is
// load-bearing (spec.md §9): a tenant must never release its connection
// while tasks it submitted are still pending or executing.
func (c *Connection) ClearLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.fifo) > 0 || c.busy {
		c.cond.Wait()
	}
	c.tenant = EmptyLockID
}

// MatchesLock reports whether id is this Connection's current tenant.
func (c *Connection) MatchesLock(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenant == id
}

// IsEmptyLock reports whether this Connection has no tenant.
func (c *Connection) IsEmptyLock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenant == EmptyLockID
}

// Tenant returns the current tenant id (possibly the sentinel).
func (c *Connection) Tenant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenant
}

// QueueDepth returns the number of tasks currently queued (not counting one
// in flight), used by the admin/metrics surface.
func (c *Connection) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fifo)
}

// Busy reports whether a task is currently executing on this Connection.
func (c *Connection) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// RefreshSchema posts a task that probes sqlite_master and returns a Future
// that fulfils on success or rejects with a SchemaRefreshFailedError.
func (c *Connection) RefreshSchema(ctx context.Context) (*task.Future, error) {
	t := task.New(func(ctx context.Context, h *engine.Handle) (engine.Result, error) {
		return engine.Result{}, h.RefreshSchema(ctx)
	})
	if err := c.QueueWork(t); err != nil {
		return nil, err
	}
	return t.Future(), nil
}

// Close refuses new work, drains outstanding work, stops the worker, and
// closes the engine handle. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.done = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.workerDone
	return c.handle.Close()
}

// runWorker is the Idle -> Running -> Idle state machine described in
// spec.md §4.1. It sleeps on the condition until the FIFO is non-empty or
// done is set, runs tasks strictly in FIFO order, and broadcasts after each
// one so anything waiting on the drain condition (ClearLock, Close) can
// observe empty ∧ ¬busy.
func (c *Connection) runWorker() {
	defer close(c.workerDone)

	for {
		c.mu.Lock()
		for len(c.fifo) == 0 && !c.done {
			c.cond.Wait()
		}
		if len(c.fifo) == 0 && c.done {
			c.mu.Unlock()
			return
		}

		t := c.fifo[0]
		c.fifo = c.fifo[1:]
		c.busy = true
		c.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("task panicked on connection", "connection", c.name, "panic", r)
				}
			}()
			t.Run(context.Background(), c.handle)
		}()

		c.mu.Lock()
		c.busy = false
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Name returns the Connection's diagnostic name (e.g. "write" or "read-2").
func (c *Connection) Name() string { return c.name }

func (c *Connection) String() string {
	return fmt.Sprintf("Connection{name=%s tenant=%q}", c.name, c.Tenant())
}
