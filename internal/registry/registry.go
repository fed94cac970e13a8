// Package registry implements the Registry component of spec.md §4.3: a
// name -> Pool map owning every open database, forwarding lock admission and
// task routing down to the right Pool.
//
// Registry bookkeeping (the map itself) lives in the same admission tier as
// Pool (spec.md §5): the host must serialize Open/Close/lock calls
// onto one thread. A read-mostly atomic.Value snapshot — the same technique
// the teacher's router.go uses for its tenant table — lets Stats/Names be
// read from any goroutine (the admin API, metrics scraping) without
// contending with that admission thread.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/quicksqlite/corepool/internal/pool"
	"github.com/quicksqlite/corepool/internal/task"
)

// AlreadyOpenError is returned by Open when dbName is already open.
type AlreadyOpenError struct {
	DBName string
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("database %q is already open", e.DBName)
}

// NotOpenError is returned by any forwarding call naming a database that
// isn't currently open.
type NotOpenError struct {
	DBName string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("database %q is not open", e.DBName)
}

// snapshot is the immutable map swapped atomically on every Open/Close.
type snapshot struct {
	pools map[string]*pool.Pool
}

// Registry owns every open Pool, keyed by database name.
type Registry struct {
	documentsPath string
	dispatcher    pool.Dispatcher
	log           *slog.Logger

	current atomic.Value // holds *snapshot
}

// New constructs an empty Registry. documentsPath is the root directory
// under which every Pool's engine file is resolved (spec.md §6); dispatcher
// is shared by every Pool opened through this Registry so all engine hooks
// relay onto the same host dispatch tier.
func New(documentsPath string, dispatcher pool.Dispatcher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{documentsPath: documentsPath, dispatcher: dispatcher, log: log}
	r.current.Store(&snapshot{pools: map[string]*pool.Pool{}})
	return r
}

func (r *Registry) snap() *snapshot {
	return r.current.Load().(*snapshot)
}

// swap installs a new snapshot built from mutate(old map). mutate must
// return a fresh map — the old one is never modified in place, so concurrent
// readers of the prior snapshot never observe a partial update.
func (r *Registry) swap(mutate func(old map[string]*pool.Pool) map[string]*pool.Pool) {
	old := r.snap().pools
	r.current.Store(&snapshot{pools: mutate(old)})
}

// Open opens a new Pool for dbName and registers it. Fails with
// AlreadyOpenError if dbName is already open.
func (r *Registry) Open(ctx context.Context, dbName string, numReadConnections int, location string, callbacks pool.Callbacks) error {
	if _, ok := r.snap().pools[dbName]; ok {
		return &AlreadyOpenError{DBName: dbName}
	}

	p, err := pool.Open(ctx, pool.Config{
		DBName:             dbName,
		DocumentsPath:      r.documentsPath,
		Location:           location,
		NumReadConnections: numReadConnections,
		Dispatcher:         r.dispatcher,
		Callbacks:          callbacks,
		Logger:             r.log,
	})
	if err != nil {
		return err
	}

	r.swap(func(old map[string]*pool.Pool) map[string]*pool.Pool {
		next := make(map[string]*pool.Pool, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[dbName] = p
		return next
	})
	return nil
}

// Get returns the Pool registered for dbName, or nil if none is open.
func (r *Registry) Get(dbName string) *pool.Pool {
	return r.snap().pools[dbName]
}

// require returns the Pool for dbName or NotOpenError.
func (r *Registry) require(dbName string) (*pool.Pool, error) {
	p := r.Get(dbName)
	if p == nil {
		return nil, &NotOpenError{DBName: dbName}
	}
	return p, nil
}

// Close closes and unregisters dbName's Pool. No-op if dbName isn't open,
// matching CloseContext's "unknown id is a no-op" posture (spec.md T.7)
// applied one level up.
func (r *Registry) Close(dbName string) error {
	p := r.Get(dbName)
	if p == nil {
		return nil
	}

	r.swap(func(old map[string]*pool.Pool) map[string]*pool.Pool {
		next := make(map[string]*pool.Pool, len(old))
		for k, v := range old {
			if k != dbName {
				next[k] = v
			}
		}
		return next
	})

	return p.CloseAll()
}

// ReadLock forwards a read-class lock request to dbName's Pool.
func (r *Registry) ReadLock(dbName, contextID string) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	p.ReadLock(contextID)
	return nil
}

// WriteLock forwards a write-class lock request to dbName's Pool.
func (r *Registry) WriteLock(dbName, contextID string) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	p.WriteLock(contextID)
	return nil
}

// CloseContext forwards a lock release to dbName's Pool.
func (r *Registry) CloseContext(dbName, contextID string) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	p.CloseContext(contextID)
	return nil
}

// QueueInContext forwards a task to the Connection tenanted by contextID in
// dbName's Pool.
func (r *Registry) QueueInContext(dbName, contextID string, t *task.Task) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	return p.QueueInContext(contextID, t)
}

// Attach forwards an ATTACH fan-out to dbName's Pool.
func (r *Registry) Attach(ctx context.Context, dbName, fileToAttach, alias string) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	return p.Attach(ctx, fileToAttach, alias)
}

// Detach forwards a DETACH fan-out to dbName's Pool.
func (r *Registry) Detach(ctx context.Context, dbName, alias string) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	return p.Detach(ctx, alias)
}

// RefreshSchema forwards a schema refresh to dbName's Pool.
func (r *Registry) RefreshSchema(ctx context.Context, dbName string) error {
	p, err := r.require(dbName)
	if err != nil {
		return err
	}
	return p.RefreshSchema(ctx)
}

// Names returns every currently open database name, in no particular order.
func (r *Registry) Names() []string {
	pools := r.snap().pools
	out := make([]string, 0, len(pools))
	for name := range pools {
		out = append(out, name)
	}
	return out
}

// Stats returns a point-in-time snapshot of every open Pool's occupancy, for
// the admin/metrics surface.
func (r *Registry) Stats() []pool.Stats {
	pools := r.snap().pools
	out := make([]pool.Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	return out
}

// CloseAll closes every open Pool and empties the Registry.
func (r *Registry) CloseAll() error {
	pools := r.snap().pools
	r.current.Store(&snapshot{pools: map[string]*pool.Pool{}})

	var firstErr error
	for _, p := range pools {
		if err := p.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
