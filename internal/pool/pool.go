// Package pool implements the Pool component of spec.md §4.2: one write
// Connection and N read Connections, FIFO lock admission per class, task
// routing to the tenanted Connection, ATTACH/DETACH fan-out, and engine hook
// wiring through a Hook Relay onto the host's dispatch tier.
//
// Admission (ReadLock, WriteLock, CloseContext, QueueInContext, Attach,
// Detach) is the "admission tier" of spec.md §5: the host must serialize
// all calls onto one thread. The Pool does not take an internal lock around
// its queue/tenant bookkeeping — only Connection has its own mutex. Calling
// these methods concurrently from multiple goroutines is a caller error,
// not a condition this package guards against, by design.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quicksqlite/corepool/internal/conn"
	"github.com/quicksqlite/corepool/internal/engine"
	"github.com/quicksqlite/corepool/internal/task"
)

// LockClass is the kind of lock tenancy a context requests.
type LockClass int

const (
	Read LockClass = iota
	Write
)

// Config describes how to open a Pool.
type Config struct {
	DBName             string
	DocumentsPath      string
	Location           string // appended under DocumentsPath, per spec.md §6
	NumReadConnections int
	Dispatcher         Dispatcher
	Callbacks          Callbacks
	Logger             *slog.Logger
}

// Pool owns one write Connection and N read Connections for a single
// database name.
type Pool struct {
	dbName string
	path   string

	write *conn.Connection
	reads []*conn.Connection

	readQueue  []string
	writeQueue []string

	compatMode bool // N == 0: every read lock routes to the write connection

	dispatcher Dispatcher
	callbacks  Callbacks
	log        *slog.Logger
}

// Open constructs the write Connection with {ReadWrite, Create, FullMutex}
// flags and N read Connections with {ReadOnly, FullMutex}. On any
// connection failure it unwinds already-opened Connections and returns the
// underlying OpenFailedError.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = inlineDispatcher
	}

	dir := cfg.DocumentsPath
	if cfg.Location != "" {
		dir = filepath.Join(dir, cfg.Location)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &OpenFailedError{Message: err.Error()}
	}
	path := filepath.Join(dir, cfg.DBName)

	write, err := conn.Open(ctx, "write", path, engine.OpenFlags{Writable: true, FullMutex: true}, log)
	if err != nil {
		return nil, err
	}

	reads := make([]*conn.Connection, 0, cfg.NumReadConnections)
	for i := 0; i < cfg.NumReadConnections; i++ {
		name := fmt.Sprintf("read-%d", i+1)
		rc, err := conn.Open(ctx, name, path, engine.OpenFlags{ReadOnly: true, FullMutex: true}, log)
		if err != nil {
			for _, already := range reads {
				already.Close()
			}
			write.Close()
			return nil, err
		}
		reads = append(reads, rc)
	}

	p := &Pool{
		dbName:     cfg.DBName,
		path:       path,
		write:      write,
		reads:      reads,
		compatMode: cfg.NumReadConnections == 0,
		dispatcher: dispatcher,
		callbacks:  cfg.Callbacks,
		log:        log,
	}

	if err := p.wireHooks(); err != nil {
		p.CloseAll()
		return nil, err
	}

	return p, nil
}

// DBName returns the database name this Pool serves.
func (p *Pool) DBName() string { return p.dbName }

// Path returns the resolved engine file path.
func (p *Pool) Path() string { return p.path }

// wireHooks registers update/commit/rollback hooks on the write Connection
// only (spec.md §4.2) and relays each notification through the Hook Relay
// onto the host dispatch tier.
func (p *Pool) wireHooks() error {
	return p.write.Handle().RegisterHooks(
		func(op int, dbInternal, table string, rowid int64) {
			p.dispatcher(func() {
				p.callbacks.tableUpdate(TableUpdate{
					DBName:         p.dbName,
					DBNameInternal: dbInternal,
					OpCode:         op,
					TableName:      table,
					RowID:          rowid,
				})
			})
		},
		func() {
			p.dispatcher(func() {
				p.callbacks.transactionFinalized(TransactionFinalized{DBName: p.dbName, Event: EventCommit})
			})
		},
		func() {
			p.dispatcher(func() {
				p.callbacks.transactionFinalized(TransactionFinalized{DBName: p.dbName, Event: EventRollback})
			})
		},
	)
}

// ReadLock requests a read-class lock tenancy for id. In compatibility mode
// (N == 0) it delegates to WriteLock — a routing rule, not a state machine
// change (spec.md §9).
func (p *Pool) ReadLock(id string) {
	if p.compatMode {
		p.WriteLock(id)
		return
	}

	// Preserve FIFO even when a slot is free, to avoid starving earlier
	// waiters (spec.md §4.2).
	if len(p.readQueue) > 0 {
		p.readQueue = append(p.readQueue, id)
		return
	}

	for _, rc := range p.reads {
		if rc.IsEmptyLock() {
			p.activate(rc, id)
			return
		}
	}
	p.readQueue = append(p.readQueue, id)
}

// WriteLock requests the write-class lock tenancy for id.
func (p *Pool) WriteLock(id string) {
	if p.write.IsEmptyLock() {
		p.activate(p.write, id)
		return
	}
	p.writeQueue = append(p.writeQueue, id)
}

// activate binds id to c and synchronously fires onContextAvailable, per
// spec.md §5: "activations and tenancy transitions always precede the
// notification to the host".
func (p *Pool) activate(c *conn.Connection, id string) {
	c.ActivateLock(id)
	p.callbacks.contextAvailable(p.dbName, id)
}

// findTenantConn locates the Connection currently tenanted by id, checking
// the write Connection first, then each read Connection in order.
func (p *Pool) findTenantConn(id string) *conn.Connection {
	if p.write.MatchesLock(id) {
		return p.write
	}
	for _, rc := range p.reads {
		if rc.MatchesLock(id) {
			return rc
		}
	}
	return nil
}

// CloseContext releases id's tenancy. If id is not the tenant of any
// Connection this is a no-op (spec.md T.7). If the released Connection's
// class has a waiting context, that context is activated directly — the
// tenant transitions straight from id to the new id, without passing
// through the sentinel. Otherwise the Connection is drained and cleared.
func (p *Pool) CloseContext(id string) {
	c := p.findTenantConn(id)
	if c == nil {
		return
	}

	if c == p.write {
		if len(p.writeQueue) > 0 {
			next := p.writeQueue[0]
			p.writeQueue = p.writeQueue[1:]
			p.activate(c, next)
			return
		}
		c.ClearLock()
		return
	}

	if len(p.readQueue) > 0 {
		next := p.readQueue[0]
		p.readQueue = p.readQueue[1:]
		p.activate(c, next)
		return
	}
	c.ClearLock()
}

// QueueInContext locates the Connection tenanted by id and forwards t to
// its FIFO. This is the only way tasks reach a Connection (spec.md §4.2).
func (p *Pool) QueueInContext(id string, t *task.Task) error {
	c := p.findTenantConn(id)
	if c == nil {
		return &ContextUnavailableError{ContextID: id}
	}
	return c.QueueWork(t)
}

// allConnections returns every Connection: the write Connection followed by
// the read Connections.
func (p *Pool) allConnections() []*conn.Connection {
	out := make([]*conn.Connection, 0, len(p.reads)+1)
	out = append(out, p.write)
	out = append(out, p.reads...)
	return out
}

// allUntenanted reports whether every Connection currently has tenant ==
// sentinel — the precondition ATTACH/DETACH require (spec.md §4.2).
func (p *Pool) allUntenanted() bool {
	for _, c := range p.allConnections() {
		if !c.IsEmptyLock() {
			return false
		}
	}
	return true
}

// Attach executes ATTACH DATABASE on every Connection in order, keeping
// their views consistent. Requires every Connection to be untenanted; on
// any failure mid-fan-out it issues a compensating DETACH of alias and
// returns the underlying error.
func (p *Pool) Attach(ctx context.Context, fileToAttach, alias string) error {
	if !p.allUntenanted() {
		return &AttachBlockedError{Reason: "some connections were locked"}
	}

	stmt := fmt.Sprintf("ATTACH DATABASE %s AS %s", quoteLiteral(fileToAttach), quoteIdent(alias))
	var done []*conn.Connection
	for _, c := range p.allConnections() {
		if err := c.Handle().ExecLiteral(ctx, stmt); err != nil {
			for _, d := range done {
				_ = d.Handle().ExecLiteral(ctx, fmt.Sprintf("DETACH DATABASE %s", quoteIdent(alias)))
			}
			return err
		}
		done = append(done, c)
	}
	return nil
}

// Detach executes DETACH DATABASE on every Connection. Requires every
// Connection to be untenanted.
func (p *Pool) Detach(ctx context.Context, alias string) error {
	if !p.allUntenanted() {
		return &AttachBlockedError{Reason: "some connections were locked"}
	}

	stmt := fmt.Sprintf("DETACH DATABASE %s", quoteIdent(alias))
	for _, c := range p.allConnections() {
		if err := c.Handle().ExecLiteral(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// RefreshSchema posts a schema probe to the write Connection and waits for
// it to settle.
func (p *Pool) RefreshSchema(ctx context.Context) error {
	f, err := p.write.RefreshSchema(ctx)
	if err != nil {
		return err
	}
	_, err = f.Wait(ctx)
	return err
}

// Stats is a point-in-time snapshot of Pool occupancy for the admin/metrics
// surface.
type Stats struct {
	DBName          string   `json:"dbName"`
	WriteTenant     string   `json:"writeTenant,omitempty"`
	WriteQueueDepth int      `json:"writeQueueDepth"`
	ReadTenants     []string `json:"readTenants,omitempty"`
	ReadQueueDepth  int      `json:"readQueueDepth"`
	CompatMode      bool     `json:"compatMode"`
}

// Stats returns a snapshot of current Pool occupancy.
func (p *Pool) Stats() Stats {
	s := Stats{
		DBName:          p.dbName,
		WriteTenant:     p.write.Tenant(),
		WriteQueueDepth: len(p.writeQueue),
		ReadQueueDepth:  len(p.readQueue),
		CompatMode:      p.compatMode,
	}
	for _, rc := range p.reads {
		s.ReadTenants = append(s.ReadTenants, rc.Tenant())
	}
	return s
}

// CloseAll closes every Connection, draining outstanding work first.
func (p *Pool) CloseAll() error {
	var firstErr error
	for _, c := range p.allConnections() {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
