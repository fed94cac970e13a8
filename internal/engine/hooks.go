package engine

import (
	"fmt"
)

// UpdateHookFunc receives one row-level change notification. opCode follows
// the engine's own convention (insert=18, update=23, delete=9, per
// spec.md §6). dbName and tableName name the database/table the change
// occurred in; rowID is the affected row's rowid.
type UpdateHookFunc func(opCode int, dbName, tableName string, rowID int64)

// CommitHookFunc is invoked immediately before a transaction commits. It
// must return 0 to allow the commit to proceed — returning nonzero turns
// the commit into a rollback, which this coordinator never wants, so the
// registered trampoline always returns 0 regardless of what the Go callback
// does with the notification.
type CommitHookFunc func()

// RollbackHookFunc is invoked when a transaction rolls back.
type RollbackHookFunc func()

// hookConn is the subset of the driver's raw connection type this package
// relies on for hook registration. The engine's C API exposes
// sqlite3_update_hook/commit_hook/rollback_hook directly; modernc.org/sqlite
// mirrors that surface on its connection type for driver-level callers (the
// same shape long-established by mattn/go-sqlite3, which this interface is
// modeled on). This is the one place the coordinator reaches past
// database/sql's generic interface into engine-specific API, consistent with
// spec.md §1 treating the engine's C-style API as a given, not
// re-specified here.
type hookConn interface {
	RegisterUpdateHook(func(op int, db, table string, rowid int64))
	RegisterCommitHook(func() int)
	RegisterRollbackHook(func())
}

// RegisterHooks wires update/commit/rollback notifications from h's
// connection to the supplied callbacks. Hooks fire synchronously on the
// engine's own call stack while it holds internal locks — callers must not
// call back into the engine from inside any of these callbacks (spec.md
// §4.4); RegisterHooks itself is unaware of that constraint and trusts its
// caller (the Pool's hook relay) to uphold it.
func (h *Handle) RegisterHooks(onUpdate UpdateHookFunc, onCommit CommitHookFunc, onRollback RollbackHookFunc) error {
	var hc hookConn
	err := h.conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(hookConn)
		if !ok {
			return fmt.Errorf("engine driver connection does not support hook registration")
		}
		hc = c
		return nil
	})
	if err != nil {
		return err
	}

	if onUpdate != nil {
		hc.RegisterUpdateHook(func(op int, db, table string, rowid int64) {
			onUpdate(op, db, table, rowid)
		})
	}
	if onCommit != nil {
		hc.RegisterCommitHook(func() int {
			onCommit()
			return 0 // must return zero so the engine proceeds with the commit
		})
	}
	if onRollback != nil {
		hc.RegisterRollbackHook(func() {
			onRollback()
		})
	}
	return nil
}

// Engine update opcodes, per spec.md §6.
const (
	OpDelete = 9
	OpInsert = 18
	OpUpdate = 23
)
