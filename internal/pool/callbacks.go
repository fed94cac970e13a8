package pool

// TransactionEvent identifies whether a finalized transaction committed or
// rolled back, per spec.md §6.
type TransactionEvent int

const (
	EventCommit TransactionEvent = iota
	EventRollback
)

// TransactionFinalized is the payload forwarded to onTransactionFinalized.
type TransactionFinalized struct {
	DBName string
	Event  TransactionEvent
}

// TableUpdate is the payload forwarded to onTableUpdate. DBNameInternal is
// the engine's own name for the database the change happened against (e.g.
// "main", or an ATTACHed alias) — distinct from DBName, this Pool's host-
// facing name, per §6's onTableUpdate(dbNameBytes, opCode, dbNameInternal,
// tableName, rowId) signature.
type TableUpdate struct {
	DBName         string
	DBNameInternal string
	OpCode         int
	TableName      string
	RowID          int64
}

// Callbacks is the capability-based replacement for the source's raw C
// function pointers (spec.md §9): a value holding three closures the Pool
// invokes directly, rather than storing bare function pointers and routing
// through a trampoline keyed by an opaque back-pointer. OnTableUpdate and
// OnTransactionFinalized are invoked on the host's own dispatch tier — the
// Hook Relay is what gets the update/commit/rollback notifications off the
// engine's calling thread and onto that dispatch tier before these fire
// (spec.md §4.4). OnContextAvailable is invoked from the admission tier.
type Callbacks struct {
	// OnContextAvailable fires once a queued request becomes tenant of a
	// Connection. Called synchronously from the admission tier, immediately
	// after the tenancy transition (spec.md §5: "activations and tenancy
	// transitions always precede the notification to the host").
	OnContextAvailable func(dbName, contextID string)

	// OnTableUpdate relays one row-level change notification.
	OnTableUpdate func(TableUpdate)

	// OnTransactionFinalized relays one commit/rollback notification.
	OnTransactionFinalized func(TransactionFinalized)
}

func (c Callbacks) contextAvailable(dbName, contextID string) {
	if c.OnContextAvailable != nil {
		c.OnContextAvailable(dbName, contextID)
	}
}

func (c Callbacks) tableUpdate(u TableUpdate) {
	if c.OnTableUpdate != nil {
		c.OnTableUpdate(u)
	}
}

func (c Callbacks) transactionFinalized(f TransactionFinalized) {
	if c.OnTransactionFinalized != nil {
		c.OnTransactionFinalized(f)
	}
}
