// Package engine binds the coordinator to its embedded relational database
// engine. The engine itself — SQLite, reached through the pure-Go
// modernc.org/sqlite driver — is treated as an external collaborator: its
// SQL semantics and file format are assumed, not re-specified here. This
// package only adapts database/sql to the single-persistent-connection,
// hook-aware usage the coordinator needs.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// OpenFlags selects how a Handle's single connection is opened.
type OpenFlags struct {
	ReadOnly  bool
	Writable  bool // enables WAL + larger journal size limit
	FullMutex bool // documents intent; the engine is always opened single-connection here
}

// busyTimeoutMillis and journalSizeLimitBytes are fixed per spec.md §6 — not
// configurable.
const (
	busyTimeoutMillis   = 30000
	journalSizeLimitBytes = 6 * 1024 * 1024 // 6 MiB
)

// OpenFailedError reports that the engine refused to open or configure a
// connection.
type OpenFailedError struct {
	Path    string
	Message string
}

func (e *OpenFailedError) Error() string {
	return fmt.Sprintf("open %s failed: %s", e.Path, e.Message)
}

// EngineError passes through a prepare/step failure from the engine.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string { return e.Message }

// Handle owns exactly one persistent engine connection. database/sql's own
// pooling is defeated deliberately: MaxOpenConns is pinned to 1 and the
// single *sql.Conn is obtained once via Conn(ctx) and held for the Handle's
// lifetime, never returned to the driver so a second logical connection can
// never be silently multiplexed onto the same file descriptor.
type Handle struct {
	db   *sql.DB
	conn *sql.Conn
	path string
}

// Open opens the engine file at path and configures it before returning, per
// spec.md §4.1: busy_timeout, synchronous=NORMAL, and — for writable opens —
// journal_mode=WAL and journal_size_limit.
func Open(ctx context.Context, path string, flags OpenFlags) (*Handle, error) {
	mode := "rwc"
	if flags.ReadOnly {
		mode = "ro"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s", path, mode)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &OpenFailedError{Path: path, Message: err.Error()}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &OpenFailedError{Path: path, Message: err.Error()}
	}

	h := &Handle{db: db, conn: conn, path: path}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
		"PRAGMA synchronous = NORMAL",
	}
	if flags.Writable {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			fmt.Sprintf("PRAGMA journal_size_limit = %d", journalSizeLimitBytes),
		)
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			db.Close()
			return nil, &OpenFailedError{Path: path, Message: fmt.Sprintf("%s: %v", p, err)}
		}
	}

	return h, nil
}

// Close closes the single connection and the underlying *sql.DB. Idempotent.
func (h *Handle) Close() error {
	var err error
	if h.conn != nil {
		err = h.conn.Close()
		h.conn = nil
	}
	if h.db != nil {
		if cerr := h.db.Close(); err == nil {
			err = cerr
		}
		h.db = nil
	}
	return err
}

// Exec runs one statement with bound parameters and returns a Result
// populated with RowsAffected (and InsertID when applicable — see
// maybeInsertID). It does not request row data; use Query for that.
func (h *Handle) Exec(ctx context.Context, query string, params []Value) (Result, error) {
	args := toArgs(params)
	res, err := h.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, &EngineError{Message: err.Error()}
	}

	rowsAffected, _ := res.RowsAffected()
	result := Result{RowsAffected: rowsAffected}

	if id, ok := maybeInsertID(query, rowsAffected, res); ok {
		result.InsertID = &id
	}
	return result, nil
}

// Query runs one statement expected to produce rows, returning both the
// rows and column metadata, matching §6's result shape.
func (h *Handle) Query(ctx context.Context, query string, params []Value) (Result, error) {
	args := toArgs(params)
	rows, err := h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, &EngineError{Message: err.Error()}
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return Result{}, &EngineError{Message: err.Error()}
	}

	metadata := make([]ColumnMetadata, len(cols))
	for i, c := range cols {
		metadata[i] = ColumnMetadata{
			ColumnName:         c.Name(),
			ColumnDeclaredType: c.DatabaseTypeName(),
			ColumnIndex:        i,
		}
	}

	scanDest := make([]any, len(cols))
	scanPtrs := make([]any, len(cols))
	for i := range scanDest {
		scanPtrs[i] = &scanDest[i]
	}

	var out []Row
	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return Result{}, &EngineError{Message: err.Error()}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c.Name()] = normalizeCell(scanDest[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, &EngineError{Message: err.Error()}
	}

	return Result{
		RowsAffected: 0,
		Rows:         &RowSet{Array: out, Length: len(out)},
		Metadata:     metadata,
	}, nil
}

// normalizeCell converts a driver-scanned value into the host-facing shape
// from §6: integers become float64 ("double"), text stays a Go string
// (already NUL-byte-safe because database/sql built it from the raw byte
// length, not a C-string scan), and blobs are defensively copied.
func normalizeCell(v any) any {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case []byte:
		return cloneBlob(t)
	case string:
		return t
	case nil:
		return nil
	default:
		return t
	}
}

func toArgs(params []Value) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.AsDriverArg()
	}
	return args
}

// maybeInsertID reports a last-insert-rowid only for INSERT statements that
// actually affected a row — guards against surfacing a stale rowid after an
// UPDATE/DELETE/SELECT, matching the original implementation's behavior.
func maybeInsertID(query string, rowsAffected int64, res sql.Result) (float64, bool) {
	if rowsAffected < 1 {
		return 0, false
	}
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < 6 || !strings.EqualFold(trimmed[:6], "INSERT") {
		return 0, false
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false
	}
	return float64(id), true
}

// RefreshSchema issues a schema-probing statement against sqlite_master,
// matching spec.md §4.1's RefreshSchema contract. It returns
// SchemaRefreshFailed on any engine-level error.
func (h *Handle) RefreshSchema(ctx context.Context) error {
	rows, err := h.conn.QueryContext(ctx, "SELECT name, type FROM sqlite_master")
	if err != nil {
		return &SchemaRefreshFailedError{Message: err.Error()}
	}
	defer rows.Close()
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return &SchemaRefreshFailedError{Message: err.Error()}
		}
	}
	if err := rows.Err(); err != nil {
		return &SchemaRefreshFailedError{Message: err.Error()}
	}
	return nil
}

// SchemaRefreshFailedError reports that RefreshSchema's probe failed.
type SchemaRefreshFailedError struct {
	Message string
}

func (e *SchemaRefreshFailedError) Error() string {
	return "schema refresh failed: " + e.Message
}

// ExecLiteral executes a fixed SQL statement with no parameters and no
// result rows expected — used for ATTACH/DETACH and transaction control
// statements (BEGIN/COMMIT/ROLLBACK).
func (h *Handle) ExecLiteral(ctx context.Context, query string) error {
	if _, err := h.conn.ExecContext(ctx, query); err != nil {
		return &EngineError{Message: err.Error()}
	}
	return nil
}

// Conn exposes the underlying *sql.Conn for hook registration (see hooks.go)
// and for tests that need to drive the raw connection directly.
func (h *Handle) Conn() *sql.Conn { return h.conn }

// WithTimeout is a small helper mirroring the teacher's context-deadline
// idiom for bounding a single engine call.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
