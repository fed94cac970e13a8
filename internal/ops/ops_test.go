package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quicksqlite/corepool/internal/pool"
	"github.com/quicksqlite/corepool/internal/registry"
)

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New(dir, nil, nil)
	t.Cleanup(func() { reg.CloseAll() })
	return New(reg), dir
}

func withTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// scenario 1: basic single-writer, end to end through the ops surface.
func TestCoordinatorBasicSingleWriter(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	var available []string
	if err := c.Open(ctx, "a", OpenOptions{}, pool.Callbacks{
		OnContextAvailable: func(dbName, id string) { available = append(available, id) },
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.RequestLock("a", "c1", LockWrite); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}
	if len(available) != 1 || available[0] != "c1" {
		t.Fatalf("expected c1 active, got %v", available)
	}

	if _, err := c.ExecuteInContext(ctx, "a", "c1", "CREATE TABLE t(x)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	res, err := c.ExecuteInContext(ctx, "a", "c1", "INSERT INTO t VALUES (1),(2)", nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.RowsAffected != 2 {
		t.Fatalf("expected rowsAffected=2, got %d", res.RowsAffected)
	}

	sel, err := c.ExecuteInContext(ctx, "a", "c1", "SELECT x FROM t ORDER BY x", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Rows == nil || sel.Rows.Length != 2 {
		t.Fatalf("expected 2 rows, got %+v", sel.Rows)
	}
	if sel.Rows.Array[0]["x"] != float64(1) || sel.Rows.Array[1]["x"] != float64(2) {
		t.Fatalf("unexpected row contents: %+v", sel.Rows.Array)
	}

	if err := c.ReleaseLock("a", "c1"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if err := c.Close("a"); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// scenario 5: batch rollback on first failing statement.
func TestCoordinatorExecuteBatchAborts(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	if err := c.Open(ctx, "a", OpenOptions{}, pool.Callbacks{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.RequestLock("a", "c1", LockWrite); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}

	if _, err := c.ExecuteInContext(ctx, "a", "c1", "CREATE TABLE t(x)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	_, err := c.ExecuteBatch(ctx, "a", "c1", []Command{
		{SQL: "INSERT INTO t VALUES (1)"},
		{SQL: "INSERT INTO nosuch VALUES(1)"},
		{SQL: "INSERT INTO t VALUES (2)"},
	})
	if err == nil {
		t.Fatal("expected BatchAborted")
	}
	if _, ok := err.(*pool.BatchAbortedError); !ok {
		t.Fatalf("expected BatchAbortedError, got %T: %v", err, err)
	}

	res, err := c.ExecuteInContext(ctx, "a", "c1", "SELECT COUNT(*) AS n FROM t", nil)
	if err != nil {
		t.Fatalf("select count: %v", err)
	}
	if res.Rows.Array[0]["n"] != float64(0) {
		t.Fatalf("expected 0 rows after rollback, got %+v", res.Rows.Array[0])
	}
}

func TestCoordinatorLoadFile(t *testing.T) {
	c, dir := newTestCoordinator(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	if err := c.Open(ctx, "a", OpenOptions{}, pool.Callbacks{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.RequestLock("a", "c1", LockWrite); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}

	sqlPath := filepath.Join(dir, "seed.sql")
	contents := "CREATE TABLE t(x);\n\nINSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);\n"
	if err := os.WriteFile(sqlPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := c.LoadFile(ctx, "a", "c1", sqlPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if result.Commands != 3 {
		t.Fatalf("expected 3 commands executed, got %d", result.Commands)
	}
	if result.RowsAffected != 2 {
		t.Fatalf("expected rowsAffected=2 (the two inserts), got %d", result.RowsAffected)
	}

	res, err := c.ExecuteInContext(ctx, "a", "c1", "SELECT COUNT(*) AS n FROM t", nil)
	if err != nil {
		t.Fatalf("select count: %v", err)
	}
	if res.Rows.Array[0]["n"] != float64(2) {
		t.Fatalf("expected 2 rows loaded, got %+v", res.Rows.Array[0])
	}
}

func TestCoordinatorDeleteUnlinksFile(t *testing.T) {
	c, dir := newTestCoordinator(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	if err := c.Open(ctx, "a", OpenOptions{}, pool.Callbacks{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := filepath.Join(dir, "a")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected engine file to exist at %s: %v", path, err)
	}

	if err := c.Delete("a", dir, ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected engine file to be gone, stat err=%v", err)
	}

	if err := c.Delete("a", dir, ""); err != nil {
		t.Fatalf("expected Delete of missing file to be a no-op, got %v", err)
	}
}

func TestCoordinatorUpdateHookFanOut(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	updates := make(chan pool.TableUpdate, 1)
	if err := c.Open(ctx, "a", OpenOptions{}, pool.Callbacks{
		OnTableUpdate: func(u pool.TableUpdate) { updates <- u },
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.RequestLock("a", "c1", LockWrite); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}
	if _, err := c.ExecuteInContext(ctx, "a", "c1", "CREATE TABLE t(x)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := c.ExecuteInContext(ctx, "a", "c1", "INSERT INTO t VALUES (1)", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	select {
	case u := <-updates:
		if u.TableName != "t" || u.OpCode != 18 {
			t.Fatalf("unexpected update payload: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onTableUpdate")
	}
}
