package registry

import (
	"context"
	"testing"
	"time"

	"github.com/quicksqlite/corepool/internal/engine"
	"github.com/quicksqlite/corepool/internal/pool"
	"github.com/quicksqlite/corepool/internal/task"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(t.TempDir(), nil, nil)
	t.Cleanup(func() { r.CloseAll() })
	return r
}

func TestRegistryOpenAndDoubleOpenFails(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Open(context.Background(), "a", 0, "", pool.Callbacks{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Open(context.Background(), "a", 0, "", pool.Callbacks{}); err == nil {
		t.Fatal("expected AlreadyOpenError on second Open")
	} else if _, ok := err.(*AlreadyOpenError); !ok {
		t.Fatalf("expected AlreadyOpenError, got %T: %v", err, err)
	}
}

func TestRegistryForwardingOnUnknownDB(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.ReadLock("missing", "c1"); err == nil {
		t.Fatal("expected NotOpenError")
	} else if _, ok := err.(*NotOpenError); !ok {
		t.Fatalf("expected NotOpenError, got %T: %v", err, err)
	}

	if err := r.WriteLock("missing", "c1"); err == nil {
		t.Fatal("expected NotOpenError")
	}
	if err := r.CloseContext("missing", "c1"); err == nil {
		t.Fatal("expected NotOpenError")
	}
	if err := r.QueueInContext("missing", "c1", task.New(func(ctx context.Context, h *engine.Handle) (engine.Result, error) {
		return engine.Result{}, nil
	})); err == nil {
		t.Fatal("expected NotOpenError")
	}
	if err := r.Attach(context.Background(), "missing", "x.db", "aux"); err == nil {
		t.Fatal("expected NotOpenError")
	}
	if err := r.RefreshSchema(context.Background(), "missing"); err == nil {
		t.Fatal("expected NotOpenError")
	}
}

func TestRegistryCloseUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Close("missing"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestRegistryEndToEndWriteThenRead(t *testing.T) {
	r := newTestRegistry(t)

	var activated []string
	if err := r.Open(context.Background(), "main", 0, "", pool.Callbacks{
		OnContextAvailable: func(dbName, id string) { activated = append(activated, id) },
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.WriteLock("main", "c1"); err != nil {
		t.Fatalf("WriteLock: %v", err)
	}
	if len(activated) != 1 || activated[0] != "c1" {
		t.Fatalf("expected c1 active, got %v", activated)
	}

	tk := task.New(func(ctx context.Context, h *engine.Handle) (engine.Result, error) {
		return h.Exec(ctx, "CREATE TABLE t(x)", nil)
	})
	if err := r.QueueInContext("main", "c1", tk); err != nil {
		t.Fatalf("QueueInContext: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := tk.Future().Wait(ctx); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	if err := r.CloseContext("main", "c1"); err != nil {
		t.Fatalf("CloseContext: %v", err)
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "main" {
		t.Fatalf("expected Names() == [main], got %v", names)
	}

	stats := r.Stats()
	if len(stats) != 1 || stats[0].DBName != "main" {
		t.Fatalf("expected one Stats entry for main, got %+v", stats)
	}

	if err := r.Close("main"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(r.Names()) != 0 {
		t.Fatalf("expected Names() empty after Close, got %v", r.Names())
	}
}

func TestRegistrySnapshotIsolationAcrossOpen(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Open(context.Background(), "a", 0, "", pool.Callbacks{}); err != nil {
		t.Fatalf("Open a: %v", err)
	}
	before := r.snap()
	if err := r.Open(context.Background(), "b", 0, "", pool.Callbacks{}); err != nil {
		t.Fatalf("Open b: %v", err)
	}
	after := r.snap()

	if _, ok := before.pools["b"]; ok {
		t.Fatal("expected earlier snapshot to be unaffected by later Open")
	}
	if _, ok := after.pools["b"]; !ok {
		t.Fatal("expected current snapshot to contain b")
	}
}
