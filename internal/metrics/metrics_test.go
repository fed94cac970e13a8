package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestSetConnectionsTenantedIsAGaugeNotACounter(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetConnectionsTenanted("main", "write", 1)
	val := getGaugeValue(c.connectionsTenanted.WithLabelValues("main", "write"))
	if val != 1 {
		t.Errorf("expected tenanted=1, got %v", val)
	}

	c.SetConnectionsTenanted("main", "write", 0)
	val = getGaugeValue(c.connectionsTenanted.WithLabelValues("main", "write"))
	if val != 0 {
		t.Errorf("expected tenanted=0 after release, got %v", val)
	}
}

func TestSetQueueDepths(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetQueueDepths("main", 2, 1)
	if val := getGaugeValue(c.readQueueDepth.WithLabelValues("main")); val != 2 {
		t.Errorf("expected read queue depth 2, got %v", val)
	}
	if val := getGaugeValue(c.writeQueueDepth.WithLabelValues("main")); val != 1 {
		t.Errorf("expected write queue depth 1, got %v", val)
	}
}

func TestLockWaitObserved(t *testing.T) {
	c, reg := newTestCollector(t)

	c.LockWaitObserved("main", "read", 5*time.Millisecond)
	c.LockWaitObserved("main", "read", 10*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "corepool_lock_wait_duration_seconds" {
			found = true
			if len(f.Metric) != 1 {
				t.Fatalf("expected one label combination, got %d", len(f.Metric))
			}
			if f.Metric[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 samples, got %d", f.Metric[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Fatal("lock wait duration histogram not found")
	}
}

func TestTableUpdateObservedIncrements(t *testing.T) {
	c, _ := newTestCollector(t)

	c.TableUpdateObserved("main", "t")
	c.TableUpdateObserved("main", "t")
	c.TableUpdateObserved("main", "other")

	if val := getCounterValue(c.tableUpdatesTotal.WithLabelValues("main", "t")); val != 2 {
		t.Errorf("expected 2 updates on t, got %v", val)
	}
	if val := getCounterValue(c.tableUpdatesTotal.WithLabelValues("main", "other")); val != 1 {
		t.Errorf("expected 1 update on other, got %v", val)
	}
}

func TestTransactionFinalizedObserved(t *testing.T) {
	c, _ := newTestCollector(t)

	c.TransactionFinalizedObserved("main", "commit")
	c.TransactionFinalizedObserved("main", "commit")
	c.TransactionFinalizedObserved("main", "rollback")

	if val := getCounterValue(c.transactionsFinalized.WithLabelValues("main", "commit")); val != 2 {
		t.Errorf("expected 2 commits, got %v", val)
	}
	if val := getCounterValue(c.transactionsFinalized.WithLabelValues("main", "rollback")); val != 1 {
		t.Errorf("expected 1 rollback, got %v", val)
	}
}

func TestSchemaRefreshObservedRecordsErrorsSeparately(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SchemaRefreshObserved("main", 2*time.Millisecond, nil)
	if val := getCounterValue(c.schemaRefreshErrors.WithLabelValues("main")); val != 0 {
		t.Errorf("expected no errors recorded, got %v", val)
	}

	c.SchemaRefreshObserved("main", 2*time.Millisecond, errRefreshFailed)
	if val := getCounterValue(c.schemaRefreshErrors.WithLabelValues("main")); val != 1 {
		t.Errorf("expected 1 error recorded, got %v", val)
	}
}

func TestSetDatabaseHealth(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetDatabaseHealth("main", true)
	if val := getGaugeValue(c.databaseHealth.WithLabelValues("main")); val != 1 {
		t.Errorf("expected healthy=1, got %v", val)
	}

	c.SetDatabaseHealth("main", false)
	if val := getGaugeValue(c.databaseHealth.WithLabelValues("main")); val != 0 {
		t.Errorf("expected healthy=0, got %v", val)
	}
}

func TestBatchAbortedObserved(t *testing.T) {
	c, _ := newTestCollector(t)

	c.BatchAbortedObserved("main")
	c.BatchAbortedObserved("main")

	if val := getCounterValue(c.batchAbortedTotal.WithLabelValues("main")); val != 2 {
		t.Errorf("expected 2 aborted batches, got %v", val)
	}
}

func TestRemoveDatabaseClearsLabels(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetConnectionsTenanted("main", "write", 1)
	c.SetDatabaseHealth("main", true)
	c.TableUpdateObserved("main", "t")

	c.RemoveDatabase("main")

	if val := getGaugeValue(c.databaseHealth.WithLabelValues("main")); val != 0 {
		t.Errorf("expected health gauge reset to zero value after removal, got %v", val)
	}
}

var errRefreshFailed = &testSchemaError{}

type testSchemaError struct{}

func (e *testSchemaError) Error() string { return "schema refresh failed" }
