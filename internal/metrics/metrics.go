// Package metrics holds the Prometheus instrumentation for corepoold:
// per-database connection occupancy, lock queue depth, lock wait duration,
// hook fan-out counts, and engine errors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for corepoold.
type Collector struct {
	Registry *prometheus.Registry

	connectionsTenanted *prometheus.GaugeVec
	readQueueDepth      *prometheus.GaugeVec
	writeQueueDepth     *prometheus.GaugeVec
	lockWaitDuration    *prometheus.HistogramVec
	taskDuration        *prometheus.HistogramVec
	engineErrors        *prometheus.CounterVec

	tableUpdatesTotal        *prometheus.CounterVec
	transactionsFinalized    *prometheus.CounterVec
	schemaRefreshDuration    *prometheus.HistogramVec
	schemaRefreshErrors      *prometheus.CounterVec
	databaseHealth           *prometheus.GaugeVec
	batchAbortedTotal        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests) — each call creates an
// independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsTenanted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corepool_connections_tenanted",
				Help: "Number of connections currently bound to a tenant, per database and class",
			},
			[]string{"database", "class"},
		),
		readQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corepool_read_queue_depth",
				Help: "Number of contexts waiting for a read lock, per database",
			},
			[]string{"database"},
		),
		writeQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corepool_write_queue_depth",
				Help: "Number of contexts waiting for the write lock, per database",
			},
			[]string{"database"},
		),
		lockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corepool_lock_wait_duration_seconds",
				Help:    "Time between a lock request and its activation",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"database", "class"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corepool_task_duration_seconds",
				Help:    "Duration of a task executed on a connection's worker",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
			},
			[]string{"database", "connection"},
		),
		engineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corepool_engine_errors_total",
				Help: "Engine errors surfaced from task execution, by database",
			},
			[]string{"database"},
		),
		tableUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corepool_table_updates_total",
				Help: "Row-level update hook notifications relayed to the host",
			},
			[]string{"database", "table"},
		),
		transactionsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corepool_transactions_finalized_total",
				Help: "Commit/rollback hook notifications relayed to the host",
			},
			[]string{"database", "event"},
		),
		schemaRefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corepool_schema_refresh_duration_seconds",
				Help:    "Duration of RefreshSchema probes",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"database"},
		),
		schemaRefreshErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corepool_schema_refresh_errors_total",
				Help: "RefreshSchema probe failures, by database",
			},
			[]string{"database"},
		),
		databaseHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corepool_database_health",
				Help: "Health status of a database's pool (1=healthy, 0=unhealthy)",
			},
			[]string{"database"},
		),
		batchAbortedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corepool_batch_aborted_total",
				Help: "executeBatch calls that rolled back on a failing statement",
			},
			[]string{"database"},
		),
	}

	reg.MustRegister(
		c.connectionsTenanted,
		c.readQueueDepth,
		c.writeQueueDepth,
		c.lockWaitDuration,
		c.taskDuration,
		c.engineErrors,
		c.tableUpdatesTotal,
		c.transactionsFinalized,
		c.schemaRefreshDuration,
		c.schemaRefreshErrors,
		c.databaseHealth,
		c.batchAbortedTotal,
	)

	return c
}

// SetConnectionsTenanted sets the tenanted-connection gauge for a database's
// read or write class.
func (c *Collector) SetConnectionsTenanted(database, class string, n int) {
	c.connectionsTenanted.WithLabelValues(database, class).Set(float64(n))
}

// SetQueueDepths sets the read and write queue depth gauges for a database.
func (c *Collector) SetQueueDepths(database string, readDepth, writeDepth int) {
	c.readQueueDepth.WithLabelValues(database).Set(float64(readDepth))
	c.writeQueueDepth.WithLabelValues(database).Set(float64(writeDepth))
}

// LockWaitObserved records the time between a lock request and its
// activation.
func (c *Collector) LockWaitObserved(database, class string, d time.Duration) {
	c.lockWaitDuration.WithLabelValues(database, class).Observe(d.Seconds())
}

// TaskObserved records one task's execution duration on a named connection.
func (c *Collector) TaskObserved(database, connection string, d time.Duration) {
	c.taskDuration.WithLabelValues(database, connection).Observe(d.Seconds())
}

// EngineErrorObserved increments the engine error counter for a database.
func (c *Collector) EngineErrorObserved(database string) {
	c.engineErrors.WithLabelValues(database).Inc()
}

// TableUpdateObserved increments the table-update counter.
func (c *Collector) TableUpdateObserved(database, table string) {
	c.tableUpdatesTotal.WithLabelValues(database, table).Inc()
}

// TransactionFinalizedObserved increments the commit/rollback counter.
func (c *Collector) TransactionFinalizedObserved(database, event string) {
	c.transactionsFinalized.WithLabelValues(database, event).Inc()
}

// SchemaRefreshObserved records a RefreshSchema probe's duration and result.
func (c *Collector) SchemaRefreshObserved(database string, d time.Duration, err error) {
	c.schemaRefreshDuration.WithLabelValues(database).Observe(d.Seconds())
	if err != nil {
		c.schemaRefreshErrors.WithLabelValues(database).Inc()
	}
}

// SetDatabaseHealth sets the health gauge for a database.
func (c *Collector) SetDatabaseHealth(database string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.databaseHealth.WithLabelValues(database).Set(val)
}

// BatchAbortedObserved increments the batch-aborted counter for a database.
func (c *Collector) BatchAbortedObserved(database string) {
	c.batchAbortedTotal.WithLabelValues(database).Inc()
}

// RemoveDatabase removes all metrics for a database (called when the admin
// API closes a database, directly and through health.Checker.RemoveDatabase).
func (c *Collector) RemoveDatabase(database string) {
	c.connectionsTenanted.DeletePartialMatch(prometheus.Labels{"database": database})
	c.readQueueDepth.DeleteLabelValues(database)
	c.writeQueueDepth.DeleteLabelValues(database)
	c.lockWaitDuration.DeletePartialMatch(prometheus.Labels{"database": database})
	c.taskDuration.DeletePartialMatch(prometheus.Labels{"database": database})
	c.engineErrors.DeleteLabelValues(database)
	c.tableUpdatesTotal.DeletePartialMatch(prometheus.Labels{"database": database})
	c.transactionsFinalized.DeletePartialMatch(prometheus.Labels{"database": database})
	c.schemaRefreshDuration.DeleteLabelValues(database)
	c.schemaRefreshErrors.DeleteLabelValues(database)
	c.databaseHealth.DeleteLabelValues(database)
	c.batchAbortedTotal.DeleteLabelValues(database)
}
